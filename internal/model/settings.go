package model

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Settings key constants.
const (
	SettingPerPage          = "per_page"
	SettingPerChannel       = "per_channel"
	SettingShowThumbnails   = "showThumbnails"
	SettingShowDescriptions = "showDescriptions"
	SettingDefaultFeedType  = "defaultFeedType"
	SettingSortOrder        = "sortOrder"
	SettingCachingTTL       = "caching_ttl"
	SettingConcurrency      = "concurrency"
)

// Bounds for numeric settings.
const (
	MinPerPage     = 1
	MaxPerPage     = 100
	MinPerChannel  = 1
	MaxPerChannel  = 50
	MinCachingTTL  = 0
	MaxCachingTTL  = 86400
	MinConcurrency = 1
	MaxConcurrency = 20
)

// UserSettings is the per-user configuration read at the start of every aggregation.
type UserSettings struct {
	PerPage          int       `json:"per_page"`
	PerChannel       int       `json:"per_channel"`
	ShowThumbnails   bool      `json:"showThumbnails"`
	ShowDescriptions bool      `json:"showDescriptions"`
	DefaultFeedType  FeedType  `json:"defaultFeedType"`
	SortOrder        SortOrder `json:"sortOrder"`
	CachingTTL       int       `json:"caching_ttl"`
	Concurrency      int       `json:"concurrency"`
}

// DefaultSettings returns the settings used when nothing has been persisted.
func DefaultSettings() UserSettings {
	return UserSettings{
		PerPage:          20,
		PerChannel:       10,
		ShowThumbnails:   true,
		ShowDescriptions: true,
		DefaultFeedType:  FeedAll,
		SortOrder:        SortNewest,
		CachingTTL:       300,
		Concurrency:      6,
	}
}

// SettingsPatch is a partial settings update. Nil fields are left unchanged.
type SettingsPatch struct {
	PerPage          *int       `json:"per_page,omitempty"`
	PerChannel       *int       `json:"per_channel,omitempty"`
	ShowThumbnails   *bool      `json:"showThumbnails,omitempty"`
	ShowDescriptions *bool      `json:"showDescriptions,omitempty"`
	DefaultFeedType  *FeedType  `json:"defaultFeedType,omitempty"`
	SortOrder        *SortOrder `json:"sortOrder,omitempty"`
	CachingTTL       *int       `json:"caching_ttl,omitempty"`
	Concurrency      *int       `json:"concurrency,omitempty"`
}

// ValidationError lists every rejected settings field with the reason.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "invalid settings: " + strings.Join(parts, "; ")
}

// Validate checks each present field against its bounds independently.
// It returns a *ValidationError naming all invalid fields, or nil.
func (p SettingsPatch) Validate() error {
	bad := make(map[string]string)
	checkRange := func(key string, v *int, lo, hi int) {
		if v != nil && (*v < lo || *v > hi) {
			bad[key] = fmt.Sprintf("must be between %d and %d", lo, hi)
		}
	}
	checkRange(SettingPerPage, p.PerPage, MinPerPage, MaxPerPage)
	checkRange(SettingPerChannel, p.PerChannel, MinPerChannel, MaxPerChannel)
	checkRange(SettingCachingTTL, p.CachingTTL, MinCachingTTL, MaxCachingTTL)
	checkRange(SettingConcurrency, p.Concurrency, MinConcurrency, MaxConcurrency)
	if p.DefaultFeedType != nil && !p.DefaultFeedType.Valid() {
		bad[SettingDefaultFeedType] = "must be one of all, video, short"
	}
	if p.SortOrder != nil && !p.SortOrder.Valid() {
		bad[SettingSortOrder] = "must be one of newest, oldest"
	}
	if len(bad) > 0 {
		return &ValidationError{Fields: bad}
	}
	return nil
}

// Apply returns s with every present patch field overwritten.
// The patch must have been validated.
func (p SettingsPatch) Apply(s UserSettings) UserSettings {
	if p.PerPage != nil {
		s.PerPage = *p.PerPage
	}
	if p.PerChannel != nil {
		s.PerChannel = *p.PerChannel
	}
	if p.ShowThumbnails != nil {
		s.ShowThumbnails = *p.ShowThumbnails
	}
	if p.ShowDescriptions != nil {
		s.ShowDescriptions = *p.ShowDescriptions
	}
	if p.DefaultFeedType != nil {
		s.DefaultFeedType = *p.DefaultFeedType
	}
	if p.SortOrder != nil {
		s.SortOrder = *p.SortOrder
	}
	if p.CachingTTL != nil {
		s.CachingTTL = *p.CachingTTL
	}
	if p.Concurrency != nil {
		s.Concurrency = *p.Concurrency
	}
	return s
}

// Pairs flattens settings into the key/value form used by the SQL stores.
func (s UserSettings) Pairs() map[string]string {
	return map[string]string{
		SettingPerPage:          strconv.Itoa(s.PerPage),
		SettingPerChannel:       strconv.Itoa(s.PerChannel),
		SettingShowThumbnails:   strconv.FormatBool(s.ShowThumbnails),
		SettingShowDescriptions: strconv.FormatBool(s.ShowDescriptions),
		SettingDefaultFeedType:  string(s.DefaultFeedType),
		SettingSortOrder:        string(s.SortOrder),
		SettingCachingTTL:       strconv.Itoa(s.CachingTTL),
		SettingConcurrency:      strconv.Itoa(s.Concurrency),
	}
}

// SettingsFromPairs rebuilds settings from key/value rows. Unknown keys and
// values that fail to parse or validate keep their defaults.
func SettingsFromPairs(pairs map[string]string) UserSettings {
	var p SettingsPatch
	intField := func(key string) *int {
		v, ok := pairs[key]
		if !ok {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil
		}
		return &n
	}
	boolField := func(key string) *bool {
		v, ok := pairs[key]
		if !ok {
			return nil
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil
		}
		return &b
	}
	p.PerPage = intField(SettingPerPage)
	p.PerChannel = intField(SettingPerChannel)
	p.CachingTTL = intField(SettingCachingTTL)
	p.Concurrency = intField(SettingConcurrency)
	p.ShowThumbnails = boolField(SettingShowThumbnails)
	p.ShowDescriptions = boolField(SettingShowDescriptions)
	if v, ok := pairs[SettingDefaultFeedType]; ok {
		t := FeedType(v)
		p.DefaultFeedType = &t
	}
	if v, ok := pairs[SettingSortOrder]; ok {
		o := SortOrder(v)
		p.SortOrder = &o
	}
	return p.Sanitize().Apply(DefaultSettings())
}

// Sanitize drops every field that fails validation.
func (p SettingsPatch) Sanitize() SettingsPatch {
	err := p.Validate()
	if err == nil {
		return p
	}
	bad := err.(*ValidationError).Fields
	drop := func(key string) bool {
		_, ok := bad[key]
		return ok
	}
	if drop(SettingPerPage) {
		p.PerPage = nil
	}
	if drop(SettingPerChannel) {
		p.PerChannel = nil
	}
	if drop(SettingCachingTTL) {
		p.CachingTTL = nil
	}
	if drop(SettingConcurrency) {
		p.Concurrency = nil
	}
	if drop(SettingDefaultFeedType) {
		p.DefaultFeedType = nil
	}
	if drop(SettingSortOrder) {
		p.SortOrder = nil
	}
	return p
}
