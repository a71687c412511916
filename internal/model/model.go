// Package model defines shared data structures.
package model

import (
	"regexp"
	"time"
)

// channelIDPattern matches a canonical channel id: "UC" followed by 22 url-safe chars.
var channelIDPattern = regexp.MustCompile(`^UC[A-Za-z0-9_-]{22}$`)

// IsChannelID reports whether s is a canonical channel id.
func IsChannelID(s string) bool {
	return channelIDPattern.MatchString(s)
}

// ChannelRef is a subscribed channel.
type ChannelRef struct {
	ID      string    `json:"id"`
	Title   string    `json:"title"`
	URL     string    `json:"url"`
	AddedAt time.Time `json:"added_at"`
}

// FeedEntry is a single video taken from a channel feed. Never persisted.
type FeedEntry struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Link         string    `json:"link"`
	PublishedAt  time.Time `json:"published_at"`
	ThumbnailURL string    `json:"thumbnail_url,omitempty"`
	Description  string    `json:"description"`
	ChannelID    string    `json:"channel_id"`
	ChannelTitle string    `json:"channel_title,omitempty"`
	IsShort      bool      `json:"is_short"`
}

// FeedType selects which kind of videos a feed request returns.
type FeedType string

// Feed types.
const (
	FeedAll   FeedType = "all"
	FeedVideo FeedType = "video"
	FeedShort FeedType = "short"
)

// Valid reports whether t is a known feed type.
func (t FeedType) Valid() bool {
	switch t {
	case FeedAll, FeedVideo, FeedShort:
		return true
	}
	return false
}

// Accepts reports whether an entry with the given classification belongs in a feed of type t.
func (t FeedType) Accepts(isShort bool) bool {
	switch t {
	case FeedShort:
		return isShort
	case FeedVideo:
		return !isShort
	}
	return true
}

// SortOrder is the publish-time ordering of an aggregated feed.
type SortOrder string

// Sort orders.
const (
	SortNewest SortOrder = "newest"
	SortOldest SortOrder = "oldest"
)

// Valid reports whether o is a known sort order.
func (o SortOrder) Valid() bool {
	return o == SortNewest || o == SortOldest
}

// PageResult is one page of an aggregated feed.
type PageResult struct {
	Page    int         `json:"page"`
	PerPage int         `json:"per_page"`
	Total   int         `json:"total"`
	Items   []FeedEntry `json:"items"`
	// CachingTTL is the caching_ttl setting the page was built under.
	CachingTTL int `json:"-"`
}
