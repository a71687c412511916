// Package rss fetches and filters channel video feeds.
package rss

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
	ext "github.com/mmcdole/gofeed/extensions"

	"github.com/bryan-buckman/tubevore/internal/model"
	"github.com/bryan-buckman/tubevore/internal/retry"
	"github.com/bryan-buckman/tubevore/internal/webfetch"
	"github.com/bryan-buckman/tubevore/internal/youtube"
)

// FeedPolicy applies to channel feed downloads.
var FeedPolicy = webfetch.Policy{
	Timeout: 8 * time.Second,
	Retry: retry.Config{
		Attempts:       3,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     4 * time.Second,
		Multiplier:     2,
		JitterFraction: 0.2,
	},
}

// Classifier runs the full Shorts classification for an entry.
type Classifier interface {
	Classify(ctx context.Context, cache *youtube.Cache, e model.FeedEntry) bool
}

// Request describes one channel feed fetch.
type Request struct {
	ChannelID string
	// Limit caps accepted entries. Zero or less means no cap.
	Limit int
	// Query is matched case-insensitively against title and description.
	Query string
	Type  model.FeedType
}

// ChannelFeed is the filtered result for one channel.
type ChannelFeed struct {
	ChannelID    string            `json:"channelId"`
	ChannelTitle string            `json:"channelTitle"`
	Items        []model.FeedEntry `json:"items"`
}

// FetchError is a failure to download or parse one channel's feed.
type FetchError struct {
	ChannelID string
	Err       error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch feed for %s: %v", e.ChannelID, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Fetcher handles channel feed fetching.
type Fetcher struct {
	client     youtube.Getter
	endpoints  youtube.Endpoints
	classifier Classifier
	policy     webfetch.Policy
	logger     *slog.Logger
}

// NewFetcher creates a fetcher reading feeds under baseURL.
func NewFetcher(client youtube.Getter, baseURL string, classifier Classifier, logger *slog.Logger) *Fetcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Fetcher{
		client:     client,
		endpoints:  youtube.NewEndpoints(baseURL),
		classifier: classifier,
		policy:     FeedPolicy,
		logger:     logger,
	}
}

// FetchChannelFeed downloads one channel's feed and returns at most req.Limit
// entries that match the query and the requested type. Full classification
// only runs for entries that passed the search filter, and stops once the
// limit is reached.
func (f *Fetcher) FetchChannelFeed(ctx context.Context, req Request, cache *youtube.Cache) (*ChannelFeed, error) {
	resp, err := f.client.Get(ctx, f.endpoints.FeedURL(req.ChannelID), f.policy)
	if err != nil {
		return nil, &FetchError{ChannelID: req.ChannelID, Err: err}
	}
	// gofeed parsers keep per-parse state, so each fetch gets its own.
	parsed, err := gofeed.NewParser().ParseString(resp.Text())
	if err != nil {
		return nil, &FetchError{ChannelID: req.ChannelID, Err: fmt.Errorf("parse feed: %w", err)}
	}

	out := &ChannelFeed{
		ChannelID:    req.ChannelID,
		ChannelTitle: feedTitle(parsed),
		Items:        make([]model.FeedEntry, 0),
	}
	feedType := req.Type
	if !feedType.Valid() {
		feedType = model.FeedAll
	}
	query := strings.ToLower(strings.TrimSpace(req.Query))

	for _, item := range parsed.Items {
		if req.Limit > 0 && len(out.Items) >= req.Limit {
			break
		}
		e := toEntry(item, req.ChannelID, out.ChannelTitle, f.endpoints)
		if query != "" && !matchesQuery(e, query) {
			continue
		}
		basic := youtube.BasicHeuristic(e.Link, e.Title+"\n"+e.Description)
		switch feedType {
		case model.FeedShort:
			if !basic && !f.classifier.Classify(ctx, cache, e) {
				continue
			}
			e.IsShort = true
		case model.FeedVideo:
			if basic || f.classifier.Classify(ctx, cache, e) {
				continue
			}
			e.IsShort = false
		default:
			e.IsShort = basic
		}
		out.Items = append(out.Items, e)
	}

	f.logger.Debug("channel feed fetched",
		"channel_id", req.ChannelID,
		"entries", len(parsed.Items),
		"accepted", len(out.Items),
		"type", feedType,
	)
	return out, nil
}

func matchesQuery(e model.FeedEntry, lowered string) bool {
	return strings.Contains(strings.ToLower(e.Title), lowered) ||
		strings.Contains(strings.ToLower(e.Description), lowered)
}

func feedTitle(feed *gofeed.Feed) string {
	if t := strings.TrimSpace(feed.Title); t != "" {
		return t
	}
	if len(feed.Authors) > 0 && feed.Authors[0] != nil {
		return strings.TrimSpace(feed.Authors[0].Name)
	}
	return ""
}

func toEntry(item *gofeed.Item, channelID, channelTitle string, endpoints youtube.Endpoints) model.FeedEntry {
	id := entryVideoID(item)
	link := item.Link
	if link == "" && id != "" {
		link = endpoints.WatchURL(id)
	}
	var published time.Time
	switch {
	case item.PublishedParsed != nil:
		published = *item.PublishedParsed
	case item.UpdatedParsed != nil:
		published = *item.UpdatedParsed
	}
	if cid := extValue(item.Extensions, "yt", "channelId"); cid != "" {
		channelID = cid
	}

	e := model.FeedEntry{
		ID:           id,
		Title:        strings.TrimSpace(item.Title),
		Link:         link,
		PublishedAt:  published,
		Description:  item.Description,
		ChannelID:    channelID,
		ChannelTitle: channelTitle,
	}
	if item.Image != nil {
		e.ThumbnailURL = item.Image.URL
	}
	if group := mediaGroup(item.Extensions); group != nil {
		if th := group.Children["thumbnail"]; len(th) > 0 && th[0].Attrs["url"] != "" {
			e.ThumbnailURL = th[0].Attrs["url"]
		}
		if d := group.Children["description"]; len(d) > 0 && d[0].Value != "" {
			e.Description = d[0].Value
		}
	}
	e.Description = strings.TrimSpace(e.Description)
	return e
}

func entryVideoID(item *gofeed.Item) string {
	if v := extValue(item.Extensions, "yt", "videoId"); v != "" {
		return v
	}
	if strings.HasPrefix(item.GUID, "yt:video:") {
		return strings.TrimPrefix(item.GUID, "yt:video:")
	}
	if id, ok := youtube.VideoIDFromInput(item.Link); ok {
		return id
	}
	return item.GUID
}

func extValue(exts ext.Extensions, prefix, name string) string {
	if exts == nil {
		return ""
	}
	if vals := exts[prefix][name]; len(vals) > 0 {
		return strings.TrimSpace(vals[0].Value)
	}
	return ""
}

func mediaGroup(exts ext.Extensions) *ext.Extension {
	if exts == nil {
		return nil
	}
	if groups := exts["media"]["group"]; len(groups) > 0 {
		return &groups[0]
	}
	return nil
}
