// Package aggregator merges every subscribed channel's feed into one sorted, paginated list.
package aggregator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/bryan-buckman/tubevore/internal/model"
	"github.com/bryan-buckman/tubevore/internal/rss"
	"github.com/bryan-buckman/tubevore/internal/youtube"
)

// ErrAllChannelsFailed is returned when there are subscriptions but none of
// their feeds could be fetched.
var ErrAllChannelsFailed = errors.New("all channel feeds failed")

// Fallback classification bounds: at most max(fallbackMinChecks, per_page*fallbackPerPageFactor)
// entries are reclassified when the typed fast path produced nothing.
const (
	fallbackMinChecks     = 50
	fallbackPerPageFactor = 3
)

// Store is the persistence the aggregator reads at the start of every request.
type Store interface {
	ListSubscriptions() ([]model.ChannelRef, error)
	ReadSettings() (model.UserSettings, error)
}

// FeedFetcher fetches a single channel's filtered feed.
type FeedFetcher interface {
	FetchChannelFeed(ctx context.Context, req rss.Request, cache *youtube.Cache) (*rss.ChannelFeed, error)
}

// Query is an aggregated feed request. Zero values fall back to user settings.
type Query struct {
	Page       int
	PerPage    int
	PerChannel int
	Search     string
	Type       model.FeedType
}

// Aggregator combines per-channel feeds.
type Aggregator struct {
	store      Store
	fetcher    FeedFetcher
	classifier rss.Classifier
	logger     *slog.Logger
}

// New creates an Aggregator.
func New(store Store, fetcher FeedFetcher, classifier rss.Classifier, logger *slog.Logger) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{
		store:      store,
		fetcher:    fetcher,
		classifier: classifier,
		logger:     logger,
	}
}

// request is a Query resolved against the current settings.
type request struct {
	page        int
	perPage     int
	perChannel  int
	concurrency int
	search      string
	feedType    model.FeedType
	sortOrder   model.SortOrder
}

func resolveQuery(q Query, s model.UserSettings) request {
	r := request{
		page:        q.Page,
		perPage:     s.PerPage,
		perChannel:  s.PerChannel,
		concurrency: clamp(s.Concurrency, model.MinConcurrency, model.MaxConcurrency),
		search:      q.Search,
		feedType:    q.Type,
		sortOrder:   s.SortOrder,
	}
	if r.page < 1 {
		r.page = 1
	}
	if q.PerPage > 0 {
		r.perPage = q.PerPage
	}
	r.perPage = clamp(r.perPage, model.MinPerPage, model.MaxPerPage)
	if q.PerChannel > 0 {
		r.perChannel = q.PerChannel
	}
	r.perChannel = clamp(r.perChannel, model.MinPerChannel, model.MaxPerChannel)
	if !r.feedType.Valid() {
		r.feedType = s.DefaultFeedType
	}
	if !r.feedType.Valid() {
		r.feedType = model.FeedAll
	}
	if !r.sortOrder.Valid() {
		r.sortOrder = model.SortNewest
	}
	return r
}

// LoadAggregatedFeed fetches every subscribed channel in batches of the
// configured concurrency, merges, sorts and returns the requested page.
// A failing channel contributes no items; only when every channel fails is
// ErrAllChannelsFailed returned.
func (a *Aggregator) LoadAggregatedFeed(ctx context.Context, q Query) (*model.PageResult, error) {
	settings, err := a.store.ReadSettings()
	if err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}
	subs, err := a.store.ListSubscriptions()
	if err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	r := resolveQuery(q, settings)
	logger := a.logger.With("load_id", uuid.NewString())
	cache := youtube.NewCache()

	req := rss.Request{Limit: r.perChannel, Query: r.search, Type: r.feedType}
	items, failed := a.fetchAll(ctx, logger, subs, req, r.concurrency, cache)
	if len(subs) > 0 && failed == len(subs) {
		return nil, ErrAllChannelsFailed
	}

	items = filterType(items, r.feedType)

	if r.feedType != model.FeedAll && len(items) == 0 && len(subs) > 0 {
		logger.Info("typed feed empty, running fallback classification", "type", r.feedType, "channels", len(subs))
		items = a.fallback(ctx, logger, subs, r, cache)
	}

	sortEntries(items, r.sortOrder)
	logger.Info("aggregated feed loaded",
		"channels", len(subs),
		"failed", failed,
		"total", len(items),
		"type", r.feedType,
		"classified", cache.Len(),
	)
	result := paginate(items, r.page, r.perPage)
	result.CachingTTL = settings.CachingTTL
	return result, nil
}

// LoadChannelFeed returns one channel's filtered feed for the single-channel view.
// limit <= 0 uses the per_channel setting.
func (a *Aggregator) LoadChannelFeed(ctx context.Context, channelID string, limit int, search string, feedType model.FeedType) (*rss.ChannelFeed, error) {
	settings, err := a.store.ReadSettings()
	if err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}
	r := resolveQuery(Query{PerChannel: limit, Search: search, Type: feedType}, settings)
	req := rss.Request{ChannelID: channelID, Limit: r.perChannel, Query: r.search, Type: r.feedType}
	feed, err := a.fetcher.FetchChannelFeed(ctx, req, youtube.NewCache())
	if err != nil {
		return nil, err
	}
	feed.Items = filterType(feed.Items, r.feedType)
	return feed, nil
}

// fetchAll runs one fetch per subscription, at most concurrency at a time.
// Results are concatenated in subscription order regardless of completion order.
func (a *Aggregator) fetchAll(ctx context.Context, logger *slog.Logger, subs []model.ChannelRef, req rss.Request, concurrency int, cache *youtube.Cache) ([]model.FeedEntry, int) {
	perChannel := make([][]model.FeedEntry, len(subs))
	var (
		mu     sync.Mutex
		failed int
	)
	inBatches(len(subs), concurrency, func(i int) {
		sub := subs[i]
		r := req
		r.ChannelID = sub.ID
		feed, err := a.fetcher.FetchChannelFeed(ctx, r, cache)
		if err != nil {
			logger.Warn("channel fetch failed", "channel_id", sub.ID, "error", err)
			mu.Lock()
			failed++
			mu.Unlock()
			return
		}
		entries := feed.Items
		for j := range entries {
			if entries[j].ChannelTitle == "" {
				entries[j].ChannelTitle = sub.Title
			}
		}
		perChannel[i] = entries
	})

	var items []model.FeedEntry
	for _, entries := range perChannel {
		items = append(items, entries...)
	}
	return items, failed
}

// fallback refetches without a type filter and fully classifies a bounded
// number of the most recent entries, keeping those of the requested type.
func (a *Aggregator) fallback(ctx context.Context, logger *slog.Logger, subs []model.ChannelRef, r request, cache *youtube.Cache) []model.FeedEntry {
	req := rss.Request{Limit: r.perChannel, Query: r.search, Type: model.FeedAll}
	all, _ := a.fetchAll(ctx, logger, subs, req, r.concurrency, cache)
	sortEntries(all, model.SortNewest)

	limit := fallbackMinChecks
	if n := r.perPage * fallbackPerPageFactor; n > limit {
		limit = n
	}
	if len(all) > limit {
		all = all[:limit]
	}

	verdicts := make([]bool, len(all))
	inBatches(len(all), r.concurrency, func(i int) {
		verdicts[i] = a.classifier.Classify(ctx, cache, all[i])
	})

	kept := make([]model.FeedEntry, 0)
	for i, e := range all {
		if !r.feedType.Accepts(verdicts[i]) {
			continue
		}
		e.IsShort = verdicts[i]
		kept = append(kept, e)
	}
	logger.Info("fallback classification done", "checked", len(all), "kept", len(kept))
	return kept
}

// inBatches calls fn(i) for i in [0,n): batches of size run concurrently,
// and each batch starts only after the previous one finished.
func inBatches(n, size int, fn func(i int)) {
	if size < 1 {
		size = 1
	}
	for start := 0; start < n; start += size {
		end := start + size
		if end > n {
			end = n
		}
		var wg sync.WaitGroup
		for i := start; i < end; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				fn(i)
			}(i)
		}
		wg.Wait()
	}
}

// filterType drops entries whose classification contradicts feedType.
func filterType(items []model.FeedEntry, feedType model.FeedType) []model.FeedEntry {
	out := make([]model.FeedEntry, 0, len(items))
	for _, e := range items {
		if feedType.Accepts(e.IsShort) {
			out = append(out, e)
		}
	}
	return out
}

// sortEntries orders by publish time; ties keep their merge order.
func sortEntries(items []model.FeedEntry, order model.SortOrder) {
	sort.SliceStable(items, func(i, j int) bool {
		if order == model.SortOldest {
			return items[i].PublishedAt.Before(items[j].PublishedAt)
		}
		return items[i].PublishedAt.After(items[j].PublishedAt)
	})
}

func paginate(items []model.FeedEntry, page, perPage int) *model.PageResult {
	total := len(items)
	start := total
	// Compare before multiplying so huge page numbers cannot overflow.
	if page-1 <= total/perPage {
		start = min((page-1)*perPage, total)
	}
	end := start + perPage
	if end > total {
		end = total
	}
	pageItems := make([]model.FeedEntry, end-start)
	copy(pageItems, items[start:end])
	return &model.PageResult{
		Page:    page,
		PerPage: perPage,
		Total:   total,
		Items:   pageItems,
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
