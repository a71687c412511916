package youtube

import (
	"context"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/bryan-buckman/tubevore/internal/model"
	"github.com/bryan-buckman/tubevore/internal/retry"
	"github.com/bryan-buckman/tubevore/internal/webfetch"
)

// ProbePolicy applies to each Shorts probe request.
var ProbePolicy = webfetch.Policy{
	Timeout: 5 * time.Second,
	Retry:   retry.Config{Attempts: 3, InitialBackoff: 300 * time.Millisecond, Linear: true},
}

var shortsToken = regexp.MustCompile(`(?i)#shorts\b|\bshorts\b`)

// BasicHeuristic classifies without any network call: a shorts path in the
// link, or a shorts hashtag/word in the text.
func BasicHeuristic(link, text string) bool {
	return strings.Contains(link, "/shorts/") || shortsToken.MatchString(text)
}

// Cache memoizes classifications for one request. Create one per request and
// drop it afterwards; it is safe for the concurrent fetches of that request.
type Cache struct {
	mu sync.Mutex
	m  map[string]bool
}

// NewCache returns an empty request-scoped cache.
func NewCache() *Cache {
	return &Cache{m: make(map[string]bool)}
}

func (c *Cache) get(key string) (bool, bool) {
	if c == nil || key == "" {
		return false, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.m[key]
	return v, ok
}

func (c *Cache) set(key string, v bool) {
	if c == nil || key == "" {
		return
	}
	c.mu.Lock()
	c.m[key] = v
	c.mu.Unlock()
}

// Len returns the number of memoized decisions.
func (c *Cache) Len() int {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.m)
}

func cacheKey(videoID, link, text string) string {
	switch {
	case videoID != "":
		return videoID
	case link != "":
		return link
	}
	return text
}

// Classifier decides whether a video is a Short. It never returns an error:
// anything it cannot confirm is classified as a regular video.
type Classifier struct {
	client    Getter
	endpoints Endpoints
	policy    webfetch.Policy
	logger    *slog.Logger
}

// NewClassifier creates a classifier probing pages under baseURL.
func NewClassifier(client Getter, baseURL string, logger *slog.Logger) *Classifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Classifier{
		client:    client,
		endpoints: NewEndpoints(baseURL),
		policy:    ProbePolicy,
		logger:    logger,
	}
}

// Classify runs IsShort on an entry, using title and description as the text blurb.
func (c *Classifier) Classify(ctx context.Context, cache *Cache, e model.FeedEntry) bool {
	return c.IsShort(ctx, cache, e.ID, e.Link, e.Title+"\n"+e.Description)
}

// IsShort classifies one video, memoized in cache under videoID, link or text.
func (c *Classifier) IsShort(ctx context.Context, cache *Cache, videoID, link, text string) bool {
	key := cacheKey(videoID, link, text)
	if v, ok := cache.get(key); ok {
		return v
	}
	v := c.classify(ctx, videoID, link, text)
	cache.set(key, v)
	return v
}

func (c *Classifier) classify(ctx context.Context, videoID, link, text string) bool {
	if BasicHeuristic(link, text) {
		return true
	}
	if videoID == "" {
		return false
	}
	if c.probe(ctx, c.endpoints.ShortsURL(videoID), videoID) {
		return true
	}
	return c.probe(ctx, c.endpoints.WatchURL(videoID), videoID)
}

// probe fetches pageURL and looks for Shorts evidence. Fetch failures are inconclusive.
func (c *Classifier) probe(ctx context.Context, pageURL, videoID string) bool {
	resp, err := c.client.Get(ctx, pageURL, c.policy)
	if err != nil {
		c.logger.Debug("shorts probe inconclusive", "url", pageURL, "error", err)
		return false
	}
	if strings.Contains(resp.URL, "/shorts/") {
		return true
	}
	body := resp.Text()
	if hasShortsMarker(body, videoID) {
		return true
	}
	if secs, ok := extractDuration(body); ok && secs > 0 && secs <= maxShortSeconds {
		return true
	}
	return false
}
