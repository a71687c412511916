package youtube

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/bryan-buckman/tubevore/internal/model"
	"github.com/bryan-buckman/tubevore/internal/retry"
	"github.com/bryan-buckman/tubevore/internal/webfetch"
)

// ErrResolution means every resolution strategy came up empty.
var ErrResolution = errors.New("could not resolve channel id")

// ResolvePolicy applies to every network call the resolver makes.
var ResolvePolicy = webfetch.Policy{
	Timeout: 6 * time.Second,
	Retry:   retry.Config{Attempts: 2, InitialBackoff: 250 * time.Millisecond, Linear: true},
}

// Resolution is a resolved channel. Title is empty when unknown.
type Resolution struct {
	ChannelID string
	Title     string
}

// Resolver turns handles, URLs, video links and raw ids into canonical channel ids.
type Resolver struct {
	client    Getter
	endpoints Endpoints
	policy    webfetch.Policy
	logger    *slog.Logger
}

// NewResolver creates a resolver against baseURL (DefaultBaseURL when empty).
func NewResolver(client Getter, baseURL string, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		client:    client,
		endpoints: NewEndpoints(baseURL),
		policy:    ResolvePolicy,
		logger:    logger,
	}
}

// strategy is one step of the resolution waterfall.
type strategy struct {
	name string
	run  func(ctx context.Context) (string, bool)
}

// Resolve returns the canonical channel id for input. A canonical id is
// returned unchanged with no title; anything else also gets a best-effort title.
func (r *Resolver) Resolve(ctx context.Context, input string) (Resolution, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return Resolution{}, ErrResolution
	}
	if model.IsChannelID(input) {
		return Resolution{ChannelID: input}, nil
	}

	candidate := r.endpoints.CandidateURL(input)
	waterfall := []strategy{
		{"url", func(context.Context) (string, bool) { return ChannelIDFromURL(candidate) }},
		{"oembed", func(ctx context.Context) (string, bool) { return r.viaOEmbed(ctx, candidate) }},
		{"video", func(ctx context.Context) (string, bool) { return r.viaVideoPage(ctx, input) }},
		{"page", func(ctx context.Context) (string, bool) { return r.viaPage(ctx, candidate) }},
	}
	for _, s := range waterfall {
		id, ok := s.run(ctx)
		if !ok {
			r.logger.Debug("resolve strategy found nothing", "strategy", s.name, "input", input)
			continue
		}
		r.logger.Debug("resolved channel", "strategy", s.name, "input", input, "channel_id", id)
		return Resolution{ChannelID: id, Title: r.ResolveTitle(ctx, id)}, nil
	}
	return Resolution{}, ErrResolution
}

// ResolveTitle fetches the channel page and extracts its display name.
// It returns "" when nothing usable is found.
func (r *Resolver) ResolveTitle(ctx context.Context, channelID string) string {
	body, ok := r.fetch(ctx, r.endpoints.ChannelURL(channelID))
	if !ok {
		return ""
	}
	title, _ := ExtractChannelTitle(body)
	return title
}

type oembedResponse struct {
	AuthorName string `json:"author_name"`
	AuthorURL  string `json:"author_url"`
}

func (r *Resolver) viaOEmbed(ctx context.Context, candidate string) (string, bool) {
	body, ok := r.fetch(ctx, r.endpoints.OEmbedURL(candidate))
	if !ok {
		return "", false
	}
	var meta oembedResponse
	if err := json.Unmarshal([]byte(body), &meta); err != nil || meta.AuthorURL == "" {
		return "", false
	}
	if id, ok := ChannelIDFromURL(meta.AuthorURL); ok {
		return id, true
	}
	return r.viaPage(ctx, meta.AuthorURL)
}

func (r *Resolver) viaVideoPage(ctx context.Context, input string) (string, bool) {
	videoID, ok := VideoIDFromInput(input)
	if !ok {
		return "", false
	}
	return r.viaPage(ctx, r.endpoints.WatchURL(videoID))
}

func (r *Resolver) viaPage(ctx context.Context, pageURL string) (string, bool) {
	body, ok := r.fetch(ctx, pageURL)
	if !ok {
		return "", false
	}
	return ExtractChannelID(body)
}

// fetch swallows every failure: a strategy that cannot fetch simply finds nothing.
func (r *Resolver) fetch(ctx context.Context, url string) (string, bool) {
	resp, err := r.client.Get(ctx, url, r.policy)
	if err != nil {
		r.logger.Debug("resolver fetch failed", "url", url, "error", err)
		return "", false
	}
	return resp.Text(), true
}
