// Package youtube resolves channel identifiers and classifies Shorts using
// YouTube's public pages. No API key is involved.
package youtube

import (
	"context"
	"net/url"
	"regexp"
	"strings"

	"github.com/bryan-buckman/tubevore/internal/webfetch"
)

// DefaultBaseURL is the public site all page and feed URLs are built from.
const DefaultBaseURL = "https://www.youtube.com"

// Getter is the subset of *webfetch.Client used here.
type Getter interface {
	Get(ctx context.Context, rawURL string, p webfetch.Policy) (*webfetch.Response, error)
}

var (
	channelInURL = regexp.MustCompile(`/channel/(UC[A-Za-z0-9_-]{22})`)
	videoInInput = regexp.MustCompile(`(?:[?&]v=|youtu\.be/|/shorts/|/embed/|/live/)([A-Za-z0-9_-]{11})`)
	schemePrefix = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9+.-]*://`)
	bareToken    = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)
)

// Endpoints builds upstream URLs from a base. Tests point it at an httptest server.
type Endpoints struct {
	Base string
}

// NewEndpoints returns endpoints rooted at base, or DefaultBaseURL when empty.
func NewEndpoints(base string) Endpoints {
	if base == "" {
		base = DefaultBaseURL
	}
	return Endpoints{Base: strings.TrimRight(base, "/")}
}

// FeedURL is the channel's public Atom feed.
func (e Endpoints) FeedURL(channelID string) string {
	return e.Base + "/feeds/videos.xml?channel_id=" + url.QueryEscape(channelID)
}

// ChannelURL is the channel's landing page.
func (e Endpoints) ChannelURL(channelID string) string {
	return e.Base + "/channel/" + channelID
}

// ShortsURL is the dedicated short-form player URL for a video.
func (e Endpoints) ShortsURL(videoID string) string {
	return e.Base + "/shorts/" + videoID
}

// WatchURL is the canonical watch page for a video.
func (e Endpoints) WatchURL(videoID string) string {
	return e.Base + "/watch?v=" + videoID
}

// OEmbedURL is the embed-metadata endpoint for target.
func (e Endpoints) OEmbedURL(target string) string {
	return e.Base + "/oembed?format=json&url=" + url.QueryEscape(target)
}

// CandidateURL turns user input into an absolute URL to probe.
func (e Endpoints) CandidateURL(input string) string {
	switch {
	case schemePrefix.MatchString(input):
		return input
	case strings.HasPrefix(input, "@"),
		strings.HasPrefix(input, "user/"),
		strings.HasPrefix(input, "c/"),
		bareToken.MatchString(input):
		return e.Base + "/" + input
	default:
		return "https://" + input
	}
}

// ChannelIDFromURL extracts a channel id encoded directly in a URL path.
func ChannelIDFromURL(s string) (string, bool) {
	m := channelInURL.FindStringSubmatch(s)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// ChannelIDFromFeedURL extracts the channel_id parameter of a feed URL.
func ChannelIDFromFeedURL(s string) (string, bool) {
	u, err := url.Parse(s)
	if err != nil {
		return "", false
	}
	id := u.Query().Get("channel_id")
	if id == "" {
		return ChannelIDFromURL(s)
	}
	return id, true
}

// VideoIDFromInput extracts an 11-char video id from a watch, short or embed link.
func VideoIDFromInput(s string) (string, bool) {
	m := videoInInput.FindStringSubmatch(s)
	if m == nil {
		return "", false
	}
	return m[1], true
}
