package youtube

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/bryan-buckman/tubevore/internal/model"
)

// page is a fetched HTML document. The DOM is only built if an extractor asks for it.
type page struct {
	raw    string
	doc    *goquery.Document
	parsed bool
}

func newPage(raw string) *page {
	return &page{raw: raw}
}

// dom returns the parsed document, or nil if the markup could not be parsed.
func (p *page) dom() *goquery.Document {
	if !p.parsed {
		p.parsed = true
		doc, err := goquery.NewDocumentFromReader(strings.NewReader(p.raw))
		if err == nil {
			p.doc = doc
		}
	}
	return p.doc
}

func (p *page) attr(selector, name string) string {
	doc := p.dom()
	if doc == nil {
		return ""
	}
	v, _ := doc.Find(selector).First().Attr(name)
	return strings.TrimSpace(v)
}

// extractor is one lookup strategy over a page: a found value, or not found.
type extractor func(*page) (string, bool)

// firstFound runs extractors in order and returns the first hit.
func firstFound(p *page, extractors ...extractor) (string, bool) {
	for _, ex := range extractors {
		if v, ok := ex(p); ok {
			return v, true
		}
	}
	return "", false
}

// --- Channel id ---

// channelJSONFields are tried in priority order.
var channelJSONFields = []string{"channelId", "browseId", "ownerChannelId", "externalChannelId"}

var channelJSONPatterns = func() []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(channelJSONFields))
	for _, f := range channelJSONFields {
		out = append(out, regexp.MustCompile(`"`+f+`"\s*:\s*"(UC[A-Za-z0-9_-]{22})"`))
	}
	return out
}()

func canonicalChannelID(p *page) (string, bool) {
	return ChannelIDFromURL(p.attr(`link[rel="canonical"]`, "href"))
}

func jsonChannelID(p *page) (string, bool) {
	for _, re := range channelJSONPatterns {
		if m := re.FindStringSubmatch(p.raw); m != nil {
			return m[1], true
		}
	}
	return "", false
}

func metaChannelID(p *page) (string, bool) {
	id := p.attr(`meta[itemprop="channelId"]`, "content")
	if !model.IsChannelID(id) {
		return "", false
	}
	return id, true
}

// ExtractChannelID scans a channel or video page for its canonical channel id.
func ExtractChannelID(html string) (string, bool) {
	return firstFound(newPage(html), canonicalChannelID, jsonChannelID, metaChannelID)
}

// --- Channel title ---

const titleSuffix = " - YouTube"

var jsonTitlePatterns = []*regexp.Regexp{
	regexp.MustCompile(`"channelMetadataRenderer"\s*:\s*\{\s*"title"\s*:\s*("(?:[^"\\]|\\.)*")`),
	regexp.MustCompile(`"ownerChannelName"\s*:\s*("(?:[^"\\]|\\.)*")`),
	regexp.MustCompile(`"author"\s*:\s*("(?:[^"\\]|\\.)*")`),
}

func ogTitle(p *page) (string, bool) {
	t := p.attr(`meta[property="og:title"]`, "content")
	return t, t != ""
}

func htmlTitle(p *page) (string, bool) {
	doc := p.dom()
	if doc == nil {
		return "", false
	}
	t := strings.TrimSpace(doc.Find("title").First().Text())
	t = strings.TrimSpace(strings.TrimSuffix(t, titleSuffix))
	if t == "" || t == "YouTube" {
		return "", false
	}
	return t, true
}

func jsonTitle(p *page) (string, bool) {
	for _, re := range jsonTitlePatterns {
		m := re.FindStringSubmatch(p.raw)
		if m == nil {
			continue
		}
		var s string
		if err := json.Unmarshal([]byte(m[1]), &s); err == nil && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s), true
		}
	}
	return "", false
}

// ExtractChannelTitle finds a human-readable channel name on a channel page.
func ExtractChannelTitle(html string) (string, bool) {
	return firstFound(newPage(html), ogTitle, htmlTitle, jsonTitle)
}

// --- Shorts markers ---

var (
	isShortsFlag   = regexp.MustCompile(`"isShorts"\s*:\s*true`)
	shortsURLField = regexp.MustCompile(`"[A-Za-z]*[Uu]rl"\s*:\s*"[^"]*/shorts/([A-Za-z0-9_-]+)`)
	lengthSeconds  = regexp.MustCompile(`"lengthSeconds"\s*:\s*"?(\d+)"?`)
)

// maxShortSeconds is the duration at or below which a video counts as a Short.
const maxShortSeconds = 60

// hasShortsMarker reports an explicit Shorts marker for videoID on the page:
// a canonical link, og:url or JSON url field pointing at this video's shorts
// path, or an isShorts flag.
func hasShortsMarker(html, videoID string) bool {
	if isShortsFlag.MatchString(html) {
		return true
	}
	if videoID == "" {
		return false
	}
	p := newPage(html)
	if shortsVideoID(p.attr(`link[rel="canonical"]`, "href")) == videoID {
		return true
	}
	if shortsVideoID(p.attr(`meta[property="og:url"]`, "content")) == videoID {
		return true
	}
	for _, m := range shortsURLField.FindAllStringSubmatch(html, -1) {
		if m[1] == videoID {
			return true
		}
	}
	return false
}

// shortsVideoID returns the video id following /shorts/ in rawURL, or "".
func shortsVideoID(rawURL string) string {
	_, rest, ok := strings.Cut(rawURL, "/shorts/")
	if !ok {
		return ""
	}
	end := strings.IndexFunc(rest, func(r rune) bool {
		return !(r == '-' || r == '_' || r >= '0' && r <= '9' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z')
	})
	if end >= 0 {
		rest = rest[:end]
	}
	return rest
}

// extractDuration returns the first lengthSeconds value embedded in the page.
func extractDuration(html string) (int, bool) {
	m := lengthSeconds.FindStringSubmatch(html)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return n, true
}
