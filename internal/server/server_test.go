package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bryan-buckman/tubevore/internal/aggregator"
	"github.com/bryan-buckman/tubevore/internal/database"
	"github.com/bryan-buckman/tubevore/internal/model"
	"github.com/bryan-buckman/tubevore/internal/rss"
	"github.com/bryan-buckman/tubevore/internal/server"
	"github.com/bryan-buckman/tubevore/internal/youtube"
)

var (
	idA = "UC" + strings.Repeat("a", 22)
	idB = "UC" + strings.Repeat("b", 22)
)

type fakeFeeds struct {
	mu        sync.Mutex
	lastQuery aggregator.Query
	result    *model.PageResult
	err       error
	channel   *rss.ChannelFeed
}

func (f *fakeFeeds) LoadAggregatedFeed(_ context.Context, q aggregator.Query) (*model.PageResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastQuery = q
	if f.err != nil {
		return nil, f.err
	}
	if f.result != nil {
		return f.result, nil
	}
	return &model.PageResult{Page: 1, PerPage: 20, Items: []model.FeedEntry{}}, nil
}

func (f *fakeFeeds) LoadChannelFeed(_ context.Context, channelID string, limit int, search string, t model.FeedType) (*rss.ChannelFeed, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.channel != nil {
		return f.channel, nil
	}
	return &rss.ChannelFeed{ChannelID: channelID, Items: []model.FeedEntry{}}, nil
}

// fakeResolver knows a fixed set of inputs.
type fakeResolver struct {
	known  map[string]youtube.Resolution
	titles map[string]string
}

func (r *fakeResolver) Resolve(_ context.Context, input string) (youtube.Resolution, error) {
	if model.IsChannelID(input) {
		return youtube.Resolution{ChannelID: input}, nil
	}
	if res, ok := r.known[input]; ok {
		return res, nil
	}
	return youtube.Resolution{}, youtube.ErrResolution
}

func (r *fakeResolver) ResolveTitle(_ context.Context, id string) string {
	return r.titles[id]
}

type fixture struct {
	srv   *server.Server
	store database.Store
	feeds *fakeFeeds
}

func setup(t *testing.T) fixture {
	t.Helper()
	store, err := database.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	feeds := &fakeFeeds{}
	resolver := &fakeResolver{
		known: map[string]youtube.Resolution{
			"@gopher": {ChannelID: idB, Title: "Gopher"},
			"@quiet":  {ChannelID: idB},
		},
		titles: map[string]string{idA: "Alpha"},
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	return fixture{
		srv:   server.New(store, feeds, resolver, "https://www.youtube.com", logger),
		store: store,
		feeds: feeds,
	}
}

func (f fixture) do(t *testing.T, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		data, _ := json.Marshal(b)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, target, reader)
	rec := httptest.NewRecorder()
	f.srv.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func TestHealthEndpoint(t *testing.T) {
	f := setup(t)
	rec := f.do(t, http.MethodGet, "/api/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := decode[map[string]string](t, rec)
	if body["store"] != "JSON" {
		t.Errorf("store = %q, want JSON", body["store"])
	}
}

func TestFeedEndpoint(t *testing.T) {
	f := setup(t)
	f.feeds.result = &model.PageResult{
		Page:       2,
		PerPage:    5,
		Total:      6,
		Items:      []model.FeedEntry{{ID: "vid00000001", Title: "One", PublishedAt: time.Now()}},
		CachingTTL: 300,
	}

	rec := f.do(t, http.MethodGet, "/api/feed?page=2&per_page=5&per_channel=7&q=go&type=short", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body)
	}
	want := aggregator.Query{Page: 2, PerPage: 5, PerChannel: 7, Search: "go", Type: model.FeedShort}
	if f.feeds.lastQuery != want {
		t.Errorf("query = %+v, want %+v", f.feeds.lastQuery, want)
	}
	if cc := rec.Header().Get("Cache-Control"); cc != "private, max-age=300" {
		t.Errorf("Cache-Control = %q", cc)
	}
	page := decode[model.PageResult](t, rec)
	if page.Total != 6 || len(page.Items) != 1 {
		t.Errorf("page = %+v", page)
	}
}

func TestFeedEndpoint_NoStoreWhenTTLZero(t *testing.T) {
	f := setup(t)
	f.feeds.result = &model.PageResult{Page: 1, PerPage: 20, Items: []model.FeedEntry{}, CachingTTL: 0}
	rec := f.do(t, http.MethodGet, "/api/feed", nil)
	if cc := rec.Header().Get("Cache-Control"); cc != "no-store" {
		t.Errorf("Cache-Control = %q, want no-store", cc)
	}
}

func TestFeedEndpoint_CacheControlFollowsLoadedSettings(t *testing.T) {
	f := setup(t)
	// The stored ttl changes after the page was built; the header must
	// describe the settings the page was actually built under.
	f.feeds.result = &model.PageResult{Page: 1, PerPage: 20, Items: []model.FeedEntry{}, CachingTTL: 45}
	f.do(t, http.MethodPost, "/api/settings", map[string]any{"caching_ttl": 900})

	rec := f.do(t, http.MethodGet, "/api/feed", nil)
	if cc := rec.Header().Get("Cache-Control"); cc != "private, max-age=45" {
		t.Errorf("Cache-Control = %q, want private, max-age=45", cc)
	}
}

func TestFeedEndpoint_BadParams(t *testing.T) {
	f := setup(t)
	for _, target := range []string{"/api/feed?page=two", "/api/feed?type=podcast", "/api/feed?per_page=1.5"} {
		if rec := f.do(t, http.MethodGet, target, nil); rec.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", target, rec.Code)
		}
	}
}

func TestFeedEndpoint_AllChannelsFailed(t *testing.T) {
	f := setup(t)
	f.feeds.err = aggregator.ErrAllChannelsFailed
	rec := f.do(t, http.MethodGet, "/api/feed", nil)
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", rec.Code)
	}
}

func TestChannelFeedEndpoint(t *testing.T) {
	f := setup(t)
	if rec := f.do(t, http.MethodGet, "/api/channel-feed", nil); rec.Code != http.StatusBadRequest {
		t.Errorf("missing id: expected 400, got %d", rec.Code)
	}

	rec := f.do(t, http.MethodGet, "/api/channel-feed?id=@gopher&limit=3", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	feed := decode[rss.ChannelFeed](t, rec)
	if feed.ChannelID != idB {
		t.Errorf("channelId = %q, want resolved %q", feed.ChannelID, idB)
	}

	if rec := f.do(t, http.MethodGet, "/api/channel-feed?id=@nobody", nil); rec.Code != http.StatusNotFound {
		t.Errorf("unresolvable id: expected 404, got %d", rec.Code)
	}

	f.feeds.err = &rss.FetchError{ChannelID: idA, Err: fmt.Errorf("status 500")}
	if rec := f.do(t, http.MethodGet, "/api/channel-feed?id="+idA, nil); rec.Code != http.StatusBadGateway {
		t.Errorf("fetch failure: expected 502, got %d", rec.Code)
	}
}

func TestResolveEndpoint(t *testing.T) {
	f := setup(t)

	if rec := f.do(t, http.MethodGet, "/api/resolve", nil); rec.Code != http.StatusBadRequest {
		t.Errorf("missing url: expected 400, got %d", rec.Code)
	}
	if rec := f.do(t, http.MethodGet, "/api/resolve?url=@nobody", nil); rec.Code != http.StatusNotFound {
		t.Errorf("unresolvable: expected 404, got %d", rec.Code)
	}

	rec := f.do(t, http.MethodGet, "/api/resolve?url=@gopher", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	got := decode[map[string]any](t, rec)
	if got["channelId"] != idB || got["title"] != "Gopher" {
		t.Errorf("resolve = %v", got)
	}

	rec = f.do(t, http.MethodGet, "/api/resolve?url=@quiet", nil)
	got = decode[map[string]any](t, rec)
	if title, ok := got["title"]; !ok || title != nil {
		t.Errorf("title = %v, want explicit null", got["title"])
	}
}

func TestSettingsEndpoints(t *testing.T) {
	f := setup(t)

	rec := f.do(t, http.MethodGet, "/api/settings", nil)
	if got := decode[model.UserSettings](t, rec); got != model.DefaultSettings() {
		t.Errorf("GET settings = %+v, want defaults", got)
	}

	rec = f.do(t, http.MethodPost, "/api/settings", `{"per_page": 40, "defaultFeedType": "video", "unknown": 1}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body)
	}
	got := decode[model.UserSettings](t, rec)
	if got.PerPage != 40 || got.DefaultFeedType != model.FeedVideo || got.PerChannel != 10 {
		t.Errorf("merged = %+v", got)
	}

	rec = f.do(t, http.MethodPost, "/api/settings", `{"per_page": 150, "concurrency": 0}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	errBody := decode[struct {
		Fields map[string]string `json:"fields"`
	}](t, rec)
	if _, ok := errBody.Fields["per_page"]; !ok {
		t.Errorf("fields = %v, want per_page", errBody.Fields)
	}
	if _, ok := errBody.Fields["concurrency"]; !ok {
		t.Errorf("fields = %v, want concurrency", errBody.Fields)
	}

	rec = f.do(t, http.MethodGet, "/api/settings", nil)
	if got := decode[model.UserSettings](t, rec); got.PerPage != 40 {
		t.Errorf("rejected write changed per_page to %d", got.PerPage)
	}

	if rec := f.do(t, http.MethodPost, "/api/settings", `{"per_page": "lots"}`); rec.Code != http.StatusBadRequest {
		t.Errorf("mistyped field: expected 400, got %d", rec.Code)
	}
}

func TestSubscriptionEndpoints(t *testing.T) {
	f := setup(t)

	rec := f.do(t, http.MethodPost, "/api/subscriptions", map[string]string{"id": idA})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body)
	}
	ref := decode[model.ChannelRef](t, rec)
	if ref.ID != idA || ref.Title != "Alpha" || ref.URL != "https://www.youtube.com/channel/"+idA {
		t.Errorf("added = %+v", ref)
	}

	if rec := f.do(t, http.MethodPost, "/api/subscriptions", map[string]string{"id": idA}); rec.Code != http.StatusOK {
		t.Errorf("duplicate: expected 200, got %d", rec.Code)
	}

	rec = f.do(t, http.MethodPost, "/api/subscriptions", map[string]string{"url": "@gopher"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("handle: expected 201, got %d", rec.Code)
	}
	if ref := decode[model.ChannelRef](t, rec); ref.ID != idB || ref.Title != "Gopher" {
		t.Errorf("resolved = %+v", ref)
	}

	if rec := f.do(t, http.MethodPost, "/api/subscriptions", map[string]string{"url": "@nobody"}); rec.Code != http.StatusNotFound {
		t.Errorf("unresolvable: expected 404, got %d", rec.Code)
	}
	if rec := f.do(t, http.MethodPost, "/api/subscriptions", map[string]string{}); rec.Code != http.StatusBadRequest {
		t.Errorf("empty: expected 400, got %d", rec.Code)
	}

	rec = f.do(t, http.MethodGet, "/api/subscriptions", nil)
	subs := decode[[]model.ChannelRef](t, rec)
	if len(subs) != 2 || subs[0].ID != idA || subs[1].ID != idB {
		t.Fatalf("list = %+v", subs)
	}

	if rec := f.do(t, http.MethodDelete, "/api/subscriptions?id="+idA, nil); rec.Code != http.StatusOK {
		t.Errorf("delete: expected 200, got %d", rec.Code)
	}
	if rec := f.do(t, http.MethodDelete, "/api/subscriptions?id="+idA, nil); rec.Code != http.StatusNotFound {
		t.Errorf("delete missing: expected 404, got %d", rec.Code)
	}
	if rec := f.do(t, http.MethodDelete, "/api/subscriptions", nil); rec.Code != http.StatusOK {
		t.Errorf("clear: expected 200, got %d", rec.Code)
	}
	if subs, _ := f.store.ListSubscriptions(); len(subs) != 0 {
		t.Errorf("after clear = %+v", subs)
	}
}

func TestOPMLImportExport(t *testing.T) {
	f := setup(t)
	doc := `<?xml version="1.0"?>
<opml version="1.1"><head><title>subs</title></head><body>
<outline text="Alpha" xmlUrl="https://www.youtube.com/feeds/videos.xml?channel_id=` + idA + `"/>
<outline text="Gopher" htmlUrl="@gopher"/>
<outline text="Lost" htmlUrl="https://www.youtube.com/@nobody"/>
</body></opml>`

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, _ := mw.CreateFormFile("opml", "subs.opml")
	part.Write([]byte(doc))
	mw.Close()
	req := httptest.NewRequest(http.MethodPost, "/api/import-opml", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	f.srv.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("import: expected 200, got %d: %s", rec.Code, rec.Body)
	}
	var result struct {
		Imported, Skipped, Total int
	}
	if err := json.NewDecoder(rec.Body).Decode(&result); err != nil {
		t.Fatal(err)
	}
	if result.Imported != 2 || result.Skipped != 1 || result.Total != 3 {
		t.Errorf("import result = %+v", result)
	}

	rec = f.do(t, http.MethodGet, "/api/export-opml", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("export: expected 200, got %d", rec.Code)
	}
	if cd := rec.Header().Get("Content-Disposition"); !strings.Contains(cd, "attachment") {
		t.Errorf("Content-Disposition = %q", cd)
	}
	out := rec.Body.String()
	for _, id := range []string{idA, idB} {
		if !strings.Contains(out, "feeds/videos.xml?channel_id="+id) {
			t.Errorf("export missing feed for %s", id)
		}
	}
}

func TestOPMLImport_NoFile(t *testing.T) {
	f := setup(t)
	if rec := f.do(t, http.MethodPost, "/api/import-opml", nil); rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}
