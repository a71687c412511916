package youtube

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bryan-buckman/tubevore/internal/retry"
	"github.com/bryan-buckman/tubevore/internal/webfetch"
)

var testChannelID = "UC" + strings.Repeat("x", 22)

var fastPolicy = webfetch.Policy{Timeout: 2 * time.Second, Retry: retry.Config{Attempts: 1}}

func newTestResolver(server *httptest.Server) *Resolver {
	r := NewResolver(webfetch.New(), server.URL, nil)
	r.policy = fastPolicy
	return r
}

func channelPage(id, title string) string {
	return fmt.Sprintf(`<html><head>
<title>%s - YouTube</title>
<meta property="og:title" content="%s">
<link rel="canonical" href="https://www.youtube.com/channel/%s">
</head><body></body></html>`, title, title, id)
}

func TestResolve_CanonicalIDIsReturnedUnchanged(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	}))
	defer server.Close()

	got, err := newTestResolver(server).Resolve(context.Background(), "  "+testChannelID+"  ")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if got.ChannelID != testChannelID || got.Title != "" {
		t.Errorf("Resolve() = %+v, want id unchanged and no title", got)
	}
	if n := atomic.LoadInt32(&calls); n != 0 {
		t.Errorf("made %d requests, want 0", n)
	}
}

func TestResolve_ChannelURLNeedsNoLookup(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/channel/"+testChannelID, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, channelPage(testChannelID, "Direct Channel"))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	got, err := newTestResolver(server).Resolve(context.Background(), server.URL+"/channel/"+testChannelID+"/videos")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if got.ChannelID != testChannelID || got.Title != "Direct Channel" {
		t.Errorf("Resolve() = %+v", got)
	}
}

func TestResolve_HandleViaOEmbedAuthorPage(t *testing.T) {
	mux := http.NewServeMux()
	var server *httptest.Server
	mux.HandleFunc("/oembed", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("url") != server.URL+"/@gopher" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprintf(w, `{"author_name":"Gopher","author_url":"%s/@gopher"}`, server.URL)
	})
	mux.HandleFunc("/@gopher", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, channelPage(testChannelID, "Gopher"))
	})
	mux.HandleFunc("/channel/"+testChannelID, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, channelPage(testChannelID, "Gopher Channel"))
	})
	server = httptest.NewServer(mux)
	defer server.Close()

	got, err := newTestResolver(server).Resolve(context.Background(), "@gopher")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if got.ChannelID != testChannelID {
		t.Errorf("ChannelID = %q, want %q", got.ChannelID, testChannelID)
	}
	if got.Title != "Gopher Channel" {
		t.Errorf("Title = %q, want %q", got.Title, "Gopher Channel")
	}
}

func TestResolve_VideoLinkFallsBackToWatchPage(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/oembed", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	mux.HandleFunc("/watch", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("v") != "dQw4w9WgXcQ" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprintf(w, `<html><script>var ytInitialPlayerResponse = {"videoDetails":{"videoId":"dQw4w9WgXcQ","channelId":"%s"}};</script></html>`, testChannelID)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	got, err := newTestResolver(server).Resolve(context.Background(), "https://youtu.be/dQw4w9WgXcQ")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if got.ChannelID != testChannelID {
		t.Errorf("ChannelID = %q, want %q", got.ChannelID, testChannelID)
	}
	if got.Title != "" {
		t.Errorf("Title = %q, want empty when channel page is unavailable", got.Title)
	}
}

func TestResolve_DirectPageFallback(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/c/legacy", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `<html><head><meta itemprop="channelId" content="%s"></head></html>`, testChannelID)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	got, err := newTestResolver(server).Resolve(context.Background(), "c/legacy")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if got.ChannelID != testChannelID {
		t.Errorf("ChannelID = %q, want %q", got.ChannelID, testChannelID)
	}
}

func TestResolve_AllStrategiesFail(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	defer server.Close()

	_, err := newTestResolver(server).Resolve(context.Background(), "@nobody")
	if !errors.Is(err, ErrResolution) {
		t.Fatalf("Resolve() error = %v, want ErrResolution", err)
	}

	if _, err := newTestResolver(server).Resolve(context.Background(), "   "); !errors.Is(err, ErrResolution) {
		t.Fatalf("Resolve(blank) error = %v, want ErrResolution", err)
	}
}

func TestCandidateURL(t *testing.T) {
	e := NewEndpoints("https://yt.example/")
	tests := []struct {
		in, want string
	}{
		{"https://www.youtube.com/@x", "https://www.youtube.com/@x"},
		{"@x", "https://yt.example/@x"},
		{"user/legacy", "https://yt.example/user/legacy"},
		{"c/custom", "https://yt.example/c/custom"},
		{"GoogleDevelopers", "https://yt.example/GoogleDevelopers"},
		{"youtube.com/@x", "https://youtube.com/@x"},
	}
	for _, tt := range tests {
		if got := e.CandidateURL(tt.in); got != tt.want {
			t.Errorf("CandidateURL(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestVideoIDFromInput(t *testing.T) {
	tests := []struct {
		in     string
		want   string
		wantOK bool
	}{
		{"https://www.youtube.com/watch?v=dQw4w9WgXcQ", "dQw4w9WgXcQ", true},
		{"https://www.youtube.com/watch?list=x&v=dQw4w9WgXcQ", "dQw4w9WgXcQ", true},
		{"https://youtu.be/dQw4w9WgXcQ?t=3", "dQw4w9WgXcQ", true},
		{"https://www.youtube.com/shorts/abcdefghijk", "abcdefghijk", true},
		{"@handle", "", false},
	}
	for _, tt := range tests {
		got, ok := VideoIDFromInput(tt.in)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("VideoIDFromInput(%q) = %q, %v; want %q, %v", tt.in, got, ok, tt.want, tt.wantOK)
		}
	}
}
