// Package server provides the HTTP API and handlers.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/bryan-buckman/tubevore/internal/aggregator"
	"github.com/bryan-buckman/tubevore/internal/database"
	"github.com/bryan-buckman/tubevore/internal/model"
	"github.com/bryan-buckman/tubevore/internal/opml"
	"github.com/bryan-buckman/tubevore/internal/rss"
	"github.com/bryan-buckman/tubevore/internal/youtube"
)

// maxOPMLUpload bounds the multipart form kept in memory.
const maxOPMLUpload = 4 << 20

// Feeds loads aggregated and single-channel feeds.
type Feeds interface {
	LoadAggregatedFeed(ctx context.Context, q aggregator.Query) (*model.PageResult, error)
	LoadChannelFeed(ctx context.Context, channelID string, limit int, search string, feedType model.FeedType) (*rss.ChannelFeed, error)
}

// Resolver turns user input into canonical channel ids.
type Resolver interface {
	Resolve(ctx context.Context, input string) (youtube.Resolution, error)
	ResolveTitle(ctx context.Context, channelID string) string
}

// Server is the main HTTP server.
type Server struct {
	store     database.Store
	feeds     Feeds
	resolver  Resolver
	endpoints youtube.Endpoints
	logger    *slog.Logger
	router    chi.Router
}

// New creates a new server. baseURL is used for links in OPML exports and
// for subscription URLs that were not supplied by the client.
func New(store database.Store, feeds Feeds, resolver Resolver, baseURL string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		store:     store,
		feeds:     feeds,
		resolver:  resolver,
		endpoints: youtube.NewEndpoints(baseURL),
		logger:    logger,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/feed", s.handleFeed)
		r.Get("/channel-feed", s.handleChannelFeed)
		r.Get("/resolve", s.handleResolve)
		r.Get("/settings", s.handleGetSettings)
		r.Post("/settings", s.handleSaveSettings)
		r.Get("/subscriptions", s.handleListSubscriptions)
		r.Post("/subscriptions", s.handleAddSubscription)
		r.Delete("/subscriptions", s.handleRemoveSubscription)
		r.Post("/import-opml", s.handleImportOPML)
		r.Get("/export-opml", s.handleExportOPML)
	})

	s.router = r
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// --- Feed Handlers ---

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"store":  s.store.DatabaseType(),
	})
}

func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var query aggregator.Query
	var err error
	if query.Page, err = intParam(q.Get("page")); err != nil {
		s.badRequest(w, "page", err)
		return
	}
	if query.PerPage, err = intParam(q.Get("per_page")); err != nil {
		s.badRequest(w, "per_page", err)
		return
	}
	if query.PerChannel, err = intParam(q.Get("per_channel")); err != nil {
		s.badRequest(w, "per_channel", err)
		return
	}
	if query.Type, err = typeParam(q.Get("type")); err != nil {
		s.badRequest(w, "type", err)
		return
	}
	query.Search = strings.TrimSpace(q.Get("q"))

	result, err := s.feeds.LoadAggregatedFeed(r.Context(), query)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Cache-Control", cacheControl(result.CachingTTL))
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleChannelFeed(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	input := strings.TrimSpace(q.Get("id"))
	if input == "" {
		s.badRequest(w, "id", errors.New("required"))
		return
	}
	limit, err := intParam(q.Get("limit"))
	if err != nil {
		s.badRequest(w, "limit", err)
		return
	}
	feedType, err := typeParam(q.Get("type"))
	if err != nil {
		s.badRequest(w, "type", err)
		return
	}
	channelID := input
	if !model.IsChannelID(input) {
		res, err := s.resolver.Resolve(r.Context(), input)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		channelID = res.ChannelID
	}
	feed, err := s.feeds.LoadChannelFeed(r.Context(), channelID, limit, strings.TrimSpace(q.Get("q")), feedType)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, feed)
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	input := strings.TrimSpace(r.URL.Query().Get("url"))
	if input == "" {
		s.badRequest(w, "url", errors.New("required"))
		return
	}
	res, err := s.resolver.Resolve(r.Context(), input)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resolveResponse{ChannelID: res.ChannelID, Title: nullable(res.Title)})
}

type resolveResponse struct {
	ChannelID string  `json:"channelId"`
	Title     *string `json:"title"`
}

// --- Settings Handlers ---

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := s.store.ReadSettings()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

func (s *Server) handleSaveSettings(w http.ResponseWriter, r *http.Request) {
	var patch model.SettingsPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		s.badRequest(w, "body", err)
		return
	}
	settings, err := s.store.WriteSettings(patch)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

// --- Subscription Handlers ---

func (s *Server) handleListSubscriptions(w http.ResponseWriter, r *http.Request) {
	subs, err := s.store.ListSubscriptions()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, subs)
}

type addSubscriptionRequest struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	URL   string `json:"url"`
}

func (s *Server) handleAddSubscription(w http.ResponseWriter, r *http.Request) {
	var req addSubscriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.badRequest(w, "body", err)
		return
	}
	input := strings.TrimSpace(req.ID)
	if input == "" {
		input = strings.TrimSpace(req.URL)
	}
	if input == "" {
		s.badRequest(w, "id", errors.New("id or url is required"))
		return
	}

	ref, err := s.subscriptionFor(r.Context(), input, strings.TrimSpace(req.Title), strings.TrimSpace(req.URL))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	created, err := s.store.AddSubscription(ref)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
		s.logger.Info("subscription added", "channel_id", ref.ID, "title", ref.Title)
	}
	writeJSON(w, status, ref)
}

// subscriptionFor resolves input to a canonical id and fills a missing title.
// Title lookup failures leave the title empty.
func (s *Server) subscriptionFor(ctx context.Context, input, title, pageURL string) (model.ChannelRef, error) {
	ref := model.ChannelRef{ID: input, Title: title, URL: pageURL}
	if !model.IsChannelID(input) {
		res, err := s.resolver.Resolve(ctx, input)
		if err != nil {
			return ref, err
		}
		ref.ID = res.ChannelID
		if ref.Title == "" {
			ref.Title = res.Title
		}
	} else if ref.Title == "" {
		ref.Title = s.resolver.ResolveTitle(ctx, ref.ID)
	}
	if !strings.HasPrefix(ref.URL, "https://") && !strings.HasPrefix(ref.URL, "http://") {
		ref.URL = s.endpoints.ChannelURL(ref.ID)
	}
	ref.AddedAt = time.Now().UTC()
	return ref, nil
}

func (s *Server) handleRemoveSubscription(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.URL.Query().Get("id"))
	if id == "" {
		if err := s.store.ClearSubscriptions(); err != nil {
			s.writeError(w, r, err)
			return
		}
		s.logger.Info("subscriptions cleared")
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}
	if err := s.store.RemoveSubscription(id); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- OPML Handlers ---

func (s *Server) handleImportOPML(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxOPMLUpload); err != nil {
		s.badRequest(w, "opml", err)
		return
	}
	file, _, err := r.FormFile("opml")
	if err != nil {
		s.badRequest(w, "opml", errors.New("no file provided"))
		return
	}
	defer file.Close()

	entries, err := opml.Parse(file)
	if err != nil {
		s.badRequest(w, "opml", err)
		return
	}

	logger := s.logger.With("import_id", uuid.NewString())
	imported, skipped := 0, 0
	for _, entry := range entries {
		input := entry.ChannelID
		if input == "" {
			input = entry.URL
		}
		if input == "" {
			skipped++
			continue
		}
		ref, err := s.subscriptionFor(r.Context(), input, entry.Title, "")
		if err != nil {
			logger.Warn("skipping opml entry", "title", entry.Title, "url", entry.URL, "error", err)
			skipped++
			continue
		}
		created, err := s.store.AddSubscription(ref)
		if err != nil {
			logger.Error("saving imported subscription", "channel_id", ref.ID, "error", err)
			skipped++
			continue
		}
		if created {
			imported++
		}
	}
	logger.Info("opml imported", "total", len(entries), "imported", imported, "skipped", skipped)

	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"imported": imported,
		"skipped":  skipped,
		"total":    len(entries),
	})
}

func (s *Server) handleExportOPML(w http.ResponseWriter, r *http.Request) {
	subs, err := s.store.ListSubscriptions()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	data, err := opml.Export("Tubevore Subscriptions", subs, s.endpoints)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/xml")
	w.Header().Set("Content-Disposition", "attachment; filename=tubevore-subscriptions.opml")
	w.Write(data)
}

// --- Helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

type errorResponse struct {
	Error  string            `json:"error"`
	Fields map[string]string `json:"fields,omitempty"`
}

func (s *Server) badRequest(w http.ResponseWriter, field string, err error) {
	writeJSON(w, http.StatusBadRequest, errorResponse{
		Error:  fmt.Sprintf("invalid %s: %v", field, err),
		Fields: map[string]string{field: err.Error()},
	})
}

// writeError maps pipeline errors to HTTP statuses.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		verr   *model.ValidationError
		ferr   *rss.FetchError
		status = http.StatusInternalServerError
	)
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: verr.Error(), Fields: verr.Fields})
		return
	case errors.Is(err, youtube.ErrResolution), errors.Is(err, database.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, aggregator.ErrAllChannelsFailed), errors.As(err, &ferr):
		status = http.StatusBadGateway
	}
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			"request_id", middleware.GetReqID(r.Context()),
			"path", r.URL.Path,
			"error", err,
		)
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func intParam(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, errors.New("must be an integer")
	}
	return n, nil
}

// typeParam returns "" for an empty value so the stored default applies.
func typeParam(v string) (model.FeedType, error) {
	if v == "" {
		return "", nil
	}
	t := model.FeedType(v)
	if !t.Valid() {
		return "", errors.New("must be one of all, video, short")
	}
	return t, nil
}

func cacheControl(ttl int) string {
	if ttl <= 0 {
		return "no-store"
	}
	return "private, max-age=" + strconv.Itoa(ttl)
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
