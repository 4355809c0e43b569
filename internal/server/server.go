package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/voyagen/iptvwatch/internal/cache"
	"github.com/voyagen/iptvwatch/internal/metrics"
	"github.com/voyagen/iptvwatch/internal/models"
	"github.com/voyagen/iptvwatch/internal/service"
	"github.com/voyagen/iptvwatch/internal/store"
)

// Options configures the HTTP server.
type Options struct {
	Port    string
	Logger  zerolog.Logger
	Metrics *metrics.Metrics // nil disables /metrics
	// Color enables ANSI colors in request logs (terminal output only).
	Color bool
}

// Server holds dependencies for the HTTP API.
type Server struct {
	store store.Store
	jobs  *service.Jobs
	opts  Options
	log   zerolog.Logger
	mux   *http.ServeMux
}

// New creates a Server and registers routes.
func New(s store.Store, jobs *service.Jobs, opts Options) *Server {
	srv := &Server{
		store: s,
		jobs:  jobs,
		opts:  opts,
		log:   opts.Logger.With().Str("component", "http").Logger(),
		mux:   http.NewServeMux(),
	}
	srv.routes()
	return srv
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /api/health", s.handleHealth)

	// Catalog
	s.mux.HandleFunc("GET /api/entries", s.handleListEntries)
	s.mux.HandleFunc("GET /api/entries/{id}", s.handleGetEntry)
	s.mux.HandleFunc("GET /api/groups", s.handleListGroups)

	// Maintenance
	s.mux.HandleFunc("POST /api/ingest", s.handleIngest)
	s.mux.HandleFunc("POST /api/check", s.handleCheck)
	s.mux.HandleFunc("POST /api/prune", s.handlePrune)

	// Export
	s.mux.HandleFunc("GET /playlist.m3u", s.handlePlaylist)
	if s.opts.Metrics != nil {
		s.mux.Handle("GET /metrics", s.opts.Metrics.Handler())
	}

	// Docs
	s.mux.HandleFunc("GET /api/docs", handleSwaggerUI)
	s.mux.HandleFunc("GET /api/docs/openapi.yaml", handleOpenAPISpec)
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// Handler returns the full middleware chain.
func (s *Server) Handler() http.Handler {
	return withCORS(s.withLogging(s))
}

// ListenAndServe starts the HTTP server on the configured port.
// It blocks until the server is shut down or ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	addr := ":" + s.opts.Port
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	// Graceful shutdown on context cancellation.
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			s.log.Error().Err(err).Msg("server shutdown")
		}
	}()

	s.log.Info().Str("addr", addr).Msg("listening")
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("ListenAndServe: %w", err)
	}
	return nil
}

// --- handlers ---

type healthResponse struct {
	Status      string `json:"status"`
	Queue       string `json:"queue"`
	PendingJobs int64  `json:"pending_jobs"`
	Error       string `json:"error,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok", Queue: "local"}
	if s.jobs != nil && s.jobs.Redis != nil {
		resp.Queue = "redis"
		n, err := s.jobs.Pending(r.Context())
		if err != nil {
			resp.Status = "degraded"
			resp.Error = err.Error()
			writeJSON(w, http.StatusServiceUnavailable, resp)
			return
		}
		resp.PendingJobs = n
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListEntries(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.EntryFilter{
		Group:  q.Get("group"),
		Search: q.Get("search"),
	}

	if v := q.Get("status"); v != "" {
		switch st := models.Status(v); st {
		case models.StatusActive, models.StatusDead, models.StatusUnchecked:
			filter.Status = st
		default:
			s.writeErr(w, http.StatusBadRequest, fmt.Errorf("invalid status: %s (use active, dead or unchecked)", v))
			return
		}
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			s.writeErr(w, http.StatusBadRequest, fmt.Errorf("invalid limit: %s", v))
			return
		}
		filter.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			s.writeErr(w, http.StatusBadRequest, fmt.Errorf("invalid offset: %s", v))
			return
		}
		filter.Offset = n
	}

	// Apply defaults so the response reflects actual values used.
	if filter.Limit <= 0 {
		filter.Limit = 50
	}
	if filter.Limit > 200 {
		filter.Limit = 200
	}

	entries, total, err := s.store.ListEntries(r.Context(), filter)
	if err != nil {
		s.writeErr(w, http.StatusInternalServerError, err)
		return
	}
	if entries == nil {
		entries = []models.Entry{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"entries": entries,
		"total":   total,
		"limit":   filter.Limit,
		"offset":  filter.Offset,
	})
}

func (s *Server) handleGetEntry(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		s.writeErr(w, http.StatusBadRequest, err)
		return
	}

	e, err := s.store.GetEntryByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.writeErr(w, http.StatusNotFound, fmt.Errorf("entry %d not found", id))
			return
		}
		s.writeErr(w, http.StatusInternalServerError, err)
		return
	}

	writeJSON(w, http.StatusOK, e)
}

func (s *Server) handleListGroups(w http.ResponseWriter, r *http.Request) {
	groups, err := s.store.GroupStats(r.Context())
	if err != nil {
		s.writeErr(w, http.StatusInternalServerError, err)
		return
	}
	if groups == nil {
		groups = []models.GroupStats{}
	}
	writeJSON(w, http.StatusOK, groups)
}

type ingestRequest struct {
	URL string `json:"url"`
}

// handleIngest runs synchronously so the caller gets the inserted count.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeErr(w, http.StatusBadRequest, fmt.Errorf("invalid JSON: %w", err))
		return
	}
	if req.URL == "" {
		s.writeErr(w, http.StatusBadRequest, fmt.Errorf("url is required"))
		return
	}
	// Local paths are a CLI-only feature.
	if u, err := url.ParseRequestURI(req.URL); err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		s.writeErr(w, http.StatusBadRequest, fmt.Errorf("url must be a valid http or https URL"))
		return
	}

	res, err := service.Ingest(r.Context(), s.store, req.URL, s.jobs.Ingest)
	if err != nil {
		s.writeErr(w, http.StatusInternalServerError, fmt.Errorf("ingest: %w", err))
		return
	}
	status := http.StatusOK
	if res.Inserted > 0 {
		status = http.StatusCreated
	}
	writeJSON(w, status, res)
}

type checkRequest struct {
	Limit int `json:"limit"`
}

func (s *Server) handleCheck(w http.ResponseWriter, r *http.Request) {
	var req checkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		s.writeErr(w, http.StatusBadRequest, fmt.Errorf("invalid JSON: %w", err))
		return
	}
	if req.Limit < 0 {
		s.writeErr(w, http.StatusBadRequest, fmt.Errorf("limit must not be negative"))
		return
	}
	if req.Limit == 0 {
		req.Limit = s.jobs.CheckBatch
	}
	s.submit(w, r, cache.Job{Kind: cache.JobCheck, Limit: req.Limit})
}

func (s *Server) handlePrune(w http.ResponseWriter, r *http.Request) {
	s.submit(w, r, cache.Job{Kind: cache.JobPrune})
}

// submit hands the job off and answers 202 Accepted; cycles can outlast any
// reasonable request timeout.
func (s *Server) submit(w http.ResponseWriter, r *http.Request, job cache.Job) {
	queued, err := s.jobs.Submit(r.Context(), job)
	if err != nil {
		s.writeErr(w, http.StatusServiceUnavailable, err)
		return
	}
	resp := map[string]any{
		"kind":   job.Kind,
		"queued": queued,
	}
	if job.Limit > 0 {
		resp["limit"] = job.Limit
	}
	writeJSON(w, http.StatusAccepted, resp)
}

func (s *Server) handlePlaylist(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	if _, err := service.Export(r.Context(), s.store, &buf); err != nil {
		s.writeErr(w, http.StatusInternalServerError, fmt.Errorf("export: %w", err))
		return
	}
	w.Header().Set("Content-Type", "audio/x-mpegurl; charset=utf-8")
	w.Header().Set("Content-Disposition", `inline; filename="playlist.m3u"`)
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}
