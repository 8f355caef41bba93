// Package server exposes the control plane over HTTP: run lifecycle,
// queue access, single-part ingest, search, and monitored sources.
package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/loseme/loseme/internal/errors"
	"github.com/loseme/loseme/internal/ingest"
	"github.com/loseme/loseme/internal/scope"
	"github.com/loseme/loseme/internal/search"
	"github.com/loseme/loseme/internal/store"
)

const shutdownTimeout = 10 * time.Second

// Options wires the server's collaborators.
type Options struct {
	Controller *ingest.Controller
	Store      store.MetadataStore
	Search     *search.Service
	Scopes     *scope.Registry
	Addr       string
	Logger     *slog.Logger
}

// Server is the HTTP front of the control plane.
type Server struct {
	controller *ingest.Controller
	store      store.MetadataStore
	searcher   *search.Service
	scopes     *scope.Registry
	addr       string
	logger     *slog.Logger
}

// New builds the server.
func New(opts Options) *Server {
	if opts.Scopes == nil {
		opts.Scopes = scope.NewRegistry()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Server{
		controller: opts.Controller,
		store:      opts.Store,
		searcher:   opts.Search,
		scopes:     opts.Scopes,
		addr:       opts.Addr,
		logger:     opts.Logger,
	}
}

// Router assembles the route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)

	r.Get("/health", s.handleHealth)

	r.Route("/runs", func(r chi.Router) {
		r.Post("/create", s.handleCreateRun)
		r.Get("/list", s.handleListRuns)
		r.Post("/start_indexing/{run_id}", s.handleStartIndexing)
		r.Post("/request_stop/{run_id}", s.handleRequestStop)
		r.Get("/is_stop_requested/{run_id}", s.handleIsStopRequested)
		r.Post("/mark_completed/{run_id}", s.handleMarkCompleted)
		r.Post("/mark_failed/{run_id}", s.handleMarkFailed)
		r.Post("/mark_interrupted/{run_id}", s.handleMarkInterrupted)
		r.Post("/discovering_stopped/{run_id}", s.handleDiscoveringStopped)
		r.Post("/resume/{run_id}", s.handleResumeRun)
	})

	r.Route("/queue", func(r chi.Router) {
		r.Post("/add", s.handleQueueAdd)
		r.Get("/next/{run_id}", s.handleQueueNext)
	})

	r.Post("/ingest/document_part", s.handleIngestPart)
	r.Post("/search", s.handleSearch)

	r.Route("/sources", func(r chi.Router) {
		r.Post("/add", s.handleAddSource)
		r.Get("/get_all_sources", s.handleListSources)
		r.Post("/scan/{source_id}", s.handleScanSource)
		r.Post("/scan_all", s.handleScanAll)
	})

	return r
}

// ListenAndServe runs until the context is cancelled, then drains
// in-flight requests.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server_listening", "addr", s.addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("server_shutting_down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("http_request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration_ms", time.Since(start).Milliseconds())
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, errors.HTTPStatus(err), map[string]string{
		"error": err.Error(),
		"kind":  string(errors.KindOf(err)),
	})
}

func decodeBody(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errors.Validation("invalid request body: %v", err)
	}
	return nil
}
