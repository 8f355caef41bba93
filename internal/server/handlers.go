package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/loseme/loseme/internal/errors"
	"github.com/loseme/loseme/internal/source"
	"github.com/loseme/loseme/internal/store"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleCreateRun accepts a scope envelope, registers a run, and
// starts discovery.
func (s *Server) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	var raw json.RawMessage
	if err := decodeBody(r, &raw); err != nil {
		writeError(w, err)
		return
	}
	// Workers outlive the request
	run, err := s.controller.CreateRunFromJSON(context.WithoutCancel(r.Context()), raw)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, run)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, errors.Validation("limit must be a positive integer"))
			return
		}
		limit = n
	}
	runs, err := s.store.ListRuns(r.Context(), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func (s *Server) handleStartIndexing(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "run_id")
	// Workers outlive the request
	if err := s.controller.StartIndexing(context.WithoutCancel(r.Context()), runID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"run_id": runID, "status": "indexing"})
}

func (s *Server) handleRequestStop(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "run_id")
	if err := s.controller.RequestStop(r.Context(), runID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"run_id": runID})
}

func (s *Server) handleIsStopRequested(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "run_id")
	stop, err := s.controller.IsStopRequested(r.Context(), runID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"run_id": runID, "stop_requested": stop})
}

func (s *Server) handleMarkCompleted(w http.ResponseWriter, r *http.Request) {
	s.updateRunStatus(w, r, store.RunCompleted)
}

func (s *Server) handleMarkFailed(w http.ResponseWriter, r *http.Request) {
	s.updateRunStatus(w, r, store.RunFailed)
}

func (s *Server) handleMarkInterrupted(w http.ResponseWriter, r *http.Request) {
	s.updateRunStatus(w, r, store.RunInterrupted)
}

func (s *Server) updateRunStatus(w http.ResponseWriter, r *http.Request, status store.RunStatus) {
	runID := chi.URLParam(r, "run_id")
	if err := s.store.UpdateRunStatus(r.Context(), runID, status); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"run_id": runID, "status": string(status)})
}

func (s *Server) handleDiscoveringStopped(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "run_id")
	if err := s.controller.DiscoveringStopped(r.Context(), runID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"run_id": runID})
}

func (s *Server) handleResumeRun(w http.ResponseWriter, r *http.Request) {
	// Workers outlive the request
	run, err := s.controller.ResumeRun(context.WithoutCancel(r.Context()), chi.URLParam(r, "run_id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

type queueAddRequest struct {
	RunID string               `json:"run_id"`
	Part  *source.DocumentPart `json:"part"`
}

func (s *Server) handleQueueAdd(w http.ResponseWriter, r *http.Request) {
	var req queueAddRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.RunID == "" || req.Part == nil {
		writeError(w, errors.Validation("run_id and part are required"))
		return
	}
	if err := s.store.EnqueuePart(r.Context(), req.RunID, req.Part); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"run_id": req.RunID})
}

// handleQueueNext peeks at the head of a run's queue. An empty queue
// is a 404 so pollers can tell "nothing yet" without decoding a body.
func (s *Server) handleQueueNext(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "run_id")
	entry, err := s.store.NextQueued(r.Context(), runID)
	if err != nil {
		writeError(w, err)
		return
	}
	if entry == nil {
		writeError(w, errors.NotFound("queue for run %s is empty", runID))
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (s *Server) handleIngestPart(w http.ResponseWriter, r *http.Request) {
	var req queueAddRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.RunID == "" || req.Part == nil {
		writeError(w, errors.Validation("run_id and part are required"))
		return
	}
	skipped, err := s.controller.ProcessPart(r.Context(), req.RunID, req.Part)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"accepted":         true,
		"skipped":          skipped,
		"document_part_id": req.Part.DocumentPartID,
	})
}

type searchRequest struct {
	Query string `json:"query"`
	TopK  int    `json:"top_k"`
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	hits, err := s.searcher.Search(r.Context(), req.Query, req.TopK)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": hits})
}

// handleAddSource registers a scope for on-demand rescans. The same
// canonical scope twice is a conflict.
func (s *Server) handleAddSource(w http.ResponseWriter, r *http.Request) {
	var raw json.RawMessage
	if err := decodeBody(r, &raw); err != nil {
		writeError(w, err)
		return
	}
	sc, err := s.scopes.Decode(raw)
	if err != nil {
		writeError(w, err)
		return
	}
	canonical, err := sc.CanonicalJSON()
	if err != nil {
		writeError(w, err)
		return
	}
	src, err := s.store.AddMonitoredSource(r.Context(), sc.Kind(), sc.Locator(), string(canonical))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, src)
}

func (s *Server) handleListSources(w http.ResponseWriter, r *http.Request) {
	sources, err := s.store.ListMonitoredSources(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sources": sources})
}

func (s *Server) handleScanSource(w http.ResponseWriter, r *http.Request) {
	src, err := s.store.GetMonitoredSource(r.Context(), chi.URLParam(r, "source_id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if !src.Enabled {
		writeError(w, errors.Conflict("source %s is disabled", src.ID))
		return
	}
	run, err := s.scanSource(r, src)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, run)
}

func (s *Server) handleScanAll(w http.ResponseWriter, r *http.Request) {
	sources, err := s.store.ListMonitoredSources(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	var runs []*store.Run
	for _, src := range sources {
		if !src.Enabled {
			continue
		}
		run, err := s.scanSource(r, src)
		if err != nil {
			s.logger.Error("source_scan_failed", "source_id", src.ID, "error", err)
			continue
		}
		runs = append(runs, run)
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"runs": runs})
}

// scanSource kicks off a full run for a monitored source. Workers run
// in the background; the response carries the fresh run.
func (s *Server) scanSource(r *http.Request, src *store.MonitoredSource) (*store.Run, error) {
	sc, err := s.scopes.Decode([]byte(src.ScopeJSON))
	if err != nil {
		return nil, err
	}

	// Workers outlive the request
	ctx := r.Context()
	run, err := s.controller.CreateRun(context.WithoutCancel(ctx), sc)
	if err != nil {
		return nil, err
	}
	if err := s.controller.StartIndexing(context.WithoutCancel(ctx), run.ID); err != nil {
		return nil, err
	}

	fingerprint, err := sc.Hash()
	if err == nil {
		if err := s.store.TouchMonitoredSource(ctx, src.ID, fingerprint, true); err != nil {
			s.logger.Warn("source_touch_failed", "source_id", src.ID, "error", err)
		}
	}
	return run, nil
}
