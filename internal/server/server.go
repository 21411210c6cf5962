// Package server exposes the local HTTP control surface. Handlers are a thin
// translation layer: every rule lives in the services underneath.
package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/Katie1225/voicevault/internal/capture"
	"github.com/Katie1225/voicevault/internal/catalog"
	"github.com/Katie1225/voicevault/internal/config"
	"github.com/Katie1225/voicevault/internal/orchestrator"
	"github.com/Katie1225/voicevault/internal/quota"
	"github.com/Katie1225/voicevault/pkg/models"
)

// QuotaView is the server's window onto the quota ledger.
type QuotaView interface {
	Snapshot() models.QuotaAccount
	GrantBonus(ctx context.Context) error
}

// Service is the HTTP service.
type Service struct {
	version  string
	catalog  *catalog.Catalog
	orch     *orchestrator.Orchestrator
	recorder *capture.Recorder
	quota    QuotaView
	cfg      *config.Config
	events   *Broadcaster
	router   chi.Router
}

// New creates the Service and mounts its routes.
func New(version string, cat *catalog.Catalog, orch *orchestrator.Orchestrator, rec *capture.Recorder, q QuotaView, cfg *config.Config) *Service {
	s := &Service{
		version:  version,
		catalog:  cat,
		orch:     orch,
		recorder: rec,
		quota:    q,
		cfg:      cfg,
		events:   NewBroadcaster(),
		router:   chi.NewRouter(),
	}
	s.setupRoutes()
	return s
}

// Router returns the mounted handler.
func (s *Service) Router() http.Handler { return s.router }

// Events returns the capture event broadcaster.
func (s *Service) Events() *Broadcaster { return s.events }

func (s *Service) setupRoutes() {
	s.router.Use(middleware.Recoverer)

	s.router.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/metrics", s.handleMetrics)
		r.Get("/events", s.events.handleEvents)

		r.Route("/recordings", func(r chi.Router) {
			r.Get("/", s.handleList)
			r.Get("/item", s.handleGet)
			r.Patch("/item", s.handlePatch)
			r.Delete("/item", s.handleDelete)
			r.Post("/delete", s.handleDeleteBatch)
		})

		r.Route("/operations", func(r chi.Router) {
			r.Post("/trim", s.handleTrim)
			r.Post("/enhance", s.handleEnhance)
			r.Post("/segment", s.handleSegment)
			r.Post("/transcribe", s.handleTranscribe)
			r.Post("/summarize", s.handleSummarize)
		})

		r.Route("/quota", func(r chi.Router) {
			r.Get("/", s.handleQuota)
			r.Post("/gift", s.handleGift)
		})

		r.Route("/capture", func(r chi.Router) {
			r.Get("/", s.handleCaptureStatus)
			r.Post("/start", s.handleCaptureStart)
			r.Post("/stop", s.handleCaptureStop)
		})
	})
}

func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
		"loaded":  s.catalog.Loaded(),
	})
}

func (s *Service) handleMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.orch.Metrics().Snapshot())
}

func (s *Service) handleList(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	key := catalog.SortKey(r.URL.Query().Get("sort"))
	if key == "" {
		key = catalog.SortNewest
	}
	items := s.catalog.FilterSorted(query, key)
	writeJSON(w, http.StatusOK, map[string]any{
		"recordings": items,
		"total":      len(items),
	})
}

func (s *Service) handleGet(w http.ResponseWriter, r *http.Request) {
	item, err := s.catalog.Get(r.URL.Query().Get("uri"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

type patchRequest struct {
	DisplayName *string `json:"display_name"`
	Notes       *string `json:"notes"`
	IsStarred   *bool   `json:"is_starred"`
}

func (s *Service) handlePatch(w http.ResponseWriter, r *http.Request) {
	uri := r.URL.Query().Get("uri")
	var req patchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	err := s.catalog.Update(uri, catalog.Patch{
		DisplayName: req.DisplayName,
		Notes:       req.Notes,
		IsStarred:   req.IsStarred,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	item, err := s.catalog.Get(uri)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (s *Service) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.orch.Delete(r.Context(), r.URL.Query().Get("uri")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": 1})
}

type deleteBatchRequest struct {
	URIs []string `json:"uris"`
}

func (s *Service) handleDeleteBatch(w http.ResponseWriter, r *http.Request) {
	var req deleteBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.URIs) == 0 {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := s.orch.DeleteBatch(r.Context(), req.URIs); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": len(req.URIs)})
}

func (s *Service) handleTrim(w http.ResponseWriter, r *http.Request) {
	df, err := s.orch.Trim(r.Context(), r.URL.Query().Get("uri"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, df)
}

func (s *Service) handleEnhance(w http.ResponseWriter, r *http.Request) {
	df, err := s.orch.Enhance(r.Context(), r.URL.Query().Get("uri"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, df)
}

type segmentRequest struct {
	IntervalSec int `json:"interval_sec"`
}

func (s *Service) handleSegment(w http.ResponseWriter, r *http.Request) {
	var req segmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.IntervalSec <= 0 {
		req.IntervalSec = s.cfg.SegmentIntervalSec
	}
	res, err := s.orch.Segment(r.Context(), r.URL.Query().Get("uri"), req.IntervalSec)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"segments":  res.Produced,
		"requested": res.Requested,
		"cached":    res.Cached,
	})
}

func (s *Service) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	text, err := s.orch.Transcribe(r.Context(), r.URL.Query().Get("uri"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"transcript": text})
}

type summarizeRequest struct {
	Mode   string `json:"mode"`
	Prompt string `json:"prompt"`
}

func (s *Service) handleSummarize(w http.ResponseWriter, r *http.Request) {
	var req summarizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Mode == "" {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	summary, err := s.orch.Summarize(r.Context(), r.URL.Query().Get("uri"), req.Mode, req.Prompt)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"summary": summary, "mode": req.Mode})
}

func (s *Service) handleQuota(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.quota.Snapshot())
}

func (s *Service) handleGift(w http.ResponseWriter, r *http.Request) {
	if err := s.quota.GrantBonus(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.quota.Snapshot())
}

func (s *Service) handleCaptureStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"state":       s.recorder.State(),
		"elapsed_sec": s.recorder.Elapsed(),
		"levels":      s.recorder.Levels(),
		"auto_stop":   s.recorder.LastStopWasAuto(),
	})
}

func (s *Service) handleCaptureStart(w http.ResponseWriter, r *http.Request) {
	if err := s.recorder.Start(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	s.events.Broadcast(map[string]any{"type": "capture_started"})
	writeJSON(w, http.StatusOK, map[string]any{"state": s.recorder.State()})
}

func (s *Service) handleCaptureStop(w http.ResponseWriter, r *http.Request) {
	item, err := s.recorder.Stop(true)
	if err != nil {
		writeError(w, err)
		return
	}
	s.events.Broadcast(map[string]any{"type": "capture_stopped"})
	if item == nil {
		// Nothing was recorded (idle stop or an empty capture file).
		writeJSON(w, http.StatusOK, map[string]any{"recording": nil})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"recording": item})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Response encode failed")
	}
}

// writeError maps service errors onto HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	var extErr *models.ExternalError
	switch {
	case errors.Is(err, catalog.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, catalog.ErrNotLoaded):
		status = http.StatusServiceUnavailable
	case errors.Is(err, catalog.ErrDuplicateURI):
		status = http.StatusConflict
	case errors.Is(err, orchestrator.ErrAlreadyInProgress):
		status = http.StatusConflict
	case errors.Is(err, orchestrator.ErrNoTranscript):
		status = http.StatusPreconditionFailed
	case errors.Is(err, quota.ErrInsufficientFunds):
		status = http.StatusPaymentRequired
	case errors.Is(err, quota.ErrAlreadyGifted):
		status = http.StatusConflict
	case errors.Is(err, capture.ErrPermissionDenied):
		status = http.StatusForbidden
	case errors.Is(err, capture.ErrSessionActive):
		status = http.StatusConflict
	case errors.As(err, &extErr):
		status = http.StatusBadGateway
	}
	writeJSON(w, status, map[string]any{"error": err.Error()})
}
