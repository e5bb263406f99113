// Package handler serves the examforge JSON API.
package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/pavelanni/examforge/internal/compose"
	appI18n "github.com/pavelanni/examforge/internal/i18n"
	"github.com/pavelanni/examforge/internal/ingest"
	"github.com/pavelanni/examforge/internal/metrics"
	"github.com/pavelanni/examforge/internal/model"
	"github.com/pavelanni/examforge/internal/scoring"
	"github.com/pavelanni/examforge/internal/session"
	"github.com/pavelanni/examforge/internal/store"
)

// maxUploadBytes bounds a request body.
const maxUploadBytes = 32 << 20

var (
	errNotFound   = errors.New("not found")
	errBadRequest = errors.New("bad request")
)

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	store    *store.Store
	engine   *scoring.Engine
	sessions *session.Manager
	ingest   *ingest.Extractor

	mu       sync.Mutex // guards composer
	composer *compose.Composer
}

// New creates a new Handler.
func New(s *store.Store, c *compose.Composer, e *scoring.Engine, m *session.Manager, x *ingest.Extractor) (*Handler, error) {
	if s == nil || c == nil || e == nil || m == nil || x == nil {
		return nil, errors.New("handler: all dependencies are required")
	}
	return &Handler{store: s, composer: c, engine: e, sessions: m, ingest: x}, nil
}

// Router returns the full API router with logging, recovery, metrics and
// language negotiation. lang is the fallback language.
func (h *Handler) Router(lang string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)
	r.Use(appI18n.Middleware(lang))

	r.Get("/health", h.handleHealth)
	r.Handle("/metrics", metrics.Handler())
	h.Routes(r)
	return r
}

// Routes registers all API routes.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/documents", func(r chi.Router) {
		r.Get("/", h.handleListDocuments)
		r.Put("/{kind}", h.handlePutDocument)
		r.Delete("/{kind}", h.handleDeleteDocument)
	})

	r.Route("/papers", func(r chi.Router) {
		r.Post("/", h.handleComposePaper)
		r.Get("/", h.handleListPapers)
		r.Post("/import", h.handleImportPaper)
		r.Route("/{paperID}", func(r chi.Router) {
			r.Get("/", h.handleGetPaper)
			r.Get("/text", h.handlePaperText)
			r.Get("/key", h.handlePaperKey)
			r.Post("/evaluations", h.handleEvaluate)
			r.Get("/evaluations", h.handleListEvaluations)
		})
	})

	r.Route("/feedback", func(r chi.Router) {
		r.Post("/", h.handleStartFeedback)
		r.Route("/{sessionID}", func(r chi.Router) {
			r.Get("/", h.handleGetFeedback)
			r.Post("/chat", h.handleChat)
			r.Delete("/", h.handleCloseFeedback)
		})
	})
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Ping(); err != nil {
		slog.Error("health check failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	version, err := h.store.GetMetadata("schema_version")
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "schema_version": version})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}

type errorResponse struct {
	Error     string `json:"error"`
	Retryable bool   `json:"retryable,omitempty"`
	Field     string `json:"field,omitempty"`
}

func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	resp := errorResponse{Error: err.Error()}

	var cfgErr *model.InvalidConfigError
	var extErr *model.ExternalServiceError
	switch {
	case errors.As(err, &cfgErr):
		resp.Field = cfgErr.Field
	case errors.As(err, &extErr):
		resp.Retryable = extErr.Retryable()
		slog.Warn("external service failure", "service", extErr.Service, "op", extErr.Op, "error", extErr.Err, "trace", extErr.Trace)
	}
	if status >= http.StatusInternalServerError && status != http.StatusBadGateway {
		slog.Error("request failed", "error", err)
	}
	writeJSON(w, status, resp)
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	var (
		cfgErr     *model.InvalidConfigError
		ingErr     *model.IngestionError
		extErr     *model.ExternalServiceError
		sessionErr *model.UnknownSessionError
		tooLarge   *http.MaxBytesError
	)
	switch {
	case errors.As(err, &cfgErr), errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	case errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.As(err, &ingErr):
		return http.StatusUnprocessableEntity
	case errors.As(err, &extErr):
		return http.StatusBadGateway
	case errors.As(err, &sessionErr), errors.Is(err, errNotFound):
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

func decodeJSON(r *http.Request, w http.ResponseWriter, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return err
		}
		return fmt.Errorf("decode request body: %v: %w", err, errBadRequest)
	}
	return nil
}

func paperID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "paperID"), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid paper ID: %w", errBadRequest)
	}
	return id, nil
}
