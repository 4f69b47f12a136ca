// Package api provides HTTP handlers for the operator API.
//
// The operator API exposes deployment runs and the approval gate: a
// protected run parks in await_approval until an operator posts an
// approve or reject decision here.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/stackform/stackform/internal/core/rollout"
	"github.com/stackform/stackform/internal/shell/pipeline"
	"github.com/stackform/stackform/internal/shell/store"
)

// =============================================================================
// Handler
// =============================================================================

// Handler provides HTTP handlers for the operator API.
type Handler struct {
	store  store.Store
	gate   *pipeline.Gate
	logger *slog.Logger
}

// NewHandler creates a new operator API handler.
func NewHandler(s store.Store, g *pipeline.Gate, l *slog.Logger) *Handler {
	if l == nil {
		l = slog.Default()
	}
	return &Handler{
		store:  s,
		gate:   g,
		logger: l.With("component", "api"),
	}
}

// Routes returns the router with all routes configured.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(h.jsonContentType)

	// Health endpoint
	r.Get("/health", h.handleHealth)

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/runs", func(r chi.Router) {
			r.Get("/", h.handleListRuns)
			r.Get("/{id}", h.handleGetRun)
			r.Post("/{id}/approve", h.handleApprove)
			r.Post("/{id}/reject", h.handleReject)
		})
	})

	return r
}

// =============================================================================
// Middleware
// =============================================================================

// jsonContentType sets Content-Type header to application/json.
func (h *Handler) jsonContentType(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

// =============================================================================
// Response types
// =============================================================================

// HealthResponse is the health endpoint response.
type HealthResponse struct {
	Status string `json:"status"`
}

// ErrorResponse is the error response body.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// RunListResponse wraps a list of runs.
type RunListResponse struct {
	Runs  []rollout.Run `json:"runs"`
	Total int           `json:"total"`
}

// DecisionResponse is returned after an approval decision is delivered.
type DecisionResponse struct {
	RunID    string           `json:"run_id"`
	Decision rollout.Decision `json:"decision"`
}

// =============================================================================
// Handlers
// =============================================================================

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, HealthResponse{Status: "healthy"})
}

func (h *Handler) handleListRuns(w http.ResponseWriter, r *http.Request) {
	environment := r.URL.Query().Get("environment")

	runs, err := h.store.ListRuns(r.Context(), environment)
	if err != nil {
		h.logger.Error("failed to list runs", "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to list runs", "internal_error")
		return
	}

	h.writeJSON(w, http.StatusOK, RunListResponse{Runs: runs, Total: len(runs)})
}

func (h *Handler) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	run, err := h.store.GetRun(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			h.writeError(w, http.StatusNotFound, "run not found", "run_not_found")
			return
		}
		h.logger.Error("failed to get run", "run_id", id, "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to get run", "internal_error")
		return
	}

	h.writeJSON(w, http.StatusOK, run)
}

func (h *Handler) handleApprove(w http.ResponseWriter, r *http.Request) {
	h.handleDecision(w, r, rollout.DecisionApproved)
}

func (h *Handler) handleReject(w http.ResponseWriter, r *http.Request) {
	h.handleDecision(w, r, rollout.DecisionRejected)
}

// handleDecision delivers an approval decision to the gate. The run must be
// parked in await_approval with a live waiter, otherwise the decision is
// rejected with a conflict.
func (h *Handler) handleDecision(w http.ResponseWriter, r *http.Request, d rollout.Decision) {
	id := chi.URLParam(r, "id")

	run, err := h.store.GetRun(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			h.writeError(w, http.StatusNotFound, "run not found", "run_not_found")
			return
		}
		h.logger.Error("failed to get run", "run_id", id, "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to get run", "internal_error")
		return
	}

	if run.Stage != rollout.StageAwaitApproval {
		h.writeError(w, http.StatusConflict, "run is not awaiting approval", "not_awaiting_approval")
		return
	}

	if err := h.gate.Deliver(id, d); err != nil {
		if errors.Is(err, pipeline.ErrNoPendingRun) {
			h.writeError(w, http.StatusConflict, "no pending decision for run", "no_pending_run")
			return
		}
		h.logger.Error("failed to deliver decision", "run_id", id, "decision", d, "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to deliver decision", "internal_error")
		return
	}

	h.logger.Info("approval decision delivered", "run_id", id, "decision", d)
	h.writeJSON(w, http.StatusOK, DecisionResponse{RunID: id, Decision: d})
}

// =============================================================================
// Helpers
// =============================================================================

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("failed to encode JSON", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message, code string) {
	h.writeJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}
