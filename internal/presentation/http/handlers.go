// Package http provides the HTTP REST API of the admission service.
package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/gsoc2/novu/internal/domain"
	"github.com/gsoc2/novu/internal/health"
)

// RateLimiter evaluates and resets token buckets.
type RateLimiter interface {
	Evaluate(ctx context.Context, organizationID, environmentID string, category domain.Category) (domain.Decision, error)
	ResetEnvironment(ctx context.Context, environmentID string) (int, error)
}

// WorkerController pauses and resumes the background workers.
type WorkerController interface {
	Pause(ctx context.Context) error
	Enable(ctx context.Context) error
	Ready() bool
}

// HealthChecker aggregates dependency health.
type HealthChecker interface {
	Check(ctx context.Context) health.Report
}

// Handler provides the HTTP handlers.
type Handler struct {
	limiter  RateLimiter
	workers  WorkerController
	health   HealthChecker
	logger   *slog.Logger
	validate *validator.Validate
	now      func() time.Time
}

// NewHandler creates a handler.
func NewHandler(limiter RateLimiter, workers WorkerController, healthChecker HealthChecker, logger *slog.Logger) *Handler {
	return &Handler{
		limiter:  limiter,
		workers:  workers,
		health:   healthChecker,
		logger:   logger,
		validate: validator.New(),
		now:      time.Now,
	}
}

// EvaluateRequest is the body of POST /v1/rate-limits/evaluate.
type EvaluateRequest struct {
	OrganizationID string `json:"organizationId" validate:"required"`
	EnvironmentID  string `json:"environmentId" validate:"required"`
	Category       string `json:"category" validate:"required,oneof=trigger configuration global"`
}

// StatusResponse is returned by state changing admin routes and probes.
type StatusResponse struct {
	Status string `json:"status"`
}

// ResetResponse is returned by DELETE /admin/rate-limits/{environmentId}.
type ResetResponse struct {
	EnvironmentID string `json:"environmentId"`
	Deleted       int    `json:"deleted"`
}

// Evaluate handles POST /v1/rate-limits/evaluate.
func (h *Handler) Evaluate(w http.ResponseWriter, r *http.Request) {
	var req EvaluateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, r, "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		WriteBadRequest(w, r, err.Error())
		return
	}

	decision, err := h.limiter.Evaluate(r.Context(), req.OrganizationID, req.EnvironmentID, domain.Category(req.Category))
	if err != nil {
		WriteError(w, r, err)
		return
	}

	now := h.now()
	reset := decision.RetryAfter(now)
	w.Header().Set("RateLimit-Limit", strconv.Itoa(decision.Limit))
	w.Header().Set("RateLimit-Remaining", strconv.Itoa(decision.Remaining))
	w.Header().Set("RateLimit-Reset", strconv.Itoa(int(reset.Seconds())))

	if !decision.Allowed {
		w.Header().Set("Retry-After", strconv.Itoa(int(reset.Seconds())))
		writeJSON(w, http.StatusTooManyRequests, decision)
		return
	}
	writeJSON(w, http.StatusOK, decision)
}

// Health handles GET /health.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	report := h.health.Check(r.Context())
	status := http.StatusOK
	if !report.Healthy() {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, report)
}

// Ready handles GET /ready.
func (h *Handler) Ready(w http.ResponseWriter, _ *http.Request) {
	if !h.workers.Ready() {
		writeJSON(w, http.StatusServiceUnavailable, StatusResponse{Status: "not_ready"})
		return
	}
	writeJSON(w, http.StatusOK, StatusResponse{Status: "ready"})
}

// PauseWorkers handles POST /admin/workers/pause.
func (h *Handler) PauseWorkers(w http.ResponseWriter, r *http.Request) {
	if err := h.workers.Pause(r.Context()); err != nil {
		WriteError(w, r, err)
		return
	}
	h.logAdmin(r, "workers paused")
	writeJSON(w, http.StatusOK, StatusResponse{Status: "paused"})
}

// ResumeWorkers handles POST /admin/workers/resume.
func (h *Handler) ResumeWorkers(w http.ResponseWriter, r *http.Request) {
	if err := h.workers.Enable(r.Context()); err != nil {
		WriteError(w, r, err)
		return
	}
	h.logAdmin(r, "workers resumed")
	writeJSON(w, http.StatusOK, StatusResponse{Status: "running"})
}

// ResetRateLimits handles DELETE /admin/rate-limits/{environmentId}.
func (h *Handler) ResetRateLimits(w http.ResponseWriter, r *http.Request) {
	environmentID := chi.URLParam(r, "environmentId")
	if environmentID == "" {
		WriteBadRequest(w, r, "environmentId is required")
		return
	}

	deleted, err := h.limiter.ResetEnvironment(r.Context(), environmentID)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	h.logAdmin(r, "rate limits reset",
		slog.String("environment_id", environmentID),
		slog.Int("deleted", deleted))
	writeJSON(w, http.StatusOK, ResetResponse{EnvironmentID: environmentID, Deleted: deleted})
}

func (h *Handler) logAdmin(r *http.Request, msg string, attrs ...any) {
	if claims, ok := ClaimsFromContext(r.Context()); ok {
		attrs = append(attrs, slog.String("subject", claims.Subject))
	}
	h.logger.InfoContext(r.Context(), msg, attrs...)
}
