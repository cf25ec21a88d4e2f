package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RouterConfig holds router configuration.
type RouterConfig struct {
	// Auth guards the admin routes. Nil leaves them unmounted.
	Auth           *AuthMiddleware
	Gatherer       prometheus.Gatherer
	Logger         *slog.Logger
	RequestTimeout time.Duration
}

// NewRouter creates the HTTP router.
func NewRouter(h *Handler, cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger(cfg.Logger))
	r.Use(middleware.Recoverer)
	if cfg.RequestTimeout > 0 {
		r.Use(middleware.Timeout(cfg.RequestTimeout))
	}

	r.Get("/health", h.Health)
	r.Get("/ready", h.Ready)
	if cfg.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Post("/v1/rate-limits/evaluate", h.Evaluate)

	if cfg.Auth != nil {
		r.Route("/admin", func(r chi.Router) {
			r.Use(cfg.Auth.Authenticate)

			r.With(cfg.Auth.RequireScope(ScopeWorkersWrite)).Post("/workers/pause", h.PauseWorkers)
			r.With(cfg.Auth.RequireScope(ScopeWorkersWrite)).Post("/workers/resume", h.ResumeWorkers)
			r.With(cfg.Auth.RequireScope(ScopeRateLimitsWrite)).Delete("/rate-limits/{environmentId}", h.ResetRateLimits)
		})
	}

	return r
}

// RequestLogger logs one line per request.
func RequestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)

			if logger == nil {
				return
			}
			logger.InfoContext(r.Context(), "http request",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", ww.Status()),
				slog.Int("bytes", ww.BytesWritten()),
				slog.Duration("duration", time.Since(start)),
				slog.String("request_id", middleware.GetReqID(r.Context())))
		})
	}
}
