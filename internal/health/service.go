package health

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gsoc2/novu/internal/readiness"
)

// Status is the health of one component or of the whole service.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
)

// ComponentHealth is the result of one indicator.
type ComponentHealth struct {
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
}

// Report aggregates every indicator.
type Report struct {
	Status     Status                     `json:"status"`
	Components map[string]ComponentHealth `json:"components"`
	Timestamp  time.Time                  `json:"timestamp"`
}

// Healthy reports whether every component is healthy.
func (r Report) Healthy() bool {
	return r.Status == StatusHealthy
}

// Service runs indicators concurrently and aggregates their results.
type Service struct {
	indicators []readiness.HealthIndicator
	timeout    time.Duration
	logger     *slog.Logger
}

// NewService creates a health service with a per-indicator timeout.
func NewService(indicators []readiness.HealthIndicator, timeout time.Duration, logger *slog.Logger) *Service {
	return &Service{
		indicators: indicators,
		timeout:    timeout,
		logger:     logger,
	}
}

// Check runs every indicator once.
func (s *Service) Check(ctx context.Context) Report {
	type result struct {
		name   string
		health ComponentHealth
	}

	results := make(chan result, len(s.indicators))
	var wg sync.WaitGroup

	for _, indicator := range s.indicators {
		wg.Add(1)
		go func(ind readiness.HealthIndicator) {
			defer wg.Done()

			checkCtx, cancel := context.WithTimeout(ctx, s.timeout)
			defer cancel()

			healthy, err := ind.IsHealthy(checkCtx)
			switch {
			case err != nil:
				results <- result{ind.Name(), ComponentHealth{Status: StatusUnhealthy, Message: err.Error()}}
			case !healthy:
				results <- result{ind.Name(), ComponentHealth{Status: StatusUnhealthy}}
			default:
				results <- result{ind.Name(), ComponentHealth{Status: StatusHealthy}}
			}
		}(indicator)
	}

	wg.Wait()
	close(results)

	report := Report{
		Status:     StatusHealthy,
		Components: make(map[string]ComponentHealth, len(s.indicators)),
		Timestamp:  time.Now().UTC(),
	}
	unhealthy := 0
	for r := range results {
		report.Components[r.name] = r.health
		if r.health.Status != StatusHealthy {
			report.Status = StatusUnhealthy
			unhealthy++
		}
	}

	s.logger.DebugContext(ctx, "health check completed",
		slog.String("overall_status", string(report.Status)),
		slog.Int("total_components", len(s.indicators)),
		slog.Int("unhealthy_components", unhealthy))

	return report
}
