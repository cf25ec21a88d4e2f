// Package readiness gates background workers on the health of their
// downstream dependencies.
package readiness

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"github.com/gsoc2/novu/internal/domain"
	"golang.org/x/sync/errgroup"
)

const (
	// DefaultRetries is the number of probe attempts before giving up.
	DefaultRetries = 10
	// DefaultDelay is the fixed wait between probe attempts.
	DefaultDelay = 5000 * time.Millisecond
)

// HealthIndicator reports the health of one dependency.
type HealthIndicator interface {
	Name() string
	IsHealthy(ctx context.Context) (bool, error)
}

// Worker is a pausable job consumer. Pause and Resume are no-ops when the
// worker is already in the target state.
type Worker interface {
	Topic() string
	Pause(ctx context.Context) error
	Resume(ctx context.Context) error
}

// MetricsRecorder receives probe and worker transition outcomes.
type MetricsRecorder interface {
	RecordProbeAttempt(healthy bool)
	RecordReadiness(ready bool)
	RecordWorkerTransition(topic, operation string, err error)
}

// Gatekeeper decides whether workers may consume jobs.
type Gatekeeper struct {
	indicators []HealthIndicator
	retries    int
	delay      time.Duration
	logger     *slog.Logger
	metrics    MetricsRecorder

	ready     atomic.Bool
	mu        sync.Mutex
	listeners []func(ready bool)
}

// Option configures a Gatekeeper.
type Option func(*Gatekeeper)

// WithRetries sets the total number of probe attempts.
func WithRetries(n int) Option {
	return func(g *Gatekeeper) {
		if n > 0 {
			g.retries = n
		}
	}
}

// WithDelay sets the fixed delay between probe attempts.
func WithDelay(d time.Duration) Option {
	return func(g *Gatekeeper) {
		if d >= 0 {
			g.delay = d
		}
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m MetricsRecorder) Option {
	return func(g *Gatekeeper) { g.metrics = m }
}

// WithStateListener registers fn to be called with every probe outcome.
func WithStateListener(fn func(ready bool)) Option {
	return func(g *Gatekeeper) { g.listeners = append(g.listeners, fn) }
}

// NewGatekeeper creates a gatekeeper over a fixed set of indicators.
func NewGatekeeper(indicators []HealthIndicator, logger *slog.Logger, opts ...Option) *Gatekeeper {
	g := &Gatekeeper{
		indicators: indicators,
		retries:    DefaultRetries,
		delay:      DefaultDelay,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// OnStateChange registers fn to be called with every probe outcome.
func (g *Gatekeeper) OnStateChange(fn func(ready bool)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.listeners = append(g.listeners, fn)
}

// Ready returns the outcome of the last completed probe.
func (g *Gatekeeper) Ready() bool {
	return g.ready.Load()
}

// AreQueuesEnabled probes every indicator until all report healthy or the
// attempt budget is spent, waiting a fixed delay between attempts. It blocks
// for at most retries × delay. The only error is ctx being done.
func (g *Gatekeeper) AreQueuesEnabled(ctx context.Context) (bool, error) {
	policy := retrypolicy.Builder[bool]().
		HandleResult(false).
		WithMaxAttempts(g.retries).
		WithDelay(g.delay).
		ReturnLastFailure().
		OnRetryScheduled(func(event failsafe.ExecutionScheduledEvent[bool]) {
			g.logger.DebugContext(ctx, "readiness probe retry scheduled",
				slog.Int("attempt", event.Attempts()),
				slog.Duration("delay", event.Delay))
		}).
		Build()

	ready, err := failsafe.NewExecutor[bool](policy).
		WithContext(ctx).
		GetWithExecution(func(exec failsafe.Execution[bool]) (bool, error) {
			attempt := exec.Attempts()
			healthy := g.probe(ctx)
			if g.metrics != nil {
				g.metrics.RecordProbeAttempt(healthy)
			}
			if !healthy {
				g.logger.WarnContext(ctx, fmt.Sprintf("queues are not ready, attempt %d/%d", attempt, g.retries),
					slog.Int("attempt", attempt),
					slog.Int("retries", g.retries))
			}
			return healthy, nil
		})
	if err != nil {
		g.setReady(false)
		return false, err
	}

	g.setReady(ready)
	return ready, nil
}

// PauseWorkers pauses workers one at a time in order. The first failure is
// logged and returned; later workers are left untouched and earlier ones stay paused.
func (g *Gatekeeper) PauseWorkers(ctx context.Context, workers []Worker) error {
	for _, w := range workers {
		err := w.Pause(ctx)
		g.recordTransition(w.Topic(), "pause", err)
		if err != nil {
			g.logger.ErrorContext(ctx, "failed to pause worker",
				slog.String("topic", w.Topic()),
				slog.String("error", err.Error()))
			return domain.WrapError(domain.ErrWorkerOperationFailed,
				fmt.Sprintf("failed to pause worker %s", w.Topic()), err)
		}
		g.logger.InfoContext(ctx, "worker paused", slog.String("topic", w.Topic()))
	}
	return nil
}

// EnableWorkers resumes workers one at a time in order once the queues are
// enabled. When the probe fails no worker is resumed. The first resume
// failure is logged and returned; later workers are left untouched.
func (g *Gatekeeper) EnableWorkers(ctx context.Context, workers []Worker) error {
	ready, err := g.AreQueuesEnabled(ctx)
	if err != nil {
		return domain.WrapError(domain.ErrQueuesNotReady, "queues are not enabled", err)
	}
	if !ready {
		g.logger.ErrorContext(ctx, "queues are not enabled, workers stay paused",
			slog.Int("workers", len(workers)))
		return domain.WrapError(domain.ErrQueuesNotReady, "queues are not enabled", nil)
	}

	for _, w := range workers {
		err := w.Resume(ctx)
		g.recordTransition(w.Topic(), "resume", err)
		if err != nil {
			g.logger.ErrorContext(ctx, "failed to resume worker",
				slog.String("topic", w.Topic()),
				slog.String("error", err.Error()))
			return domain.WrapError(domain.ErrWorkerOperationFailed,
				fmt.Sprintf("failed to resume worker %s", w.Topic()), err)
		}
		g.logger.InfoContext(ctx, "worker resumed", slog.String("topic", w.Topic()))
	}
	return nil
}

// probe queries every indicator concurrently. An indicator error counts as unhealthy.
func (g *Gatekeeper) probe(ctx context.Context) bool {
	results := make([]bool, len(g.indicators))

	var eg errgroup.Group
	for i, indicator := range g.indicators {
		i, indicator := i, indicator
		eg.Go(func() error {
			healthy, err := indicator.IsHealthy(ctx)
			if err != nil {
				g.logger.ErrorContext(ctx, "health indicator failed",
					slog.String("indicator", indicator.Name()),
					slog.String("code", domain.CodeHealthProbeFailed.String()),
					slog.String("error", err.Error()))
				return nil
			}
			results[i] = healthy
			return nil
		})
	}
	_ = eg.Wait()

	for _, healthy := range results {
		if !healthy {
			return false
		}
	}
	return true
}

func (g *Gatekeeper) setReady(ready bool) {
	g.ready.Store(ready)
	if g.metrics != nil {
		g.metrics.RecordReadiness(ready)
	}

	g.mu.Lock()
	listeners := append([]func(bool){}, g.listeners...)
	g.mu.Unlock()

	for _, fn := range listeners {
		fn(ready)
	}
}

func (g *Gatekeeper) recordTransition(topic, operation string, err error) {
	if g.metrics != nil {
		g.metrics.RecordWorkerTransition(topic, operation, err)
	}
}
