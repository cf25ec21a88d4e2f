// Package worker runs pausable job consumers over Kafka or RabbitMQ.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ErrWorkerClosed is returned by Pause and Resume after Shutdown.
var ErrWorkerClosed = errors.New("worker is shut down")

// Handler processes one job. A non-nil error sends the job to Source.Retry.
type Handler func(ctx context.Context, job *Job) error

// MetricsRecorder receives job outcomes and state changes.
type MetricsRecorder interface {
	RecordJob(topic, outcome string, duration time.Duration)
	RecordWorkerState(topic string, paused bool)
}

type state int

const (
	statePaused state = iota
	stateRunning
	stateClosed
)

const fetchErrorBackoff = time.Second

// Worker pulls jobs from a Source and runs Handler on them with bounded
// concurrency. It is created paused.
type Worker struct {
	topic       string
	source      Source
	handler     Handler
	logger      *slog.Logger
	metrics     MetricsRecorder
	limiter     *rate.Limiter
	concurrency int

	mu       sync.Mutex
	state    state
	cancel   context.CancelFunc
	loopDone chan struct{}
	inflight *inFlight
}

// Option configures a Worker.
type Option func(*Worker)

// WithConcurrency bounds the number of jobs processed at once.
func WithConcurrency(n int) Option {
	return func(w *Worker) {
		if n > 0 {
			w.concurrency = n
		}
	}
}

// WithRateLimit caps job starts to perSecond with the given burst. Zero disables the cap.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(w *Worker) {
		if perSecond > 0 {
			w.limiter = rate.NewLimiter(rate.Limit(perSecond), max(burst, 1))
		}
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m MetricsRecorder) Option {
	return func(w *Worker) { w.metrics = m }
}

// New creates a paused worker.
func New(topic string, source Source, handler Handler, logger *slog.Logger, opts ...Option) *Worker {
	w := &Worker{
		topic:       topic,
		source:      source,
		handler:     handler,
		logger:      logger.With(slog.String("topic", topic)),
		concurrency: 1,
		inflight:    newInFlight(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Topic returns the queue name the worker consumes.
func (w *Worker) Topic() string {
	return w.topic
}

// Paused reports whether the worker is not fetching jobs.
func (w *Worker) Paused() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state != stateRunning
}

// Resume starts fetching jobs. Resuming a running worker is a no-op.
func (w *Worker) Resume(context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	switch w.state {
	case stateClosed:
		return ErrWorkerClosed
	case stateRunning:
		return nil
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	w.cancel = cancel
	w.loopDone = done
	w.state = stateRunning
	go w.run(loopCtx, done)

	w.recordState(false)
	w.logger.Info("worker resumed")
	return nil
}

// Pause stops fetching and waits until in-flight jobs finish or ctx is done.
// Pausing a paused worker waits on the same drain, so every caller returns
// only once the worker is idle.
func (w *Worker) Pause(ctx context.Context) error {
	w.mu.Lock()
	stopping := w.state == stateRunning
	switch w.state {
	case stateClosed:
		w.mu.Unlock()
		return ErrWorkerClosed
	case stateRunning:
		w.cancel()
		w.state = statePaused
		w.recordState(true)
	}
	done := w.loopDone
	w.mu.Unlock()

	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
			return fmt.Errorf("worker %s paused before its fetch loop stopped: %w", w.topic, ctx.Err())
		}
	}

	if err := w.inflight.wait(ctx); err != nil {
		return fmt.Errorf("worker %s paused with %d jobs in flight: %w", w.topic, w.inflight.len(), err)
	}
	if stopping {
		w.logger.Info("worker paused")
	}
	return nil
}

// Shutdown pauses the worker for good and closes its source.
func (w *Worker) Shutdown(ctx context.Context) error {
	pauseErr := w.Pause(ctx)
	if errors.Is(pauseErr, ErrWorkerClosed) {
		return nil
	}

	w.mu.Lock()
	w.state = stateClosed
	w.mu.Unlock()

	return errors.Join(pauseErr, w.source.Close())
}

func (w *Worker) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	slots := make(chan struct{}, w.concurrency)

	for {
		if w.limiter != nil {
			if err := w.limiter.Wait(ctx); err != nil {
				return
			}
		}

		select {
		case slots <- struct{}{}:
		case <-ctx.Done():
			return
		}

		job, err := w.source.Fetch(ctx)
		if err != nil {
			<-slots
			if ctx.Err() != nil || errors.Is(err, ErrSourceClosed) {
				return
			}
			w.logger.Error("failed to fetch job", slog.String("error", err.Error()))
			select {
			case <-time.After(fetchErrorBackoff):
				continue
			case <-ctx.Done():
				return
			}
		}

		w.inflight.start()
		go func() {
			defer func() {
				<-slots
				w.inflight.finish()
			}()
			w.process(job)
		}()
	}
}

func (w *Worker) process(job *Job) {
	ctx := context.Background()
	start := time.Now()

	err := w.invoke(ctx, job)
	outcome := "completed"
	if err != nil {
		outcome = "failed"
		w.logger.Warn("job failed",
			slog.String("job_id", job.ID),
			slog.Int("attempt", job.Attempt),
			slog.String("error", err.Error()))
		if retryErr := w.source.Retry(ctx, job, err); retryErr != nil {
			w.logger.Error("failed to retry job",
				slog.String("job_id", job.ID),
				slog.String("error", retryErr.Error()))
		}
	} else if ackErr := w.source.Ack(ctx, job); ackErr != nil {
		w.logger.Error("failed to ack job",
			slog.String("job_id", job.ID),
			slog.String("error", ackErr.Error()))
	}

	if w.metrics != nil {
		w.metrics.RecordJob(w.topic, outcome, time.Since(start))
	}
}

func (w *Worker) invoke(ctx context.Context, job *Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job handler panicked: %v", r)
		}
	}()
	return w.handler(ctx, job)
}

func (w *Worker) recordState(paused bool) {
	if w.metrics != nil {
		w.metrics.RecordWorkerState(w.topic, paused)
	}
}
