package worker_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gsoc2/novu/internal/testutil"
	"github.com/gsoc2/novu/internal/worker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type chanSource struct {
	jobs chan *worker.Job

	mu      sync.Mutex
	acked   []string
	retried map[string]error
	closed  bool
}

func newChanSource() *chanSource {
	return &chanSource{jobs: make(chan *worker.Job, 64), retried: map[string]error{}}
}

func (s *chanSource) push(ids ...string) {
	for _, id := range ids {
		s.jobs <- &worker.Job{ID: id, Topic: "test", Attempt: 1}
	}
}

func (s *chanSource) Fetch(ctx context.Context) (*worker.Job, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case job, ok := <-s.jobs:
		if !ok {
			return nil, worker.ErrSourceClosed
		}
		return job, nil
	}
}

func (s *chanSource) Ack(_ context.Context, job *worker.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.acked = append(s.acked, job.ID)
	return nil
}

func (s *chanSource) Retry(_ context.Context, job *worker.Job, cause error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.retried[job.ID] = cause
	return nil
}

func (s *chanSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *chanSource) ackedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.acked)
}

func (s *chanSource) retriedErr(id string) (error, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	err, ok := s.retried[id]
	return err, ok
}

type recordingMetrics struct {
	mu       sync.Mutex
	outcomes []string
	states   []bool
}

func (m *recordingMetrics) RecordJob(_, outcome string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcomes = append(m.outcomes, outcome)
}

func (m *recordingMetrics) RecordWorkerState(_ string, paused bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states = append(m.states, paused)
}

func succeed(context.Context, *worker.Job) error { return nil }

func TestWorker_CreatedPaused(t *testing.T) {
	src := newChanSource()
	var handled atomic.Int32
	w := worker.New("test", src, func(context.Context, *worker.Job) error {
		handled.Add(1)
		return nil
	}, testutil.DiscardLogger())

	src.push("a", "b")
	time.Sleep(50 * time.Millisecond)

	assert.True(t, w.Paused())
	assert.Zero(t, handled.Load())
	assert.Equal(t, "test", w.Topic())
}

func TestWorker_ResumeProcessesAndAcks(t *testing.T) {
	src := newChanSource()
	metrics := &recordingMetrics{}
	w := worker.New("test", src, succeed, testutil.DiscardLogger(), worker.WithConcurrency(4), worker.WithMetrics(metrics))

	src.push("a", "b", "c")
	require.NoError(t, w.Resume(context.Background()))
	assert.False(t, w.Paused())

	require.Eventually(t, func() bool { return src.ackedCount() == 3 }, time.Second, 5*time.Millisecond)
	require.NoError(t, w.Pause(context.Background()))

	metrics.mu.Lock()
	defer metrics.mu.Unlock()
	assert.Equal(t, []string{"completed", "completed", "completed"}, metrics.outcomes)
	assert.Equal(t, []bool{false, true}, metrics.states)
}

func TestWorker_PauseAndResumeAreIdempotent(t *testing.T) {
	w := worker.New("test", newChanSource(), succeed, testutil.DiscardLogger())
	ctx := context.Background()

	require.NoError(t, w.Pause(ctx))
	require.NoError(t, w.Resume(ctx))
	require.NoError(t, w.Resume(ctx))
	assert.False(t, w.Paused())
	require.NoError(t, w.Pause(ctx))
	require.NoError(t, w.Pause(ctx))
	assert.True(t, w.Paused())
}

func TestWorker_PauseWaitsForInFlightJobs(t *testing.T) {
	src := newChanSource()
	started := make(chan struct{})
	release := make(chan struct{})
	w := worker.New("test", src, func(context.Context, *worker.Job) error {
		close(started)
		<-release
		return nil
	}, testutil.DiscardLogger())

	src.push("slow")
	require.NoError(t, w.Resume(context.Background()))
	<-started

	paused := make(chan error, 1)
	go func() { paused <- w.Pause(context.Background()) }()

	select {
	case <-paused:
		t.Fatal("pause returned while a job was running")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	select {
	case err := <-paused:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("pause did not return after the job finished")
	}
	assert.Equal(t, 1, src.ackedCount())
}

func TestWorker_PauseHonorsContextWhileDraining(t *testing.T) {
	src := newChanSource()
	started := make(chan struct{})
	release := make(chan struct{})
	defer close(release)
	w := worker.New("test", src, func(context.Context, *worker.Job) error {
		close(started)
		<-release
		return nil
	}, testutil.DiscardLogger())

	src.push("stuck")
	require.NoError(t, w.Resume(context.Background()))
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	err := w.Pause(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.True(t, w.Paused())
}

func TestWorker_EveryPauseCallerWaitsForTheDrain(t *testing.T) {
	src := newChanSource()
	started := make(chan struct{})
	release := make(chan struct{})
	w := worker.New("test", src, func(context.Context, *worker.Job) error {
		close(started)
		<-release
		return nil
	}, testutil.DiscardLogger())

	src.push("slow")
	require.NoError(t, w.Resume(context.Background()))
	<-started

	first := make(chan error, 1)
	go func() { first <- w.Pause(context.Background()) }()
	require.Eventually(t, w.Paused, time.Second, time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	err := w.Pause(ctx)
	require.Error(t, err, "second pause returned while a job was running")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	second := make(chan error, 1)
	go func() { second <- w.Pause(context.Background()) }()
	select {
	case <-second:
		t.Fatal("second pause returned before the job finished")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	for _, ch := range []chan error{first, second} {
		select {
		case err := <-ch:
			require.NoError(t, err)
		case <-time.After(time.Second):
			t.Fatal("pause did not return after the job finished")
		}
	}
	assert.Equal(t, 1, src.ackedCount())
	require.NoError(t, w.Pause(context.Background()))
}

func TestWorker_FailedJobIsRetried(t *testing.T) {
	src := newChanSource()
	boom := errors.New("boom")
	metrics := &recordingMetrics{}
	w := worker.New("test", src, func(context.Context, *worker.Job) error { return boom },
		testutil.DiscardLogger(), worker.WithMetrics(metrics))

	src.push("bad")
	require.NoError(t, w.Resume(context.Background()))
	require.Eventually(t, func() bool {
		_, ok := src.retriedErr("bad")
		return ok
	}, time.Second, 5*time.Millisecond)
	require.NoError(t, w.Pause(context.Background()))

	cause, _ := src.retriedErr("bad")
	assert.ErrorIs(t, cause, boom)
	assert.Zero(t, src.ackedCount())

	metrics.mu.Lock()
	defer metrics.mu.Unlock()
	assert.Equal(t, []string{"failed"}, metrics.outcomes)
}

func TestWorker_PanickingHandlerIsRetried(t *testing.T) {
	src := newChanSource()
	w := worker.New("test", src, func(context.Context, *worker.Job) error { panic("kaboom") },
		testutil.DiscardLogger())

	src.push("panic")
	require.NoError(t, w.Resume(context.Background()))
	require.Eventually(t, func() bool {
		_, ok := src.retriedErr("panic")
		return ok
	}, time.Second, 5*time.Millisecond)
	require.NoError(t, w.Pause(context.Background()))

	cause, _ := src.retriedErr("panic")
	assert.Contains(t, cause.Error(), "kaboom")
}

func TestWorker_ConcurrencyIsBounded(t *testing.T) {
	src := newChanSource()
	var running, peak atomic.Int32
	w := worker.New("test", src, func(context.Context, *worker.Job) error {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		running.Add(-1)
		return nil
	}, testutil.DiscardLogger(), worker.WithConcurrency(3))

	for i := 0; i < 20; i++ {
		src.push(string(rune('a' + i)))
	}
	require.NoError(t, w.Resume(context.Background()))
	require.Eventually(t, func() bool { return src.ackedCount() == 20 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, w.Pause(context.Background()))

	assert.LessOrEqual(t, peak.Load(), int32(3))
	assert.Positive(t, peak.Load())
}

func TestWorker_RateLimitSpacesJobs(t *testing.T) {
	src := newChanSource()
	w := worker.New("test", src, succeed, testutil.DiscardLogger(),
		worker.WithConcurrency(10), worker.WithRateLimit(50, 1))

	src.push("a", "b", "c", "d", "e")
	start := time.Now()
	require.NoError(t, w.Resume(context.Background()))
	require.Eventually(t, func() bool { return src.ackedCount() == 5 }, 2*time.Second, time.Millisecond)
	require.NoError(t, w.Pause(context.Background()))

	// burst 1 at 50/s: four waits of 20ms after the first job
	assert.GreaterOrEqual(t, time.Since(start), 60*time.Millisecond)
}

func TestWorker_ShutdownIsPermanent(t *testing.T) {
	src := newChanSource()
	w := worker.New("test", src, succeed, testutil.DiscardLogger())
	ctx := context.Background()

	require.NoError(t, w.Resume(ctx))
	require.NoError(t, w.Shutdown(ctx))

	assert.True(t, src.closed)
	assert.True(t, w.Paused())
	assert.ErrorIs(t, w.Resume(ctx), worker.ErrWorkerClosed)
	assert.ErrorIs(t, w.Pause(ctx), worker.ErrWorkerClosed)
	assert.NoError(t, w.Shutdown(ctx))
}

func TestWorker_ClosedSourceStopsLoop(t *testing.T) {
	src := newChanSource()
	w := worker.New("test", src, succeed, testutil.DiscardLogger())

	src.push("last")
	close(src.jobs)
	require.NoError(t, w.Resume(context.Background()))
	require.Eventually(t, func() bool { return src.ackedCount() == 1 }, time.Second, 5*time.Millisecond)

	done := make(chan error, 1)
	go func() { done <- w.Pause(context.Background()) }()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("pause blocked after the source closed")
	}
}
