package worker

import (
	"context"
	"sync"
)

// inFlight counts running jobs and lets callers wait for them to drain.
type inFlight struct {
	mu      sync.Mutex
	count   int
	drained chan struct{}
}

func newInFlight() *inFlight {
	drained := make(chan struct{})
	close(drained)
	return &inFlight{drained: drained}
}

func (f *inFlight) start() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.count == 0 {
		f.drained = make(chan struct{})
	}
	f.count++
}

func (f *inFlight) finish() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count--
	if f.count == 0 {
		close(f.drained)
	}
}

// wait blocks until no job is running or ctx is done.
func (f *inFlight) wait(ctx context.Context) error {
	f.mu.Lock()
	drained := f.drained
	f.mu.Unlock()

	select {
	case <-drained:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *inFlight) len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.count
}
