package readiness

import "context"

// Fleet binds a gatekeeper to the workers it controls.
type Fleet struct {
	gatekeeper *Gatekeeper
	workers    []Worker
}

// NewFleet creates a fleet. Workers are paused and resumed in the given order.
func NewFleet(gatekeeper *Gatekeeper, workers []Worker) *Fleet {
	return &Fleet{gatekeeper: gatekeeper, workers: workers}
}

// Pause pauses every worker of the fleet.
func (f *Fleet) Pause(ctx context.Context) error {
	return f.gatekeeper.PauseWorkers(ctx, f.workers)
}

// Enable resumes every worker once the queues are enabled.
func (f *Fleet) Enable(ctx context.Context) error {
	return f.gatekeeper.EnableWorkers(ctx, f.workers)
}

// Ready reports the outcome of the last readiness probe.
func (f *Fleet) Ready() bool {
	return f.gatekeeper.Ready()
}

// Workers returns the workers of the fleet.
func (f *Fleet) Workers() []Worker {
	return f.workers
}
