package worker

import (
	"context"
	"errors"
	"strconv"
)

// ErrSourceClosed is returned by Fetch once the source is closed.
var ErrSourceClosed = errors.New("job source closed")

// AttemptHeader carries the 1-based delivery attempt of a republished job.
const AttemptHeader = "x-attempt"

// Job is one unit of work pulled from a queue.
type Job struct {
	ID      string
	Topic   string
	Payload []byte
	Attempt int

	ref any
}

// Source is a queue backend. Fetch blocks until a job is available or ctx is done.
type Source interface {
	Fetch(ctx context.Context) (*Job, error)
	// Ack marks job as done.
	Ack(ctx context.Context, job *Job) error
	// Retry re-enqueues job with its attempt incremented, or drops it once
	// the attempt budget is spent.
	Retry(ctx context.Context, job *Job, cause error) error
	Close() error
}

func parseAttempt(raw string) int {
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 1
	}
	return n
}
