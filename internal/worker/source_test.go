package worker

import (
	"context"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
)

func TestParseAttempt(t *testing.T) {
	cases := map[string]int{"": 1, "x": 1, "0": 1, "-2": 1, "1": 1, "4": 4}
	for raw, want := range cases {
		assert.Equal(t, want, parseAttempt(raw), raw)
	}
}

func TestHeaderAttempt(t *testing.T) {
	tests := []struct {
		name    string
		headers amqp.Table
		want    int
	}{
		{"missing", nil, 1},
		{"int32", amqp.Table{AttemptHeader: int32(2)}, 2},
		{"int64", amqp.Table{AttemptHeader: int64(3)}, 3},
		{"string", amqp.Table{AttemptHeader: "4"}, 4},
		{"bytes", amqp.Table{AttemptHeader: []byte("5")}, 5},
		{"zero", amqp.Table{AttemptHeader: int32(0)}, 1},
		{"unsupported", amqp.Table{AttemptHeader: 1.5}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, headerAttempt(tt.headers))
		})
	}
}

func TestInFlight_WaitReturnsOnceDrained(t *testing.T) {
	f := newInFlight()
	assert.NoError(t, f.wait(context.Background()))

	f.start()
	f.start()
	assert.Equal(t, 2, f.len())

	done := make(chan error, 1)
	go func() { done <- f.wait(context.Background()) }()

	f.finish()
	f.finish()
	assert.NoError(t, <-done)
	assert.Zero(t, f.len())
}
