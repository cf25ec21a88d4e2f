package health_test

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/gsoc2/novu/internal/health"
	"github.com/gsoc2/novu/internal/readiness"
	"github.com/gsoc2/novu/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct{ closed bool }

func (f *fakeConn) IsClosed() bool { return f.closed }

type staticIndicator struct {
	name    string
	healthy bool
	err     error
}

func (s staticIndicator) Name() string { return s.name }

func (s staticIndicator) IsHealthy(context.Context) (bool, error) { return s.healthy, s.err }

func TestRedisIndicator(t *testing.T) {
	mr, client := testutil.NewRedis(t)
	ind := health.NewRedisIndicator(client, time.Second)

	ok, err := ind.IsHealthy(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)

	mr.SetError("ERR down")
	ok, err = ind.IsHealthy(context.Background())
	assert.Error(t, err)
	assert.False(t, ok)
}

func TestKafkaIndicator(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			_ = conn.Close()
		}
	}()

	closed, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	deadAddr := closed.Addr().String()
	require.NoError(t, closed.Close())

	ok, err := health.NewKafkaIndicator([]string{deadAddr, ln.Addr().String()}, time.Second).IsHealthy(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = health.NewKafkaIndicator([]string{deadAddr}, time.Second).IsHealthy(context.Background())
	assert.Error(t, err)
	assert.False(t, ok)

	_, err = health.NewKafkaIndicator(nil, time.Second).IsHealthy(context.Background())
	assert.Error(t, err)
}

func TestRabbitMQIndicator(t *testing.T) {
	conn := &fakeConn{}
	ind := health.NewRabbitMQIndicator(func() health.ConnectionState { return conn })

	ok, err := ind.IsHealthy(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)

	conn.closed = true
	ok, _ = ind.IsHealthy(context.Background())
	assert.False(t, ok)

	_, err = health.NewRabbitMQIndicator(func() health.ConnectionState { return nil }).IsHealthy(context.Background())
	assert.Error(t, err)
}

func TestServiceAggregates(t *testing.T) {
	svc := health.NewService([]readiness.HealthIndicator{
		staticIndicator{name: "redis", healthy: true},
		staticIndicator{name: "kafka", err: errors.New("dial timeout")},
	}, time.Second, testutil.DiscardLogger())

	report := svc.Check(context.Background())
	assert.False(t, report.Healthy())
	assert.Equal(t, health.StatusHealthy, report.Components["redis"].Status)
	assert.Equal(t, health.ComponentHealth{Status: health.StatusUnhealthy, Message: "dial timeout"}, report.Components["kafka"])

	report = health.NewService([]readiness.HealthIndicator{staticIndicator{name: "redis", healthy: true}}, time.Second, testutil.DiscardLogger()).
		Check(context.Background())
	assert.True(t, report.Healthy())
}
