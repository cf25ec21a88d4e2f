package readiness_test

import (
	"context"
	"testing"

	"github.com/gsoc2/novu/internal/readiness"
	"github.com/gsoc2/novu/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFleet_DelegatesToGatekeeper(t *testing.T) {
	var log []string
	ws := workers(&log, "a", "b")
	gk := readiness.NewGatekeeper([]readiness.HealthIndicator{constant("redis", true)},
		testutil.DiscardLogger(), readiness.WithRetries(1), readiness.WithDelay(0))
	fleet := readiness.NewFleet(gk, handles(ws))
	ctx := context.Background()

	assert.False(t, fleet.Ready())
	require.NoError(t, fleet.Enable(ctx))
	assert.True(t, fleet.Ready())
	require.NoError(t, fleet.Pause(ctx))

	assert.Equal(t, []string{"resume:a", "resume:b", "pause:a", "pause:b"}, log)
	assert.Len(t, fleet.Workers(), 2)
}
