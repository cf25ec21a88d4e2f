package application_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx"
	"go.uber.org/fx/fxtest"

	"github.com/gsoc2/novu/internal/application"
	"github.com/gsoc2/novu/internal/domain"
	"github.com/gsoc2/novu/internal/infrastructure/config"
	"github.com/gsoc2/novu/internal/ratelimit"
	"github.com/gsoc2/novu/internal/readiness"
	"github.com/gsoc2/novu/internal/testutil"
)

func testConfig(t *testing.T, redisAddr string) (*config.Config, fx.Option) {
	t.Helper()
	v := config.NewViper()
	cfg, err := config.Decode(v)
	require.NoError(t, err)

	cfg.Server.Host = "127.0.0.1"
	cfg.Server.HTTPPort = 0
	cfg.Server.GRPCPort = 0
	cfg.Redis.URL = "redis://" + redisAddr + "/0"
	cfg.Readiness.Retries = 1
	cfg.Readiness.Delay = 0
	cfg.Workers.Brokers = []string{"127.0.0.1:1"}
	cfg.Workers.HealthTimeout = 200 * time.Millisecond
	cfg.Auth.JWTSecret = "0123456789abcdef0123456789abcdef"
	cfg.Logging.Level = "error"

	return cfg, fx.Supply(cfg, v)
}

func TestModule_ValidateGraph(t *testing.T) {
	_, supply := testConfig(t, "127.0.0.1:6379")
	require.NoError(t, fx.ValidateApp(supply, application.Module))
}

func TestModule_StartEvaluateStop(t *testing.T) {
	mr, _ := testutil.NewRedis(t)
	_, supply := testConfig(t, mr.Addr())

	var (
		limiter *ratelimit.Limiter
		fleet   *readiness.Fleet
		ws      *application.WorkerSet
	)
	app := fxtest.New(t, supply, application.Module, fx.Populate(&limiter, &fleet, &ws))
	app.RequireStart()

	decision, err := limiter.Evaluate(context.Background(), "org-1", "env-1", domain.CategoryTrigger)
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
	assert.True(t, mr.Exists(domain.RateLimitKey{EnvironmentID: "env-1", Category: domain.CategoryTrigger}.String()))

	require.Len(t, ws.Workers, 1)
	assert.False(t, fleet.Ready(), "kafka is unreachable")
	assert.True(t, ws.Workers[0].Paused())

	app.RequireStop()
}

func TestModule_DisabledRedisFailsClosed(t *testing.T) {
	cfg, supply := testConfig(t, "127.0.0.1:1")
	cfg.Redis.Enabled = false

	var (
		limiter *ratelimit.Limiter
		ws      *application.WorkerSet
	)
	app := fxtest.New(t, supply, application.Module, fx.Populate(&limiter, &ws))
	app.RequireStart()
	defer app.RequireStop()

	_, err := limiter.Evaluate(context.Background(), "org-1", "env-1", domain.CategoryTrigger)
	require.ErrorIs(t, err, domain.ErrStoreUnavailable)
	assert.Empty(t, ws.Workers)
}
