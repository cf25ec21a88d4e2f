// Package application wires the admission service with fx.
package application

import (
	"context"
	"log/slog"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"

	"github.com/gsoc2/novu/internal/executionlog"
	"github.com/gsoc2/novu/internal/health"
	"github.com/gsoc2/novu/internal/infrastructure/config"
	"github.com/gsoc2/novu/internal/infrastructure/observability"
	"github.com/gsoc2/novu/internal/quota"
	"github.com/gsoc2/novu/internal/ratelimit"
	"github.com/gsoc2/novu/internal/readiness"
	"github.com/gsoc2/novu/internal/worker"
)

// Module provides every component of the service. It expects *config.Config
// and *viper.Viper to be supplied.
var Module = fx.Module("admission",
	fx.Provide(
		NewLogger,
		NewRegistry,
		NewMetrics,
		NewRedisClient,
		NewQuotaStore,
		NewConfigLimits,
		NewLimiter,
		NewWorkerSet,
		NewHealthIndicators,
		NewGatekeeper,
		NewFleet,
		NewHealthService,
		NewHTTPServer,
		NewGRPCServer,
	),
	fx.Invoke(
		RegisterTracing,
		RegisterConfigReload,
		RegisterServers,
		RegisterWorkers,
	),
)

// NewLogger creates the service logger.
func NewLogger(cfg *config.Config) *slog.Logger {
	return observability.NewLogger(cfg.Logging, os.Stdout).
		With(slog.String("service", cfg.Tracing.ServiceName))
}

// NewRegistry creates the Prometheus registry with runtime collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// NewMetrics registers the service collectors.
func NewMetrics(reg *prometheus.Registry) *observability.Metrics {
	return observability.NewMetrics(reg)
}

// NewRedisClient connects to Redis. It returns a nil client when the quota
// store is disabled.
func NewRedisClient(lc fx.Lifecycle, cfg *config.Config, logger *slog.Logger) (redis.UniversalClient, error) {
	if !cfg.Redis.Enabled {
		logger.Warn("quota store disabled, rate limit evaluation will fail closed")
		return nil, nil
	}

	client, err := quota.NewRedisClient(cfg.Redis, logger)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error { return client.Close() },
	})
	return client, nil
}

// NewQuotaStore adapts the Redis client. A nil client yields a nil store.
func NewQuotaStore(client redis.UniversalClient) quota.Store {
	if client == nil {
		return nil
	}
	return quota.NewRedisStore(client)
}

// NewConfigLimits builds the base limit provider from configuration and the tenants file.
func NewConfigLimits(cfg *config.Config) (*ratelimit.ConfigLimits, error) {
	tenants, err := ratelimit.LoadTenants(cfg.RateLimit.TenantsFile)
	if err != nil {
		return nil, err
	}
	return ratelimit.NewConfigLimits(cfg.RateLimit, tenants), nil
}

// NewLimiter creates the rate limiter with its denied-key cache.
func NewLimiter(
	lc fx.Lifecycle,
	cfg *config.Config,
	store quota.Store,
	limits *ratelimit.ConfigLimits,
	metrics *observability.Metrics,
	logger *slog.Logger,
) *ratelimit.Limiter {
	cache := ratelimit.NewEphemeralCache(ratelimit.EphemeralCacheConfig{
		MaxEntries:      cfg.RateLimit.Cache.MaxEntries,
		MaxTTL:          cfg.RateLimit.Cache.MaxTTL,
		CleanupInterval: cfg.RateLimit.Cache.CleanupInterval,
	})
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			cache.Close()
			return nil
		},
	})

	return ratelimit.NewLimiter(store, limits, logger.With(slog.String("component", "ratelimit")),
		ratelimit.WithEphemeralCache(cache),
		ratelimit.WithMetrics(metrics))
}

// WorkerSet holds the background workers and the indicators of their backend.
type WorkerSet struct {
	Workers    []*worker.Worker
	Indicators []readiness.HealthIndicator
}

// NewWorkerSet builds the execution-log worker on the configured backend.
// Without a quota store there is nowhere to persist execution details and
// no worker is built.
func NewWorkerSet(cfg *config.Config, client redis.UniversalClient, metrics *observability.Metrics, logger *slog.Logger) (*WorkerSet, error) {
	if client == nil {
		logger.Warn("execution log worker disabled, redis is not configured")
		return &WorkerSet{}, nil
	}

	topic := cfg.Workers.ExecutionLogTopic
	workerLogger := logger.With(slog.String("component", "worker"))

	var (
		source    worker.Source
		indicator readiness.HealthIndicator
	)
	switch cfg.Workers.Backend {
	case "rabbitmq":
		src, err := worker.DialRabbitMQ(cfg.Workers, topic, workerLogger)
		if err != nil {
			return nil, err
		}
		source = src
		indicator = health.NewRabbitMQIndicator(func() health.ConnectionState {
			if conn := src.Connection(); conn != nil {
				return conn
			}
			return nil
		})
	default:
		source = worker.NewKafkaSourceFromConfig(cfg.Workers, topic, workerLogger)
		indicator = health.NewKafkaIndicator(cfg.Workers.Brokers, cfg.Workers.HealthTimeout)
	}

	usecase := executionlog.NewCreateExecutionDetails(executionlog.NewRedisRepository(client, 0), logger)
	processor := executionlog.NewProcessor(usecase, logger.With(slog.String("component", "execution-log")))

	w := worker.New(topic, source, processor.Process, workerLogger,
		worker.WithConcurrency(cfg.Workers.Concurrency),
		worker.WithRateLimit(cfg.Workers.RatePerSecond, cfg.Workers.Burst),
		worker.WithMetrics(metrics))

	return &WorkerSet{
		Workers:    []*worker.Worker{w},
		Indicators: []readiness.HealthIndicator{indicator},
	}, nil
}

// NewHealthIndicators lists the indicators the readiness probe and /health use.
func NewHealthIndicators(cfg *config.Config, client redis.UniversalClient, ws *WorkerSet) []readiness.HealthIndicator {
	var indicators []readiness.HealthIndicator
	if client != nil {
		indicators = append(indicators, health.NewRedisIndicator(client, cfg.Workers.HealthTimeout))
	}
	return append(indicators, ws.Indicators...)
}

// NewGatekeeper creates the readiness gatekeeper.
func NewGatekeeper(cfg *config.Config, indicators []readiness.HealthIndicator, metrics *observability.Metrics, logger *slog.Logger) *readiness.Gatekeeper {
	return readiness.NewGatekeeper(indicators, logger.With(slog.String("component", "readiness")),
		readiness.WithRetries(cfg.Readiness.Retries),
		readiness.WithDelay(cfg.Readiness.Delay),
		readiness.WithMetrics(metrics))
}

// NewFleet binds the gatekeeper to the workers.
func NewFleet(gk *readiness.Gatekeeper, ws *WorkerSet) *readiness.Fleet {
	workers := make([]readiness.Worker, len(ws.Workers))
	for i, w := range ws.Workers {
		workers[i] = w
	}
	return readiness.NewFleet(gk, workers)
}

// NewHealthService creates the aggregated health service.
func NewHealthService(cfg *config.Config, indicators []readiness.HealthIndicator, logger *slog.Logger) *health.Service {
	return health.NewService(indicators, cfg.Workers.HealthTimeout, logger)
}

// RegisterTracing installs the tracer provider for the lifetime of the app.
func RegisterTracing(lc fx.Lifecycle, cfg *config.Config, logger *slog.Logger) {
	var shutdown func(context.Context) error
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			var err error
			shutdown, err = observability.SetupTracing(ctx, cfg.Tracing, logger)
			return err
		},
		OnStop: func(ctx context.Context) error {
			if shutdown == nil {
				return nil
			}
			return shutdown(ctx)
		},
	})
}
