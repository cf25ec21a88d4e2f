package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/viper"
	"go.uber.org/fx"

	"github.com/gsoc2/novu/internal/domain"
	"github.com/gsoc2/novu/internal/health"
	"github.com/gsoc2/novu/internal/infrastructure/config"
	apigrpc "github.com/gsoc2/novu/internal/presentation/grpc"
	apihttp "github.com/gsoc2/novu/internal/presentation/http"
	"github.com/gsoc2/novu/internal/ratelimit"
	"github.com/gsoc2/novu/internal/readiness"
)

// NewHTTPServer builds the HTTP server. Admin routes are mounted only when a
// JWT secret is configured.
func NewHTTPServer(
	cfg *config.Config,
	limiter *ratelimit.Limiter,
	fleet *readiness.Fleet,
	healthService *health.Service,
	reg *prometheus.Registry,
	logger *slog.Logger,
) *http.Server {
	routerCfg := apihttp.RouterConfig{
		Gatherer:       reg,
		Logger:         logger.With(slog.String("component", "http")),
		RequestTimeout: cfg.Server.WriteTimeout,
	}
	if cfg.Auth.JWTSecret != "" {
		routerCfg.Auth = apihttp.NewAuthMiddleware(
			apihttp.NewJWTValidator(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.Audience))
	} else {
		logger.Warn("auth.jwt_secret not set, admin routes disabled")
	}

	handler := apihttp.NewHandler(limiter, fleet, healthService, logger)
	return &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.HTTPPort)),
		Handler:      apihttp.NewRouter(handler, routerCfg),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
}

// NewGRPCServer builds the gRPC health server and subscribes it to readiness changes.
func NewGRPCServer(cfg *config.Config, gk *readiness.Gatekeeper, logger *slog.Logger) *apigrpc.Server {
	srv := apigrpc.NewServer(logger.With(slog.String("component", "grpc")), cfg.Tracing.Environment != "production")
	gk.OnStateChange(srv.SetReady)
	return srv
}

// RegisterConfigReload applies rate limit changes from the config file
// without a restart.
func RegisterConfigReload(v *viper.Viper, limits *ratelimit.ConfigLimits, limiter *ratelimit.Limiter, logger *slog.Logger) {
	config.Watch(v, logger, func(cfg *config.Config) {
		limits.Update(cfg.RateLimit)

		tenants, err := ratelimit.LoadTenants(cfg.RateLimit.TenantsFile)
		if err != nil {
			logger.Error("tenants reload rejected", slog.String("error", err.Error()))
		} else {
			limits.UpdateTenants(tenants)
		}

		logger.Info("rate limit configuration reloaded",
			slog.Int("tenants", len(tenants)),
			slog.Int("cached_denials_dropped", limiter.ClearCache()))
	})
}

// RegisterServers starts the HTTP and gRPC listeners.
func RegisterServers(lc fx.Lifecycle, cfg *config.Config, httpServer *http.Server, grpcServer *apigrpc.Server, logger *slog.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			httpLis, err := net.Listen("tcp", httpServer.Addr)
			if err != nil {
				return fmt.Errorf("failed to listen on %s: %w", httpServer.Addr, err)
			}
			grpcAddr := net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.GRPCPort))
			grpcLis, err := net.Listen("tcp", grpcAddr)
			if err != nil {
				_ = httpLis.Close()
				return fmt.Errorf("failed to listen on %s: %w", grpcAddr, err)
			}

			go func() {
				logger.Info("starting HTTP server", slog.String("address", httpLis.Addr().String()))
				if err := httpServer.Serve(httpLis); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("HTTP server error", slog.String("error", err.Error()))
				}
			}()
			go func() {
				if err := grpcServer.Serve(grpcLis); err != nil {
					logger.Error("gRPC server error", slog.String("error", err.Error()))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return errors.Join(httpServer.Shutdown(ctx), grpcServer.Stop(ctx))
		},
	})
}

// RegisterWorkers enables the workers in the background once the app has
// started and pauses then shuts them down on stop. A failed enable leaves
// the workers paused and the service running.
func RegisterWorkers(lc fx.Lifecycle, fleet *readiness.Fleet, ws *WorkerSet, logger *slog.Logger) {
	var (
		cancel context.CancelFunc
		wg     sync.WaitGroup
	)

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			var ctx context.Context
			ctx, cancel = context.WithCancel(context.Background())

			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := fleet.Enable(ctx); err != nil {
					level := slog.LevelError
					if domain.IsQueuesNotReady(err) {
						level = slog.LevelWarn
					}
					logger.Log(ctx, level, "workers not enabled on startup", slog.String("error", err.Error()))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if cancel != nil {
				cancel()
			}
			wg.Wait()

			var errs []error
			if err := fleet.Pause(ctx); err != nil {
				errs = append(errs, err)
			}
			for _, w := range ws.Workers {
				if err := w.Shutdown(ctx); err != nil {
					errs = append(errs, fmt.Errorf("shutdown worker %s: %w", w.Topic(), err))
				}
			}
			return errors.Join(errs...)
		},
	})
}
