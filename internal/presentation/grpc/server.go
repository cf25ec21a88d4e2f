// Package grpc serves the gRPC health protocol of the admission service.
package grpc

import (
	"context"
	"log/slog"
	"net"

	grpc_logging "github.com/grpc-ecosystem/go-grpc-middleware/v2/interceptors/logging"
	grpc_recovery "github.com/grpc-ecosystem/go-grpc-middleware/v2/interceptors/recovery"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"
)

// ServiceName is the health service name that follows worker readiness.
const ServiceName = "admission"

// Server is the gRPC server.
type Server struct {
	server *grpc.Server
	health *health.Server
	logger *slog.Logger
}

// NewServer creates a server whose admission service starts NOT_SERVING.
func NewServer(logger *slog.Logger, enableReflection bool) *Server {
	recoveryOpts := []grpc_recovery.Option{
		grpc_recovery.WithRecoveryHandler(func(p any) error {
			logger.Error("gRPC panic recovered", slog.Any("panic", p))
			return status.Errorf(codes.Internal, "internal server error")
		}),
	}
	loggingOpts := []grpc_logging.Option{
		grpc_logging.WithLogOnEvents(grpc_logging.FinishCall),
	}

	server := grpc.NewServer(
		grpc.ChainUnaryInterceptor(
			grpc_recovery.UnaryServerInterceptor(recoveryOpts...),
			grpc_logging.UnaryServerInterceptor(InterceptorLogger(logger), loggingOpts...),
		),
		grpc.ChainStreamInterceptor(
			grpc_recovery.StreamServerInterceptor(recoveryOpts...),
			grpc_logging.StreamServerInterceptor(InterceptorLogger(logger), loggingOpts...),
		),
	)

	healthServer := health.NewServer()
	healthServer.SetServingStatus(ServiceName, grpc_health_v1.HealthCheckResponse_NOT_SERVING)
	grpc_health_v1.RegisterHealthServer(server, healthServer)

	if enableReflection {
		reflection.Register(server)
	}

	return &Server{server: server, health: healthServer, logger: logger}
}

// SetReady publishes worker readiness. It is meant to be registered as a
// readiness state listener.
func (s *Server) SetReady(ready bool) {
	st := grpc_health_v1.HealthCheckResponse_NOT_SERVING
	if ready {
		st = grpc_health_v1.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus(ServiceName, st)
}

// Serve accepts connections on lis until Stop.
func (s *Server) Serve(lis net.Listener) error {
	s.logger.Info("starting gRPC server", slog.String("address", lis.Addr().String()))
	return s.server.Serve(lis)
}

// Stop drains in-flight RPCs, forcing a stop once ctx is done.
func (s *Server) Stop(ctx context.Context) error {
	s.health.Shutdown()

	stopped := make(chan struct{})
	go func() {
		s.server.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
		s.logger.Info("gRPC server stopped gracefully")
		return nil
	case <-ctx.Done():
		s.logger.Warn("gRPC server graceful stop timeout, forcing stop")
		s.server.Stop()
		return ctx.Err()
	}
}

// InterceptorLogger adapts slog.Logger to grpc_logging.Logger.
func InterceptorLogger(l *slog.Logger) grpc_logging.Logger {
	return grpc_logging.LoggerFunc(func(ctx context.Context, lvl grpc_logging.Level, msg string, fields ...any) {
		l.Log(ctx, slog.Level(lvl), msg, fields...)
	})
}
