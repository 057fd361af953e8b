package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	grpc_prometheus "github.com/grpc-ecosystem/go-grpc-prometheus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"

	"github.com/miradorstack/mirador-selfheal/internal/config"
)

const defaultGracefulTimeout = 10 * time.Second

// mutating lists the control calls that change engine or filesystem state.
var mutating = map[string]bool{
	MethodTriggerRun: true,
	MethodRollback:   true,
}

// Server hosts the control plane together with health, reflection and gRPC metrics.
type Server struct {
	grpc     *grpc.Server
	health   *health.Server
	listener net.Listener
	logger   *slog.Logger
	graceful time.Duration
}

// NewServer listens on cfg.Address and registers the control plane.
func NewServer(cfg config.ServerConfig, service ControlPlaneServer, logger *slog.Logger, opts ...grpc.ServerOption) (*Server, error) {
	lis, err := net.Listen("tcp", cfg.Address)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", cfg.Address, err)
	}
	return NewServerWithListener(cfg, lis, service, logger, opts...), nil
}

// NewServerWithListener registers the control plane on an existing listener.
func NewServerWithListener(cfg config.ServerConfig, lis net.Listener, service ControlPlaneServer, logger *slog.Logger, opts ...grpc.ServerOption) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	graceful := cfg.GracefulTimeout
	if graceful <= 0 {
		graceful = defaultGracefulTimeout
	}

	grpc_prometheus.EnableHandlingTimeHistogram()
	serverOpts := append([]grpc.ServerOption{
		grpc.ChainUnaryInterceptor(grpc_prometheus.UnaryServerInterceptor, auditInterceptor(logger)),
	}, opts...)
	srv := grpc.NewServer(serverOpts...)

	RegisterControlPlaneServer(srv, service)
	grpc_prometheus.Register(srv)

	healthSrv := health.NewServer()
	healthSrv.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(srv, healthSrv)
	reflection.Register(srv)

	return &Server{
		grpc:     srv,
		health:   healthSrv,
		listener: lis,
		logger:   logger,
		graceful: graceful,
	}
}

// Run serves until ctx is cancelled, then drains in-flight calls for at most the
// graceful timeout before forcing the stop. A nil error means a clean shutdown.
func (s *Server) Run(ctx context.Context) error {
	served := make(chan error, 1)
	go func() { served <- s.grpc.Serve(s.listener) }()

	select {
	case err := <-served:
		return fmt.Errorf("serve control plane: %w", err)
	case <-ctx.Done():
	}

	s.health.Shutdown()
	drained := make(chan struct{})
	go func() {
		s.grpc.GracefulStop()
		close(drained)
	}()

	timer := time.NewTimer(s.graceful)
	defer timer.Stop()
	select {
	case <-drained:
	case <-timer.C:
		s.logger.Warn("control plane drain timed out, forcing stop", slog.Duration("timeout", s.graceful))
		s.grpc.Stop()
		<-drained
	}
	if err := <-served; err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}

// Address exposes the bound listener address.
func (s *Server) Address() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// auditInterceptor logs every control call. Calls that mutate state log at info, failures
// the handler did not classify log at error.
func auditInterceptor(logger *slog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		code := status.Code(err)

		level := slog.LevelDebug
		switch {
		case code == codes.Internal || code == codes.Unknown:
			level = slog.LevelError
		case mutating[info.FullMethod]:
			level = slog.LevelInfo
		}
		logger.Log(ctx, level, "control call",
			slog.String("method", info.FullMethod),
			slog.String("code", code.String()),
			slog.Duration("latency", time.Since(start)),
		)
		return resp, err
	}
}
