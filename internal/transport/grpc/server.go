package transportgrpc

import (
	"context"
	"net"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	grpcinterceptors "github.com/tranzio/tranzio-api/internal/transport/grpc/interceptors"
)

// SignupServiceName is the health service name reported for the signup flow.
const SignupServiceName = "tranzio.signup"

const defaultCheckInterval = 15 * time.Second

// ReadinessFunc reports whether the service dependencies are reachable.
type ReadinessFunc func(ctx context.Context) (bool, map[string]string)

// ServerDependencies encapsulates what the gRPC server layer needs.
type ServerDependencies struct {
	Logger         *zap.Logger
	Metrics        *grpcinterceptors.GRPCMetrics
	TracerProvider trace.TracerProvider
	Readiness      ReadinessFunc
	CheckInterval  time.Duration
}

// Server hosts the internal gRPC surface: the standard health service and reflection.
type Server struct {
	server   *grpc.Server
	health   *health.Server
	ready    ReadinessFunc
	interval time.Duration
	logger   *zap.Logger
}

// NewServer wires the gRPC server with tracing, metrics and health reporting.
func NewServer(deps ServerDependencies) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	interval := deps.CheckInterval
	if interval <= 0 {
		interval = defaultCheckInterval
	}

	var statsOpts []otelgrpc.Option
	if deps.TracerProvider != nil {
		statsOpts = append(statsOpts, otelgrpc.WithTracerProvider(deps.TracerProvider))
	}

	server := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler(statsOpts...)),
		grpc.ChainUnaryInterceptor(deps.Metrics.UnaryServerInterceptor()),
	)

	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(server, healthServer)
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	healthServer.SetServingStatus(SignupServiceName, healthpb.HealthCheckResponse_NOT_SERVING)

	// Register reflection service for tools like grpcurl.
	reflection.Register(server)

	return &Server{
		server:   server,
		health:   healthServer,
		ready:    deps.Readiness,
		interval: interval,
		logger:   logger,
	}
}

// GRPC exposes the underlying server for additional service registration.
func (s *Server) GRPC() *grpc.Server {
	return s.server
}

// Serve refreshes health status in the background and blocks serving lis.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	s.refresh(ctx)
	go s.watch(ctx)
	return s.server.Serve(lis)
}

// GracefulStop marks every service as not serving and drains in-flight calls.
func (s *Server) GracefulStop() {
	s.health.Shutdown()
	s.server.GracefulStop()
}

// Stop terminates the server immediately.
func (s *Server) Stop() {
	s.health.Shutdown()
	s.server.Stop()
}

func (s *Server) watch(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.refresh(ctx)
		}
	}
}

func (s *Server) refresh(ctx context.Context) {
	status := healthpb.HealthCheckResponse_SERVING
	if s.ready != nil {
		checkCtx, cancel := context.WithTimeout(ctx, s.interval)
		ready, checks := s.ready(checkCtx)
		cancel()
		if !ready {
			status = healthpb.HealthCheckResponse_NOT_SERVING
			s.logger.Warn("grpc readiness check failed", zap.Any("checks", checks))
		}
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(SignupServiceName, status)
}
