package control

import (
	"context"
	"net"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/signalsfoundry/sensor-simulator/internal/logging"
	"github.com/signalsfoundry/sensor-simulator/internal/observability"
)

// Server is a gRPC server carrying SensorControl and the standard health
// service.
type Server struct {
	GRPC   *grpc.Server
	Health *health.Server
	log    logging.Logger
}

// NewServer wires svc behind the request-id, metrics, panic-recovery and
// tracing interceptors. A nil collector disables RPC metrics.
func NewServer(svc SensorControlServer, log logging.Logger, collector *observability.ControlCollector, opts ...grpc.ServerOption) *Server {
	log = logging.OrNoop(log)

	opts = append([]grpc.ServerOption{
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(
			RequestIDUnaryServerInterceptor(log),
			collector.UnaryServerInterceptor(),
			RecoveryUnaryServerInterceptor(log),
			TracingUnaryServerInterceptor(),
		),
	}, opts...)

	gs := grpc.NewServer(opts...)
	RegisterSensorControlServer(gs, svc)

	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(gs, hs)

	return &Server{GRPC: gs, Health: hs, log: log}
}

// Serve blocks accepting connections on lis until the server stops.
func (s *Server) Serve(lis net.Listener) error {
	s.log.Info(context.Background(), "serving sensor control", logging.String("addr", lis.Addr().String()))
	return s.GRPC.Serve(lis)
}

// GracefulStop reports NOT_SERVING, then waits for in-flight RPCs.
func (s *Server) GracefulStop() {
	s.Health.Shutdown()
	s.GRPC.GracefulStop()
}
