package grpcserver

import (
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/kneutral-org/resource-lock/internal/interceptor"
	"github.com/kneutral-org/resource-lock/internal/invoice"
	"github.com/kneutral-org/resource-lock/internal/logging"
	"github.com/kneutral-org/resource-lock/internal/metrics"
)

// Config holds gRPC server settings.
type Config struct {
	MaxMessageSize int
}

// NewServer creates a gRPC server with request logging, metrics and the
// lock interceptor chained in that order, serving the Invoices and health
// services.
func NewServer(cfg Config, ic *interceptor.Interceptor, generator *invoice.Generator, logger zerolog.Logger) (*grpc.Server, *health.Server) {
	opts := []grpc.ServerOption{
		grpc.ChainUnaryInterceptor(
			logging.GRPCLogger(logger),
			metrics.GRPCMetrics(),
			UnaryLockInterceptor(ic, logger),
		),
	}
	if cfg.MaxMessageSize > 0 {
		opts = append(opts,
			grpc.MaxRecvMsgSize(cfg.MaxMessageSize),
			grpc.MaxSendMsgSize(cfg.MaxMessageSize),
		)
	}

	srv := grpc.NewServer(opts...)
	RegisterInvoicesServer(srv, NewInvoiceService(generator, logger))

	healthSrv := health.NewServer()
	healthSrv.SetServingStatus(InvoicesServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(srv, healthSrv)

	return srv, healthSrv
}
