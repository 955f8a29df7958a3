package metrics

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

// GRPCMetrics returns a gRPC unary server interceptor recording request
// counts and durations.
func GRPCMetrics() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		RecordGRPCRequest(info.FullMethod, status.Code(err).String())
		RecordGRPCRequestDuration(info.FullMethod, time.Since(start).Seconds())
		return resp, err
	}
}
