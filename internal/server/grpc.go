package server

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"

	"github.com/joseph-ayodele/invoices-pipeline/internal/common"
)

const requestIDHeader = "x-request-id"

// NewGRPCServer registers the review and ingestion services plus the standard
// health service. ingestion may be nil for review-only deployments.
func NewGRPCServer(review ReviewServer, ingestion IngestionServer, logger *slog.Logger) (*grpc.Server, *health.Server) {
	if logger == nil {
		logger = slog.Default()
	}
	s := grpc.NewServer(grpc.ChainUnaryInterceptor(requestIDInterceptor(logger)))

	hs := health.NewServer()
	healthpb.RegisterHealthServer(s, hs)
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus(ReviewServiceName, healthpb.HealthCheckResponse_SERVING)

	RegisterReviewServer(s, review)
	if ingestion != nil {
		RegisterIngestionServer(s, ingestion)
		hs.SetServingStatus(IngestionServiceName, healthpb.HealthCheckResponse_SERVING)
	}
	// Reflection for grpcurl
	reflection.Register(s)
	return s, hs
}

func requestIDInterceptor(logger *slog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		id := ""
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			if vals := md.Get(requestIDHeader); len(vals) > 0 {
				id = vals[0]
			}
		}
		if id == "" {
			id = uuid.NewString()
		}
		ctx = common.WithRequestID(ctx, id)

		start := time.Now()
		resp, err := handler(ctx, req)
		logger.Info("grpc.request",
			"method", info.FullMethod,
			"request_id", id,
			"code", status.Code(err).String(),
			"duration", time.Since(start))
		return resp, err
	}
}
