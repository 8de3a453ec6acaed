package grpcserver

import (
	"context"

	"google.golang.org/grpc/codes"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"

	"github.com/sneh-joshi/litemq/internal/broker"
	"github.com/sneh-joshi/litemq/pkg/litemqpb"
)

// healthService answers grpc.health.v1 checks from Broker.Health for the
// server as a whole ("") and for the LiteMQ service.
type healthService struct {
	healthpb.UnimplementedHealthServer
	b *broker.Broker
}

func (h *healthService) Check(_ context.Context, req *healthpb.HealthCheckRequest) (*healthpb.HealthCheckResponse, error) {
	switch req.GetService() {
	case "", litemqpb.ServiceName:
	default:
		return nil, status.Errorf(codes.NotFound, "unknown service %q", req.GetService())
	}
	if err := h.b.Health(); err != nil {
		return &healthpb.HealthCheckResponse{Status: healthpb.HealthCheckResponse_NOT_SERVING}, nil
	}
	return &healthpb.HealthCheckResponse{Status: healthpb.HealthCheckResponse_SERVING}, nil
}
