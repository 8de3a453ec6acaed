package grpcserver

import (
	"context"
	"errors"
	"log/slog"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/sneh-joshi/litemq/internal/broker"
	"github.com/sneh-joshi/litemq/pkg/litemqpb"
)

type liteMQService struct {
	litemqpb.UnimplementedLiteMQServer
	b      *broker.Broker
	logger *slog.Logger
}

func (s *liteMQService) Enqueue(ctx context.Context, req *litemqpb.EnqueueRequest) (*litemqpb.QueueLength, error) {
	n, err := s.b.Enqueue(ctx, req.GetQueue(), req.GetData())
	if err != nil {
		return nil, toStatus(err)
	}
	return &litemqpb.QueueLength{Count: n}, nil
}

func (s *liteMQService) Dequeue(ctx context.Context, req *litemqpb.QueueID) (*litemqpb.DequeueResponse, error) {
	data, err := s.b.Dequeue(ctx, req.GetQueue())
	if err != nil {
		return nil, toStatus(err)
	}
	return &litemqpb.DequeueResponse{Data: data}, nil
}

func (s *liteMQService) Purge(ctx context.Context, req *litemqpb.QueueID) (*litemqpb.QueueLength, error) {
	n, err := s.b.Purge(ctx, req.GetQueue())
	if err != nil {
		return nil, toStatus(err)
	}
	return &litemqpb.QueueLength{Count: n}, nil
}

func (s *liteMQService) Length(_ context.Context, req *litemqpb.QueueID) (*litemqpb.QueueLength, error) {
	n := s.b.Length(req.GetQueue())
	s.logger.Info("LENGTH", "queue", req.GetQueue(), "length", n)
	return &litemqpb.QueueLength{Count: n}, nil
}

func (s *liteMQService) Health(context.Context, *litemqpb.Nothing) (*litemqpb.Nothing, error) {
	s.logger.Info("HEALTH")
	if err := s.b.Health(); err != nil {
		return nil, status.Error(codes.Unavailable, err.Error())
	}
	return &litemqpb.Nothing{}, nil
}

func (s *liteMQService) Flush(ctx context.Context, _ *litemqpb.Nothing) (*litemqpb.Nothing, error) {
	if err := s.b.Flush(ctx); err != nil {
		return nil, toStatus(err)
	}
	return &litemqpb.Nothing{}, nil
}

// toStatus maps broker errors to gRPC status codes.
func toStatus(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, broker.ErrInvalidQueueName), errors.Is(err, broker.ErrMessageTooLarge):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, broker.ErrClosed):
		return status.Error(codes.Unavailable, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}
