package grpcserver

import (
	"context"
	"path"
	"runtime/debug"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// observe logs and counts every unary call.
func (s *Server) observe(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	elapsed := time.Since(start)

	method := path.Base(info.FullMethod)
	code := status.Code(err)
	s.metrics.ObserveRPC(method, code.String(), elapsed)

	switch code {
	case codes.OK, codes.Canceled, codes.DeadlineExceeded, codes.InvalidArgument:
		s.logger.Debug("rpc", "method", method, "code", code.String(), "duration", elapsed)
	default:
		s.logger.Error("rpc failed", "method", method, "code", code.String(), "duration", elapsed, "err", err)
	}
	return resp, err
}

// recoverPanics turns a handler panic into codes.Internal instead of
// crashing the process.
func (s *Server) recoverPanics(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("rpc panic", "method", info.FullMethod, "panic", r, "stack", string(debug.Stack()))
			err = status.Error(codes.Internal, "internal error")
		}
	}()
	return handler(ctx, req)
}
