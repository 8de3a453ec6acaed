package grpcserver

import (
	"context"
	"errors"
	"log/slog"
	"net"

	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/sneh-joshi/litemq/internal/broker"
	"github.com/sneh-joshi/litemq/internal/metrics"
	"github.com/sneh-joshi/litemq/pkg/litemqpb"
)

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the request logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option { return func(s *Server) { s.logger = l } }

// WithMetrics records every RPC in reg.
func WithMetrics(reg *metrics.Registry) Option { return func(s *Server) { s.metrics = reg } }

// Server owns the gRPC server instance.
type Server struct {
	b       *broker.Broker
	grpc    *grpc.Server
	logger  *slog.Logger
	metrics *metrics.Registry
	lis     net.Listener
}

// wireOverhead is headroom above the payload limit for the request envelope.
const wireOverhead = 64 << 10

// New constructs a gRPC server and registers services.
func New(b *broker.Broker, opts ...Option) *Server {
	s := &Server{b: b, logger: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	s.grpc = grpc.NewServer(
		grpc.ForceServerCodec(litemqpb.Codec{}),
		grpc.MaxRecvMsgSize(b.Config().MaxMessageBytes()+wireOverhead),
		grpc.MaxSendMsgSize(b.Config().MaxMessageBytes()+wireOverhead),
		grpc.ChainUnaryInterceptor(s.recoverPanics, s.observe),
	)
	litemqpb.RegisterLiteMQServer(s.grpc, &liteMQService{b: b, logger: s.logger})
	healthpb.RegisterHealthServer(s.grpc, &healthService{b: b})
	return s
}

// Serve accepts connections on lis until Stop or GracefulStop.
func (s *Server) Serve(lis net.Listener) error {
	s.lis = lis
	s.logger.Info("grpc listening", "addr", lis.Addr().String())
	err := s.grpc.Serve(lis)
	if errors.Is(err, grpc.ErrServerStopped) {
		return nil
	}
	return err
}

// ListenAndServe binds to addr and serves until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	errCh := make(chan error, 1)
	go func() { errCh <- s.Serve(l) }()
	select {
	case <-ctx.Done():
		s.Shutdown(context.Background())
		return nil
	case err := <-errCh:
		return err
	}
}

// Shutdown stops accepting new RPCs and waits for in-flight ones, or cancels
// them all once ctx is done. Blocked Dequeue calls only finish when a message
// arrives or the broker closes, so callers usually close the broker first or
// bound ctx.
func (s *Server) Shutdown(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		s.grpc.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.grpc.Stop()
		<-done
	}
}

// Addr returns the listener address once serving.
func (s *Server) Addr() net.Addr {
	if s.lis == nil {
		return nil
	}
	return s.lis.Addr()
}
