// Package http provides the HTTP admin/REST transport for LiteMQ.
//
// Routes (Go 1.22+ method-qualified patterns):
//
//	GET    /health
//	GET    /queues
//	GET    /queues/{queue}
//	POST   /queues/{queue}          enqueue the raw request body
//	DELETE /queues/{queue}          blocking dequeue, optional ?timeout=5s
//	POST   /queues/{queue}/purge
//	POST   /flush
//	GET    /queues/{queue}/ws       WebSocket stream (see package websocket)
//	GET    /metrics
package http

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/sneh-joshi/litemq/internal/broker"
	"github.com/sneh-joshi/litemq/internal/metrics"
	"github.com/sneh-joshi/litemq/internal/transport/websocket"
)

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the request logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option { return func(s *Server) { s.logger = l } }

// WithMetrics records every request in reg and serves it on GET /metrics.
func WithMetrics(reg *metrics.Registry) Option { return func(s *Server) { s.metrics = reg } }

// Server wraps the stdlib HTTP server with LiteMQ route wiring.
type Server struct {
	inner   *http.Server
	logger  *slog.Logger
	metrics *metrics.Registry
	streams *websocket.Handler
}

// New builds a Server from a Broker. Middleware limits come from the
// broker's config. The caller is responsible for calling ListenAndServe or
// Serve, and Shutdown.
func New(b *broker.Broker, opts ...Option) *Server {
	s := &Server{logger: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	cfg := b.Config()
	h := &Handler{broker: b, logger: s.logger}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", h.health)
	mux.HandleFunc("GET /queues", h.listQueues)
	mux.HandleFunc("GET /queues/{queue}", h.queueLength)
	mux.HandleFunc("POST /queues/{queue}", h.enqueue)
	mux.HandleFunc("DELETE /queues/{queue}", h.dequeue)
	mux.HandleFunc("POST /queues/{queue}/purge", h.purge)
	mux.HandleFunc("POST /flush", h.flush)
	s.streams = websocket.NewHandler(b, s.logger, s.metrics)
	mux.Handle("GET /queues/{queue}/ws", s.streams)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics.Handler())
	}

	mw := []func(http.Handler) http.Handler{
		CORSMiddleware,
		LoggingMiddleware(s.logger),
		AuthMiddleware(cfg.Auth.APIKey, cfg.Auth.Enabled),
	}
	if cfg.HTTP.RateLimitRPS > 0 {
		mw = append(mw, RateLimitMiddleware(cfg.HTTP.RateLimitRPS, cfg.HTTP.RateLimitBurst))
	}
	mw = append(mw,
		MaxBodyMiddleware(int64(cfg.MaxMessageBytes())),
		// Innermost, so it sees the Pattern the mux stores on the request.
		MetricsMiddleware(s.metrics),
	)

	s.inner = &http.Server{
		Handler:           chain(mux, mw...),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		// No WriteTimeout: DELETE /queues/{queue} blocks until a message arrives.
		IdleTimeout: 120 * time.Second,
	}
	s.inner.RegisterOnShutdown(s.streams.CloseAll)
	return s
}

// Handler returns the composed http.Handler (useful for testing).
func (s *Server) Handler() http.Handler { return s.inner.Handler }

// Streams returns the WebSocket handler, mainly so tests can observe open
// streams.
func (s *Server) Streams() *websocket.Handler { return s.streams }

// ListenAndServe starts the server on the given address (e.g. ":42080").
// It returns nil after Shutdown.
func (s *Server) ListenAndServe(addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(l)
}

// Serve accepts connections on l until Shutdown.
func (s *Server) Serve(l net.Listener) error {
	s.logger.Info("http listening", "addr", l.Addr().String())
	err := s.inner.Serve(l)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown gracefully stops the server, waiting up to ctx's deadline for
// in-flight requests to finish.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.inner.Shutdown(ctx)
}
