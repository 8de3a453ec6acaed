// Package websocket streams one queue over a WebSocket connection.
//
// Clients open a WebSocket connection to:
//
//	GET /queues/{queue}/ws
//
// Consumption is credit based: the server runs one blocking dequeue for every
// pull frame it has received, so a message leaves the queue only after the
// client asked for it. Producers send enqueue frames on the same connection.
//
// Client → server frames:
//
//	{"type":"pull"}
//	{"type":"enqueue","data":"<base64>"}
//
// Server → client frames:
//
//	{"type":"message","queue":"jobs","data":"<base64>"}
//	{"type":"enqueued","queue":"jobs","length":3}
//	{"type":"error","error":"..."}
//
// When the broker closes, every stream receives a going-away close frame.
package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	gorillaws "github.com/gorilla/websocket"

	"github.com/sneh-joshi/litemq/internal/broker"
	"github.com/sneh-joshi/litemq/internal/metrics"
)

const (
	// MaxPulls is how many pull frames may be outstanding per connection.
	MaxPulls = 64

	writeWait = 10 * time.Second
)

// Frame types.
const (
	TypePull     = "pull"
	TypeEnqueue  = "enqueue"
	TypeMessage  = "message"
	TypeEnqueued = "enqueued"
	TypeError    = "error"
)

// ClientFrame is the JSON structure a client sends.
type ClientFrame struct {
	Type string `json:"type"`
	Data []byte `json:"data,omitempty"`
}

// ServerFrame is the JSON structure the server sends.
type ServerFrame struct {
	Type   string `json:"type"`
	Queue  string `json:"queue,omitempty"`
	Data   []byte `json:"data,omitempty"`
	Length int64  `json:"length,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Handler serves the WebSocket endpoint. It is mounted by the HTTP server
// and reads the queue name from r.PathValue("queue").
type Handler struct {
	broker   *broker.Broker
	logger   *slog.Logger
	metrics  *metrics.Registry
	upgrader gorillaws.Upgrader

	mu    sync.Mutex
	conns map[*gorillaws.Conn]struct{}
}

// NewHandler returns a Handler streaming queues of b. reg may be nil.
func NewHandler(b *broker.Broker, logger *slog.Logger, reg *metrics.Registry) *Handler {
	return &Handler{
		broker:  b,
		logger:  logger.With("component", "websocket"),
		metrics: reg,
		upgrader: gorillaws.Upgrader{
			CheckOrigin:     sameOrigin,
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
		conns: make(map[*gorillaws.Conn]struct{}),
	}
}

// sameOrigin rejects cross-origin upgrades from browsers. Requests without
// an Origin header (native clients, curl) are allowed. Hosts are compared
// without the scheme so ws:// and http:// match.
func sameOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return false
	}
	return u.Host == r.Host
}

// ServeHTTP upgrades the connection and runs the stream until either side
// goes away.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	queue := r.PathValue("queue")
	if err := h.broker.ValidateQueueName(queue); err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied with an HTTP error.
		h.logger.Warn("websocket upgrade failed", "queue", queue, "err", err)
		return
	}
	h.track(conn)
	defer h.untrack(conn)

	// Frames carry base64, a third larger than the payload.
	conn.SetReadLimit(int64(h.broker.Config().MaxMessageBytes())*4/3 + 1024)

	s := &stream{
		h:     h,
		conn:  conn,
		queue: queue,
		pulls: make(chan struct{}, MaxPulls),
	}
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.deliver(ctx)
	}()
	s.read(ctx)
	cancel()
	wg.Wait()
}

// CloseAll sends a going-away close frame to every open stream and closes
// it. http.Server.Shutdown does not track hijacked connections, so the HTTP
// server registers this as a shutdown hook.
func (h *Handler) CloseAll() {
	h.mu.Lock()
	conns := make([]*gorillaws.Conn, 0, len(h.conns))
	for c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	for _, c := range conns {
		closeConn(c, gorillaws.CloseGoingAway, "server shutting down")
	}
}

// Open returns the number of open streams.
func (h *Handler) Open() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

func (h *Handler) track(c *gorillaws.Conn) {
	h.mu.Lock()
	h.conns[c] = struct{}{}
	h.mu.Unlock()
	h.metrics.StreamOpened()
}

func (h *Handler) untrack(c *gorillaws.Conn) {
	h.mu.Lock()
	delete(h.conns, c)
	h.mu.Unlock()
	_ = c.Close()
	h.metrics.StreamClosed()
}

func closeConn(c *gorillaws.Conn, code int, text string) {
	msg := gorillaws.FormatCloseMessage(code, text)
	_ = c.WriteControl(gorillaws.CloseMessage, msg, time.Now().Add(writeWait))
	_ = c.Close()
}

// ─── stream ───────────────────────────────────────────────────────────────────

// stream is one connection. read runs on the handler goroutine, deliver on
// its own; writes from both are serialised by wmu.
type stream struct {
	h     *Handler
	conn  *gorillaws.Conn
	queue string
	pulls chan struct{}

	wmu sync.Mutex
}

func (s *stream) write(f ServerFrame) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteJSON(f)
}

func (s *stream) writeError(err error) {
	_ = s.write(ServerFrame{Type: TypeError, Queue: s.queue, Error: err.Error()})
}

// read handles client frames until the connection fails or closes.
func (s *stream) read(ctx context.Context) {
	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			if gorillaws.IsUnexpectedCloseError(err, gorillaws.CloseNormalClosure, gorillaws.CloseGoingAway) {
				s.h.logger.Debug("websocket read failed", "queue", s.queue, "err", err)
			}
			return
		}
		var f ClientFrame
		if err := json.Unmarshal(raw, &f); err != nil {
			s.writeError(fmt.Errorf("malformed frame: %w", err))
			continue
		}

		switch f.Type {
		case TypePull:
			select {
			case s.pulls <- struct{}{}:
			default:
				s.writeError(fmt.Errorf("more than %d outstanding pulls", MaxPulls))
			}
		case TypeEnqueue:
			n, err := s.h.broker.Enqueue(ctx, s.queue, f.Data)
			if err != nil {
				s.writeError(err)
				continue
			}
			_ = s.write(ServerFrame{Type: TypeEnqueued, Queue: s.queue, Length: n})
		default:
			s.writeError(fmt.Errorf("unknown frame type %q", f.Type))
		}
	}
}

// deliver runs one blocking dequeue per pull and writes the result.
func (s *stream) deliver(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.pulls:
		}

		data, err := s.h.broker.Dequeue(ctx, s.queue)
		switch {
		case err == nil:
			if werr := s.write(ServerFrame{Type: TypeMessage, Queue: s.queue, Data: data}); werr != nil {
				s.h.logger.Warn("dequeued message not delivered", "queue", s.queue, "bytes", len(data), "err", werr)
				return
			}
		case errors.Is(err, broker.ErrClosed):
			s.wmu.Lock()
			closeConn(s.conn, gorillaws.CloseGoingAway, "broker closed")
			s.wmu.Unlock()
			return
		case ctx.Err() != nil:
			return
		default:
			s.writeError(err)
		}
	}
}
