// Package client is the official Go SDK for LiteMQ.
//
// # Quick start
//
//	c, err := client.New("localhost:42090")
//	if err != nil { ... }
//	defer c.Close()
//
//	// Produce
//	n, err := c.Enqueue(ctx, "jobs", []byte(`{"id":42}`))
//
//	// Consume: blocks until a message arrives or ctx is done
//	data, err := c.Dequeue(ctx, "jobs")
//
// # Error handling
//
// Server-side failures are returned as *APIError carrying the gRPC status
// code. A cancelled or expired ctx surfaces as context.Canceled or
// context.DeadlineExceeded, so errors.Is works the same as for local calls.
//
// # Connection reuse
//
// Client is safe for concurrent use. All calls share one gRPC connection.
package client

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"github.com/sneh-joshi/litemq/pkg/litemqpb"
)

// ─── Error type ───────────────────────────────────────────────────────────────

// APIError is returned when the server answers an RPC with a non-OK status.
type APIError struct {
	Op      string     // RPC name, e.g. "Enqueue"
	Code    codes.Code // gRPC status code
	Message string     // server's status message
}

func (e *APIError) Error() string {
	return fmt.Sprintf("litemq: %s: %s: %s", e.Op, e.Code, e.Message)
}

// IsInvalidArgument reports whether the server rejected the request, for
// example an empty queue name or an oversized payload.
func IsInvalidArgument(err error) bool { return hasCode(err, codes.InvalidArgument) }

// IsUnavailable reports whether the server is shutting down or its storage
// is unhealthy.
func IsUnavailable(err error) bool { return hasCode(err, codes.Unavailable) }

func hasCode(err error, c codes.Code) bool {
	var ae *APIError
	return errors.As(err, &ae) && ae.Code == c
}

// ─── Client options ───────────────────────────────────────────────────────────

// Option configures a Client.
type Option func(*Client)

// defaultMaxMessageSize matches the server's default payload limit plus
// room for the request envelope.
const defaultMaxMessageSize = 4<<20 + 64<<10

// WithCredentials sets transport security. The default is plaintext.
func WithCredentials(creds credentials.TransportCredentials) Option {
	return func(c *Client) { c.creds = creds }
}

// WithMaxMessageSize raises the largest message the client sends or accepts.
// Match it to the server's queue.max_message_size_kb.
func WithMaxMessageSize(n int) Option {
	return func(c *Client) { c.maxMsg = n }
}

// WithDialOptions appends raw gRPC dial options, such as a custom dialer or
// interceptors.
func WithDialOptions(opts ...grpc.DialOption) Option {
	return func(c *Client) { c.dialOpts = append(c.dialOpts, opts...) }
}

// ─── Client ───────────────────────────────────────────────────────────────────

// Client is the LiteMQ gRPC client. It is safe for concurrent use.
type Client struct {
	conn *grpc.ClientConn
	rpc  litemqpb.LiteMQClient

	creds    credentials.TransportCredentials
	maxMsg   int
	dialOpts []grpc.DialOption
}

// New creates a Client for the LiteMQ server at addr ("host:port" or any
// gRPC target). No connection is made until the first call.
//
//	c, err := client.New("localhost:42090")
func New(addr string, opts ...Option) (*Client, error) {
	c := &Client{
		creds:  insecure.NewCredentials(),
		maxMsg: defaultMaxMessageSize,
	}
	for _, o := range opts {
		o(c)
	}
	dial := append([]grpc.DialOption{
		grpc.WithTransportCredentials(c.creds),
		grpc.WithDefaultCallOptions(
			grpc.MaxCallRecvMsgSize(c.maxMsg),
			grpc.MaxCallSendMsgSize(c.maxMsg),
		),
	}, c.dialOpts...)

	conn, err := grpc.NewClient(addr, dial...)
	if err != nil {
		return nil, fmt.Errorf("litemq: dial %s: %w", addr, err)
	}
	c.conn = conn
	c.rpc = litemqpb.NewLiteMQClient(conn)
	return c, nil
}

// Close releases the connection.
func (c *Client) Close() error { return c.conn.Close() }

// ─── Operations ───────────────────────────────────────────────────────────────

// Enqueue appends data to the named queue and returns the queue's length
// after the append.
func (c *Client) Enqueue(ctx context.Context, queue string, data []byte) (int64, error) {
	resp, err := c.rpc.Enqueue(ctx, &litemqpb.EnqueueRequest{Queue: queue, Data: data})
	if err != nil {
		return 0, wrap("Enqueue", err)
	}
	return resp.GetCount(), nil
}

// Dequeue removes and returns the oldest message of the named queue. It
// blocks while the queue is empty; bound it with a ctx deadline. A message is
// never lost to a cancelled Dequeue.
func (c *Client) Dequeue(ctx context.Context, queue string) ([]byte, error) {
	resp, err := c.rpc.Dequeue(ctx, &litemqpb.QueueID{Queue: queue})
	if err != nil {
		return nil, wrap("Dequeue", err)
	}
	return resp.GetData(), nil
}

// Length returns the number of messages stored in the named queue.
func (c *Client) Length(ctx context.Context, queue string) (int64, error) {
	resp, err := c.rpc.Length(ctx, &litemqpb.QueueID{Queue: queue})
	if err != nil {
		return 0, wrap("Length", err)
	}
	return resp.GetCount(), nil
}

// Purge removes every message from the named queue and returns how many
// there were.
func (c *Client) Purge(ctx context.Context, queue string) (int64, error) {
	resp, err := c.rpc.Purge(ctx, &litemqpb.QueueID{Queue: queue})
	if err != nil {
		return 0, wrap("Purge", err)
	}
	return resp.GetCount(), nil
}

// Flush removes every message from every queue.
func (c *Client) Flush(ctx context.Context) error {
	_, err := c.rpc.Flush(ctx, &litemqpb.Nothing{})
	return wrap("Flush", err)
}

// Health returns nil while the server accepts requests.
func (c *Client) Health(ctx context.Context) error {
	_, err := c.rpc.Health(ctx, &litemqpb.Nothing{})
	return wrap("Health", err)
}

// wrap converts a gRPC error into an *APIError, or into the matching context
// error for cancellations and deadlines.
func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return fmt.Errorf("litemq: %s: %w", op, err)
	}
	switch st.Code() {
	case codes.Canceled:
		return fmt.Errorf("litemq: %s: %w", op, context.Canceled)
	case codes.DeadlineExceeded:
		return fmt.Errorf("litemq: %s: %w", op, context.DeadlineExceeded)
	}
	return &APIError{Op: op, Code: st.Code(), Message: st.Message()}
}
