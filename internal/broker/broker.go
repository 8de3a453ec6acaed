// Package broker is the central orchestrator for LiteMQ.
//
// All transport code (gRPC, HTTP) talks to the Broker, never directly to the
// queue or storage layer.
//
// Data flow:
//
//	Producer → Broker.Enqueue → queue.Queue.Enqueue → StorageEngine.Commit
//	Consumer → Broker.Dequeue → queue.Queue.Dequeue → StorageEngine.Commit
//	Admin    → Broker.Purge / Broker.Flush → StorageEngine.Commit
package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sneh-joshi/litemq/internal/config"
	"github.com/sneh-joshi/litemq/internal/metrics"
	"github.com/sneh-joshi/litemq/internal/node"
	"github.com/sneh-joshi/litemq/internal/queue"
	"github.com/sneh-joshi/litemq/internal/storage"
)

// ─── Error sentinels ──────────────────────────────────────────────────────────

var (
	// ErrInvalidQueueName is returned for an empty or over-long queue name.
	ErrInvalidQueueName = errors.New("broker: invalid queue name")
	// ErrMessageTooLarge is returned when a payload exceeds
	// queue.max_message_size_kb.
	ErrMessageTooLarge = errors.New("broker: message too large")
	// ErrClosed is returned by every operation once Close has begun, including
	// Dequeue calls that were blocked when it started.
	ErrClosed = errors.New("broker: closed")
)

// QueueInfo is a point-in-time snapshot of one queue.
type QueueInfo struct {
	Name    string `json:"name"`
	Length  int64  `json:"length"`
	Waiters int    `json:"waiters"`
}

// ─── Option / functional options ─────────────────────────────────────────────

// Option is a functional option for the Broker.
type Option func(*Broker)

// WithMetrics attaches a metrics.Registry so that every operation and every
// storage commit is recorded.
func WithMetrics(reg *metrics.Registry) Option {
	return func(b *Broker) { b.metrics = reg }
}

// WithLogger replaces slog.Default() as the broker's logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Broker) { b.logger = l }
}

// WithEngine makes Open use eng instead of the engine named by
// cfg.Storage.Engine. The broker takes ownership and closes it.
func WithEngine(eng storage.StorageEngine) Option {
	return func(b *Broker) { b.eng = eng }
}

// ─── Broker ───────────────────────────────────────────────────────────────────

// Broker wires the node, the storage engine, and the queue manager into a
// single facade used by every transport layer.
//
// All methods are safe for concurrent use.
type Broker struct {
	cfg    *config.Config
	node   *node.Node
	eng    storage.StorageEngine
	qm     *queue.Manager
	logger *slog.Logger

	metrics *metrics.Registry

	// ctx is cancelled when Close begins so blocked Dequeue calls return.
	ctx    context.Context
	cancel context.CancelFunc

	// mu is held shared by every operation and exclusively by Close, so the
	// engine is never closed under an in-flight commit.
	mu     sync.RWMutex
	closed bool

	closeOnce sync.Once
	closeErr  error
}

// Open is the startup hook: it locks cfg.Node.DataDir, opens the configured
// storage engine, rebuilds every queue from it, and returns a broker ready
// to serve. Any failure, including a corrupt store, is returned and nothing
// is left open.
func Open(cfg *config.Config, opts ...Option) (*Broker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("broker: config: %w", err)
	}

	b := &Broker{cfg: cfg, logger: slog.Default()}
	for _, o := range opts {
		o(b)
	}

	n, err := node.Open(cfg.Node.DataDir, cfg.Node.ID)
	if err != nil {
		if b.eng != nil {
			_ = b.eng.Close()
		}
		return nil, err
	}
	b.node = n

	if b.eng == nil {
		eng, err := openEngine(cfg, b.logger)
		if err != nil {
			_ = n.Close()
			return nil, err
		}
		b.eng = eng
	}
	b.eng = instrument(b.eng, b.metrics)

	start := time.Now()
	b.qm = queue.NewManager(b.eng)
	queues, msgs, err := b.qm.Load()
	if err != nil {
		_ = b.eng.Close()
		_ = n.Close()
		return nil, fmt.Errorf("broker: recover: %w", err)
	}
	b.metrics.WatchQueues(b.qm.Stats)

	b.ctx, b.cancel = context.WithCancel(context.Background())
	b.logger.Info("broker ready",
		"node_id", n.ID(),
		"data_dir", cfg.Node.DataDir,
		"engine", cfg.Storage.Engine,
		"fsync", cfg.Storage.Fsync,
		"queues", queues,
		"messages", msgs,
		"recovery", time.Since(start).Round(time.Millisecond),
	)
	return b, nil
}

// Close is the shutdown hook. Blocked Dequeue calls return ErrClosed, new
// calls are refused, in-flight mutations finish, and then the storage engine
// is flushed and closed and the data directory released. Safe to call more
// than once.
func (b *Broker) Close() error {
	b.closeOnce.Do(func() {
		b.cancel()

		b.mu.Lock()
		b.closed = true
		b.mu.Unlock()

		b.closeErr = errors.Join(b.eng.Close(), b.node.Close())
		if b.closeErr != nil {
			b.logger.Error("broker close", "err", b.closeErr)
			return
		}
		b.logger.Info("broker closed")
	})
	return b.closeErr
}

// NodeID returns the identity of the data directory.
func (b *Broker) NodeID() node.ID { return b.node.ID() }

// Uptime is the time since Open.
func (b *Broker) Uptime() time.Duration { return b.node.Uptime() }

// Config returns the configuration the broker was opened with.
func (b *Broker) Config() *config.Config { return b.cfg }

// begin registers an in-flight operation. The returned func ends it.
func (b *Broker) begin() (func(), error) {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return nil, ErrClosed
	}
	return b.mu.RUnlock, nil
}

// ValidateQueueName reports whether name is usable as a queue name, wrapping
// ErrInvalidQueueName when it is not.
func (b *Broker) ValidateQueueName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty", ErrInvalidQueueName)
	}
	if len(name) > b.cfg.Queue.MaxNameBytes {
		return fmt.Errorf("%w: %d bytes exceeds limit of %d", ErrInvalidQueueName, len(name), b.cfg.Queue.MaxNameBytes)
	}
	return nil
}

// ─── Operations ───────────────────────────────────────────────────────────────

// Enqueue durably appends data to the named queue, creating the queue on
// first use, and returns the queue length the append produced (always >= 1).
// If a consumer is blocked on the queue the message goes straight to it.
func (b *Broker) Enqueue(ctx context.Context, name string, data []byte) (int64, error) {
	if err := b.ValidateQueueName(name); err != nil {
		return 0, err
	}
	if max := b.cfg.MaxMessageBytes(); len(data) > max {
		return 0, fmt.Errorf("%w: %d bytes exceeds limit of %d", ErrMessageTooLarge, len(data), max)
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	end, err := b.begin()
	if err != nil {
		return 0, err
	}
	defer end()

	n, err := b.qm.GetOrCreate(name).Enqueue(data)
	if err != nil {
		return 0, fmt.Errorf("broker: enqueue to %q: %w", name, err)
	}
	b.metrics.Enqueued(name)
	b.logger.Info("ENQUEUE", "queue", name, "length", n)
	b.logger.Debug("ENQUEUE payload", "queue", name, "bytes", len(data))
	return int64(n), nil
}

// Dequeue removes and returns the oldest message of the named queue, blocking
// while it is empty. There is no server-side timeout: the call waits until a
// message arrives, ctx is done (ctx.Err() is returned), or the broker closes
// (ErrClosed). The removal is durable before Dequeue returns.
func (b *Broker) Dequeue(ctx context.Context, name string) ([]byte, error) {
	if err := b.ValidateQueueName(name); err != nil {
		return nil, err
	}
	end, err := b.begin()
	if err != nil {
		return nil, err
	}
	defer end()

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	stop := context.AfterFunc(b.ctx, func() { cancel(ErrClosed) })
	defer stop()

	b.logger.Info("DEQUEUE", "queue", name)
	msg, err := b.qm.GetOrCreate(name).Dequeue(ctx)
	if err != nil {
		if errors.Is(context.Cause(ctx), ErrClosed) {
			return nil, ErrClosed
		}
		if ctx.Err() != nil {
			b.logger.Debug("DEQUEUE cancelled", "queue", name, "err", err)
			return nil, err
		}
		return nil, fmt.Errorf("broker: dequeue from %q: %w", name, err)
	}
	b.metrics.Dequeued(name)
	b.logger.Debug("DEQUEUE delivered", "queue", name, "bytes", len(msg.Data))
	return msg.Data, nil
}

// Length returns the number of stored messages in the named queue. It never
// blocks on I/O and never fails: unknown or invalid names have length 0.
func (b *Broker) Length(name string) int64 {
	q, ok := b.qm.Get(name)
	if !ok {
		return 0
	}
	return int64(q.Len())
}

// Purge durably empties the named queue and returns how many messages it
// removed. Consumers blocked on the queue keep waiting.
func (b *Broker) Purge(ctx context.Context, name string) (int64, error) {
	if err := b.ValidateQueueName(name); err != nil {
		return 0, err
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	end, err := b.begin()
	if err != nil {
		return 0, err
	}
	defer end()

	q, ok := b.qm.Get(name)
	if !ok {
		return 0, nil
	}
	n, err := q.Purge()
	if err != nil {
		return 0, fmt.Errorf("broker: purge %q: %w", name, err)
	}
	b.metrics.Purged(name, n)
	b.logger.Info("PURGE", "queue", name, "removed", n)
	return int64(n), nil
}

// Flush durably empties every queue. Blocked consumers keep waiting.
func (b *Broker) Flush(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	end, err := b.begin()
	if err != nil {
		return err
	}
	defer end()

	n, err := b.qm.Flush()
	if err != nil {
		return fmt.Errorf("broker: flush: %w", err)
	}
	b.metrics.Flushed()
	b.logger.Info("FLUSH", "removed", n)
	return nil
}

// Health reports nil while the broker accepts requests: it is open and its
// storage engine can still make mutations durable.
func (b *Broker) Health() error {
	end, err := b.begin()
	if err != nil {
		return err
	}
	defer end()
	if err := b.eng.Healthy(); err != nil {
		return fmt.Errorf("broker: storage unhealthy: %w", err)
	}
	return nil
}

// Queues returns a snapshot of every known queue, sorted by name.
func (b *Broker) Queues() []QueueInfo {
	stats := b.qm.Stats()
	out := make([]QueueInfo, len(stats))
	for i, s := range stats {
		out[i] = QueueInfo{Name: s.Name, Length: int64(s.Length), Waiters: s.Waiters}
	}
	return out
}
