// Package storage defines the StorageEngine abstraction behind every queue.
//
// The queue engine (and every layer above it) only interacts with durable
// state through this interface. A mutation is handed to Commit as a
// types.Record; Commit returns only once the record is durable according to
// the configured FsyncPolicy. On startup Load hands back the live messages of
// every queue, reconstructed from the committed records.
//
// Implementations:
//   - local.Journal   append-only journal file (default)
//   - bolt.Storage    bbolt B+tree, one bucket per queue
//   - pebble.Storage  Pebble LSM
//   - sqlite.Storage  SQLite table in WAL mode
//   - memory.Storage  non-durable, for ephemeral runs and tests
package storage

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sneh-joshi/litemq/internal/types"
)

// ErrClosed is returned by every method called after Close.
var ErrClosed = errors.New("storage: closed")

// ErrCorrupted is returned when durable state cannot be decoded. It is fatal
// at startup: the broker refuses to serve from a store it cannot trust.
var ErrCorrupted = errors.New("storage: corrupted")

// StorageEngine is the single abstraction through which queue mutations are
// persisted and recovered.
//
// Records for one queue are always committed in order by a single goroutine
// at a time (the queue's lock holder); records for different queues may be
// committed concurrently. All methods must be safe for concurrent use.
type StorageEngine interface {
	// Commit makes rec durable. When it returns nil the mutation survives a
	// restart; when it returns an error the mutation must be treated as not
	// having happened and the caller leaves its in-memory state unchanged.
	Commit(rec types.Record) error

	// Load calls fn once per non-empty queue with its live messages in
	// ascending Seq order. Iteration stops at the first error from fn.
	Load(fn func(queue string, msgs []types.Message) error) error

	// Healthy returns nil while the engine can accept commits.
	Healthy() error

	// Close flushes pending writes and releases files. Safe to call twice.
	Close() error
}

// ─── Options ─────────────────────────────────────────────────────────────────

// FsyncPolicy controls when writes are flushed to physical disk.
// Values mirror config.FsyncPolicy so the broker passes them straight through.
type FsyncPolicy string

const (
	FsyncAlways   FsyncPolicy = "always"   // fsync before every Commit returns
	FsyncInterval FsyncPolicy = "interval" // fsync every FsyncInterval in the background
	FsyncBatch    FsyncPolicy = "batch"    // fsync after every FsyncBatchSize commits
	FsyncNever    FsyncPolicy = "never"    // leave flushing to the OS
)

// Options tunes a StorageEngine. Zero values are replaced by DefaultOptions.
type Options struct {
	Fsync          FsyncPolicy
	FsyncInterval  time.Duration // used when Fsync == FsyncInterval
	FsyncBatchSize int           // used when Fsync == FsyncBatch

	// CompactionInterval is how often background compaction is considered.
	// Only engines that accumulate dead records (the journal) use it.
	CompactionInterval time.Duration
	// CompactionThreshold is the file size in bytes above which a
	// compaction pass actually rewrites the file. Zero compacts every pass.
	CompactionThreshold int64

	Logger *slog.Logger
}

// DefaultOptions returns production-safe defaults: every acknowledged
// mutation is on stable storage.
func DefaultOptions() Options {
	return Options{
		Fsync:               FsyncAlways,
		FsyncInterval:       200 * time.Millisecond,
		FsyncBatchSize:      64,
		CompactionInterval:  time.Minute,
		CompactionThreshold: 64 << 20,
		Logger:              slog.Default(),
	}
}

// WithDefaults returns o with every zero field replaced by its default.
func (o Options) WithDefaults() Options {
	d := DefaultOptions()
	if o.Fsync == "" {
		o.Fsync = d.Fsync
	}
	if o.FsyncInterval <= 0 {
		o.FsyncInterval = d.FsyncInterval
	}
	if o.FsyncBatchSize <= 0 {
		o.FsyncBatchSize = d.FsyncBatchSize
	}
	if o.CompactionInterval <= 0 {
		o.CompactionInterval = d.CompactionInterval
	}
	if o.CompactionThreshold < 0 {
		o.CompactionThreshold = 0
	}
	if o.Logger == nil {
		o.Logger = d.Logger
	}
	return o
}

// Validate reports an unknown fsync policy.
func (o Options) Validate() error {
	switch o.Fsync {
	case FsyncAlways, FsyncInterval, FsyncBatch, FsyncNever:
		return nil
	default:
		return fmt.Errorf("storage: unknown fsync policy %q", o.Fsync)
	}
}
