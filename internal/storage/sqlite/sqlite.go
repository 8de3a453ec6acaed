// Package sqlite is a storage.StorageEngine backed by a SQLite database
// (pure Go driver, no CGO) in WAL mode.
//
// Schema:
//
//	messages(queue TEXT, seq INTEGER, data BLOB, PRIMARY KEY (queue, seq))
//
// The primary key doubles as the FIFO index: Load reads rows ordered by
// (queue, seq).
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/sneh-joshi/litemq/internal/storage"
	"github.com/sneh-joshi/litemq/internal/types"
)

const fileName = "queues.sqlite"

const schema = `
CREATE TABLE IF NOT EXISTS messages (
	queue TEXT    NOT NULL,
	seq   INTEGER NOT NULL,
	data  BLOB    NOT NULL,
	PRIMARY KEY (queue, seq)
) WITHOUT ROWID`

// Storage is the SQLite implementation of storage.StorageEngine.
// All methods are safe for concurrent use.
type Storage struct {
	db   *sql.DB
	path string

	mu     sync.RWMutex
	closed bool
}

// Ensure Storage satisfies the interface at compile time.
var _ storage.StorageEngine = (*Storage)(nil)

// Open opens (or creates) queues.sqlite in dir, verifies its integrity and
// applies the schema.
//
// synchronous=FULL makes every committed transaction durable (FsyncAlways);
// the other policies use NORMAL, which in WAL mode survives a process crash
// but may lose the newest transactions on power loss.
func Open(dir string, opts storage.Options) (*Storage, error) {
	opts = opts.WithDefaults()
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("sqlite: create dir %s: %w", dir, err)
	}

	path := filepath.Join(dir, fileName)
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", path, err)
	}
	// One connection: SQLite allows a single writer, and the pragmas below
	// are per-connection.
	db.SetMaxOpenConns(1)

	synchronous := "NORMAL"
	if opts.Fsync == storage.FsyncAlways {
		synchronous = "FULL"
	}
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous = " + synchronous,
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("sqlite: apply pragma %q: %w", pragma, execErr)
		}
	}

	s := &Storage{db: db, path: path}
	if err := s.checkIntegrity(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: apply schema: %w", err)
	}
	return s, nil
}

func (s *Storage) checkIntegrity() error {
	var result string
	if err := s.db.QueryRow("PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("sqlite: integrity check: %w", err)
	}
	if !strings.EqualFold(result, "ok") {
		return fmt.Errorf("%w: sqlite integrity check: %s", storage.ErrCorrupted, result)
	}
	return nil
}

// Commit applies rec in one implicit transaction.
func (s *Storage) Commit(rec types.Record) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return storage.ErrClosed
	}

	ctx := context.Background()
	var err error
	switch rec.Op {
	case types.OpEnqueue:
		data := rec.Data
		if data == nil {
			data = []byte{} // NOT NULL column
		}
		_, err = s.db.ExecContext(ctx,
			"INSERT INTO messages (queue, seq, data) VALUES (?, ?, ?)",
			rec.Queue, int64(rec.Seq), data)
	case types.OpDequeue:
		_, err = s.db.ExecContext(ctx,
			"DELETE FROM messages WHERE queue = ? AND seq = ?",
			rec.Queue, int64(rec.Seq))
	case types.OpPurge:
		_, err = s.db.ExecContext(ctx, "DELETE FROM messages WHERE queue = ?", rec.Queue)
	case types.OpFlush:
		_, err = s.db.ExecContext(ctx, "DELETE FROM messages")
	default:
		err = fmt.Errorf("unknown op %d", rec.Op)
	}
	if err != nil {
		return fmt.Errorf("sqlite: commit %s: %w", rec, err)
	}
	return nil
}

// Load calls fn for every non-empty queue, messages in Seq order.
func (s *Storage) Load(fn func(queue string, msgs []types.Message) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return storage.ErrClosed
	}

	rows, err := s.db.QueryContext(context.Background(),
		"SELECT queue, seq, data FROM messages ORDER BY queue, seq")
	if err != nil {
		return fmt.Errorf("sqlite: load: %w", err)
	}
	defer rows.Close()

	var (
		current string
		msgs    []types.Message
	)
	for rows.Next() {
		var (
			queue string
			seq   int64
			data  []byte
		)
		if err := rows.Scan(&queue, &seq, &data); err != nil {
			return fmt.Errorf("sqlite: load: %w", err)
		}
		if queue != current && len(msgs) > 0 {
			if err := fn(current, msgs); err != nil {
				return err
			}
			msgs = nil
		}
		current = queue
		msgs = append(msgs, types.Message{Seq: uint64(seq), Data: data})
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("sqlite: load: %w", err)
	}
	if len(msgs) > 0 {
		return fn(current, msgs)
	}
	return nil
}

// Healthy pings the database.
func (s *Storage) Healthy() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return storage.ErrClosed
	}
	if err := s.db.Ping(); err != nil {
		return fmt.Errorf("sqlite: ping: %w", err)
	}
	return nil
}

// Close checkpoints the WAL and closes the database. Safe to call twice.
func (s *Storage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	_, ckErr := s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("sqlite: close: %w", err)
	}
	if ckErr != nil && !errors.Is(ckErr, sql.ErrConnDone) {
		return fmt.Errorf("sqlite: checkpoint on close: %w", ckErr)
	}
	return nil
}
