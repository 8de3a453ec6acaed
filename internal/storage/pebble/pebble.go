// Package pebble is a storage.StorageEngine backed by a Pebble LSM.
//
// Key layout:
//
//	'm' <queueLen: 2 bytes BE> <queue> <seq: 8 bytes BE>  → payload
//
// The length prefix keeps arbitrary queue names from colliding and groups
// each queue's keys into one contiguous, Seq-ordered range, so purge is a
// single range delete and flush deletes the whole 'm' keyspace.
package pebble

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/pebble"

	"github.com/sneh-joshi/litemq/internal/storage"
	"github.com/sneh-joshi/litemq/internal/types"
)

const (
	prefixMessage    byte = 'm'
	prefixMessageEnd byte = 'n'
)

// Storage is the Pebble implementation of storage.StorageEngine.
// All methods are safe for concurrent use.
type Storage struct {
	db   *pebble.DB
	opts storage.Options

	mu     sync.RWMutex
	closed bool

	commits atomic.Int64 // used by FsyncBatch
	synced  atomic.Int64 // background WAL syncs, for FsyncInterval

	fsyncDone chan struct{}
	fsyncWG   sync.WaitGroup
	closeOnce sync.Once
}

// Ensure Storage satisfies the interface at compile time.
var _ storage.StorageEngine = (*Storage)(nil)

// Open opens (or creates) a Pebble database in dir.
//
// FsyncAlways commits every write with pebble.Sync. FsyncInterval writes
// with pebble.NoSync and syncs the WAL from a background ticker every
// FsyncInterval. FsyncBatch syncs every FsyncBatchSize-th write, which also
// covers the writes before it. FsyncNever leaves the WAL to the OS.
func Open(dir string, opts storage.Options) (*Storage, error) {
	opts = opts.WithDefaults()
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("pebble: open %s: %w", dir, err)
	}
	s := &Storage{db: db, opts: opts}
	s.startFsync()
	return s, nil
}

// Commit applies rec as one Pebble batch.
func (s *Storage) Commit(rec types.Record) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return storage.ErrClosed
	}

	b := s.db.NewBatch()
	defer b.Close()

	var err error
	switch rec.Op {
	case types.OpEnqueue:
		err = b.Set(messageKey(rec.Queue, rec.Seq), rec.Data, nil)
	case types.OpDequeue:
		err = b.Delete(messageKey(rec.Queue, rec.Seq), nil)
	case types.OpPurge:
		start, end := queueBounds(rec.Queue)
		err = b.DeleteRange(start, end, nil)
	case types.OpFlush:
		err = b.DeleteRange([]byte{prefixMessage}, []byte{prefixMessageEnd}, nil)
	default:
		err = fmt.Errorf("unknown op %d", rec.Op)
	}
	if err != nil {
		return fmt.Errorf("pebble: commit %s: %w", rec, err)
	}

	if err := b.Commit(s.writeOptions()); err != nil {
		return fmt.Errorf("pebble: commit %s: %w", rec, err)
	}
	return nil
}

func (s *Storage) writeOptions() *pebble.WriteOptions {
	switch s.opts.Fsync {
	case storage.FsyncAlways:
		return pebble.Sync
	case storage.FsyncBatch:
		if s.commits.Add(1)%int64(s.opts.FsyncBatchSize) == 0 {
			return pebble.Sync
		}
	}
	return pebble.NoSync
}

// Load calls fn for every non-empty queue, messages in Seq order.
func (s *Storage) Load(fn func(queue string, msgs []types.Message) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return storage.ErrClosed
	}

	it, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte{prefixMessage},
		UpperBound: []byte{prefixMessageEnd},
	})
	if err != nil {
		return fmt.Errorf("pebble: iterate: %w", err)
	}
	defer it.Close()

	var (
		current string
		msgs    []types.Message
	)
	flush := func() error {
		if len(msgs) == 0 {
			return nil
		}
		err := fn(current, msgs)
		msgs = nil
		return err
	}

	for it.First(); it.Valid(); it.Next() {
		queue, seq, err := parseMessageKey(it.Key())
		if err != nil {
			return err
		}
		if queue != current {
			if err := flush(); err != nil {
				return err
			}
			current = queue
		}
		// Iterator memory is only valid until the next positioning call.
		data := append([]byte(nil), it.Value()...)
		msgs = append(msgs, types.Message{Seq: seq, Data: data})
	}
	if err := it.Error(); err != nil {
		return fmt.Errorf("pebble: iterate: %w", err)
	}
	return flush()
}

// Healthy returns nil until Close.
func (s *Storage) Healthy() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return storage.ErrClosed
	}
	return nil
}

// Close flushes the WAL and closes the database. Safe to call multiple times.
func (s *Storage) Close() error {
	var closeErr error
	s.closeOnce.Do(func() {
		s.stopFsync()
		s.mu.Lock()
		defer s.mu.Unlock()
		s.closed = true

		var syncErr error
		if s.opts.Fsync != storage.FsyncAlways {
			syncErr = s.syncWAL()
		}
		if err := s.db.Close(); err != nil {
			closeErr = fmt.Errorf("pebble: close: %w", err)
			return
		}
		if syncErr != nil {
			closeErr = fmt.Errorf("pebble: sync on close: %w", syncErr)
		}
	})
	return closeErr
}

// syncWAL forces every write so far to stable storage with an empty synced
// log entry.
func (s *Storage) syncWAL() error { return s.db.LogData(nil, pebble.Sync) }

func (s *Storage) startFsync() {
	if s.opts.Fsync != storage.FsyncInterval {
		return
	}
	s.fsyncDone = make(chan struct{})
	s.fsyncWG.Add(1)
	go func() {
		defer s.fsyncWG.Done()
		ticker := time.NewTicker(s.opts.FsyncInterval)
		defer ticker.Stop()
		for {
			select {
			case <-s.fsyncDone:
				return
			case <-ticker.C:
				if err := s.syncWAL(); err != nil {
					s.opts.Logger.Error("pebble: background fsync failed", "err", err)
					continue
				}
				s.synced.Add(1)
			}
		}
	}()
}

func (s *Storage) stopFsync() {
	if s.fsyncDone == nil {
		return
	}
	close(s.fsyncDone)
	s.fsyncWG.Wait()
}

// ─── keys ─────────────────────────────────────────────────────────────────────

func queuePrefix(queue string) []byte {
	k := make([]byte, 0, 3+len(queue)+8)
	k = append(k, prefixMessage)
	k = binary.BigEndian.AppendUint16(k, uint16(len(queue)))
	return append(k, queue...)
}

func messageKey(queue string, seq uint64) []byte {
	return binary.BigEndian.AppendUint64(queuePrefix(queue), seq)
}

// queueBounds returns the [start, end) range holding every key of queue.
func queueBounds(queue string) (start, end []byte) {
	start = queuePrefix(queue)
	end = binary.BigEndian.AppendUint64(append([]byte(nil), start...), ^uint64(0))
	return start, append(end, 0x00)
}

var errBadKey = errors.New("pebble: malformed message key")

func parseMessageKey(k []byte) (string, uint64, error) {
	if len(k) < 3 || k[0] != prefixMessage {
		return "", 0, fmt.Errorf("%w: %w %x", storage.ErrCorrupted, errBadKey, k)
	}
	qlen := int(binary.BigEndian.Uint16(k[1:]))
	if len(k) != 3+qlen+8 {
		return "", 0, fmt.Errorf("%w: %w %x", storage.ErrCorrupted, errBadKey, k)
	}
	return string(k[3 : 3+qlen]), binary.BigEndian.Uint64(k[3+qlen:]), nil
}
