// Package bolt is a storage.StorageEngine backed by a single bbolt file.
//
// Layout inside queues.db:
//
//	bucket "queues"
//	  └── bucket <queue name>
//	        <seq: 8 bytes big-endian> → <0x01><payload>
//
// bbolt iterates keys in byte order, so big-endian sequence keys come back in
// FIFO order without sorting. Values carry a one-byte format tag ahead of the
// payload so a zero-length message is still a non-empty value.
package bolt

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"go.etcd.io/bbolt"

	"github.com/sneh-joshi/litemq/internal/storage"
	"github.com/sneh-joshi/litemq/internal/types"
)

const fileName = "queues.db"

// valueV1 tags values written by this version of the engine.
const valueV1 byte = 0x01

var bucketQueues = []byte("queues")

// Storage is the bbolt implementation of storage.StorageEngine.
// All methods are safe for concurrent use.
type Storage struct {
	db   *bbolt.DB
	opts storage.Options

	mu     sync.RWMutex
	closed bool

	commits atomic.Int64 // used by FsyncBatch

	fsyncDone chan struct{}
	fsyncWG   sync.WaitGroup
	closeOnce sync.Once
}

// Ensure Storage satisfies the interface at compile time.
var _ storage.StorageEngine = (*Storage)(nil)

// Open opens (or creates) queues.db in dir.
//
// With FsyncAlways every Commit is an fsynced bbolt transaction. Other
// policies open the database with NoSync and flush it with db.Sync from a
// background ticker (interval) or every FsyncBatchSize commits (batch).
func Open(dir string, opts storage.Options) (*Storage, error) {
	opts = opts.WithDefaults()
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("bolt: create dir %s: %w", dir, err)
	}

	path := filepath.Join(dir, fileName)
	db, err := bbolt.Open(path, 0o640, &bbolt.Options{
		Timeout: time.Second,
		NoSync:  opts.Fsync != storage.FsyncAlways,
	})
	if err != nil {
		return nil, fmt.Errorf("bolt: open %s: %w", path, err)
	}

	if err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketQueues)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("bolt: init bucket: %w", err)
	}

	s := &Storage{db: db, opts: opts}
	s.startFsync()
	return s, nil
}

// Commit applies rec in one bbolt transaction.
func (s *Storage) Commit(rec types.Record) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return storage.ErrClosed
	}

	err := s.db.Update(func(tx *bbolt.Tx) error {
		root := tx.Bucket(bucketQueues)
		switch rec.Op {
		case types.OpEnqueue:
			b, err := root.CreateBucketIfNotExists([]byte(rec.Queue))
			if err != nil {
				return err
			}
			val := make([]byte, 1+len(rec.Data))
			val[0] = valueV1
			copy(val[1:], rec.Data)
			return b.Put(seqKey(rec.Seq), val)
		case types.OpDequeue:
			b := root.Bucket([]byte(rec.Queue))
			if b == nil {
				return nil
			}
			return b.Delete(seqKey(rec.Seq))
		case types.OpPurge:
			err := root.DeleteBucket([]byte(rec.Queue))
			if errors.Is(err, bbolt.ErrBucketNotFound) {
				return nil
			}
			return err
		case types.OpFlush:
			if err := tx.DeleteBucket(bucketQueues); err != nil {
				return err
			}
			_, err := tx.CreateBucket(bucketQueues)
			return err
		default:
			return fmt.Errorf("unknown op %d", rec.Op)
		}
	})
	if err != nil {
		return fmt.Errorf("bolt: commit %s: %w", rec, err)
	}

	if s.opts.Fsync == storage.FsyncBatch && s.commits.Add(1)%int64(s.opts.FsyncBatchSize) == 0 {
		if err := s.db.Sync(); err != nil {
			return fmt.Errorf("bolt: sync: %w", err)
		}
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

	return s.db.View(func(tx *bbolt.Tx) error {
		root := tx.Bucket(bucketQueues)
		return root.ForEach(func(name, v []byte) error {
			if v != nil {
				return fmt.Errorf("%w: bolt: stray key %q in queues bucket", storage.ErrCorrupted, name)
			}
			b := root.Bucket(name)
			var msgs []types.Message
			err := b.ForEach(func(k, v []byte) error {
				if len(k) != 8 || len(v) == 0 || v[0] != valueV1 {
					return fmt.Errorf("%w: bolt: bad entry in queue %q", storage.ErrCorrupted, name)
				}
				// bbolt memory is only valid inside the transaction.
				data := make([]byte, len(v)-1)
				copy(data, v[1:])
				msgs = append(msgs, types.Message{Seq: binary.BigEndian.Uint64(k), Data: data})
				return nil
			})
			if err != nil {
				return err
			}
			if len(msgs) == 0 {
				return nil
			}
			return fn(string(name), msgs)
		})
	})
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

// Close syncs and closes the database. Safe to call multiple times.
func (s *Storage) Close() error {
	var closeErr error
	s.closeOnce.Do(func() {
		s.stopFsync()
		s.mu.Lock()
		defer s.mu.Unlock()
		s.closed = true
		if s.opts.Fsync != storage.FsyncAlways {
			if err := s.db.Sync(); err != nil {
				closeErr = fmt.Errorf("bolt: sync on close: %w", err)
			}
		}
		if err := s.db.Close(); err != nil && closeErr == nil {
			closeErr = fmt.Errorf("bolt: close: %w", err)
		}
	})
	return closeErr
}

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
				if err := s.db.Sync(); err != nil {
					s.opts.Logger.Error("bolt: background fsync failed", "err", err)
				}
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

func seqKey(seq uint64) []byte {
	var k [8]byte
	binary.BigEndian.PutUint64(k[:], seq)
	return k[:]
}
