// Package memory is a non-durable storage.StorageEngine.
//
// It keeps committed records in a storage.State, so Load after Commit behaves
// exactly like a durable engine within one process. It backs ephemeral
// brokers (storage.engine: memory) and tests, which use Fail to make the next
// commits return an error.
package memory

import (
	"bytes"
	"sync"

	"github.com/sneh-joshi/litemq/internal/storage"
	"github.com/sneh-joshi/litemq/internal/types"
)

// Storage is the in-memory implementation of storage.StorageEngine.
// All methods are safe for concurrent use.
type Storage struct {
	mu     sync.Mutex
	state  *storage.State
	fail   []error
	closed bool
}

// Ensure Storage satisfies the interface at compile time.
var _ storage.StorageEngine = (*Storage)(nil)

// New returns an empty Storage.
func New() *Storage {
	return &Storage{state: storage.NewState()}
}

// Fail queues errs; each subsequent Commit consumes one and returns it
// without applying its record. A nil entry lets that commit through.
func (s *Storage) Fail(errs ...error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = append(s.fail, errs...)
}

// Commit records rec.
func (s *Storage) Commit(rec types.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return storage.ErrClosed
	}
	if len(s.fail) > 0 {
		err := s.fail[0]
		s.fail = s.fail[1:]
		if err != nil {
			return err
		}
	}
	rec.Data = bytes.Clone(rec.Data)
	return s.state.Apply(rec)
}

// Load calls fn for every non-empty queue, messages in Seq order.
func (s *Storage) Load(fn func(queue string, msgs []types.Message) error) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return storage.ErrClosed
	}
	// Snapshot under the lock so fn may call back into s.
	type queueMsgs struct {
		name string
		msgs []types.Message
	}
	var snap []queueMsgs
	_ = s.state.Each(func(queue string, msgs []types.Message) error {
		snap = append(snap, queueMsgs{queue, msgs})
		return nil
	})
	s.mu.Unlock()

	for _, q := range snap {
		if err := fn(q.name, q.msgs); err != nil {
			return err
		}
	}
	return nil
}

// Healthy returns nil until Close.
func (s *Storage) Healthy() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return storage.ErrClosed
	}
	return nil
}

// Close marks the storage closed. Safe to call multiple times.
func (s *Storage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Reopen returns a Storage holding the same committed state, as if the
// process had restarted on top of a durable engine.
func (s *Storage) Reopen() *Storage {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := New()
	_ = s.state.Each(func(queue string, msgs []types.Message) error {
		for _, m := range msgs {
			_ = n.state.Apply(types.EnqueueRecord(queue, m))
		}
		return nil
	})
	return n
}
