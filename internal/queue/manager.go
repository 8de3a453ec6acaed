// Package queue holds LiteMQ's in-memory engine: one Queue per name, each
// pairing an ordered message list with the FIFO of consumers blocked on it,
// and a Manager that owns them all.
//
// Queues are created implicitly on first use and never removed: an emptied
// queue is indistinguishable from one that never existed (length 0, dequeue
// blocks), so keeping the entry costs nothing observable and spares blocked
// consumers from racing a deletion.
package queue

import (
	"fmt"
	"sort"
	"sync"

	"github.com/sneh-joshi/litemq/internal/storage"
	"github.com/sneh-joshi/litemq/internal/types"
)

// ─── Manager ─────────────────────────────────────────────────────────────────

// Manager owns the lifecycle of all Queue instances.
//
// Responsibilities:
//   - Create queues on demand (GetOrCreate).
//   - Rebuild queues from the storage engine on startup (Load).
//   - Flush every queue atomically with respect to all other operations.
//
// The registry lock is held only for lookups, so operations on different
// queues never wait for each other. Flush is the one exception: it holds the
// registry write lock and every queue lock while it commits.
//
// All methods are safe for concurrent use.
type Manager struct {
	eng storage.StorageEngine

	mu     sync.RWMutex
	queues map[string]*Queue
}

// NewManager creates an empty Manager that commits through eng.
func NewManager(eng storage.StorageEngine) *Manager {
	return &Manager{
		eng:    eng,
		queues: make(map[string]*Queue),
	}
}

// Load rebuilds queues from the storage engine. Call it once, before the
// Manager is shared.
func (m *Manager) Load() (queues, messages int, err error) {
	err = m.eng.Load(func(name string, msgs []types.Message) error {
		q := m.GetOrCreate(name)
		q.restore(msgs)
		queues++
		messages += len(msgs)
		return nil
	})
	if err != nil {
		return 0, 0, fmt.Errorf("queue: load: %w", err)
	}
	return queues, messages, nil
}

// GetOrCreate returns the Queue for name, creating it first if needed.
func (m *Manager) GetOrCreate(name string) *Queue {
	m.mu.RLock()
	q, ok := m.queues[name]
	m.mu.RUnlock()
	if ok {
		return q
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if q, ok := m.queues[name]; ok {
		return q
	}
	q = newQueue(name, m.eng)
	m.queues[name] = q
	return q
}

// Get returns the Queue for name if it has ever been used.
func (m *Manager) Get(name string) (*Queue, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	q, ok := m.queues[name]
	return q, ok
}

// Flush durably empties every queue. Blocked consumers keep waiting and
// sequence numbers keep counting up, so a consumer committing a dequeue that
// raced the flush cannot touch a message enqueued after it.
func (m *Manager) Flush() (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	names := make([]string, 0, len(m.queues))
	for name := range m.queues {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		q := m.queues[name]
		q.mu.Lock()
		defer q.mu.Unlock()
	}

	if err := m.eng.Commit(types.FlushRecord()); err != nil {
		return 0, err
	}
	removed := 0
	for _, q := range m.queues {
		removed += q.clearLocked()
	}
	return removed, nil
}

// Stats returns a snapshot of every known queue, sorted by name.
func (m *Manager) Stats() []Stats {
	m.mu.RLock()
	qs := make([]*Queue, 0, len(m.queues))
	for _, q := range m.queues {
		qs = append(qs, q)
	}
	m.mu.RUnlock()

	out := make([]Stats, 0, len(qs))
	for _, q := range qs {
		out = append(out, q.Stats())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Count returns the number of known queues.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.queues)
}
