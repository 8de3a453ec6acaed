package queue

import (
	"bytes"
	"container/list"
	"context"
	"sync"

	"github.com/sneh-joshi/litemq/internal/storage"
	"github.com/sneh-joshi/litemq/internal/types"
)

// Stats is a point-in-time snapshot of one queue.
type Stats struct {
	Name    string `json:"name"`
	Length  int    `json:"length"`
	Waiters int    `json:"waiters"`
}

// ─── Queue ────────────────────────────────────────────────────────────────────

// Queue is one named FIFO: its messages, its blocked consumers, and the
// durable record of both.
//
// Every mutation follows the same protocol under mu: commit the record to the
// storage engine, and only if that succeeds change memory. A failed commit
// leaves the queue exactly as it was.
//
// Architecture:
//   - "msgs" is a linked list of types.Message in ascending Seq order.
//   - "waiters" is the FIFO of blocked Dequeue calls. It is non-empty only
//     while msgs is empty: a message arriving while consumers wait goes
//     straight to the oldest of them.
//   - A handoff is committed as a dequeue by the producer, under mu, before
//     the waiter is resumed. The handed message is never back in msgs, so no
//     later message can be delivered ahead of it. A waiter whose context ends
//     after it was resumed still returns the message.
//
// All public methods are safe for concurrent use.
type Queue struct {
	name string
	eng  storage.StorageEngine

	mu      sync.Mutex
	msgs    *list.List // of types.Message, ascending Seq
	waiters waiterList
	lastSeq uint64 // highest Seq handed out
}

func newQueue(name string, eng storage.StorageEngine) *Queue {
	return &Queue{name: name, eng: eng, msgs: list.New()}
}

// Name returns the queue's name.
func (q *Queue) Name() string { return q.name }

// Enqueue durably appends data and returns the queue length the append
// produced, counting the new message even when it went straight to a waiting
// consumer. The result is therefore always at least 1.
func (q *Queue) Enqueue(data []byte) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	// Seq advances even if the commit fails so a number whose record may
	// have partially reached the disk is never reused.
	q.lastSeq++
	m := types.Message{Seq: q.lastSeq, Data: bytes.Clone(data)}
	if err := q.eng.Commit(types.EnqueueRecord(q.name, m)); err != nil {
		return 0, err
	}

	n := q.msgs.Len() + 1
	q.deliverLocked(m)
	return n, nil
}

// Dequeue removes and returns the oldest message, blocking while the queue is
// empty. It returns ctx.Err() if ctx is done first. A message already handed
// to this call when ctx ends is returned anyway, so it is never lost.
func (q *Queue) Dequeue(ctx context.Context) (types.Message, error) {
	q.mu.Lock()
	if el := q.msgs.Front(); el != nil {
		m := q.msgs.Remove(el).(types.Message)
		if err := q.eng.Commit(types.DequeueRecord(q.name, m)); err != nil {
			q.msgs.PushFront(m)
			q.mu.Unlock()
			return types.Message{}, err
		}
		q.mu.Unlock()
		return m, nil
	}
	if err := ctx.Err(); err != nil {
		q.mu.Unlock()
		return types.Message{}, err
	}
	w := q.waiters.register()
	q.mu.Unlock()
	return q.await(ctx, w)
}

// await blocks until w is resumed or ctx is done, whichever it observes first.
func (q *Queue) await(ctx context.Context, w *waiter) (types.Message, error) {
	select {
	case h := <-w.ch:
		return h.msg, h.err
	case <-ctx.Done():
	}

	q.mu.Lock()
	withdrawn := q.waiters.cancel(w)
	q.mu.Unlock()
	if withdrawn {
		return types.Message{}, ctx.Err()
	}
	// A producer resumed us before we could withdraw.
	h := <-w.ch
	return h.msg, h.err
}

// Len returns the number of messages stored in the queue. Messages already
// handed to a waiting consumer are not counted.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.msgs.Len()
}

// Stats returns a snapshot of the queue.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{Name: q.name, Length: q.msgs.Len(), Waiters: q.waiters.len()}
}

// Purge durably removes every message and returns how many were stored.
// Blocked consumers keep waiting. Purging an empty queue writes nothing.
func (q *Queue) Purge() (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := q.msgs.Len()
	if n == 0 {
		return 0, nil
	}
	if err := q.eng.Commit(types.PurgeRecord(q.name)); err != nil {
		return 0, err
	}
	q.clearLocked()
	return n, nil
}

// clearLocked drops every stored message from memory. The caller holds mu and
// has already committed the purge or flush.
func (q *Queue) clearLocked() int {
	n := q.msgs.Len()
	q.msgs.Init()
	return n
}

// restore appends recovered messages. Used only before the queue is
// published to other goroutines.
func (q *Queue) restore(msgs []types.Message) {
	for _, m := range msgs {
		q.insertLocked(m)
		if m.Seq > q.lastSeq {
			q.lastSeq = m.Seq
		}
	}
}

// ─── internal helpers ─────────────────────────────────────────────────────────

// deliverLocked hands m to the oldest waiter, or stores it if none is waiting.
// The handoff is durable before the waiter sees it. If that commit fails, m
// is stored and every waiter is resumed with the error: leaving them blocked
// behind a stored message would let the next enqueue overtake it.
func (q *Queue) deliverLocked(m types.Message) {
	if q.waiters.len() == 0 {
		q.insertLocked(m)
		return
	}
	if err := q.eng.Commit(types.DequeueRecord(q.name, m)); err != nil {
		q.insertLocked(m)
		for w := q.waiters.resume(); w != nil; w = q.waiters.resume() {
			w.ch <- handoff{err: err}
		}
		return
	}
	q.waiters.resume().ch <- handoff{msg: m}
}

// insertLocked places m in Seq order. New messages are appended; recovered
// ones may arrive from the engine in any order.
func (q *Queue) insertLocked(m types.Message) {
	if back := q.msgs.Back(); back == nil || back.Value.(types.Message).Seq < m.Seq {
		q.msgs.PushBack(m)
		return
	}
	for el := q.msgs.Front(); el != nil; el = el.Next() {
		if el.Value.(types.Message).Seq > m.Seq {
			q.msgs.InsertBefore(m, el)
			return
		}
	}
	q.msgs.PushBack(m)
}
