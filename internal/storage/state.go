package storage

import (
	"container/list"
	"fmt"
	"sort"

	"github.com/sneh-joshi/litemq/internal/types"
)

// State is the in-memory result of replaying records in commit order.
// Engines that persist a log of records (the journal, the memory engine)
// use it to rebuild live messages; it is not safe for concurrent use.
type State struct {
	queues map[string]*stateQueue
}

type stateQueue struct {
	msgs  *list.List               // of types.Message, ascending Seq
	bySeq map[uint64]*list.Element // Seq → element in msgs
}

// NewState returns an empty State.
func NewState() *State {
	return &State{queues: make(map[string]*stateQueue)}
}

// Apply replays one record.
//
// Dequeues of unknown sequence numbers are no-ops: a message may be purged or
// flushed while a consumer is committing its dequeue. An enqueue that reuses
// a live sequence number can only come from a damaged store and is reported
// as ErrCorrupted.
func (s *State) Apply(rec types.Record) error {
	switch rec.Op {
	case types.OpEnqueue:
		q := s.queues[rec.Queue]
		if q == nil {
			q = &stateQueue{msgs: list.New(), bySeq: make(map[uint64]*list.Element)}
			s.queues[rec.Queue] = q
		}
		if _, dup := q.bySeq[rec.Seq]; dup {
			return fmt.Errorf("%w: duplicate enqueue %s", ErrCorrupted, rec)
		}
		q.bySeq[rec.Seq] = q.insert(types.Message{Seq: rec.Seq, Data: rec.Data})
	case types.OpDequeue:
		q := s.queues[rec.Queue]
		if q == nil {
			return nil
		}
		if el, ok := q.bySeq[rec.Seq]; ok {
			q.msgs.Remove(el)
			delete(q.bySeq, rec.Seq)
		}
		if q.msgs.Len() == 0 {
			delete(s.queues, rec.Queue)
		}
	case types.OpPurge:
		delete(s.queues, rec.Queue)
	case types.OpFlush:
		clear(s.queues)
	default:
		return fmt.Errorf("%w: unknown op %d", ErrCorrupted, rec.Op)
	}
	return nil
}

// insert places m in Seq order. Appends are the common case.
func (q *stateQueue) insert(m types.Message) *list.Element {
	for el := q.msgs.Back(); el != nil; el = el.Prev() {
		if el.Value.(types.Message).Seq < m.Seq {
			return q.msgs.InsertAfter(m, el)
		}
	}
	return q.msgs.PushFront(m)
}

// Len returns the number of live messages across all queues.
func (s *State) Len() int {
	n := 0
	for _, q := range s.queues {
		n += q.msgs.Len()
	}
	return n
}

// Each calls fn for every non-empty queue in name order.
func (s *State) Each(fn func(queue string, msgs []types.Message) error) error {
	names := make([]string, 0, len(s.queues))
	for name := range s.queues {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		q := s.queues[name]
		msgs := make([]types.Message, 0, q.msgs.Len())
		for el := q.msgs.Front(); el != nil; el = el.Next() {
			msgs = append(msgs, el.Value.(types.Message))
		}
		if err := fn(name, msgs); err != nil {
			return err
		}
	}
	return nil
}
