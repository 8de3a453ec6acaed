// Package types contains the core domain types shared across all LiteMQ
// internal packages. It deliberately has zero imports of other LiteMQ packages
// so that both the storage layer and the queue layer can import from it without
// creating import cycles.
package types

import "fmt"

// Op identifies the kind of mutation a durable Record describes.
type Op uint8

const (
	// OpEnqueue appends a message to the tail of a queue.
	OpEnqueue Op = iota + 1
	// OpDequeue removes the message with the record's Seq from a queue.
	OpDequeue
	// OpPurge removes every message of one queue.
	OpPurge
	// OpFlush removes every message of every queue.
	OpFlush
)

// String returns a human-readable representation of the op.
func (o Op) String() string {
	switch o {
	case OpEnqueue:
		return "enqueue"
	case OpDequeue:
		return "dequeue"
	case OpPurge:
		return "purge"
	case OpFlush:
		return "flush"
	default:
		return fmt.Sprintf("op(%d)", uint8(o))
	}
}

// Valid reports whether o is one of the known ops.
func (o Op) Valid() bool { return o >= OpEnqueue && o <= OpFlush }

// Message is one opaque payload held by a queue.
//
// Seq is assigned by the queue when the enqueue is committed. It is strictly
// increasing within a queue for the lifetime of a process and is what durable
// dequeue records refer to. Data is never modified after the message is
// created; zero-length payloads are valid.
type Message struct {
	Seq  uint64
	Data []byte
}

// Record is a single durable mutation.
//
//	OpEnqueue  Queue, Seq, Data
//	OpDequeue  Queue, Seq
//	OpPurge    Queue
//	OpFlush    (no fields)
type Record struct {
	Op    Op
	Queue string
	Seq   uint64
	Data  []byte
}

// EnqueueRecord returns the record that appends m to queue.
func EnqueueRecord(queue string, m Message) Record {
	return Record{Op: OpEnqueue, Queue: queue, Seq: m.Seq, Data: m.Data}
}

// DequeueRecord returns the record that removes m from queue.
func DequeueRecord(queue string, m Message) Record {
	return Record{Op: OpDequeue, Queue: queue, Seq: m.Seq}
}

// PurgeRecord returns the record that empties queue.
func PurgeRecord(queue string) Record {
	return Record{Op: OpPurge, Queue: queue}
}

// FlushRecord returns the record that empties every queue.
func FlushRecord() Record {
	return Record{Op: OpFlush}
}

// String renders the record without its payload, for logs and test failures.
func (r Record) String() string {
	switch r.Op {
	case OpEnqueue:
		return fmt.Sprintf("%s %q seq=%d bytes=%d", r.Op, r.Queue, r.Seq, len(r.Data))
	case OpDequeue:
		return fmt.Sprintf("%s %q seq=%d", r.Op, r.Queue, r.Seq)
	case OpPurge:
		return fmt.Sprintf("%s %q", r.Op, r.Queue)
	default:
		return r.Op.String()
	}
}
