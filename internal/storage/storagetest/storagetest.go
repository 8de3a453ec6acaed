// Package storagetest is a conformance suite every storage.StorageEngine
// implementation runs from its own tests:
//
//	func TestConformance(t *testing.T) {
//		storagetest.Run(t, func(t *testing.T, dir string) storage.StorageEngine { ... })
//	}
package storagetest

import (
	"bytes"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/sneh-joshi/litemq/internal/storage"
	"github.com/sneh-joshi/litemq/internal/types"
)

// Opener opens the engine persisted in dir. Calling it again with the same
// dir after Close must return an engine holding the same durable state.
type Opener func(t *testing.T, dir string) storage.StorageEngine

// Run executes the conformance suite against engines produced by open.
func Run(t *testing.T, open Opener) {
	t.Helper()
	tests := []struct {
		name string
		fn   func(t *testing.T, open Opener)
	}{
		{"EmptyLoad", testEmptyLoad},
		{"EnqueueSurvivesReopen", testEnqueueSurvivesReopen},
		{"DequeueRemovesBySeq", testDequeueRemovesBySeq},
		{"DequeueUnknownIsNoop", testDequeueUnknownIsNoop},
		{"PurgeClearsOneQueue", testPurgeClearsOneQueue},
		{"FlushClearsAll", testFlushClearsAll},
		{"SeqReuseAfterRestart", testSeqReuseAfterRestart},
		{"ConcurrentCommits", testConcurrentCommits},
		{"CommitAfterClose", testCommitAfterClose},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) { tc.fn(t, open) })
	}
}

// ─── helpers ─────────────────────────────────────────────────────────────────

// Collect loads every queue of eng into a map.
func Collect(t *testing.T, eng storage.StorageEngine) map[string][]types.Message {
	t.Helper()
	out := make(map[string][]types.Message)
	if err := eng.Load(func(queue string, msgs []types.Message) error {
		if _, dup := out[queue]; dup {
			return fmt.Errorf("queue %q loaded twice", queue)
		}
		if len(msgs) == 0 {
			return fmt.Errorf("queue %q loaded with no messages", queue)
		}
		out[queue] = msgs
		return nil
	}); err != nil {
		t.Fatalf("Load: %v", err)
	}
	return out
}

func commit(t *testing.T, eng storage.StorageEngine, recs ...types.Record) {
	t.Helper()
	for _, rec := range recs {
		if err := eng.Commit(rec); err != nil {
			t.Fatalf("Commit(%s): %v", rec, err)
		}
	}
}

// Enq returns an enqueue record.
func Enq(queue string, seq uint64, data string) types.Record {
	return types.EnqueueRecord(queue, types.Message{Seq: seq, Data: []byte(data)})
}

// Deq returns a dequeue record.
func Deq(queue string, seq uint64) types.Record {
	return types.DequeueRecord(queue, types.Message{Seq: seq})
}

// Purge returns a purge record.
func Purge(queue string) types.Record { return types.PurgeRecord(queue) }

// Records is a readability helper for literal record lists.
func Records(recs ...types.Record) []types.Record { return recs }

func reopen(t *testing.T, eng storage.StorageEngine, open Opener, dir string) storage.StorageEngine {
	t.Helper()
	if err := eng.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	next := open(t, dir)
	t.Cleanup(func() { _ = next.Close() })
	return next
}

func openFresh(t *testing.T, open Opener) (storage.StorageEngine, string) {
	t.Helper()
	dir := t.TempDir()
	eng := open(t, dir)
	t.Cleanup(func() { _ = eng.Close() })
	return eng, dir
}

func wantQueue(t *testing.T, got map[string][]types.Message, queue string, want ...string) {
	t.Helper()
	msgs := got[queue]
	if len(msgs) != len(want) {
		t.Fatalf("queue %q: got %d messages, want %d", queue, len(msgs), len(want))
	}
	for i, m := range msgs {
		if !bytes.Equal(m.Data, []byte(want[i])) {
			t.Errorf("queue %q[%d]: got %q, want %q", queue, i, m.Data, want[i])
		}
		if i > 0 && msgs[i-1].Seq >= m.Seq {
			t.Errorf("queue %q[%d]: seq %d not after %d", queue, i, m.Seq, msgs[i-1].Seq)
		}
	}
}

// ─── cases ───────────────────────────────────────────────────────────────────

func testEmptyLoad(t *testing.T, open Opener) {
	eng, _ := openFresh(t, open)
	if got := Collect(t, eng); len(got) != 0 {
		t.Fatalf("expected empty store, got %d queues", len(got))
	}
	if err := eng.Healthy(); err != nil {
		t.Fatalf("Healthy: %v", err)
	}
}

func testEnqueueSurvivesReopen(t *testing.T, open Opener) {
	eng, dir := openFresh(t, open)
	commit(t, eng,
		Enq("orders", 1, "first"),
		Enq("events", 1, "line one\nline two"),
		Enq("orders", 2, ""),
		Enq("orders", 3, "\x00\xff binary"),
	)

	eng = reopen(t, eng, open, dir)
	got := Collect(t, eng)
	wantQueue(t, got, "orders", "first", "", "\x00\xff binary")
	wantQueue(t, got, "events", "line one\nline two")
	if got["orders"][0].Seq != 1 || got["orders"][2].Seq != 3 {
		t.Fatalf("sequence numbers not preserved: %+v", got["orders"])
	}
}

func testDequeueRemovesBySeq(t *testing.T, open Opener) {
	eng, dir := openFresh(t, open)
	commit(t, eng,
		Enq("q", 1, "a"),
		Enq("q", 2, "b"),
		Enq("q", 3, "c"),
		Deq("q", 1),
		Deq("q", 3),
	)

	got := Collect(t, reopen(t, eng, open, dir))
	wantQueue(t, got, "q", "b")
}

func testDequeueUnknownIsNoop(t *testing.T, open Opener) {
	eng, _ := openFresh(t, open)
	commit(t, eng,
		Deq("missing", 7),
		Enq("q", 1, "a"),
		Deq("q", 9),
	)
	wantQueue(t, Collect(t, eng), "q", "a")
}

func testPurgeClearsOneQueue(t *testing.T, open Opener) {
	eng, dir := openFresh(t, open)
	commit(t, eng,
		Enq("a", 1, "a1"),
		Enq("a", 2, "a2"),
		Enq("b", 1, "b1"),
		types.PurgeRecord("a"),
		types.PurgeRecord("never-existed"),
		Enq("a", 3, "a3"),
	)

	got := Collect(t, reopen(t, eng, open, dir))
	wantQueue(t, got, "a", "a3")
	wantQueue(t, got, "b", "b1")
}

func testFlushClearsAll(t *testing.T, open Opener) {
	eng, dir := openFresh(t, open)
	commit(t, eng,
		Enq("a", 1, "a1"),
		Enq("b", 1, "b1"),
		types.FlushRecord(),
		Enq("c", 1, "c1"),
	)

	got := Collect(t, reopen(t, eng, open, dir))
	if len(got) != 1 {
		t.Fatalf("expected only queue c after flush, got %v", keys(got))
	}
	wantQueue(t, got, "c", "c1")
}

func testSeqReuseAfterRestart(t *testing.T, open Opener) {
	eng, dir := openFresh(t, open)
	commit(t, eng, Enq("q", 1, "old"), Deq("q", 1))

	eng = reopen(t, eng, open, dir)
	if got := Collect(t, eng); len(got) != 0 {
		t.Fatalf("expected empty store after dequeue, got %v", keys(got))
	}
	// A restarted broker numbers from the highest live seq, so 1 is reused.
	commit(t, eng, Enq("q", 1, "new"))

	wantQueue(t, Collect(t, reopen(t, eng, open, dir)), "q", "new")
}

func testConcurrentCommits(t *testing.T, open Opener) {
	eng, dir := openFresh(t, open)

	const (
		queues   = 8
		perQueue = 50
	)
	var wg sync.WaitGroup
	errs := make(chan error, queues)
	for q := 0; q < queues; q++ {
		wg.Add(1)
		go func(q int) {
			defer wg.Done()
			name := fmt.Sprintf("q%d", q)
			for i := 1; i <= perQueue; i++ {
				if err := eng.Commit(Enq(name, uint64(i), fmt.Sprintf("%d", i))); err != nil {
					errs <- err
					return
				}
				if i%5 == 0 {
					if err := eng.Commit(Deq(name, uint64(i))); err != nil {
						errs <- err
						return
					}
				}
			}
		}(q)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("Commit: %v", err)
	}

	got := Collect(t, reopen(t, eng, open, dir))
	for q := 0; q < queues; q++ {
		name := fmt.Sprintf("q%d", q)
		var want []string
		for i := 1; i <= perQueue; i++ {
			if i%5 != 0 {
				want = append(want, fmt.Sprintf("%d", i))
			}
		}
		wantQueue(t, got, name, want...)
	}
}

func testCommitAfterClose(t *testing.T, open Opener) {
	eng := open(t, t.TempDir())
	if err := eng.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := eng.Commit(Enq("q", 1, "x")); !errors.Is(err, storage.ErrClosed) {
		t.Fatalf("Commit after Close: got %v, want ErrClosed", err)
	}
	if err := eng.Healthy(); err == nil {
		t.Fatal("Healthy after Close: expected error")
	}
	if err := eng.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

func keys(m map[string][]types.Message) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
