package queue_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/sneh-joshi/litemq/internal/queue"
	"github.com/sneh-joshi/litemq/internal/storage"
	"github.com/sneh-joshi/litemq/internal/storage/local"
)

func openJournal(t *testing.T, dir string) *local.Journal {
	t.Helper()
	j, err := local.Open(dir, storage.DefaultOptions())
	if err != nil {
		t.Fatalf("local.Open: %v", err)
	}
	return j
}

// ─── GetOrCreate / Get ───────────────────────────────────────────────────────

func TestManager_GetOrCreate_ReturnsSameQueue(t *testing.T) {
	m, _ := newManager(t)
	a := m.GetOrCreate("orders")
	if b := m.GetOrCreate("orders"); a != b {
		t.Fatal("GetOrCreate returned different instances for the same name")
	}
	if m.Count() != 1 {
		t.Fatalf("Count: want 1, got %d", m.Count())
	}
}

func TestManager_Get_DoesNotCreate(t *testing.T) {
	m, _ := newManager(t)
	if _, ok := m.Get("ghost"); ok {
		t.Fatal("Get reported a queue that was never used")
	}
	if m.Count() != 0 {
		t.Fatalf("Get created a queue, Count = %d", m.Count())
	}
	m.GetOrCreate("ghost")
	if _, ok := m.Get("ghost"); !ok {
		t.Fatal("Get missed an existing queue")
	}
}

// ─── Flush ───────────────────────────────────────────────────────────────────

func TestManager_Flush_EmptiesEveryQueue(t *testing.T) {
	m, _ := newManager(t)
	a, b := m.GetOrCreate("a"), m.GetOrCreate("b")
	enqueue(t, a, "a1")
	enqueue(t, a, "a2")
	enqueue(t, b, "b1")

	n, err := m.Flush()
	if err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if n != 3 {
		t.Fatalf("Flush removed %d, want 3", n)
	}
	for _, s := range m.Stats() {
		if s.Length != 0 {
			t.Fatalf("queue %q still holds %d messages", s.Name, s.Length)
		}
	}
	if got := enqueue(t, a, "fresh"); got != 1 {
		t.Fatalf("Enqueue after Flush returned %d, want 1", got)
	}
}

func TestManager_Flush_WaitersSurvive(t *testing.T) {
	m, _ := newManager(t)
	q := m.GetOrCreate("q")

	ch := dequeueAsync(context.Background(), q)
	waitForWaiters(t, q, 1)
	if _, err := m.Flush(); err != nil {
		t.Fatal(err)
	}
	enqueue(t, q, "after flush")
	if r := recv(t, ch); r.err != nil || r.data != "after flush" {
		t.Fatalf("waiter got %q, %v", r.data, r.err)
	}
}

func TestManager_Flush_CommitFailureKeepsMessages(t *testing.T) {
	m, eng := newManager(t)
	q := m.GetOrCreate("q")
	enqueue(t, q, "keep")

	boom := errors.New("io error")
	eng.Fail(boom)
	if _, err := m.Flush(); !errors.Is(err, boom) {
		t.Fatalf("Flush: got %v, want %v", err, boom)
	}
	if q.Len() != 1 {
		t.Fatalf("failed flush changed length to %d", q.Len())
	}
}

// ─── Stats ───────────────────────────────────────────────────────────────────

func TestManager_Stats_SortedByName(t *testing.T) {
	m, _ := newManager(t)
	for _, name := range []string{"zeta", "alpha", "mid"} {
		enqueue(t, m.GetOrCreate(name), "x")
	}
	enqueue(t, m.GetOrCreate("mid"), "y")

	stats := m.Stats()
	want := []queue.Stats{
		{Name: "alpha", Length: 1},
		{Name: "mid", Length: 2},
		{Name: "zeta", Length: 1},
	}
	if len(stats) != len(want) {
		t.Fatalf("got %d stats, want %d", len(stats), len(want))
	}
	for i := range want {
		if stats[i] != want[i] {
			t.Errorf("stats[%d] = %+v, want %+v", i, stats[i], want[i])
		}
	}
}

// ─── Load ────────────────────────────────────────────────────────────────────

func TestManager_Load_RestoresAfterRestart(t *testing.T) {
	dir := t.TempDir()

	j := openJournal(t, dir)
	m := queue.NewManager(j)
	orders, events := m.GetOrCreate("orders"), m.GetOrCreate("events")
	for i := 0; i < 5; i++ {
		enqueue(t, orders, fmt.Sprintf("o%d", i))
	}
	enqueue(t, events, "e0")
	if got := dequeue(t, orders); got != "o0" {
		t.Fatalf("got %q", got)
	}
	if got := dequeue(t, events); got != "e0" {
		t.Fatalf("got %q", got)
	}
	if err := j.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	j = openJournal(t, dir)
	t.Cleanup(func() { _ = j.Close() })
	m = queue.NewManager(j)
	queues, msgs, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if queues != 1 || msgs != 4 {
		t.Fatalf("Load = %d queues, %d messages; want 1, 4", queues, msgs)
	}
	orders = m.GetOrCreate("orders")
	if got := enqueue(t, orders, "o5"); got != 5 {
		t.Fatalf("Enqueue after restart returned %d, want 5", got)
	}
	for i := 1; i <= 5; i++ {
		if got, want := dequeue(t, orders), fmt.Sprintf("o%d", i); got != want {
			t.Fatalf("got %q, want %q", got, want)
		}
	}
	if _, ok := m.Get("events"); ok {
		t.Fatal("drained queue should not be restored")
	}
}

func TestManager_Load_PurgeAndFlushAreDurable(t *testing.T) {
	dir := t.TempDir()

	j := openJournal(t, dir)
	m := queue.NewManager(j)
	enqueue(t, m.GetOrCreate("a"), "a1")
	enqueue(t, m.GetOrCreate("b"), "b1")
	if _, err := m.GetOrCreate("a").Purge(); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Flush(); err != nil {
		t.Fatal(err)
	}
	enqueue(t, m.GetOrCreate("c"), "c1")
	if err := j.Close(); err != nil {
		t.Fatal(err)
	}

	j = openJournal(t, dir)
	t.Cleanup(func() { _ = j.Close() })
	m = queue.NewManager(j)
	if _, _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	stats := m.Stats()
	if len(stats) != 1 || stats[0].Name != "c" || stats[0].Length != 1 {
		t.Fatalf("after restart: %+v", stats)
	}
}
