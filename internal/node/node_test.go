package node_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sneh-joshi/litemq/internal/node"
)

func open(t *testing.T, dir, override string) *node.Node {
	t.Helper()
	n, err := node.Open(dir, override)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = n.Close() })
	return n
}

func TestOpen_GeneratesIDOnFirstStart(t *testing.T) {
	n := open(t, t.TempDir(), "auto")
	if n.ID().IsZero() {
		t.Fatal("expected non-zero ID")
	}
	if len(n.ID().String()) != 26 {
		t.Errorf("ULID should be 26 chars, got %d: %s", len(n.ID().String()), n.ID())
	}
}

func TestOpen_PersistsIDAcrossRestarts(t *testing.T) {
	dir := t.TempDir()

	n1, err := node.Open(dir, "auto")
	if err != nil {
		t.Fatal(err)
	}
	id := n1.ID()
	if err := n1.Close(); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "node_id"))
	if err != nil {
		t.Fatalf("node_id file not found: %v", err)
	}
	if strings.TrimSpace(string(data)) != id.String() {
		t.Errorf("persisted %q, returned %q", data, id)
	}

	if n2 := open(t, dir, ""); n2.ID() != id {
		t.Errorf("ID changed across restarts: %s != %s", id, n2.ID())
	}
}

func TestOpen_ExplicitOverride(t *testing.T) {
	override := node.MustNewID()
	if n := open(t, t.TempDir(), override); n.ID().String() != override {
		t.Errorf("expected override ID %s, got %s", override, n.ID())
	}
}

func TestOpen_InvalidOverride(t *testing.T) {
	if _, err := node.Open(t.TempDir(), "not-a-valid-ulid"); err == nil {
		t.Fatal("expected error for invalid ULID override")
	}
}

func TestOpen_EmptyDataDir(t *testing.T) {
	if _, err := node.Open("", "auto"); err == nil {
		t.Fatal("expected error for empty dataDir")
	}
}

func TestOpen_CreatesDataDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "subdir", "data")
	open(t, dir, "auto")
	if _, err := os.Stat(dir); err != nil {
		t.Fatalf("expected data dir to be created: %v", err)
	}
}

func TestOpen_CorruptIDFile(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "node_id"), []byte("garbage\n"), 0o640); err != nil {
		t.Fatal(err)
	}
	if _, err := node.Open(dir, "auto"); err == nil {
		t.Fatal("expected error for corrupt node_id file")
	}
}

func TestOpen_SecondOpenIsLocked(t *testing.T) {
	dir := t.TempDir()
	n := open(t, dir, "auto")

	if _, err := node.Open(dir, "auto"); !errors.Is(err, node.ErrLocked) {
		t.Fatalf("second Open: got %v, want ErrLocked", err)
	}

	if err := n.Close(); err != nil {
		t.Fatal(err)
	}
	open(t, dir, "auto")
}

func TestMustNewID_UniqueAndIncreasing(t *testing.T) {
	prev := ""
	for i := 0; i < 1000; i++ {
		id := node.MustNewID()
		if id <= prev {
			t.Fatalf("ULIDs must be strictly increasing: %s after %s", id, prev)
		}
		prev = id
	}
}
