package sqlite_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sneh-joshi/litemq/internal/storage"
	"github.com/sneh-joshi/litemq/internal/storage/sqlite"
	"github.com/sneh-joshi/litemq/internal/storage/storagetest"
)

func TestConformance(t *testing.T) {
	for _, policy := range []storage.FsyncPolicy{storage.FsyncAlways, storage.FsyncNever} {
		t.Run(string(policy), func(t *testing.T) {
			storagetest.Run(t, func(t *testing.T, dir string) storage.StorageEngine {
				t.Helper()
				s, err := sqlite.Open(dir, storage.Options{Fsync: policy})
				if err != nil {
					t.Fatalf("Open: %v", err)
				}
				return s
			})
		})
	}
}

// TestOpen_GarbageFileIsFatal verifies a file that is not a database refuses
// to open instead of starting empty.
func TestOpen_GarbageFileIsFatal(t *testing.T) {
	dir := t.TempDir()
	garbage := make([]byte, 8192)
	for i := range garbage {
		garbage[i] = byte(i * 7)
	}
	if err := os.WriteFile(filepath.Join(dir, "queues.sqlite"), garbage, 0o640); err != nil {
		t.Fatal(err)
	}

	s, err := sqlite.Open(dir, storage.Options{})
	if err == nil {
		_ = s.Close()
		t.Fatal("expected Open to fail on a garbage file")
	}
}
