package bolt_test

import (
	"testing"

	"github.com/sneh-joshi/litemq/internal/storage"
	"github.com/sneh-joshi/litemq/internal/storage/bolt"
	"github.com/sneh-joshi/litemq/internal/storage/storagetest"
)

func TestConformance(t *testing.T) {
	for _, policy := range []storage.FsyncPolicy{storage.FsyncAlways, storage.FsyncBatch, storage.FsyncInterval} {
		t.Run(string(policy), func(t *testing.T) {
			storagetest.Run(t, func(t *testing.T, dir string) storage.StorageEngine {
				t.Helper()
				s, err := bolt.Open(dir, storage.Options{Fsync: policy})
				if err != nil {
					t.Fatalf("Open: %v", err)
				}
				return s
			})
		})
	}
}
