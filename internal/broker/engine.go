package broker

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/sneh-joshi/litemq/internal/config"
	"github.com/sneh-joshi/litemq/internal/metrics"
	"github.com/sneh-joshi/litemq/internal/storage"
	"github.com/sneh-joshi/litemq/internal/storage/bolt"
	"github.com/sneh-joshi/litemq/internal/storage/local"
	"github.com/sneh-joshi/litemq/internal/storage/memory"
	"github.com/sneh-joshi/litemq/internal/storage/pebble"
	"github.com/sneh-joshi/litemq/internal/storage/sqlite"
	"github.com/sneh-joshi/litemq/internal/types"
)

// openEngine opens the backend named by cfg.Storage.Engine in its own
// subdirectory of the data dir.
func openEngine(cfg *config.Config, logger *slog.Logger) (storage.StorageEngine, error) {
	opts, err := cfg.StorageOptions()
	if err != nil {
		return nil, err
	}
	opts.Logger = logger.With("engine", string(cfg.Storage.Engine))
	dir := filepath.Join(cfg.Node.DataDir, string(cfg.Storage.Engine))

	var eng storage.StorageEngine
	switch cfg.Storage.Engine {
	case config.EngineJournal:
		eng, err = local.Open(dir, opts)
	case config.EngineBolt:
		eng, err = bolt.Open(dir, opts)
	case config.EnginePebble:
		eng, err = pebble.Open(dir, opts)
	case config.EngineSQLite:
		eng, err = sqlite.Open(dir, opts)
	case config.EngineMemory:
		logger.Warn("storage engine is not durable; messages are lost on restart")
		eng = memory.New()
	default:
		return nil, fmt.Errorf("broker: unknown storage engine %q", cfg.Storage.Engine)
	}
	if err != nil {
		return nil, fmt.Errorf("broker: open %s storage: %w", cfg.Storage.Engine, err)
	}
	return eng, nil
}

// instrumented records commit latency and failures.
type instrumented struct {
	storage.StorageEngine
	m *metrics.Registry
}

func instrument(eng storage.StorageEngine, m *metrics.Registry) storage.StorageEngine {
	if m == nil {
		return eng
	}
	return &instrumented{StorageEngine: eng, m: m}
}

func (e *instrumented) Commit(rec types.Record) error {
	start := time.Now()
	err := e.StorageEngine.Commit(rec)
	e.m.ObserveCommit(rec.Op, time.Since(start), err)
	return err
}
