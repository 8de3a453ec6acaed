// Package local is the default, single-node storage engine: every queue
// mutation is appended to one CRC-framed journal file in the data directory.
//
// Write path:
//  1. Commit encodes the record and appends it to journal.dat under mu.
//  2. Depending on the fsync policy the caller then waits for an fsync that
//     covers its frame. Concurrent committers share fsyncs (group commit):
//     one Sync makes every frame written before it durable.
//
// Recovery: Open scans the journal, drops a torn final frame (keeping the
// original bytes in journal.dat.bak), replays the rest into a storage.State
// and rewrites the file to only the live enqueue records. The Compactor repeats that rewrite in the background whenever the
// file grows past the configured threshold.
package local

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sneh-joshi/litemq/internal/storage"
	"github.com/sneh-joshi/litemq/internal/types"
)

const (
	journalFileName = "journal.dat"
	backupSuffix    = ".bak"
)

// ErrJournalFailed is returned by every Commit after an fsync or a partial
// write could not be repaired. The journal's contents on disk no longer match
// what callers were told, so it refuses further work until restarted.
var ErrJournalFailed = errors.New("journal: failed")

// Journal is the append-only implementation of storage.StorageEngine.
// All methods are safe for concurrent use.
type Journal struct {
	dir    string
	path   string
	opts   storage.Options
	logger *slog.Logger

	// syncMu serialises fsyncs and file swaps. Lock order: syncMu, then mu.
	syncMu sync.Mutex
	synced int64 // offset known to be on stable storage; guarded by syncMu

	mu      sync.Mutex
	file    *os.File
	size    int64 // current file size; guarded by mu
	records int   // frames in the file; guarded by mu
	failed  error // sticky; guarded by mu
	closed  bool  // guarded by mu

	commits atomic.Int64 // used by FsyncBatch

	compactor *Compactor

	fsyncDone chan struct{}
	fsyncWG   sync.WaitGroup
	closeOnce sync.Once
}

// Ensure Journal satisfies the interface at compile time.
var _ storage.StorageEngine = (*Journal)(nil)

// ─── Open ─────────────────────────────────────────────────────────────────────

// Open creates (or reopens) the journal in dir, recovering its contents.
// It returns an error wrapping storage.ErrCorrupted when the file is damaged
// anywhere other than its final frame.
func Open(dir string, opts storage.Options) (*Journal, error) {
	opts = opts.WithDefaults()
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("journal: create dir %s: %w", dir, err)
	}

	j := &Journal{
		dir:    dir,
		path:   filepath.Join(dir, journalFileName),
		opts:   opts,
		logger: opts.Logger.With("component", "journal"),
	}

	if err := j.recover(); err != nil {
		return nil, err
	}

	j.startFsync()
	j.compactor = NewCompactor(j, opts.CompactionInterval, opts.CompactionThreshold)
	j.compactor.Start()
	return j, nil
}

// recover validates the existing file (or creates a fresh one), trims a torn
// tail and compacts the survivors into a new file.
func (j *Journal) recover() error {
	f, err := os.OpenFile(j.path, os.O_RDWR|os.O_CREATE, 0o640)
	if err != nil {
		return fmt.Errorf("journal: open %s: %w", j.path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("journal: stat %s: %w", j.path, err)
	}

	state := storage.NewState()
	if info.Size() > 0 {
		res, err := scanFrames(f, info.Size(), state.Apply)
		if err != nil {
			return fmt.Errorf("journal: recover %s: %w", j.path, err)
		}
		if res.validEnd < info.Size() {
			bak, err := j.backup(f, info.Size())
			if err != nil {
				return err
			}
			j.logger.Warn("discarding torn journal tail",
				"path", j.path,
				"offset", res.validEnd,
				"bytes", info.Size()-res.validEnd,
				"backup", bak,
			)
		}
		j.logger.Info("journal recovered",
			"records", res.records,
			"live_messages", state.Len(),
		)
	}

	j.syncMu.Lock()
	defer j.syncMu.Unlock()
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.rewriteLocked(state)
}

// backup copies the first size bytes of f to journal.dat.bak, replacing any
// earlier backup, before recovery drops bytes from the journal.
func (j *Journal) backup(f *os.File, size int64) (string, error) {
	path := j.path + backupSuffix
	out, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o640)
	if err != nil {
		return "", fmt.Errorf("journal: create backup %s: %w", path, err)
	}
	if _, err := io.Copy(out, io.NewSectionReader(f, 0, size)); err != nil {
		_ = out.Close()
		return "", fmt.Errorf("journal: write backup %s: %w", path, err)
	}
	if err := out.Sync(); err != nil {
		_ = out.Close()
		return "", fmt.Errorf("journal: sync backup %s: %w", path, err)
	}
	if err := out.Close(); err != nil {
		return "", fmt.Errorf("journal: close backup %s: %w", path, err)
	}
	return path, nil
}

// ─── Background fsync ─────────────────────────────────────────────────────────

// startFsync launches the periodic fsync goroutine when the policy requires it.
func (j *Journal) startFsync() {
	if j.opts.Fsync != storage.FsyncInterval {
		return
	}
	j.fsyncDone = make(chan struct{})
	j.fsyncWG.Add(1)
	go func() {
		defer j.fsyncWG.Done()
		ticker := time.NewTicker(j.opts.FsyncInterval)
		defer ticker.Stop()
		for {
			select {
			case <-j.fsyncDone:
				return
			case <-ticker.C:
				if err := j.Sync(); err != nil && !errors.Is(err, storage.ErrClosed) {
					j.logger.Error("background fsync failed", "err", err)
				}
			}
		}
	}()
}

func (j *Journal) stopFsync() {
	if j.fsyncDone == nil {
		return
	}
	close(j.fsyncDone)
	j.fsyncWG.Wait()
}

// ─── StorageEngine implementation ─────────────────────────────────────────────

// Commit appends rec and, depending on the fsync policy, waits until it is on
// stable storage.
func (j *Journal) Commit(rec types.Record) error {
	frame, err := encodeFrame(rec)
	if err != nil {
		return err
	}

	j.mu.Lock()
	if err := j.usableLocked(); err != nil {
		j.mu.Unlock()
		return err
	}
	if n, err := j.file.Write(frame); err != nil {
		// Cut off the partial frame so the next append starts clean.
		if n > 0 {
			if terr := j.file.Truncate(j.size); terr != nil {
				j.failed = fmt.Errorf("%w: truncate after short write: %v", ErrJournalFailed, terr)
			}
		}
		j.mu.Unlock()
		return fmt.Errorf("journal: append %s: %w", rec, err)
	}
	j.size += int64(len(frame))
	j.records++
	end := j.size
	j.mu.Unlock()

	switch j.opts.Fsync {
	case storage.FsyncAlways:
		return j.syncTo(end)
	case storage.FsyncBatch:
		if j.commits.Add(1)%int64(j.opts.FsyncBatchSize) == 0 {
			return j.syncTo(end)
		}
	}
	// FsyncInterval is handled by the background goroutine.
	// FsyncNever does nothing.
	return nil
}

// Sync flushes everything appended so far to stable storage.
func (j *Journal) Sync() error {
	j.mu.Lock()
	end := j.size
	j.mu.Unlock()
	return j.syncTo(end)
}

// syncTo returns once offset end is on stable storage. Whoever holds syncMu
// fsyncs on behalf of every frame written so far; callers queued behind it
// usually find their frame already covered.
func (j *Journal) syncTo(end int64) error {
	j.syncMu.Lock()
	defer j.syncMu.Unlock()
	if j.synced >= end {
		return nil
	}

	j.mu.Lock()
	if err := j.usableLocked(); err != nil {
		j.mu.Unlock()
		return err
	}
	f, target := j.file, j.size
	j.mu.Unlock()

	if err := f.Sync(); err != nil {
		// After a failed fsync the kernel may have dropped the dirty pages;
		// nothing written since the last good sync can be trusted.
		j.mu.Lock()
		j.failed = fmt.Errorf("%w: fsync: %v", ErrJournalFailed, err)
		j.mu.Unlock()
		j.logger.Error("journal fsync failed", "path", j.path, "err", err)
		return fmt.Errorf("journal: fsync: %w", err)
	}
	j.synced = target
	return nil
}

// Load replays the journal and calls fn for every non-empty queue.
func (j *Journal) Load(fn func(queue string, msgs []types.Message) error) error {
	j.mu.Lock()
	if err := j.usableLocked(); err != nil {
		j.mu.Unlock()
		return err
	}
	state := storage.NewState()
	_, err := scanFrames(j.file, j.size, state.Apply)
	j.mu.Unlock()
	if err != nil {
		return fmt.Errorf("journal: load: %w", err)
	}
	return state.Each(fn)
}

// Healthy returns nil while the journal accepts commits.
func (j *Journal) Healthy() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.usableLocked()
}

// Size returns the current journal file size in bytes.
func (j *Journal) Size() int64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.size
}

// Path returns the filesystem path of the journal file.
func (j *Journal) Path() string { return j.path }

// Compactor returns the background Compactor so callers can invoke RunOnce
// directly in tests or trigger on-demand compaction.
func (j *Journal) Compactor() *Compactor { return j.compactor }

// Close stops background work, syncs and closes the file.
// Safe to call multiple times; only the first call performs the close.
func (j *Journal) Close() error {
	var closeErr error
	j.closeOnce.Do(func() {
		j.compactor.Stop()
		j.stopFsync()

		j.syncMu.Lock()
		defer j.syncMu.Unlock()
		j.mu.Lock()
		defer j.mu.Unlock()
		j.closed = true
		if j.failed == nil {
			if err := j.file.Sync(); err != nil {
				closeErr = fmt.Errorf("journal: sync on close: %w", err)
			}
		}
		if err := j.file.Close(); err != nil && closeErr == nil {
			closeErr = fmt.Errorf("journal: close: %w", err)
		}
	})
	return closeErr
}

// usableLocked reports why the journal cannot be used, if it cannot.
func (j *Journal) usableLocked() error {
	if j.closed {
		return storage.ErrClosed
	}
	return j.failed
}

// ─── Rewrite ──────────────────────────────────────────────────────────────────

// rewriteLocked replaces the journal with one enqueue frame per live message
// in state. Callers hold syncMu and mu.
//
//  1. Write header + live frames to journal.dat.tmp and fsync it.
//  2. Rename over journal.dat (atomic on POSIX) and fsync the directory.
//  3. Reopen the file in append mode.
//
// A failure before step 2 leaves the old journal in place and usable.
func (j *Journal) rewriteLocked(state *storage.State) error {
	tmpPath := j.path + ".tmp"
	tmp, err := os.OpenFile(tmpPath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o640)
	if err != nil {
		return fmt.Errorf("journal: create %s: %w", tmpPath, err)
	}
	abort := func(err error) error {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}

	size, records, err := writeSnapshot(tmp, state)
	if err != nil {
		return abort(fmt.Errorf("journal: write snapshot: %w", err))
	}
	if err := tmp.Sync(); err != nil {
		return abort(fmt.Errorf("journal: sync snapshot: %w", err))
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("journal: close snapshot: %w", err)
	}
	if err := os.Rename(tmpPath, j.path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("journal: swap snapshot: %w", err)
	}

	// From here on the old handle points at an unlinked file.
	if j.file != nil {
		_ = j.file.Close()
		j.file = nil
	}
	if err := syncDir(j.dir); err != nil {
		j.failed = fmt.Errorf("%w: sync dir after swap: %v", ErrJournalFailed, err)
		return j.failed
	}
	f, err := os.OpenFile(j.path, os.O_RDWR|os.O_APPEND, 0o640)
	if err != nil {
		j.failed = fmt.Errorf("%w: reopen after swap: %v", ErrJournalFailed, err)
		return j.failed
	}
	j.file = f
	j.size = size
	j.records = records
	j.synced = size
	return nil
}

// writeSnapshot writes a complete journal for state to f and returns its size
// and frame count.
func writeSnapshot(f *os.File, state *storage.State) (int64, int, error) {
	bw := bufio.NewWriterSize(f, 256<<10)
	w := &countingWriter{w: bw}
	if _, err := w.Write(journalMagic[:]); err != nil {
		return 0, 0, err
	}
	records := 0
	err := state.Each(func(queue string, msgs []types.Message) error {
		for _, m := range msgs {
			frame, err := encodeFrame(types.EnqueueRecord(queue, m))
			if err != nil {
				return err
			}
			if _, err := w.Write(frame); err != nil {
				return err
			}
			records++
		}
		return nil
	})
	if err != nil {
		return 0, 0, err
	}
	if err := bw.Flush(); err != nil {
		return 0, 0, err
	}
	return w.n, records, nil
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

// syncDir fsyncs a directory so a rename inside it is durable.
func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}
