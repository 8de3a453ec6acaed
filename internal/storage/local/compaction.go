package local

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sneh-joshi/litemq/internal/storage"
)

// Compactor rewrites the journal, dropping records that no longer describe a
// live message.
//
// Every enqueue, dequeue, purge and flush appends a frame, so a busy broker's
// journal grows without bound even when its queues stay short. Compaction
// replays the journal and rewrites it to one enqueue frame per live message,
// then atomically swaps the files.
//
// Compaction holds the journal's locks for the entire pass, blocking commits.
// It is cheap when queues are short, which is the steady state the threshold
// waits for.
type Compactor struct {
	j         *Journal
	interval  time.Duration
	threshold int64

	mu   sync.Mutex
	done chan struct{}
	wg   sync.WaitGroup
}

// NewCompactor creates a Compactor that considers compaction every interval
// and compacts once the journal is larger than threshold bytes.
func NewCompactor(j *Journal, interval time.Duration, threshold int64) *Compactor {
	return &Compactor{
		j:         j,
		interval:  interval,
		threshold: threshold,
		done:      make(chan struct{}),
	}
}

// Start launches the background compaction goroutine.
// It returns immediately; compaction runs on interval in the background.
func (c *Compactor) Start() {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()
		for {
			select {
			case <-c.done:
				return
			case <-ticker.C:
				if c.j.Size() <= c.threshold {
					continue
				}
				ctx, cancel := context.WithTimeout(context.Background(), c.interval)
				if err := c.RunOnce(ctx); err != nil && !errors.Is(err, storage.ErrClosed) {
					c.j.logger.Error("journal compaction failed", "err", err)
				}
				cancel()
			}
		}
	}()
}

// Stop signals the background goroutine to exit and waits for it to finish.
func (c *Compactor) Stop() {
	c.mu.Lock()
	select {
	case <-c.done:
		// already stopped
	default:
		close(c.done)
	}
	c.mu.Unlock()
	c.wg.Wait()
}

// RunOnce performs a single compaction cycle:
//  1. Acquire the journal's locks (blocks committers).
//  2. Replay the journal into a storage.State.
//  3. If every frame is a live enqueue there is nothing to drop; stop.
//  4. Rewrite the journal from the State and swap it in.
//
// Returns nil if no compaction was needed.
func (c *Compactor) RunOnce(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	j := c.j
	j.syncMu.Lock()
	defer j.syncMu.Unlock()
	j.mu.Lock()
	defer j.mu.Unlock()

	if err := j.usableLocked(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	state := storage.NewState()
	res, err := scanFrames(j.file, j.size, state.Apply)
	if err != nil {
		return fmt.Errorf("compactor: scan journal: %w", err)
	}
	live := state.Len()
	if res.records == live {
		return nil
	}

	before := j.size
	start := time.Now()
	if err := j.rewriteLocked(state); err != nil {
		return fmt.Errorf("compactor: %w", err)
	}
	j.logger.Info("journal compacted",
		"dropped_records", res.records-live,
		"live_messages", live,
		"bytes_before", before,
		"bytes_after", j.size,
		"took", time.Since(start),
	)
	return nil
}
