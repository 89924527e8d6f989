package indexer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/relaychat/semsearch/internal/fault"
	"github.com/relaychat/semsearch/internal/messages"
)

// sweepBatch bounds how many failed messages one sweep pass re-enqueues.
const sweepBatch = 100

// SweepFailed re-enqueues messages that have stayed failed for at least the
// configured minimum age. Returns how many were queued; a full queue stops
// the pass early rather than erroring, since the next tick retries.
func (ix *Indexer) SweepFailed(ctx context.Context) (int, error) {
	cutoff := time.Now().UTC().Add(-ix.cfg.SweepMinAge)
	failed, err := ix.store.ListWithStatus(ctx, messages.StatusFailed, cutoff, sweepBatch)
	if err != nil {
		return 0, fmt.Errorf("listing failed messages: %w", err)
	}

	queued := 0
	for _, m := range failed {
		if err := ix.Enqueue(m); err != nil {
			if errors.Is(err, fault.ErrOverloaded) {
				ix.logger.Debug("indexer: sweep stopped, queue full", "queued", queued)
				return queued, nil
			}
			return queued, err
		}
		queued++
	}
	return queued, nil
}

// RunSweeper periodically retries failed messages until ctx is cancelled.
func (ix *Indexer) RunSweeper(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		n, err := ix.SweepFailed(ctx)
		if err != nil {
			ix.logger.Error("indexer: sweep iteration failed", "error", err)
		}
		if n > 0 {
			ix.logger.Info("indexer: requeued failed messages", "count", n)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(ix.cfg.SweepInterval):
		}
	}
}
