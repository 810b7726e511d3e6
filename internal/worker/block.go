package worker

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/chainkit/hsync/internal/events"
	"github.com/chainkit/hsync/internal/task"
	"github.com/chainkit/hsync/internal/tracker"
)

// BlockDeps are the dependencies RunBlock needs.
type BlockDeps struct {
	Fetcher      BlockFetcher
	BlockTracker *tracker.Block
	Emitter      Emitter
}

// RunBlock implements the block worker: fetch the block with its
// transactions, invoke every registered callback concurrently (each is
// idempotent so retries of this task are safe), then advance the block
// tracker and emit a historical checkpoint if it moved.
func RunBlock(ctx context.Context, d BlockDeps, t task.Task) error {
	block, err := d.Fetcher.GetBlockByNumber(ctx, t.BlockNumber)
	if err != nil {
		return fmt.Errorf("worker: get block %d: %w", t.BlockNumber, err)
	}
	if block == nil {
		return fmt.Errorf("worker: block %d not found", t.BlockNumber)
	}

	g, _ := errgroup.WithContext(ctx)
	for _, cb := range t.Callbacks {
		cb := cb
		g.Go(func() error {
			if err := cb.Run(block); err != nil {
				return fmt.Errorf("worker: block %d callback for %s: %w", t.BlockNumber, cb.Source, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	checkpoint, advanced := d.BlockTracker.AddCompletedBlock(t.BlockNumber, block.Time())
	if advanced {
		d.Emitter.Emit(events.HistoricalCheckpoint{
			BlockNumber:    checkpoint.Number,
			BlockTimestamp: checkpoint.Timestamp,
		})
	}

	return nil
}
