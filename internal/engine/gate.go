package engine

import (
	"context"
	"sync"

	"github.com/chainkit/hsync/internal/task"
	"github.com/chainkit/hsync/internal/tracker"
)

// blockTaskGate implements the engine's block-task gate: once every
// range tracker's checkpoint has advanced past some block T, every
// block callback registered at or below T is safe to run, because no
// future log-filter or factory-log-filter task will ever register a
// callback at or below T again.
type blockTaskGate struct {
	mu           sync.Mutex
	trackers     []*tracker.Range
	callbacks    *callbackRegistry
	blockTracker *tracker.Block
	enqueue      func(task.Task)
	enqueuedUpTo int64
}

func newBlockTaskGate(trackers []*tracker.Range, callbacks *callbackRegistry, blockTracker *tracker.Block, enqueue func(task.Task)) *blockTaskGate {
	return &blockTaskGate{
		trackers:     trackers,
		callbacks:    callbacks,
		blockTracker: blockTracker,
		enqueue:      enqueue,
		enqueuedUpTo: minStart(trackers) - 1,
	}
}

// minStart returns the smallest target.From across trackers, or 0 if
// there are none; used only to seed enqueuedUpTo below the first
// possible checkpoint.
func minStart(trackers []*tracker.Range) int64 {
	if len(trackers) == 0 {
		return 0
	}
	min := trackers[0].Target().From
	for _, t := range trackers[1:] {
		if f := t.Target().From; f < min {
			min = f
		}
	}
	return min
}

// CheckBlockTaskGate implements worker.Gate.
func (g *blockTaskGate) CheckBlockTaskGate(ctx context.Context) {
	g.mu.Lock()
	defer g.mu.Unlock()

	t := g.minCheckpoint()
	if t <= g.enqueuedUpTo {
		return
	}

	for _, blockNumber := range g.callbacks.drainUpTo(t) {
		cbs := g.callbacks.take(blockNumber)
		if len(cbs) == 0 {
			continue
		}
		g.blockTracker.AddPendingBlocks([]int64{blockNumber})
		g.enqueue(task.Task{
			Kind:        task.KindBlock,
			BlockNumber: blockNumber,
			Callbacks:   cbs,
		})
	}
	g.enqueuedUpTo = t
}

func (g *blockTaskGate) minCheckpoint() int64 {
	if len(g.trackers) == 0 {
		return g.enqueuedUpTo
	}
	min := g.trackers[0].GetCheckpoint()
	for _, t := range g.trackers[1:] {
		if c := t.GetCheckpoint(); c < min {
			min = c
		}
	}
	return min
}
