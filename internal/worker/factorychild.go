package worker

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/chainkit/hsync/internal/fetcher"
	"github.com/chainkit/hsync/internal/interval"
	"github.com/chainkit/hsync/internal/source"
	"github.com/chainkit/hsync/internal/task"
	"github.com/chainkit/hsync/internal/tracker"
)

// FactoryChildDeps are the dependencies RunFactoryChild needs.
type FactoryChildDeps struct {
	Common
	Source        *source.Source
	Tracker       *tracker.Range // factory-child-address tracker
	Enqueuer      Enqueuer
	MaxBlockRange int64
}

// RunFactoryChild implements the factory-child-address worker: fetch
// logs for the factory's creation event, unconditionally
// persist the raw discovery logs, register per-block callbacks, advance
// the child-address tracker and, if it advanced, emit factory-log-filter
// tasks over the newly-confirmed range — the cross-kind unblocking rule.
func RunFactoryChild(ctx context.Context, d FactoryChildDeps, t task.Task) error {
	criteria := d.Source.Criteria

	logs, err := d.Fetcher.GetLogs(ctx, fetcher.Query{
		Addresses: criteria.Addresses,
		Topics:    [][]common.Hash{{criteria.EventSelector}},
		From:      t.From,
		To:        t.To,
	})
	if err != nil {
		return fmt.Errorf("worker: factory child %s [%d,%d]: %w", d.SourceName, t.From, t.To, err)
	}

	if err := d.Store.InsertFactoryChildAddressLogs(ctx, d.ChainID, logs); err != nil {
		return fmt.Errorf("worker: persist factory child logs %s [%d,%d]: %w", d.SourceName, t.From, t.To, err)
	}

	for _, iv := range buildLogIntervals(t.From, t.To, logs) {
		d.Callbacks.Register(iv.End, factoryChildCallback(d.Common, iv))
	}

	result := d.Tracker.AddCompletedInterval(interval.Range{From: t.From, To: t.To})
	d.Gate.CheckBlockTaskGate(ctx)

	if result.IsUpdated {
		emitFactoryLogFilterTasks(d.Source, d.Enqueuer, result.PrevCheckpoint+1, result.NewCheckpoint, d.MaxBlockRange)
	}

	return nil
}

// factoryChildCallback builds the block callback for a factory-child
// interval. The discovery logs were already persisted unconditionally
// before intervals were built, so the callback only advances metrics.
func factoryChildCallback(c Common, iv logInterval) task.BlockCallback {
	return task.BlockCallback{
		Source:   c.SourceName,
		TxHashes: hashKeys(iv.TxHashes),
		Run: func(block *types.Block) error {
			c.logCompleted(iv.End - iv.Start + 1)
			return nil
		},
	}
}

// emitFactoryLogFilterTasks enqueues factory-log-filter tasks over
// [from,to], chunked by maxBlockRange, once the child-address tracker
// confirms a range of addresses is known.
func emitFactoryLogFilterTasks(src *source.Source, enq Enqueuer, from, to, maxBlockRange int64) {
	if from > to {
		return
	}
	for _, r := range interval.Chunks(interval.Set{{From: from, To: to}}, maxBlockRange) {
		enq.Enqueue(task.Task{
			Kind:   task.KindFactoryLog,
			Source: src,
			From:   r.From,
			To:     r.To,
		})
	}
}
