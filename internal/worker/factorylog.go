package worker

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/core/types"

	"github.com/chainkit/hsync/internal/fetcher"
	"github.com/chainkit/hsync/internal/interval"
	"github.com/chainkit/hsync/internal/source"
	"github.com/chainkit/hsync/internal/task"
	"github.com/chainkit/hsync/internal/tracker"
)

// FactoryLogDeps are the dependencies RunFactoryLog needs.
type FactoryLogDeps struct {
	Common
	Source  *source.Source
	Tracker *tracker.Range // factory-log-filter tracker
}

// RunFactoryLog implements the factory-log-filter worker: stream the
// factory's known child addresses from the store up
// to t.To in batches, issue one getLogs call per batch against the
// source's secondary topics, concatenate the results, then proceed as
// the log-filter worker but persisting against the factory-log-filter
// tracker and criteria.
func RunFactoryLog(ctx context.Context, d FactoryLogDeps, t task.Task) error {
	criteria := d.Source.Criteria

	cursor, err := d.Store.GetFactoryChildAddresses(ctx, d.ChainID, criteria, t.To)
	if err != nil {
		return fmt.Errorf("worker: factory log %s child addresses up to %d: %w", d.SourceName, t.To, err)
	}

	var logs []types.Log
	for {
		addresses, ok, err := cursor.Next(ctx)
		if err != nil {
			return fmt.Errorf("worker: factory log %s child address batch: %w", d.SourceName, err)
		}
		if !ok {
			break
		}
		if len(addresses) == 0 {
			continue
		}

		batchLogs, err := d.Fetcher.GetLogs(ctx, fetcher.Query{
			Addresses: addresses,
			Topics:    criteria.Topics,
			From:      t.From,
			To:        t.To,
		})
		if err != nil {
			return fmt.Errorf("worker: factory log %s [%d,%d] batch of %d addresses: %w", d.SourceName, t.From, t.To, len(addresses), err)
		}
		logs = append(logs, batchLogs...)
	}

	for _, iv := range buildLogIntervals(t.From, t.To, logs) {
		d.Callbacks.Register(iv.End, factoryLogCallback(d.Common, criteria, iv))
	}

	d.Tracker.AddCompletedInterval(interval.Range{From: t.From, To: t.To})
	d.Gate.CheckBlockTaskGate(ctx)

	return nil
}

func factoryLogCallback(c Common, criteria source.Criteria, iv logInterval) task.BlockCallback {
	return task.BlockCallback{
		Source:   c.SourceName,
		TxHashes: hashKeys(iv.TxHashes),
		Run: func(block *types.Block) error {
			txs := filterTransactions(block.Transactions(), iv.TxHashes)
			rng := interval.Range{From: iv.Start, To: iv.End}
			if err := c.Store.InsertFactoryLogFilterInterval(context.Background(), c.ChainID, criteria, block, txs, iv.Logs, rng); err != nil {
				return fmt.Errorf("worker: persist factory log filter interval %s [%d,%d]: %w", c.SourceName, iv.Start, iv.End, err)
			}
			c.logCompleted(iv.End - iv.Start + 1)
			return nil
		},
	}
}
