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

// LogFilterDeps are the dependencies RunLogFilter needs.
type LogFilterDeps struct {
	Common
	Criteria source.Criteria
	Tracker  *tracker.Range
}

// RunLogFilter implements the log-filter worker: fetch logs, build log
// intervals, register a block callback per interval
// that persists once the owning block is fetched, mark the range
// completed, and check the block-task gate.
func RunLogFilter(ctx context.Context, d LogFilterDeps, t task.Task) error {
	logs, err := d.Fetcher.GetLogs(ctx, fetcher.Query{
		Addresses: d.Criteria.Addresses,
		Topics:    d.Criteria.Topics,
		From:      t.From,
		To:        t.To,
	})
	if err != nil {
		return fmt.Errorf("worker: log filter %s [%d,%d]: %w", d.SourceName, t.From, t.To, err)
	}

	for _, iv := range buildLogIntervals(t.From, t.To, logs) {
		d.Callbacks.Register(iv.End, logFilterCallback(d.Common, d.Criteria, iv))
	}

	d.Tracker.AddCompletedInterval(interval.Range{From: t.From, To: t.To})
	d.Gate.CheckBlockTaskGate(ctx)

	return nil
}

// logFilterCallback builds the BlockCallback that persists iv once the
// block worker fetches its owning block.
func logFilterCallback(c Common, criteria source.Criteria, iv logInterval) task.BlockCallback {
	return task.BlockCallback{
		Source:   c.SourceName,
		TxHashes: hashKeys(iv.TxHashes),
		Run: func(block *types.Block) error {
			txs := filterTransactions(block.Transactions(), iv.TxHashes)
			rng := interval.Range{From: iv.Start, To: iv.End}
			if err := c.Store.InsertLogFilterInterval(context.Background(), c.ChainID, block, txs, iv.Logs, criteria, rng); err != nil {
				return fmt.Errorf("worker: persist log filter interval %s [%d,%d]: %w", c.SourceName, iv.Start, iv.End, err)
			}
			c.logCompleted(iv.End - iv.Start + 1)
			return nil
		},
	}
}

func hashKeys(m map[string]int) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

// filterTransactions returns the subset of txs whose hash is in want.
func filterTransactions(txs []*types.Transaction, want map[string]int) []*types.Transaction {
	if len(want) == 0 {
		return nil
	}
	out := make([]*types.Transaction, 0, len(want))
	for _, tx := range txs {
		if _, ok := want[tx.Hash().Hex()]; ok {
			out = append(out, tx)
		}
	}
	return out
}
