// Package worker implements the four task-kind workers that drive the
// historical sync engine: log-filter, factory-child-address,
// factory-log-filter, and block.
package worker

import (
	"context"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog"

	"github.com/chainkit/hsync/internal/events"
	"github.com/chainkit/hsync/internal/fetcher"
	"github.com/chainkit/hsync/internal/metrics"
	"github.com/chainkit/hsync/internal/store"
	"github.com/chainkit/hsync/internal/task"
)

// LogFetcher issues getLogs calls, resilient to provider range errors.
// Satisfied by *fetcher.Fetcher.
type LogFetcher interface {
	GetLogs(ctx context.Context, q fetcher.Query) ([]types.Log, error)
}

// BlockFetcher fetches a block with its transactions by number.
type BlockFetcher interface {
	GetBlockByNumber(ctx context.Context, number int64) (*types.Block, error)
}

// CallbackRegistrar collects block callbacks keyed by the block number
// they must be invoked at.
type CallbackRegistrar interface {
	Register(blockNumber int64, cb task.BlockCallback)
}

// Gate is notified after a range tracker advances, so the engine can
// re-evaluate whether new block tasks are unblocked.
type Gate interface {
	CheckBlockTaskGate(ctx context.Context)
}

// Enqueuer submits a new task to the work queue.
type Enqueuer interface {
	Enqueue(t task.Task)
}

// Emitter publishes an engine event.
type Emitter interface {
	Emit(e events.Event)
}

// Common holds the dependencies shared by all four workers.
type Common struct {
	ChainID    int64
	Network    string
	SourceName string

	Fetcher   LogFetcher
	Store     store.Store
	Callbacks CallbackRegistrar
	Gate      Gate

	Metrics  *metrics.Metrics
	Progress *metrics.Progress

	Logger zerolog.Logger
}

func (c Common) logCompleted(blocks int64) {
	if c.Metrics != nil {
		c.Metrics.CompletedBlocks.WithLabelValues(c.Network, c.SourceName).Add(float64(blocks))
	}
	if c.Progress != nil {
		c.Progress.AddCompleted(blocks)
	}
}
