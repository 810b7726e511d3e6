// Package store defines the event store contract the historical sync
// engine consumes, with three implementations: a PostgreSQL-backed store
// for production, a bbolt-backed store for single-process / fork-test
// use, and an in-memory store for unit tests.
package store

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/chainkit/hsync/internal/interval"
	"github.com/chainkit/hsync/internal/source"
)

// ChildAddressCursor is a finite, restartable async batch sequence of
// factory-discovered child contract addresses, up to some block.
// Implementations choose their own batch size.
type ChildAddressCursor interface {
	// Next returns the next batch of addresses. ok is false once the
	// cursor is exhausted.
	Next(ctx context.Context) (addresses []common.Address, ok bool, err error)
}

// Store is the abstract event store the engine reads cached coverage
// from and writes confirmed intervals to. All insert operations are
// idempotent under the same (criteria, [from,to]); intervals are
// returned in canonical sorted form.
type Store interface {
	GetLogFilterIntervals(ctx context.Context, chainID int64, criteria source.Criteria) (interval.Set, error)
	GetFactoryLogFilterIntervals(ctx context.Context, chainID int64, criteria source.Criteria) (interval.Set, error)

	InsertLogFilterInterval(ctx context.Context, chainID int64, block *types.Block, transactions []*types.Transaction, logs []types.Log, criteria source.Criteria, rng interval.Range) error
	InsertFactoryChildAddressLogs(ctx context.Context, chainID int64, logs []types.Log) error
	InsertFactoryLogFilterInterval(ctx context.Context, chainID int64, criteria source.Criteria, block *types.Block, transactions []*types.Transaction, logs []types.Log, rng interval.Range) error

	// GetFactoryChildAddresses returns a cursor over child addresses
	// discovered by the given factory criteria up to and including
	// upToBlock.
	GetFactoryChildAddresses(ctx context.Context, chainID int64, criteria source.Criteria, upToBlock int64) (ChildAddressCursor, error)
}
