// Package memstore is an in-memory store.Store used to test the
// historical sync engine without a live database.
package memstore

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/chainkit/hsync/internal/interval"
	"github.com/chainkit/hsync/internal/source"
	"github.com/chainkit/hsync/internal/store"
)

type childLog struct {
	blockNumber int64
	topics      []common.Hash
}

// Store is a goroutine-safe in-memory event store.
type Store struct {
	mu             sync.Mutex
	logFilter      map[string]interval.Set
	factoryLog     map[string]interval.Set
	childLogs      map[string][]childLog
	InsertedBlocks []int64 // block numbers passed to any Insert* call, for assertions
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		logFilter:  make(map[string]interval.Set),
		factoryLog: make(map[string]interval.Set),
		childLogs:  make(map[string][]childLog),
	}
}

func (s *Store) GetLogFilterIntervals(ctx context.Context, chainID int64, criteria source.Criteria) (interval.Set, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append(interval.Set{}, s.logFilter[store.CriteriaKey(chainID, criteria)]...), nil
}

func (s *Store) GetFactoryLogFilterIntervals(ctx context.Context, chainID int64, criteria source.Criteria) (interval.Set, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append(interval.Set{}, s.factoryLog[store.CriteriaKey(chainID, criteria)]...), nil
}

func (s *Store) InsertLogFilterInterval(ctx context.Context, chainID int64, block *types.Block, transactions []*types.Transaction, logs []types.Log, criteria source.Criteria, rng interval.Range) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := store.CriteriaKey(chainID, criteria)
	s.logFilter[key] = interval.Union(s.logFilter[key], interval.Set{rng})
	if block != nil {
		s.InsertedBlocks = append(s.InsertedBlocks, int64(block.NumberU64()))
	}
	return nil
}

func (s *Store) InsertFactoryLogFilterInterval(ctx context.Context, chainID int64, criteria source.Criteria, block *types.Block, transactions []*types.Transaction, logs []types.Log, rng interval.Range) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := store.CriteriaKey(chainID, criteria)
	s.factoryLog[key] = interval.Union(s.factoryLog[key], interval.Set{rng})
	return nil
}

func (s *Store) InsertFactoryChildAddressLogs(ctx context.Context, chainID int64, logs []types.Log) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, l := range logs {
		if len(l.Topics) == 0 {
			continue
		}
		key := store.CriteriaKey(chainID, source.Criteria{
			Addresses: []common.Address{l.Address},
			Topics:    [][]common.Hash{{l.Topics[0]}},
		})
		s.childLogs[key] = append(s.childLogs[key], childLog{blockNumber: int64(l.BlockNumber), topics: l.Topics})
	}
	return nil
}

type cursor struct {
	addresses []common.Address
	offset    int
}

func (c *cursor) Next(ctx context.Context) ([]common.Address, bool, error) {
	if c.offset >= len(c.addresses) {
		return nil, false, nil
	}
	batch := c.addresses[c.offset:]
	c.offset = len(c.addresses)
	return batch, true, nil
}

func (s *Store) GetFactoryChildAddresses(ctx context.Context, chainID int64, criteria source.Criteria, upToBlock int64) (store.ChildAddressCursor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := store.CriteriaKey(chainID, source.Criteria{
		Addresses: criteria.Addresses,
		Topics:    [][]common.Hash{{criteria.EventSelector}},
	})

	seen := make(map[common.Address]bool)
	var addrs []common.Address
	for _, l := range s.childLogs[key] {
		if l.blockNumber > upToBlock {
			continue
		}
		if criteria.ChildAddressLocation >= len(l.topics) {
			continue
		}
		addr := common.BytesToAddress(l.topics[criteria.ChildAddressLocation].Bytes())
		if !seen[addr] {
			seen[addr] = true
			addrs = append(addrs, addr)
		}
	}
	return &cursor{addresses: addrs}, nil
}

var _ store.Store = (*Store)(nil)
