// Package bolt implements the event store contract against an embedded
// bbolt database, used for single-process and fork-test runs of the
// historical sync engine.
package bolt

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.etcd.io/bbolt"

	"github.com/chainkit/hsync/internal/interval"
	"github.com/chainkit/hsync/internal/source"
	"github.com/chainkit/hsync/internal/store"
)

const (
	logFilterBucket        = "log_filter_intervals"
	factoryLogFilterBucket = "factory_log_filter_intervals"
	factoryChildLogsBucket = "factory_child_logs"

	childAddressBatchSize = 100
)

// Store is a bbolt-backed event store.
type Store struct {
	db *bbolt.DB
}

// Open opens (creating if necessary) a bbolt-backed store at path.
func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("bolt: open %s: %w", path, err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range []string{logFilterBucket, factoryLogFilterBucket, factoryChildLogsBucket} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("bolt: create buckets: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) getIntervals(bucket string, key string) (interval.Set, error) {
	var out interval.Set
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(bucket)).Get([]byte(key))
		if data == nil {
			return nil
		}
		return json.Unmarshal(data, &out)
	})
	return out, err
}

func (s *Store) mergeInterval(bucket string, key string, rng interval.Range) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucket))
		var existing interval.Set
		if data := b.Get([]byte(key)); data != nil {
			if err := json.Unmarshal(data, &existing); err != nil {
				return err
			}
		}
		merged := interval.Union(existing, interval.Set{rng})
		data, err := json.Marshal(merged)
		if err != nil {
			return err
		}
		return b.Put([]byte(key), data)
	})
}

// GetLogFilterIntervals implements store.Store.
func (s *Store) GetLogFilterIntervals(ctx context.Context, chainID int64, criteria source.Criteria) (interval.Set, error) {
	return s.getIntervals(logFilterBucket, store.CriteriaKey(chainID, criteria))
}

// GetFactoryLogFilterIntervals implements store.Store.
func (s *Store) GetFactoryLogFilterIntervals(ctx context.Context, chainID int64, criteria source.Criteria) (interval.Set, error) {
	return s.getIntervals(factoryLogFilterBucket, store.CriteriaKey(chainID, criteria))
}

// InsertLogFilterInterval implements store.Store. The block/transactions/
// logs payload isn't retained; only the coverage interval is committed,
// as in the Postgres store (internal/store/postgres).
func (s *Store) InsertLogFilterInterval(ctx context.Context, chainID int64, block *types.Block, transactions []*types.Transaction, logs []types.Log, criteria source.Criteria, rng interval.Range) error {
	return s.mergeInterval(logFilterBucket, store.CriteriaKey(chainID, criteria), rng)
}

// InsertFactoryLogFilterInterval implements store.Store.
func (s *Store) InsertFactoryLogFilterInterval(ctx context.Context, chainID int64, criteria source.Criteria, block *types.Block, transactions []*types.Transaction, logs []types.Log, rng interval.Range) error {
	return s.mergeInterval(factoryLogFilterBucket, store.CriteriaKey(chainID, criteria), rng)
}

type storedLog struct {
	Address     string   `json:"address"`
	BlockNumber int64    `json:"block_number"`
	Topics      []string `json:"topics"`
}

// InsertFactoryChildAddressLogs implements store.Store. Logs are grouped
// by their own (address, topic0) since that pair is exactly the factory
// criteria they were fetched under.
func (s *Store) InsertFactoryChildAddressLogs(ctx context.Context, chainID int64, logs []types.Log) error {
	if len(logs) == 0 {
		return nil
	}

	byKey := make(map[string][]types.Log)
	for _, l := range logs {
		if len(l.Topics) == 0 {
			continue
		}
		key := store.CriteriaKey(chainID, source.Criteria{
			Addresses: []common.Address{l.Address},
			Topics:    [][]common.Hash{{l.Topics[0]}},
		})
		byKey[key] = append(byKey[key], l)
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(factoryChildLogsBucket))
		for key, group := range byKey {
			var existing []storedLog
			if data := b.Get([]byte(key)); data != nil {
				if err := json.Unmarshal(data, &existing); err != nil {
					return err
				}
			}
			for _, l := range group {
				topics := make([]string, len(l.Topics))
				for i, t := range l.Topics {
					topics[i] = t.Hex()
				}
				existing = append(existing, storedLog{
					Address:     l.Address.Hex(),
					BlockNumber: int64(l.BlockNumber),
					Topics:      topics,
				})
			}
			sort.Slice(existing, func(i, j int) bool { return existing[i].BlockNumber < existing[j].BlockNumber })
			data, err := json.Marshal(existing)
			if err != nil {
				return err
			}
			if err := b.Put([]byte(key), data); err != nil {
				return err
			}
		}
		return nil
	})
}

type childAddressCursor struct {
	addresses []common.Address
	offset    int
}

func (c *childAddressCursor) Next(ctx context.Context) ([]common.Address, bool, error) {
	if c.offset >= len(c.addresses) {
		return nil, false, nil
	}
	end := c.offset + childAddressBatchSize
	if end > len(c.addresses) {
		end = len(c.addresses)
	}
	batch := c.addresses[c.offset:end]
	c.offset = end
	return batch, true, nil
}

// GetFactoryChildAddresses implements store.Store, extracting addresses
// from stored discovery logs at criteria.ChildAddressLocation (a topic
// index).
func (s *Store) GetFactoryChildAddresses(ctx context.Context, chainID int64, criteria source.Criteria, upToBlock int64) (store.ChildAddressCursor, error) {
	key := store.CriteriaKey(chainID, source.Criteria{
		Addresses: criteria.Addresses,
		Topics:    [][]common.Hash{{criteria.EventSelector}},
	})

	var stored []storedLog
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(factoryChildLogsBucket)).Get([]byte(key))
		if data == nil {
			return nil
		}
		return json.Unmarshal(data, &stored)
	})
	if err != nil {
		return nil, err
	}

	seen := make(map[common.Address]bool)
	var addrs []common.Address
	for _, l := range stored {
		if l.BlockNumber > upToBlock {
			continue
		}
		if criteria.ChildAddressLocation >= len(l.Topics) {
			continue
		}
		addr := common.HexToAddress(l.Topics[criteria.ChildAddressLocation])
		if !seen[addr] {
			seen[addr] = true
			addrs = append(addrs, addr)
		}
	}

	return &childAddressCursor{addresses: addrs}, nil
}

var _ store.Store = (*Store)(nil)
