// Package postgres implements the event store contract against
// PostgreSQL using a pgxpool connection pool.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chainkit/hsync/internal/interval"
	"github.com/chainkit/hsync/internal/source"
	"github.com/chainkit/hsync/internal/store"
)

// Store is a PostgreSQL-backed event store.
type Store struct {
	pool *pgxpool.Pool
}

// Open connects to dsn and ensures the schema exists.
func Open(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}

	s := &Store{pool: pool}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the connection pool.
func (s *Store) Close() { s.pool.Close() }

func (s *Store) migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS hsync_log_filter_intervals (
			criteria_key TEXT NOT NULL,
			chain_id     BIGINT NOT NULL,
			from_block   BIGINT NOT NULL,
			to_block     BIGINT NOT NULL,
			PRIMARY KEY (criteria_key, from_block, to_block)
		);
		CREATE TABLE IF NOT EXISTS hsync_factory_log_filter_intervals (
			criteria_key TEXT NOT NULL,
			chain_id     BIGINT NOT NULL,
			from_block   BIGINT NOT NULL,
			to_block     BIGINT NOT NULL,
			PRIMARY KEY (criteria_key, from_block, to_block)
		);
		CREATE TABLE IF NOT EXISTS hsync_factory_child_logs (
			criteria_key TEXT NOT NULL,
			chain_id     BIGINT NOT NULL,
			block_number BIGINT NOT NULL,
			address      TEXT NOT NULL,
			topics       JSONB NOT NULL
		);
		CREATE INDEX IF NOT EXISTS hsync_factory_child_logs_key_idx
			ON hsync_factory_child_logs (criteria_key, block_number);
	`)
	if err != nil {
		return fmt.Errorf("postgres: migrate: %w", err)
	}
	return nil
}

func (s *Store) getIntervals(ctx context.Context, table string, key string) (interval.Set, error) {
	rows, err := s.pool.Query(ctx,
		fmt.Sprintf(`SELECT from_block, to_block FROM %s WHERE criteria_key = $1 ORDER BY from_block`, table),
		key)
	if err != nil {
		return nil, fmt.Errorf("postgres: query %s: %w", table, err)
	}
	defer rows.Close()

	var raw interval.Set
	for rows.Next() {
		var r interval.Range
		if err := rows.Scan(&r.From, &r.To); err != nil {
			return nil, err
		}
		raw = append(raw, r)
	}
	return interval.Union(nil, raw), rows.Err()
}

func (s *Store) insertInterval(ctx context.Context, table string, chainID int64, key string, rng interval.Range) error {
	_, err := s.pool.Exec(ctx,
		fmt.Sprintf(`INSERT INTO %s (criteria_key, chain_id, from_block, to_block)
			VALUES ($1, $2, $3, $4) ON CONFLICT (criteria_key, from_block, to_block) DO NOTHING`, table),
		key, chainID, rng.From, rng.To)
	if err != nil {
		return fmt.Errorf("postgres: insert %s: %w", table, err)
	}
	return nil
}

// GetLogFilterIntervals implements store.Store.
func (s *Store) GetLogFilterIntervals(ctx context.Context, chainID int64, criteria source.Criteria) (interval.Set, error) {
	return s.getIntervals(ctx, "hsync_log_filter_intervals", store.CriteriaKey(chainID, criteria))
}

// GetFactoryLogFilterIntervals implements store.Store.
func (s *Store) GetFactoryLogFilterIntervals(ctx context.Context, chainID int64, criteria source.Criteria) (interval.Set, error) {
	return s.getIntervals(ctx, "hsync_factory_log_filter_intervals", store.CriteriaKey(chainID, criteria))
}

// InsertLogFilterInterval implements store.Store. Event payload
// persistence (the decoded block/transactions/logs) is a downstream
// indexer's concern; this commits only the coverage interval the
// engine's correctness depends on.
func (s *Store) InsertLogFilterInterval(ctx context.Context, chainID int64, block *types.Block, transactions []*types.Transaction, logs []types.Log, criteria source.Criteria, rng interval.Range) error {
	return s.insertInterval(ctx, "hsync_log_filter_intervals", chainID, store.CriteriaKey(chainID, criteria), rng)
}

// InsertFactoryLogFilterInterval implements store.Store.
func (s *Store) InsertFactoryLogFilterInterval(ctx context.Context, chainID int64, criteria source.Criteria, block *types.Block, transactions []*types.Transaction, logs []types.Log, rng interval.Range) error {
	return s.insertInterval(ctx, "hsync_factory_log_filter_intervals", chainID, store.CriteriaKey(chainID, criteria), rng)
}

// InsertFactoryChildAddressLogs implements store.Store.
func (s *Store) InsertFactoryChildAddressLogs(ctx context.Context, chainID int64, logs []types.Log) error {
	batch := &pgxBatch{}
	for _, l := range logs {
		if len(l.Topics) == 0 {
			continue
		}
		key := store.CriteriaKey(chainID, source.Criteria{
			Addresses: []common.Address{l.Address},
			Topics:    [][]common.Hash{{l.Topics[0]}},
		})
		topics := make([]string, len(l.Topics))
		for i, t := range l.Topics {
			topics[i] = t.Hex()
		}
		data, err := json.Marshal(topics)
		if err != nil {
			return err
		}
		batch.queue(`INSERT INTO hsync_factory_child_logs (criteria_key, chain_id, block_number, address, topics)
			VALUES ($1, $2, $3, $4, $5)`,
			key, chainID, int64(l.BlockNumber), l.Address.Hex(), data)
	}
	return batch.send(ctx, s.pool)
}

type childAddressCursor struct {
	pool     *pgxpool.Pool
	key      string
	location int
	upTo     int64
	offset   int64
}

const childAddressBatchSize = 100

func (c *childAddressCursor) Next(ctx context.Context) ([]common.Address, bool, error) {
	rows, err := c.pool.Query(ctx, `
		SELECT DISTINCT topics FROM hsync_factory_child_logs
		WHERE criteria_key = $1 AND block_number <= $2
		ORDER BY topics
		LIMIT $3 OFFSET $4`,
		c.key, c.upTo, childAddressBatchSize, c.offset)
	if err != nil {
		return nil, false, fmt.Errorf("postgres: child address batch: %w", err)
	}
	defer rows.Close()

	var out []common.Address
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, false, err
		}
		var topics []string
		if err := json.Unmarshal(raw, &topics); err != nil {
			return nil, false, err
		}
		if c.location >= len(topics) {
			continue
		}
		out = append(out, common.HexToAddress(topics[c.location]))
	}
	if err := rows.Err(); err != nil {
		return nil, false, err
	}

	if len(out) == 0 {
		return nil, false, nil
	}
	c.offset += int64(len(out))
	return out, true, nil
}

// GetFactoryChildAddresses implements store.Store.
func (s *Store) GetFactoryChildAddresses(ctx context.Context, chainID int64, criteria source.Criteria, upToBlock int64) (store.ChildAddressCursor, error) {
	key := store.CriteriaKey(chainID, source.Criteria{
		Addresses: criteria.Addresses,
		Topics:    [][]common.Hash{{criteria.EventSelector}},
	})
	return &childAddressCursor{
		pool:     s.pool,
		key:      key,
		location: criteria.ChildAddressLocation,
		upTo:     upToBlock,
	}, nil
}

var _ store.Store = (*Store)(nil)
