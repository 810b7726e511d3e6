package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// pgxBatch accumulates statements for a single pipelined round-trip,
// used to persist a set of factory child-address discovery logs without
// a round-trip per row.
type pgxBatch struct {
	b pgx.Batch
}

func (p *pgxBatch) queue(sql string, args ...any) {
	p.b.Queue(sql, args...)
}

func (p *pgxBatch) send(ctx context.Context, pool *pgxpool.Pool) error {
	if p.b.Len() == 0 {
		return nil
	}
	br := pool.SendBatch(ctx, &p.b)
	defer br.Close()

	for i := 0; i < p.b.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}
