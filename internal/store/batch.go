package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// pgxBatch is a thin convenience wrapper around pgx.Batch for the
// fire-and-forget, no-result-rows statements this package issues in bulk
// (idempotent inserts, per-row updates inside a transaction).
type pgxBatch struct {
	b pgx.Batch
}

func (p *pgxBatch) queue(sql string, args ...any) {
	p.b.Queue(sql, args...)
}

func (p *pgxBatch) run(ctx context.Context, pool *pgxpool.Pool, op string) error {
	if p.b.Len() == 0 {
		return nil
	}
	br := pool.SendBatch(ctx, &p.b)
	defer br.Close()
	for i := 0; i < p.b.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("%s batch item %d: %w", op, i, err)
		}
	}
	return nil
}
