package sink

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"arnscan/internal/enrich"
)

const createTableSQL = `
CREATE TABLE IF NOT EXISTS arn_data (
    arn        text PRIMARY KEY,
    data       jsonb NOT NULL,
    updated_at timestamptz NOT NULL DEFAULT now()
)`

const upsertSQL = `
INSERT INTO arn_data (arn, data, updated_at)
VALUES ($1, $2, now())
ON CONFLICT (arn) DO UPDATE SET data = EXCLUDED.data, updated_at = now()`

// Postgres upserts one row per ARN into the arn_data table.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres connects to the database and ensures the arn_data table
// exists.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("sink: connect postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, createTableSQL); err != nil {
		pool.Close()
		return nil, fmt.Errorf("sink: ensure schema: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

func (p *Postgres) Write(ctx context.Context, data map[string]enrich.Record) error {
	for arn, rec := range data {
		payload, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("sink: marshal record for %s: %w", arn, err)
		}
		if _, err := p.pool.Exec(ctx, upsertSQL, arn, payload); err != nil {
			return fmt.Errorf("sink: upsert %s: %w", arn, err)
		}
	}
	return nil
}

// Close releases the connection pool.
func (p *Postgres) Close() {
	p.pool.Close()
}

var _ Sink = (*Postgres)(nil)
