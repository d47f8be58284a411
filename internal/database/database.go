package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Connect opens a pgx connection pool using the provided DSN.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	cfg.MaxConns = 8
	cfg.MaxConnIdleTime = 5 * time.Minute
	return pgxpool.NewWithConfig(ctx, cfg)
}

// EnsureSchema creates the files table if needed. Having the migration in
// code keeps the service self-contained so docker-compose can bootstrap
// everything. The seq column is a monotonic insertion counter used to break
// uploaded_at ties deterministically.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	const stmt = `
CREATE TABLE IF NOT EXISTS files (
	id UUID PRIMARY KEY,
	seq BIGSERIAL,
	title TEXT NOT NULL,
	object_key TEXT NOT NULL,
	file_type TEXT NOT NULL,
	file_size BIGINT NOT NULL CHECK (file_size >= 0),
	state TEXT NOT NULL DEFAULT 'restored',
	owner_id TEXT NOT NULL,
	shared_user_ids TEXT[] NOT NULL DEFAULT '{}',
	uploaded_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_files_state ON files(state);
CREATE INDEX IF NOT EXISTS idx_files_owner ON files(owner_id);
CREATE INDEX IF NOT EXISTS idx_files_shared ON files USING GIN (shared_user_ids);`
	_, err := pool.Exec(ctx, stmt)
	if err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}
