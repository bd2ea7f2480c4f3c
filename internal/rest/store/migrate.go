package store

import (
	"context"
	"errors"
	"fmt"
)

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS buckets (
		route_key TEXT PRIMARY KEY,
		bucket_id TEXT,
		bucket_limit INTEGER NOT NULL DEFAULT 1,
		remaining INTEGER NOT NULL DEFAULT 0,
		reset_at INTEGER,
		updated_at INTEGER NOT NULL
	);`,
	`CREATE INDEX IF NOT EXISTS idx_buckets_bucket_id ON buckets(bucket_id);`,
	`CREATE INDEX IF NOT EXISTS idx_buckets_updated ON buckets(updated_at);`,
}

// Migrate ensures the required database tables exist.
func (s *Store) Migrate(ctx context.Context) error {
	if s == nil || s.DB == nil {
		return errors.New("store is not initialized")
	}

	if ctx == nil {
		ctx = context.Background()
	}

	for _, stmt := range schemaStatements {
		if _, err := s.DB.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("store migration failed: %w", err)
		}
	}

	return nil
}
