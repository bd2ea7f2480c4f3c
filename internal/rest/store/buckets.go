package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vegeta897/slash-create/internal/rest"
)

// Timestamps are stored as unix milliseconds: reset windows are
// routinely sub-second and whole seconds would round a live window
// away.

// GetBucket returns persisted quota state for a route key.
func (s *Store) GetBucket(ctx context.Context, key string) (*rest.BucketRecord, error) {
	if s == nil || s.DB == nil {
		return nil, errors.New("store is not initialized")
	}

	if ctx == nil {
		ctx = context.Background()
	}

	key = strings.TrimSpace(key)
	if key == "" {
		return nil, errors.New("route key is required")
	}

	var (
		bucketID  sql.NullString
		limit     int
		remaining int
		resetAt   sql.NullInt64
		updatedAt int64
	)

	row := s.DB.QueryRowContext(ctx, `
		SELECT bucket_id, bucket_limit, remaining, reset_at, updated_at
		FROM buckets
		WHERE route_key = ?
	`, key)

	if err := row.Scan(&bucketID, &limit, &remaining, &resetAt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("fetch bucket: %w", err)
	}

	rec := &rest.BucketRecord{
		Key:       key,
		BucketID:  bucketID.String,
		Limit:     limit,
		Remaining: remaining,
		UpdatedAt: time.UnixMilli(updatedAt).UTC(),
	}
	if resetAt.Valid {
		rec.ResetAt = time.UnixMilli(resetAt.Int64).UTC()
	}

	return rec, nil
}

// PutBucket upserts quota state for a route key.
func (s *Store) PutBucket(ctx context.Context, rec *rest.BucketRecord) error {
	if s == nil || s.DB == nil {
		return errors.New("store is not initialized")
	}

	if ctx == nil {
		ctx = context.Background()
	}

	if rec == nil {
		return errors.New("bucket record is required")
	}
	key := strings.TrimSpace(rec.Key)
	if key == "" {
		return errors.New("route key is required")
	}

	var bucketID sql.NullString
	if rec.BucketID != "" {
		bucketID = sql.NullString{String: rec.BucketID, Valid: true}
	}

	var resetAt sql.NullInt64
	if !rec.ResetAt.IsZero() {
		resetAt = sql.NullInt64{Int64: rec.ResetAt.UTC().UnixMilli(), Valid: true}
	}

	updatedAt := rec.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}

	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO buckets (route_key, bucket_id, bucket_limit, remaining, reset_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(route_key) DO UPDATE SET
			bucket_id = excluded.bucket_id,
			bucket_limit = excluded.bucket_limit,
			remaining = excluded.remaining,
			reset_at = excluded.reset_at,
			updated_at = excluded.updated_at
	`, key, bucketID, rec.Limit, rec.Remaining, resetAt, updatedAt.UTC().UnixMilli())
	if err != nil {
		return fmt.Errorf("store bucket: %w", err)
	}

	return nil
}
