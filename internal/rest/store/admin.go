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

// BucketQuery selects persisted buckets for the admin operations.
// Exactly one selector is honored, checked in the order All, Key,
// Prefix.
type BucketQuery struct {
	All    bool
	Key    string
	Prefix string
}

func (q BucketQuery) Validate() error {
	if q.All {
		return nil
	}
	if strings.TrimSpace(q.Key) != "" {
		return nil
	}
	if strings.TrimSpace(q.Prefix) != "" {
		return nil
	}
	return errors.New("must specify --all, --key, or --prefix")
}

func (q BucketQuery) whereClause() (string, []any, error) {
	if err := q.Validate(); err != nil {
		return "", nil, err
	}
	if q.All {
		return "", nil, nil
	}
	if key := strings.TrimSpace(q.Key); key != "" {
		return "WHERE route_key = ?", []any{key}, nil
	}
	prefix := strings.TrimSpace(q.Prefix)
	if prefix == "" {
		return "", nil, errors.New("prefix is required")
	}
	return "WHERE route_key LIKE ?", []any{prefix + "%"}, nil
}

// ListBuckets returns persisted bucket records matching the query,
// ordered by route key.
func (s *Store) ListBuckets(ctx context.Context, q BucketQuery) ([]rest.BucketRecord, error) {
	if s == nil || s.DB == nil {
		return nil, errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	where, args, err := q.whereClause()
	if err != nil {
		return nil, err
	}

	rows, err := s.DB.QueryContext(ctx, fmt.Sprintf(`
		SELECT route_key, bucket_id, bucket_limit, remaining, reset_at, updated_at
		FROM buckets
		%s
		ORDER BY route_key
	`, where), args...)
	if err != nil {
		return nil, fmt.Errorf("list buckets: %w", err)
	}
	defer rows.Close() // nolint:errcheck // best-effort cleanup

	records := []rest.BucketRecord{}
	for rows.Next() {
		var (
			key       string
			bucketID  sql.NullString
			limit     int
			remaining int
			resetAt   sql.NullInt64
			updatedAt int64
		)
		if err := rows.Scan(&key, &bucketID, &limit, &remaining, &resetAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan buckets: %w", err)
		}

		rec := rest.BucketRecord{
			Key:       key,
			BucketID:  bucketID.String,
			Limit:     limit,
			Remaining: remaining,
			UpdatedAt: time.UnixMilli(updatedAt).UTC(),
		}
		if resetAt.Valid {
			rec.ResetAt = time.UnixMilli(resetAt.Int64).UTC()
		}

		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list buckets: %w", err)
	}

	return records, nil
}

func (s *Store) CountBuckets(ctx context.Context, q BucketQuery) (int, error) {
	if s == nil || s.DB == nil {
		return 0, errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	where, args, err := q.whereClause()
	if err != nil {
		return 0, err
	}

	row := s.DB.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT COUNT(*)
		FROM buckets
		%s
	`, where), args...)

	var count int
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("count buckets: %w", err)
	}
	return count, nil
}

// ResetBuckets deletes matching bucket records and reports how many
// rows were removed.
func (s *Store) ResetBuckets(ctx context.Context, q BucketQuery) (int64, error) {
	if s == nil || s.DB == nil {
		return 0, errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	where, args, err := q.whereClause()
	if err != nil {
		return 0, err
	}

	result, err := s.DB.ExecContext(ctx, fmt.Sprintf(`
		DELETE FROM buckets
		%s
	`, where), args...)
	if err != nil {
		return 0, fmt.Errorf("reset buckets: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reset buckets: %w", err)
	}
	return affected, nil
}
