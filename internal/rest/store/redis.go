package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vegeta897/slash-create/internal/rest"
)

// RedisStore keeps one hash per route key so a fleet of dispatchers
// can share discovered bucket state. Records expire on their own; the
// ttl only needs to outlive the longest reset window by a comfortable
// margin.
type RedisStore struct {
	rdb *redis.Client

	prefix string
	ttl    time.Duration
}

type RedisOption func(*RedisStore)

func WithKeyPrefix(prefix string) RedisOption {
	return func(s *RedisStore) {
		s.prefix = strings.Trim(prefix, ":")
	}
}

func WithRecordTTL(d time.Duration) RedisOption {
	return func(s *RedisStore) { s.ttl = d }
}

func NewRedisStore(rdb *redis.Client, opts ...RedisOption) *RedisStore {
	s := &RedisStore{
		rdb:    rdb,
		prefix: "slash-create:buckets",
		ttl:    24 * time.Hour,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStore) recordKey(routeKey string) string {
	return s.prefix + ":" + routeKey
}

func (s *RedisStore) routeKey(recordKey string) string {
	return strings.TrimPrefix(recordKey, s.prefix+":")
}

// GetBucket returns persisted quota state for a route key.
func (s *RedisStore) GetBucket(ctx context.Context, key string) (*rest.BucketRecord, error) {
	if s == nil || s.rdb == nil {
		return nil, errors.New("redis store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	key = strings.TrimSpace(key)
	if key == "" {
		return nil, errors.New("route key is required")
	}

	fields, err := s.rdb.HGetAll(ctx, s.recordKey(key)).Result()
	if err != nil {
		return nil, fmt.Errorf("fetch bucket: %w", err)
	}
	if len(fields) == 0 {
		return nil, nil
	}
	rec := recordFromHash(key, fields)
	return &rec, nil
}

// PutBucket upserts quota state for a route key.
func (s *RedisStore) PutBucket(ctx context.Context, rec *rest.BucketRecord) error {
	if s == nil || s.rdb == nil {
		return errors.New("redis store is not initialized")
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

	updatedAt := rec.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}

	var resetAt int64
	if !rec.ResetAt.IsZero() {
		resetAt = rec.ResetAt.UTC().UnixMilli()
	}

	recordKey := s.recordKey(key)
	pipe := s.rdb.Pipeline()
	pipe.HSet(ctx, recordKey, map[string]any{
		"bucket_id":  rec.BucketID,
		"limit":      rec.Limit,
		"remaining":  rec.Remaining,
		"reset_at":   resetAt,
		"updated_at": updatedAt.UTC().UnixMilli(),
	})
	if s.ttl > 0 {
		pipe.Expire(ctx, recordKey, s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store bucket: %w", err)
	}
	return nil
}

// ListBuckets returns persisted bucket records matching the query,
// ordered by route key.
func (s *RedisStore) ListBuckets(ctx context.Context, q BucketQuery) ([]rest.BucketRecord, error) {
	if s == nil || s.rdb == nil {
		return nil, errors.New("redis store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	if key := strings.TrimSpace(q.Key); key != "" && !q.All {
		rec, err := s.GetBucket(ctx, key)
		if err != nil {
			return nil, err
		}
		if rec == nil {
			return []rest.BucketRecord{}, nil
		}
		return []rest.BucketRecord{*rec}, nil
	}

	keys, err := s.scanKeys(ctx, q)
	if err != nil {
		return nil, err
	}

	records := make([]rest.BucketRecord, 0, len(keys))
	for _, recordKey := range keys {
		fields, err := s.rdb.HGetAll(ctx, recordKey).Result()
		if err != nil {
			return nil, fmt.Errorf("list buckets: %w", err)
		}
		if len(fields) == 0 {
			continue
		}
		records = append(records, recordFromHash(s.routeKey(recordKey), fields))
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Key < records[j].Key })
	return records, nil
}

func (s *RedisStore) CountBuckets(ctx context.Context, q BucketQuery) (int, error) {
	records, err := s.ListBuckets(ctx, q)
	if err != nil {
		return 0, err
	}
	return len(records), nil
}

// ResetBuckets deletes matching bucket records and reports how many
// were removed.
func (s *RedisStore) ResetBuckets(ctx context.Context, q BucketQuery) (int64, error) {
	if s == nil || s.rdb == nil {
		return 0, errors.New("redis store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	if key := strings.TrimSpace(q.Key); key != "" && !q.All {
		removed, err := s.rdb.Del(ctx, s.recordKey(key)).Result()
		if err != nil {
			return 0, fmt.Errorf("reset buckets: %w", err)
		}
		return removed, nil
	}

	keys, err := s.scanKeys(ctx, q)
	if err != nil {
		return 0, err
	}
	if len(keys) == 0 {
		return 0, nil
	}

	removed, err := s.rdb.Del(ctx, keys...).Result()
	if err != nil {
		return 0, fmt.Errorf("reset buckets: %w", err)
	}
	return removed, nil
}

func (s *RedisStore) scanKeys(ctx context.Context, q BucketQuery) ([]string, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	pattern := s.prefix + ":*"
	if !q.All {
		if prefix := strings.TrimSpace(q.Prefix); prefix != "" {
			pattern = s.prefix + ":" + prefix + "*"
		}
	}

	var keys []string
	iter := s.rdb.Scan(ctx, 0, pattern, 256).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan buckets: %w", err)
	}
	return keys, nil
}

// Migrate is a no-op for redis; the layout is schemaless.
func (s *RedisStore) Migrate(context.Context) error {
	if s == nil || s.rdb == nil {
		return errors.New("redis store is not initialized")
	}
	return nil
}

// Driver returns the store driver name.
func (s *RedisStore) Driver() string {
	return driverRedis
}

// Close releases the redis connection.
func (s *RedisStore) Close() error {
	if s == nil || s.rdb == nil {
		return nil
	}
	return s.rdb.Close()
}

func recordFromHash(routeKey string, fields map[string]string) rest.BucketRecord {
	rec := rest.BucketRecord{
		Key:       routeKey,
		BucketID:  fields["bucket_id"],
		Limit:     intField(fields, "limit"),
		Remaining: intField(fields, "remaining"),
	}
	if ms := int64Field(fields, "reset_at"); ms > 0 {
		rec.ResetAt = time.UnixMilli(ms).UTC()
	}
	if ms := int64Field(fields, "updated_at"); ms > 0 {
		rec.UpdatedAt = time.UnixMilli(ms).UTC()
	}
	return rec
}

func intField(fields map[string]string, name string) int {
	value, err := strconv.Atoi(fields[name])
	if err != nil {
		return 0
	}
	return value
}

func int64Field(fields map[string]string, name string) int64 {
	value, err := strconv.ParseInt(fields[name], 10, 64)
	if err != nil {
		return 0
	}
	return value
}
