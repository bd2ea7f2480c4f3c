package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vegeta897/slash-create/internal/config"
)

func TestBuildLibsqlDSN(t *testing.T) {
	t.Run("URLUsesRawValue", func(t *testing.T) {
		cfg := config.StoreConfig{
			URL:       "libsql://example.turso.io",
			AuthToken: "token123",
		}

		dsn, err := buildLibsqlDSN(cfg)
		require.NoError(t, err)
		require.Equal(t, "libsql://example.turso.io?authToken=token123", dsn)
	})

	t.Run("URLWithExistingQuery", func(t *testing.T) {
		cfg := config.StoreConfig{
			URL:       "libsql://example.turso.io?foo=bar",
			AuthToken: "token123",
		}

		dsn, err := buildLibsqlDSN(cfg)
		require.NoError(t, err)
		require.Equal(t, "libsql://example.turso.io?authToken=token123&foo=bar", dsn)
	})

	t.Run("PathWithFilePrefix", func(t *testing.T) {
		cfg := config.StoreConfig{Path: "file:./slash-create.db"}

		dsn, err := buildLibsqlDSN(cfg)
		require.NoError(t, err)
		require.Equal(t, "file:./slash-create.db", dsn)
	})

	t.Run("PathMissing", func(t *testing.T) {
		cfg := config.StoreConfig{}

		_, err := buildLibsqlDSN(cfg)
		require.Error(t, err)
	})

	t.Run("MemoryPath", func(t *testing.T) {
		cfg := config.StoreConfig{Path: ":memory:"}

		dsn, err := buildLibsqlDSN(cfg)
		require.NoError(t, err)
		require.Equal(t, ":memory:", dsn)
	})
}

func TestBucketQueryValidate(t *testing.T) {
	require.Error(t, BucketQuery{}.Validate())
	require.NoError(t, BucketQuery{All: true}.Validate())
	require.NoError(t, BucketQuery{Key: "GET /gateway"}.Validate())
	require.NoError(t, BucketQuery{Prefix: "GET /channels"}.Validate())
}

func TestBucketQueryWhereClause(t *testing.T) {
	t.Run("All", func(t *testing.T) {
		where, args, err := BucketQuery{All: true}.whereClause()
		require.NoError(t, err)
		require.Empty(t, where)
		require.Empty(t, args)
	})

	t.Run("Key", func(t *testing.T) {
		where, args, err := BucketQuery{Key: "GET /gateway"}.whereClause()
		require.NoError(t, err)
		require.Equal(t, "WHERE route_key = ?", where)
		require.Equal(t, []any{"GET /gateway"}, args)
	})

	t.Run("Prefix", func(t *testing.T) {
		where, args, err := BucketQuery{Prefix: "GET /channels"}.whereClause()
		require.NoError(t, err)
		require.Equal(t, "WHERE route_key LIKE ?", where)
		require.Equal(t, []any{"GET /channels%"}, args)
	})

	t.Run("NoSelector", func(t *testing.T) {
		_, _, err := BucketQuery{}.whereClause()
		require.Error(t, err)
	})
}

func TestRedisRecordKeys(t *testing.T) {
	s := NewRedisStore(nil, WithKeyPrefix("custom:buckets:"))
	require.Equal(t, "custom:buckets:GET /gateway", s.recordKey("GET /gateway"))
	require.Equal(t, "GET /gateway", s.routeKey("custom:buckets:GET /gateway"))
}

func TestRecordFromHash(t *testing.T) {
	fields := map[string]string{
		"bucket_id":  "abcd1234",
		"limit":      "5",
		"remaining":  "2",
		"reset_at":   "1748779205500",
		"updated_at": "1748779200000",
	}

	rec := recordFromHash("GET /channels/:id/messages", fields)
	require.Equal(t, "GET /channels/:id/messages", rec.Key)
	require.Equal(t, "abcd1234", rec.BucketID)
	require.Equal(t, 5, rec.Limit)
	require.Equal(t, 2, rec.Remaining)
	require.Equal(t, time.UnixMilli(1748779205500).UTC(), rec.ResetAt)
	require.Equal(t, time.UnixMilli(1748779200000).UTC(), rec.UpdatedAt)

	garbled := recordFromHash("GET /gateway", map[string]string{"limit": "not-a-number"})
	require.Zero(t, garbled.Limit)
	require.True(t, garbled.ResetAt.IsZero())
}
