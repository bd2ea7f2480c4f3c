//go:build cgo

package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vegeta897/slash-create/internal/config"
	"github.com/vegeta897/slash-create/internal/rest"
)

func openMemoryStore(t *testing.T) Backend {
	t.Helper()
	ctx := context.Background()
	cfg := config.StoreConfig{
		Driver: "libsql",
		Path:   ":memory:",
	}

	s, err := Open(ctx, cfg)
	require.NoError(t, err)
	require.NoError(t, s.Migrate(ctx))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpenMemoryStore(t *testing.T) {
	s := openMemoryStore(t)
	require.Equal(t, "libsql", s.Driver())
}

func TestBucketRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openMemoryStore(t)

	missing, err := s.GetBucket(ctx, "GET /gateway")
	require.NoError(t, err)
	require.Nil(t, missing)

	rec := &rest.BucketRecord{
		Key:       "GET /channels/:id/messages",
		BucketID:  "abcd1234",
		Limit:     5,
		Remaining: 2,
		ResetAt:   time.Date(2025, 6, 1, 12, 0, 0, 250_000_000, time.UTC),
		UpdatedAt: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	require.NoError(t, s.PutBucket(ctx, rec))

	got, err := s.GetBucket(ctx, rec.Key)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, rec.BucketID, got.BucketID)
	require.Equal(t, rec.Limit, got.Limit)
	require.Equal(t, rec.Remaining, got.Remaining)
	// Millisecond fractions survive the round trip.
	require.True(t, got.ResetAt.Equal(rec.ResetAt))
	require.True(t, got.UpdatedAt.Equal(rec.UpdatedAt))

	rec.Remaining = 0
	rec.BucketID = "efgh5678"
	require.NoError(t, s.PutBucket(ctx, rec))

	got, err = s.GetBucket(ctx, rec.Key)
	require.NoError(t, err)
	require.Equal(t, 0, got.Remaining)
	require.Equal(t, "efgh5678", got.BucketID)
}

func TestBucketAdminQueries(t *testing.T) {
	ctx := context.Background()
	s := openMemoryStore(t)

	seed := []rest.BucketRecord{
		{Key: "GET /channels/:id/messages", BucketID: "aaa", Limit: 5, Remaining: 5},
		{Key: "POST /channels/:id/messages", BucketID: "bbb", Limit: 5, Remaining: 1},
		{Key: "GET /users/:id", BucketID: "ccc", Limit: 10, Remaining: 9},
	}
	for i := range seed {
		seed[i].UpdatedAt = time.Now().UTC()
		require.NoError(t, s.PutBucket(ctx, &seed[i]))
	}

	all, err := s.ListBuckets(ctx, BucketQuery{All: true})
	require.NoError(t, err)
	require.Len(t, all, 3)
	// Ordered by route key.
	require.Equal(t, "GET /channels/:id/messages", all[0].Key)
	require.Equal(t, "GET /users/:id", all[1].Key)
	require.Equal(t, "POST /channels/:id/messages", all[2].Key)

	count, err := s.CountBuckets(ctx, BucketQuery{Prefix: "GET "})
	require.NoError(t, err)
	require.Equal(t, 2, count)

	one, err := s.ListBuckets(ctx, BucketQuery{Key: "GET /users/:id"})
	require.NoError(t, err)
	require.Len(t, one, 1)
	require.Equal(t, "ccc", one[0].BucketID)

	_, err = s.ListBuckets(ctx, BucketQuery{})
	require.Error(t, err)

	removed, err := s.ResetBuckets(ctx, BucketQuery{Prefix: "GET /channels"})
	require.NoError(t, err)
	require.Equal(t, int64(1), removed)

	count, err = s.CountBuckets(ctx, BucketQuery{All: true})
	require.NoError(t, err)
	require.Equal(t, 2, count)

	removed, err = s.ResetBuckets(ctx, BucketQuery{All: true})
	require.NoError(t, err)
	require.Equal(t, int64(2), removed)
}
