package rest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testRequest(t *testing.T, ctx context.Context, method, path string, seq uint64) *Request {
	t.Helper()
	req := &Request{Method: method, Path: path}
	require.NoError(t, req.prepare(ctx))
	req.seq = seq
	req.key = routeKey(req.Method, req.Path, nil)
	return req
}

func TestBucketSerializesUnknownQuota(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	b := newBucket("GET /gateway", now)

	first := testRequest(t, context.Background(), "GET", "/gateway", 1)
	second := testRequest(t, context.Background(), "GET", "/gateway", 2)
	b.enqueue(first)
	b.enqueue(second)

	req, wait := b.tryDequeue(now)
	require.Same(t, first, req)
	require.Zero(t, wait)

	// One in flight: the next dequeue waits for release.
	req, wait = b.tryDequeue(now)
	require.Nil(t, req)
	require.Positive(t, wait)

	b.release(now)

	// No headers arrived, so the provisional one-slot window reopens.
	req, wait = b.tryDequeue(now)
	require.Same(t, second, req)
	require.Zero(t, wait)
}

func TestBucketHonorsDiscoveredQuota(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	b := newBucket("POST /channels/123456789012345678/messages", now)
	b.applyHeaders(quota{limit: 5, remaining: 2, resetAt: now.Add(10 * time.Second), window: 10 * time.Second})

	for i := 0; i < 3; i++ {
		b.enqueue(testRequest(t, context.Background(), "POST", "/channels/123456789012345678/messages", uint64(i+1)))
	}

	req, _ := b.tryDequeue(now)
	require.NotNil(t, req)
	b.release(now)
	req, _ = b.tryDequeue(now)
	require.NotNil(t, req)
	b.release(now)

	// Remaining exhausted: the third request waits for the window reset.
	req, wait := b.tryDequeue(now)
	require.Nil(t, req)
	require.Equal(t, 10*time.Second, wait)

	// Past the reset the window reopens at the full limit.
	later := now.Add(10 * time.Second)
	req, _ = b.tryDequeue(later)
	require.NotNil(t, req)

	info := b.info()
	require.Equal(t, 5, info.Limit)
	require.Equal(t, 4, info.Remaining)
}

func TestBucketRemainingNeverNegative(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	b := newBucket("GET /gateway", now)
	b.applyHeaders(quota{limit: 1, remaining: 0, resetAt: now.Add(time.Second), window: time.Second})

	b.enqueue(testRequest(t, context.Background(), "GET", "/gateway", 1))

	req, wait := b.tryDequeue(now)
	require.Nil(t, req)
	require.Equal(t, time.Second, wait)
	require.GreaterOrEqual(t, b.info().Remaining, 0)

	req, _ = b.tryDequeue(now.Add(time.Second))
	require.NotNil(t, req)
	require.GreaterOrEqual(t, b.info().Remaining, 0)
}

func TestBucketPause(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	b := newBucket("GET /gateway", now)
	b.enqueue(testRequest(t, context.Background(), "GET", "/gateway", 1))

	b.pause(now.Add(250 * time.Millisecond))

	req, wait := b.tryDequeue(now)
	require.Nil(t, req)
	require.Equal(t, 250*time.Millisecond, wait)

	req, _ = b.tryDequeue(now.Add(300 * time.Millisecond))
	require.NotNil(t, req)
}

func TestBucketHeadBackoff(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	b := newBucket("GET /gateway", now)

	req := testRequest(t, context.Background(), "GET", "/gateway", 1)
	req.notBefore = now.Add(100 * time.Millisecond)
	b.requeueFront(req)

	got, wait := b.tryDequeue(now)
	require.Nil(t, got)
	require.Equal(t, 100*time.Millisecond, wait)

	got, _ = b.tryDequeue(now.Add(150 * time.Millisecond))
	require.Same(t, req, got)
}

func TestBucketRequeueFrontKeepsPriority(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	b := newBucket("GET /gateway", now)

	first := testRequest(t, context.Background(), "GET", "/gateway", 1)
	second := testRequest(t, context.Background(), "GET", "/gateway", 2)
	b.enqueue(first)
	b.enqueue(second)

	req, _ := b.tryDequeue(now)
	require.Same(t, first, req)
	b.release(now)
	b.requeueFront(first)

	req, _ = b.tryDequeue(now)
	require.Same(t, first, req)
}

func TestBucketSweepsExpiredRequests(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	b := newBucket("GET /gateway", now)

	ctx, cancel := context.WithCancel(context.Background())
	doomed := testRequest(t, ctx, "GET", "/gateway", 1)
	live := testRequest(t, context.Background(), "GET", "/gateway", 2)
	b.enqueue(doomed)
	b.enqueue(live)
	cancel()

	req, _ := b.tryDequeue(now)
	require.Same(t, live, req)

	_, err := doomed.Wait()
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrTimeout))
}

func TestBucketAbsorbMergesBySubmissionOrder(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	b := newBucket("GET /one", now)
	other := []*Request{
		testRequest(t, context.Background(), "GET", "/two", 2),
		testRequest(t, context.Background(), "GET", "/two", 5),
	}
	b.enqueue(testRequest(t, context.Background(), "GET", "/one", 1))
	b.enqueue(testRequest(t, context.Background(), "GET", "/one", 3))
	b.enqueue(testRequest(t, context.Background(), "GET", "/one", 4))

	b.absorb(other)

	var seqs []uint64
	for {
		req, _ := b.tryDequeue(now)
		if req == nil {
			break
		}
		seqs = append(seqs, req.seq)
		b.release(now)
	}
	require.Equal(t, []uint64{1, 2, 3, 4, 5}, seqs)

	for _, req := range other {
		require.Same(t, b, req.currentBucket())
	}
}

func TestBucketRemoveIsIdempotent(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	b := newBucket("GET /gateway", now)

	req := testRequest(t, context.Background(), "GET", "/gateway", 1)
	b.enqueue(req)
	b.remove(req)
	b.remove(req)
	require.Zero(t, b.pending())
}

func TestBucketIdle(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	b := newBucket("GET /gateway", now)
	ttl := 5 * time.Minute

	require.False(t, b.idle(now, ttl))
	require.True(t, b.idle(now.Add(ttl+time.Second), ttl))

	b.enqueue(testRequest(t, context.Background(), "GET", "/gateway", 1))
	require.False(t, b.idle(now.Add(ttl+time.Second), ttl))
}
