package rest

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type scriptedTransport struct {
	mu      sync.Mutex
	calls   []string
	handler func(call int, method, path string) (*Response, error)
}

func (s *scriptedTransport) Send(_ context.Context, method, path string, _ http.Header, _ []byte) (*Response, error) {
	s.mu.Lock()
	call := len(s.calls)
	s.calls = append(s.calls, method+" "+path)
	s.mu.Unlock()
	return s.handler(call, method, path)
}

func (s *scriptedTransport) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func (s *scriptedTransport) callLog() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

func quotaHeaders(limit, remaining int, resetAfter float64, bucketID string) http.Header {
	h := make(http.Header)
	h.Set("X-RateLimit-Limit", strconv.Itoa(limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
	h.Set("X-RateLimit-Reset-After", strconv.FormatFloat(resetAfter, 'f', -1, 64))
	if bucketID != "" {
		h.Set("X-RateLimit-Bucket", bucketID)
	}
	return h
}

func okResponse(limit, remaining int, resetAfter float64, bucketID string) *Response {
	return &Response{Status: http.StatusOK, Header: quotaHeaders(limit, remaining, resetAfter, bucketID), Body: []byte(`{}`)}
}

type memoryBucketStore struct {
	mu      sync.Mutex
	records map[string]*BucketRecord
}

func newMemoryBucketStore() *memoryBucketStore {
	return &memoryBucketStore{records: make(map[string]*BucketRecord)}
}

func (s *memoryBucketStore) GetBucket(_ context.Context, key string) (*BucketRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[key]
	if !ok {
		return nil, nil
	}
	copied := *rec
	return &copied, nil
}

func (s *memoryBucketStore) PutBucket(_ context.Context, rec *BucketRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *rec
	s.records[rec.Key] = &copied
	return nil
}

func TestDispatcherFIFOWithinBucket(t *testing.T) {
	transport := &scriptedTransport{handler: func(int, string, string) (*Response, error) {
		return okResponse(10, 9, 5, "bkt-a"), nil
	}}
	d := NewDispatcher(transport, Config{})

	var reqs []*Request
	var wantLog []string
	for i := 0; i < 5; i++ {
		path := "/channels/123456789012345678/messages/" + strconv.Itoa(876543210987654300+i)
		req := &Request{Method: "GET", Path: path}
		require.NoError(t, d.Enqueue(context.Background(), req))
		reqs = append(reqs, req)
		wantLog = append(wantLog, "GET "+path)
	}

	for _, req := range reqs {
		resp, err := req.Wait()
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.Status)
		require.Equal(t, 1, req.Attempts())
	}
	require.Equal(t, wantLog, transport.callLog())

	stats := d.Stats()
	require.Equal(t, int64(5), stats.Enqueued)
	require.Equal(t, int64(5), stats.Dispatched)
	require.Zero(t, stats.Retried)
}

func TestDispatcherSerializesFreshBucket(t *testing.T) {
	var mu sync.Mutex
	inflight, peak := 0, 0
	transport := &scriptedTransport{handler: func(int, string, string) (*Response, error) {
		mu.Lock()
		inflight++
		if inflight > peak {
			peak = inflight
		}
		mu.Unlock()
		time.Sleep(20 * time.Millisecond)
		mu.Lock()
		inflight--
		mu.Unlock()
		return okResponse(5, 4, 5, ""), nil
	}}
	d := NewDispatcher(transport, Config{})

	var reqs []*Request
	for i := 0; i < 3; i++ {
		req := &Request{Method: "GET", Path: "/gateway"}
		require.NoError(t, d.Enqueue(context.Background(), req))
		reqs = append(reqs, req)
	}
	for _, req := range reqs {
		_, err := req.Wait()
		require.NoError(t, err)
	}

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, 1, peak)
}

func TestDispatcherRetriesAfter429(t *testing.T) {
	transport := &scriptedTransport{handler: func(call int, _, _ string) (*Response, error) {
		if call == 0 {
			h := quotaHeaders(5, 0, 0.1, "bkt-a")
			h.Set("Retry-After", "0.1")
			body := []byte(`{"message":"You are being rate limited.","retry_after":0.1,"global":false}`)
			return &Response{Status: http.StatusTooManyRequests, Header: h, Body: body}, nil
		}
		return okResponse(5, 4, 5, "bkt-a"), nil
	}}
	d := NewDispatcher(transport, Config{})

	req := &Request{Method: "POST", Path: "/channels/123456789012345678/messages", Body: []byte(`{"content":"hi"}`)}
	start := time.Now()
	resp, err := d.Do(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.Status)
	require.Equal(t, 2, req.Attempts())
	require.Equal(t, 2, transport.callCount())
	require.GreaterOrEqual(t, time.Since(start), 90*time.Millisecond)
}

func TestDispatcher429PausesOnlyThatBucket(t *testing.T) {
	var mu sync.Mutex
	guildCalls := 0
	transport := &scriptedTransport{handler: func(_ int, _, path string) (*Response, error) {
		if strings.HasPrefix(path, "/guilds/") {
			mu.Lock()
			n := guildCalls
			guildCalls++
			mu.Unlock()
			if n == 0 {
				h := quotaHeaders(5, 0, 0.2, "bkt-guild")
				h.Set("Retry-After", "0.2")
				return &Response{Status: http.StatusTooManyRequests, Header: h}, nil
			}
			return okResponse(5, 4, 5, "bkt-guild"), nil
		}
		return okResponse(5, 4, 5, "bkt-user"), nil
	}}
	d := NewDispatcher(transport, Config{})

	paused := &Request{Method: "GET", Path: "/guilds/111111111111111111"}
	require.NoError(t, d.Enqueue(context.Background(), paused))
	require.Eventually(t, func() bool { return transport.callCount() >= 1 }, time.Second, 5*time.Millisecond)

	start := time.Now()
	other := &Request{Method: "GET", Path: "/users/222222222222222222"}
	resp, err := d.Do(context.Background(), other)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.Status)
	require.Less(t, time.Since(start), 150*time.Millisecond)

	resp, err = paused.Wait()
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.Status)
	require.Equal(t, 2, paused.Attempts())
}

func TestDispatcherGlobal429PausesAllBuckets(t *testing.T) {
	var mu sync.Mutex
	guildCalls := 0
	transport := &scriptedTransport{handler: func(_ int, _, path string) (*Response, error) {
		if strings.HasPrefix(path, "/guilds/") {
			mu.Lock()
			n := guildCalls
			guildCalls++
			mu.Unlock()
			if n == 0 {
				h := make(http.Header)
				h.Set("Retry-After", "0.2")
				h.Set("X-RateLimit-Global", "true")
				body := []byte(`{"message":"You are being rate limited.","retry_after":0.2,"global":true}`)
				return &Response{Status: http.StatusTooManyRequests, Header: h, Body: body}, nil
			}
		}
		return okResponse(5, 4, 5, ""), nil
	}}
	d := NewDispatcher(transport, Config{})

	tripped := &Request{Method: "GET", Path: "/guilds/111111111111111111"}
	require.NoError(t, d.Enqueue(context.Background(), tripped))
	require.Eventually(t, func() bool {
		ok, _ := d.global.Acquire(d.now())
		return !ok
	}, time.Second, time.Millisecond)

	start := time.Now()
	other := &Request{Method: "GET", Path: "/users/222222222222222222"}
	_, err := d.Do(context.Background(), other)
	require.NoError(t, err)
	require.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)

	_, err = tripped.Wait()
	require.NoError(t, err)
}

func TestDispatcherTransientFailuresExhaust(t *testing.T) {
	transport := &scriptedTransport{handler: func(int, string, string) (*Response, error) {
		return &Response{Status: http.StatusServiceUnavailable, Header: make(http.Header), Body: []byte("upstream unavailable")}, nil
	}}
	d := NewDispatcher(transport, Config{MaxAttempts: 3, BaseBackoff: 5 * time.Millisecond, MaxBackoff: 20 * time.Millisecond})

	req := &Request{Method: "GET", Path: "/gateway"}
	_, err := d.Do(context.Background(), req)

	var transportErr *TransportError
	require.ErrorAs(t, err, &transportErr)
	require.Equal(t, http.StatusServiceUnavailable, transportErr.Status)
	require.Equal(t, 3, transportErr.Attempts)
	require.Equal(t, 3, transport.callCount())
}

func TestDispatcherNetworkErrorRetries(t *testing.T) {
	transport := &scriptedTransport{handler: func(call int, _, _ string) (*Response, error) {
		if call == 0 {
			return nil, errors.New("connection reset by peer")
		}
		return okResponse(5, 4, 5, ""), nil
	}}
	d := NewDispatcher(transport, Config{BaseBackoff: 5 * time.Millisecond})

	req := &Request{Method: "GET", Path: "/gateway"}
	resp, err := d.Do(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.Status)
	require.Equal(t, 2, req.Attempts())
}

func TestDispatcherRateLimitExhaustsAttempts(t *testing.T) {
	transport := &scriptedTransport{handler: func(int, string, string) (*Response, error) {
		h := quotaHeaders(5, 0, 0.01, "bkt-a")
		h.Set("Retry-After", "0.01")
		return &Response{Status: http.StatusTooManyRequests, Header: h}, nil
	}}
	d := NewDispatcher(transport, Config{MaxAttempts: 2})

	req := &Request{Method: "GET", Path: "/gateway"}
	_, err := d.Do(context.Background(), req)

	var rateErr *RateLimitError
	require.ErrorAs(t, err, &rateErr)
	require.False(t, rateErr.Global)
	require.Equal(t, 2, rateErr.Attempts)
	require.Equal(t, "bkt-a", rateErr.BucketID)
	require.Equal(t, 2, transport.callCount())
}

func TestDispatcherClientErrorFailsFast(t *testing.T) {
	transport := &scriptedTransport{handler: func(int, string, string) (*Response, error) {
		return &Response{
			Status: http.StatusNotFound,
			Header: quotaHeaders(5, 4, 5, "bkt-a"),
			Body:   []byte(`{"message":"Unknown Channel","code":10003}`),
		}, nil
	}}
	d := NewDispatcher(transport, Config{})

	req := &Request{Method: "GET", Path: "/channels/123456789012345678"}
	_, err := d.Do(context.Background(), req)

	var restErr *RESTError
	require.ErrorAs(t, err, &restErr)
	require.Equal(t, http.StatusNotFound, restErr.Status)
	require.Equal(t, 10003, restErr.Code)
	require.Equal(t, "Unknown Channel", restErr.Message)
	require.Equal(t, 1, transport.callCount())
}

func TestDispatcherQueuedDeadlineExpires(t *testing.T) {
	transport := &scriptedTransport{handler: func(int, string, string) (*Response, error) {
		time.Sleep(120 * time.Millisecond)
		return okResponse(5, 4, 5, ""), nil
	}}
	d := NewDispatcher(transport, Config{})

	slow := &Request{Method: "GET", Path: "/gateway"}
	require.NoError(t, d.Enqueue(context.Background(), slow))

	ctx, cancel := context.WithTimeout(context.Background(), 40*time.Millisecond)
	defer cancel()
	doomed := &Request{Method: "GET", Path: "/gateway"}
	require.NoError(t, d.Enqueue(ctx, doomed))

	_, err := doomed.Wait()
	require.True(t, errors.Is(err, ErrTimeout))

	resp, err := slow.Wait()
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.Status)

	// The expired request never reached the wire.
	require.Equal(t, 1, transport.callCount())
}

func TestDispatcherRemapMergesDiscriminators(t *testing.T) {
	holdFirst := make(chan struct{})
	var mu sync.Mutex
	gatewayCalls := 0
	transport := &scriptedTransport{}
	transport.handler = func(_ int, _, path string) (*Response, error) {
		if path == "/gateway" {
			mu.Lock()
			n := gatewayCalls
			gatewayCalls++
			mu.Unlock()
			if n == 0 {
				<-holdFirst
			}
		}
		return okResponse(10, 9, 5, "shared"), nil
	}
	d := NewDispatcher(transport, Config{})

	a1 := &Request{Method: "GET", Path: "/gateway"}
	require.NoError(t, d.Enqueue(context.Background(), a1))
	require.Eventually(t, func() bool { return transport.callCount() == 1 }, time.Second, time.Millisecond)

	// The second discriminator discovers the shared bucket id first.
	b1 := &Request{Method: "GET", Path: "/gateway/bot"}
	_, err := d.Do(context.Background(), b1)
	require.NoError(t, err)

	a2 := &Request{Method: "GET", Path: "/gateway"}
	a3 := &Request{Method: "GET", Path: "/gateway"}
	require.NoError(t, d.Enqueue(context.Background(), a2))
	require.NoError(t, d.Enqueue(context.Background(), a3))

	b2 := &Request{Method: "GET", Path: "/gateway/bot"}
	_, err = d.Do(context.Background(), b2)
	require.NoError(t, err)

	close(holdFirst)
	for _, req := range []*Request{a1, a2, a3} {
		resp, err := req.Wait()
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.Status)
	}

	// Enqueues for either discriminator now land on the shared bucket.
	a4 := &Request{Method: "GET", Path: "/gateway"}
	_, err = d.Do(context.Background(), a4)
	require.NoError(t, err)

	require.Equal(t, []string{
		"GET /gateway",
		"GET /gateway/bot",
		"GET /gateway/bot",
		"GET /gateway",
		"GET /gateway",
		"GET /gateway",
	}, transport.callLog())

	snapshot := d.Snapshot()
	require.Len(t, snapshot, 1)
	require.Equal(t, "shared", snapshot[0].BucketID)
	require.Equal(t, 10, snapshot[0].Limit)
}

func TestDispatcherPersistsAndSeedsBucketState(t *testing.T) {
	store := newMemoryBucketStore()
	routePath := "/guilds/333333333333333333"
	storeKey := "GET " + routePath

	first := &scriptedTransport{handler: func(int, string, string) (*Response, error) {
		return okResponse(3, 0, 0.3, "bkt-p"), nil
	}}
	d1 := NewDispatcher(first, Config{})
	d1.Store = store

	_, err := d1.Do(context.Background(), &Request{Method: "GET", Path: routePath})
	require.NoError(t, err)

	rec, err := store.GetBucket(context.Background(), storeKey)
	require.NoError(t, err)
	require.NotNil(t, rec)
	require.Equal(t, 3, rec.Limit)
	require.Equal(t, 0, rec.Remaining)
	require.Equal(t, "bkt-p", rec.BucketID)
	require.True(t, rec.ResetAt.After(time.Now().UTC()))

	// A fresh process seeded from the store honors the still-live window.
	second := &scriptedTransport{handler: func(int, string, string) (*Response, error) {
		return okResponse(3, 2, 5, "bkt-p"), nil
	}}
	d2 := NewDispatcher(second, Config{})
	d2.Store = store

	start := time.Now()
	_, err = d2.Do(context.Background(), &Request{Method: "GET", Path: routePath})
	require.NoError(t, err)
	require.GreaterOrEqual(t, time.Since(start), 150*time.Millisecond)
}

func TestDispatcherEnqueueValidation(t *testing.T) {
	transport := &scriptedTransport{handler: func(int, string, string) (*Response, error) {
		return okResponse(5, 4, 5, ""), nil
	}}
	d := NewDispatcher(transport, Config{})

	err := d.Enqueue(context.Background(), &Request{Method: "FETCH", Path: "/gateway"})
	require.True(t, errors.Is(err, ErrInvalidRequest))

	err = d.Enqueue(context.Background(), &Request{Method: "GET", Path: "gateway"})
	require.True(t, errors.Is(err, ErrInvalidRequest))

	err = d.Enqueue(context.Background(), nil)
	require.True(t, errors.Is(err, ErrInvalidRequest))

	var hollow *Dispatcher
	err = hollow.Enqueue(context.Background(), &Request{Method: "GET", Path: "/gateway"})
	require.True(t, errors.Is(err, ErrInvalidRequest))

	require.NoError(t, d.Close(context.Background()))
	err = d.Enqueue(context.Background(), &Request{Method: "GET", Path: "/gateway"})
	require.True(t, errors.Is(err, ErrDispatcherClosed))
}

func TestDispatcherCloseWaitsForDrains(t *testing.T) {
	transport := &scriptedTransport{handler: func(int, string, string) (*Response, error) {
		time.Sleep(50 * time.Millisecond)
		return okResponse(5, 4, 5, ""), nil
	}}
	d := NewDispatcher(transport, Config{})

	req := &Request{Method: "GET", Path: "/gateway"}
	require.NoError(t, d.Enqueue(context.Background(), req))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, d.Close(ctx))

	select {
	case <-req.Done():
	default:
		t.Fatal("request should resolve before Close returns")
	}
}

func TestDispatcherEvictsIdleBuckets(t *testing.T) {
	transport := &scriptedTransport{handler: func(int, string, string) (*Response, error) {
		return okResponse(5, 4, 5, ""), nil
	}}
	d := NewDispatcher(transport, Config{BucketTTL: time.Minute})

	var clockMu sync.Mutex
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	d.Clock = func() time.Time {
		clockMu.Lock()
		defer clockMu.Unlock()
		return now
	}

	_, err := d.Do(context.Background(), &Request{Method: "GET", Path: "/gateway"})
	require.NoError(t, err)
	require.Len(t, d.Snapshot(), 1)

	require.Eventually(t, func() bool {
		d.mu.Lock()
		b := d.buckets["GET /gateway"]
		d.mu.Unlock()
		if b == nil {
			return false
		}
		b.mu.Lock()
		defer b.mu.Unlock()
		return !b.draining && !b.processing
	}, time.Second, 5*time.Millisecond)

	clockMu.Lock()
	now = now.Add(2 * time.Minute)
	clockMu.Unlock()

	require.Equal(t, 1, d.EvictIdle())
	require.Empty(t, d.Snapshot())
}
