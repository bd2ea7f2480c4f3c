// Package rest dispatches requests against a rate-limited REST API.
// Quota buckets are discovered from response headers per route, a shared
// global limiter caps total throughput, and failed requests retry with
// backoff while keeping their place at the head of their bucket's queue.
package rest

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fulmenhq/gofulmen/logging"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// Config tunes dispatch behavior. Zero values fall back to defaults; a
// negative GlobalLimit disables the global limiter outright.
type Config struct {
	MaxAttempts             int
	BaseBackoff             time.Duration
	MaxBackoff              time.Duration
	GlobalLimit             int
	GlobalWindow            time.Duration
	PerRouteBucketOverrides []string
	BucketTTL               time.Duration
}

const (
	DefaultMaxAttempts  = 3
	DefaultBaseBackoff  = 500 * time.Millisecond
	DefaultMaxBackoff   = 30 * time.Second
	DefaultGlobalLimit  = 50
	DefaultGlobalWindow = time.Second
	DefaultBucketTTL    = 5 * time.Minute
)

func (c Config) withDefaults() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = DefaultBaseBackoff
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = DefaultMaxBackoff
	}
	if c.GlobalLimit == 0 {
		c.GlobalLimit = DefaultGlobalLimit
	}
	if c.GlobalWindow <= 0 {
		c.GlobalWindow = DefaultGlobalWindow
	}
	if c.BucketTTL <= 0 {
		c.BucketTTL = DefaultBucketTTL
	}
	return c
}

// Dispatcher schedules requests so the API's rate limits are honored.
// Logger, Store, and Clock are optional collaborators set after
// construction.
type Dispatcher struct {
	Transport Transport
	Logger    *logging.Logger
	Store     BucketStore
	Clock     func() time.Time

	cfg    Config
	global *GlobalLimiter
	major  map[string]struct{}

	mu      sync.Mutex
	buckets map[string]*Bucket
	byID    map[string]*Bucket
	closed  bool

	wg sync.WaitGroup

	seq             atomic.Uint64
	enqueuedTotal   atomic.Int64
	dispatchedTotal atomic.Int64
	retriedTotal    atomic.Int64
	throttledTotal  atomic.Int64
}

func NewDispatcher(transport Transport, cfg Config) *Dispatcher {
	cfg = cfg.withDefaults()
	d := &Dispatcher{
		Transport: transport,
		cfg:       cfg,
		global:    NewGlobalLimiter(cfg.GlobalLimit, cfg.GlobalWindow),
		major:     make(map[string]struct{}, len(cfg.PerRouteBucketOverrides)),
		buckets:   make(map[string]*Bucket),
		byID:      make(map[string]*Bucket),
	}
	for _, name := range cfg.PerRouteBucketOverrides {
		name = strings.ToLower(strings.Trim(strings.TrimSpace(name), "/"))
		if name != "" {
			d.major[name] = struct{}{}
		}
	}
	return d
}

func (d *Dispatcher) now() time.Time {
	if d != nil && d.Clock != nil {
		return d.Clock()
	}
	return time.Now().UTC()
}

// Enqueue validates req, files it under its bucket, and starts a drain
// if the bucket was idle. The request resolves through req.Wait.
func (d *Dispatcher) Enqueue(ctx context.Context, req *Request) error {
	if d == nil || d.Transport == nil {
		return fmt.Errorf("%w: dispatcher has no transport", ErrInvalidRequest)
	}
	if req == nil {
		return fmt.Errorf("%w: nil request", ErrInvalidRequest)
	}
	if err := req.prepare(ctx); err != nil {
		return err
	}
	req.seq = d.seq.Inc()
	req.key = routeKey(req.Method, req.Path, d.major)

	bucket, err := d.bucketFor(ctx, req.key)
	if err != nil {
		return err
	}
	bucket.enqueue(req)
	d.kick(bucket)

	if n := d.enqueuedTotal.Inc(); n%256 == 0 {
		d.EvictIdle()
	}
	d.logDebug("Request enqueued",
		zap.String("request_id", req.id),
		zap.String("route_key", req.key),
		zap.Uint64("seq", req.seq),
	)
	return nil
}

// Do enqueues req and waits for its resolution.
func (d *Dispatcher) Do(ctx context.Context, req *Request) (*Response, error) {
	if err := d.Enqueue(ctx, req); err != nil {
		return nil, err
	}
	return req.Wait()
}

func (d *Dispatcher) bucketFor(ctx context.Context, key string) (*Bucket, error) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil, ErrDispatcherClosed
	}
	if b, ok := d.buckets[key]; ok {
		d.mu.Unlock()
		return b, nil
	}
	b := newBucket(key, d.now())
	d.buckets[key] = b
	d.mu.Unlock()
	d.seedBucket(ctx, b)
	return b, nil
}

// seedBucket warms a new bucket from persisted state. The id mapping is
// always restored; quota counts only when the persisted window is still
// live, otherwise they are stale by definition.
func (d *Dispatcher) seedBucket(ctx context.Context, b *Bucket) {
	if d.Store == nil {
		return
	}
	rec, err := d.Store.GetBucket(ctx, b.key)
	if err != nil {
		d.logWarn("Bucket state lookup failed", zap.String("route_key", b.key), zap.Error(err))
		return
	}
	if rec == nil {
		return
	}
	now := d.now()
	b.mu.Lock()
	if rec.Limit > 0 {
		b.limit = rec.Limit
	}
	if rec.ResetAt.After(now) {
		b.remaining = rec.Remaining
		b.resetAt = rec.ResetAt
	}
	b.mu.Unlock()
	if rec.BucketID != "" {
		d.mu.Lock()
		if _, taken := d.byID[rec.BucketID]; !taken {
			d.byID[rec.BucketID] = b
			d.mu.Unlock()
			b.setID(rec.BucketID)
		} else {
			d.mu.Unlock()
		}
	}
}

func (d *Dispatcher) kick(b *Bucket) {
	if !b.beginDrain() {
		return
	}
	d.wg.Add(1)
	go d.drain(b)
}

// drain owns b until its queue empties: one goroutine per bucket, one
// request in flight at a time.
func (d *Dispatcher) drain(b *Bucket) {
	defer d.wg.Done()
	for {
		now := d.now()
		if b.pending() == 0 {
			if b.endDrain() {
				return
			}
			continue
		}
		if ok, wait := d.global.Acquire(now); !ok {
			d.throttledTotal.Inc()
			d.sleepBucket(b, now, wait)
			continue
		}
		req, wait := b.tryDequeue(now)
		if req == nil {
			if wait <= 0 {
				if b.endDrain() {
					return
				}
				continue
			}
			d.sleepBucket(b, now, wait)
			continue
		}
		d.dispatch(b, req)
	}
}

// sleepBucket waits out a pacing hint, bounded by the nearest queued
// deadline so timeouts fire on time, and woken early when the queue
// changes shape (new head, merged queue).
func (d *Dispatcher) sleepBucket(b *Bucket, now time.Time, wait time.Duration) {
	if deadline, ok := b.nearestDeadline(); ok {
		if until := deadline.Sub(now); until < wait {
			wait = until
		}
	}
	if wait <= 0 {
		wait = time.Millisecond
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-b.wake:
	}
}

func (d *Dispatcher) dispatch(b *Bucket, req *Request) {
	defer func() { b.release(d.now()) }()

	if req.expired() {
		req.resolveTimeout()
		return
	}
	d.global.Consume(d.now())

	attempt := req.beginAttempt()
	ctx := req.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	d.logDebug("Dispatching request",
		zap.String("request_id", req.id),
		zap.String("route_key", req.key),
		zap.Int("attempt", attempt),
	)

	started := d.now()
	resp, err := d.Transport.Send(ctx, req.Method, req.Path, req.Header, req.Body)
	d.dispatchedTotal.Inc()
	d.traceExchange(req, attempt, resp, err, d.now().Sub(started))
	if err != nil {
		if ctx.Err() != nil {
			req.resolve(nil, wrapTimeout(err))
			return
		}
		d.retryTransient(b, req, 0, err)
		return
	}
	d.handleResponse(b, req, resp)
}

// traceExchange records one wire attempt when tracing is enabled.
func (d *Dispatcher) traceExchange(req *Request, attempt int, resp *Response, sendErr error, elapsed time.Duration) {
	if !IsTracingEnabled() {
		return
	}
	entry := TraceEntry{
		Timestamp:  d.now().UTC(),
		RequestID:  req.id,
		RouteKey:   req.key,
		Method:     req.Method,
		Path:       req.Path,
		Attempt:    attempt,
		DurationMs: elapsed.Milliseconds(),
	}
	if sendErr != nil {
		entry.Error = sendErr.Error()
	}
	if resp != nil {
		entry.Status = resp.Status
		if q := parseQuotaHeaders(resp.Header, entry.Timestamp); q.present {
			entry.Quota = &TraceQuota{
				BucketID:   q.bucketID,
				Limit:      q.limit,
				Remaining:  q.remaining,
				ResetAfter: q.window.Seconds(),
				Global:     q.global,
			}
		}
	}
	Trace(entry)
}

func (d *Dispatcher) handleResponse(b *Bucket, req *Request, resp *Response) {
	now := d.now()
	q := parseQuotaHeaders(resp.Header, now)

	target := b
	if q.bucketID != "" {
		target = d.assignBucketID(req.key, b, q.bucketID)
	}
	if q.present {
		target.applyHeaders(q)
		d.persistBucket(req.ctx, target)
	}

	switch {
	case resp.Status == http.StatusTooManyRequests:
		d.handleRateLimited(target, req, resp, q, now)
	case resp.Status >= 500:
		d.retryTransient(target, req, resp.Status, nil)
	case resp.Status >= 400:
		req.resolve(nil, newRESTError(resp))
	default:
		req.resolve(resp, nil)
	}
}

func (d *Dispatcher) handleRateLimited(b *Bucket, req *Request, resp *Response, q quota, now time.Time) {
	retryAfter, global := rateLimitDelay(resp, q, now)
	d.throttledTotal.Inc()
	if global {
		d.global.Pause(now.Add(retryAfter))
	} else {
		b.pause(now.Add(retryAfter))
	}
	d.logWarn("Rate limited",
		zap.String("request_id", req.id),
		zap.String("route_key", req.key),
		zap.Bool("global", global),
		zap.Duration("retry_after", retryAfter),
	)

	if req.Attempts() >= d.cfg.MaxAttempts {
		req.resolve(nil, &RateLimitError{
			RetryAfter: retryAfter,
			Global:     global,
			BucketID:   b.ID(),
			Attempts:   req.Attempts(),
		})
		return
	}
	d.retriedTotal.Inc()
	b.requeueFront(req)
}

// retryTransient re-queues a request at the head of its bucket with
// exponential backoff, or fails it once the ceiling is reached. status
// is zero for network-level failures.
func (d *Dispatcher) retryTransient(b *Bucket, req *Request, status int, sendErr error) {
	attempts := req.Attempts()
	if attempts >= d.cfg.MaxAttempts {
		req.resolve(nil, &TransportError{Status: status, Attempts: attempts, Err: sendErr})
		return
	}
	backoff := d.cfg.BaseBackoff << (attempts - 1)
	if backoff <= 0 || backoff > d.cfg.MaxBackoff {
		backoff = d.cfg.MaxBackoff
	}
	req.notBefore = d.now().Add(backoff)
	d.retriedTotal.Inc()
	d.logWarn("Transient failure, retrying",
		zap.String("request_id", req.id),
		zap.String("route_key", req.key),
		zap.Int("status", status),
		zap.Int("attempt", attempts),
		zap.Duration("backoff", backoff),
		zap.Error(sendErr),
	)
	b.requeueFront(req)
}

// assignBucketID records the server-issued bucket id. When the id is
// already bound to another bucket the discriminator re-points there and
// queued work moves over in submission order; otherwise the current
// bucket simply becomes the id bucket.
func (d *Dispatcher) assignBucketID(key string, b *Bucket, id string) *Bucket {
	if b.ID() == id {
		return b
	}
	d.mu.Lock()
	target, ok := d.byID[id]
	if !ok || target == b {
		d.byID[id] = b
		d.mu.Unlock()
		b.setID(id)
		return b
	}
	d.buckets[key] = target
	d.mu.Unlock()

	target.absorb(b.takeQueue())
	d.kick(target)
	d.logDebug("Bucket remapped",
		zap.String("route_key", key),
		zap.String("bucket_id", id),
	)
	return target
}

func (d *Dispatcher) persistBucket(ctx context.Context, b *Bucket) {
	if d.Store == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	info := b.info()
	rec := &BucketRecord{
		Key:       info.Key,
		BucketID:  info.BucketID,
		Limit:     info.Limit,
		Remaining: info.Remaining,
		ResetAt:   info.ResetAt,
		UpdatedAt: d.now(),
	}
	if err := d.Store.PutBucket(ctx, rec); err != nil {
		d.logWarn("Bucket state write failed", zap.String("route_key", rec.Key), zap.Error(err))
	}
}

// Snapshot reports the live bucket table, sorted by route key.
func (d *Dispatcher) Snapshot() []BucketInfo {
	d.mu.Lock()
	seen := make(map[*Bucket]struct{}, len(d.buckets))
	refs := make([]*Bucket, 0, len(d.buckets))
	for _, b := range d.buckets {
		if _, ok := seen[b]; ok {
			continue
		}
		seen[b] = struct{}{}
		refs = append(refs, b)
	}
	d.mu.Unlock()

	infos := make([]BucketInfo, 0, len(refs))
	for _, b := range refs {
		infos = append(infos, b.info())
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Key < infos[j].Key })
	return infos
}

// EvictIdle drops buckets that sat empty past the configured TTL and
// reports how many were removed.
func (d *Dispatcher) EvictIdle() int {
	now := d.now()
	d.mu.Lock()
	defer d.mu.Unlock()
	dropped := make(map[*Bucket]struct{})
	for key, b := range d.buckets {
		if !b.idle(now, d.cfg.BucketTTL) {
			continue
		}
		delete(d.buckets, key)
		dropped[b] = struct{}{}
	}
	for id, b := range d.byID {
		if _, ok := dropped[b]; ok {
			delete(d.byID, id)
		}
	}
	return len(dropped)
}

// Close stops accepting work and waits for active drains to finish.
// Queued requests still resolve; their deadlines and attempt ceilings
// bound the wait.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	idle := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(idle)
	}()
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats reports cumulative dispatch counters.
func (d *Dispatcher) Stats() Stats {
	return Stats{
		Enqueued:   d.enqueuedTotal.Load(),
		Dispatched: d.dispatchedTotal.Load(),
		Retried:    d.retriedTotal.Load(),
		Throttled:  d.throttledTotal.Load(),
	}
}

func (d *Dispatcher) logDebug(msg string, fields ...zap.Field) {
	if d.Logger != nil {
		d.Logger.Debug(msg, fields...)
	}
}

func (d *Dispatcher) logWarn(msg string, fields ...zap.Field) {
	if d.Logger != nil {
		d.Logger.Warn(msg, fields...)
	}
}
