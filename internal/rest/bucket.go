package rest

import (
	"sync"
	"time"
)

// Bucket is a per-route FIFO queue plus the quota state discovered for
// it. Before the first response a bucket allows one probe at a time
// (limit 1); server headers then overwrite the provisional state.
type Bucket struct {
	mu          sync.Mutex
	key         string
	id          string
	limit       int
	remaining   int
	resetAt     time.Time
	window      time.Duration
	pausedUntil time.Time
	queue       []*Request
	processing  bool
	draining    bool
	lastUse     time.Time
	wake        chan struct{}
}

func newBucket(key string, now time.Time) *Bucket {
	return &Bucket{
		key:       key,
		limit:     1,
		remaining: 1,
		lastUse:   now,
		wake:      make(chan struct{}, 1),
	}
}

func (b *Bucket) enqueue(req *Request) {
	b.mu.Lock()
	b.queue = append(b.queue, req)
	req.setBucket(b)
	b.mu.Unlock()
	b.notify()
}

// requeueFront puts a retried request back at the head so it keeps its
// dispatch priority.
func (b *Bucket) requeueFront(req *Request) {
	b.mu.Lock()
	b.queue = append([]*Request{req}, b.queue...)
	req.setBucket(b)
	b.mu.Unlock()
	b.notify()
}

func (b *Bucket) remove(req *Request) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, queued := range b.queue {
		if queued == req {
			b.queue = append(b.queue[:i], b.queue[i+1:]...)
			return
		}
	}
}

// tryDequeue pops the head when the bucket may dispatch at now. It
// returns a wait hint when the bucket is busy, paused, backing off, or
// out of quota, and (nil, 0) once nothing is queued.
func (b *Bucket) tryDequeue(now time.Time) (*Request, time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.sweepLocked()
	if len(b.queue) == 0 {
		return nil, 0
	}
	if b.processing {
		return nil, 50 * time.Millisecond
	}
	if wait := b.pausedUntil.Sub(now); wait > 0 {
		return nil, wait
	}
	head := b.queue[0]
	if wait := head.notBefore.Sub(now); wait > 0 {
		return nil, wait
	}
	if b.resetAt.IsZero() || !now.Before(b.resetAt) {
		b.remaining = b.limit
		if b.window > 0 && !b.resetAt.IsZero() {
			b.resetAt = now.Add(b.window)
		}
	}
	if b.remaining <= 0 {
		return nil, b.resetAt.Sub(now)
	}
	b.queue = b.queue[1:]
	b.processing = true
	b.remaining--
	b.lastUse = now
	return head, 0
}

// release clears the in-flight slot once response handling finished.
func (b *Bucket) release(now time.Time) {
	b.mu.Lock()
	b.processing = false
	b.lastUse = now
	b.mu.Unlock()
}

// applyHeaders overwrites local quota state with server-reported values.
// Local decrements are only a conservative estimate; the server wins on
// every response.
func (b *Bucket) applyHeaders(q quota) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if q.limit > 0 {
		b.limit = q.limit
	}
	if q.remaining >= 0 {
		b.remaining = q.remaining
	}
	if !q.resetAt.IsZero() {
		b.resetAt = q.resetAt
	}
	if q.window > 0 {
		b.window = q.window
	}
}

func (b *Bucket) pause(until time.Time) {
	b.mu.Lock()
	if until.After(b.pausedUntil) {
		b.pausedUntil = until
	}
	b.mu.Unlock()
}

// absorb merges a remapped queue, keeping original submission order
// across both queues.
func (b *Bucket) absorb(reqs []*Request) {
	if len(reqs) == 0 {
		return
	}
	b.mu.Lock()
	merged := make([]*Request, 0, len(b.queue)+len(reqs))
	i, j := 0, 0
	for i < len(b.queue) && j < len(reqs) {
		if b.queue[i].seq <= reqs[j].seq {
			merged = append(merged, b.queue[i])
			i++
		} else {
			merged = append(merged, reqs[j])
			j++
		}
	}
	merged = append(merged, b.queue[i:]...)
	merged = append(merged, reqs[j:]...)
	b.queue = merged
	for _, req := range reqs {
		req.setBucket(b)
	}
	b.mu.Unlock()
	b.notify()
}

func (b *Bucket) takeQueue() []*Request {
	b.mu.Lock()
	defer b.mu.Unlock()
	taken := b.queue
	b.queue = nil
	return taken
}

// pending sweeps expired requests and reports how many remain queued.
func (b *Bucket) pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sweepLocked()
	return len(b.queue)
}

// sweepLocked drops requests whose deadline passed or that resolved
// elsewhere. Each expired request resolves at most once here; requests
// already resolved are just removed.
func (b *Bucket) sweepLocked() {
	kept := b.queue[:0]
	for _, req := range b.queue {
		if req.expired() {
			req.resolveTimeout()
			continue
		}
		kept = append(kept, req)
	}
	b.queue = kept
}

// nearestDeadline reports the earliest context deadline among queued
// requests so drain sleeps do not overshoot a timeout.
func (b *Bucket) nearestDeadline() (time.Time, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var earliest time.Time
	found := false
	for _, req := range b.queue {
		if req.ctx == nil {
			continue
		}
		deadline, ok := req.ctx.Deadline()
		if !ok {
			continue
		}
		if !found || deadline.Before(earliest) {
			earliest = deadline
			found = true
		}
	}
	return earliest, found
}

func (b *Bucket) beginDrain() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.draining {
		return false
	}
	b.draining = true
	return true
}

// endDrain releases drain ownership if the queue stayed empty. A false
// return means work arrived and the caller must keep draining.
func (b *Bucket) endDrain() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.queue) > 0 {
		return false
	}
	b.draining = false
	return true
}

func (b *Bucket) notify() {
	select {
	case b.wake <- struct{}{}:
	default:
	}
}

func (b *Bucket) ID() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.id
}

func (b *Bucket) setID(id string) {
	b.mu.Lock()
	b.id = id
	b.mu.Unlock()
}

func (b *Bucket) idle(now time.Time, ttl time.Duration) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.queue) > 0 || b.processing || b.draining {
		return false
	}
	return now.Sub(b.lastUse) > ttl
}

func (b *Bucket) info() BucketInfo {
	b.mu.Lock()
	defer b.mu.Unlock()
	return BucketInfo{
		Key:         b.key,
		BucketID:    b.id,
		Limit:       b.limit,
		Remaining:   b.remaining,
		ResetAt:     b.resetAt,
		PausedUntil: b.pausedUntil,
		Queued:      len(b.queue),
		Processing:  b.processing,
	}
}
