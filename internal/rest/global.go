package rest

import (
	"sync"
	"time"
)

// GlobalLimiter enforces the client-side requests-per-window ceiling
// shared by every bucket. A non-positive limit disables it.
type GlobalLimiter struct {
	mu          sync.Mutex
	limit       int
	window      time.Duration
	remaining   int
	resetAt     time.Time
	pausedUntil time.Time
}

func NewGlobalLimiter(limit int, window time.Duration) *GlobalLimiter {
	if window <= 0 {
		window = time.Second
	}
	return &GlobalLimiter{limit: limit, window: window, remaining: limit}
}

// Acquire reports whether one request may go out at now, without
// consuming capacity. When blocked it returns the wait hint: either the
// remainder of a global 429 pause or the time until the window resets.
func (g *GlobalLimiter) Acquire(now time.Time) (bool, time.Duration) {
	if g == nil || g.limit <= 0 {
		return true, 0
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if wait := g.pausedUntil.Sub(now); wait > 0 {
		return false, wait
	}
	g.refreshLocked(now)
	if g.remaining > 0 {
		return true, 0
	}
	return false, g.resetAt.Sub(now)
}

// Consume takes one slot from the current window, clamped at zero.
func (g *GlobalLimiter) Consume(now time.Time) {
	if g == nil || g.limit <= 0 {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.refreshLocked(now)
	if g.remaining > 0 {
		g.remaining--
	}
}

// Pause blocks all dispatch until the given time. Set when a 429 carries
// the global flag.
func (g *GlobalLimiter) Pause(until time.Time) {
	if g == nil {
		return
	}
	g.mu.Lock()
	if until.After(g.pausedUntil) {
		g.pausedUntil = until
	}
	g.mu.Unlock()
}

func (g *GlobalLimiter) refreshLocked(now time.Time) {
	if g.resetAt.IsZero() || !now.Before(g.resetAt) {
		g.remaining = g.limit
		g.resetAt = now.Add(g.window)
	}
}
