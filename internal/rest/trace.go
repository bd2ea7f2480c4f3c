package rest

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// TraceEntry is one wire exchange as recorded in a trace file. Quota
// mirrors the rate limit headers observed on the response, when any
// were present.
type TraceEntry struct {
	Timestamp  time.Time   `json:"timestamp"`
	RequestID  string      `json:"request_id"`
	RouteKey   string      `json:"route_key"`
	Method     string      `json:"method"`
	Path       string      `json:"path"`
	Attempt    int         `json:"attempt"`
	Status     int         `json:"status,omitempty"`
	Quota      *TraceQuota `json:"quota,omitempty"`
	Error      string      `json:"error,omitempty"`
	DurationMs int64       `json:"duration_ms"`
}

// TraceQuota is the header-advertised bucket state attached to a trace
// entry. Remaining is meaningful at zero, so the struct is present or
// absent as a whole.
type TraceQuota struct {
	BucketID   string  `json:"bucket_id,omitempty"`
	Limit      int     `json:"limit"`
	Remaining  int     `json:"remaining"`
	ResetAfter float64 `json:"reset_after,omitempty"`
	Global     bool    `json:"global,omitempty"`
}

// Tracer appends exchange entries to a file in NDJSON format.
type Tracer struct {
	file *os.File
	mu   sync.Mutex
}

var (
	globalTracer *Tracer
	tracerMu     sync.Mutex
)

// EnableTracing starts recording dispatched exchanges to the given
// path, appending if the file exists. The returned cleanup closes the
// file; callers tracing the whole process lifetime may discard it.
func EnableTracing(path string) (func(), error) {
	tracerMu.Lock()
	defer tracerMu.Unlock()

	if globalTracer != nil {
		_ = globalTracer.Close()
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return nil, fmt.Errorf("open trace file: %w", err)
	}

	globalTracer = &Tracer{file: f}
	return func() {
		tracerMu.Lock()
		defer tracerMu.Unlock()
		if globalTracer != nil {
			_ = globalTracer.Close()
			globalTracer = nil
		}
	}, nil
}

// DisableTracing stops tracing and closes the trace file.
func DisableTracing() {
	tracerMu.Lock()
	defer tracerMu.Unlock()
	if globalTracer != nil {
		_ = globalTracer.Close()
		globalTracer = nil
	}
}

// IsTracingEnabled reports whether exchanges are being recorded.
func IsTracingEnabled() bool {
	tracerMu.Lock()
	defer tracerMu.Unlock()
	return globalTracer != nil
}

// Trace records an entry if tracing is enabled.
func Trace(entry TraceEntry) {
	tracerMu.Lock()
	t := globalTracer
	tracerMu.Unlock()

	if t == nil {
		return
	}
	t.Write(entry)
}

// Write appends one entry to the trace file.
func (t *Tracer) Write(entry TraceEntry) {
	if t == nil || t.file == nil {
		return
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	data, err := json.Marshal(entry)
	if err != nil {
		return
	}
	_, _ = t.file.Write(data)
	_, _ = t.file.Write([]byte("\n"))
}

// Close closes the trace file.
func (t *Tracer) Close() error {
	if t == nil || t.file == nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.file.Close()
}
