package rest

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Request is one queued API call and its completion handle. Callers fill
// the exported fields, submit through Dispatcher.Enqueue, and block on
// Wait. A request resolves exactly once: with a response, or with an
// error from the dispatch taxonomy.
type Request struct {
	Method string
	Path   string
	Body   []byte
	Header http.Header
	Files  []File

	ctx       context.Context
	key       string
	id        string
	seq       uint64
	notBefore time.Time

	mu       sync.Mutex
	bucket   *Bucket
	attempts int
	done     chan struct{}
	resp     *Response
	err      error
	resolved bool
}

// prepare validates the request and initializes its completion state.
// Attachments are folded into a multipart body here so retries reuse the
// same encoded bytes.
func (r *Request) prepare(ctx context.Context) error {
	if r.done != nil {
		return fmt.Errorf("%w: request already submitted", ErrInvalidRequest)
	}
	method := strings.ToUpper(strings.TrimSpace(r.Method))
	switch method {
	case http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
	default:
		return fmt.Errorf("%w: unsupported method %q", ErrInvalidRequest, r.Method)
	}
	r.Method = method
	if !strings.HasPrefix(r.Path, "/") {
		return fmt.Errorf("%w: path must start with /", ErrInvalidRequest)
	}
	if len(r.Files) > 0 {
		body, contentType, err := encodeMultipart(r.Body, r.Files)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
		}
		r.Body = body
		if r.Header == nil {
			r.Header = make(http.Header)
		}
		r.Header.Set("Content-Type", contentType)
	}
	r.ctx = ctx
	r.id = uuid.New().String()
	r.done = make(chan struct{})
	return nil
}

// Wait blocks until the request resolves. If the request context ends
// first the request is aborted: pulled from its queue and failed with
// ErrTimeout.
func (r *Request) Wait() (*Response, error) {
	if r.done == nil {
		return nil, fmt.Errorf("%w: request was never submitted", ErrInvalidRequest)
	}
	if r.ctx != nil {
		select {
		case <-r.done:
		case <-r.ctx.Done():
			r.abort()
		}
	}
	<-r.done
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.resp, r.err
}

// Done exposes the completion channel for select-based callers.
func (r *Request) Done() <-chan struct{} {
	return r.done
}

// Attempts reports how many dispatch attempts have started.
func (r *Request) Attempts() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.attempts
}

// ID is the correlation id assigned at enqueue time.
func (r *Request) ID() string {
	return r.id
}

// Key is the bucket discriminator the request was filed under.
func (r *Request) Key() string {
	return r.key
}

// resolve records the outcome. Only the first caller wins; later calls
// report false and change nothing.
func (r *Request) resolve(resp *Response, err error) bool {
	r.mu.Lock()
	if r.resolved {
		r.mu.Unlock()
		return false
	}
	r.resolved = true
	r.resp = resp
	r.err = err
	r.mu.Unlock()
	close(r.done)
	return true
}

// abort fails the request with ErrTimeout and removes it from its queue.
// Losing the race against a dispatch resolution is fine: resolve keeps
// whichever outcome landed first.
func (r *Request) abort() {
	var cause error
	if r.ctx != nil {
		cause = r.ctx.Err()
	}
	if !r.resolve(nil, wrapTimeout(cause)) {
		return
	}
	if b := r.currentBucket(); b != nil {
		b.remove(r)
	}
}

func (r *Request) resolveTimeout() {
	var cause error
	if r.ctx != nil {
		cause = r.ctx.Err()
	}
	r.resolve(nil, wrapTimeout(cause))
}

func wrapTimeout(cause error) error {
	if cause == nil {
		return ErrTimeout
	}
	return fmt.Errorf("%w: %v", ErrTimeout, cause)
}

func (r *Request) isResolved() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.resolved
}

// expired reports whether the request no longer needs dispatching.
func (r *Request) expired() bool {
	if r.isResolved() {
		return true
	}
	return r.ctx != nil && r.ctx.Err() != nil
}

func (r *Request) beginAttempt() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempts++
	return r.attempts
}

func (r *Request) setBucket(b *Bucket) {
	r.mu.Lock()
	r.bucket = b
	r.mu.Unlock()
}

func (r *Request) currentBucket() *Bucket {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.bucket
}
