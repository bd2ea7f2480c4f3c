package rest

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidRequest marks a request rejected before it was queued.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrTimeout marks a request whose context expired while it waited in
	// a bucket queue or mid-flight.
	ErrTimeout = errors.New("request timed out")

	// ErrDispatcherClosed marks an enqueue attempted after Close.
	ErrDispatcherClosed = errors.New("dispatcher closed")
)

// RESTError is a non-retryable 4xx reply. The body is preserved
// verbatim; Code and Message are filled from the standard API error
// payload when present.
type RESTError struct {
	Status  int
	Code    int
	Message string
	Body    []byte
}

func (e *RESTError) Error() string {
	if e == nil {
		return ""
	}
	if e.Message != "" {
		return fmt.Sprintf("request failed (status %d, code %d): %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("request failed (status %d)", e.Status)
}

func newRESTError(resp *Response) *RESTError {
	restErr := &RESTError{Status: resp.Status, Body: resp.Body}
	var payload struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(resp.Body, &payload); err == nil {
		restErr.Code = payload.Code
		restErr.Message = payload.Message
	}
	return restErr
}

// RateLimitError is returned when a request kept hitting 429 replies
// until its attempt ceiling.
type RateLimitError struct {
	RetryAfter time.Duration
	Global     bool
	BucketID   string
	Attempts   int
}

func (e *RateLimitError) Error() string {
	if e == nil {
		return ""
	}
	scope := "bucket"
	if e.Global {
		scope = "global"
	}
	return fmt.Sprintf("rate limited (%s) after %d attempts, retry in %s", scope, e.Attempts, e.RetryAfter)
}

// TransportError is returned when transient failures exhausted the
// attempt ceiling. Status is zero when the last attempt never produced
// a response.
type TransportError struct {
	Status   int
	Attempts int
	Err      error
}

func (e *TransportError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return fmt.Sprintf("request failed after %d attempts: %v", e.Attempts, e.Err)
	}
	return fmt.Sprintf("request failed after %d attempts (status %d)", e.Attempts, e.Status)
}

func (e *TransportError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}
