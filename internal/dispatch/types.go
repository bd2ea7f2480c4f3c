// Package dispatch runs request workloads against the API on behalf of
// the CLI and HTTP server: it assembles dispatchers from application
// config, converts request specs into dispatched calls, and classifies
// their outcomes.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/vegeta897/slash-create/internal/rest"
)

// RequestSpec describes one API request to dispatch.
type RequestSpec struct {
	Method  string            `json:"method"`
	Path    string            `json:"path"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    json.RawMessage   `json:"body,omitempty"`
	Reason  string            `json:"reason,omitempty"`

	// Files are attachments folded into a multipart body at dispatch
	// time. They ride along from the CLI only and never serialize into
	// relay payloads.
	Files []rest.File `json:"-"`
}

// Validate rejects specs the dispatcher would refuse, with messages
// suitable for callers.
func (s RequestSpec) Validate() error {
	if strings.TrimSpace(s.Method) == "" {
		return errors.New("method is required")
	}
	if !strings.HasPrefix(s.Path, "/") {
		return errors.New("path must start with /")
	}
	if len(s.Body) > 0 && !json.Valid(s.Body) {
		return errors.New("body must be valid JSON")
	}
	return nil
}

// BuildRequest converts a spec into a dispatchable request. A non-empty
// Reason becomes the audit log header the API records alongside
// mutating calls.
func BuildRequest(spec RequestSpec) *rest.Request {
	var header http.Header
	if len(spec.Headers) > 0 || spec.Reason != "" {
		header = make(http.Header, len(spec.Headers)+1)
		for key, value := range spec.Headers {
			header.Set(key, value)
		}
		if spec.Reason != "" {
			header.Set("X-Audit-Log-Reason", url.PathEscape(spec.Reason))
		}
	}

	return &rest.Request{
		Method: spec.Method,
		Path:   spec.Path,
		Body:   spec.Body,
		Header: header,
		Files:  spec.Files,
	}
}

// Outcome classifies how a dispatched request concluded.
type Outcome string

const (
	// OutcomeSuccess is a completed exchange the API accepted.
	OutcomeSuccess Outcome = "success"
	// OutcomeRejected is a completed exchange the API refused (4xx).
	OutcomeRejected Outcome = "rejected"
	// OutcomeRateLimited means the attempt budget drained on 429 replies.
	OutcomeRateLimited Outcome = "rate_limited"
	// OutcomeFailed means transient failures exhausted the attempt budget.
	OutcomeFailed Outcome = "failed"
	// OutcomeTimeout means the deadline passed before dispatch completed.
	OutcomeTimeout Outcome = "timeout"
	// OutcomeInvalid means the spec was rejected before it was queued.
	OutcomeInvalid Outcome = "invalid"
)

// SendResult reports one dispatched request. Route is the bucket
// discriminator the dispatcher filed the request under; it stays
// low-cardinality and suits metric labels where Path does not.
type SendResult struct {
	Method      string          `json:"method"`
	Path        string          `json:"path"`
	Route       string          `json:"route,omitempty"`
	Outcome     Outcome         `json:"outcome"`
	Status      int             `json:"status,omitempty"`
	Attempts    int             `json:"attempts,omitempty"`
	DurationMS  int64           `json:"duration_ms"`
	RetryAfter  float64         `json:"retry_after,omitempty"`
	Message     string          `json:"message,omitempty"`
	Body        json.RawMessage `json:"body,omitempty"`
	CompletedAt time.Time       `json:"completed_at"`

	// Err preserves the dispatch error for callers that map outcomes onto
	// their own error surface. It never serializes.
	Err error `json:"-"`
}

// Send dispatches one spec and waits for its resolution. All dispatch
// failures are folded into the result; the caller decides whether a
// non-success outcome is an error.
func Send(ctx context.Context, d *rest.Dispatcher, spec RequestSpec) *SendResult {
	started := time.Now()
	result := &SendResult{
		Method: strings.ToUpper(strings.TrimSpace(spec.Method)),
		Path:   spec.Path,
	}

	req := BuildRequest(spec)
	resp, err := d.Do(ctx, req)

	result.Route = req.Key()
	result.Attempts = req.Attempts()
	result.DurationMS = time.Since(started).Milliseconds()
	result.CompletedAt = time.Now().UTC()

	if err != nil {
		applyDispatchError(result, err)
		return result
	}

	result.Outcome = OutcomeSuccess
	result.Status = resp.Status
	result.Body = normalizeBody(resp.Body)
	return result
}

func applyDispatchError(result *SendResult, err error) {
	result.Err = err

	var restErr *rest.RESTError
	if errors.As(err, &restErr) {
		result.Outcome = OutcomeRejected
		result.Status = restErr.Status
		result.Message = restErr.Message
		if result.Message == "" {
			result.Message = fmt.Sprintf("request rejected with status %d", restErr.Status)
		}
		result.Body = normalizeBody(restErr.Body)
		return
	}

	var rateErr *rest.RateLimitError
	if errors.As(err, &rateErr) {
		result.Outcome = OutcomeRateLimited
		result.Status = http.StatusTooManyRequests
		result.RetryAfter = rateErr.RetryAfter.Seconds()
		result.Message = rateErr.Error()
		return
	}

	var transportErr *rest.TransportError
	if errors.As(err, &transportErr) {
		result.Outcome = OutcomeFailed
		result.Status = transportErr.Status
		result.Message = transportErr.Error()
		return
	}

	switch {
	case errors.Is(err, rest.ErrTimeout):
		result.Outcome = OutcomeTimeout
	case errors.Is(err, rest.ErrInvalidRequest):
		result.Outcome = OutcomeInvalid
	default:
		result.Outcome = OutcomeFailed
	}
	result.Message = err.Error()
}

// normalizeBody keeps JSON payloads verbatim and quotes anything else
// so results always serialize cleanly.
func normalizeBody(body []byte) json.RawMessage {
	if len(body) == 0 {
		return nil
	}
	if json.Valid(body) {
		return json.RawMessage(body)
	}
	quoted, err := json.Marshal(string(body))
	if err != nil {
		return nil
	}
	return json.RawMessage(quoted)
}

// BulkSummary aggregates the results of a bulk dispatch run.
type BulkSummary struct {
	Results     []*SendResult `json:"results"`
	Total       int           `json:"total"`
	Succeeded   int           `json:"succeeded"`
	Rejected    int           `json:"rejected"`
	Failed      int           `json:"failed"`
	ElapsedMS   int64         `json:"elapsed_ms"`
	CompletedAt time.Time     `json:"completed_at"`
}

// Summarize folds per-request results into a bulk summary. Rejected
// counts completed exchanges the API refused; Failed counts everything
// that never completed cleanly.
func Summarize(results []*SendResult, elapsed time.Duration) *BulkSummary {
	summary := &BulkSummary{
		Results:     results,
		ElapsedMS:   elapsed.Milliseconds(),
		CompletedAt: time.Now().UTC(),
	}
	for _, result := range results {
		if result == nil {
			continue
		}
		summary.Total++
		switch result.Outcome {
		case OutcomeSuccess:
			summary.Succeeded++
		case OutcomeRejected:
			summary.Rejected++
		default:
			summary.Failed++
		}
	}
	return summary
}
