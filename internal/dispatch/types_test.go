package dispatch

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"

	"github.com/vegeta897/slash-create/internal/rest"
)

func TestRequestSpecValidate(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		spec := RequestSpec{
			Method: "POST",
			Path:   "/channels/123/messages",
			Body:   json.RawMessage(`{"content":"hi"}`),
		}
		require.NoError(t, spec.Validate())
	})

	t.Run("missing method", func(t *testing.T) {
		spec := RequestSpec{Path: "/gateway"}
		require.EqualError(t, spec.Validate(), "method is required")
	})

	t.Run("relative path", func(t *testing.T) {
		spec := RequestSpec{Method: "GET", Path: "gateway"}
		require.EqualError(t, spec.Validate(), "path must start with /")
	})

	t.Run("invalid body", func(t *testing.T) {
		spec := RequestSpec{Method: "POST", Path: "/gateway", Body: json.RawMessage(`{"content":`)}
		require.EqualError(t, spec.Validate(), "body must be valid JSON")
	})
}

func TestBuildRequest(t *testing.T) {
	spec := RequestSpec{
		Method:  "POST",
		Path:    "/guilds/123/bans/456",
		Headers: map[string]string{"X-Custom": "value"},
		Body:    json.RawMessage(`{"delete_message_seconds":60}`),
		Reason:  "rule violation",
	}

	req := BuildRequest(spec)
	require.Equal(t, "POST", req.Method)
	require.Equal(t, "/guilds/123/bans/456", req.Path)
	require.Equal(t, []byte(spec.Body), req.Body)
	require.Equal(t, "value", req.Header.Get("X-Custom"))
	require.Equal(t, "rule%20violation", req.Header.Get("X-Audit-Log-Reason"))
}

func TestBuildRequestWithoutHeaders(t *testing.T) {
	req := BuildRequest(RequestSpec{Method: "GET", Path: "/gateway"})
	require.Nil(t, req.Header)
}

func TestBuildRequestWithAttachments(t *testing.T) {
	files := []rest.File{{Name: "icon.png", Data: []byte("png-bytes")}}
	req := BuildRequest(RequestSpec{Method: "POST", Path: "/channels/123/messages", Files: files})
	require.Equal(t, files, req.Files)
	// Multipart folding happens at enqueue time, so no header yet.
	require.Nil(t, req.Header)
}

func quotaHeaders(limit, remaining int, resetAfter float64) http.Header {
	h := make(http.Header)
	h.Set("X-RateLimit-Limit", strconv.Itoa(limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
	h.Set("X-RateLimit-Reset-After", strconv.FormatFloat(resetAfter, 'f', -1, 64))
	return h
}

func newTestDispatcher(t *testing.T, transport rest.Transport, cfg rest.Config) *rest.Dispatcher {
	t.Helper()
	d := rest.NewDispatcher(transport, cfg)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = d.Close(ctx)
	})
	return d
}

func TestSendSuccess(t *testing.T) {
	transport := rest.TransportFunc(func(ctx context.Context, method, path string, header http.Header, body []byte) (*rest.Response, error) {
		return &rest.Response{
			Status: http.StatusOK,
			Header: quotaHeaders(5, 4, 1),
			Body:   []byte(`{"url":"wss://gateway.discord.gg"}`),
		}, nil
	})
	d := newTestDispatcher(t, transport, rest.Config{})

	result := Send(context.Background(), d, RequestSpec{Method: "get", Path: "/gateway"})
	require.Equal(t, OutcomeSuccess, result.Outcome)
	require.Equal(t, "GET", result.Method)
	require.Equal(t, "GET /gateway", result.Route)
	require.Equal(t, http.StatusOK, result.Status)
	require.Equal(t, 1, result.Attempts)
	require.JSONEq(t, `{"url":"wss://gateway.discord.gg"}`, string(result.Body))
	require.False(t, result.CompletedAt.IsZero())
}

func TestSendRejected(t *testing.T) {
	transport := rest.TransportFunc(func(ctx context.Context, method, path string, header http.Header, body []byte) (*rest.Response, error) {
		return &rest.Response{
			Status: http.StatusNotFound,
			Header: quotaHeaders(5, 4, 1),
			Body:   []byte(`{"message":"Unknown Channel","code":10003}`),
		}, nil
	})
	d := newTestDispatcher(t, transport, rest.Config{})

	result := Send(context.Background(), d, RequestSpec{Method: "GET", Path: "/channels/111111111111111111"})
	require.Equal(t, OutcomeRejected, result.Outcome)
	require.Equal(t, http.StatusNotFound, result.Status)
	require.Equal(t, "Unknown Channel", result.Message)
	require.JSONEq(t, `{"message":"Unknown Channel","code":10003}`, string(result.Body))
}

func TestSendRateLimited(t *testing.T) {
	transport := rest.TransportFunc(func(ctx context.Context, method, path string, header http.Header, body []byte) (*rest.Response, error) {
		h := make(http.Header)
		h.Set("Retry-After", "0.01")
		return &rest.Response{
			Status: http.StatusTooManyRequests,
			Header: h,
			Body:   []byte(`{"message":"You are being rate limited.","retry_after":0.01,"global":false}`),
		}, nil
	})
	d := newTestDispatcher(t, transport, rest.Config{MaxAttempts: 2})

	result := Send(context.Background(), d, RequestSpec{Method: "GET", Path: "/gateway"})
	require.Equal(t, OutcomeRateLimited, result.Outcome)
	require.Equal(t, http.StatusTooManyRequests, result.Status)
	require.Equal(t, 2, result.Attempts)
	require.Greater(t, result.RetryAfter, 0.0)
}

func TestSendTransportFailure(t *testing.T) {
	transport := rest.TransportFunc(func(ctx context.Context, method, path string, header http.Header, body []byte) (*rest.Response, error) {
		return &rest.Response{Status: http.StatusBadGateway, Header: make(http.Header)}, nil
	})
	d := newTestDispatcher(t, transport, rest.Config{
		MaxAttempts: 2,
		BaseBackoff: time.Millisecond,
		MaxBackoff:  5 * time.Millisecond,
	})

	result := Send(context.Background(), d, RequestSpec{Method: "GET", Path: "/gateway"})
	require.Equal(t, OutcomeFailed, result.Outcome)
	require.Equal(t, http.StatusBadGateway, result.Status)
	require.Equal(t, 2, result.Attempts)
	require.NotEmpty(t, result.Message)
}

func TestSendInvalidSpec(t *testing.T) {
	var calls atomic.Int64
	transport := rest.TransportFunc(func(ctx context.Context, method, path string, header http.Header, body []byte) (*rest.Response, error) {
		calls.Inc()
		return &rest.Response{Status: http.StatusOK, Header: make(http.Header), Body: []byte(`{}`)}, nil
	})
	d := newTestDispatcher(t, transport, rest.Config{})

	result := Send(context.Background(), d, RequestSpec{Method: "FETCH", Path: "/gateway"})
	require.Equal(t, OutcomeInvalid, result.Outcome)
	require.NotEmpty(t, result.Message)
	require.Equal(t, int64(0), calls.Load())
}

func TestSendTimeout(t *testing.T) {
	transport := rest.TransportFunc(func(ctx context.Context, method, path string, header http.Header, body []byte) (*rest.Response, error) {
		time.Sleep(100 * time.Millisecond)
		return &rest.Response{Status: http.StatusOK, Header: quotaHeaders(5, 4, 1), Body: []byte(`{}`)}, nil
	})
	d := newTestDispatcher(t, transport, rest.Config{})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	result := Send(ctx, d, RequestSpec{Method: "GET", Path: "/gateway"})
	require.Equal(t, OutcomeTimeout, result.Outcome)
}

func TestNormalizeBody(t *testing.T) {
	require.Nil(t, normalizeBody(nil))
	require.JSONEq(t, `{"a":1}`, string(normalizeBody([]byte(`{"a":1}`))))
	require.Equal(t, `"not json"`, string(normalizeBody([]byte("not json"))))
}

func TestSummarize(t *testing.T) {
	results := []*SendResult{
		{Outcome: OutcomeSuccess},
		{Outcome: OutcomeSuccess},
		{Outcome: OutcomeRejected},
		{Outcome: OutcomeRateLimited},
		{Outcome: OutcomeTimeout},
		nil,
	}

	summary := Summarize(results, 1500*time.Millisecond)
	require.Equal(t, 5, summary.Total)
	require.Equal(t, 2, summary.Succeeded)
	require.Equal(t, 1, summary.Rejected)
	require.Equal(t, 2, summary.Failed)
	require.Equal(t, int64(1500), summary.ElapsedMS)
	require.False(t, summary.CompletedAt.IsZero())
}
