package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/fulmenhq/gofulmen/telemetry"
	telemetrytesting "github.com/fulmenhq/gofulmen/telemetry/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vegeta897/slash-create/internal/observability"
)

func setupTelemetry(t *testing.T) *telemetrytesting.FakeCollector {
	t.Helper()

	collector := telemetrytesting.NewFakeCollector()
	sys, err := telemetry.NewSystem(&telemetry.Config{Enabled: true, Emitter: collector})
	require.NoError(t, err)

	original := observability.TelemetrySystem
	observability.TelemetrySystem = sys
	t.Cleanup(func() { observability.TelemetrySystem = original })

	return collector
}

func okHandler(body string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if body != "" {
			_, _ = w.Write([]byte(body))
		}
	})
}

func TestRequestMetricsEmitsCounterAndDuration(t *testing.T) {
	collector := setupTelemetry(t)

	wrapped := RequestMetrics(okHandler("dispatched"))

	req := httptest.NewRequest("POST", "/v1/requests", nil)
	rec := httptest.NewRecorder()
	wrapped.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "dispatched", rec.Body.String())
	assert.Greater(t, collector.CountMetricsByName("http_requests_total"), 0)
	assert.Greater(t, collector.CountMetricsByName("http_request_duration_ms"), 0)
}

func TestRequestMetricsSkipsEmissionWithoutTelemetry(t *testing.T) {
	original := observability.TelemetrySystem
	observability.TelemetrySystem = nil
	defer func() { observability.TelemetrySystem = original }()

	wrapped := RequestMetrics(okHandler(""))

	req := httptest.NewRequest("GET", "/v1/buckets", nil)
	rec := httptest.NewRecorder()
	wrapped.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRequestMetricsCountsErrorResponses(t *testing.T) {
	collector := setupTelemetry(t)

	wrapped := RequestMetrics(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))

	req := httptest.NewRequest("POST", "/v1/requests", nil)
	rec := httptest.NewRecorder()
	wrapped.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Greater(t, collector.CountMetricsByName("http_requests_total"), 0)
	assert.Greater(t, collector.CountMetricsByName("http_errors_total"), 0,
		"expected http_errors_total for a 5xx response")
}

func TestRequestMetricsRecordsRequestAndResponseSizes(t *testing.T) {
	collector := setupTelemetry(t)

	wrapped := RequestMetrics(okHandler(`{"status":200,"attempts":1}`))

	req := httptest.NewRequest("POST", "/v1/requests", nil)
	req.Header.Set("Content-Length", "512")
	rec := httptest.NewRecorder()
	wrapped.ServeHTTP(rec, req)

	assert.Greater(t, collector.CountMetricsByName("http_request_size_bytes"), 0)
	assert.Greater(t, collector.CountMetricsByName("http_response_size_bytes"), 0)
}

func TestRequestMetricsEchoesRequestID(t *testing.T) {
	collector := setupTelemetry(t)

	wrapped := RequestID(RequestMetrics(okHandler("")))

	req := httptest.NewRequest("GET", "/v1/buckets", nil)
	req.Header.Set("X-Request-ID", "req-abc-123")
	rec := httptest.NewRecorder()
	wrapped.ServeHTTP(rec, req)

	assert.Equal(t, "req-abc-123", rec.Header().Get("X-Request-ID"))
	assert.Greater(t, collector.CountMetricsByName("http_requests_total"), 0)
}

func TestRequestMetricsMeasuresHandlerDuration(t *testing.T) {
	collector := setupTelemetry(t)

	wrapped := RequestMetrics(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(10 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/health", nil)
	rec := httptest.NewRecorder()

	start := time.Now()
	wrapped.ServeHTTP(rec, req)
	elapsed := time.Since(start)

	assert.GreaterOrEqual(t, elapsed, 10*time.Millisecond)
	assert.Greater(t, collector.CountMetricsByName("http_request_duration_ms"), 0)
}

func TestRoutePatternBoundsCardinality(t *testing.T) {
	tests := []struct {
		path     string
		expected string
	}{
		{"/health", "/health/*"},
		{"/health/live", "/health/*"},
		{"/health/ready", "/health/*"},
		{"/health/startup", "/health/*"},
		{"/version", "/version"},
		{"/metrics", "/metrics"},
		{"/v1/requests", "/v1/requests"},
		{"/v1/buckets", "/v1/buckets"},
		{"/v1/stats", "/v1/stats"},
		{"/", "/"},
		{"/channels/123456/messages", "/unknown"},
		{"/totally/unrouted", "/unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			req := httptest.NewRequest("GET", tt.path, nil)
			assert.Equal(t, tt.expected, routePattern(req))
		})
	}
}
