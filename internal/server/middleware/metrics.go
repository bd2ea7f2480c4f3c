package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/vegeta897/slash-create/internal/observability"
)

// statusRecorder captures the status code and body size written by a handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int64
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	n, err := sr.ResponseWriter.Write(b)
	sr.bytes += int64(n)
	return n, err
}

// routePattern returns a bounded-cardinality label for the request path: the
// chi route pattern when available, otherwise a fixed set of known paths
// with everything else folded into "/unknown".
func routePattern(r *http.Request) string {
	if pattern := chi.RouteContext(r.Context()).RoutePattern(); pattern != "" {
		return pattern
	}

	switch path := r.URL.Path; path {
	case "/health", "/health/live", "/health/ready", "/health/startup":
		return "/health/*"
	case "/version", "/metrics", "/":
		return path
	case "/v1/requests", "/v1/buckets", "/v1/stats":
		return path
	default:
		return "/unknown"
	}
}

// RequestMetrics emits counters, duration, and size metrics for every HTTP
// request, labeled by method, route pattern, and status.
func RequestMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if observability.TelemetrySystem == nil {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		requestSize := contentLength(r)

		next.ServeHTTP(recorder, r)

		// Route pattern is only populated once chi has matched the request.
		duration := time.Since(start)
		endpoint := routePattern(r)
		emitRequestMetrics(r.Method, endpoint, recorder, requestSize, duration)

		// Request ID stays in logs, not metrics.
		if observability.ServerLogger != nil {
			observability.ServerLogger.Info("HTTP request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.String("endpoint", endpoint),
				zap.Int("status", recorder.status),
				zap.Duration("duration", duration),
				zap.Int64("request_size", requestSize),
				zap.Int64("response_size", recorder.bytes),
				zap.String("requestID", GetRequestID(r.Context())),
			)
		}
	})
}

func contentLength(r *http.Request) int64 {
	header := r.Header.Get("Content-Length")
	if header == "" {
		return 0
	}
	size, err := strconv.ParseInt(header, 10, 64)
	if err != nil {
		return 0
	}
	return size
}

// emitRequestMetrics keeps the gofulmen standard metric names so dashboards
// match the rest of the fleet.
func emitRequestMetrics(method, endpoint string, recorder *statusRecorder, requestSize int64, duration time.Duration) {
	labels := map[string]string{
		"method":   method,
		"endpoint": endpoint,
		"status":   strconv.Itoa(recorder.status),
	}

	_ = observability.TelemetrySystem.Counter("http_requests_total", 1, labels)
	_ = observability.TelemetrySystem.Histogram("http_request_duration_ms", duration, labels)

	sizeLabels := map[string]string{
		"method":   method,
		"endpoint": endpoint,
	}
	_ = observability.TelemetrySystem.Gauge("http_request_size_bytes", float64(requestSize), sizeLabels)
	_ = observability.TelemetrySystem.Gauge("http_response_size_bytes", float64(recorder.bytes), sizeLabels)

	if recorder.status >= 400 {
		errorType := "client_error"
		if recorder.status >= 500 {
			errorType = "server_error"
		}
		_ = observability.TelemetrySystem.Counter("http_errors_total", 1, map[string]string{
			"method":     method,
			"endpoint":   endpoint,
			"status":     strconv.Itoa(recorder.status),
			"error_type": errorType,
		})
	}
}
