package metrics

import (
	"time"

	"github.com/vegeta897/slash-create/internal/observability"
)

// Application-level metrics following Prometheus conventions
var (
	// Dispatch metrics
	DispatchTotal     = "dispatch_requests_total"
	DispatchDuration  = "dispatch_request_duration_ms"
	DispatchEnqueued  = "dispatch_enqueued_total"
	DispatchCompleted = "dispatch_completed_total"
	DispatchRetried   = "dispatch_retried_total"
	DispatchThrottled = "dispatch_throttled_total"

	// Bucket metrics
	BucketsLive      = "dispatch_buckets_live"
	BucketQueueDepth = "dispatch_queue_depth"
	BucketsEvicted   = "dispatch_buckets_evicted_total"

	// Connection metrics
	ActiveConnections = "app_active_connections"

	// Health check metrics
	HealthCheckTotal    = "app_health_check_total"
	HealthCheckDuration = "app_health_check_duration_ms"

	// Server lifecycle metrics
	ServerStartTime = "app_server_start_time_seconds"
	ServerUptime    = "app_server_uptime_seconds"
)

// RecordDispatch records one completed dispatch with its outcome and
// total wall time including queueing. Outcome is one of success,
// rejected, rate_limited, failed, timeout, or invalid.
func RecordDispatch(method, route, outcome string, duration time.Duration) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(
			DispatchTotal,
			1,
			map[string]string{
				"method":  method,
				"route":   route,
				"outcome": outcome,
			},
		)

		_ = observability.TelemetrySystem.Histogram(
			DispatchDuration,
			duration,
			map[string]string{
				"method": method,
				"route":  route,
			},
		)
	}
}

// PublishDispatchStats publishes the dispatcher's cumulative counters.
// The values come from a snapshot, so they are exported as gauges that
// only ever grow.
func PublishDispatchStats(enqueued, dispatched, retried, throttled int64) {
	if observability.TelemetrySystem == nil {
		return
	}
	_ = observability.TelemetrySystem.Gauge(DispatchEnqueued, float64(enqueued), nil)
	_ = observability.TelemetrySystem.Gauge(DispatchCompleted, float64(dispatched), nil)
	_ = observability.TelemetrySystem.Gauge(DispatchRetried, float64(retried), nil)
	_ = observability.TelemetrySystem.Gauge(DispatchThrottled, float64(throttled), nil)
}

// PublishBucketGauges publishes the live bucket count and the total
// number of queued requests across all buckets.
func PublishBucketGauges(live, queued int64) {
	if observability.TelemetrySystem == nil {
		return
	}
	_ = observability.TelemetrySystem.Gauge(BucketsLive, float64(live), nil)
	_ = observability.TelemetrySystem.Gauge(BucketQueueDepth, float64(queued), nil)
}

// RecordBucketsEvicted records idle buckets removed by a sweep.
func RecordBucketsEvicted(count int64) {
	if count <= 0 {
		return
	}
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(BucketsEvicted, float64(count), nil)
	}
}

// SetActiveConnections sets the current number of active connections
func SetActiveConnections(count int64) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Gauge(
			ActiveConnections,
			float64(count),
			nil,
		)
	}
}

// RecordHealthCheck records a health check execution
func RecordHealthCheck(checkName string, healthy bool, duration time.Duration) {
	status := "healthy"
	if !healthy {
		status = "unhealthy"
	}

	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(
			HealthCheckTotal,
			1,
			map[string]string{
				"check":  checkName,
				"status": status,
			},
		)

		_ = observability.TelemetrySystem.Histogram(
			HealthCheckDuration,
			duration,
			map[string]string{
				"check": checkName,
			},
		)
	}
}

// SetServerStartTime records the server start time (Unix timestamp)
func SetServerStartTime(timestamp int64) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Gauge(
			ServerStartTime,
			float64(timestamp),
			nil,
		)
	}
}

// SetServerUptime records the server uptime in seconds
func SetServerUptime(seconds int64) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Gauge(
			ServerUptime,
			float64(seconds),
			nil,
		)
	}
}
