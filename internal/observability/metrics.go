package observability

import (
	"fmt"
	"net"
	"strconv"

	"github.com/fulmenhq/gofulmen/telemetry"
	"github.com/fulmenhq/gofulmen/telemetry/exporters"
)

var (
	// TelemetrySystem is the global telemetry system; nil means metrics
	// are disabled and Record* helpers become no-ops.
	TelemetrySystem *telemetry.System

	// PrometheusExporter serves the exposition endpoint behind /metrics.
	PrometheusExporter *exporters.PrometheusExporter

	// metricsPort is the port the exporter actually bound to.
	metricsPort int
)

// InitMetrics starts the Prometheus exporter (port 0 asks the OS for a free
// one) and wires it into a fresh telemetry system. The namespace prefixes
// every exported metric; it defaults to the service name.
func InitMetrics(serviceName string, port int, namespace ...string) error {
	requestedPort := port
	if requestedPort < 0 {
		requestedPort = 0
	}
	metricsPort = requestedPort

	metricNamespace := serviceName
	if len(namespace) > 0 && namespace[0] != "" {
		metricNamespace = namespace[0]
	}

	PrometheusExporter = exporters.NewPrometheusExporter(metricNamespace, fmt.Sprintf(":%d", requestedPort))
	if err := PrometheusExporter.Start(); err != nil {
		return err
	}

	// With :0 the OS picked the port; recover it from the live listener.
	if actualPort, err := resolvePort(PrometheusExporter.GetAddr()); err == nil {
		metricsPort = actualPort
	} else if requestedPort == 0 {
		metricsPort = 9090
	}

	sys, err := telemetry.NewSystem(&telemetry.Config{
		Enabled: true,
		Emitter: PrometheusExporter,
	})
	if err != nil {
		return err
	}

	TelemetrySystem = sys

	// Error metrics (errors_total, panics_total, errors_by_endpoint) are
	// auto-registered by gofulmen telemetry on first use; see
	// internal/metrics/errors.go for emission.

	return nil
}

// GetMetricsPort returns the port the Prometheus exporter is listening on
func GetMetricsPort() int {
	return metricsPort
}

func resolvePort(addr string) (int, error) {
	_, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(portStr)
}
