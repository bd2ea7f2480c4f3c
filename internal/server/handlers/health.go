package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/fulmenhq/gofulmen/errors"

	"github.com/vegeta897/slash-create/internal/metrics"
)

// HealthResponse is the aggregate health report served by /health.
type HealthResponse struct {
	Status    string            `json:"status"`
	Version   string            `json:"version"`
	Timestamp string            `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// ProbeResponse is the slim payload served by the live/ready/startup probes.
type ProbeResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// HealthChecker is implemented by components that report their own health
// (bucket store, dispatcher, telemetry).
type HealthChecker interface {
	CheckHealth(ctx context.Context) error
}

// probeSpec fixes the name and check budget for a probe endpoint.
type probeSpec struct {
	name    string
	timeout time.Duration
}

var (
	probeLive    = probeSpec{name: "live", timeout: 2 * time.Second}
	probeReady   = probeSpec{name: "ready", timeout: 5 * time.Second}
	probeStartup = probeSpec{name: "startup", timeout: 3 * time.Second}
)

// HealthManager fans a probe request out to the registered checkers and
// folds the results into an overall status.
type HealthManager struct {
	checkers map[string]HealthChecker
	version  string
}

// NewHealthManager creates a health manager reporting the given version.
func NewHealthManager(version string) *HealthManager {
	return &HealthManager{
		checkers: make(map[string]HealthChecker),
		version:  version,
	}
}

// RegisterChecker adds a named component check.
func (hm *HealthManager) RegisterChecker(name string, checker HealthChecker) {
	hm.checkers[name] = checker
}

// runChecks executes every registered checker, recording per-check timing.
// Context expiry marks the current check "timeout" and stops the sweep.
func (hm *HealthManager) runChecks(ctx context.Context) map[string]string {
	checks := make(map[string]string)

	for name, checker := range hm.checkers {
		select {
		case <-ctx.Done():
			checks[name] = "timeout"
			return checks
		default:
			started := time.Now()
			err := checker.CheckHealth(ctx)
			healthy := err == nil
			if healthy {
				checks[name] = "healthy"
			} else {
				checks[name] = "unhealthy"
			}
			metrics.RecordHealthCheck(name, healthy, time.Since(started))
		}
	}

	return checks
}

// overallStatus folds per-check results: any unhealthy check wins, and
// timeouts or degraded checks downgrade the aggregate to degraded.
func (hm *HealthManager) overallStatus(checks map[string]string) string {
	degraded := false
	for _, status := range checks {
		if status == "unhealthy" {
			return "unhealthy"
		}
		if status == "degraded" || status == "timeout" {
			degraded = true
		}
	}

	if degraded {
		return "degraded"
	}

	return "healthy"
}

// HealthHandler serves the aggregate health report with per-check detail.
func (hm *HealthManager) HealthHandler(w http.ResponseWriter, r *http.Request) {
	checkCtx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	checks := hm.runChecks(checkCtx)
	status := hm.overallStatus(checks)

	if status == "unhealthy" {
		respondWithError(w, r, healthEnvelope("aggregate health check failed", "", status, checks))
		return
	}

	writeHealthJSON(w, HealthResponse{
		Status:    status,
		Version:   hm.version,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Checks:    checks,
	})
}

// LivenessHandler answers the liveness probe: is the process running.
func (hm *HealthManager) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	hm.serveProbe(w, r, probeLive)
}

// ReadinessHandler answers the readiness probe: can we serve traffic.
func (hm *HealthManager) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	hm.serveProbe(w, r, probeReady)
}

// StartupHandler answers the startup probe: did initialization finish.
func (hm *HealthManager) StartupHandler(w http.ResponseWriter, r *http.Request) {
	hm.serveProbe(w, r, probeStartup)
}

func (hm *HealthManager) serveProbe(w http.ResponseWriter, r *http.Request, spec probeSpec) {
	checkCtx, cancel := context.WithTimeout(r.Context(), spec.timeout)
	defer cancel()

	checks := hm.runChecks(checkCtx)
	status := hm.overallStatus(checks)

	if status == "unhealthy" {
		respondWithError(w, r, healthEnvelope(spec.name+" probe failed", spec.name, status, checks))
		return
	}

	writeHealthJSON(w, ProbeResponse{Status: status, Timestamp: time.Now().UTC()})
}

func writeHealthJSON(w http.ResponseWriter, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(payload)
}

// healthEnvelope builds the SERVICE_UNAVAILABLE envelope carrying the probe
// name, aggregate status, and the names of the failing checks.
func healthEnvelope(message, probe, status string, checks map[string]string) *errors.ErrorEnvelope {
	envelope := errors.NewErrorEnvelope("SERVICE_UNAVAILABLE", message)
	if envelope == nil {
		return nil
	}

	details := map[string]interface{}{
		"status": status,
	}
	if len(checks) > 0 {
		details["checks"] = checks
	}
	if probe != "" {
		details["probe"] = probe
	}
	envelope = envelope.WithDetails(details)

	contextData := map[string]interface{}{
		"status": status,
	}
	if probe != "" {
		contextData["probe"] = probe
	}

	var unhealthy []string
	for name, result := range checks {
		if result != "healthy" {
			unhealthy = append(unhealthy, name)
		}
	}
	if len(unhealthy) > 0 {
		contextData["unhealthy_checks"] = unhealthy
	}

	envelope, _ = envelope.WithContext(contextData)
	return envelope
}

// Global health manager instance
var globalHealthManager *HealthManager

// InitHealthManager initializes the global health manager
func InitHealthManager(version string) {
	globalHealthManager = NewHealthManager(version)
}

// GetHealthManager returns the global health manager
func GetHealthManager() *HealthManager {
	return globalHealthManager
}

// The package-level handlers let routes bind before serve wiring installs
// the manager; they fail closed with SERVICE_UNAVAILABLE until then.

// HealthHandler serves /health through the global manager.
func HealthHandler(w http.ResponseWriter, r *http.Request) {
	if globalHealthManager == nil {
		respondWithError(w, r, healthEnvelope("health manager not initialized", "aggregate", "unknown", nil))
		return
	}
	globalHealthManager.HealthHandler(w, r)
}

// LivenessHandler serves /health/live through the global manager.
func LivenessHandler(w http.ResponseWriter, r *http.Request) {
	if globalHealthManager == nil {
		respondWithError(w, r, healthEnvelope("health manager not initialized", probeLive.name, "unknown", nil))
		return
	}
	globalHealthManager.LivenessHandler(w, r)
}

// ReadinessHandler serves /health/ready through the global manager.
func ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	if globalHealthManager == nil {
		respondWithError(w, r, healthEnvelope("health manager not initialized", probeReady.name, "unknown", nil))
		return
	}
	globalHealthManager.ReadinessHandler(w, r)
}

// StartupHandler serves /health/startup through the global manager.
func StartupHandler(w http.ResponseWriter, r *http.Request) {
	if globalHealthManager == nil {
		respondWithError(w, r, healthEnvelope("health manager not initialized", probeStartup.name, "unknown", nil))
		return
	}
	globalHealthManager.StartupHandler(w, r)
}
