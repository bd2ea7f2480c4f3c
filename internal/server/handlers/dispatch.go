package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/vegeta897/slash-create/internal/dispatch"
	apperrors "github.com/vegeta897/slash-create/internal/errors"
	"github.com/vegeta897/slash-create/internal/metrics"
	"github.com/vegeta897/slash-create/internal/rest"
)

// maxSpecBytes caps inbound dispatch payloads. File attachments go
// through the CLI, not this endpoint, so a megabyte is generous.
const maxSpecBytes = 1 << 20

var dispatcher *rest.Dispatcher

// SetDispatcher injects the dispatcher used by the dispatch endpoints.
func SetDispatcher(d *rest.Dispatcher) {
	dispatcher = d
}

// GetDispatcher returns the injected dispatcher (useful for tests).
func GetDispatcher() *rest.Dispatcher {
	return dispatcher
}

// DispatchHandler relays one request spec through the dispatcher and
// reports the completed exchange. A completed exchange resolves with 200
// even when the upstream API rejected the call: the rejection is the
// result the caller asked for. Error envelopes are reserved for requests
// the dispatcher could not complete (invalid specs, exhausted retry
// budgets, timeouts).
func DispatchHandler(w http.ResponseWriter, r *http.Request) {
	if dispatcher == nil {
		respondWithError(w, r, apperrors.NewServiceUnavailableError("Dispatcher not initialized"))
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxSpecBytes))
	if err != nil {
		respondWithError(w, r, apperrors.WrapInvalidInput(r.Context(), err, "Unable to read request body"))
		return
	}

	var spec dispatch.RequestSpec
	if err := json.Unmarshal(body, &spec); err != nil {
		respondWithError(w, r, apperrors.WrapInvalidInput(r.Context(), err, "Request body must be a JSON request spec"))
		return
	}
	if err := spec.Validate(); err != nil {
		respondWithError(w, r, apperrors.WrapValidationError(r.Context(), err, "Invalid request spec"))
		return
	}

	result := dispatch.Send(r.Context(), dispatcher, spec)
	recordDispatchResult(result)

	switch result.Outcome {
	case dispatch.OutcomeSuccess, dispatch.OutcomeRejected:
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(result)
	default:
		respondWithError(w, r, apperrors.FromDispatchError(r.Context(), result.Err))
	}
}

// recordDispatchResult emits dispatch metrics labeled by the bucket route
// rather than the raw path to keep cardinality bounded.
func recordDispatchResult(result *dispatch.SendResult) {
	route := result.Route
	if route == "" {
		route = "invalid"
	}
	duration := time.Duration(result.DurationMS) * time.Millisecond
	metrics.RecordDispatch(result.Method, route, string(result.Outcome), duration)
}
