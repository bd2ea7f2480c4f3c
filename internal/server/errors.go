package server

import (
	"net/http"

	apperrors "github.com/vegeta897/slash-create/internal/errors"
)

// HandleError central handler for all errors
func HandleError(w http.ResponseWriter, r *http.Request, err error) {
	apperrors.RespondWithError(w, r, err)
}

// notFoundHandler answers requests for unknown routes with a structured envelope.
func notFoundHandler(w http.ResponseWriter, r *http.Request) {
	HandleError(w, r, apperrors.NewNotFoundError("The requested resource was not found"))
}

// methodNotAllowedHandler answers unsupported methods on known routes.
func methodNotAllowedHandler(w http.ResponseWriter, r *http.Request) {
	HandleError(w, r, apperrors.NewMethodNotAllowedError("The requested method is not allowed for this resource"))
}
