package handler

// JSON RESPONSE HELPERS:
// Every JSON error from the API has the same shape:
//   {"error": "unauthorized", "message": "valid authentication required"}
//
// Pages use Pages.render instead; these are for /api routes only.

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/sakif/job-tracker-web/internal/apperror"
)

// ErrorResponse is the standard error body for /api routes.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

// writeJSON sends data with status. Headers go out before the body, so
// everything is set before WriteHeader.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
		}
	}
}

// errorStatus maps an apperror kind to an HTTP status and error type.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, apperror.ErrValidation):
		return http.StatusBadRequest, "validation_error"
	case errors.Is(err, apperror.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, apperror.ErrUnauthorized):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, apperror.ErrProvider):
		return http.StatusUnauthorized, "provider_error"
	case errors.Is(err, apperror.ErrNoSession):
		return http.StatusUnauthorized, "no_session"
	case errors.Is(err, apperror.ErrBackendUnavailable):
		return http.StatusServiceUnavailable, "backend_unavailable"
	case errors.Is(err, apperror.ErrBackend):
		return http.StatusBadGateway, "backend_error"
	case errors.Is(err, apperror.ErrPersistence):
		return http.StatusInternalServerError, "persistence_error"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

// writeError sends err as an ErrorResponse. Only AppError messages reach
// the client; anything else becomes a generic 500.
func writeError(w http.ResponseWriter, err error) {
	var appErr *apperror.AppError
	if !errors.As(err, &appErr) {
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{
			Error:   "internal_error",
			Message: "An internal error occurred",
		})
		return
	}

	status, errorType := errorStatus(err)
	writeJSON(w, status, ErrorResponse{
		Error:   errorType,
		Message: appErr.Message,
		Field:   appErr.Field,
	})
}
