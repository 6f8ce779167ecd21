// Package apperror defines the error kinds that cross package boundaries.
//
// Every failure the sign-in flow can produce is one of these kinds. Handlers
// map the kind to an HTTP status and a page, and always show Message to the
// user, so Message must be safe to display.
package apperror

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrValidation         = errors.New("validation error")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrProvider           = errors.New("identity provider error")
	ErrNoSession          = errors.New("no session")
	ErrPersistence        = errors.New("persistence error")
	ErrBackendUnavailable = errors.New("backend unavailable")
	ErrBackend            = errors.New("backend error")
)

type AppError struct {
	Err     error  // sentinel kind
	Message string // Human-readable error message
	Field   string // Optional: field causing the error
	Cause   error  // Optional: underlying error, for logs only
}

func (e *AppError) Error() string {
	return e.Message
}

// Unwrap exposes both the kind and the cause to errors.Is / errors.As.
func (e *AppError) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Err}
	}
	return []error{e.Err, e.Cause}
}

func NotFound(resource, id string) *AppError {
	return &AppError{
		Err:     ErrNotFound,
		Message: fmt.Sprintf("%s not found with id %s", resource, id),
	}
}

func ValidationFailed(field, message string) *AppError {
	return &AppError{
		Err:     ErrValidation,
		Message: message,
		Field:   field,
	}
}

func Unauthorized(message string) *AppError {
	return &AppError{
		Err:     ErrUnauthorized,
		Message: message,
	}
}

// Provider reports a failure attributed to the identity provider, either an
// explicit error parameter on the callback or a failed provider call.
func Provider(message string, cause error) *AppError {
	return &AppError{
		Err:     ErrProvider,
		Message: message,
		Cause:   cause,
	}
}

// NoSession reports that every resolution strategy came up empty.
func NoSession() *AppError {
	return &AppError{
		Err:     ErrNoSession,
		Message: "No session created. Please try again.",
	}
}

// Persistence reports a cookie write, read or parse failure.
func Persistence(message string, cause error) *AppError {
	return &AppError{
		Err:     ErrPersistence,
		Message: message,
		Cause:   cause,
	}
}

// BackendUnavailable reports that the backend could not be reached at all
// (connection refused, DNS, timeout).
func BackendUnavailable(cause error) *AppError {
	return &AppError{
		Err:     ErrBackendUnavailable,
		Message: "Cannot connect to server. Please make sure the backend is running and try again.",
		Cause:   cause,
	}
}

// Backend reports that the backend answered, but not usefully.
func Backend(cause error) *AppError {
	return &AppError{
		Err:     ErrBackend,
		Message: "An error occurred while checking your profile. Please try again.",
		Cause:   cause,
	}
}
