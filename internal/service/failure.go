package service

import (
	"errors"

	"github.com/sakif/job-tracker-web/internal/apperror"
)

// FailureKind classifies a sign-in failure for the page that shows it.
type FailureKind string

const (
	FailureProvider           FailureKind = "provider_error"
	FailureNoSession          FailureKind = "no_session"
	FailurePersistence        FailureKind = "persistence_error"
	FailureBackendUnavailable FailureKind = "backend_unavailable"
	FailureBackend            FailureKind = "backend_error"
	FailureUnauthorized       FailureKind = "unauthorized"
)

// Action is a recovery option offered next to a failure. Reload means
// "load the current page again"; otherwise Href is followed.
type Action struct {
	Label  string `json:"label"`
	Href   string `json:"href,omitempty"`
	Reload bool   `json:"reload,omitempty"`
}

var (
	ActionTryAgain    = Action{Label: "Try Again", Href: "/"}
	ActionSimpleLogin = Action{Label: "Use Simple Login", Href: "/simple-auth"}
	ActionRetry       = Action{Label: "Retry", Reload: true}
)

// Failure is what the user sees when sign-in cannot finish.
type Failure struct {
	Kind    FailureKind `json:"kind"`
	Message string      `json:"message"`
	Actions []Action    `json:"actions"`
}

const genericFailureMessage = "Failed to complete authentication"

// FailureFor maps an error onto the failure shown to the user. The message
// comes from the AppError, never from the wrapped cause.
func FailureFor(err error) *Failure {
	f := &Failure{Kind: FailureProvider, Message: genericFailureMessage}

	var appErr *apperror.AppError
	if errors.As(err, &appErr) && appErr.Message != "" {
		f.Message = appErr.Message
	}

	switch {
	case errors.Is(err, apperror.ErrNoSession):
		f.Kind = FailureNoSession
	case errors.Is(err, apperror.ErrPersistence):
		f.Kind = FailurePersistence
	case errors.Is(err, apperror.ErrBackendUnavailable):
		f.Kind = FailureBackendUnavailable
	case errors.Is(err, apperror.ErrBackend):
		f.Kind = FailureBackend
	case errors.Is(err, apperror.ErrUnauthorized):
		f.Kind = FailureUnauthorized
	}

	switch f.Kind {
	case FailureBackendUnavailable, FailureBackend:
		f.Actions = []Action{ActionRetry}
	default:
		f.Actions = []Action{ActionTryAgain, ActionSimpleLogin}
	}
	return f
}
