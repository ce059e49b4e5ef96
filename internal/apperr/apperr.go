// Package apperr defines the error taxonomy shared by stores, services and
// transports.
package apperr

import (
	"errors"
	"fmt"
	"net/http"

	pkgerrors "github.com/pkg/errors"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrConflict       = errors.New("conflict")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrTransientStore = errors.New("store unavailable")
	ErrValidation     = errors.New("validation failed")
)

// Transient marks a persistence or cache failure. The original error stays
// reachable through errors.Is / errors.As.
func Transient(err error, op string) error {
	if err == nil {
		return nil
	}
	return &transientError{cause: pkgerrors.Wrap(err, op)}
}

type transientError struct {
	cause error
}

func (e *transientError) Error() string { return e.cause.Error() }

func (e *transientError) Unwrap() []error { return []error{ErrTransientStore, e.cause} }

// Validation builds an ErrValidation with a client-facing reason.
func Validation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// NotFound builds an ErrNotFound naming the missing entity.
func NotFound(entity string) error {
	return fmt.Errorf("%s %w", entity, ErrNotFound)
}

// Unauthorized builds an ErrUnauthorized with a reason.
func Unauthorized(reason string) error {
	return fmt.Errorf("%w: %s", ErrUnauthorized, reason)
}

// HTTPStatus maps an error to the status code handlers respond with.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ErrTransientStore):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Code is the short machine-readable name used in websocket error events.
func Code(err error) string {
	switch {
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrTransientStore):
		return "unavailable"
	default:
		return "internal"
	}
}

// PublicMessage hides internal details of unexpected and store errors.
func PublicMessage(err error) string {
	switch Code(err) {
	case "internal":
		return "internal error"
	case "unavailable":
		return "service temporarily unavailable"
	default:
		return err.Error()
	}
}
