package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel kinds. Services wrap these with context via New*; handlers map
// them to HTTP status codes with StatusOf.
var (
	ErrNotFound           = errors.New("not found")
	ErrValidation         = errors.New("validation failed")
	ErrConflict           = errors.New("conflict")
	ErrTransientBackend   = errors.New("transient backend error")
	ErrIntegrityViolation = errors.New("integrity violation")
)

type Error struct {
	Status int
	Code   string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	if e.Code != "" {
		return e.Code
	}
	if e.Status != 0 {
		return fmt.Sprintf("api error (%d)", e.Status)
	}
	return "api error"
}

func (e *Error) Unwrap() error { return e.Err }

func New(status int, code string, err error) *Error {
	return &Error{Status: status, Code: code, Err: err}
}

func NotFound(format string, args ...interface{}) *Error {
	return New(http.StatusNotFound, "not_found", wrap(ErrNotFound, format, args...))
}

func Validation(format string, args ...interface{}) *Error {
	return New(http.StatusBadRequest, "validation", wrap(ErrValidation, format, args...))
}

func Conflict(format string, args ...interface{}) *Error {
	return New(http.StatusBadRequest, "conflict", wrap(ErrConflict, format, args...))
}

func TransientBackend(err error) *Error {
	return New(http.StatusServiceUnavailable, "transient_backend", fmt.Errorf("%w: %w", ErrTransientBackend, err))
}

func IntegrityViolation(format string, args ...interface{}) *Error {
	return New(http.StatusInternalServerError, "integrity_violation", wrap(ErrIntegrityViolation, format, args...))
}

func wrap(kind error, format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", kind, fmt.Sprintf(format, args...))
}

// StatusOf returns the HTTP status for err, falling back to 500 for
// anything that is not an *Error.
func StatusOf(err error) int {
	var ae *Error
	if errors.As(err, &ae) && ae.Status != 0 {
		return ae.Status
	}
	return http.StatusInternalServerError
}

// CodeOf returns the short machine code for err, or "internal".
func CodeOf(err error) string {
	var ae *Error
	if errors.As(err, &ae) && ae.Code != "" {
		return ae.Code
	}
	return "internal"
}
