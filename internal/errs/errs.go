// Package errs carries the typed stage results the Pipeline Driver
// translates into a job's terminal state.
package errs

import (
	"fmt"
	"net/http"

	"frameworks/pkg/models"
)

// StageError is the typed result a pipeline stage returns on failure.
// Retryable distinguishes transient provider/network failures (retried
// with backoff inside the stage) from failures that should fail the job
// immediately.
type StageError struct {
	Kind      models.ErrorKind
	Message   string
	Retryable bool
	cause     error
}

func (e *StageError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *StageError) Unwrap() error { return e.cause }

// New builds a non-retryable StageError.
func New(kind models.ErrorKind, message string) *StageError {
	return &StageError{Kind: kind, Message: message}
}

// Wrap builds a StageError carrying an underlying cause.
func Wrap(kind models.ErrorKind, message string, cause error) *StageError {
	return &StageError{Kind: kind, Message: message, cause: cause}
}

// Retryable marks a StageError as transient.
func Retryable(kind models.ErrorKind, message string, cause error) *StageError {
	return &StageError{Kind: kind, Message: message, cause: cause, Retryable: true}
}

// HTTPStatus maps an error kind to the status code the ingress surface
// reports it under.
func HTTPStatus(kind models.ErrorKind) int {
	switch kind {
	case models.ErrBadInput:
		return http.StatusBadRequest
	case models.ErrUnauthorized:
		return http.StatusUnauthorized
	case models.ErrForbidden:
		return http.StatusForbidden
	case models.ErrNotFound:
		return http.StatusNotFound
	case models.ErrQuotaExceeded:
		return http.StatusPaymentRequired
	case models.ErrRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// Body is the JSON error envelope returned to API clients.
type Body struct {
	Error     string `json:"error"`
	Status    int    `json:"status_code"`
	Timestamp int64  `json:"timestamp"`
}
