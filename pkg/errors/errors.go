package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Standard sentinel errors for common cases.
var (
	ErrNotFound       = errors.New("resource not found")
	ErrAlreadyExists  = errors.New("resource already exists")
	ErrInvalidInput   = errors.New("invalid input")
	ErrInternal       = errors.New("internal error")
	ErrConflict       = errors.New("conflict")
	ErrServiceUnavail = errors.New("service unavailable")

	// ErrInsufficientStock is returned when a stock decrement would drive the
	// quantity on hand negative. It is recoverable by the caller and is never
	// retried automatically.
	ErrInsufficientStock = errors.New("insufficient stock")

	// ErrInvalidTransition is returned when a status change request is not in
	// the legal transition table. The requested state is never silently
	// coerced to the closest legal one.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrPrecondition signals a violated internal invariant (for example
	// shipping an order whose payment was never authorized). It indicates a
	// bug elsewhere in the pipeline, not a user mistake, and should alert.
	ErrPrecondition = errors.New("precondition failed")
)

// AppError represents a structured application error with HTTP status mapping.
type AppError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"-"`
	Err     error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// NotFound creates a 404 error.
func NotFound(resource, id string) *AppError {
	return &AppError{
		Code:    "NOT_FOUND",
		Message: fmt.Sprintf("%s with id %s not found", resource, id),
		Status:  http.StatusNotFound,
		Err:     ErrNotFound,
	}
}

// AlreadyExists creates a 409 error.
func AlreadyExists(resource, field, value string) *AppError {
	return &AppError{
		Code:    "ALREADY_EXISTS",
		Message: fmt.Sprintf("%s with %s %q already exists", resource, field, value),
		Status:  http.StatusConflict,
		Err:     ErrAlreadyExists,
	}
}

// InvalidInput creates a 400 error.
func InvalidInput(message string) *AppError {
	return &AppError{
		Code:    "INVALID_INPUT",
		Message: message,
		Status:  http.StatusBadRequest,
		Err:     ErrInvalidInput,
	}
}

// Internal creates a 500 error.
func Internal(err error) *AppError {
	return &AppError{
		Code:    "INTERNAL_ERROR",
		Message: "an internal error occurred",
		Status:  http.StatusInternalServerError,
		Err:     err,
	}
}

// Conflict creates a 409 error for concurrent modification conflicts.
func Conflict(message string) *AppError {
	return &AppError{
		Code:    "CONFLICT",
		Message: message,
		Status:  http.StatusConflict,
		Err:     ErrConflict,
	}
}

// ServiceUnavailable creates a 503 error.
func ServiceUnavailable(message string) *AppError {
	return &AppError{
		Code:    "SERVICE_UNAVAILABLE",
		Message: message,
		Status:  http.StatusServiceUnavailable,
		Err:     ErrServiceUnavail,
	}
}

// InsufficientStock creates a 409 error naming the variant and quantities involved.
func InsufficientStock(variantID string, requested, available int) *AppError {
	return &AppError{
		Code:    "INSUFFICIENT_STOCK",
		Message: fmt.Sprintf("variant %s: requested %d, available %d", variantID, requested, available),
		Status:  http.StatusConflict,
		Err:     ErrInsufficientStock,
	}
}

// InvalidTransition creates a 422 error for an illegal status transition.
func InvalidTransition(entity, from, to string) *AppError {
	return &AppError{
		Code:    "INVALID_TRANSITION",
		Message: fmt.Sprintf("%s cannot transition from %q to %q", entity, from, to),
		Status:  http.StatusUnprocessableEntity,
		Err:     ErrInvalidTransition,
	}
}

// Precondition creates a 500 error for a violated internal invariant.
// Callers should log these at error level: they indicate a bug, not bad input.
func Precondition(message string) *AppError {
	return &AppError{
		Code:    "PRECONDITION_FAILED",
		Message: message,
		Status:  http.StatusInternalServerError,
		Err:     ErrPrecondition,
	}
}

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	return fmt.Errorf("%s: %w", message, err)
}

// HTTPStatus returns the HTTP status code for the given error.
func HTTPStatus(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Status
	}

	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrAlreadyExists), errors.Is(err, ErrConflict), errors.Is(err, ErrInsufficientStock):
		return http.StatusConflict
	case errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, ErrInvalidTransition):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrServiceUnavail):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
