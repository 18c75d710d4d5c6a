package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinels callers match with errors.Is.
var (
	ErrNotFound       = errors.New("resource not found")
	ErrInvalidInput   = errors.New("invalid input")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrConflict       = errors.New("conflict")
	ErrServiceUnavail = errors.New("service unavailable")
	ErrRateLimited    = errors.New("rate limited")
)

// sentinelStatus maps each sentinel to the status it is answered with.
// Errors matching none of them are answered with 500.
var sentinelStatus = []struct {
	err    error
	status int
}{
	{ErrNotFound, http.StatusNotFound},
	{ErrConflict, http.StatusConflict},
	{ErrInvalidInput, http.StatusBadRequest},
	{ErrUnauthorized, http.StatusUnauthorized},
	{ErrRateLimited, http.StatusTooManyRequests},
}

// AppError is an error with a machine-readable code, a message safe to show
// to clients and the HTTP status it maps to. Err keeps the cause for logs.
type AppError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"-"`
	Err     error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err == nil {
		return e.Code + ": " + e.Message
	}
	return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func newAppError(code string, status int, message string, cause error) *AppError {
	return &AppError{Code: code, Message: message, Status: status, Err: cause}
}

// NotFound reports a missing resource of the given kind.
func NotFound(resource, id string) *AppError {
	return newAppError("NOT_FOUND", http.StatusNotFound,
		fmt.Sprintf("%s with id %s not found", resource, id), ErrNotFound)
}

// InvalidInput is the validation failure of the review domain: rejected
// synchronously with 400 and never retried.
func InvalidInput(message string) *AppError {
	return newAppError("INVALID_INPUT", http.StatusBadRequest, message, ErrInvalidInput)
}

// Unauthorized is answered with 401.
func Unauthorized(message string) *AppError {
	return newAppError("UNAUTHORIZED", http.StatusUnauthorized, message, ErrUnauthorized)
}

// Conflict is answered with 409.
func Conflict(message string) *AppError {
	return newAppError("CONFLICT", http.StatusConflict, message, ErrConflict)
}

// RateLimited is answered with 429.
func RateLimited(message string) *AppError {
	return newAppError("RATE_LIMITED", http.StatusTooManyRequests, message, ErrRateLimited)
}

// StoreUnavailable reports a failed read or write against the review store.
// The cause is kept for logging but never shown to the caller.
func StoreUnavailable(err error) *AppError {
	return newAppError("STORE_UNAVAILABLE", http.StatusInternalServerError,
		"review store is unavailable", fmt.Errorf("%w: %w", ErrServiceUnavail, err))
}

// Internal hides err behind a generic 500 message.
func Internal(err error) *AppError {
	return newAppError("INTERNAL_ERROR", http.StatusInternalServerError, "an internal error occurred", err)
}

// HTTPStatus returns the status err should be answered with.
func HTTPStatus(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Status
	}
	for _, s := range sentinelStatus {
		if errors.Is(err, s.err) {
			return s.status
		}
	}
	return http.StatusInternalServerError
}
