package errors

import (
	"fmt"
	"net/http"
	"runtime/debug"
)

// Stable error codes returned in response envelopes and stream error events.
const (
	CodeInvalidThreadID = "INVALID_THREAD_ID"
	CodeValidation      = "VALIDATION_ERROR"
	CodeThreadNotFound  = "THREAD_NOT_FOUND"
	CodeRateLimited     = "RATE_LIMITED"
	CodeUpstream        = "UPSTREAM_ERROR"
	CodeGeneration      = "GENERATION_FAILED"
	CodeStreamTimeout   = "STREAM_TIMEOUT"
	CodePersistFailed   = "PERSIST_FAILED"
	CodeInternal        = "INTERNAL_ERROR"
)

// AppError represents an application error with HTTP status code and error code
type AppError struct {
	StatusCode int    `json:"-"`
	Code       string `json:"code"`
	Message    string `json:"message"`
	Details    any    `json:"details,omitempty"`
	Stack      string `json:"-"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// WithDetails adds details to the error
func (e *AppError) WithDetails(details any) *AppError {
	e.Details = details
	return e
}

// NewError creates a new application error
func NewError(statusCode int, code string, message string) *AppError {
	return &AppError{
		StatusCode: statusCode,
		Code:       code,
		Message:    message,
		Stack:      string(debug.Stack()),
	}
}

// NewBadRequestError creates a 400 Bad Request error
func NewBadRequestError(code string, message string) *AppError {
	return NewError(http.StatusBadRequest, code, message)
}

// NewNotFoundError creates a 404 Not Found error
func NewNotFoundError(code string, message string) *AppError {
	return NewError(http.StatusNotFound, code, message)
}

// NewInternalServerError creates a 500 Internal Server Error
func NewInternalServerError(code string, message string) *AppError {
	return NewError(http.StatusInternalServerError, code, message)
}

// NewInvalidThreadIDError reports a thread id that is not a canonical UUID.
func NewInvalidThreadIDError(id string) *AppError {
	return NewBadRequestError(CodeInvalidThreadID,
		fmt.Sprintf("thread id %q is not a valid UUID", id))
}

// NewValidationError reports a request body that failed validation.
func NewValidationError(message string) *AppError {
	return NewBadRequestError(CodeValidation, message)
}

// NewThreadNotFoundError reports a read against a thread that does not exist.
func NewThreadNotFoundError(id string) *AppError {
	return NewNotFoundError(CodeThreadNotFound,
		fmt.Sprintf("thread %s does not exist", id))
}

// NewRateLimitError reports a request rejected by admission control.
// retryAfter is the suggested wait in whole seconds.
func NewRateLimitError(retryAfter int) *AppError {
	e := NewError(http.StatusTooManyRequests, CodeRateLimited,
		"too many requests, slow down")
	e.Details = map[string]any{"retryAfterSeconds": retryAfter}
	return e
}

// NewUpstreamError reports a failure talking to a dependency (LLM, vector
// store, board API).
func NewUpstreamError(message string) *AppError {
	return NewError(http.StatusBadGateway, CodeUpstream, message)
}

// NewGenerationError reports a failed or timed-out model completion.
func NewGenerationError(message string) *AppError {
	return NewError(http.StatusBadGateway, CodeGeneration, message)
}

// NewPersistError reports a storage write that failed after the answer was
// already produced.
func NewPersistError(message string) *AppError {
	return NewInternalServerError(CodePersistFailed, message)
}

// Is checks if the target error is of type AppError with the same code
func Is(err error, target *AppError) bool {
	appErr, ok := err.(*AppError)
	if !ok {
		return false
	}
	return appErr.Code == target.Code
}

// HasCode reports whether err is an AppError carrying the given code.
func HasCode(err error, code string) bool {
	appErr, ok := err.(*AppError)
	return ok && appErr.Code == code
}
