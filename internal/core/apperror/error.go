// Package apperror provides structured error handling following RFC 7807 Problem Details.
// All business errors must use AppError for consistent API responses.
package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes
const (
	// Infrastructure errors (5xx)
	CodeInternal        = "INTERNAL_ERROR"
	CodeDatabase        = "DATABASE_ERROR"
	CodeLockUnavailable = "LOCK_UNAVAILABLE"
	CodeProviderError   = "PROVIDER_ERROR"

	// Validation errors (400)
	CodeValidation = "VALIDATION_ERROR"

	// Business rule violations (422)
	CodeBusinessRule            = "BUSINESS_RULE_VIOLATION"
	CodeSequenceExhausted       = "SEQUENCE_EXHAUSTED"
	CodeMissingOriginalDocument = "MISSING_ORIGINAL_DOCUMENT"

	// Authorization errors (401, 403)
	CodeUnauthorized = "UNAUTHORIZED"
	CodeForbidden    = "FORBIDDEN"

	// Not found (404)
	CodeNotFound = "NOT_FOUND"

	// Conflict (409)
	CodeConflict               = "CONFLICT"
	CodeInvalidTransition      = "INVALID_STATE_TRANSITION"
	CodeConcurrentModification = "CONCURRENT_MODIFICATION"
)

// AppError is the standard error type for the platform.
// It implements error interface and provides structured details for API responses.
type AppError struct {
	// Code is a machine-readable error identifier
	Code string `json:"code"`

	// Message is a human-readable error description
	Message string `json:"message"`

	// Details contains additional context (series, document, attempts, etc.)
	Details map[string]any `json:"details,omitempty"`

	// HTTPStatus is the suggested HTTP status code
	HTTPStatus int `json:"-"`

	// Err is the underlying error (not exposed in JSON)
	Err error `json:"-"`
}

// Error implements error interface
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Is/As support
func (e *AppError) Unwrap() error {
	return e.Err
}

// WithDetail adds a key-value pair to error details
func (e *AppError) WithDetail(key string, value any) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// WithCause sets the underlying error
func (e *AppError) WithCause(err error) *AppError {
	e.Err = err
	return e
}

// --- Factory functions for common errors ---

// NewValidation creates a validation error (400)
func NewValidation(message string) *AppError {
	return &AppError{
		Code:       CodeValidation,
		Message:    message,
		HTTPStatus: http.StatusBadRequest,
	}
}

// NewNotFound creates a not found error (404)
func NewNotFound(entity string, id any) *AppError {
	return &AppError{
		Code:       CodeNotFound,
		Message:    fmt.Sprintf("%s not found", entity),
		HTTPStatus: http.StatusNotFound,
		Details:    map[string]any{"entity": entity, "id": id},
	}
}

// NewBusinessRule creates a business rule violation error (422)
func NewBusinessRule(code, message string) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: http.StatusUnprocessableEntity,
	}
}

// NewLockUnavailable is returned when a series lock could not be acquired
// after all attempts. Nothing was mutated; the whole operation may be retried.
func NewLockUnavailable(tenantID, seriesID string, attempts int) *AppError {
	return &AppError{
		Code:       CodeLockUnavailable,
		Message:    "Numbering series is busy, please retry",
		HTTPStatus: http.StatusServiceUnavailable,
		Details: map[string]any{
			"tenant_id": tenantID,
			"series_id": seriesID,
			"attempts":  attempts,
		},
	}
}

// NewSequenceExhausted is returned when a series is paused, closed or has
// reached the end of its numeric range.
func NewSequenceExhausted(seriesID string) *AppError {
	return &AppError{
		Code:       CodeSequenceExhausted,
		Message:    "Numbering series is not active or its range is exhausted",
		HTTPStatus: http.StatusUnprocessableEntity,
		Details:    map[string]any{"series_id": seriesID},
	}
}

// NewMissingOriginalDocument is returned when a credit/debit note does not
// reference a resolvable original document.
func NewMissingOriginalDocument(docType string, originalID any) *AppError {
	return &AppError{
		Code:       CodeMissingOriginalDocument,
		Message:    "Notes require a referenced original document",
		HTTPStatus: http.StatusUnprocessableEntity,
		Details:    map[string]any{"type": docType, "original_document_id": originalID},
	}
}

// NewProviderError wraps a failure of the external fiscal provider.
// The message of the underlying error is returned to the caller as-is.
func NewProviderError(provider string, err error) *AppError {
	msg := "Fiscal provider request failed"
	if err != nil {
		msg = err.Error()
	}
	return &AppError{
		Code:       CodeProviderError,
		Message:    msg,
		HTTPStatus: http.StatusBadGateway,
		Details:    map[string]any{"provider": provider},
		Err:        err,
	}
}

// NewInvalidTransition creates error for a forbidden document state change (409)
func NewInvalidTransition(from, to string) *AppError {
	return &AppError{
		Code:       CodeInvalidTransition,
		Message:    fmt.Sprintf("Cannot move document from %s to %s", from, to),
		HTTPStatus: http.StatusConflict,
		Details:    map[string]any{"from": from, "to": to},
	}
}

// NewConcurrentModification creates an optimistic locking error
func NewConcurrentModification(entity string, id any) *AppError {
	return &AppError{
		Code:       CodeConcurrentModification,
		Message:    "Record was modified by another request. Please refresh and try again.",
		HTTPStatus: http.StatusConflict,
		Details:    map[string]any{"entity": entity, "id": id},
	}
}

// NewInternal creates an internal server error (hides details from client)
func NewInternal(err error) *AppError {
	return &AppError{
		Code:       CodeInternal,
		Message:    "Internal server error",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// NewUnauthorized creates an authentication error (401)
func NewUnauthorized(message string) *AppError {
	return &AppError{
		Code:       CodeUnauthorized,
		Message:    message,
		HTTPStatus: http.StatusUnauthorized,
	}
}

// NewForbidden creates an authorization error (403)
func NewForbidden(message string) *AppError {
	return &AppError{
		Code:       CodeForbidden,
		Message:    message,
		HTTPStatus: http.StatusForbidden,
	}
}

// NewConflict creates a conflict error (409)
func NewConflict(message string) *AppError {
	return &AppError{
		Code:       CodeConflict,
		Message:    message,
		HTTPStatus: http.StatusConflict,
	}
}

// --- Helper functions ---

// IsAppError checks if error is AppError
func IsAppError(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr)
}

// AsAppError extracts AppError from error chain
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// GetHTTPStatus returns appropriate HTTP status for any error
func GetHTTPStatus(err error) int {
	if appErr, ok := AsAppError(err); ok {
		return appErr.HTTPStatus
	}
	return http.StatusInternalServerError
}

// HasCode reports whether err carries an AppError with the given code.
func HasCode(err error, code string) bool {
	if appErr, ok := AsAppError(err); ok {
		return appErr.Code == code
	}
	return false
}

// IsNotFound checks if error is CodeNotFound
func IsNotFound(err error) bool {
	return HasCode(err, CodeNotFound)
}

// IsLockUnavailable checks if error is CodeLockUnavailable
func IsLockUnavailable(err error) bool {
	return HasCode(err, CodeLockUnavailable)
}

// IsSequenceExhausted checks if error is CodeSequenceExhausted
func IsSequenceExhausted(err error) bool {
	return HasCode(err, CodeSequenceExhausted)
}

// IsMissingOriginalDocument checks if error is CodeMissingOriginalDocument
func IsMissingOriginalDocument(err error) bool {
	return HasCode(err, CodeMissingOriginalDocument)
}

// IsProviderError checks if error is CodeProviderError
func IsProviderError(err error) bool {
	return HasCode(err, CodeProviderError)
}

// IsConcurrentModification checks if error is CodeConcurrentModification
func IsConcurrentModification(err error) bool {
	return HasCode(err, CodeConcurrentModification)
}
