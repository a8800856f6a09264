// Package apperror defines the substrate's error-code taxonomy.
//
// Every failure the core substrate can produce maps to one of these codes,
// which handlers translate into the {error, message} HTTP envelope. Codes
// are compared with errors.Is against the sentinel wrapped by Error, never
// by inspecting error message text.
package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

// Code is a stable, machine-checkable error identifier.
type Code string

const (
	CodeValidation          Code = "VALIDATION_ERROR"
	CodeUnauthorized        Code = "UNAUTHORIZED"
	CodeForbidden           Code = "FORBIDDEN"
	CodeNotFound            Code = "NOT_FOUND"
	CodeAlreadyDeleted      Code = "ALREADY_DELETED"
	CodeRateLimited         Code = "RATE_LIMITED"
	CodeConcurrencyConflict Code = "CONCURRENCY_CONFLICT"
	CodeDuplicateEvent      Code = "DUPLICATE_EVENT"
	CodeInvalidEventStream  Code = "INVALID_EVENT_STREAM"
	CodeEventSaveFailed     Code = "EVENT_SAVE_FAILED"
	CodeEventRetrieval      Code = "EVENT_RETRIEVAL_FAILED"
	CodeEventStoreDown      Code = "EVENT_STORE_UNAVAILABLE"
	CodeInternal            Code = "INTERNAL_ERROR"
)

var statusByCode = map[Code]int{
	CodeValidation:          http.StatusBadRequest,
	CodeUnauthorized:        http.StatusUnauthorized,
	CodeForbidden:           http.StatusForbidden,
	CodeNotFound:            http.StatusNotFound,
	CodeAlreadyDeleted:      http.StatusGone,
	CodeRateLimited:         http.StatusTooManyRequests,
	CodeConcurrencyConflict: http.StatusConflict,
	CodeDuplicateEvent:      http.StatusConflict,
	CodeInvalidEventStream:  http.StatusBadRequest,
	CodeEventSaveFailed:     http.StatusInternalServerError,
	CodeEventRetrieval:      http.StatusInternalServerError,
	CodeEventStoreDown:      http.StatusInternalServerError,
	CodeInternal:            http.StatusInternalServerError,
}

// Error is a code-tagged error that wraps the underlying cause.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is allows errors.Is(err, apperror.New(code, "", nil)) style comparisons
// by code alone, ignoring message and cause.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return t.Code == e.Code
	}
	return false
}

// New constructs an Error for the given code.
func New(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Err: cause}
}

// HTTPStatus returns the HTTP status code associated with an error's Code,
// walking the chain with errors.As. Defaults to 500 for untagged errors.
func HTTPStatus(err error) int {
	var e *Error
	if errors.As(err, &e) {
		if status, ok := statusByCode[e.Code]; ok {
			return status
		}
	}
	return http.StatusInternalServerError
}

// CodeOf extracts the Code carried by err, or CodeInternal if untagged.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// Is reports whether err is tagged with code, checked structurally (never
// by string-matching the error message).
func Is(err error, code Code) bool {
	return CodeOf(err) == code
}

// WrapConcurrency builds a CONCURRENCY_CONFLICT error carrying the observed
// vs. expected version, for the event store's optimistic-concurrency check.
func WrapConcurrency(currentVersion, expectedVersion int) *Error {
	return New(CodeConcurrencyConflict,
		fmt.Sprintf("expected version %d but store has %d", expectedVersion, currentVersion), nil)
}

// IsConcurrency reports whether err is a CONCURRENCY_CONFLICT, the only
// retryable outcome of AppendBatch.
func IsConcurrency(err error) bool {
	return Is(err, CodeConcurrencyConflict)
}
