package common

import (
	"errors"
	"fmt"
	"strings"
)

// ErrVersionConflict signals that a version-checked store update observed a
// concurrent writer. Callers retry the whole operation with fresh state.
var ErrVersionConflict = errors.New("version conflict")

// ErrNotFound signals that the requested record does not exist.
var ErrNotFound = errors.New("not found")

// AppError represents an error with an attached code and HTTP status.
type AppError struct {
	Code       string
	Message    string
	HTTPStatus int
	Err        error
	Details    any
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Message
}

// Unwrap allows errors.Is/As to inspect the underlying error.
func (e *AppError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewAppError constructs an AppError.
func NewAppError(code, message string, status int, err error) *AppError {
	return &AppError{Code: code, Message: message, HTTPStatus: status, Err: err}
}

// IsAppError checks whether the error is an AppError.
func IsAppError(err error) bool {
	var target *AppError
	return errors.As(err, &target)
}

// FieldError pairs an offending field with a human readable message.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// FieldErrors accumulates field-level validation failures so a caller gets
// every applicable problem in one response instead of the first one found.
type FieldErrors []FieldError

// Add appends a failure for the named field.
func (f *FieldErrors) Add(field, message string) {
	*f = append(*f, FieldError{Field: field, Message: message})
}

// Addf appends a failure with a formatted message.
func (f *FieldErrors) Addf(field, format string, args ...any) {
	f.Add(field, fmt.Sprintf(format, args...))
}

// Empty reports whether any failure was recorded.
func (f FieldErrors) Empty() bool {
	return len(f) == 0
}

// Error implements the error interface.
func (f FieldErrors) Error() string {
	if len(f) == 0 {
		return "validation passed"
	}
	parts := make([]string, 0, len(f))
	for _, fe := range f {
		parts = append(parts, fe.Field+": "+fe.Message)
	}
	return strings.Join(parts, "; ")
}

// AsFieldErrors extracts accumulated validation failures from an error chain.
func AsFieldErrors(err error) (FieldErrors, bool) {
	var target FieldErrors
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}
