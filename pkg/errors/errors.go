package errors

import (
	"errors"
	"fmt"
)

// Standard error codes shared across the library's packages.
const (
	CodeNotFound            = "NOT_FOUND"
	CodeInvalidArgument     = "INVALID_ARGUMENT"
	CodeInternal            = "INTERNAL"
	CodeConflict            = "CONFLICT"
	CodeValidation          = "VALIDATION"
	CodeDisposed            = "DISPOSED"
	CodeConcurrencyRejected = "CONCURRENCY_REJECTED"
)

// AppError is the standard structured error used across the library.
// It carries a stable, machine-checkable Code, a human-readable Message,
// and an optional wrapped cause.
type AppError struct {
	Code    string
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the wrapped cause for errors.Is/errors.As chains.
func (e *AppError) Unwrap() error {
	return e.Cause
}

// New creates an AppError with the given code, message and optional cause.
func New(code, message string, cause error) *AppError {
	return &AppError{Code: code, Message: message, Cause: cause}
}

// Wrap attaches context to an existing error without losing its identity.
// If err is already an *AppError, its code is preserved; otherwise the
// result is tagged CodeInternal.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	var ae *AppError
	if errors.As(err, &ae) {
		return New(ae.Code, message+": "+ae.Message, ae.Cause)
	}
	return New(CodeInternal, message, err)
}

// Is reports whether target matches err or any error in its chain, by code
// when both are *AppError, falling back to stdlib errors.Is otherwise.
func Is(err, target error) bool {
	var ae, at *AppError
	if errors.As(err, &ae) && errors.As(target, &at) {
		return ae.Code == at.Code
	}
	return errors.Is(err, target)
}

// As delegates to the standard library for chain unwrapping.
func As(err error, target any) bool {
	return errors.As(err, target)
}

// Code returns the AppError code for err, or "" if err is not an AppError.
func Code(err error) string {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae.Code
	}
	return ""
}

// NotFound creates a CodeNotFound AppError.
func NotFound(message string, cause error) *AppError {
	return New(CodeNotFound, message, cause)
}

// InvalidArgument creates a CodeInvalidArgument AppError.
func InvalidArgument(message string, cause error) *AppError {
	return New(CodeInvalidArgument, message, cause)
}

// Internal creates a CodeInternal AppError.
func Internal(message string, cause error) *AppError {
	return New(CodeInternal, message, cause)
}

// Conflict creates a CodeConflict AppError.
func Conflict(message string, cause error) *AppError {
	return New(CodeConflict, message, cause)
}

// Validation creates a CodeValidation AppError, used for fatal construction-time
// option validation failures.
func Validation(message string, cause error) *AppError {
	return New(CodeValidation, message, cause)
}

// Disposed creates a CodeDisposed AppError, returned when a method is called
// on a component after it has been torn down.
func Disposed(message string) *AppError {
	return New(CodeDisposed, message, nil)
}

// ConcurrencyRejected creates a CodeConcurrencyRejected AppError, returned
// when an admission gate denies entry (no free capacity, or queue is full).
func ConcurrencyRejected(reason string) *AppError {
	return New(CodeConcurrencyRejected, reason, nil)
}
