// Package errors provides structured error types for the cirrus engine.
//
// This package defines error codes and types that enable:
//   - Consistent error handling across the CLI and the orchestration engine
//   - Machine-readable error codes for programmatic handling
//   - Error wrapping with context preservation
//
// Internal components never terminate the process; they return coded
// errors and the CLI boundary decides the exit code.
//
// # Usage
//
//	err := errors.New(errors.ErrCodeUnresolvableParameter, "cannot resolve parameter %q", name)
//	if errors.Is(err, errors.ErrCodeUnresolvableParameter) {
//	    // Handle resolution failure
//	}
//
//	// Wrap existing errors
//	err := errors.Wrap(errors.ErrCodeProvider, origErr, "create stack %s", id)
package errors

import (
	"errors"
	"fmt"
)

// Code represents a machine-readable error code.
type Code string

// Error codes for different error categories.
const (
	// Configuration and template errors, raised before any remote call.
	ErrCodeConfiguration Code = "CONFIGURATION_ERROR"
	ErrCodeTemplateRead  Code = "TEMPLATE_READ_ERROR"

	// Dependency graph errors, raised at graph construction time.
	ErrCodeDuplicateNode    Code = "DUPLICATE_NODE"
	ErrCodeUnknownNode      Code = "UNKNOWN_NODE"
	ErrCodeMutualDependency Code = "MUTUAL_DEPENDENCY"
	ErrCodeDependencyLoop   Code = "DEPENDENCY_LOOP"
	ErrCodeUnmetDependency  Code = "UNMET_DEPENDENCY"

	// Parameter resolution errors.
	ErrCodeUnresolvableParameter Code = "UNRESOLVABLE_PARAMETER"

	// Remote state errors.
	ErrCodeStackNotFound           Code = "STACK_NOT_FOUND"
	ErrCodeStackStatusInconsistent Code = "STACK_STATUS_INCONSISTENT"
	ErrCodeOperationFailed         Code = "OPERATION_FAILED"

	// Provider-side errors surfaced verbatim.
	ErrCodeProvider Code = "PROVIDER_ERROR"
)

// Error is a structured error with a code and optional cause.
type Error struct {
	Code    Code   // Machine-readable error code
	Message string // Human-readable message
	Cause   error  // Underlying error (optional)
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *Error) Unwrap() error {
	return e.Cause
}

// New creates a new Error with the given code and formatted message.
func New(code Code, format string, args ...any) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap creates a new Error wrapping an existing error.
func Wrap(code Code, cause error, format string, args ...any) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Cause:   cause,
	}
}

// Is reports whether err has the given error code.
// It unwraps the error chain looking for an *Error with a matching code.
func Is(err error, code Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// GetCode extracts the error code from an error, if available.
// Returns empty string if the error is not an *Error.
func GetCode(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// UserMessage returns a user-friendly message for the error.
// For *Error types, returns the message without the code prefix.
// For other errors, returns the error string as-is.
func UserMessage(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return err.Error()
}
