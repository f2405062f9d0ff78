package types

import (
	"errors"
	"fmt"
)

// ErrorCode represents a namespaced error code for Hive errors.
type ErrorCode string

// Configuration error codes
const (
	CONFIG_LOAD_FAILED       ErrorCode = "CONFIG_LOAD_FAILED"
	CONFIG_PARSE_FAILED      ErrorCode = "CONFIG_PARSE_FAILED"
	CONFIG_VALIDATION_FAILED ErrorCode = "CONFIG_VALIDATION_FAILED"
)

// Mission store error codes
const (
	STORE_OPEN_FAILED  ErrorCode = "STORE_OPEN_FAILED"
	STORE_QUERY_FAILED ErrorCode = "STORE_QUERY_FAILED"
	STORE_WRITE_FAILED ErrorCode = "STORE_WRITE_FAILED"
)

// HiveError represents a structured error with error code, message, and optional cause.
// It supports error wrapping and retryability hints for error handling logic.
type HiveError struct {
	Code      ErrorCode
	Message   string
	Retryable bool
	Cause     error
}

// Error implements the error interface, returning a formatted error message.
// Format: "[CODE] message" or "[CODE] message: cause" if cause exists.
func (e *HiveError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause error for error unwrapping chains.
func (e *HiveError) Unwrap() error {
	return e.Cause
}

// Is checks if the target error matches this error by error code.
func (e *HiveError) Is(target error) bool {
	var hiveErr *HiveError
	if errors.As(target, &hiveErr) {
		return e.Code == hiveErr.Code
	}
	return false
}

// NewError creates a new non-retryable HiveError with the given code and message.
func NewError(code ErrorCode, message string) *HiveError {
	return &HiveError{
		Code:    code,
		Message: message,
	}
}

// NewRetryableError creates a new retryable HiveError with the given code and message.
// Use this for transient errors that may succeed on retry (e.g., network timeouts).
func NewRetryableError(code ErrorCode, message string) *HiveError {
	return &HiveError{
		Code:      code,
		Message:   message,
		Retryable: true,
	}
}

// WrapError creates a new non-retryable HiveError that wraps an existing error.
func WrapError(code ErrorCode, message string, cause error) *HiveError {
	return &HiveError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// WrapRetryableError creates a new retryable HiveError that wraps an existing error.
func WrapRetryableError(code ErrorCode, message string, cause error) *HiveError {
	return &HiveError{
		Code:      code,
		Message:   message,
		Retryable: true,
		Cause:     cause,
	}
}

// IsRetryable checks if an error is retryable.
// Returns true if the error is a HiveError with Retryable=true.
func IsRetryable(err error) bool {
	var hiveErr *HiveError
	if errors.As(err, &hiveErr) {
		return hiveErr.Retryable
	}
	return false
}

// GetErrorCode extracts the error code from an error.
// Returns an empty string if the error is not a HiveError.
func GetErrorCode(err error) ErrorCode {
	var hiveErr *HiveError
	if errors.As(err, &hiveErr) {
		return hiveErr.Code
	}
	return ""
}
