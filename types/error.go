package types

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unified error code across the streaming core.
type ErrorCode string

// Orchestrator error codes
const (
	CodeSessionBusy      ErrorCode = "SESSION_BUSY"
	CodeCapacityExceeded ErrorCode = "CAPACITY_EXCEEDED"
	CodeProviderFailure  ErrorCode = "PROVIDER_FAILURE"
	CodeCancelled        ErrorCode = "CANCELLED"
	CodeShuttingDown     ErrorCode = "SHUTTING_DOWN"
)

// Collaborator error codes
const (
	CodeStoreFailure ErrorCode = "STORE_FAILURE"
	CodeInvalidInput ErrorCode = "INVALID_INPUT"
)

// Error represents a structured error with code, message, and cause.
type Error struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Cause   error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WrapError creates a new Error with the given code, message, and cause.
func WrapError(code ErrorCode, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// Sentinel errors reported synchronously by SendMessage. Both are
// non-fatal: the caller surfaces them to the user and retries later.
var (
	ErrSessionBusy      = NewError(CodeSessionBusy, "a stream is already active for this session")
	ErrCapacityExceeded = NewError(CodeCapacityExceeded, "maximum concurrent streams reached")
	ErrShuttingDown     = NewError(CodeShuttingDown, "orchestrator is shutting down")
)

// GetErrorCode extracts the error code from an error, unwrapping as
// needed.
func GetErrorCode(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsCode reports whether err carries the given error code.
func IsCode(err error, code ErrorCode) bool {
	return GetErrorCode(err) == code
}
