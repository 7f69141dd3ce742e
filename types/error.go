package types

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unified error code across the framework.
type ErrorCode string

// Call-path error codes
const (
	// ErrCodeClient marks a remote model call that failed or timed out.
	ErrCodeClient ErrorCode = "CLIENT_ERROR"
	// ErrCodeBackend marks a tool execution failure inside a backend.
	ErrCodeBackend ErrorCode = "BACKEND_ERROR"
	// ErrCodeUnknownTool marks a routing miss for an unregistered tool name.
	ErrCodeUnknownTool ErrorCode = "UNKNOWN_TOOL"
	// ErrCodeDuplicateTool marks a registration conflict. Warning-level:
	// the first registrant keeps the route and the run proceeds.
	ErrCodeDuplicateTool ErrorCode = "DUPLICATE_TOOL"
	// ErrCodeClaimConflict marks a lost claim race. Expected, not exceptional.
	ErrCodeClaimConflict ErrorCode = "CLAIM_CONFLICT"
	// ErrCodeBudgetExceeded marks a token budget policy violation.
	ErrCodeBudgetExceeded ErrorCode = "BUDGET_EXCEEDED"
)

// Configuration error codes
const (
	ErrCodeInvalidConfig ErrorCode = "INVALID_CONFIG"
	ErrCodeAgentNotFound ErrorCode = "AGENT_NOT_FOUND"
	ErrCodeTaskNotFound  ErrorCode = "TASK_NOT_FOUND"
)

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	Retryable bool      `json:"retryable"`
	Cause     error     `json:"-"`
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

// NewErrorf creates a new Error with a formatted message.
func NewErrorf(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}

// GetErrorCode extracts the error code from an error, unwrapping as needed.
func GetErrorCode(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// HasCode reports whether err carries the given error code.
func HasCode(err error, code ErrorCode) bool {
	return GetErrorCode(err) == code
}

// IsClaimConflict reports whether err is a lost claim race.
func IsClaimConflict(err error) bool {
	return HasCode(err, ErrCodeClaimConflict)
}

// IsUnknownTool reports whether err is a tool routing miss.
func IsUnknownTool(err error) bool {
	return HasCode(err, ErrCodeUnknownTool)
}

// IsDuplicateTool reports whether err is a tool registration conflict.
func IsDuplicateTool(err error) bool {
	return HasCode(err, ErrCodeDuplicateTool)
}

// IsBudgetExceeded reports whether err is a token budget violation.
func IsBudgetExceeded(err error) bool {
	return HasCode(err, ErrCodeBudgetExceeded)
}
