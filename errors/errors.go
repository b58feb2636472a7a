package errors

import (
	"context"
	"errors"
	"fmt"
)

// ErrorCode represents a unique error code
type ErrorCode string

const (
	// General errors
	ErrCodeUnknown       ErrorCode = "UNKNOWN"
	ErrCodeInvalidInput  ErrorCode = "INVALID_INPUT"
	ErrCodeInvalidConfig ErrorCode = "INVALID_CONFIG"
	ErrCodeNotFound      ErrorCode = "NOT_FOUND"
	ErrCodeUnsupported   ErrorCode = "UNSUPPORTED"

	// Call lifecycle
	ErrCodeCanceled ErrorCode = "CANCELED"
	ErrCodeShutdown ErrorCode = "SHUTDOWN"

	// Backing service errors
	ErrCodeBackend       ErrorCode = "BACKEND_ERROR"
	ErrCodeBackendStatus ErrorCode = "BACKEND_STATUS"
	ErrCodeBackendDecode ErrorCode = "BACKEND_DECODE"

	// Storage errors
	ErrCodeAuditFailed ErrorCode = "AUDIT_FAILED"
)

// AppError represents a structured application error
type AppError struct {
	Code    ErrorCode
	Message string
	Err     error
	Context map[string]any
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the wrapped error
func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new application error
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Context: make(map[string]any),
	}
}

// Wrap wraps an existing error with code and message
func Wrap(err error, code ErrorCode, message string) *AppError {
	if err == nil {
		return nil
	}
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
		Context: make(map[string]any),
	}
}

// Wrapf wraps an error with formatted message
func Wrapf(err error, code ErrorCode, format string, args ...any) *AppError {
	if err == nil {
		return nil
	}
	return Wrap(err, code, fmt.Sprintf(format, args...))
}

// WithContext adds context to the error
func (e *AppError) WithContext(key string, value any) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// GetCode returns the error code from an error if it's an AppError
func GetCode(err error) ErrorCode {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrCodeUnknown
}

// GetMessage returns the error message
func GetMessage(err error) string {
	if err == nil {
		return ""
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return err.Error()
}

// Is checks if error is of specific type
func Is(err error, code ErrorCode) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// IsCanceled reports whether err is a cancellation of the caller's own
// call, including an enqueue refused because the process is stopping.
func IsCanceled(err error) bool {
	if err == nil {
		return false
	}
	switch GetCode(err) {
	case ErrCodeCanceled, ErrCodeShutdown:
		return true
	}
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// Common error constructors
func InvalidInput(msg string) *AppError {
	return New(ErrCodeInvalidInput, msg)
}

func InvalidConfig(msg string) *AppError {
	return New(ErrCodeInvalidConfig, msg)
}

func NotFound(what string) *AppError {
	return New(ErrCodeNotFound, what+" not found")
}

// Canceled wraps the context error that ended a call.
func Canceled(operation string, cause error) *AppError {
	if cause == nil {
		cause = context.Canceled
	}
	return Wrap(cause, ErrCodeCanceled, operation+" canceled")
}

// Shutdown reports an enqueue attempted after the mailbox closed.
func Shutdown(operation string) *AppError {
	return New(ErrCodeShutdown, operation+" refused: shutting down")
}

// BackendStatus reports a non-success HTTP status from the backing service.
func BackendStatus(operation string, status int, body string) *AppError {
	return New(ErrCodeBackendStatus, fmt.Sprintf("%s: unexpected status %d", operation, status)).
		WithContext("status", status).
		WithContext("body", body)
}

// BackendFailed wraps a transport failure of the backing service.
func BackendFailed(operation string, err error) *AppError {
	return Wrap(err, ErrCodeBackend, operation+" failed")
}

// BackendDecode wraps a response decoding failure.
func BackendDecode(operation string, err error) *AppError {
	return Wrap(err, ErrCodeBackendDecode, operation+": invalid response body")
}

// StatusCode returns the HTTP status carried by a BackendStatus error, or 0.
func StatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) && appErr.Code == ErrCodeBackendStatus {
		if s, ok := appErr.Context["status"].(int); ok {
			return s
		}
	}
	return 0
}
