package errors

import (
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/smallnest/releasedash/internal/logger"
	"go.uber.org/zap"
)

// ErrorHandler provides centralized error handling
type ErrorHandler struct {
	logger *zap.Logger
}

// NewErrorHandler creates a new error handler
func NewErrorHandler() *ErrorHandler {
	return &ErrorHandler{
		logger: logger.L(),
	}
}

// Handle logs err at a level chosen by its code.
func (h *ErrorHandler) Handle(err error, fields ...zap.Field) {
	if err == nil {
		return
	}

	code := GetCode(err)
	msg := GetMessage(err)
	fields = append([]zap.Field{zap.String("code", string(code)), zap.String("message", msg)}, fields...)

	switch code {
	case ErrCodeInvalidInput, ErrCodeNotFound:
		h.logger.Debug("User error", fields...)
	case ErrCodeCanceled, ErrCodeShutdown:
		h.logger.Info("Call canceled", fields...)
	case ErrCodeInvalidConfig:
		h.logWithStack("Critical error", err, fields...)
	default:
		h.logWithError("Operation failed", err, fields...)
	}
}

// Handlef handles an error with formatted message
func (h *ErrorHandler) Handlef(err error, format string, args ...any) {
	if err == nil {
		return
	}
	h.logger.Error(fmt.Sprintf(format, args...),
		zap.String("error_code", string(GetCode(err))),
		zap.String("error_message", GetMessage(err)),
		zap.Error(err))
}

// Recover handles panics and converts to errors
func (h *ErrorHandler) Recover(operation string) error {
	if r := recover(); r != nil {
		h.logger.Error("Panic recovered",
			zap.String("operation", operation),
			zap.Any("recover", r),
			zap.String("stack", string(debug.Stack())))
		return New(ErrCodeUnknown, fmt.Sprintf("panic in %s", operation))
	}
	return nil
}

func (h *ErrorHandler) logWithError(message string, err error, fields ...zap.Field) {
	var appErr *AppError
	if errors.As(err, &appErr) && len(appErr.Context) > 0 {
		fields = append(fields, zap.Any("context", appErr.Context))
	}
	h.logger.Error(message, append(fields, zap.Error(err))...)
}

func (h *ErrorHandler) logWithStack(message string, err error, fields ...zap.Field) {
	fields = append(fields, zap.Error(err), zap.String("stack", string(debug.Stack())))
	h.logger.Error(message, fields...)
}

// HTTPStatus maps an error code to the status returned by the gateway.
func HTTPStatus(err error) int {
	switch GetCode(err) {
	case ErrCodeInvalidInput:
		return http.StatusBadRequest
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeUnsupported:
		return http.StatusNotImplemented
	case ErrCodeCanceled, ErrCodeShutdown:
		return http.StatusServiceUnavailable
	case ErrCodeBackend, ErrCodeBackendStatus, ErrCodeBackendDecode:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// GetUserMessage returns a user-friendly error message
func GetUserMessage(err error) string {
	if err == nil {
		return ""
	}

	messages := map[ErrorCode]string{
		ErrCodeInvalidInput:  "The input provided is invalid. Please check and try again.",
		ErrCodeInvalidConfig: "Configuration error. Please check your settings.",
		ErrCodeNotFound:      "The requested resource was not found.",
		ErrCodeCanceled:      "The request was canceled before a response arrived.",
		ErrCodeShutdown:      "The dashboard is shutting down.",
		ErrCodeBackend:       "The release service could not be reached.",
		ErrCodeBackendStatus: "The release service rejected the request.",
		ErrCodeBackendDecode: "The release service returned an unexpected response.",
		ErrCodeAuditFailed:   "The audit log is unavailable.",
	}

	if userMsg, ok := messages[GetCode(err)]; ok {
		return userMsg
	}
	if msg := GetMessage(err); msg != "" {
		return msg
	}
	return "An unexpected error occurred. Please try again."
}
