package errors

import (
	stderrors "errors"
	"fmt"
)

// AppError represents an application-level error with a code and optional cause
type AppError struct {
	Code    string
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// New creates a new AppError
func New(code, message string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// Newf creates a new AppError with a formatted message and no cause
func Newf(code, format string, args ...interface{}) *AppError {
	return New(code, fmt.Sprintf(format, args...), nil)
}

// CodeOf returns the code of the outermost AppError in err's chain, or "".
func CodeOf(err error) string {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

// Is reports whether any AppError in err's chain carries code.
func Is(err error, code string) bool {
	for err != nil {
		var appErr *AppError
		if !stderrors.As(err, &appErr) {
			return false
		}
		if appErr.Code == code {
			return true
		}
		err = appErr.Cause
	}
	return false
}

// Error codes
const (
	ErrCodeUpstream         = "UPSTREAM_ERROR"
	ErrCodeUnknownTool      = "UNKNOWN_TOOL"
	ErrCodeUnknownFunction  = "UNKNOWN_FUNCTION"
	ErrCodeEndpointNotFound = "ENDPOINT_NOT_FOUND"
	ErrCodeHTTPFailure      = "HTTP_FAILURE"
	ErrCodeInvalidSpec      = "INVALID_SPEC"
	ErrCodeInvalidArguments = "INVALID_ARGUMENTS"
	ErrCodeInvalidInput     = "INVALID_INPUT"
	ErrCodeMaxDepthExceeded = "MAX_DEPTH_EXCEEDED"
	ErrCodePackNotFound     = "PACK_NOT_FOUND"
	ErrCodeSessionNotFound  = "SESSION_NOT_FOUND"
	ErrCodeStoreFailed      = "STORE_FAILED"
	ErrCodeConfigInvalid    = "CONFIG_INVALID"
	ErrCodeAuthFailed       = "AUTH_FAILED"
)
