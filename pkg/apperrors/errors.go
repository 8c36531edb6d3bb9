package apperrors

import (
	"errors"
	"fmt"
)

// AppError carries a machine-readable code alongside a human-readable
// message. The wrapped cause never reaches API responses.
type AppError struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
	Cause   error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *AppError) Unwrap() error { return e.Cause }

func New(code Code, message string) error {
	return &AppError{Code: code, Message: message}
}

func Wrap(code Code, message string, cause error) error {
	return &AppError{Code: code, Message: message, Cause: cause}
}

func InvalidArgument(message string) error {
	return New(CodeInvalidArgument, message)
}

func Conflict(message string) error {
	return New(CodeConflict, message)
}

func NotFound(message string) error {
	return New(CodeNotFound, message)
}

func Unauthenticated(message string) error {
	return New(CodeUnauthenticated, message)
}

func Internal(message string) error {
	return New(CodeInternal, message)
}

// CodeOf extracts the application code from err, walking the wrap chain.
func CodeOf(err error) Code {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeUnknown
}

// MessageOf returns the user-facing message, falling back when err is
// not an AppError so internals never leak verbatim.
func MessageOf(err error, fallback string) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return fallback
}
