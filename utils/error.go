package utils

import (
	"errors"
	"fmt"
)

var ErrorRecordNotFound = errors.New("record not found")

// ErrorKind groups rejected operations so callers can branch without string matching.
type ErrorKind string

const (
	ErrorKindValidation ErrorKind = "validation"
	ErrorKindConflict   ErrorKind = "conflict"
	ErrorKindNotFound   ErrorKind = "not_found"
	ErrorKindInvariant  ErrorKind = "invariant"
)

// AppError carries a stable Reason code next to the human readable Message.
type AppError struct {
	Kind    ErrorKind `json:"kind"`
	Reason  string    `json:"reason"`
	Message string    `json:"message"`
	Err     error     `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func NewAppError(kind ErrorKind, reason string, format string, args ...any) *AppError {
	return &AppError{Kind: kind, Reason: reason, Message: fmt.Sprintf(format, args...)}
}

func ValidationError(reason string, format string, args ...any) *AppError {
	return NewAppError(ErrorKindValidation, reason, format, args...)
}

func ConflictError(reason string, format string, args ...any) *AppError {
	return NewAppError(ErrorKindConflict, reason, format, args...)
}

// NotFoundError wraps ErrorRecordNotFound so errors.Is keeps working for older callers.
func NotFoundError(reason string, format string, args ...any) *AppError {
	e := NewAppError(ErrorKindNotFound, reason, format, args...)
	e.Err = ErrorRecordNotFound
	return e
}

func InvariantError(reason string, format string, args ...any) *AppError {
	return NewAppError(ErrorKindInvariant, reason, format, args...)
}

// AsAppError returns the first AppError in err's chain.
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

func IsErrorKind(err error, kind ErrorKind) bool {
	appErr, ok := AsAppError(err)
	return ok && appErr.Kind == kind
}

// ErrorReason returns the reason code of err, or "" when err is not an AppError.
func ErrorReason(err error) string {
	if appErr, ok := AsAppError(err); ok {
		return appErr.Reason
	}
	return ""
}
