package common

import (
	"errors"
	"fmt"
)

// AppError represents application-specific errors
type AppError struct {
	Code    string
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Error codes surfaced in logs and AppError.Code.
const (
	CodeNotFound     = "NOT_FOUND"
	CodeDecodeError  = "DECODE_ERROR"
	CodeIOError      = "IO_ERROR"
	CodeStorageFault = "STORAGE_FAULT"
	CodeSensorFault  = "SENSOR_FAULT"
	CodeConfigError  = "CONFIG_ERROR"
	CodeValidation   = "VALIDATION_ERROR"
)

// Common application errors
var (
	ErrNotFound     = errors.New("resource not found")
	ErrDecode       = errors.New("image decode failed")
	ErrIO           = errors.New("i/o error")
	ErrStorage      = errors.New("storage fault")
	ErrSensor       = errors.New("sensor fault")
	ErrInvalidInput = errors.New("invalid input")
	ErrValidation   = errors.New("validation failed")
)

// Error constructors
func NewAppError(code, message string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// StorageFault wraps a job store failure so that errors.Is(err, ErrStorage) holds.
func StorageFault(op string, err error) error {
	if err == nil {
		return nil
	}
	return NewAppError(CodeStorageFault, op, fmt.Errorf("%w: %w", ErrStorage, err))
}

// InvalidInputError reports a rejected argument.
func InvalidInputError(message string) error {
	return NewAppError(CodeValidation, message, ErrInvalidInput)
}

func InvalidInputErrorf(format string, args ...interface{}) error {
	return InvalidInputError(fmt.Sprintf(format, args...))
}

// CodeOf returns the AppError code in err's chain, or "" if there is none.
func CodeOf(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}
