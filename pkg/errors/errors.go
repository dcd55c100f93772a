package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unique error code
type ErrorCode int

// Common error codes
const (
	ErrNotFound ErrorCode = iota + 1000
	ErrValidation
	ErrUnauthorized
	ErrRateLimit
	ErrInternal
	ErrUnavailable
)

// QuotaDetails carries the numbers behind a rate-limit rejection so the
// client can render remaining capacity.
type QuotaDetails struct {
	Limit    int64 `json:"limit"`
	Used     int64 `json:"used"`
	Required int64 `json:"required"`
}

// AppError represents an application error
type AppError struct {
	Code    ErrorCode     `json:"code"`
	Message string        `json:"message"`
	Quota   *QuotaDetails `json:"quota,omitempty"`
	Err     error         `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func NewNotFound(resource string, err error) *AppError {
	return &AppError{
		Code:    ErrNotFound,
		Message: fmt.Sprintf("%s not found", resource),
		Err:     err,
	}
}

func NewValidation(message string) *AppError {
	return &AppError{
		Code:    ErrValidation,
		Message: message,
	}
}

func NewRateLimit(message string, details QuotaDetails) *AppError {
	return &AppError{
		Code:    ErrRateLimit,
		Message: message,
		Quota:   &details,
	}
}

func NewInternal(err error) *AppError {
	return &AppError{
		Code:    ErrInternal,
		Message: "internal server error",
		Err:     err,
	}
}

func NewUnavailable(dependency string, err error) *AppError {
	return &AppError{
		Code:    ErrUnavailable,
		Message: fmt.Sprintf("%s is unavailable", dependency),
		Err:     err,
	}
}

func Unauthorized(err error) *AppError {
	return &AppError{
		Code:    ErrUnauthorized,
		Message: "unauthorized",
		Err:     err,
	}
}

// Is* helpers let callers branch on the taxonomy without reaching into codes.

func IsNotFound(err error) bool     { return hasCode(err, ErrNotFound) }
func IsValidation(err error) bool   { return hasCode(err, ErrValidation) }
func IsRateLimit(err error) bool    { return hasCode(err, ErrRateLimit) }
func IsUnauthorized(err error) bool { return hasCode(err, ErrUnauthorized) }

func hasCode(err error, code ErrorCode) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}
