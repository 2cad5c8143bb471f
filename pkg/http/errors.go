package http

import (
	"fmt"
	"net/http"
)

// AppError is an error that maps to an HTTP status and a stable code.
type AppError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
	Status  int    `json:"-"`
	Err     error  `json:"-"`
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

// WithError wraps an underlying error.
func (e *AppError) WithError(err error) *AppError {
	e.Err = err
	return e
}

func NotFoundErrorf(format string, a ...interface{}) *AppError {
	return &AppError{Code: "ERR_NOT_FOUND", Message: fmt.Sprintf(format, a...), Status: http.StatusNotFound}
}

func BadRequestErrorf(format string, a ...interface{}) *AppError {
	return &AppError{Code: "ERR_BAD_REQUEST", Message: fmt.Sprintf(format, a...), Status: http.StatusBadRequest}
}

func InternalErrorf(format string, a ...interface{}) *AppError {
	return &AppError{Code: "ERR_INTERNAL", Message: fmt.Sprintf(format, a...), Status: http.StatusInternalServerError}
}

// TooManyRequests is returned by rate limited routes.
func TooManyRequests() *AppError {
	return &AppError{Code: "ERR_RATE_LIMITED", Message: "too many requests", Status: http.StatusTooManyRequests}
}
