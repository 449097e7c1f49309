package models

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes shared by every layer of the client.
const (
	CodeNetwork            = "NETWORK_ERROR"
	CodeServer             = "SERVER_ERROR"
	CodeUnauthorized       = "UNAUTHORIZED"
	CodeStorage            = "STORAGE_ERROR"
	CodeInvalidAsset       = "INVALID_ASSET"
	CodeValidation         = "VALIDATION_ERROR"
	CodeNotFound           = "NOT_FOUND"
	CodeForbidden          = "FORBIDDEN"
	CodeInvalidCredentials = "INVALID_CREDENTIALS"
)

// ErrorResponse is the error body the backend sends on rejected requests.
// Older endpoints use "message", newer ones "error".
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// Text returns the human readable part of the body, if any.
func (r ErrorResponse) Text() string {
	if r.Message != "" {
		return r.Message
	}
	return r.Error
}

// AppError represents a custom application error
type AppError struct {
	Code    string
	Message string
	// Status is the HTTP status of the rejected request, zero when no
	// response was received.
	Status int
	Err    error
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

// Predefined error constructors
func NewNetworkError(err error) *AppError {
	return &AppError{
		Code:    CodeNetwork,
		Message: "Could not reach the server. Check your connection and try again",
		Err:     err,
	}
}

// NewServerError builds an error for a rejected request. message comes from
// the response body and may be empty.
func NewServerError(status int, message string) *AppError {
	if message == "" {
		message = fmt.Sprintf("Server error (%d)", status)
	}
	code := CodeServer
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		code = CodeUnauthorized
	case http.StatusNotFound:
		code = CodeNotFound
	}
	return &AppError{Code: code, Message: message, Status: status}
}

func NewUnauthorizedError(message string) *AppError {
	return &AppError{
		Code:    CodeUnauthorized,
		Message: message,
	}
}

func NewInvalidCredentialsError() *AppError {
	return &AppError{
		Code:    CodeInvalidCredentials,
		Message: "Invalid username/email or password",
		Status:  http.StatusUnauthorized,
	}
}

func NewStorageError(op string, err error) *AppError {
	return &AppError{
		Code:    CodeStorage,
		Message: fmt.Sprintf("Local storage %s failed", op),
		Err:     err,
	}
}

func NewValidationError(message string) *AppError {
	return &AppError{
		Code:    CodeValidation,
		Message: message,
	}
}

func NewNotFoundError(resource string, id interface{}) *AppError {
	return &AppError{
		Code:    CodeNotFound,
		Message: fmt.Sprintf("%s with ID %v not found", resource, id),
	}
}

func NewForbiddenError(message string) *AppError {
	return &AppError{
		Code:    CodeForbidden,
		Message: message,
	}
}

func NewInvalidAssetError(raw string) *AppError {
	return &AppError{
		Code:    CodeInvalidAsset,
		Message: fmt.Sprintf("Unrecognized asset URL %q", raw),
	}
}

// CodeOf returns the code of the first AppError in err's chain.
func CodeOf(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code string) bool {
	return err != nil && CodeOf(err) == code
}

// IsAuthFailure reports whether the server rejected the session (401/403).
func IsAuthFailure(err error) bool {
	return IsCode(err, CodeUnauthorized)
}

// IsRetryable reports whether retrying the same request may succeed.
func IsRetryable(err error) bool {
	var appErr *AppError
	if !errors.As(err, &appErr) {
		return false
	}
	return appErr.Code == CodeNetwork || appErr.Status >= http.StatusInternalServerError
}
