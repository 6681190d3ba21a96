package errors

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
)

// Claude error types used as AppError codes.
const (
	CodeInvalidRequest = "invalid_request_error"
	CodeAuthentication = "authentication_error"
	CodePermission     = "permission_error"
	CodeNotFound       = "not_found_error"
	CodeRateLimit      = "rate_limit_error"
	CodeAPI            = "api_error"
	CodeOverloaded     = "overloaded_error"
)

// AppError represents a structured application error.
type AppError struct {
	// HTTPStatusCode is the HTTP status code to return.
	HTTPStatusCode int `json:"-"`
	// Code is the Claude error type string.
	Code string `json:"code"`
	// Message is the user-facing error message.
	Message string `json:"message"`
	// Details provides additional error context (optional).
	Details map[string]interface{} `json:"details,omitempty"`
	// Err is the underlying error (not marshaled to JSON).
	Err error `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the underlying error.
func (e *AppError) Unwrap() error {
	return e.Err
}

// ToJSON returns the JSON byte representation of the error.
func (e *AppError) ToJSON() []byte {
	b, _ := json.Marshal(e)
	return b
}

// ToClaudeJSON renders the error in the client protocol's error envelope.
func (e *AppError) ToClaudeJSON() []byte {
	b, _ := json.Marshal(map[string]any{
		"type": "error",
		"error": map[string]string{
			"type":    e.Code,
			"message": e.Message,
		},
	})
	return b
}

// New creates a new AppError.
func New(statusCode int, code, message string, err error) *AppError {
	return &AppError{
		HTTPStatusCode: statusCode,
		Code:           code,
		Message:        message,
		Err:            err,
	}
}

// BadRequest reports a malformed client request.
func BadRequest(message string, err error) *AppError {
	return New(http.StatusBadRequest, CodeInvalidRequest, message, err)
}

// Unauthorized reports a missing or wrong client key.
func Unauthorized(message string) *AppError {
	return New(http.StatusUnauthorized, CodeAuthentication, message, nil)
}

// FromStatus maps an upstream HTTP status onto the matching client error type.
func FromStatus(status int, message string, err error) *AppError {
	code := CodeAPI
	switch status {
	case http.StatusBadRequest, http.StatusUnprocessableEntity, http.StatusRequestEntityTooLarge:
		code = CodeInvalidRequest
	case http.StatusUnauthorized:
		code = CodeAuthentication
	case http.StatusForbidden:
		code = CodePermission
	case http.StatusNotFound:
		code = CodeNotFound
	case http.StatusTooManyRequests:
		code = CodeRateLimit
	case http.StatusServiceUnavailable, 529:
		code = CodeOverloaded
	}
	if status < 400 {
		status = http.StatusBadGateway
	}
	return New(status, code, message, err)
}

// Upstream converts a backend call failure into a client error. Errors that
// carry a status via StatusCode() keep it; deadlines map to 504 and anything
// else to 502.
func Upstream(err error) *AppError {
	var coded interface {
		StatusCode() int
	}
	if stderrors.As(err, &coded) {
		msg := err.Error()
		var described interface{ Message() string }
		if stderrors.As(err, &described) && described.Message() != "" {
			msg = described.Message()
		}
		return FromStatus(coded.StatusCode(), msg, err)
	}
	var timeout interface{ Timeout() bool }
	if stderrors.Is(err, context.DeadlineExceeded) || (stderrors.As(err, &timeout) && timeout.Timeout()) {
		return New(http.StatusGatewayTimeout, CodeAPI, "backend request timed out", err)
	}
	return New(http.StatusBadGateway, CodeAPI, "backend request failed", err)
}
