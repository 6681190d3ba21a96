package executor

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"
)

// StatusError is a non-2xx reply from the backend.
type StatusError struct {
	code int
	msg  string
}

// NewStatusError builds a StatusError for code with body msg.
func NewStatusError(code int, msg string) StatusError {
	return StatusError{code: code, msg: msg}
}

func (e StatusError) Error() string {
	if e.msg == "" {
		return fmt.Sprintf("backend returned status %d", e.code)
	}
	return fmt.Sprintf("backend returned status %d: %s", e.code, e.msg)
}

// StatusCode returns the HTTP status of the backend reply.
func (e StatusError) StatusCode() int { return e.code }

// Message returns the backend's error message, unwrapping the usual
// {"error":{"message":...}} envelope when present.
func (e StatusError) Message() string {
	if m := gjson.Get(e.msg, "error.message").String(); m != "" {
		return m
	}
	if m := gjson.Get(e.msg, "message").String(); m != "" {
		return m
	}
	return strings.TrimSpace(e.msg)
}

// retryable reports whether a direct call may be attempted again.
func retryable(err error) bool {
	var se StatusError
	if errors.As(err, &se) {
		return se.code >= http.StatusInternalServerError || se.code == http.StatusTooManyRequests
	}
	return err != nil
}

func summarizeErrorBody(contentType string, body []byte) string {
	if strings.Contains(contentType, "json") {
		if m := gjson.GetBytes(body, "error.message").String(); m != "" {
			return m
		}
	}
	const max = 512
	if len(body) > max {
		return string(body[:max]) + "..."
	}
	return string(body)
}
