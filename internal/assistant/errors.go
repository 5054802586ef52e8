package assistant

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// APIError is a distinguishable failure from the remote service, carrying
// the remote's own message so callers can surface or classify it.
type APIError struct {
	StatusCode int
	Type       string
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("remote service error (status %d): %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("remote service error (status %d)", e.StatusCode)
}

type errorEnvelope struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error"`
}

// ParseErrorResponse parses the remote error envelope from a non-2xx body.
// Returns nil when the body is not the expected shape.
func ParseErrorResponse(statusCode int, body []byte) *APIError {
	var env errorEnvelope
	if err := json.Unmarshal(body, &env); err != nil || env.Error.Message == "" {
		return nil
	}
	return &APIError{
		StatusCode: statusCode,
		Type:       env.Error.Type,
		Code:       env.Error.Code,
		Message:    env.Error.Message,
	}
}

// IsActiveRunConflict reports whether err is the remote's rejection of a
// message append because the thread's current run has not finished
// ("Can't add messages to thread_… while a run run_… is active."). This is
// the one failure the submission guard retries.
func IsActiveRunConflict(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	if apiErr.StatusCode != http.StatusBadRequest {
		return false
	}
	msg := strings.ToLower(apiErr.Message)
	return strings.Contains(msg, "while a run") && strings.Contains(msg, "is active")
}
