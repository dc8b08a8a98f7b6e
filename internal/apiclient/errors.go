package apiclient

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	// ErrSessionExpired is returned when a request was rejected as
	// unauthorized and the session could not be recovered. The credential
	// store has been cleared by the time it is returned.
	ErrSessionExpired = errors.New("session expired")

	// ErrUnauthorized matches any *APIError with status 401.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrUnreachable wraps transport failures (DNS, refused, reset, timeout).
	ErrUnreachable = errors.New("api unreachable")
)

// APIError is a non-2xx response from the API.
type APIError struct {
	Status    int
	Message   string
	RequestID string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("API %d: %s", e.Status, http.StatusText(e.Status))
	}
	return fmt.Sprintf("API %d: %s", e.Status, e.Message)
}

// Is lets errors.Is(err, ErrUnauthorized) match 401 responses.
func (e *APIError) Is(target error) bool {
	return target == ErrUnauthorized && e.Status == http.StatusUnauthorized
}

// errorBody covers the two error shapes the server emits:
// {"detail": "..."} and {"error": "..."}.
type errorBody struct {
	Detail json.RawMessage `json:"detail"`
	Error  string          `json:"error"`
}

func parseError(status int, requestID string, body []byte) *APIError {
	apiErr := &APIError{Status: status, RequestID: requestID}

	var eb errorBody
	if json.Unmarshal(body, &eb) == nil {
		if len(eb.Detail) > 0 {
			var s string
			if json.Unmarshal(eb.Detail, &s) == nil {
				apiErr.Message = s
			} else {
				apiErr.Message = string(eb.Detail)
			}
		} else if eb.Error != "" {
			apiErr.Message = eb.Error
		}
	}
	if apiErr.Message == "" {
		apiErr.Message = strings.TrimSpace(string(body))
	}
	return apiErr
}
