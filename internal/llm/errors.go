package llm

import (
	"encoding/json"
	"fmt"
)

// AuthError means the provider rejected our credentials (HTTP 401/403).
type AuthError struct {
	Status int
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("provider rejected credentials (status %d)", e.Status)
}

// RequestError is a transport-level or rate-limit failure worth retrying.
type RequestError struct {
	Status  int
	Message string
}

func (e *RequestError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("request failed (status %d): %s", e.Status, e.Message)
	}
	return fmt.Sprintf("request failed (status %d)", e.Status)
}

// ProviderError is any other provider-side failure.
type ProviderError struct {
	Status  int
	Code    string
	Message string
}

func (e *ProviderError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("provider error (status %d)", e.Status)
}

// statusError maps an HTTP status + body into the error taxonomy.
// The body's error.message is used when parseable.
func statusError(status int, body []byte) error {
	code, message := parseErrorBody(body)
	switch {
	case status == 401 || status == 403:
		return &AuthError{Status: status}
	case status == 429:
		return &RequestError{Status: status, Message: message}
	default:
		return &ProviderError{Status: status, Code: code, Message: message}
	}
}

func parseErrorBody(body []byte) (code, message string) {
	var payload struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", ""
	}
	return payload.Error.Code, payload.Error.Message
}
