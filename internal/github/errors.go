package github

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// RemoteError is a non-2xx GitHub response. It carries GitHub's message only; request
// headers (and therefore the token) never reach it.
type RemoteError struct {
	StatusCode int
	Message    string
	Errors     []ValidationError
}

type ValidationError struct {
	Resource string `json:"resource"`
	Field    string `json:"field"`
	Code     string `json:"code"`
	Message  string `json:"message"`
}

func (e *RemoteError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "github: HTTP %d: %s", e.StatusCode, e.Message)
	for _, v := range e.Errors {
		detail := v.Message
		if detail == "" {
			detail = v.Code
		}
		fmt.Fprintf(&b, "; %s.%s: %s", v.Resource, v.Field, detail)
	}
	return b.String()
}

func parseRemoteError(status int, body []byte) *RemoteError {
	var payload struct {
		Message string            `json:"message"`
		Errors  []ValidationError `json:"errors"`
	}
	_ = json.Unmarshal(body, &payload)
	msg := strings.TrimSpace(payload.Message)
	if msg == "" {
		msg = http.StatusText(status)
	}
	return &RemoteError{StatusCode: status, Message: msg, Errors: payload.Errors}
}

// IsNotFound reports whether err is a 404 from GitHub.
func IsNotFound(err error) bool {
	var rerr *RemoteError
	return errors.As(err, &rerr) && rerr.StatusCode == http.StatusNotFound
}

// IsValidationFailed reports whether err is a 422 from GitHub.
func IsValidationFailed(err error) bool {
	var rerr *RemoteError
	return errors.As(err, &rerr) && rerr.StatusCode == http.StatusUnprocessableEntity
}

// IsUnauthorized reports whether err is a 401 from GitHub.
func IsUnauthorized(err error) bool {
	var rerr *RemoteError
	return errors.As(err, &rerr) && rerr.StatusCode == http.StatusUnauthorized
}
