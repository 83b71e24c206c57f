package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/floegence/repopilot/internal/diff"
	"github.com/floegence/repopilot/internal/fs"
	"github.com/floegence/repopilot/internal/github"
	"github.com/floegence/repopilot/internal/gitsync"
	"github.com/floegence/repopilot/internal/router"
)

type errorResponse struct {
	Error string `json:"error"`
	// Conflict details for 409 responses from file writes.
	CurrentHash string        `json:"current_hash,omitempty"`
	Preview     *diff.Preview `json:"preview,omitempty"`
}

// statusFor maps a domain error to an HTTP status.
func statusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, fs.ErrConflict), errors.Is(err, gitsync.ErrMergeConflict):
		return http.StatusConflict
	case errors.Is(err, fs.ErrPathEscape), errors.Is(err, fs.ErrInvalidWorkspace), errors.Is(err, router.ErrUnsupportedAction):
		return http.StatusBadRequest
	case errors.Is(err, fs.ErrNotFound), errors.Is(err, router.ErrRepositoryNotFound):
		return http.StatusNotFound
	case errors.Is(err, github.ErrNoToken), github.IsUnauthorized(err):
		return http.StatusUnauthorized
	case errors.Is(err, gitsync.ErrBranchSwitchFailed):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	var remote *github.RemoteError
	if errors.As(err, &remote) {
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func errorBody(err error) errorResponse {
	body := errorResponse{Error: router.UserMessage(err)}
	var conflict *fs.ConflictError
	if errors.As(err, &conflict) {
		body.CurrentHash = conflict.CurrentHash
		preview := conflict.Preview
		body.Preview = &preview
	}
	return body
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), errorBody(err))
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorResponse{Error: msg})
}
