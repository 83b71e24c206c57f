package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/floegence/repopilot/internal/diff"
	"github.com/floegence/repopilot/internal/router"
)

const (
	maxJSONBody       = 8 << 20
	defaultActionPage = 50
	maxActionPage     = 500
)

func workspaceID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := strings.TrimSpace(r.Header.Get(WorkspaceHeader))
	if id == "" {
		badRequest(w, "missing "+WorkspaceHeader+" header")
		return "", false
	}
	return id, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody))
	if err := dec.Decode(v); err != nil {
		badRequest(w, "invalid json")
		return false
	}
	return true
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type turnRequest struct {
	Text string `json:"text"`
}

type turnResponse struct {
	router.TurnResult
	Error string `json:"error,omitempty"`
	// Conflict details when a write in the turn hit a stale hash.
	CurrentHash string        `json:"current_hash,omitempty"`
	Preview     *diff.Preview `json:"preview,omitempty"`
}

// handleTurn always answers with the turn result; the status code reflects a failed action.
func (s *Server) handleTurn(w http.ResponseWriter, r *http.Request) {
	ws, ok := workspaceID(w, r)
	if !ok {
		return
	}
	var req turnRequest
	if !decodeBody(w, r, &req) {
		return
	}
	res, err := s.router.ResolveTurn(r.Context(), ws, req.Text)
	out := turnResponse{TurnResult: res}
	if err != nil {
		out.Error = res.Message
		body := errorBody(err)
		out.CurrentHash, out.Preview = body.CurrentHash, body.Preview
		writeJSON(w, statusFor(err), out)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handlePending(w http.ResponseWriter, r *http.Request) {
	ws, ok := workspaceID(w, r)
	if !ok {
		return
	}
	p, err := s.router.Pending(r.Context(), ws)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"pending": p})
}

func (s *Server) dispatch(w http.ResponseWriter, r *http.Request, intent router.Intent) (router.TurnResult, bool) {
	ws, ok := workspaceID(w, r)
	if !ok {
		return router.TurnResult{}, false
	}
	res, err := s.router.Dispatch(r.Context(), ws, intent)
	if err != nil {
		writeError(w, err)
		return router.TurnResult{}, false
	}
	return res, true
}

func (s *Server) handleReadFile(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimSpace(r.URL.Query().Get("path"))
	if path == "" {
		badRequest(w, "missing path")
		return
	}
	res, ok := s.dispatch(w, r, router.Intent{Action: router.KindReadFile, Params: router.Params{Path: path}})
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type writeFileRequest struct {
	Path         string  `json:"path"`
	Content      *string `json:"content"`
	ExpectedHash string  `json:"expected_hash"`
}

func (s *Server) handleWriteFile(w http.ResponseWriter, r *http.Request) {
	var req writeFileRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Path) == "" || req.Content == nil {
		badRequest(w, "path and content are required")
		return
	}
	res, ok := s.dispatch(w, r, router.Intent{
		Action: router.KindWriteFile,
		Params: router.Params{Path: req.Path, Content: req.Content, ExpectedHash: req.ExpectedHash},
	})
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleListFiles(w http.ResponseWriter, r *http.Request) {
	res, ok := s.dispatch(w, r, router.Intent{
		Action: router.KindListFiles,
		Params: router.Params{Path: r.URL.Query().Get("path")},
	})
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleUpload accepts a multipart form with a "file" part and an optional "target_dir" field.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if _, ok := workspaceID(w, r); !ok {
		return
	}
	if r.ContentLength > s.maxUpload {
		writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Error: "upload too large"})
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)
	if err := r.ParseMultipartForm(s.maxUpload); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Error: "upload too large"})
			return
		}
		badRequest(w, "invalid multipart form")
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, header, err := r.FormFile("file")
	if err != nil {
		badRequest(w, "missing file")
		return
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		badRequest(w, "unreadable file")
		return
	}
	if data == nil {
		data = []byte{}
	}
	res, ok := s.dispatch(w, r, router.Intent{
		Action: router.KindUploadFile,
		Params: router.Params{Filename: header.Filename, Data: data, TargetDir: r.FormValue("target_dir")},
	})
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type mkdirRequest struct {
	Path string `json:"path"`
}

func (s *Server) handleMkdir(w http.ResponseWriter, r *http.Request) {
	var req mkdirRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Path) == "" {
		badRequest(w, "missing path")
		return
	}
	res, ok := s.dispatch(w, r, router.Intent{Action: router.KindMkdir, Params: router.Params{Path: req.Path}})
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleActions(w http.ResponseWriter, r *http.Request) {
	ws, ok := workspaceID(w, r)
	if !ok {
		return
	}
	if s.actions == nil {
		writeJSON(w, http.StatusOK, map[string]any{"actions": []any{}})
		return
	}
	limit := defaultActionPage
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			badRequest(w, "invalid limit")
			return
		}
		limit = min(n, maxActionPage)
	}
	entries, err := s.actions.List(ws, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"actions": entries})
}

func (s *Server) handleAuthStatus(w http.ResponseWriter, r *http.Request) {
	if s.auth == nil {
		writeJSON(w, http.StatusOK, AuthStatus{})
		return
	}
	st, err := s.auth.Status(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

type oauthCallbackRequest struct {
	Code string `json:"code"`
}

func (s *Server) handleOAuthCallback(w http.ResponseWriter, r *http.Request) {
	if s.auth == nil {
		writeJSON(w, http.StatusNotImplemented, errorResponse{Error: "GitHub sign-in is not configured"})
		return
	}
	var req oauthCallbackRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Code) == "" {
		badRequest(w, "missing code")
		return
	}
	st, err := s.auth.CompleteOAuth(r.Context(), req.Code)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}
