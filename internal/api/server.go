// Package api exposes the turn resolver and the workspace file store over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/floegence/repopilot/internal/auditlog"
	"github.com/floegence/repopilot/internal/router"
	"github.com/floegence/repopilot/internal/statestore"
)

// WorkspaceHeader carries the id of the workspace (the owning user) a request acts on.
const WorkspaceHeader = "X-Workspace-ID"

const defaultMaxUploadBytes = 32 << 20

// Router is the subset of *router.Router the HTTP layer drives.
type Router interface {
	ResolveTurn(ctx context.Context, workspaceID string, rawInput string) (router.TurnResult, error)
	Dispatch(ctx context.Context, workspaceID string, intent router.Intent) (router.TurnResult, error)
	Pending(ctx context.Context, workspaceID string) (*statestore.PendingAction, error)
}

// ActionLister reads the action log.
type ActionLister interface {
	List(workspaceID string, limit int) ([]auditlog.Entry, error)
}

// AuthStatus is the client-safe view of the GitHub connection.
type AuthStatus struct {
	GitHubConnected bool   `json:"github_connected"`
	Login           string `json:"login,omitempty"`
	OAuthConfigured bool   `json:"oauth_configured"`
	OAuthClientID   string `json:"oauth_client_id,omitempty"`
	ModelConfigured bool   `json:"model_configured"`
}

// Auth reports and completes the GitHub connection.
type Auth interface {
	Status(ctx context.Context) (AuthStatus, error)
	CompleteOAuth(ctx context.Context, code string) (AuthStatus, error)
}

type Options struct {
	Logger  *slog.Logger
	Addr    string
	Router  Router
	Actions ActionLister
	Auth    Auth
	// MaxUploadBytes caps multipart uploads. Defaults to 32 MiB.
	MaxUploadBytes int64
}

type Server struct {
	log       *slog.Logger
	addr      string
	router    Router
	actions   ActionLister
	auth      Auth
	maxUpload int64

	ln  net.Listener
	srv *http.Server
}

func New(opts Options) (*Server, error) {
	if opts.Router == nil {
		return nil, errors.New("missing Router")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	maxUpload := opts.MaxUploadBytes
	if maxUpload <= 0 {
		maxUpload = defaultMaxUploadBytes
	}
	return &Server{
		log:       logger,
		addr:      strings.TrimSpace(opts.Addr),
		router:    opts.Router,
		actions:   opts.Actions,
		auth:      opts.Auth,
		maxUpload: maxUpload,
	}, nil
}

// Handler returns the routing table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("POST /api/turn", s.handleTurn)
	mux.HandleFunc("GET /api/pending", s.handlePending)
	mux.HandleFunc("GET /api/files", s.handleReadFile)
	mux.HandleFunc("PUT /api/files", s.handleWriteFile)
	mux.HandleFunc("GET /api/tree", s.handleListFiles)
	mux.HandleFunc("POST /api/upload", s.handleUpload)
	mux.HandleFunc("POST /api/mkdir", s.handleMkdir)
	mux.HandleFunc("GET /api/actions", s.handleActions)
	mux.HandleFunc("GET /api/auth/status", s.handleAuthStatus)
	mux.HandleFunc("POST /api/auth/github/callback", s.handleOAuthCallback)
	return s.logRequests(mux)
}

// Start listens on the configured address and serves until ctx is done or Close is called.
func (s *Server) Start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if s.srv != nil {
		return nil
	}
	addr := s.addr
	if addr == "" {
		addr = "127.0.0.1:0"
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	s.ln = ln
	s.srv = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		_ = s.Close()
	}()
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("api server stopped", "error", err)
		}
	}()

	s.log.Info("api listening", "addr", ln.Addr().String())
	return nil
}

// Addr returns the bound address once Start succeeded.
func (s *Server) Addr() string {
	if s == nil || s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

func (s *Server) Close() error {
	if s == nil || s.srv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.srv.Shutdown(ctx)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.log.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"workspace_id", r.Header.Get(WorkspaceHeader),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}
