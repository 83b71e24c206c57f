// Package auditlog keeps an append-only JSONL record of every action the router dispatched.
package auditlog

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	defaultMaxBytes   = int64(4 << 20) // 4 MiB
	defaultMaxBackups = 3
	defaultListLimit  = 200
	maxListLimit      = 1000

	activeName   = "actions.jsonl"
	rotatePrefix = "actions-"
	rotateSuffix = ".jsonl"
)

const (
	StatusSuccess = "success"
	StatusFailure = "failure"
)

type Entry struct {
	ID          string `json:"id"`
	CreatedAt   string `json:"created_at"`
	WorkspaceID string `json:"workspace_id"`

	// Action is the router action kind, e.g. "push_repo".
	Action string `json:"action"`
	Status string `json:"status"`

	// Error is the user-facing error summary. Never contains credentials.
	Error string `json:"error,omitempty"`

	Detail map[string]any `json:"detail,omitempty"`
}

type Options struct {
	Logger *slog.Logger
	// StateDir is the repopilot state directory (e.g. ~/.repopilot).
	StateDir string
	// MaxBytes is the rotation threshold of the active file. <= 0 uses the default.
	MaxBytes int64
	// MaxBackups is how many rotated files are kept. <= 0 uses the default.
	MaxBackups int
}

type Log struct {
	log *slog.Logger

	dir        string
	activePath string
	maxBytes   int64
	maxBackups int

	mu sync.Mutex
}

func New(opts Options) (*Log, error) {
	stateDir := strings.TrimSpace(opts.StateDir)
	if stateDir == "" {
		return nil, errors.New("missing StateDir")
	}
	dir := filepath.Join(stateDir, "actions")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	maxBytes := opts.MaxBytes
	if maxBytes <= 0 {
		maxBytes = defaultMaxBytes
	}
	maxBackups := opts.MaxBackups
	if maxBackups <= 0 {
		maxBackups = defaultMaxBackups
	}

	activePath := filepath.Join(dir, activeName)
	f, err := os.OpenFile(activePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	_ = f.Close()

	return &Log{
		log:        logger,
		dir:        dir,
		activePath: activePath,
		maxBytes:   maxBytes,
		maxBackups: maxBackups,
	}, nil
}

// Append records e. Failures are logged, never returned: the action already happened.
func (l *Log) Append(e Entry) {
	if l == nil {
		return
	}
	if strings.TrimSpace(e.ID) == "" {
		e.ID = uuid.NewString()
	}
	if strings.TrimSpace(e.CreatedAt) == "" {
		e.CreatedAt = time.Now().UTC().Format(time.RFC3339Nano)
	}
	if strings.TrimSpace(e.Status) == "" {
		e.Status = StatusSuccess
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.OpenFile(l.activePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		l.log.Warn("action log append failed", "error", err)
		return
	}
	enc := json.NewEncoder(f)
	enc.SetEscapeHTML(false)
	encErr := enc.Encode(&e)
	_ = f.Close()
	if encErr != nil {
		l.log.Warn("action log encode failed", "error", encErr)
		return
	}
	l.rotateLocked()
}

// List returns up to limit entries newest first. A non-empty workspaceID filters to that
// workspace.
func (l *Log) List(workspaceID string, limit int) ([]Entry, error) {
	if l == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	workspaceID = strings.TrimSpace(workspaceID)

	l.mu.Lock()
	files := l.filesNewestFirstLocked()
	l.mu.Unlock()

	out := make([]Entry, 0, limit)
	for _, path := range files {
		if len(out) >= limit {
			break
		}
		entries, err := readNewestFirst(path)
		if err != nil {
			l.log.Warn("action log read failed", "path", path, "error", err)
			continue
		}
		for _, e := range entries {
			if workspaceID != "" && e.WorkspaceID != workspaceID {
				continue
			}
			out = append(out, e)
			if len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (l *Log) rotatedLocked() []string {
	ents, err := os.ReadDir(l.dir)
	if err != nil {
		return nil
	}
	var names []string
	for _, ent := range ents {
		if ent.IsDir() {
			continue
		}
		name := ent.Name()
		if strings.HasPrefix(name, rotatePrefix) && strings.HasSuffix(name, rotateSuffix) {
			names = append(names, name)
		}
	}
	// actions-<unix_ns>.jsonl sorts oldest first.
	sort.Strings(names)
	return names
}

func (l *Log) filesNewestFirstLocked() []string {
	paths := []string{l.activePath}
	rotated := l.rotatedLocked()
	for i := len(rotated) - 1; i >= 0; i-- {
		paths = append(paths, filepath.Join(l.dir, rotated[i]))
	}
	return paths
}

func (l *Log) rotateLocked() {
	st, err := os.Stat(l.activePath)
	if err != nil || st.Size() <= l.maxBytes {
		return
	}
	dst := filepath.Join(l.dir, fmt.Sprintf("%s%d%s", rotatePrefix, time.Now().UnixNano(), rotateSuffix))
	if err := os.Rename(l.activePath, dst); err != nil {
		l.log.Warn("action log rotate failed", "error", err)
		return
	}
	if f, err := os.OpenFile(l.activePath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600); err == nil {
		_ = f.Close()
	}
	rotated := l.rotatedLocked()
	if len(rotated) <= l.maxBackups {
		return
	}
	for _, name := range rotated[:len(rotated)-l.maxBackups] {
		_ = os.Remove(filepath.Join(l.dir, name))
	}
}

func readNewestFirst(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	var entries []Entry
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var e Entry
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			continue
		}
		entries = append(entries, e)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	return entries, nil
}
