package statestore

import (
	"context"
	"database/sql"
	"errors"
	"strings"
)

type Workspace struct {
	WorkspaceID     string `json:"workspace_id"`
	RootPath        string `json:"root_path"`
	ActiveRepoID    string `json:"active_repo_id"`
	CreatedAtUnixMs int64  `json:"created_at_unix_ms"`
	UpdatedAtUnixMs int64  `json:"updated_at_unix_ms"`
}

// EnsureWorkspace returns the workspace, creating it with rootPath on first use.
// An existing workspace keeps its original root path.
func (s *Store) EnsureWorkspace(ctx context.Context, workspaceID string, rootPath string) (*Workspace, error) {
	ctx, err := s.ready(ctx)
	if err != nil {
		return nil, err
	}
	workspaceID = strings.TrimSpace(workspaceID)
	rootPath = strings.TrimSpace(rootPath)
	if workspaceID == "" {
		return nil, errors.New("missing workspace_id")
	}
	if rootPath == "" {
		return nil, errors.New("missing root_path")
	}

	now := nowUnixMs()
	if _, err := s.db.ExecContext(ctx, `
INSERT INTO workspaces(workspace_id, root_path, active_repo_id, created_at_unix_ms, updated_at_unix_ms)
VALUES(?, ?, '', ?, ?)
ON CONFLICT(workspace_id) DO NOTHING
`, workspaceID, rootPath, now, now); err != nil {
		return nil, err
	}
	return s.GetWorkspace(ctx, workspaceID)
}

func (s *Store) GetWorkspace(ctx context.Context, workspaceID string) (*Workspace, error) {
	ctx, err := s.ready(ctx)
	if err != nil {
		return nil, err
	}
	workspaceID = strings.TrimSpace(workspaceID)
	if workspaceID == "" {
		return nil, errors.New("missing workspace_id")
	}

	var w Workspace
	err = s.db.QueryRowContext(ctx, `
SELECT workspace_id, root_path, active_repo_id, created_at_unix_ms, updated_at_unix_ms
FROM workspaces
WHERE workspace_id = ?
`, workspaceID).Scan(&w.WorkspaceID, &w.RootPath, &w.ActiveRepoID, &w.CreatedAtUnixMs, &w.UpdatedAtUnixMs)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &w, nil
}

// SetActiveRepo points the workspace at repoID. An empty repoID clears the reference.
func (s *Store) SetActiveRepo(ctx context.Context, workspaceID string, repoID string) error {
	ctx, err := s.ready(ctx)
	if err != nil {
		return err
	}
	workspaceID = strings.TrimSpace(workspaceID)
	if workspaceID == "" {
		return errors.New("missing workspace_id")
	}
	res, err := s.db.ExecContext(ctx, `
UPDATE workspaces SET active_repo_id = ?, updated_at_unix_ms = ?
WHERE workspace_id = ?
`, strings.TrimSpace(repoID), nowUnixMs(), workspaceID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ErrNotFound is returned by mutations that target a missing record.
var ErrNotFound = errors.New("record not found")
