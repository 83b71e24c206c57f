package statestore

import (
	"context"
	"database/sql"
	"errors"
	"strings"
)

// TrackedFile is the last observed state of one workspace file.
// Hash is the optimistic-concurrency token for writes.
type TrackedFile struct {
	WorkspaceID     string `json:"workspace_id"`
	Path            string `json:"path"`
	Hash            string `json:"hash"`
	Modified        bool   `json:"modified"`
	Selected        bool   `json:"selected"`
	UpdatedAtUnixMs int64  `json:"updated_at_unix_ms"`
}

func (s *Store) GetTrackedFile(ctx context.Context, workspaceID string, path string) (*TrackedFile, error) {
	ctx, err := s.ready(ctx)
	if err != nil {
		return nil, err
	}
	workspaceID = strings.TrimSpace(workspaceID)
	path = strings.TrimSpace(path)
	if workspaceID == "" || path == "" {
		return nil, errors.New("invalid request")
	}

	var f TrackedFile
	var modified, selected int
	err = s.db.QueryRowContext(ctx, `
SELECT workspace_id, path, hash, modified, selected, updated_at_unix_ms
FROM tracked_files
WHERE workspace_id = ? AND path = ?
`, workspaceID, path).Scan(&f.WorkspaceID, &f.Path, &f.Hash, &modified, &selected, &f.UpdatedAtUnixMs)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	f.Modified = modified != 0
	f.Selected = selected != 0
	return &f, nil
}

// UpsertTrackedFile creates or replaces the record. An empty Hash keeps the stored hash,
// which lets directory listings refresh timestamps without touching the token.
func (s *Store) UpsertTrackedFile(ctx context.Context, f TrackedFile) error {
	ctx, err := s.ready(ctx)
	if err != nil {
		return err
	}
	f.WorkspaceID = strings.TrimSpace(f.WorkspaceID)
	f.Path = strings.TrimSpace(f.Path)
	if f.WorkspaceID == "" || f.Path == "" {
		return errors.New("invalid tracked file")
	}

	_, err = s.db.ExecContext(ctx, `
INSERT INTO tracked_files(workspace_id, path, hash, modified, selected, updated_at_unix_ms)
VALUES(?, ?, ?, ?, ?, ?)
ON CONFLICT(workspace_id, path) DO UPDATE SET
  hash = CASE WHEN excluded.hash = '' THEN tracked_files.hash ELSE excluded.hash END,
  modified = excluded.modified,
  selected = excluded.selected,
  updated_at_unix_ms = excluded.updated_at_unix_ms
`, f.WorkspaceID, f.Path, strings.TrimSpace(f.Hash), boolToInt(f.Modified), boolToInt(f.Selected), nowUnixMs())
	return err
}

// TouchTrackedFile records that a file exists without changing its hash or flags.
func (s *Store) TouchTrackedFile(ctx context.Context, workspaceID string, path string) error {
	ctx, err := s.ready(ctx)
	if err != nil {
		return err
	}
	workspaceID = strings.TrimSpace(workspaceID)
	path = strings.TrimSpace(path)
	if workspaceID == "" || path == "" {
		return errors.New("invalid request")
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO tracked_files(workspace_id, path, hash, modified, selected, updated_at_unix_ms)
VALUES(?, ?, '', 0, 0, ?)
ON CONFLICT(workspace_id, path) DO UPDATE SET updated_at_unix_ms = excluded.updated_at_unix_ms
`, workspaceID, path, nowUnixMs())
	return err
}
