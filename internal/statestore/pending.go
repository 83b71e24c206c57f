package statestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
)

// Pending action stages.
const (
	StageAwaitingParameters   = "awaiting_parameters"
	StageAwaitingConfirmation = "awaiting_confirmation"
	StageResolutionNeeded     = "resolution_needed"
)

// PendingAction is an in-progress multi-turn operation. A workspace holds at most one.
// Data is an action-specific JSON object.
type PendingAction struct {
	WorkspaceID     string          `json:"workspace_id"`
	ActionID        string          `json:"action_id"`
	Kind            string          `json:"kind"`
	Stage           string          `json:"stage"`
	Data            json.RawMessage `json:"data"`
	CreatedAtUnixMs int64           `json:"created_at_unix_ms"`
	UpdatedAtUnixMs int64           `json:"updated_at_unix_ms"`
}

func (s *Store) GetPendingAction(ctx context.Context, workspaceID string) (*PendingAction, error) {
	ctx, err := s.ready(ctx)
	if err != nil {
		return nil, err
	}
	workspaceID = strings.TrimSpace(workspaceID)
	if workspaceID == "" {
		return nil, errors.New("missing workspace_id")
	}

	var p PendingAction
	var data string
	err = s.db.QueryRowContext(ctx, `
SELECT workspace_id, action_id, kind, stage, data_json, created_at_unix_ms, updated_at_unix_ms
FROM pending_actions
WHERE workspace_id = ?
`, workspaceID).Scan(&p.WorkspaceID, &p.ActionID, &p.Kind, &p.Stage, &data, &p.CreatedAtUnixMs, &p.UpdatedAtUnixMs)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	p.Data = json.RawMessage(data)
	return &p, nil
}

// PutPendingAction stores p as the workspace's only pending action, replacing any previous one.
func (s *Store) PutPendingAction(ctx context.Context, p PendingAction) error {
	ctx, err := s.ready(ctx)
	if err != nil {
		return err
	}
	p.WorkspaceID = strings.TrimSpace(p.WorkspaceID)
	p.ActionID = strings.TrimSpace(p.ActionID)
	p.Kind = strings.TrimSpace(p.Kind)
	p.Stage = strings.TrimSpace(p.Stage)
	if p.WorkspaceID == "" || p.ActionID == "" || p.Kind == "" || p.Stage == "" {
		return errors.New("invalid pending action")
	}
	data := strings.TrimSpace(string(p.Data))
	if data == "" {
		data = "{}"
	}
	if !json.Valid([]byte(data)) {
		return errors.New("invalid pending action data")
	}

	now := nowUnixMs()
	_, err = s.db.ExecContext(ctx, `
INSERT INTO pending_actions(workspace_id, action_id, kind, stage, data_json, created_at_unix_ms, updated_at_unix_ms)
VALUES(?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(workspace_id) DO UPDATE SET
  action_id = excluded.action_id,
  kind = excluded.kind,
  stage = excluded.stage,
  data_json = excluded.data_json,
  created_at_unix_ms = excluded.created_at_unix_ms,
  updated_at_unix_ms = excluded.updated_at_unix_ms
`, p.WorkspaceID, p.ActionID, p.Kind, p.Stage, data, now, now)
	return err
}

// DeletePendingAction removes the workspace's pending action, if any.
func (s *Store) DeletePendingAction(ctx context.Context, workspaceID string) error {
	ctx, err := s.ready(ctx)
	if err != nil {
		return err
	}
	workspaceID = strings.TrimSpace(workspaceID)
	if workspaceID == "" {
		return errors.New("missing workspace_id")
	}
	_, err = s.db.ExecContext(ctx, `DELETE FROM pending_actions WHERE workspace_id = ?`, workspaceID)
	return err
}

// DeletePendingActionIf removes the pending action only when it still has the given id,
// so a turn never clears a pending action that a later turn replaced.
func (s *Store) DeletePendingActionIf(ctx context.Context, workspaceID string, actionID string) (bool, error) {
	ctx, err := s.ready(ctx)
	if err != nil {
		return false, err
	}
	workspaceID = strings.TrimSpace(workspaceID)
	actionID = strings.TrimSpace(actionID)
	if workspaceID == "" || actionID == "" {
		return false, errors.New("invalid request")
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM pending_actions WHERE workspace_id = ? AND action_id = ?`, workspaceID, actionID)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}
