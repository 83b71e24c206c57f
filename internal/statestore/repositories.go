package statestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"sort"
	"strings"
)

type Repository struct {
	RepoID          string   `json:"repo_id"`
	WorkspaceID     string   `json:"workspace_id"`
	Name            string   `json:"name"`
	URL             string   `json:"url"`
	Branch          string   `json:"branch"`
	CurrentBranch   string   `json:"current_branch"`
	Branches        []string `json:"branches"`
	LocalPath       string   `json:"local_path"`
	Cloned          bool     `json:"cloned"`
	LastCommit      string   `json:"last_commit"`
	CreatedAtUnixMs int64    `json:"created_at_unix_ms"`
	UpdatedAtUnixMs int64    `json:"updated_at_unix_ms"`
}

// ErrDuplicateLocalPath is returned when a workspace already tracks a repository at the same local path.
var ErrDuplicateLocalPath = errors.New("repository local path already registered")

const repoColumns = `repo_id, workspace_id, name, url, branch, current_branch, branches_json, local_path, cloned, last_commit, created_at_unix_ms, updated_at_unix_ms`

func (s *Store) CreateRepository(ctx context.Context, r Repository) error {
	ctx, err := s.ready(ctx)
	if err != nil {
		return err
	}
	r.RepoID = strings.TrimSpace(r.RepoID)
	r.WorkspaceID = strings.TrimSpace(r.WorkspaceID)
	r.LocalPath = strings.TrimSpace(r.LocalPath)
	if r.RepoID == "" || r.WorkspaceID == "" || r.LocalPath == "" {
		return errors.New("invalid repository")
	}
	if strings.TrimSpace(r.Branch) == "" {
		r.Branch = "main"
	}
	if strings.TrimSpace(r.CurrentBranch) == "" {
		r.CurrentBranch = r.Branch
	}
	r.Branches = mergeBranches(r.Branches, r.Branch, r.CurrentBranch)
	branchesJSON, err := json.Marshal(r.Branches)
	if err != nil {
		return err
	}

	existing, err := s.GetRepositoryByLocalPath(ctx, r.WorkspaceID, r.LocalPath)
	if err != nil {
		return err
	}
	if existing != nil {
		return ErrDuplicateLocalPath
	}

	now := nowUnixMs()
	_, err = s.db.ExecContext(ctx, `
INSERT INTO repositories(`+repoColumns+`)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`, r.RepoID, r.WorkspaceID, strings.TrimSpace(r.Name), strings.TrimSpace(r.URL), r.Branch, r.CurrentBranch,
		string(branchesJSON), r.LocalPath, boolToInt(r.Cloned), strings.TrimSpace(r.LastCommit), now, now)
	return err
}

func (s *Store) GetRepository(ctx context.Context, workspaceID string, repoID string) (*Repository, error) {
	ctx, err := s.ready(ctx)
	if err != nil {
		return nil, err
	}
	workspaceID = strings.TrimSpace(workspaceID)
	repoID = strings.TrimSpace(repoID)
	if workspaceID == "" || repoID == "" {
		return nil, errors.New("invalid request")
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+repoColumns+` FROM repositories WHERE workspace_id = ? AND repo_id = ?`, workspaceID, repoID)
	return scanRepositoryRow(row)
}

func (s *Store) GetRepositoryByLocalPath(ctx context.Context, workspaceID string, localPath string) (*Repository, error) {
	ctx, err := s.ready(ctx)
	if err != nil {
		return nil, err
	}
	workspaceID = strings.TrimSpace(workspaceID)
	localPath = strings.TrimSpace(localPath)
	if workspaceID == "" || localPath == "" {
		return nil, errors.New("invalid request")
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+repoColumns+` FROM repositories WHERE workspace_id = ? AND local_path = ?`, workspaceID, localPath)
	return scanRepositoryRow(row)
}

// ListRepositories returns the workspace's repositories, most recently updated first.
func (s *Store) ListRepositories(ctx context.Context, workspaceID string) ([]Repository, error) {
	ctx, err := s.ready(ctx)
	if err != nil {
		return nil, err
	}
	workspaceID = strings.TrimSpace(workspaceID)
	if workspaceID == "" {
		return nil, errors.New("missing workspace_id")
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT `+repoColumns+`
FROM repositories
WHERE workspace_id = ?
ORDER BY updated_at_unix_ms DESC, repo_id ASC
`, workspaceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Repository
	for rows.Next() {
		r, err := scanRepository(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// UpdateRepositoryBranches adds branches to the known set and sets the current branch when non-empty.
func (s *Store) UpdateRepositoryBranches(ctx context.Context, workspaceID string, repoID string, add []string, current string) error {
	ctx, err := s.ready(ctx)
	if err != nil {
		return err
	}
	r, err := s.GetRepository(ctx, workspaceID, repoID)
	if err != nil {
		return err
	}
	if r == nil {
		return ErrNotFound
	}
	current = strings.TrimSpace(current)
	if current == "" {
		current = r.CurrentBranch
	}
	branches := mergeBranches(mergeBranches(r.Branches, add...), current)
	b, err := json.Marshal(branches)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
UPDATE repositories SET branches_json = ?, current_branch = ?, updated_at_unix_ms = ?
WHERE workspace_id = ? AND repo_id = ?
`, string(b), current, nowUnixMs(), r.WorkspaceID, r.RepoID)
	return err
}

// UpdateRepositoryAfterPush records the pushed commit and branch.
func (s *Store) UpdateRepositoryAfterPush(ctx context.Context, workspaceID string, repoID string, commit string, branch string) error {
	ctx, err := s.ready(ctx)
	if err != nil {
		return err
	}
	r, err := s.GetRepository(ctx, workspaceID, repoID)
	if err != nil {
		return err
	}
	if r == nil {
		return ErrNotFound
	}
	branch = strings.TrimSpace(branch)
	if branch == "" {
		branch = r.CurrentBranch
	}
	b, err := json.Marshal(mergeBranches(r.Branches, branch))
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
UPDATE repositories
SET last_commit = ?, current_branch = ?, branches_json = ?, cloned = 1, updated_at_unix_ms = ?
WHERE workspace_id = ? AND repo_id = ?
`, strings.TrimSpace(commit), branch, string(b), nowUnixMs(), r.WorkspaceID, r.RepoID)
	return err
}

// UpdateRepositoryRemote rewrites the name and URL after a remote rename or clone.
func (s *Store) UpdateRepositoryRemote(ctx context.Context, workspaceID string, repoID string, name string, url string, cloned bool) error {
	ctx, err := s.ready(ctx)
	if err != nil {
		return err
	}
	workspaceID = strings.TrimSpace(workspaceID)
	repoID = strings.TrimSpace(repoID)
	if workspaceID == "" || repoID == "" {
		return errors.New("invalid request")
	}
	res, err := s.db.ExecContext(ctx, `
UPDATE repositories SET name = ?, url = ?, cloned = ?, updated_at_unix_ms = ?
WHERE workspace_id = ? AND repo_id = ?
`, strings.TrimSpace(name), strings.TrimSpace(url), boolToInt(cloned), nowUnixMs(), workspaceID, repoID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteRepositoryByLocalPath removes the record and clears the workspace's active reference to it.
func (s *Store) DeleteRepositoryByLocalPath(ctx context.Context, workspaceID string, localPath string) (bool, error) {
	ctx, err := s.ready(ctx)
	if err != nil {
		return false, err
	}
	r, err := s.GetRepositoryByLocalPath(ctx, workspaceID, localPath)
	if err != nil {
		return false, err
	}
	if r == nil {
		return false, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM repositories WHERE workspace_id = ? AND repo_id = ?`, r.WorkspaceID, r.RepoID); err != nil {
		return false, err
	}
	if _, err := tx.ExecContext(ctx, `
UPDATE workspaces SET active_repo_id = '', updated_at_unix_ms = ?
WHERE workspace_id = ? AND active_repo_id = ?
`, nowUnixMs(), r.WorkspaceID, r.RepoID); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRepositoryRow(row *sql.Row) (*Repository, error) {
	r, err := scanRepository(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return r, nil
}

func scanRepository(row rowScanner) (*Repository, error) {
	var r Repository
	var branchesJSON string
	var cloned int
	if err := row.Scan(
		&r.RepoID,
		&r.WorkspaceID,
		&r.Name,
		&r.URL,
		&r.Branch,
		&r.CurrentBranch,
		&branchesJSON,
		&r.LocalPath,
		&cloned,
		&r.LastCommit,
		&r.CreatedAtUnixMs,
		&r.UpdatedAtUnixMs,
	); err != nil {
		return nil, err
	}
	r.Cloned = cloned != 0
	if strings.TrimSpace(branchesJSON) != "" {
		if err := json.Unmarshal([]byte(branchesJSON), &r.Branches); err != nil {
			return nil, err
		}
	}
	return &r, nil
}

func mergeBranches(existing []string, add ...string) []string {
	seen := make(map[string]struct{}, len(existing)+len(add))
	out := make([]string, 0, len(existing)+len(add))
	for _, list := range [][]string{existing, add} {
		for _, b := range list {
			b = strings.TrimSpace(b)
			if b == "" {
				continue
			}
			if _, ok := seen[b]; ok {
				continue
			}
			seen[b] = struct{}{}
			out = append(out, b)
		}
	}
	sort.Strings(out)
	return out
}
