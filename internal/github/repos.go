package github

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

type Owner struct {
	Login string `json:"login"`
}

type Repo struct {
	ID            int64  `json:"id"`
	Name          string `json:"name"`
	FullName      string `json:"full_name"`
	Description   string `json:"description"`
	Private       bool   `json:"private"`
	HTMLURL       string `json:"html_url"`
	CloneURL      string `json:"clone_url"`
	DefaultBranch string `json:"default_branch"`
	Language      string `json:"language"`
	UpdatedAt     string `json:"updated_at"`
	Owner         Owner  `json:"owner"`
}

type User struct {
	Login string `json:"login"`
	Name  string `json:"name"`
}

type CreateRepoOptions struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Private     bool   `json:"private"`
	AutoInit    bool   `json:"auto_init"`
}

type UpdateRepoOptions struct {
	Private     *bool
	Description *string
	// AddReadme creates README.md through the contents API. An existing README is left alone.
	AddReadme bool
}

// Viewer returns the authenticated user.
func (c *Client) Viewer(ctx context.Context) (User, error) {
	var u User
	err := c.get(ctx, "/user", &u)
	return u, err
}

func (c *Client) CreateRepo(ctx context.Context, opts CreateRepoOptions) (Repo, error) {
	if strings.TrimSpace(opts.Name) == "" {
		return Repo{}, errors.New("github: missing repository name")
	}
	var r Repo
	err := c.post(ctx, "/user/repos", opts, &r)
	return r, err
}

func (c *Client) RenameRepo(ctx context.Context, owner string, oldName string, newName string) (Repo, error) {
	if strings.TrimSpace(newName) == "" {
		return Repo{}, errors.New("github: missing new repository name")
	}
	var r Repo
	err := c.patch(ctx, repoPath(owner, oldName), map[string]any{"name": newName}, &r)
	return r, err
}

func (c *Client) DeleteRepo(ctx context.Context, owner string, name string) error {
	return c.delete(ctx, repoPath(owner, name))
}

func (c *Client) GetRepo(ctx context.Context, owner string, name string) (Repo, error) {
	var r Repo
	err := c.get(ctx, repoPath(owner, name), &r)
	return r, err
}

// RepoExists maps a 404 to false; any other failure is returned.
func (c *Client) RepoExists(ctx context.Context, owner string, name string) (bool, error) {
	_, err := c.GetRepo(ctx, owner, name)
	if err == nil {
		return true, nil
	}
	if IsNotFound(err) {
		return false, nil
	}
	return false, err
}

const (
	perPage  = 100
	maxPages = 10
)

// ListRepos lists repositories the token can see, most recently updated first.
// A non-empty owner keeps only repositories owned by that login.
func (c *Client) ListRepos(ctx context.Context, owner string) ([]Repo, error) {
	owner = strings.TrimSpace(owner)
	var out []Repo
	for page := 1; page <= maxPages; page++ {
		var batch []Repo
		path := fmt.Sprintf("/user/repos?sort=updated&per_page=%d&page=%d", perPage, page)
		if err := c.get(ctx, path, &batch); err != nil {
			return nil, err
		}
		for _, r := range batch {
			if owner != "" && !strings.EqualFold(r.Owner.Login, owner) {
				continue
			}
			out = append(out, r)
		}
		if len(batch) < perPage {
			break
		}
	}
	return out, nil
}

func (c *Client) UpdateRepo(ctx context.Context, owner string, name string, opts UpdateRepoOptions) (Repo, error) {
	patch := map[string]any{}
	if opts.Private != nil {
		patch["private"] = *opts.Private
	}
	if opts.Description != nil {
		patch["description"] = *opts.Description
	}

	var r Repo
	var err error
	if len(patch) > 0 {
		err = c.patch(ctx, repoPath(owner, name), patch, &r)
	} else {
		r, err = c.GetRepo(ctx, owner, name)
	}
	if err != nil {
		return Repo{}, err
	}

	if opts.AddReadme {
		readme := fmt.Sprintf("# %s\n", name)
		if r.Description != "" {
			readme += "\n" + r.Description + "\n"
		}
		body := map[string]any{
			"message": "Add README",
			"content": base64.StdEncoding.EncodeToString([]byte(readme)),
		}
		if err := c.put(ctx, repoPath(owner, name)+"/contents/README.md", body, nil); err != nil && !IsValidationFailed(err) {
			return Repo{}, err
		}
	}
	return r, nil
}

func repoPath(owner string, name string) string {
	return "/repos/" + url.PathEscape(strings.TrimSpace(owner)) + "/" + url.PathEscape(strings.TrimSpace(name))
}
