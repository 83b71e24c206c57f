package github

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

type Branch struct {
	Name      string `json:"name"`
	Protected bool   `json:"protected"`
	Commit    struct {
		SHA string `json:"sha"`
	} `json:"commit"`
}

type Ref struct {
	Ref    string `json:"ref"`
	Object struct {
		SHA  string `json:"sha"`
		Type string `json:"type"`
	} `json:"object"`
}

func (c *Client) ListBranches(ctx context.Context, owner string, repo string) ([]Branch, error) {
	var out []Branch
	for page := 1; page <= maxPages; page++ {
		var batch []Branch
		path := fmt.Sprintf("%s/branches?per_page=%d&page=%d", repoPath(owner, repo), perPage, page)
		if err := c.get(ctx, path, &batch); err != nil {
			return nil, err
		}
		out = append(out, batch...)
		if len(batch) < perPage {
			break
		}
	}
	return out, nil
}

// BranchSHA returns the head commit of a branch.
func (c *Client) BranchSHA(ctx context.Context, owner string, repo string, branch string) (string, error) {
	var ref Ref
	// Branch names may contain slashes; the refs endpoint expects them unescaped.
	escaped := strings.ReplaceAll(url.PathEscape(strings.TrimSpace(branch)), "%2F", "/")
	if err := c.get(ctx, repoPath(owner, repo)+"/git/ref/heads/"+escaped, &ref); err != nil {
		return "", err
	}
	return ref.Object.SHA, nil
}

// CreateBranch creates refs/heads/name at sourceSHA.
func (c *Client) CreateBranch(ctx context.Context, owner string, repo string, name string, sourceSHA string) (Ref, error) {
	name = strings.TrimSpace(name)
	sourceSHA = strings.TrimSpace(sourceSHA)
	if name == "" || sourceSHA == "" {
		return Ref{}, errors.New("github: branch name and source sha are required")
	}
	var ref Ref
	err := c.post(ctx, repoPath(owner, repo)+"/git/refs", map[string]string{
		"ref": "refs/heads/" + name,
		"sha": sourceSHA,
	}, &ref)
	return ref, err
}
