package router

import (
	"errors"
	"sort"
	"strings"
)

// Kind names one supported action. The set is closed: capabilities lists every Kind the
// router accepts and execute switches over exactly that set.
type Kind string

const (
	KindCreateRepo   Kind = "create_repo"
	KindRenameRepo   Kind = "rename_repo"
	KindDeleteRepo   Kind = "delete_repo"
	KindUpdateRepo   Kind = "update_repo"
	KindGetRepo      Kind = "get_repo"
	KindListRepos    Kind = "list_repos"
	KindRepoExists   Kind = "repo_exists"
	KindCloneRepo    Kind = "clone_repo"
	KindPushRepo     Kind = "push_repo"
	KindCreateBranch Kind = "create_branch"
	KindListBranches Kind = "list_branches"
	KindSwitchBranch Kind = "switch_branch"
	KindListFiles    Kind = "list_files"
	KindReadFile     Kind = "read_file"
	KindWriteFile    Kind = "write_file"
	KindUploadFile   Kind = "upload_file"
	KindMkdir        Kind = "mkdir"

	// KindMergeConflict only labels a pending action; it is never dispatched.
	KindMergeConflict Kind = "merge_conflict"
)

// ErrUnsupportedAction is returned for any action outside the capability allow-list.
var ErrUnsupportedAction = errors.New("unsupported action")

type capability struct {
	// Required lists parameters that must be supplied before the action runs.
	Required []string
	// Destructive actions go through the confirmation gate.
	Destructive bool
	// Summary is shown to the completion provider.
	Summary string
}

var capabilities = map[Kind]capability{
	KindCreateRepo:   {Required: []string{paramName}, Summary: "create a GitHub repository (name, description?, private?)"},
	KindRenameRepo:   {Required: []string{paramName, paramNewName}, Summary: "rename a repository (name, new_name)"},
	KindDeleteRepo:   {Required: []string{paramName}, Destructive: true, Summary: "delete a repository (name)"},
	KindUpdateRepo:   {Required: []string{paramName}, Summary: "change visibility or add a README (name, private?, add_readme?)"},
	KindGetRepo:      {Required: []string{paramName}, Summary: "show repository details (name)"},
	KindListRepos:    {Summary: "list the latest repositories"},
	KindRepoExists:   {Required: []string{paramName}, Summary: "check whether a repository exists (name)"},
	KindCloneRepo:    {Required: []string{paramName}, Summary: "clone a repository into the workspace (name)"},
	KindPushRepo:     {Summary: "commit, pull --rebase and push local changes (name?, message?)"},
	KindCreateBranch: {Required: []string{paramBranch}, Summary: "create a branch (branch, source?, name?)"},
	KindListBranches: {Summary: "list branches of a repository (name?)"},
	KindSwitchBranch: {Required: []string{paramBranch}, Summary: "switch the local working copy to a branch (branch, name?)"},
	KindListFiles:    {Summary: "list a workspace directory (path?)"},
	KindReadFile:     {Required: []string{paramPath}, Summary: "open a file (path)"},
	KindWriteFile:    {Required: []string{paramPath, paramContent}, Summary: "write a file (path, content, expected_hash?)"},
	KindUploadFile:   {Required: []string{paramFilename, paramData}, Summary: "upload a file (filename, data, target_dir?)"},
	KindMkdir:        {Required: []string{paramPath}, Summary: "create a directory (path)"},
}

func lookupCapability(k Kind) (capability, bool) {
	c, ok := capabilities[Kind(strings.TrimSpace(string(k)))]
	return c, ok
}

// Supported reports whether k is on the allow-list.
func Supported(k Kind) bool {
	_, ok := lookupCapability(k)
	return ok
}

// Kinds returns the allow-list in stable order.
func Kinds() []Kind {
	out := make([]Kind, 0, len(capabilities))
	for k := range capabilities {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
