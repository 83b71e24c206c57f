package gitsync

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// Runner executes git against one working copy.
type Runner interface {
	// Run executes git with "-C dir" prepended and returns trimmed stdout.
	Run(ctx context.Context, dir string, env []string, args ...string) (string, error)
}

// CommandError is a failed git invocation. Output holds stdout and stderr combined, because
// git reports conflicts on stdout and most failures on stderr.
type CommandError struct {
	Args   []string
	Dir    string
	Output string
	Err    error
}

func (e *CommandError) Error() string {
	out := strings.TrimSpace(e.Output)
	if out == "" {
		return fmt.Sprintf("git %s failed: %v", displayArgs(e.Args), e.Err)
	}
	return fmt.Sprintf("git %s failed: %s", displayArgs(e.Args), out)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// displayArgs drops "-c key=value" pairs, which may carry credentials.
func displayArgs(args []string) string {
	out := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		if args[i] == "-c" {
			i++
			continue
		}
		out = append(out, args[i])
	}
	return strings.Join(out, " ")
}

// ExecRunner runs the git binary found on PATH (or Binary when set).
type ExecRunner struct {
	Binary string
	// Env is appended to the process environment of every command.
	Env []string
}

func (r ExecRunner) Run(ctx context.Context, dir string, env []string, args ...string) (string, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	bin := strings.TrimSpace(r.Binary)
	if bin == "" {
		bin = "git"
	}
	full := append([]string{"-C", dir}, args...)
	cmd := exec.CommandContext(ctx, bin, full...)

	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0", "LC_ALL=C")
	cmd.Env = append(cmd.Env, r.Env...)
	cmd.Env = append(cmd.Env, env...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", &CommandError{
			Args:   args,
			Dir:    dir,
			Output: strings.TrimSpace(stdout.String() + "\n" + stderr.String()),
			Err:    err,
		}
	}
	return strings.TrimSpace(stdout.String()), nil
}
