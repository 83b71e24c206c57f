package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/floegence/repopilot/internal/router"
)

type turnResolver interface {
	ResolveTurn(ctx context.Context, workspaceID string, rawInput string) (router.TurnResult, error)
}

// runChat reads one turn per line until EOF, "exit" or ctx is done.
func runChat(ctx context.Context, r turnResolver, workspaceID string, in io.Reader, out io.Writer) error {
	interactive := isTerminalReader(in)
	color := isTerminalWriter(out)
	if interactive {
		fmt.Fprintf(out, "repopilot %s, workspace %s. Type \"exit\" to quit.\n", Version, workspaceID)
	}

	sc := bufio.NewScanner(in)
	sc.Buffer(make([]byte, 64*1024), 1<<20)
	for {
		if interactive {
			fmt.Fprint(out, prompt(color))
		}
		if !sc.Scan() {
			return sc.Err()
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		line := strings.TrimSpace(sc.Text())
		switch strings.ToLower(line) {
		case "":
			continue
		case "exit", "quit":
			return nil
		}
		res, _ := r.ResolveTurn(ctx, workspaceID, line)
		printResult(out, res, color)
	}
}

// printResult writes the reply, then the file content when the turn opened a file.
func printResult(w io.Writer, res router.TurnResult, color bool) {
	msg := res.Message
	if color && res.NeedsInput {
		msg = ansiBold + msg + ansiReset
	}
	fmt.Fprintln(w, msg)
	if p := res.EditorPayload; p != nil {
		fmt.Fprintf(w, "--- %s (%s)\n", p.Path, shortHash(p.Hash))
		fmt.Fprint(w, p.Content)
		if !strings.HasSuffix(p.Content, "\n") {
			fmt.Fprintln(w)
		}
	}
}

func prompt(color bool) string {
	if color {
		return ansiCyan + "> " + ansiReset
	}
	return "> "
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}

func isTerminalReader(r io.Reader) bool {
	f, ok := r.(*os.File)
	if !ok {
		return false
	}
	return term.IsTerminal(int(f.Fd()))
}
