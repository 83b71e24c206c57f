package auditlog

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestAppendAndListNewestFirst(t *testing.T) {
	t.Parallel()

	l, err := New(Options{StateDir: t.TempDir()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	l.Append(Entry{WorkspaceID: "u1", Action: "create_repo", Detail: map[string]any{"name": "demo"}})
	l.Append(Entry{WorkspaceID: "u2", Action: "list_repos"})
	l.Append(Entry{WorkspaceID: "u1", Action: "push_repo", Status: StatusFailure, Error: "merge conflict in a.txt"})

	all, err := l.List("", 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("len=%d, want 3", len(all))
	}
	if all[0].Action != "push_repo" || all[2].Action != "create_repo" {
		t.Fatalf("order=%q,%q", all[0].Action, all[2].Action)
	}
	if all[2].Status != StatusSuccess || all[2].ID == "" || all[2].CreatedAt == "" {
		t.Fatalf("defaults not filled: %+v", all[2])
	}

	mine, err := l.List("u1", 10)
	if err != nil {
		t.Fatalf("List(u1): %v", err)
	}
	if len(mine) != 2 || mine[0].Status != StatusFailure {
		t.Fatalf("mine=%+v", mine)
	}
}

func TestRotationKeepsBackups(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	l, err := New(Options{StateDir: dir, MaxBytes: 200, MaxBackups: 2})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	for i := 0; i < 20; i++ {
		l.Append(Entry{WorkspaceID: "u1", Action: fmt.Sprintf("action_%02d", i), Detail: map[string]any{"pad": strings.Repeat("x", 64)}})
	}

	ents, err := os.ReadDir(filepath.Join(dir, "actions"))
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	rotated := 0
	for _, ent := range ents {
		if strings.HasPrefix(ent.Name(), rotatePrefix) {
			rotated++
		}
	}
	if rotated > 2 {
		t.Fatalf("rotated=%d, want <= 2", rotated)
	}

	got, err := l.List("", 1)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 1 || got[0].Action != "action_19" {
		t.Fatalf("latest=%+v", got)
	}
}

func TestNewRequiresStateDir(t *testing.T) {
	t.Parallel()

	if _, err := New(Options{}); err == nil {
		t.Fatalf("expected error")
	}
}
