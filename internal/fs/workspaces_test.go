package fs

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/floegence/repopilot/internal/statestore"
)

func TestWorkspacesForIsolatesRoots(t *testing.T) {
	t.Parallel()

	db, err := statestore.Open(filepath.Join(t.TempDir(), "state.sqlite"))
	if err != nil {
		t.Fatalf("statestore.Open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	base := t.TempDir()
	w, err := NewWorkspaces(WorkspacesOptions{Base: base, Tracker: db})
	if err != nil {
		t.Fatalf("NewWorkspaces: %v", err)
	}

	a, err := w.For("alice")
	if err != nil {
		t.Fatalf("For(alice): %v", err)
	}
	again, err := w.For("alice")
	if err != nil || again != a {
		t.Fatalf("For(alice) again: %v, same=%v", err, again == a)
	}
	b, err := w.For("bob@example.com")
	if err != nil {
		t.Fatalf("For(bob): %v", err)
	}
	if a.Resolver().Root() == b.Resolver().Root() {
		t.Fatalf("workspaces share a root")
	}
	if st, err := os.Stat(a.Resolver().Root()); err != nil || !st.IsDir() {
		t.Fatalf("root not created: %v", err)
	}

	for _, bad := range []string{"", "..", "a/b", "../x", ".hidden", "a..b"} {
		if _, err := w.For(bad); !errors.Is(err, ErrInvalidWorkspace) {
			t.Fatalf("For(%q) err=%v, want ErrInvalidWorkspace", bad, err)
		}
	}
}
