package fs

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/floegence/repopilot/internal/statestore"
)

func newTestStore(t *testing.T) (*Store, *statestore.Store, string) {
	t.Helper()
	root := t.TempDir()
	db, err := statestore.Open(filepath.Join(t.TempDir(), "state.sqlite"))
	if err != nil {
		t.Fatalf("statestore.Open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	res, err := NewResolver(root)
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}
	s, err := NewStore(Options{Resolver: res, Tracker: db})
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return s, db, res.Root()
}

func TestHashIsDeterministic(t *testing.T) {
	t.Parallel()

	a := Hash([]byte("hello"))
	if a != Hash([]byte("hello")) {
		t.Fatalf("hash not deterministic")
	}
	if a == Hash([]byte("hello!")) {
		t.Fatalf("hash did not change with content")
	}
	if a != "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824" {
		t.Fatalf("Hash(hello)=%s", a)
	}
}

func TestStoreWriteThenRead(t *testing.T) {
	t.Parallel()

	s, db, _ := newTestStore(t)
	ctx := context.Background()

	content := []byte("console.log('hi')\n")
	w, err := s.Write(ctx, "u1", "src/app.js", content, "")
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if w.Hash != Hash(content) {
		t.Fatalf("Write hash=%s, want %s", w.Hash, Hash(content))
	}
	rec, _ := db.GetTrackedFile(ctx, "u1", "src/app.js")
	if rec == nil || !rec.Modified || !rec.Selected {
		t.Fatalf("tracked after write=%+v, want modified+selected", rec)
	}

	r, err := s.Read(ctx, "u1", "src/app.js")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !bytes.Equal(r.Content, content) || r.Hash != Hash(content) {
		t.Fatalf("Read = %q/%s", r.Content, r.Hash)
	}
	if r.ResolvedViaSearch {
		t.Fatalf("ResolvedViaSearch=true for exact path")
	}
	rec, _ = db.GetTrackedFile(ctx, "u1", "src/app.js")
	if rec.Modified {
		t.Fatalf("tracked after read modified=true, want false")
	}
}

func TestStoreWriteConflict(t *testing.T) {
	t.Parallel()

	s, _, root := newTestStore(t)
	ctx := context.Background()

	first, err := s.Write(ctx, "u1", "notes.txt", []byte("v1\n"), "")
	if err != nil {
		t.Fatalf("Write v1: %v", err)
	}

	_, err = s.Write(ctx, "u1", "notes.txt", []byte("v2\n"), "deadbeef")
	var cerr *ConflictError
	if !errors.As(err, &cerr) || !errors.Is(err, ErrConflict) {
		t.Fatalf("Write stale err=%v, want ConflictError", err)
	}
	if cerr.CurrentHash != first.Hash {
		t.Fatalf("CurrentHash=%s, want %s", cerr.CurrentHash, first.Hash)
	}
	if cerr.Preview.Added != 1 || cerr.Preview.Removed != 1 {
		t.Fatalf("preview=%+v", cerr.Preview)
	}
	b, _ := os.ReadFile(filepath.Join(root, "notes.txt"))
	if string(b) != "v1\n" {
		t.Fatalf("disk=%q, want unchanged v1", b)
	}

	// Missing token on a tracked file is also stale.
	if _, err := s.Write(ctx, "u1", "notes.txt", []byte("v2\n"), ""); !errors.Is(err, ErrConflict) {
		t.Fatalf("Write without hash err=%v, want ErrConflict", err)
	}

	second, err := s.Write(ctx, "u1", "notes.txt", []byte("v2\n"), cerr.CurrentHash)
	if err != nil {
		t.Fatalf("Write with current hash: %v", err)
	}
	if second.Hash != Hash([]byte("v2\n")) {
		t.Fatalf("hash=%s", second.Hash)
	}
}

func TestStoreReadFallsBackToSearch(t *testing.T) {
	t.Parallel()

	s, _, root := newTestStore(t)
	ctx := context.Background()

	mustWrite(t, filepath.Join(root, "node_modules", "pkg", "config.json"), "{}")
	mustWrite(t, filepath.Join(root, "app", "src", "config.json"), `{"a":1}`)

	r, err := s.Read(ctx, "u1", "config.json")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !r.ResolvedViaSearch || r.Path != "app/src/config.json" || r.RequestedPath != "config.json" {
		t.Fatalf("Read = %+v, want resolved via search to app/src/config.json", r)
	}

	if _, err := s.Read(ctx, "u1", "missing.txt"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Read(missing) err=%v, want ErrNotFound", err)
	}
	if _, err := s.Read(ctx, "u1", "../etc/passwd"); !errors.Is(err, ErrPathEscape) {
		t.Fatalf("Read(escape) err=%v, want ErrPathEscape", err)
	}
}

func TestStoreListSortsAndTracks(t *testing.T) {
	t.Parallel()

	s, db, root := newTestStore(t)
	ctx := context.Background()

	mustWrite(t, filepath.Join(root, "b.txt"), "b")
	mustWrite(t, filepath.Join(root, "a.txt"), "a")
	mustWrite(t, filepath.Join(root, "zdir", "x"), "x")
	mustWrite(t, filepath.Join(root, "adir", "y"), "y")

	got, err := s.List(ctx, "u1", "")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	want := []Entry{{"adir", KindDir}, {"zdir", KindDir}, {"a.txt", KindFile}, {"b.txt", KindFile}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("List = %+v, want %+v", got, want)
	}
	if rec, _ := db.GetTrackedFile(ctx, "u1", "a.txt"); rec == nil {
		t.Fatalf("a.txt not tracked after list")
	}
	if _, err := s.List(ctx, "u1", "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("List(nope) err=%v, want ErrNotFound", err)
	}
}

func TestStoreUploadAndMkdir(t *testing.T) {
	t.Parallel()

	s, _, root := newTestStore(t)
	ctx := context.Background()

	up, err := s.Upload(ctx, "u1", "../../evil/logo.png", []byte{1, 2, 3}, "assets/img")
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if up.Path != "assets/img/logo.png" || up.Size != 3 || up.Hash != Hash([]byte{1, 2, 3}) {
		t.Fatalf("Upload = %+v", up)
	}
	if _, err := os.Stat(filepath.Join(root, "assets", "img", "logo.png")); err != nil {
		t.Fatalf("uploaded file missing: %v", err)
	}

	for i := 0; i < 2; i++ {
		if _, err := s.Mkdir(ctx, "x/y/z"); err != nil {
			t.Fatalf("Mkdir #%d: %v", i, err)
		}
	}
	if st, err := os.Stat(filepath.Join(root, "x", "y", "z")); err != nil || !st.IsDir() {
		t.Fatalf("Mkdir did not create dir: %v", err)
	}
}

func TestStoreFindGitDirs(t *testing.T) {
	t.Parallel()

	s, _, root := newTestStore(t)
	for _, d := range []string{"demo/.git", "tools/cli/.git", "demo/sub/.git", "node_modules/x/.git"} {
		if err := os.MkdirAll(filepath.Join(root, filepath.FromSlash(d)), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
	}
	got, err := s.FindGitDirs(context.Background(), 3)
	if err != nil {
		t.Fatalf("FindGitDirs: %v", err)
	}
	want := []string{"demo", "tools/cli"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("FindGitDirs = %v, want %v", got, want)
	}
}

func mustWrite(t *testing.T, p string, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
}
