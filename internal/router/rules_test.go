package router

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultRules(t *testing.T) {
	t.Parallel()

	rules := DefaultRules()
	tests := []struct {
		text   string
		action Kind
		check  func(Params) bool
	}{
		{"list my repos", KindListRepos, nil},
		{"Show me the latest repositories.", KindListRepos, nil},
		{"create a repo", KindCreateRepo, func(p Params) bool { return p.Name == "" && p.Private == nil }},
		{"create a new private repo called site", KindCreateRepo, func(p Params) bool { return p.Name == "site" && p.Private != nil && *p.Private }},
		{"make a public repository demo", KindCreateRepo, func(p Params) bool { return p.Name == "demo" && p.Private != nil && !*p.Private }},
		{"rename the repo demo to demo2", KindRenameRepo, func(p Params) bool { return p.Name == "demo" && p.NewName == "demo2" }},
		{"delete demo", KindDeleteRepo, func(p Params) bool { return p.Name == "demo" }},
		{"delete the repo my.site", KindDeleteRepo, func(p Params) bool { return p.Name == "my.site" }},
		{"remove the repo", KindDeleteRepo, func(p Params) bool { return p.Name == "" }},
		{"make demo private", KindUpdateRepo, func(p Params) bool { return p.Name == "demo" && p.Private != nil && *p.Private }},
		{"make it public", KindUpdateRepo, func(p Params) bool { return p.Name == "" && p.Private != nil && !*p.Private }},
		{"add a readme to demo", KindUpdateRepo, func(p Params) bool { return p.Name == "demo" && p.AddReadme }},
		{"does demo exist?", KindRepoExists, func(p Params) bool { return p.Name == "demo" }},
		{"show repo details for demo", KindGetRepo, func(p Params) bool { return p.Name == "demo" }},
		{"clone demo", KindCloneRepo, func(p Params) bool { return p.Name == "demo" }},
		{"push", KindPushRepo, func(p Params) bool { return p.Name == "" }},
		{"commit and push my changes", KindPushRepo, func(p Params) bool { return p.Name == "" }},
		{"push to demo", KindPushRepo, func(p Params) bool { return p.Name == "demo" }},
		{"list branches of demo", KindListBranches, func(p Params) bool { return p.Name == "demo" }},
		{"create branch dev from main in demo", KindCreateBranch, func(p Params) bool {
			return p.Branch == "dev" && p.Source == "main" && p.Name == "demo"
		}},
		{"checkout feature/x", KindSwitchBranch, func(p Params) bool { return p.Branch == "feature/x" }},
		{"ls files in src", KindListFiles, func(p Params) bool { return p.Path == "src" }},
		{"create a folder docs/api", KindMkdir, func(p Params) bool { return p.Path == "docs/api" }},
		{"open src/main.go", KindReadFile, func(p Params) bool { return p.Path == "src/main.go" }},
	}
	for _, tc := range tests {
		intent, rule, ok := rules.Match(tc.text)
		if !ok {
			t.Fatalf("Match(%q) did not match", tc.text)
		}
		if intent.Action != tc.action {
			t.Fatalf("Match(%q) action=%q (rule %s), want %q", tc.text, intent.Action, rule, tc.action)
		}
		if tc.check != nil && !tc.check(intent.Params) {
			t.Fatalf("Match(%q) params=%+v (rule %s)", tc.text, intent.Params, rule)
		}
	}
}

func TestDefaultRulesIgnoreChatter(t *testing.T) {
	t.Parallel()

	rules := DefaultRules()
	for _, text := range []string{"", "demo", "yes", "what is the weather", "open the pod bay doors"} {
		if intent, rule, ok := rules.Match(text); ok {
			t.Fatalf("Match(%q) = %+v via %s, want no match", text, intent, rule)
		}
	}
}

func TestRemoveFileIsNotRepositoryDeletion(t *testing.T) {
	t.Parallel()

	rules := DefaultRules()
	for _, text := range []string{"remove notes.txt", "delete the README.md"} {
		if intent, rule, ok := rules.Match(text); ok && intent.Action == KindDeleteRepo {
			t.Fatalf("Match(%q) = %+v via %s, want no repository deletion", text, intent, rule)
		}
	}
}

func TestEveryRuleTargetsASupportedAction(t *testing.T) {
	t.Parallel()

	for _, r := range defaultRules() {
		if !Supported(r.Action) {
			t.Fatalf("rule %s targets unsupported action %q", r.Name, r.Action)
		}
	}
}

func TestLoadRules(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	data := `rules:
  - name: ship
    pattern: '^ship (?P<name>[a-z0-9-]+)$'
    action: push_repo
    params:
      name: "${name}"
      message: "ship it"
  - name: push_override
    pattern: '^push$'
    action: list_files
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}
	rules, err := LoadRules(path)
	if err != nil {
		t.Fatalf("LoadRules: %v", err)
	}

	intent, rule, ok := rules.Match("SHIP demo")
	if !ok || rule != "ship" || intent.Action != KindPushRepo {
		t.Fatalf("Match(ship) = %+v, %q, %v", intent, rule, ok)
	}
	if intent.Params.Name != "demo" || intent.Params.Message != "ship it" {
		t.Fatalf("params=%+v", intent.Params)
	}
	if intent, _, _ := rules.Match("push"); intent.Action != KindListFiles {
		t.Fatalf("custom rule not evaluated first: %q", intent.Action)
	}
	if intent, _, _ := rules.Match("clone demo"); intent.Action != KindCloneRepo {
		t.Fatalf("built-in rules missing: %q", intent.Action)
	}
}

func TestLoadRulesRejectsUnknownAction(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "rules.yaml")
	data := "rules:\n  - name: nuke\n    pattern: '^nuke$'\n    action: drop_everything\n"
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadRules(path); !errors.Is(err, ErrUnsupportedAction) {
		t.Fatalf("LoadRules err=%v, want ErrUnsupportedAction", err)
	}
}

func TestLoadRulesRejectsBadPattern(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "rules.yaml")
	data := "rules:\n  - name: broken\n    pattern: '^(unclosed$'\n    action: push_repo\n"
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadRules(path); err == nil {
		t.Fatalf("LoadRules succeeded, want error")
	}
}
