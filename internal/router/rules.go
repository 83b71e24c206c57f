package router

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Rule maps one input pattern to an intent template. Param values may reference named
// capture groups as ${group}.
type Rule struct {
	Name    string            `yaml:"name"`
	Pattern string            `yaml:"pattern"`
	Action  Kind              `yaml:"action"`
	Params  map[string]string `yaml:"params,omitempty"`

	re *regexp.Regexp
}

// RuleSet is the deterministic pre-filter evaluated before the completion provider.
// Rules are tried in order; the first match wins.
type RuleSet struct {
	rules []Rule
}

const (
	repoNameRe     = `[A-Za-z0-9._-]+`
	bareRepoNameRe = `[A-Za-z0-9_-]+`
	branchRe       = `[A-Za-z0-9._/-]+`
	repoWord       = `(?:repo|repository)`
)

func defaultRules() []Rule {
	return []Rule{
		{Name: "list_repos", Action: KindListRepos,
			Pattern: `^(?:list|show)(?: me)?(?: all)?(?: my)?(?: the)?(?: latest| recent)? (?:repos|repositories)$`},

		{Name: "create_repo_unnamed", Action: KindCreateRepo,
			Pattern: `^(?:create|make|new)(?: me)?(?: a| an)?(?: new)?(?: (?P<private>private|public))? ` + repoWord + `$`,
			Params:  map[string]string{paramPrivate: "${private}"}},
		{Name: "create_repo", Action: KindCreateRepo,
			Pattern: `^(?:create|make|new)(?: me)?(?: a| an)?(?: new)?(?: (?P<private>private|public))? ` + repoWord + `(?: called| named)? (?P<name>` + repoNameRe + `)$`,
			Params:  map[string]string{paramName: "${name}", paramPrivate: "${private}"}},

		{Name: "rename_repo_unnamed", Action: KindRenameRepo,
			Pattern: `^rename(?: a| the| my)?(?: ` + repoWord + `)?$`},
		{Name: "rename_repo", Action: KindRenameRepo,
			Pattern: `^(?:rename|change)(?: the)?(?: ` + repoWord + `)? (?P<name>` + repoNameRe + `) to (?P<new_name>` + repoNameRe + `)$`,
			Params:  map[string]string{paramName: "${name}", paramNewName: "${new_name}"}},

		{Name: "delete_repo_unnamed", Action: KindDeleteRepo,
			Pattern: `^(?:delete|remove)(?: a| the| my)? ` + repoWord + `$`},
		{Name: "delete_repo_keyword", Action: KindDeleteRepo,
			Pattern: `^(?:delete|remove)(?: the)? ` + repoWord + ` (?P<name>` + repoNameRe + `)$`,
			Params:  map[string]string{paramName: "${name}"}},
		// Without the repo keyword a dotted name reads as a file, so it is left unmatched.
		{Name: "delete_repo", Action: KindDeleteRepo,
			Pattern: `^(?:delete|remove)(?: the)? (?P<name>` + bareRepoNameRe + `)$`,
			Params:  map[string]string{paramName: "${name}"}},

		{Name: "update_visibility_pronoun", Action: KindUpdateRepo,
			Pattern: `^make (?:it|this|that)(?: ` + repoWord + `)? (?P<private>private|public)$`,
			Params:  map[string]string{paramPrivate: "${private}"}},
		{Name: "update_visibility", Action: KindUpdateRepo,
			Pattern: `^make(?: the)?(?: ` + repoWord + `)? (?P<name>` + repoNameRe + `) (?P<private>private|public)$`,
			Params:  map[string]string{paramName: "${name}", paramPrivate: "${private}"}},
		{Name: "add_readme", Action: KindUpdateRepo,
			Pattern: `^add(?: a)? readme to(?: the)?(?: ` + repoWord + `)? (?P<name>` + repoNameRe + `)$`,
			Params:  map[string]string{paramName: "${name}", paramAddReadme: "true"}},

		{Name: "repo_exists", Action: KindRepoExists,
			Pattern: `^(?:does|is there)(?: a)?(?: ` + repoWord + `)? (?P<name>` + repoNameRe + `)(?: ` + repoWord + `)? exists?$`,
			Params:  map[string]string{paramName: "${name}"}},
		{Name: "get_repo", Action: KindGetRepo,
			Pattern: `^(?:get|show|describe)(?: the)? ` + repoWord + `(?: details| info)?(?: (?:for|of))? (?P<name>` + repoNameRe + `)$`,
			Params:  map[string]string{paramName: "${name}"}},
		{Name: "clone_repo", Action: KindCloneRepo,
			Pattern: `^clone(?: the)?(?: ` + repoWord + `)? (?P<name>` + repoNameRe + `)$`,
			Params:  map[string]string{paramName: "${name}"}},

		{Name: "push_active", Action: KindPushRepo,
			Pattern: `^(?:push|sync|commit and push|save and push)(?: (?:my|the|all))?(?: changes| code| work)?$`},
		{Name: "push_named", Action: KindPushRepo,
			Pattern: `^(?:push|sync|commit and push|save and push)(?: (?:my|the|all))?(?: changes| code| work)?(?: to)?(?: the)?(?: ` + repoWord + `)? (?P<name>` + repoNameRe + `)(?: ` + repoWord + `)?$`,
			Params:  map[string]string{paramName: "${name}"}},

		{Name: "list_branches", Action: KindListBranches,
			Pattern: `^(?:list|show)(?: all)?(?: the)? branches(?: (?:of|in|for) (?P<name>` + repoNameRe + `))?$`,
			Params:  map[string]string{paramName: "${name}"}},
		{Name: "create_branch_unnamed", Action: KindCreateBranch,
			Pattern: `^(?:create|make)(?: a)?(?: new)? branch$`},
		{Name: "create_branch", Action: KindCreateBranch,
			Pattern: `^(?:create|make)(?: a)?(?: new)? branch (?:called |named )?(?P<branch>` + branchRe + `)(?: from (?P<source>` + branchRe + `))?(?: (?:in|on|for) (?P<name>` + repoNameRe + `))?$`,
			Params:  map[string]string{paramBranch: "${branch}", paramSource: "${source}", paramName: "${name}"}},
		{Name: "switch_branch", Action: KindSwitchBranch,
			Pattern: `^(?:switch|checkout|check out)(?: to)?(?: branch)? (?P<branch>` + branchRe + `)(?: (?:in|on|for) (?P<name>` + repoNameRe + `))?$`,
			Params:  map[string]string{paramBranch: "${branch}", paramName: "${name}"}},

		{Name: "list_files", Action: KindListFiles,
			Pattern: `^(?:list|show|ls)(?: the)? files(?: (?:in|under) (?P<path>\S+))?$`,
			Params:  map[string]string{paramPath: "${path}"}},
		{Name: "mkdir", Action: KindMkdir,
			Pattern: `^(?:mkdir|create(?: a)? (?:folder|directory)) (?P<path>\S+)$`,
			Params:  map[string]string{paramPath: "${path}"}},
		{Name: "read_file", Action: KindReadFile,
			Pattern: `^(?:open|read|show|cat|view)(?: the)?(?: file)? (?P<path>\S+\.\S+)$`,
			Params:  map[string]string{paramPath: "${path}"}},
	}
}

// DefaultRules returns the built-in rule table.
func DefaultRules() *RuleSet {
	s, err := newRuleSet(defaultRules())
	if err != nil {
		panic(err)
	}
	return s
}

type rulesFile struct {
	Rules []Rule `yaml:"rules"`
}

// LoadRules reads extra rules from a YAML file. They are evaluated before the built-in ones.
func LoadRules(path string) (*RuleSet, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f rulesFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("invalid rules file: %w", err)
	}
	for i, r := range f.Rules {
		if !Supported(r.Action) {
			return nil, fmt.Errorf("invalid rules file: rule %d (%s): %w: %q", i, r.Name, ErrUnsupportedAction, r.Action)
		}
	}
	return newRuleSet(append(f.Rules, defaultRules()...))
}

func newRuleSet(rules []Rule) (*RuleSet, error) {
	out := make([]Rule, 0, len(rules))
	for _, r := range rules {
		pattern := strings.TrimSpace(r.Pattern)
		if pattern == "" {
			return nil, fmt.Errorf("rule %q: missing pattern", r.Name)
		}
		if !strings.HasPrefix(pattern, "(?") {
			pattern = "(?i)" + pattern
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("rule %q: %w", r.Name, err)
		}
		r.re = re
		out = append(out, r)
	}
	return &RuleSet{rules: out}, nil
}

// Match returns the intent of the first rule matching text.
func (s *RuleSet) Match(text string) (Intent, string, bool) {
	if s == nil {
		return Intent{}, "", false
	}
	text = normalizeTurnText(text)
	if text == "" {
		return Intent{}, "", false
	}
	for _, r := range s.rules {
		idx := r.re.FindStringSubmatchIndex(text)
		if idx == nil {
			continue
		}
		raw := make(map[string]any, len(r.Params))
		for k, tmpl := range r.Params {
			v := strings.TrimSpace(string(r.re.ExpandString(nil, tmpl, text, idx)))
			if v != "" {
				raw[k] = v
			}
		}
		return Intent{Action: r.Action, Params: paramsFromMap(raw)}, r.Name, true
	}
	return Intent{}, "", false
}

var spaceRun = regexp.MustCompile(`\s+`)

func normalizeTurnText(text string) string {
	text = strings.TrimSpace(text)
	text = strings.TrimRight(text, ".!? ")
	return spaceRun.ReplaceAllString(text, " ")
}
