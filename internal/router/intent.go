package router

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/floegence/repopilot/internal/registry"
)

const (
	paramName         = "name"
	paramNewName      = "new_name"
	paramDescription  = "description"
	paramPrivate      = "private"
	paramAddReadme    = "add_readme"
	paramPath         = "path"
	paramContent      = "content"
	paramExpectedHash = "expected_hash"
	paramBranch       = "branch"
	paramSource       = "source"
	paramMessage      = "message"
	paramFilename     = "filename"
	paramData         = "data"
	paramTargetDir    = "target_dir"
)

// Intent is one resolved action with its parameters.
type Intent struct {
	Action Kind   `json:"action"`
	Params Params `json:"params"`
}

type Params struct {
	Name         string  `json:"name,omitempty"`
	NewName      string  `json:"new_name,omitempty"`
	Description  string  `json:"description,omitempty"`
	Private      *bool   `json:"private,omitempty"`
	AddReadme    bool    `json:"add_readme,omitempty"`
	Path         string  `json:"path,omitempty"`
	Content      *string `json:"content,omitempty"`
	ExpectedHash string  `json:"expected_hash,omitempty"`
	Branch       string  `json:"branch,omitempty"`
	Source       string  `json:"source,omitempty"`
	Message      string  `json:"message,omitempty"`
	Filename     string  `json:"filename,omitempty"`
	// Data is base64 in JSON.
	Data      []byte `json:"data,omitempty"`
	TargetDir string `json:"target_dir,omitempty"`
}

func (p Params) has(field string) bool {
	switch field {
	case paramName:
		return strings.TrimSpace(p.Name) != ""
	case paramNewName:
		return strings.TrimSpace(p.NewName) != ""
	case paramPath:
		return strings.TrimSpace(p.Path) != ""
	case paramContent:
		return p.Content != nil
	case paramBranch:
		return strings.TrimSpace(p.Branch) != ""
	case paramFilename:
		return strings.TrimSpace(p.Filename) != ""
	case paramData:
		return p.Data != nil
	case paramPrivate:
		return p.Private != nil
	default:
		return false
	}
}

// missing returns the required fields p lacks, in declaration order.
func (p Params) missing(required []string) []string {
	var out []string
	for _, f := range required {
		if !p.has(f) {
			out = append(out, f)
		}
	}
	return out
}

// merge fills fields of p that are empty from prev.
func (p Params) merge(prev Params) Params {
	if p.Name == "" {
		p.Name = prev.Name
	}
	if p.NewName == "" {
		p.NewName = prev.NewName
	}
	if p.Description == "" {
		p.Description = prev.Description
	}
	if p.Private == nil {
		p.Private = prev.Private
	}
	p.AddReadme = p.AddReadme || prev.AddReadme
	if p.Path == "" {
		p.Path = prev.Path
	}
	if p.Content == nil {
		p.Content = prev.Content
	}
	if p.ExpectedHash == "" {
		p.ExpectedHash = prev.ExpectedHash
	}
	if p.Branch == "" {
		p.Branch = prev.Branch
	}
	if p.Source == "" {
		p.Source = prev.Source
	}
	if p.Message == "" {
		p.Message = prev.Message
	}
	if p.Filename == "" {
		p.Filename = prev.Filename
	}
	if p.Data == nil {
		p.Data = prev.Data
	}
	if p.TargetDir == "" {
		p.TargetDir = prev.TargetDir
	}
	return p
}

var paramAliases = map[string]string{
	"repo":            paramName,
	"repo_name":       paramName,
	"reponame":        paramName,
	"repository":      paramName,
	"repository_name": paramName,
	"repositoryname":  paramName,
	"project":         paramName,
	"project_name":    paramName,
	"projectname":     paramName,
	"newname":         paramNewName,
	"new_repo_name":   paramNewName,
	"newreponame":     paramNewName,
	"to":              paramNewName,
	"branch_name":     paramBranch,
	"branchname":      paramBranch,
	"file":            paramPath,
	"file_path":       paramPath,
	"filepath":        paramPath,
	"dir":             paramPath,
	"directory":       paramPath,
	"folder":          paramPath,
	"from":            paramSource,
	"source_branch":   paramSource,
	"sourcebranch":    paramSource,
	"base":            paramSource,
	"commit_message":  paramMessage,
	"commitmessage":   paramMessage,
	"is_private":      paramPrivate,
	"isprivate":       paramPrivate,
	"visibility":      paramPrivate,
	"readme":          paramAddReadme,
	"addreadme":       paramAddReadme,
	"hash":            paramExpectedHash,
	"expectedhash":    paramExpectedHash,
	"targetdir":       paramTargetDir,
	"file_name":       paramFilename,
}

var camelBoundary = regexp.MustCompile(`([a-z0-9])([A-Z])`)

// canonicalParamKey maps provider spellings (repoName, repository, projectName...) onto the
// router's parameter names.
func canonicalParamKey(k string) string {
	k = strings.TrimSpace(k)
	k = camelBoundary.ReplaceAllString(k, "${1}_${2}")
	k = strings.ToLower(strings.ReplaceAll(k, "-", "_"))
	if alias, ok := paramAliases[k]; ok {
		return alias
	}
	return k
}

// paramsFromMap builds Params from loosely typed provider or rule output.
func paramsFromMap(m map[string]any) Params {
	var p Params
	for rawKey, v := range m {
		if v == nil {
			continue
		}
		switch canonicalParamKey(rawKey) {
		case paramName:
			p.Name = stringValue(v)
		case paramNewName:
			p.NewName = stringValue(v)
		case paramDescription:
			p.Description = stringValue(v)
		case paramPrivate:
			p.Private = visibilityValue(v)
		case paramAddReadme:
			if b := boolValue(v); b != nil {
				p.AddReadme = *b
			}
		case paramPath:
			p.Path = stringValue(v)
		case paramContent:
			s := stringValue(v)
			p.Content = &s
		case paramExpectedHash:
			p.ExpectedHash = stringValue(v)
		case paramBranch:
			p.Branch = stringValue(v)
		case paramSource:
			p.Source = stringValue(v)
		case paramMessage:
			p.Message = stringValue(v)
		case paramFilename:
			p.Filename = stringValue(v)
		case paramData:
			if b, err := base64.StdEncoding.DecodeString(stringValue(v)); err == nil {
				p.Data = b
			}
		case paramTargetDir:
			p.TargetDir = stringValue(v)
		}
	}
	return p
}

func stringValue(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return strings.TrimSpace(fmt.Sprint(t))
	}
}

func boolValue(v any) *bool {
	switch t := v.(type) {
	case bool:
		return &t
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(t))
		if err != nil {
			return nil
		}
		return &b
	default:
		return nil
	}
}

// visibilityValue accepts booleans as well as "private"/"public".
func visibilityValue(v any) *bool {
	if s, ok := v.(string); ok {
		switch strings.ToLower(strings.TrimSpace(s)) {
		case "private":
			b := true
			return &b
		case "public":
			b := false
			return &b
		}
	}
	return boolValue(v)
}

var (
	namedValuePattern = regexp.MustCompile(`(?i)\b(?:called|named|call it|name it)\s+["'` + "`" + `]?([A-Za-z0-9._/-]+)`)
	renamePattern     = regexp.MustCompile(`(?i)(?:change|rename)\s+["'` + "`" + `]?([A-Za-z0-9._-]+)["'` + "`" + `]?\s+to\s+["'` + "`" + `]?([A-Za-z0-9._-]+)`)
	toValuePattern    = regexp.MustCompile(`(?i)^to\s+["'` + "`" + `]?([A-Za-z0-9._-]+)["'` + "`" + `]?$`)
)

// fillFromText merges a continuation turn into p. It only takes values the user plainly
// supplied: a single token, a "called X" phrase, or "rename X to Y". It reports whether
// anything was filled.
func fillFromText(kind Kind, p Params, missing []string, text string) (Params, bool) {
	text = strings.TrimSpace(text)
	if text == "" || len(missing) == 0 {
		return p, false
	}

	if kind == KindRenameRepo {
		if m := renamePattern.FindStringSubmatch(text); m != nil {
			p.Name, p.NewName = m[1], m[2]
			return p, true
		}
		if m := toValuePattern.FindStringSubmatch(text); m != nil && p.Name != "" {
			p.NewName = m[1]
			return p, true
		}
	}

	field := missing[0]
	value := ""
	switch field {
	case paramContent:
		// Content is taken verbatim.
		s := text
		p.Content = &s
		return p, true
	case paramPrivate:
		lower := strings.ToLower(text)
		switch {
		case strings.Contains(lower, "private"):
			b := true
			p.Private = &b
			return p, true
		case strings.Contains(lower, "public"):
			b := false
			p.Private = &b
			return p, true
		}
		return p, false
	}

	if m := namedValuePattern.FindStringSubmatch(text); m != nil {
		value = m[1]
	} else if tok := singleToken(text); tok != "" {
		value = tok
	}
	if value == "" {
		return p, false
	}

	switch field {
	case paramName:
		if kind == KindCreateRepo {
			value = registry.NormalizeRepoName(value)
		}
		p.Name = value
	case paramNewName:
		p.NewName = registry.NormalizeRepoName(value)
	case paramBranch:
		p.Branch = value
	case paramPath:
		p.Path = value
	case paramFilename:
		p.Filename = value
	default:
		return p, false
	}
	return p, value != ""
}

// singleToken returns text when it is one word, with surrounding quotes and trailing
// punctuation removed.
func singleToken(text string) string {
	text = strings.TrimSpace(text)
	text = strings.TrimRight(text, ".!?,;")
	text = strings.Trim(text, "\"'`")
	if text == "" || strings.ContainsAny(text, " \t\n") {
		return ""
	}
	return text
}
