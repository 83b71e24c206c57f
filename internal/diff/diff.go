// Package diff renders line-level previews between the on-disk version of a file
// and a rejected write, so a conflicting editor can see what changed underneath it.
package diff

import (
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

const (
	OpEqual  = "equal"
	OpInsert = "insert"
	OpDelete = "delete"
)

// DefaultMaxLines bounds the combined line count of both inputs; larger inputs are not diffed.
const DefaultMaxLines = 4000

type Line struct {
	Op   string `json:"op"`
	Text string `json:"text"`
}

// Preview summarizes the difference from current (on disk) to proposed (rejected write).
type Preview struct {
	Lines     []Line `json:"lines,omitempty"`
	Added     int    `json:"added"`
	Removed   int    `json:"removed"`
	Truncated bool   `json:"truncated,omitempty"`
}

// Lines computes a line diff. maxLines <= 0 uses DefaultMaxLines.
func Lines(current string, proposed string, maxLines int) Preview {
	if maxLines <= 0 {
		maxLines = DefaultMaxLines
	}
	if countLines(current)+countLines(proposed) > maxLines {
		return Preview{Truncated: true}
	}

	dmp := diffmatchpatch.New()
	a, b, table := dmp.DiffLinesToChars(current, proposed)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(a, b, false), table)

	var out Preview
	for _, d := range diffs {
		op := OpEqual
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			op = OpInsert
		case diffmatchpatch.DiffDelete:
			op = OpDelete
		}
		for _, text := range splitLines(d.Text) {
			out.Lines = append(out.Lines, Line{Op: op, Text: text})
			switch op {
			case OpInsert:
				out.Added++
			case OpDelete:
				out.Removed++
			}
		}
	}
	return out
}

// Unified renders p with "+", "-" and " " prefixes.
func (p Preview) Unified() string {
	if p.Truncated {
		return "(diff too large to preview)\n"
	}
	var b strings.Builder
	for _, l := range p.Lines {
		switch l.Op {
		case OpInsert:
			b.WriteString("+")
		case OpDelete:
			b.WriteString("-")
		default:
			b.WriteString(" ")
		}
		b.WriteString(l.Text)
		b.WriteString("\n")
	}
	return b.String()
}

func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, "\n")
	if parts[len(parts)-1] == "" {
		parts = parts[:len(parts)-1]
	}
	return parts
}

func countLines(s string) int {
	if s == "" {
		return 0
	}
	return strings.Count(s, "\n") + 1
}
