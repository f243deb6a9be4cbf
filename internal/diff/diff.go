// Package diff implements the line and character level text algebra used by
// the repository engine: structural diffs, side-by-side pairing and the
// partial application of hunks and single lines.
package diff

import (
	"fmt"
	"strings"

	"github.com/pmezard/go-difflib/difflib"
)

// ContextLines is the number of unchanged lines kept around each change.
const ContextLines = 3

type LineKind uint8

const (
	Context LineKind = iota
	Add
	Remove
)

func (k LineKind) String() string {
	switch k {
	case Add:
		return "add"
	case Remove:
		return "remove"
	default:
		return "context"
	}
}

// Prefix returns the unified diff marker for the kind.
func (k LineKind) Prefix() byte {
	switch k {
	case Add:
		return '+'
	case Remove:
		return '-'
	default:
		return ' '
	}
}

// Range is a half-open rune range [From, To) inside a line's content.
type Range struct {
	From int `json:"from" yaml:"from"`
	To   int `json:"to" yaml:"to"`
}

// Line is a single diff line. OldLine and NewLine are 1-based; zero means the
// line has no number on that side (add lines have no old number, remove lines
// have no new number).
type Line struct {
	Kind         LineKind `json:"kind" yaml:"kind"`
	Content      string   `json:"content" yaml:"content"`
	OldLine      int      `json:"old_line,omitempty" yaml:"old_line,omitempty"`
	NewLine      int      `json:"new_line,omitempty" yaml:"new_line,omitempty"`
	NoEOL        bool     `json:"no_eol,omitempty" yaml:"no_eol,omitempty"`
	IntraChanges []Range  `json:"intra_changes,omitempty" yaml:"intra_changes,omitempty"`
}

// text returns the line with its original terminator.
func (l Line) text() string {
	if l.NoEOL {
		return l.Content
	}
	return l.Content + "\n"
}

type Hunk struct {
	OldStart int    `json:"old_start" yaml:"old_start"`
	OldLines int    `json:"old_lines" yaml:"old_lines"`
	NewStart int    `json:"new_start" yaml:"new_start"`
	NewLines int    `json:"new_lines" yaml:"new_lines"`
	Lines    []Line `json:"lines" yaml:"lines"`
}

// Header renders the hunk range line, e.g. "@@ -1,3 +1,4 @@".
func (h Hunk) Header() string {
	return fmt.Sprintf("@@ -%s +%s @@", formatRange(h.OldStart, h.OldLines), formatRange(h.NewStart, h.NewLines))
}

func formatRange(start, count int) string {
	if count == 1 {
		return fmt.Sprintf("%d", start)
	}
	return fmt.Sprintf("%d,%d", start, count)
}

// Compute returns the hunks that turn oldText into newText, using a
// longest-common-subsequence line diff with ContextLines lines of context.
// Adjacent remove/add runs carry character level highlight ranges.
func Compute(oldText, newText string) []Hunk {
	if oldText == newText {
		return nil
	}
	a := SplitLines(oldText)
	b := SplitLines(newText)
	m := difflib.NewMatcherWithJunk(a, b, false, nil)
	var hunks []Hunk
	for _, group := range m.GetGroupedOpCodes(ContextLines) {
		hunks = append(hunks, buildHunk(a, b, group))
	}
	for i := range hunks {
		annotateIntraLine(hunks[i].Lines)
	}
	return hunks
}

func buildHunk(a, b []string, group []difflib.OpCode) Hunk {
	first, last := group[0], group[len(group)-1]
	h := Hunk{
		OldStart: first.I1 + 1,
		OldLines: last.I2 - first.I1,
		NewStart: first.J1 + 1,
		NewLines: last.J2 - first.J1,
	}
	// git reports an empty range as starting at the preceding line.
	if h.OldLines == 0 {
		h.OldStart--
	}
	if h.NewLines == 0 {
		h.NewStart--
	}
	for _, op := range group {
		switch op.Tag {
		case 'e':
			for i, j := op.I1, op.J1; i < op.I2; i, j = i+1, j+1 {
				h.Lines = append(h.Lines, newLine(Context, a[i], i+1, j+1))
			}
		case 'r', 'd', 'i':
			for i := op.I1; i < op.I2; i++ {
				h.Lines = append(h.Lines, newLine(Remove, a[i], i+1, 0))
			}
			for j := op.J1; j < op.J2; j++ {
				h.Lines = append(h.Lines, newLine(Add, b[j], 0, j+1))
			}
		}
	}
	return h
}

func newLine(kind LineKind, raw string, oldNo, newNo int) Line {
	content, hasEOL := strings.CutSuffix(raw, "\n")
	return Line{Kind: kind, Content: content, OldLine: oldNo, NewLine: newNo, NoEOL: !hasEOL}
}

// SplitLines splits text into lines keeping their "\n" terminators. The last
// element has no terminator when text does not end with a newline.
func SplitLines(text string) []string {
	if text == "" {
		return nil
	}
	lines := strings.SplitAfter(text, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

// Stats counts added and removed lines across hunks.
func Stats(hunks []Hunk) (additions, deletions int) {
	for _, h := range hunks {
		for _, l := range h.Lines {
			switch l.Kind {
			case Add:
				additions++
			case Remove:
				deletions++
			}
		}
	}
	return additions, deletions
}

// Format renders hunks as unified diff text for path.
func Format(path string, hunks []Hunk) string {
	if len(hunks) == 0 {
		return ""
	}
	var b strings.Builder
	fmt.Fprintf(&b, "--- a/%s\n+++ b/%s\n", path, path)
	for _, h := range hunks {
		b.WriteString(h.Header())
		b.WriteByte('\n')
		for _, l := range h.Lines {
			b.WriteByte(l.Kind.Prefix())
			b.WriteString(l.Content)
			b.WriteByte('\n')
			if l.NoEOL {
				b.WriteString("\\ No newline at end of file\n")
			}
		}
	}
	return b.String()
}
