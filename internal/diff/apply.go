package diff

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrHunkOutOfRange = errors.New("hunk index out of range")
	ErrLineOutOfRange = errors.New("line index out of range")
	ErrContextLine    = errors.New("context lines cannot be applied")
	ErrMismatch       = errors.New("hunk does not match content")
)

// ApplyHunk applies only hunks[index] onto oldText.
func ApplyHunk(oldText string, hunks []Hunk, index int) (string, error) {
	if index < 0 || index >= len(hunks) {
		return "", fmt.Errorf("%w: %d of %d", ErrHunkOutOfRange, index, len(hunks))
	}
	h := hunks[index]
	lines := SplitLines(oldText)
	start := hunkOldOffset(h)
	if start > len(lines) || start+h.OldLines > len(lines) {
		return "", fmt.Errorf("%w: hunk %s beyond %d lines", ErrMismatch, h.Header(), len(lines))
	}
	var replacement []string
	pos := start
	for _, l := range h.Lines {
		switch l.Kind {
		case Context, Remove:
			if pos >= len(lines) || lines[pos] != l.text() {
				return "", fmt.Errorf("%w: line %d", ErrMismatch, pos+1)
			}
			pos++
			if l.Kind == Context {
				replacement = append(replacement, l.text())
			}
		case Add:
			replacement = append(replacement, l.text())
		}
	}
	out := make([]string, 0, len(lines)-h.OldLines+len(replacement))
	out = append(out, lines[:start]...)
	out = append(out, replacement...)
	out = append(out, lines[start+h.OldLines:]...)
	return joinLines(out), nil
}

// ApplyAll applies every hunk onto oldText. Hunks are applied from the last
// to the first so earlier offsets stay valid.
func ApplyAll(oldText string, hunks []Hunk) (string, error) {
	out := oldText
	for i := len(hunks) - 1; i >= 0; i-- {
		var err error
		if out, err = ApplyHunk(out, hunks, i); err != nil {
			return "", err
		}
	}
	return out, nil
}

// ApplyLine applies a single add or remove line of hunks[hunkIndex] onto
// oldText. The insertion point is found by walking the hunk's preceding lines
// with a running offset: lines present in oldText advance it, added lines
// do not.
func ApplyLine(oldText string, hunks []Hunk, hunkIndex, lineIndex int) (string, error) {
	if hunkIndex < 0 || hunkIndex >= len(hunks) {
		return "", fmt.Errorf("%w: %d of %d", ErrHunkOutOfRange, hunkIndex, len(hunks))
	}
	h := hunks[hunkIndex]
	if lineIndex < 0 || lineIndex >= len(h.Lines) {
		return "", fmt.Errorf("%w: %d of %d", ErrLineOutOfRange, lineIndex, len(h.Lines))
	}
	target := h.Lines[lineIndex]
	if target.Kind == Context {
		return "", ErrContextLine
	}
	lines := SplitLines(oldText)
	pos := hunkOldOffset(h)
	for _, l := range h.Lines[:lineIndex] {
		if l.Kind != Add {
			pos++
		}
	}
	if pos > len(lines) {
		return "", fmt.Errorf("%w: line %d beyond %d lines", ErrMismatch, pos+1, len(lines))
	}
	out := make([]string, 0, len(lines)+1)
	out = append(out, lines[:pos]...)
	switch target.Kind {
	case Add:
		out = append(out, target.text())
		out = append(out, lines[pos:]...)
	case Remove:
		if pos == len(lines) || lines[pos] != target.text() {
			return "", fmt.Errorf("%w: line %d", ErrMismatch, pos+1)
		}
		out = append(out, lines[pos+1:]...)
	}
	return joinLines(out), nil
}

// Invert swaps the direction of hunks so that applying them onto the new
// side reverts changes.
func Invert(hunks []Hunk) []Hunk {
	out := make([]Hunk, len(hunks))
	for i, h := range hunks {
		inv := Hunk{
			OldStart: h.NewStart,
			OldLines: h.NewLines,
			NewStart: h.OldStart,
			NewLines: h.OldLines,
			Lines:    make([]Line, len(h.Lines)),
		}
		for j, l := range h.Lines {
			l.OldLine, l.NewLine = l.NewLine, l.OldLine
			switch l.Kind {
			case Add:
				l.Kind = Remove
			case Remove:
				l.Kind = Add
			}
			inv.Lines[j] = l
		}
		out[i] = inv
	}
	return out
}

// ReverseHunk reverts hunks[index] on newText, where hunks go from some old
// text to newText.
func ReverseHunk(newText string, hunks []Hunk, index int) (string, error) {
	return ApplyHunk(newText, Invert(hunks), index)
}

// ReverseLine reverts a single line of hunks[hunkIndex] on newText.
func ReverseLine(newText string, hunks []Hunk, hunkIndex, lineIndex int) (string, error) {
	return ApplyLine(newText, Invert(hunks), hunkIndex, lineIndex)
}

func hunkOldOffset(h Hunk) int {
	if h.OldLines == 0 {
		return h.OldStart
	}
	return h.OldStart - 1
}

// joinLines concatenates lines, terminating any line that lost its final
// position and has no newline.
func joinLines(lines []string) string {
	var b strings.Builder
	for i, l := range lines {
		b.WriteString(l)
		if i < len(lines)-1 && !strings.HasSuffix(l, "\n") {
			b.WriteByte('\n')
		}
	}
	return b.String()
}
