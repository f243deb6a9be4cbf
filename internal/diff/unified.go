package diff

import (
	"regexp"
	"strconv"
	"strings"
)

// FileDiff is one "diff --git" section of a patch.
type FileDiff struct {
	OldPath string
	Path    string
	Binary  bool
	Hunks   []Hunk
}

var hunkHeaderRe = regexp.MustCompile(`^@@ -(\d+)(?:,(\d+))? \+(\d+)(?:,(\d+))? @@`)

// ParseUnified splits git patch text into per-file sections and parses their
// hunks. Intra-line ranges are recomputed for the parsed lines.
func ParseUnified(text string) []FileDiff {
	var files []FileDiff
	var cur *FileDiff
	var hunk *Hunk
	oldNo, newNo := 0, 0
	flushHunk := func() {
		if cur != nil && hunk != nil {
			annotateIntraLine(hunk.Lines)
			cur.Hunks = append(cur.Hunks, *hunk)
		}
		hunk = nil
	}
	for _, line := range strings.Split(text, "\n") {
		switch {
		case strings.HasPrefix(line, "diff --git "):
			flushHunk()
			files = append(files, FileDiff{})
			cur = &files[len(files)-1]
			cur.OldPath, cur.Path = parseGitDiffPaths(line)
		case cur == nil:
			continue
		case strings.HasPrefix(line, "@@"):
			flushHunk()
			m := hunkHeaderRe.FindStringSubmatch(line)
			if m == nil {
				continue
			}
			hunk = &Hunk{
				OldStart: atoi(m[1]),
				OldLines: atoiDefault(m[2], 1),
				NewStart: atoi(m[3]),
				NewLines: atoiDefault(m[4], 1),
			}
			oldNo, newNo = hunk.OldStart, hunk.NewStart
			if hunk.OldLines == 0 {
				oldNo++
			}
			if hunk.NewLines == 0 {
				newNo++
			}
		case hunk == nil:
			if strings.HasPrefix(line, "Binary files ") || line == "GIT binary patch" {
				cur.Binary = true
			}
			if p, ok := strings.CutPrefix(line, "rename from "); ok {
				cur.OldPath = p
			}
			if p, ok := strings.CutPrefix(line, "rename to "); ok {
				cur.Path = p
			}
		case strings.HasPrefix(line, `\`):
			if n := len(hunk.Lines); n > 0 {
				hunk.Lines[n-1].NoEOL = true
			}
		case strings.HasPrefix(line, "+"):
			hunk.Lines = append(hunk.Lines, Line{Kind: Add, Content: line[1:], NewLine: newNo})
			newNo++
		case strings.HasPrefix(line, "-"):
			hunk.Lines = append(hunk.Lines, Line{Kind: Remove, Content: line[1:], OldLine: oldNo})
			oldNo++
		case strings.HasPrefix(line, " "):
			hunk.Lines = append(hunk.Lines, Line{Kind: Context, Content: line[1:], OldLine: oldNo, NewLine: newNo})
			oldNo++
			newNo++
		}
	}
	flushHunk()
	return files
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

func atoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	return atoi(s)
}

func parseGitDiffPaths(line string) (string, string) {
	const prefix = "diff --git "
	tokens := diffLineTokens(strings.TrimSpace(strings.TrimPrefix(line, prefix)))
	if len(tokens) < 2 {
		return "", ""
	}
	return strings.TrimPrefix(tokens[0], "a/"), strings.TrimPrefix(tokens[1], "b/")
}

// diffLineTokens splits a diff header, honouring git's quoted paths.
func diffLineTokens(s string) []string {
	var tokens []string
	for {
		s = strings.TrimLeft(s, " \t")
		if s == "" {
			break
		}
		if s[0] == '"' {
			var buf strings.Builder
			escaped := false
			i := 1
			for ; i < len(s); i++ {
				ch := s[i]
				if escaped {
					buf.WriteByte(ch)
					escaped = false
					continue
				}
				if ch == '\\' {
					escaped = true
					continue
				}
				if ch == '"' {
					i++
					break
				}
				buf.WriteByte(ch)
			}
			tokens = append(tokens, buf.String())
			s = s[i:]
			continue
		}
		j := strings.IndexAny(s, " \t")
		if j < 0 {
			j = len(s)
		}
		tokens = append(tokens, s[:j])
		s = s[j:]
	}
	return tokens
}
