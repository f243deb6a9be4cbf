package backend

import (
	"bufio"
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"
)

// logFormat prints NUL-delimited records; commit messages cannot contain NUL.
const logFormat = "%H%n%P%n%T%n%an%n%ae%n%aI%n%cn%n%ce%n%cI%n%B%x00"

const logRecordHeader = 9

func parseGitLog(out string) ([]Commit, error) {
	var commits []Commit
	for _, rec := range strings.Split(out, "\x00") {
		// git log prints a newline between records even when the format ends
		// with NUL, so records can start with '\n'.
		rec = strings.TrimLeft(rec, "\r\n")
		if rec == "" {
			continue
		}
		c, err := parseGitLogRecord([]byte(rec))
		if err != nil {
			return nil, err
		}
		commits = append(commits, *c)
	}
	return commits, nil
}

func parseGitLogRecord(rec []byte) (*Commit, error) {
	parts := strings.Split(string(rec), "\n")
	if len(parts) < logRecordHeader {
		return nil, fmt.Errorf("unexpected git log record: got %d lines", len(parts))
	}
	hashStr := strings.TrimSpace(parts[0])
	if hashStr == "" {
		return nil, fmt.Errorf("missing commit hash")
	}
	var parents []string
	if parentLine := strings.TrimSpace(parts[1]); parentLine != "" {
		parents = strings.Fields(parentLine)
	}
	authorWhen, _ := time.Parse(time.RFC3339, parts[5])
	committerWhen, _ := time.Parse(time.RFC3339, parts[8])
	message := ""
	if len(parts) > logRecordHeader {
		message = strings.Join(parts[logRecordHeader:], "\n")
	}
	return &Commit{
		Hash:         hashStr,
		ParentHashes: parents,
		Tree:         strings.TrimSpace(parts[2]),
		Author:       Signature{Name: parts[3], Email: parts[4], When: authorWhen},
		Committer:    Signature{Name: parts[6], Email: parts[7], When: committerWhen},
		Message:      message,
	}, nil
}

// parseNameStatusZ parses `git diff-tree --name-status -z` output.
func parseNameStatusZ(out string) ([]ChangedFile, error) {
	tokens := strings.Split(strings.TrimRight(out, "\x00"), "\x00")
	var files []ChangedFile
	for i := 0; i < len(tokens); i++ {
		status := tokens[i]
		if status == "" {
			continue
		}
		kind := changeKindFromCode(status[0])
		switch status[0] {
		case 'R', 'C':
			if i+2 >= len(tokens) {
				return nil, fmt.Errorf("truncated rename record %q", status)
			}
			files = append(files, ChangedFile{OrigPath: tokens[i+1], Path: tokens[i+2], Kind: kind})
			i += 2
		default:
			if i+1 >= len(tokens) {
				return nil, fmt.Errorf("truncated name-status record %q", status)
			}
			files = append(files, ChangedFile{Path: tokens[i+1], Kind: kind})
			i++
		}
	}
	return files, nil
}

func changeKindFromCode(c byte) ChangeKind {
	switch c {
	case 'A':
		return ChangeAdded
	case 'D':
		return ChangeDeleted
	case 'R', 'C':
		return ChangeRenamed
	case 'U':
		return ChangeConflicted
	case 'M', 'T':
		return ChangeModified
	default:
		return ChangeNone
	}
}

var blameHeaderRe = regexp.MustCompile(`^([0-9a-f]{40,64}) (\d+) (\d+)(?: (\d+))?$`)

type blameCommitInfo struct {
	author  string
	email   string
	when    time.Time
	summary string
}

// parseBlamePorcelain parses `git blame --porcelain`. Commit metadata is only
// printed the first time a commit appears, so it is remembered by hash.
func parseBlamePorcelain(out string) ([]BlameLine, error) {
	infos := map[string]*blameCommitInfo{}
	var (
		lines   []BlameLine
		current *BlameLine
		info    *blameCommitInfo
		unix    int64
		tz      string
	)
	sc := bufio.NewScanner(strings.NewReader(out))
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for sc.Scan() {
		line := sc.Text()
		if current == nil {
			m := blameHeaderRe.FindStringSubmatch(line)
			if m == nil {
				if strings.TrimSpace(line) == "" {
					continue
				}
				return nil, fmt.Errorf("unexpected blame header %q", line)
			}
			final, _ := strconv.Atoi(m[3])
			current = &BlameLine{LineNo: final, Commit: m[1]}
			info = infos[m[1]]
			if info == nil {
				info = &blameCommitInfo{}
				infos[m[1]] = info
			}
			unix, tz = 0, ""
			continue
		}
		if strings.HasPrefix(line, "\t") {
			if unix != 0 {
				info.when = blameTime(unix, tz)
			}
			current.Content = line[1:]
			current.Author = info.author
			current.Email = info.email
			current.Date = info.when
			current.Summary = info.summary
			lines = append(lines, *current)
			current = nil
			continue
		}
		key, value, _ := strings.Cut(line, " ")
		switch key {
		case "author":
			info.author = value
		case "author-mail":
			info.email = strings.TrimSuffix(strings.TrimPrefix(value, "<"), ">")
		case "author-time":
			unix, _ = strconv.ParseInt(value, 10, 64)
		case "author-tz":
			tz = value
		case "summary":
			info.summary = value
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if current != nil {
		return nil, fmt.Errorf("blame record for line %d has no content", current.LineNo)
	}
	return lines, nil
}

func blameTime(unix int64, tz string) time.Time {
	t := time.Unix(unix, 0)
	if loc, ok := parseTZ(tz); ok {
		return t.In(loc)
	}
	return t.UTC()
}

// parseTZ parses git's "+0130" offsets.
func parseTZ(tz string) (*time.Location, bool) {
	if len(tz) != 5 || (tz[0] != '+' && tz[0] != '-') {
		return nil, false
	}
	h, err1 := strconv.Atoi(tz[1:3])
	m, err2 := strconv.Atoi(tz[3:5])
	if err1 != nil || err2 != nil {
		return nil, false
	}
	off := h*3600 + m*60
	if tz[0] == '-' {
		off = -off
	}
	return time.FixedZone(tz, off), true
}

type reflogEntry struct {
	Old     string
	New     string
	Name    string
	Email   string
	When    time.Time
	Message string
}

// parseReflogLine parses one line of a file under logs/:
// "<old> <new> <name> <<email>> <unix> <tz>\t<message>".
func parseReflogLine(line string) (reflogEntry, error) {
	head, msg, _ := strings.Cut(strings.TrimRight(line, "\r\n"), "\t")
	old, rest, ok1 := strings.Cut(head, " ")
	newHash, rest, ok2 := strings.Cut(rest, " ")
	lt := strings.LastIndex(rest, "<")
	gt := strings.LastIndex(rest, ">")
	if !ok1 || !ok2 || lt < 0 || gt < lt {
		return reflogEntry{}, fmt.Errorf("malformed reflog line %q", line)
	}
	e := reflogEntry{
		Old:     old,
		New:     newHash,
		Name:    strings.TrimSpace(rest[:lt]),
		Email:   rest[lt+1 : gt],
		Message: msg,
	}
	fields := strings.Fields(rest[gt+1:])
	if len(fields) != 2 {
		return reflogEntry{}, fmt.Errorf("malformed reflog timestamp in %q", line)
	}
	unix, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil {
		return reflogEntry{}, fmt.Errorf("malformed reflog timestamp in %q: %w", line, err)
	}
	e.When = blameTime(unix, fields[1])
	return e, nil
}

func formatReflogLine(e reflogEntry) string {
	return fmt.Sprintf("%s %s %s <%s> %d %s\t%s\n",
		e.Old, e.New, e.Name, e.Email, e.When.Unix(), e.When.Format("-0700"), e.Message)
}

// parseStashSubject extracts the branch from "WIP on main: ..." and
// "On main: ..." subjects.
func parseStashSubject(subject string) string {
	rest, ok := strings.CutPrefix(subject, "WIP on ")
	if !ok {
		rest, ok = strings.CutPrefix(subject, "On ")
	}
	if !ok {
		return ""
	}
	branch, _, _ := strings.Cut(rest, ":")
	return branch
}

// parseStashList parses `git stash list --format=%H%x00%gs`.
func parseStashList(out string) ([]Stash, error) {
	var stashes []Stash
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimRight(line, "\r")
		if line == "" {
			continue
		}
		hash, subject, ok := strings.Cut(line, "\x00")
		if !ok {
			return nil, fmt.Errorf("unexpected stash list line %q", line)
		}
		stashes = append(stashes, Stash{
			Index:   len(stashes),
			Commit:  hash,
			Message: subject,
			Branch:  parseStashSubject(subject),
		})
	}
	return stashes, nil
}

// parseRemotes parses `git remote -v`.
func parseRemotes(out string) []Remote {
	var remotes []Remote
	index := map[string]int{}
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		i, ok := index[fields[0]]
		if !ok {
			i = len(remotes)
			index[fields[0]] = i
			remotes = append(remotes, Remote{Name: fields[0]})
		}
		url := Redact(fields[1])
		if !slices.Contains(remotes[i].URLs, url) {
			remotes[i].URLs = append(remotes[i].URLs, url)
		}
	}
	return remotes
}
