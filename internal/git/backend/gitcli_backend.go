package backend

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

func (g *gitCLI) HeadState(ctx context.Context) (HeadState, error) {
	out, err := g.run(ctx, []string{"rev-parse", "-q", "--verify", "HEAD"}, runOpts{allowExit1: true})
	if err != nil {
		return HeadState{}, err
	}
	var st HeadState
	st.Hash = strings.TrimSpace(out)
	ref, err := g.run(ctx, []string{"symbolic-ref", "-q", "--short", "HEAD"}, runOpts{allowExit1: true})
	if err != nil {
		return HeadState{}, err
	}
	st.Branch = strings.TrimSpace(ref)
	return st, nil
}

func (g *gitCLI) ResolveRef(ctx context.Context, ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if err := validateRev(ref); err != nil {
		return "", err
	}
	out, err := g.run(ctx, []string{"rev-parse", "-q", "--verify", ref + "^{commit}"}, runOpts{allowExit1: true})
	if err != nil {
		if errors.Is(err, ErrRefNotFound) || exitCode(err) == 128 {
			return "", refNotFound(ref)
		}
		return "", err
	}
	hash := strings.TrimSpace(out)
	if hash == "" {
		return "", refNotFound(ref)
	}
	return hash, nil
}

func validateRev(rev string) error {
	switch {
	case rev == "":
		return Invalid("ref", "empty reference")
	case strings.HasPrefix(rev, "-"):
		return Invalid("ref", "%q must not start with '-'", rev)
	case strings.ContainsAny(rev, "\x00\n"):
		return Invalid("ref", "%q contains control characters", rev)
	}
	return nil
}

func (g *gitCLI) ListRefs(ctx context.Context) ([]Ref, error) {
	out, err := g.run(ctx, []string{"--no-pager", "show-ref", "--dereference"}, runOpts{allowExit1: true})
	if err != nil {
		return nil, err
	}
	return parseRefsFromShowRef(out)
}

func (g *gitCLI) Upstream(ctx context.Context, branch string) (string, error) {
	if err := validateRev(branch); err != nil {
		return "", err
	}
	out, err := g.git(ctx, "rev-parse", "--abbrev-ref", "--symbolic-full-name", branch+"@{upstream}")
	if err != nil {
		return "", refNotFound(branch + "@{upstream}")
	}
	return strings.TrimSpace(out), nil
}

func (g *gitCLI) Log(ctx context.Context, opts LogOptions) ([]Commit, error) {
	from := opts.From
	if from == "" {
		from = "HEAD"
	}
	if err := validateRev(from); err != nil {
		return nil, err
	}
	args := []string{
		"--no-pager", "log", "--no-color", "--no-decorate", "--no-patch",
		"--pretty=tformat:" + logFormat,
	}
	if opts.MaxCount > 0 {
		args = append(args, "-n", strconv.Itoa(opts.MaxCount))
	}
	args = append(args, from)
	if opts.Path != "" {
		args = append(args, "--", opts.Path)
	}
	out, err := g.git(ctx, args...)
	if err != nil {
		if errors.Is(err, ErrRefNotFound) {
			return nil, refNotFound(from)
		}
		return nil, err
	}
	return parseGitLog(out)
}

func (g *gitCLI) CommitInfo(ctx context.Context, rev string) (*Commit, error) {
	commits, err := g.Log(ctx, LogOptions{From: rev, MaxCount: 1})
	if err != nil {
		return nil, err
	}
	if len(commits) == 0 {
		return nil, refNotFound(rev)
	}
	return &commits[0], nil
}

func (g *gitCLI) CommitChanges(ctx context.Context, hash string) ([]ChangedFile, error) {
	c, err := g.CommitInfo(ctx, hash)
	if err != nil {
		return nil, err
	}
	args := []string{"diff-tree", "-r", "-z", "--name-status", "-M", "--no-commit-id"}
	if len(c.ParentHashes) == 0 {
		args = append(args, "--root", c.Hash)
	} else {
		args = append(args, c.ParentHashes[0], c.Hash)
	}
	out, err := g.git(ctx, args...)
	if err != nil {
		return nil, err
	}
	return parseNameStatusZ(out)
}

func (g *gitCLI) IsAncestor(ctx context.Context, ancestor, descendant string) (bool, error) {
	_, err := g.git(ctx, "merge-base", "--is-ancestor", ancestor, descendant)
	if err == nil {
		return true, nil
	}
	if exitCode(err) == 1 {
		return false, nil
	}
	return false, err
}

func (g *gitCLI) FileAt(ctx context.Context, rev, path string) ([]byte, bool, error) {
	hash, err := g.ResolveRef(ctx, rev)
	if err != nil {
		return nil, false, err
	}
	out, err := g.git(ctx, "ls-tree", "-z", hash, "--", path)
	if err != nil {
		return nil, false, err
	}
	obj, ok := blobFromLsTree(out, path)
	if !ok {
		return nil, false, nil
	}
	data, err := g.git(ctx, "cat-file", "blob", obj)
	if err != nil {
		return nil, false, err
	}
	return []byte(data), true, nil
}

// blobFromLsTree picks the blob id out of "<mode> blob <hash>\t<path>\x00".
func blobFromLsTree(out, path string) (string, bool) {
	for _, rec := range strings.Split(out, "\x00") {
		meta, name, ok := strings.Cut(rec, "\t")
		if !ok || name != path {
			continue
		}
		fields := strings.Fields(meta)
		if len(fields) == 3 && fields[1] == "blob" {
			return fields[2], true
		}
	}
	return "", false
}

func (g *gitCLI) IndexFile(ctx context.Context, path string) ([]byte, bool, error) {
	out, err := g.git(ctx, "ls-files", "-s", "-z", "--", path)
	if err != nil {
		return nil, false, err
	}
	obj, ok := blobFromLsFiles(out, path)
	if !ok {
		return nil, false, nil
	}
	data, err := g.git(ctx, "cat-file", "blob", obj)
	if err != nil {
		return nil, false, err
	}
	return []byte(data), true, nil
}

func (g *gitCLI) IndexPaths(ctx context.Context) ([]string, error) {
	out, err := g.git(ctx, "ls-files", "-z")
	if err != nil {
		return nil, err
	}
	var paths []string
	for _, p := range strings.Split(out, "\x00") {
		// Unmerged paths are listed once per stage.
		if p != "" && (len(paths) == 0 || paths[len(paths)-1] != p) {
			paths = append(paths, p)
		}
	}
	return paths, nil
}

// blobFromLsFiles returns the stage 0 blob of path, or "ours" (stage 2)
// while the path is conflicted.
func blobFromLsFiles(out, path string) (string, bool) {
	stages := map[string]string{}
	for _, rec := range strings.Split(out, "\x00") {
		meta, name, ok := strings.Cut(rec, "\t")
		if !ok || name != path {
			continue
		}
		fields := strings.Fields(meta)
		if len(fields) == 3 {
			stages[fields[2]] = fields[1]
		}
	}
	if h, ok := stages["0"]; ok {
		return h, true
	}
	h, ok := stages["2"]
	return h, ok
}

func (g *gitCLI) Status(ctx context.Context) ([]StatusEntry, error) {
	out, err := g.git(ctx, "status", "--porcelain=v2", "-z", "--untracked-files=all", "--no-renames")
	if err != nil {
		return nil, err
	}
	entries, err := parseStatusPorcelainV2(strings.NewReader(out))
	if err != nil {
		return nil, fmt.Errorf("parse git status: %w", err)
	}
	return entries, nil
}

func (g *gitCLI) OperationState(ctx context.Context) (Operation, error) {
	return operationFromGitDir(g.gitDir)
}

// splitNUL is a bufio.SplitFunc for NUL-terminated records.
func splitNUL(data []byte, atEOF bool) (int, []byte, error) {
	if i := bytes.IndexByte(data, 0); i >= 0 {
		return i + 1, data[:i], nil
	}
	if atEOF && len(data) > 0 {
		return len(data), data, nil
	}
	return 0, nil, nil
}

// parseStatusPorcelainV2 parses `git status --porcelain=v2 -z`.
func parseStatusPorcelainV2(r io.Reader) ([]StatusEntry, error) {
	var res []StatusEntry
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	scanner.Split(splitNUL)
	for scanner.Scan() {
		line := scanner.Text()
		if len(line) < 2 {
			continue
		}
		switch line[0] {
		case '1', '2', 'u':
			if len(line) < 4 {
				continue
			}
			// Ordinary entries have 8 fields before the path, renames 9 and
			// unmerged entries 10.
			n := 8
			switch line[0] {
			case '2':
				n = 9
			case 'u':
				n = 10
			}
			fields := strings.SplitN(line, " ", n+1)
			if len(fields) != n+1 {
				return nil, fmt.Errorf("unexpected status record %q", line)
			}
			e := StatusEntry{Path: fields[n]}
			if line[0] == 'u' {
				e.Staged, e.Unstaged = ChangeConflicted, ChangeConflicted
				res = append(res, e)
				continue
			}
			e.Staged = changeKindFromStatusCode(line[2])
			e.Unstaged = changeKindFromStatusCode(line[3])
			if line[0] == '2' {
				if !scanner.Scan() {
					return nil, fmt.Errorf("rename record for %q has no source path", e.Path)
				}
				e.OrigPath = scanner.Text()
			}
			res = append(res, e)
		case '?':
			res = append(res, StatusEntry{Path: line[2:], Untracked: true})
		default:
			// '!' ignored, '#' headers.
		}
	}
	return res, scanner.Err()
}

func changeKindFromStatusCode(c byte) ChangeKind {
	if c == '.' {
		return ChangeNone
	}
	return changeKindFromCode(c)
}

func parseRefsFromShowRef(out string) ([]Ref, error) {
	type refEntry struct {
		hash string
		ref  string
	}

	peeledByTagRef := map[string]string{}
	var entries []refEntry

	for _, rawLine := range strings.Split(out, "\n") {
		line := strings.TrimRight(rawLine, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		parts := strings.Fields(line)
		if len(parts) != 2 {
			return nil, fmt.Errorf("unexpected show-ref output line: %q", rawLine)
		}
		hash := strings.TrimSpace(parts[0])
		refName := strings.TrimSpace(parts[1])
		if hash == "" || refName == "" {
			return nil, fmt.Errorf("unexpected show-ref output line: %q", rawLine)
		}
		if strings.HasSuffix(refName, "^{}") {
			base := strings.TrimSuffix(refName, "^{}")
			if base != "" {
				peeledByTagRef[base] = hash
			}
			continue
		}
		entries = append(entries, refEntry{hash: hash, ref: refName})
	}

	var refs []Ref
	for _, entry := range entries {
		ref, ok := refFromFullName(entry.ref, entry.hash)
		if !ok {
			continue
		}
		if peeled, ok := peeledByTagRef[entry.ref]; ok && peeled != "" && ref.Kind == RefKindTag {
			ref.Hash = peeled
		}
		refs = append(refs, ref)
	}
	return refs, nil
}

// refFromFullName classifies refs/heads, refs/remotes and refs/tags names.
func refFromFullName(name, hash string) (Ref, bool) {
	prefixes := []struct {
		prefix string
		kind   RefKind
	}{
		{"refs/heads/", RefKindBranch},
		{"refs/remotes/", RefKindRemoteBranch},
		{"refs/tags/", RefKindTag},
	}
	for _, p := range prefixes {
		if short, ok := strings.CutPrefix(name, p.prefix); ok && short != "" {
			return Ref{Hash: hash, Kind: p.kind, Name: short}, true
		}
	}
	return Ref{}, false
}
