package backend

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/format/index"
	"github.com/go-git/go-git/v5/plumbing/object"
)

const stashRefName = plumbing.ReferenceName("refs/stash")

// stashLog returns the stash reflog, newest first.
func (n *native) stashLog() ([]reflogEntry, error) {
	data, err := os.ReadFile(filepath.Join(n.gitDir, "logs", "refs", "stash"))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var entries []reflogEntry
	for _, line := range strings.Split(string(data), "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		e, err := parseReflogLine(line)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	slices.Reverse(entries)
	return entries, nil
}

// writeStashLog rewrites the reflog and points refs/stash at the newest entry.
func (n *native) writeStashLog(entries []reflogEntry) error {
	logPath := filepath.Join(n.gitDir, "logs", "refs", "stash")
	if len(entries) == 0 {
		if err := os.Remove(logPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		err := n.repo.Storer.RemoveReference(stashRefName)
		if err != nil && !errors.Is(err, plumbing.ErrReferenceNotFound) {
			return err
		}
		return nil
	}
	var b strings.Builder
	for i := len(entries) - 1; i >= 0; i-- {
		b.WriteString(formatReflogLine(entries[i]))
	}
	if err := os.MkdirAll(filepath.Dir(logPath), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(logPath, []byte(b.String()), 0o644); err != nil {
		return err
	}
	return n.repo.Storer.SetReference(plumbing.NewHashReference(stashRefName, plumbing.NewHash(entries[0].New)))
}

func (n *native) StashList(ctx context.Context) ([]Stash, error) {
	entries, err := n.stashLog()
	if err != nil {
		return nil, err
	}
	stashes := make([]Stash, 0, len(entries))
	for i, e := range entries {
		stashes = append(stashes, Stash{
			Index:   i,
			Message: e.Message,
			Branch:  parseStashSubject(e.Message),
			Commit:  e.New,
		})
	}
	return stashes, nil
}

func (n *native) untrackedFiles(ctx context.Context) ([]string, error) {
	st, err := n.Status(ctx)
	if err != nil {
		return nil, err
	}
	var paths []string
	for _, e := range st {
		if e.Untracked {
			paths = append(paths, e.Path)
		}
	}
	return paths, nil
}

// StashPush records the index and the working tree as a stash commit in the
// layout git uses, then resets them to HEAD.
func (n *native) StashPush(ctx context.Context, message string, includeUntracked bool) error {
	if err := n.lockIndex(); err != nil {
		return err
	}
	defer n.unlockIndex()
	head, err := n.headCommit()
	if err != nil {
		return err
	}
	if head == nil {
		return Invalid("HEAD", "cannot stash before the initial commit")
	}
	idx, err := n.repo.Storer.Index()
	if err != nil {
		return err
	}
	if paths := unmergedIndexPaths(idx); len(paths) > 0 {
		return fmt.Errorf("%w: unmerged paths %s", ErrConflictPending, strings.Join(paths, ", "))
	}
	headFiles, err := n.commitFiles(head)
	if err != nil {
		return err
	}
	dirty := n.trackedChanges(idx, headFiles)
	var untracked []string
	if includeUntracked {
		if untracked, err = n.untrackedFiles(ctx); err != nil {
			return err
		}
	}
	if len(dirty) == 0 && len(untracked) == 0 {
		return ErrNothingToCommit
	}

	sig, err := n.identity()
	if err != nil {
		return err
	}
	st, err := n.HeadState(ctx)
	if err != nil {
		return err
	}
	branch := st.Branch
	if branch == "" {
		branch = "(no branch)"
	}
	onto := fmt.Sprintf("%s: %s %s", branch, shortHash(head.Hash.String()), summaryOf(head))

	staged := indexFiles(idx)
	indexTree, err := n.writeTree(staged)
	if err != nil {
		return err
	}
	indexCommit, err := n.writeCommit(&object.Commit{
		Author: sig, Committer: sig, TreeHash: indexTree,
		ParentHashes: []plumbing.Hash{head.Hash},
		Message:      "index on " + onto + "\n",
	})
	if err != nil {
		return err
	}

	work := fileSet{}
	for p, f := range staged {
		work[p] = f
	}
	for _, p := range dirty {
		tmp := &index.Index{}
		if err := n.stagePath(tmp, p); err != nil {
			var verr *ValidationError
			if errors.As(err, &verr) {
				// Deleted in the working tree.
				delete(work, p)
				continue
			}
			return err
		}
		if len(tmp.Entries) == 0 {
			delete(work, p)
			continue
		}
		e := tmp.Entries[0]
		work[p] = treeFile{hash: e.Hash, mode: e.Mode}
	}
	workTree, err := n.writeTree(work)
	if err != nil {
		return err
	}
	parents := []plumbing.Hash{head.Hash, indexCommit}

	if len(untracked) > 0 {
		tmp := &index.Index{}
		for _, p := range untracked {
			if err := n.stagePath(tmp, p); err != nil {
				return err
			}
		}
		untrackedTree, err := n.writeTree(indexFiles(tmp))
		if err != nil {
			return err
		}
		untrackedCommit, err := n.writeCommit(&object.Commit{
			Author: sig, Committer: sig, TreeHash: untrackedTree,
			Message: "untracked files on " + onto + "\n",
		})
		if err != nil {
			return err
		}
		parents = append(parents, untrackedCommit)
	}

	subject := "WIP on " + onto
	if message != "" {
		subject = "On " + branch + ": " + message
	}
	stash, err := n.writeCommit(&object.Commit{
		Author: sig, Committer: sig, TreeHash: workTree,
		ParentHashes: parents,
		Message:      subject + "\n",
	})
	if err != nil {
		return err
	}

	entries, err := n.stashLog()
	if err != nil {
		return err
	}
	old := plumbing.ZeroHash.String()
	if len(entries) > 0 {
		old = entries[0].New
	}
	entries = append([]reflogEntry{{
		Old: old, New: stash.String(),
		Name: sig.Name, Email: sig.Email, When: sig.When,
		Message: subject,
	}}, entries...)
	if err := n.writeStashLog(entries); err != nil {
		return err
	}

	if err := n.resetHard(head); err != nil {
		return err
	}
	for _, p := range untracked {
		if err := n.removeWorktreeFile(p); err != nil {
			return err
		}
	}
	return nil
}

func (n *native) stashEntry(index int) ([]reflogEntry, *object.Commit, error) {
	entries, err := n.stashLog()
	if err != nil {
		return nil, nil, err
	}
	if index < 0 || index >= len(entries) {
		return nil, nil, refNotFound(fmt.Sprintf("stash@{%d}", index))
	}
	c, err := n.repo.CommitObject(plumbing.NewHash(entries[index].New))
	if err != nil {
		return nil, nil, err
	}
	return entries, c, nil
}

// StashApply merges a stash into the working tree. Files the stash added are
// staged, everything else is left unstaged. The stash is kept when the merge
// stops on conflicts, even with pop.
func (n *native) StashApply(ctx context.Context, pos int, pop bool) error {
	if err := n.lockIndex(); err != nil {
		return err
	}
	defer n.unlockIndex()
	_, stash, err := n.stashEntry(pos)
	if err != nil {
		return err
	}
	if stash.NumParents() < 2 {
		return Invalid("stash", "stash@{%d} is not a stash commit", pos)
	}
	base, err := stash.Parent(0)
	if err != nil {
		return err
	}
	head, err := n.headCommit()
	if err != nil {
		return err
	}
	baseFiles, err := n.commitFiles(base)
	if err != nil {
		return err
	}
	oursFiles, err := n.commitFiles(head)
	if err != nil {
		return err
	}
	theirsFiles, err := n.commitFiles(stash)
	if err != nil {
		return err
	}
	var untracked fileSet
	if stash.NumParents() > 2 {
		u, err := stash.Parent(2)
		if err != nil {
			return err
		}
		if untracked, err = n.commitFiles(u); err != nil {
			return err
		}
	}
	for p := range untracked {
		if _, err := os.Lstat(n.abs(p)); err == nil {
			return Invalid("worktree", "%s already exists, no checkout", p)
		}
	}

	result, conflicts, err := n.mergeTrees(baseFiles, oursFiles, theirsFiles, mergeLabels{Ours: "Updated upstream", Theirs: "Stashed changes"})
	if err != nil {
		return err
	}
	changes := diffSets(oursFiles, result)
	idx, err := n.repo.Storer.Index()
	if err != nil {
		return err
	}
	var blocked []string
	for _, p := range n.trackedChanges(idx, oursFiles) {
		_, changed := changes[p]
		_, conflicted := conflicts[p]
		if changed || conflicted {
			blocked = append(blocked, p)
		}
	}
	if len(blocked) > 0 {
		return Invalid("worktree", "local changes would be overwritten by stash apply: %s", strings.Join(blocked, ", "))
	}

	for _, p := range sortedKeys(changes) {
		f := changes[p]
		if f == nil {
			if err := n.removeWorktreeFile(p); err != nil {
				return err
			}
			setEntries(idx, p)
			continue
		}
		if err := n.writeWorktreeFile(p, *f); err != nil {
			return err
		}
		if _, tracked := oursFiles[p]; !tracked {
			e := &index.Entry{Name: p, Hash: f.hash, Mode: f.mode}
			n.stat(p, e)
			setEntries(idx, p, e)
		}
	}
	for _, p := range sortedKeys(conflicts) {
		if err := n.writeConflict(idx, p, conflicts[p]); err != nil {
			return err
		}
	}
	for p, f := range untracked {
		if err := n.writeWorktreeFile(p, f); err != nil {
			return err
		}
	}
	sortIndex(idx)
	if err := n.repo.Storer.SetIndex(idx); err != nil {
		return err
	}
	if len(conflicts) > 0 {
		return &ConflictError{Op: "stash", Commit: stash.Hash.String(), Paths: sortedKeys(conflicts)}
	}
	if pop {
		return n.stashDrop(pos)
	}
	return nil
}

func (n *native) StashDrop(ctx context.Context, index int) error {
	if err := n.lockRef(stashRefName); err != nil {
		return err
	}
	defer n.unlockRef(stashRefName)
	return n.stashDrop(index)
}

func (n *native) stashDrop(index int) error {
	entries, _, err := n.stashEntry(index)
	if err != nil {
		return err
	}
	entries = slices.Delete(entries, index, index+1)
	for i := range entries {
		entries[i].Old = plumbing.ZeroHash.String()
		if i+1 < len(entries) {
			entries[i].Old = entries[i+1].New
		}
	}
	return n.writeStashLog(entries)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
