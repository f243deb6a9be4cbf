package backend

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/format/index"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// conflictFile is one path both sides changed incompatibly. Any of the three
// versions may be missing. worktree is what gets written for the user to
// resolve.
type conflictFile struct {
	base, ours, theirs *treeFile
	worktree           []byte
}

func lookup(files fileSet, p string) *treeFile {
	f, ok := files[p]
	if !ok {
		return nil
	}
	return &f
}

func sameFile(a, b *treeFile) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// mergeTrees merges base→theirs into ours path by path. Paths both sides
// changed are merged line by line; what cannot be merged is returned as a
// conflict and left out of the result.
func (n *native) mergeTrees(base, ours, theirs fileSet, labels mergeLabels) (fileSet, map[string]*conflictFile, error) {
	paths := map[string]bool{}
	for _, s := range []fileSet{base, ours, theirs} {
		for p := range s {
			paths[p] = true
		}
	}
	result := fileSet{}
	conflicts := map[string]*conflictFile{}
	for p := range paths {
		b, o, t := lookup(base, p), lookup(ours, p), lookup(theirs, p)
		var chosen *treeFile
		switch {
		case sameFile(o, t), sameFile(t, b):
			chosen = o
		case sameFile(o, b):
			chosen = t
		default:
			merged, c, err := n.mergeFile(b, o, t, labels)
			if err != nil {
				return nil, nil, err
			}
			if c != nil {
				conflicts[p] = c
				continue
			}
			chosen = merged
		}
		if chosen != nil {
			result[p] = *chosen
		}
	}
	return result, conflicts, nil
}

func (n *native) mergeFile(b, o, t *treeFile, labels mergeLabels) (*treeFile, *conflictFile, error) {
	c := &conflictFile{base: b, ours: o, theirs: t}
	if o == nil || t == nil {
		// modify/delete
		keep := o
		if keep == nil {
			keep = t
		}
		data, err := n.readBlob(keep.hash)
		if err != nil {
			return nil, nil, err
		}
		c.worktree = data
		return nil, c, nil
	}
	ours, err := n.readBlob(o.hash)
	if err != nil {
		return nil, nil, err
	}
	theirs, err := n.readBlob(t.hash)
	if err != nil {
		return nil, nil, err
	}
	var base []byte
	if b != nil {
		if base, err = n.readBlob(b.hash); err != nil {
			return nil, nil, err
		}
	}
	if isBinary(ours) || isBinary(theirs) || isBinary(base) {
		c.worktree = ours
		return nil, c, nil
	}
	merged, clean := merge3(base, ours, theirs, labels)
	if !clean {
		c.worktree = merged
		return nil, c, nil
	}
	mode := o.mode
	if b != nil && o.mode == b.mode {
		mode = t.mode
	}
	h, err := n.writeBlob(merged)
	if err != nil {
		return nil, nil, err
	}
	return &treeFile{hash: h, mode: mode}, nil, nil
}

// pick describes one three-way application onto HEAD.
type pick struct {
	op      string
	subject *object.Commit
	base    *object.Commit
	theirs  *object.Commit
	marker  string
	message string
	author  *object.Signature
	// merge records theirs as a second parent.
	merge  bool
	labels mergeLabels
}

// apply merges p onto HEAD. A clean result is committed; otherwise the merged
// paths, the conflicts and the marker files are written and a *ConflictError
// is returned.
func (n *native) apply(ctx context.Context, p pick) error {
	if op, err := operationFromGitDir(n.gitDir); err != nil {
		return err
	} else if op != OpNone {
		return fmt.Errorf("%w: %s", ErrOperationInProgress, op)
	}
	head, err := n.headCommit()
	if err != nil {
		return err
	}
	if head == nil {
		return Invalid("HEAD", "%s needs at least one commit", p.op)
	}
	baseFiles, err := n.commitFiles(p.base)
	if err != nil {
		return err
	}
	oursFiles, err := n.commitFiles(head)
	if err != nil {
		return err
	}
	theirsFiles, err := n.commitFiles(p.theirs)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	result, conflicts, err := n.mergeTrees(baseFiles, oursFiles, theirsFiles, p.labels)
	if err != nil {
		return err
	}

	changes := diffSets(oursFiles, result)
	for path := range conflicts {
		delete(changes, path)
	}
	idx, err := n.repo.Storer.Index()
	if err != nil {
		return err
	}
	var blocked []string
	for _, path := range n.trackedChanges(idx, oursFiles) {
		if _, ok := changes[path]; ok {
			blocked = append(blocked, path)
		} else if _, ok := conflicts[path]; ok {
			blocked = append(blocked, path)
		}
	}
	if len(blocked) > 0 {
		return Invalid("worktree", "local changes would be overwritten by %s: %s", p.op, strings.Join(blocked, ", "))
	}

	if len(conflicts) == 0 {
		tree, err := n.writeTree(result)
		if err != nil {
			return err
		}
		if tree == head.TreeHash && !p.merge {
			return ErrEmptyCommit
		}
		committer, err := n.identity()
		if err != nil {
			return err
		}
		author := committer
		if p.author != nil {
			author = *p.author
		}
		parents := []plumbing.Hash{head.Hash}
		if p.merge {
			parents = append(parents, p.theirs.Hash)
		}
		h, err := n.writeCommit(&object.Commit{
			Author:       author,
			Committer:    committer,
			Message:      p.message,
			TreeHash:     tree,
			ParentHashes: parents,
		})
		if err != nil {
			return err
		}
		if err := n.applyFiles(idx, changes); err != nil {
			return err
		}
		if err := n.repo.Storer.SetIndex(idx); err != nil {
			return err
		}
		return n.updateHead(h)
	}

	if err := n.applyFiles(idx, changes); err != nil {
		return err
	}
	paths := make([]string, 0, len(conflicts))
	for path, c := range conflicts {
		paths = append(paths, path)
		if err := n.writeConflict(idx, path, c); err != nil {
			return err
		}
	}
	sort.Strings(paths)
	sortIndex(idx)
	if err := n.repo.Storer.SetIndex(idx); err != nil {
		return err
	}
	if err := writeMarker(n.gitDir, p.marker, p.subject.Hash.String()+"\n"); err != nil {
		return err
	}
	if err := writeMarker(n.gitDir, mergeMsg, p.message); err != nil {
		return err
	}
	if p.merge {
		if err := writeMarker(n.gitDir, mergeMode, "no-ff"); err != nil {
			return err
		}
	}
	return &ConflictError{Op: p.op, Commit: p.subject.Hash.String(), Paths: paths}
}

func (n *native) writeConflict(idx *index.Index, path string, c *conflictFile) error {
	var entries []*index.Entry
	for _, s := range []struct {
		f     *treeFile
		stage index.Stage
	}{{c.base, stageBase}, {c.ours, stageOurs}, {c.theirs, stageTheirs}} {
		if s.f != nil {
			entries = append(entries, &index.Entry{Name: path, Hash: s.f.hash, Mode: s.f.mode, Stage: s.stage})
		}
	}
	setEntries(idx, path, entries...)
	mode := c.ours
	if mode == nil {
		mode = c.theirs
	}
	return n.writeWorktreeData(path, c.worktree, mode.mode)
}

func (n *native) CherryPick(ctx context.Context, hash string) error {
	if err := n.lockIndex(); err != nil {
		return err
	}
	defer n.unlockIndex()
	c, err := n.resolve(hash)
	if err != nil {
		return err
	}
	if c.NumParents() > 1 {
		return Invalid("commit", "%s is a merge commit", shortHash(c.Hash.String()))
	}
	var base *object.Commit
	if c.NumParents() == 1 {
		if base, err = c.Parent(0); err != nil {
			return err
		}
	}
	author := c.Author
	return n.apply(ctx, pick{
		op:      "cherry-pick",
		subject: c,
		base:    base,
		theirs:  c,
		marker:  cherryPickHead,
		message: c.Message,
		author:  &author,
		labels:  mergeLabels{Ours: "HEAD", Theirs: shortHash(c.Hash.String()) + " (" + summaryOf(c) + ")"},
	})
}

func (n *native) Revert(ctx context.Context, hash string) error {
	if err := n.lockIndex(); err != nil {
		return err
	}
	defer n.unlockIndex()
	c, err := n.resolve(hash)
	if err != nil {
		return err
	}
	if c.NumParents() > 1 {
		return Invalid("commit", "%s is a merge commit", shortHash(c.Hash.String()))
	}
	var parent *object.Commit
	if c.NumParents() == 1 {
		if parent, err = c.Parent(0); err != nil {
			return err
		}
	}
	msg := fmt.Sprintf("Revert \"%s\"\n\nThis reverts commit %s.\n", summaryOf(c), c.Hash)
	return n.apply(ctx, pick{
		op:      "revert",
		subject: c,
		base:    c,
		theirs:  parent,
		marker:  revertHead,
		message: msg,
		labels:  mergeLabels{Ours: "HEAD", Theirs: "parent of " + shortHash(c.Hash.String()) + " (" + summaryOf(c) + ")"},
	})
}

func (n *native) Merge(ctx context.Context, branch, message string) error {
	if err := n.lockIndex(); err != nil {
		return err
	}
	defer n.unlockIndex()
	return n.merge(ctx, branch, message)
}

// merge is Merge for callers already holding the index lock.
func (n *native) merge(ctx context.Context, branch, message string) error {
	theirs, err := n.resolve(branch)
	if err != nil {
		return err
	}
	head, err := n.headCommit()
	if err != nil {
		return err
	}
	if head == nil {
		return Invalid("HEAD", "merge needs at least one commit")
	}
	if ok, err := theirs.IsAncestor(head); err != nil {
		return err
	} else if ok || theirs.Hash == head.Hash {
		// Already up to date.
		return nil
	}
	bases, err := head.MergeBase(theirs)
	if err != nil {
		return err
	}
	var base *object.Commit
	if len(bases) > 0 {
		base = bases[0]
	}
	if message == "" {
		message = fmt.Sprintf("Merge branch '%s'", branch)
		if st, err := n.HeadState(ctx); err == nil && st.Branch != "" && st.Branch != "main" && st.Branch != "master" {
			message += " into " + st.Branch
		}
	}
	return n.apply(ctx, pick{
		op:      "merge",
		subject: theirs,
		base:    base,
		theirs:  theirs,
		marker:  mergeHead,
		message: cleanupMessage(message),
		merge:   true,
		labels:  mergeLabels{Ours: "HEAD", Theirs: branch},
	})
}

// continueOp commits the resolved index of a stopped operation.
func (n *native) continueOp(ctx context.Context, op string, marker string) error {
	if err := n.lockIndex(); err != nil {
		return err
	}
	defer n.unlockIndex()
	subject, ok, err := markerHash(n.gitDir, marker)
	if err != nil {
		return err
	}
	if !ok {
		return Invalid("operation", "no %s in progress", op)
	}
	idx, err := n.repo.Storer.Index()
	if err != nil {
		return err
	}
	if paths := unmergedIndexPaths(idx); len(paths) > 0 {
		return &ConflictError{Op: op, Commit: subject, Paths: paths}
	}
	msg, _, err := readMarker(n.gitDir, mergeMsg)
	if err != nil {
		return err
	}
	opts := CommitOptions{Message: msg, AllowEmpty: op == "merge"}
	if op == "cherry-pick" {
		c, err := n.repo.CommitObject(plumbing.NewHash(subject))
		if err != nil {
			return err
		}
		opts.Author = &Signature{Name: c.Author.Name, Email: c.Author.Email, When: c.Author.When}
		if strings.TrimSpace(opts.Message) == "" {
			opts.Message = c.Message
		}
	}
	_, err = n.commit(opts)
	if errors.Is(err, ErrNothingToCommit) {
		return ErrEmptyCommit
	}
	return err
}

// abortOp restores HEAD's tree and drops the operation markers.
func (n *native) abortOp(ctx context.Context, op string, marker string) error {
	if err := n.lockIndex(); err != nil {
		return err
	}
	defer n.unlockIndex()
	if _, ok, err := readMarker(n.gitDir, marker); err != nil {
		return err
	} else if !ok {
		return Invalid("operation", "no %s in progress", op)
	}
	head, err := n.headCommit()
	if err != nil {
		return err
	}
	if err := n.resetHard(head); err != nil {
		return err
	}
	return removeMarkers(n.gitDir, marker, mergeMsg, mergeMode)
}

func (n *native) CherryPickContinue(ctx context.Context) error {
	return n.continueOp(ctx, "cherry-pick", cherryPickHead)
}

func (n *native) CherryPickAbort(ctx context.Context) error {
	return n.abortOp(ctx, "cherry-pick", cherryPickHead)
}

// CherryPickSkip drops the stopped pick. Only single commits are picked, so
// there is nothing left to resume afterwards.
func (n *native) CherryPickSkip(ctx context.Context) error {
	return n.abortOp(ctx, "cherry-pick", cherryPickHead)
}

func (n *native) RevertContinue(ctx context.Context) error {
	return n.continueOp(ctx, "revert", revertHead)
}

func (n *native) RevertAbort(ctx context.Context) error {
	return n.abortOp(ctx, "revert", revertHead)
}

func (n *native) MergeContinue(ctx context.Context) error {
	return n.continueOp(ctx, "merge", mergeHead)
}

func (n *native) MergeAbort(ctx context.Context) error {
	return n.abortOp(ctx, "merge", mergeHead)
}

func (n *native) Blame(ctx context.Context, rev, path string) ([]BlameLine, error) {
	if rev == "" {
		rev = "HEAD"
	}
	c, err := n.resolve(rev)
	if err != nil {
		return nil, err
	}
	res, err := gogit.Blame(c, path)
	if errors.Is(err, object.ErrFileNotFound) {
		return nil, fmt.Errorf("%w: %s:%s", ErrRefNotFound, rev, path)
	}
	if err != nil {
		return nil, err
	}
	summaries := map[plumbing.Hash]string{}
	lines := make([]BlameLine, 0, len(res.Lines))
	for i, l := range res.Lines {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		summary, ok := summaries[l.Hash]
		if !ok {
			if commit, err := n.repo.CommitObject(l.Hash); err == nil {
				summary = summaryOf(commit)
			}
			summaries[l.Hash] = summary
		}
		lines = append(lines, BlameLine{
			LineNo:  i + 1,
			Content: l.Text,
			Commit:  l.Hash.String(),
			Author:  l.AuthorName,
			Email:   l.Author,
			Date:    l.Date,
			Summary: summary,
		})
	}
	return lines, nil
}

func summaryOf(c *object.Commit) string {
	summary, _, _ := strings.Cut(strings.TrimSpace(c.Message), "\n")
	return strings.TrimSpace(summary)
}
