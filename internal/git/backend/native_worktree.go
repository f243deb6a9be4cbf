package backend

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/go-git/go-billy/v5/osfs"
	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/format/gitignore"
	"github.com/go-git/go-git/v5/plumbing/format/index"
	"github.com/go-git/go-git/v5/plumbing/object"
)

func (n *native) Status(ctx context.Context) ([]StatusEntry, error) {
	wt, err := n.repo.Worktree()
	if err != nil {
		return nil, err
	}
	st, err := wt.Status()
	if err != nil {
		return nil, err
	}
	idx, err := n.repo.Storer.Index()
	if err != nil {
		return nil, err
	}
	conflicted := map[string]bool{}
	for _, e := range idx.Entries {
		if e.Stage != stageNormal {
			conflicted[e.Name] = true
		}
	}

	entries := make([]StatusEntry, 0, len(st))
	for p, s := range st {
		if conflicted[p] {
			continue
		}
		if s.Staging == gogit.Untracked && s.Worktree == gogit.Untracked {
			entries = append(entries, StatusEntry{Path: p, Untracked: true})
			continue
		}
		e := StatusEntry{
			Path:     p,
			Staged:   changeKindFromGoGit(s.Staging),
			Unstaged: changeKindFromGoGit(s.Worktree),
		}
		if e.Staged == ChangeNone && e.Unstaged == ChangeNone {
			continue
		}
		entries = append(entries, e)
	}
	for p := range conflicted {
		entries = append(entries, StatusEntry{Path: p, Staged: ChangeConflicted, Unstaged: ChangeConflicted})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	return entries, nil
}

func changeKindFromGoGit(c gogit.StatusCode) ChangeKind {
	switch c {
	case gogit.Added:
		return ChangeAdded
	case gogit.Modified:
		return ChangeModified
	case gogit.Deleted:
		return ChangeDeleted
	case gogit.Renamed, gogit.Copied:
		return ChangeRenamed
	case gogit.UpdatedButUnmerged:
		return ChangeConflicted
	default:
		return ChangeNone
	}
}

// expandPaths turns pathspecs into the files they name: tracked files under
// a directory plus the untracked ones .gitignore does not exclude.
func (n *native) expandPaths(idx *index.Index, paths []string) ([]string, error) {
	var matcher gitignore.Matcher
	seen := map[string]bool{}
	var out []string
	add := func(p string) {
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	for _, p := range paths {
		p, err := n.relPath(p)
		if err != nil {
			return nil, err
		}
		fi, statErr := os.Lstat(n.abs(p))
		if statErr != nil || !fi.IsDir() {
			add(p)
			continue
		}
		prefix := p + "/"
		if p == "." {
			prefix = ""
		}
		for _, e := range idx.Entries {
			if strings.HasPrefix(e.Name, prefix) {
				add(e.Name)
			}
		}
		if matcher == nil {
			patterns, err := gitignore.ReadPatterns(osfs.New(n.root), nil)
			if err != nil {
				return nil, err
			}
			matcher = gitignore.NewMatcher(patterns)
		}
		err = filepath.WalkDir(n.abs(p), func(full string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			rel, err := filepath.Rel(n.root, full)
			if err != nil {
				return err
			}
			rel = filepath.ToSlash(rel)
			if rel == "." {
				return nil
			}
			if d.IsDir() && d.Name() == ".git" {
				return filepath.SkipDir
			}
			if matcher.Match(strings.Split(rel, "/"), d.IsDir()) && !seen[rel] {
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			if !d.IsDir() {
				add(rel)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	sort.Strings(out)
	return out, nil
}

// relPath converts p to a slash separated path relative to the root and
// rejects anything outside it.
func (n *native) relPath(p string) (string, error) {
	if p == "" {
		return "", Invalid("path", "empty path")
	}
	full := p
	if !filepath.IsAbs(full) {
		full = n.abs(p)
	}
	rel, err := filepath.Rel(n.root, full)
	if err != nil {
		return "", err
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrPathTraversal, p)
	}
	return filepath.ToSlash(rel), nil
}

func indexHas(idx *index.Index, p string) bool {
	for _, e := range idx.Entries {
		if e.Name == p {
			return true
		}
	}
	return false
}

func (n *native) Add(ctx context.Context, paths ...string) error {
	if err := n.lockIndex(); err != nil {
		return err
	}
	defer n.unlockIndex()
	idx, err := n.repo.Storer.Index()
	if err != nil {
		return err
	}
	files, err := n.expandPaths(idx, paths)
	if err != nil {
		return err
	}
	for _, p := range files {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := n.stagePath(idx, p); err != nil {
			return err
		}
	}
	sortIndex(idx)
	return n.repo.Storer.SetIndex(idx)
}

// stagePath records the working file p in idx, resolving any conflict.
func (n *native) stagePath(idx *index.Index, p string) error {
	full := n.abs(p)
	fi, err := os.Lstat(full)
	if errors.Is(err, fs.ErrNotExist) {
		if !indexHas(idx, p) {
			return Invalid("path", "pathspec %q did not match any files", p)
		}
		setEntries(idx, p)
		return nil
	}
	if err != nil {
		return err
	}
	var (
		data []byte
		mode = filemode.Regular
	)
	switch {
	case fi.Mode()&fs.ModeSymlink != 0:
		target, err := os.Readlink(full)
		if err != nil {
			return err
		}
		data, mode = []byte(target), filemode.Symlink
	case fi.Mode().IsRegular():
		if data, err = os.ReadFile(full); err != nil {
			return err
		}
		if fi.Mode()&0o111 != 0 {
			mode = filemode.Executable
		}
	default:
		return Invalid("path", "%q is not a regular file", p)
	}
	h, err := n.writeBlob(data)
	if err != nil {
		return err
	}
	setEntries(idx, p, &index.Entry{
		Name:       p,
		Hash:       h,
		Mode:       mode,
		Size:       uint32(fi.Size()),
		ModifiedAt: fi.ModTime(),
	})
	return nil
}

func (n *native) Unstage(ctx context.Context, paths ...string) error {
	if err := n.lockIndex(); err != nil {
		return err
	}
	defer n.unlockIndex()
	head, err := n.headCommit()
	if err != nil {
		return err
	}
	headFiles, err := n.commitFiles(head)
	if err != nil {
		return err
	}
	idx, err := n.repo.Storer.Index()
	if err != nil {
		return err
	}
	targets := map[string]bool{}
	for _, p := range paths {
		p, err := n.relPath(p)
		if err != nil {
			return err
		}
		prefix := p + "/"
		for _, e := range idx.Entries {
			if e.Name == p || strings.HasPrefix(e.Name, prefix) || p == "." {
				targets[e.Name] = true
			}
		}
		for hp := range headFiles {
			if hp == p || strings.HasPrefix(hp, prefix) || p == "." {
				targets[hp] = true
			}
		}
	}
	for p := range targets {
		f, ok := headFiles[p]
		if !ok {
			setEntries(idx, p)
			continue
		}
		e := &index.Entry{Name: p, Hash: f.hash, Mode: f.mode}
		for _, old := range idx.Entries {
			if old.Name == p && old.Stage == stageNormal && old.Hash == f.hash {
				e.Size, e.ModifiedAt = old.Size, old.ModifiedAt
			}
		}
		setEntries(idx, p, e)
	}
	sortIndex(idx)
	return n.repo.Storer.SetIndex(idx)
}

func (n *native) Discard(ctx context.Context, paths ...string) error {
	if err := n.lockIndex(); err != nil {
		return err
	}
	defer n.unlockIndex()
	idx, err := n.repo.Storer.Index()
	if err != nil {
		return err
	}
	for _, p := range paths {
		p, err := n.relPath(p)
		if err != nil {
			return err
		}
		var found *index.Entry
		for _, e := range idx.Entries {
			if e.Name != p {
				continue
			}
			if e.Stage != stageNormal {
				return Invalid("path", "%s is unmerged", p)
			}
			found = e
		}
		if found == nil {
			return Invalid("path", "pathspec %q did not match any file known to git", p)
		}
		if err := n.writeWorktreeFile(p, treeFile{hash: found.Hash, mode: found.Mode}); err != nil {
			return err
		}
		n.stat(p, found)
	}
	return n.repo.Storer.SetIndex(idx)
}

func unmergedIndexPaths(idx *index.Index) []string {
	var paths []string
	for _, e := range idx.Entries {
		if e.Stage != stageNormal && (len(paths) == 0 || paths[len(paths)-1] != e.Name) {
			paths = append(paths, e.Name)
		}
	}
	return paths
}

func indexFiles(idx *index.Index) fileSet {
	files := fileSet{}
	for _, e := range idx.Entries {
		if e.Stage == stageNormal {
			files[e.Name] = treeFile{hash: e.Hash, mode: e.Mode}
		}
	}
	return files
}

func (n *native) Commit(ctx context.Context, opts CommitOptions) (string, error) {
	if err := n.lockIndex(); err != nil {
		return "", err
	}
	defer n.unlockIndex()
	return n.commit(opts)
}

// commit records the index as a new commit. The caller holds the index lock.
func (n *native) commit(opts CommitOptions) (string, error) {
	msg := cleanupMessage(opts.Message)
	if msg == "" {
		return "", Invalid("message", "empty commit message")
	}
	idx, err := n.repo.Storer.Index()
	if err != nil {
		return "", err
	}
	if paths := unmergedIndexPaths(idx); len(paths) > 0 {
		return "", fmt.Errorf("%w: unmerged paths %s", ErrConflictPending, strings.Join(paths, ", "))
	}
	head, err := n.headCommit()
	if err != nil {
		return "", err
	}
	committer, err := n.identity()
	if err != nil {
		return "", err
	}
	author := committer
	if opts.Author != nil {
		author = object.Signature{Name: opts.Author.Name, Email: opts.Author.Email, When: opts.Author.When}
	}

	var parents []plumbing.Hash
	switch {
	case opts.Amend:
		if head == nil {
			return "", Invalid("amend", "no commit to amend")
		}
		parents = head.ParentHashes
		if opts.Author == nil {
			author = head.Author
		}
	case head != nil:
		parents = []plumbing.Hash{head.Hash}
		if merge, ok, err := markerHash(n.gitDir, mergeHead); err != nil {
			return "", err
		} else if ok {
			parents = append(parents, plumbing.NewHash(merge))
		}
	}

	tree, err := n.writeTree(indexFiles(idx))
	if err != nil {
		return "", err
	}
	if !opts.Amend && !opts.AllowEmpty && len(parents) < 2 {
		var parentTree plumbing.Hash
		if head != nil {
			parentTree = head.TreeHash
		} else {
			parentTree, _ = n.writeTree(fileSet{})
		}
		if tree == parentTree {
			return "", ErrNothingToCommit
		}
	}
	h, err := n.writeCommit(&object.Commit{
		Author:       author,
		Committer:    committer,
		Message:      msg,
		TreeHash:     tree,
		ParentHashes: parents,
	})
	if err != nil {
		return "", err
	}
	if err := n.updateHead(h); err != nil {
		return "", err
	}
	if err := removeMarkers(n.gitDir, mergeHead, mergeMsg, mergeMode, cherryPickHead, revertHead); err != nil {
		return "", err
	}
	return h.String(), nil
}

func (n *native) Checkout(ctx context.Context, branch string) error {
	if err := n.lockIndex(); err != nil {
		return err
	}
	defer n.unlockIndex()
	if err := validateRev(branch); err != nil {
		return err
	}
	name := plumbing.NewBranchReferenceName(branch)
	ref, err := n.repo.Reference(name, true)
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		if ref, err = n.trackRemoteBranch(branch); err != nil {
			return err
		}
	} else if err != nil {
		return err
	}
	target, err := n.repo.CommitObject(ref.Hash())
	if err != nil {
		return err
	}
	head, err := n.headCommit()
	if err != nil {
		return err
	}
	if err := n.switchTree(head, target); err != nil {
		return err
	}
	return n.repo.Storer.SetReference(plumbing.NewSymbolicReference(plumbing.HEAD, name))
}

// trackRemoteBranch creates branch from the single remote branch of the same
// name, like `git switch` does.
func (n *native) trackRemoteBranch(branch string) (*plumbing.Reference, error) {
	remotes, err := n.repo.Remotes()
	if err != nil {
		return nil, err
	}
	var found *plumbing.Reference
	var remote string
	for _, r := range remotes {
		ref, err := n.repo.Reference(plumbing.NewRemoteReferenceName(r.Config().Name, branch), true)
		if err != nil {
			continue
		}
		if found != nil {
			return nil, Invalid("branch", "%q matches more than one remote branch", branch)
		}
		found, remote = ref, r.Config().Name
	}
	if found == nil {
		return nil, refNotFound(branch)
	}
	name := plumbing.NewBranchReferenceName(branch)
	local := plumbing.NewHashReference(name, found.Hash())
	if err := n.repo.Storer.SetReference(local); err != nil {
		return nil, err
	}
	err = n.repo.CreateBranch(&config.Branch{Name: branch, Remote: remote, Merge: name})
	if err != nil && !errors.Is(err, gogit.ErrBranchExists) {
		return nil, err
	}
	return local, nil
}

func (n *native) CheckoutDetached(ctx context.Context, hash string) error {
	if err := n.lockIndex(); err != nil {
		return err
	}
	defer n.unlockIndex()
	target, err := n.resolve(hash)
	if err != nil {
		return err
	}
	head, err := n.headCommit()
	if err != nil {
		return err
	}
	if err := n.switchTree(head, target); err != nil {
		return err
	}
	return n.repo.Storer.SetReference(plumbing.NewHashReference(plumbing.HEAD, target.Hash))
}

func (n *native) CreateBranch(ctx context.Context, name, start string) error {
	if err := ValidateBranchName(name); err != nil {
		return err
	}
	if start == "" {
		start = "HEAD"
	}
	c, err := n.resolve(start)
	if err != nil {
		return err
	}
	ref := plumbing.NewBranchReferenceName(name)
	if err := n.lockRef(ref); err != nil {
		return err
	}
	defer n.unlockRef(ref)
	if _, err := n.repo.Storer.Reference(ref); err == nil {
		return Invalid("branch", "a branch named %q already exists", name)
	}
	return n.repo.Storer.SetReference(plumbing.NewHashReference(ref, c.Hash))
}

func (n *native) DeleteBranch(ctx context.Context, name string, force bool) error {
	if err := validateRev(name); err != nil {
		return err
	}
	refName := plumbing.NewBranchReferenceName(name)
	ref, err := n.repo.Storer.Reference(refName)
	if err != nil {
		return refNotFound(name)
	}
	if err := n.lockRef(refName); err != nil {
		return err
	}
	defer n.unlockRef(refName)
	st, err := n.HeadState(ctx)
	if err != nil {
		return err
	}
	if st.Branch == name {
		return Invalid("branch", "cannot delete the checked out branch %q", name)
	}
	if !force && st.Hash != "" {
		merged, err := n.IsAncestor(ctx, ref.Hash().String(), st.Hash)
		if err != nil {
			return err
		}
		if !merged {
			return Invalid("branch", "the branch %q is not fully merged", name)
		}
	}
	if err := n.repo.Storer.RemoveReference(refName); err != nil {
		return err
	}
	if err := n.repo.DeleteBranch(name); err != nil && !errors.Is(err, gogit.ErrBranchNotFound) {
		return err
	}
	return nil
}

func (n *native) RenameBranch(ctx context.Context, oldName, newName string) error {
	if err := ValidateBranchName(newName); err != nil {
		return err
	}
	oldRef := plumbing.NewBranchReferenceName(oldName)
	ref, err := n.repo.Storer.Reference(oldRef)
	if err != nil {
		return refNotFound(oldName)
	}
	newRef := plumbing.NewBranchReferenceName(newName)
	if newRef == oldRef {
		return Invalid("branch", "a branch named %q already exists", newName)
	}
	for _, r := range []plumbing.ReferenceName{oldRef, newRef} {
		if err := n.lockRef(r); err != nil {
			return err
		}
		defer n.unlockRef(r)
	}
	if _, err := n.repo.Storer.Reference(newRef); err == nil {
		return Invalid("branch", "a branch named %q already exists", newName)
	}
	if err := n.repo.Storer.SetReference(plumbing.NewHashReference(newRef, ref.Hash())); err != nil {
		return err
	}
	if err := n.repo.Storer.RemoveReference(oldRef); err != nil {
		return err
	}
	if head, err := n.repo.Storer.Reference(plumbing.HEAD); err == nil &&
		head.Type() == plumbing.SymbolicReference && head.Target() == oldRef {
		if err := n.repo.Storer.SetReference(plumbing.NewSymbolicReference(plumbing.HEAD, newRef)); err != nil {
			return err
		}
	}
	cfg, err := n.repo.Config()
	if err != nil {
		return err
	}
	if b, ok := cfg.Branches[oldName]; ok {
		delete(cfg.Branches, oldName)
		b.Name = newName
		cfg.Branches[newName] = b
		return n.repo.SetConfig(cfg)
	}
	return nil
}

func (n *native) SetBranch(ctx context.Context, name, hash string) error {
	if err := ValidateBranchName(name); err != nil {
		return err
	}
	c, err := n.resolve(hash)
	if err != nil {
		return err
	}
	ref := plumbing.NewBranchReferenceName(name)
	if err := n.lockRef(ref); err != nil {
		return err
	}
	defer n.unlockRef(ref)
	return n.repo.Storer.SetReference(plumbing.NewHashReference(ref, c.Hash))
}

func (n *native) Reset(ctx context.Context, hash string, mode ResetMode) error {
	if err := n.lockIndex(); err != nil {
		return err
	}
	defer n.unlockIndex()
	target, err := n.resolve(hash)
	if err != nil {
		return err
	}
	if st, err := n.HeadState(ctx); err == nil && st.Hash != "" {
		if err := writeMarker(n.gitDir, origHead, st.Hash+"\n"); err != nil {
			return err
		}
	}
	switch mode {
	case ResetSoft:
		wt, err := n.repo.Worktree()
		if err != nil {
			return err
		}
		return wt.Reset(&gogit.ResetOptions{Commit: target.Hash, Mode: gogit.SoftReset})
	case ResetHard:
		if err := n.updateHead(target.Hash); err != nil {
			return err
		}
		if err := n.resetHard(target); err != nil {
			return err
		}
		return removeMarkers(n.gitDir, mergeHead, mergeMsg, mergeMode, cherryPickHead, revertHead)
	default:
		if err := n.updateHead(target.Hash); err != nil {
			return err
		}
		if err := n.resetIndex(target); err != nil {
			return err
		}
		return removeMarkers(n.gitDir, mergeHead, mergeMsg, mergeMode, cherryPickHead, revertHead)
	}
}

// resetIndex makes the index match target, keeping the cached stat data of
// entries that do not change.
func (n *native) resetIndex(target *object.Commit) error {
	want, err := n.commitFiles(target)
	if err != nil {
		return err
	}
	idx, err := n.repo.Storer.Index()
	if err != nil {
		return err
	}
	old := map[string]*index.Entry{}
	for _, e := range idx.Entries {
		if e.Stage == stageNormal {
			old[e.Name] = e
		}
	}
	idx.Entries = idx.Entries[:0]
	for p, f := range want {
		e := &index.Entry{Name: p, Hash: f.hash, Mode: f.mode}
		if o, ok := old[p]; ok && o.Hash == f.hash && o.Mode == f.mode {
			e = o
		}
		idx.Entries = append(idx.Entries, e)
	}
	sortIndex(idx)
	return n.repo.Storer.SetIndex(idx)
}
