package backend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"slices"
	"strings"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/storer"
	"github.com/go-git/go-git/v5/utils/merkletrie"
)

// native implements Backend in-process with go-git. It writes the same
// on-disk state git does (objects, index, refs and operation markers), so a
// repository can be used with either backend at any time.
type native struct {
	repo   *gogit.Repository
	root   string
	gitDir string
}

func OpenNative(repoPath string) (Backend, error) {
	abs, err := filepath.Abs(repoPath)
	if err != nil {
		return nil, err
	}
	repo, err := gogit.PlainOpenWithOptions(abs, &gogit.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return nil, fmt.Errorf("open repository: %w", err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		return nil, fmt.Errorf("open repository: %w", err)
	}
	gitDir := filepath.Join(wt.Filesystem.Root(), ".git")
	if fsStorer, ok := repo.Storer.(interface{ Filesystem() billy.Filesystem }); ok {
		gitDir = fsStorer.Filesystem().Root()
	}
	return &native{repo: repo, root: wt.Filesystem.Root(), gitDir: gitDir}, nil
}

func (n *native) Name() string     { return "native" }
func (n *native) RepoPath() string { return n.root }
func (n *native) GitDir() string   { return n.gitDir }

func (n *native) HeadState(ctx context.Context) (HeadState, error) {
	head, err := n.repo.Storer.Reference(plumbing.HEAD)
	if err != nil {
		return HeadState{}, err
	}
	var st HeadState
	if head.Type() == plumbing.SymbolicReference {
		st.Branch = head.Target().Short()
	}
	resolved, err := n.repo.Head()
	switch {
	case errors.Is(err, plumbing.ErrReferenceNotFound):
		return st, nil
	case err != nil:
		return HeadState{}, err
	}
	st.Hash = resolved.Hash().String()
	return st, nil
}

// headCommit returns nil without error on an unborn branch.
func (n *native) headCommit() (*object.Commit, error) {
	ref, err := n.repo.Head()
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return n.repo.CommitObject(ref.Hash())
}

func (n *native) resolve(rev string) (*object.Commit, error) {
	if err := validateRev(rev); err != nil {
		return nil, err
	}
	h, err := n.repo.ResolveRevision(plumbing.Revision(rev))
	if err != nil {
		return nil, refNotFound(rev)
	}
	c, err := n.repo.CommitObject(*h)
	if err != nil {
		if tag, tagErr := n.repo.TagObject(*h); tagErr == nil {
			if c, err = tag.Commit(); err == nil {
				return c, nil
			}
		}
		return nil, refNotFound(rev)
	}
	return c, nil
}

func (n *native) ResolveRef(ctx context.Context, ref string) (string, error) {
	c, err := n.resolve(strings.TrimSpace(ref))
	if err != nil {
		return "", err
	}
	return c.Hash.String(), nil
}

func (n *native) ListRefs(ctx context.Context) ([]Ref, error) {
	iter, err := n.repo.References()
	if err != nil {
		return nil, err
	}
	var refs []Ref
	err = iter.ForEach(func(r *plumbing.Reference) error {
		if r.Type() != plumbing.HashReference {
			if r.Name().IsRemote() {
				// refs/remotes/origin/HEAD
				target, err := n.repo.Reference(r.Name(), true)
				if err == nil {
					refs = append(refs, Ref{Hash: target.Hash().String(), Kind: RefKindRemoteBranch, Name: r.Name().Short()})
				}
			}
			return nil
		}
		hash := r.Hash()
		if r.Name().IsTag() {
			if tag, err := n.repo.TagObject(hash); err == nil {
				if c, err := tag.Commit(); err == nil {
					hash = c.Hash
				}
			}
		}
		if ref, ok := refFromFullName(r.Name().String(), hash.String()); ok {
			refs = append(refs, ref)
		}
		return nil
	})
	return refs, err
}

func (n *native) Upstream(ctx context.Context, branch string) (string, error) {
	if err := validateRev(branch); err != nil {
		return "", err
	}
	cfg, err := n.repo.Config()
	if err != nil {
		return "", err
	}
	b, ok := cfg.Branches[branch]
	if !ok || b.Remote == "" || b.Merge == "" {
		return "", refNotFound(branch + "@{upstream}")
	}
	if b.Remote == "." {
		return b.Merge.Short(), nil
	}
	return b.Remote + "/" + b.Merge.Short(), nil
}

func (n *native) Log(ctx context.Context, opts LogOptions) ([]Commit, error) {
	from := opts.From
	if from == "" {
		from = "HEAD"
	}
	start, err := n.resolve(from)
	if err != nil {
		return nil, err
	}
	lo := &gogit.LogOptions{From: start.Hash, Order: gogit.LogOrderCommitterTime}
	if opts.Path != "" {
		path := opts.Path
		lo.FileName = &path
	}
	iter, err := n.repo.Log(lo)
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	var commits []Commit
	err = iter.ForEach(func(c *object.Commit) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		commits = append(commits, convertCommit(c))
		if opts.MaxCount > 0 && len(commits) >= opts.MaxCount {
			return storer.ErrStop
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return commits, nil
}

func convertCommit(c *object.Commit) Commit {
	parents := make([]string, 0, len(c.ParentHashes))
	for _, p := range c.ParentHashes {
		parents = append(parents, p.String())
	}
	return Commit{
		Hash:         c.Hash.String(),
		ParentHashes: parents,
		Tree:         c.TreeHash.String(),
		Author:       Signature{Name: c.Author.Name, Email: c.Author.Email, When: c.Author.When},
		Committer:    Signature{Name: c.Committer.Name, Email: c.Committer.Email, When: c.Committer.When},
		Message:      c.Message,
	}
}

func (n *native) CommitInfo(ctx context.Context, rev string) (*Commit, error) {
	c, err := n.resolve(rev)
	if err != nil {
		return nil, err
	}
	out := convertCommit(c)
	return &out, nil
}

func (n *native) CommitChanges(ctx context.Context, hash string) ([]ChangedFile, error) {
	c, err := n.resolve(hash)
	if err != nil {
		return nil, err
	}
	to, err := c.Tree()
	if err != nil {
		return nil, err
	}
	var from *object.Tree
	if c.NumParents() > 0 {
		parent, err := c.Parent(0)
		if err != nil {
			return nil, err
		}
		if from, err = parent.Tree(); err != nil {
			return nil, err
		}
	}
	changes, err := object.DiffTreeWithOptions(ctx, from, to, &object.DiffTreeOptions{DetectRenames: true})
	if err != nil {
		return nil, err
	}
	files := make([]ChangedFile, 0, len(changes))
	for _, ch := range changes {
		action, err := ch.Action()
		if err != nil {
			return nil, err
		}
		switch {
		case action == merkletrie.Insert:
			files = append(files, ChangedFile{Path: ch.To.Name, Kind: ChangeAdded})
		case action == merkletrie.Delete:
			files = append(files, ChangedFile{Path: ch.From.Name, Kind: ChangeDeleted})
		case ch.From.Name != ch.To.Name:
			files = append(files, ChangedFile{Path: ch.To.Name, OrigPath: ch.From.Name, Kind: ChangeRenamed})
		default:
			files = append(files, ChangedFile{Path: ch.To.Name, Kind: ChangeModified})
		}
	}
	return files, nil
}

func (n *native) IsAncestor(ctx context.Context, ancestor, descendant string) (bool, error) {
	a, err := n.resolve(ancestor)
	if err != nil {
		return false, err
	}
	d, err := n.resolve(descendant)
	if err != nil {
		return false, err
	}
	return a.IsAncestor(d)
}

func (n *native) FileAt(ctx context.Context, rev, path string) ([]byte, bool, error) {
	c, err := n.resolve(rev)
	if err != nil {
		return nil, false, err
	}
	f, err := c.File(path)
	if errors.Is(err, object.ErrFileNotFound) || errors.Is(err, object.ErrDirectoryNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	data, err := n.readBlob(f.Hash)
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

func (n *native) IndexFile(ctx context.Context, path string) ([]byte, bool, error) {
	idx, err := n.repo.Storer.Index()
	if err != nil {
		return nil, false, err
	}
	var ours *plumbing.Hash
	for _, e := range idx.Entries {
		if e.Name != path {
			continue
		}
		switch e.Stage {
		case 0:
			data, err := n.readBlob(e.Hash)
			return data, err == nil, err
		case stageOurs:
			h := e.Hash
			ours = &h
		}
	}
	if ours == nil {
		return nil, false, nil
	}
	data, err := n.readBlob(*ours)
	return data, err == nil, err
}

func (n *native) IndexPaths(ctx context.Context) ([]string, error) {
	idx, err := n.repo.Storer.Index()
	if err != nil {
		return nil, err
	}
	paths := make([]string, 0, len(idx.Entries))
	for _, e := range idx.Entries {
		paths = append(paths, e.Name)
	}
	slices.Sort(paths)
	return slices.Compact(paths), nil
}

func (n *native) readBlob(h plumbing.Hash) ([]byte, error) {
	blob, err := n.repo.BlobObject(h)
	if err != nil {
		return nil, err
	}
	r, err := blob.Reader()
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

func (n *native) OperationState(ctx context.Context) (Operation, error) {
	return operationFromGitDir(n.gitDir)
}

// identity is the configured user, as git requires one to commit.
func (n *native) identity() (object.Signature, error) {
	cfg, err := n.repo.ConfigScoped(config.SystemScope)
	if err != nil {
		return object.Signature{}, err
	}
	name, email := cfg.User.Name, cfg.User.Email
	if cfg.Committer.Name != "" && cfg.Committer.Email != "" {
		name, email = cfg.Committer.Name, cfg.Committer.Email
	}
	if name == "" || email == "" {
		return object.Signature{}, Invalid("identity", "user.name and user.email must be configured")
	}
	return object.Signature{Name: name, Email: email, When: nowFunc()}, nil
}

func isExecutable(m filemode.FileMode) bool { return m == filemode.Executable }
