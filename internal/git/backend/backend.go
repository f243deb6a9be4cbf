package backend

import "context"

// Backend abstracts access to a repository.
//
// The default implementation shells out to the git executable, the native one
// works in-process on top of go-git. Both report the same status values and
// the same error kinds so callers never need to know which one is active.
type Backend interface {
	// Name is "cli" or "native".
	Name() string
	RepoPath() string
	GitDir() string

	HeadState(ctx context.Context) (HeadState, error)
	ResolveRef(ctx context.Context, ref string) (string, error)
	ListRefs(ctx context.Context) ([]Ref, error)
	// Upstream returns the short name of the remote-tracking branch of branch,
	// for example "origin/main".
	Upstream(ctx context.Context, branch string) (string, error)
	Log(ctx context.Context, opts LogOptions) ([]Commit, error)
	CommitInfo(ctx context.Context, rev string) (*Commit, error)
	CommitChanges(ctx context.Context, hash string) ([]ChangedFile, error)
	IsAncestor(ctx context.Context, ancestor, descendant string) (bool, error)

	// FileAt returns the content of path at rev. ok is false when the path
	// does not exist there.
	FileAt(ctx context.Context, rev, path string) (data []byte, ok bool, err error)
	IndexFile(ctx context.Context, path string) (data []byte, ok bool, err error)
	// IndexPaths lists the paths in the index once each, sorted.
	IndexPaths(ctx context.Context) ([]string, error)
	Status(ctx context.Context) ([]StatusEntry, error)

	Add(ctx context.Context, paths ...string) error
	Unstage(ctx context.Context, paths ...string) error
	// Discard restores working tree files from the index.
	Discard(ctx context.Context, paths ...string) error
	Commit(ctx context.Context, opts CommitOptions) (string, error)

	Checkout(ctx context.Context, branch string) error
	CheckoutDetached(ctx context.Context, hash string) error
	CreateBranch(ctx context.Context, name, start string) error
	DeleteBranch(ctx context.Context, name string, force bool) error
	RenameBranch(ctx context.Context, oldName, newName string) error
	// SetBranch force-updates name to point at hash.
	SetBranch(ctx context.Context, name, hash string) error
	Reset(ctx context.Context, hash string, mode ResetMode) error

	// CherryPick applies hash onto HEAD. It returns ErrEmptyCommit when the
	// changes are already present and a *ConflictError when it stopped.
	CherryPick(ctx context.Context, hash string) error
	CherryPickContinue(ctx context.Context) error
	CherryPickAbort(ctx context.Context) error
	CherryPickSkip(ctx context.Context) error
	Revert(ctx context.Context, hash string) error
	RevertContinue(ctx context.Context) error
	RevertAbort(ctx context.Context) error
	// Merge always records a merge commit.
	Merge(ctx context.Context, branch, message string) error
	MergeContinue(ctx context.Context) error
	MergeAbort(ctx context.Context) error
	OperationState(ctx context.Context) (Operation, error)

	Blame(ctx context.Context, rev, path string) ([]BlameLine, error)

	StashList(ctx context.Context) ([]Stash, error)
	StashPush(ctx context.Context, message string, includeUntracked bool) error
	StashApply(ctx context.Context, index int, pop bool) error
	StashDrop(ctx context.Context, index int) error

	Remotes(ctx context.Context) ([]Remote, error)
	Fetch(ctx context.Context, opts RemoteOptions) error
	Pull(ctx context.Context, opts RemoteOptions) error
	Push(ctx context.Context, opts RemoteOptions) error
}
