package backend

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

func (g *gitCLI) CherryPick(ctx context.Context, hash string) error {
	if err := validateRev(hash); err != nil {
		return err
	}
	_, err := g.git(ctx, "cherry-pick", "--allow-empty-message", hash)
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrEmptyCommit) {
		// git keeps the pick open for an empty result; drop it so the caller
		// sees a no-op.
		if _, abortErr := g.git(ctx, "cherry-pick", "--abort"); abortErr != nil {
			return errors.Join(ErrEmptyCommit, abortErr)
		}
		return ErrEmptyCommit
	}
	return g.stoppedOperation(ctx, "cherry-pick", hash, err)
}

// stoppedOperation turns a failed cherry-pick, revert, merge or stash apply
// into a *ConflictError when git left unmerged paths behind.
func (g *gitCLI) stoppedOperation(ctx context.Context, op, commit string, cause error) error {
	paths, err := g.unmergedPaths(ctx)
	if err != nil {
		return errors.Join(cause, err)
	}
	if len(paths) == 0 {
		return cause
	}
	if full, err := g.ResolveRef(ctx, commit); err == nil {
		commit = full
	}
	return &ConflictError{Op: op, Commit: commit, Paths: paths}
}

func (g *gitCLI) unmergedPaths(ctx context.Context) ([]string, error) {
	out, err := g.git(ctx, "diff", "--name-only", "--diff-filter=U", "-z")
	if err != nil {
		return nil, err
	}
	var paths []string
	for _, p := range strings.Split(out, "\x00") {
		if p != "" && (len(paths) == 0 || paths[len(paths)-1] != p) {
			paths = append(paths, p)
		}
	}
	return paths, nil
}

// continueOp runs "<op> --continue", reporting remaining conflicts.
func (g *gitCLI) continueOp(ctx context.Context, op string, marker string) error {
	commit, _, _ := markerHash(g.gitDir, marker)
	_, err := g.git(ctx, op, "--continue")
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrEmptyCommit) || errors.Is(err, ErrNothingToCommit) {
		return ErrEmptyCommit
	}
	return g.stoppedOperation(ctx, op, commit, err)
}

func (g *gitCLI) CherryPickContinue(ctx context.Context) error {
	return g.continueOp(ctx, "cherry-pick", cherryPickHead)
}

func (g *gitCLI) CherryPickAbort(ctx context.Context) error {
	_, err := g.git(ctx, "cherry-pick", "--abort")
	return err
}

func (g *gitCLI) CherryPickSkip(ctx context.Context) error {
	_, err := g.git(ctx, "cherry-pick", "--skip")
	return err
}

func (g *gitCLI) Revert(ctx context.Context, hash string) error {
	if err := validateRev(hash); err != nil {
		return err
	}
	_, err := g.git(ctx, "revert", "--no-edit", hash)
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNothingToCommit) || errors.Is(err, ErrEmptyCommit) {
		if _, abortErr := g.git(ctx, "revert", "--abort"); abortErr != nil {
			return errors.Join(ErrEmptyCommit, abortErr)
		}
		return ErrEmptyCommit
	}
	return g.stoppedOperation(ctx, "revert", hash, err)
}

func (g *gitCLI) RevertContinue(ctx context.Context) error {
	return g.continueOp(ctx, "revert", revertHead)
}

func (g *gitCLI) RevertAbort(ctx context.Context) error {
	_, err := g.git(ctx, "revert", "--abort")
	return err
}

func (g *gitCLI) Merge(ctx context.Context, branch, message string) error {
	if err := validateRev(branch); err != nil {
		return err
	}
	args := []string{"merge", "--no-ff", "--no-edit"}
	if message != "" {
		args = append(args, "-m", message)
	}
	args = append(args, branch)
	_, err := g.git(ctx, args...)
	if err == nil {
		return nil
	}
	return g.stoppedOperation(ctx, "merge", branch, err)
}

func (g *gitCLI) MergeContinue(ctx context.Context) error {
	return g.continueOp(ctx, "merge", mergeHead)
}

func (g *gitCLI) MergeAbort(ctx context.Context) error {
	_, err := g.git(ctx, "merge", "--abort")
	return err
}

func (g *gitCLI) Blame(ctx context.Context, rev, path string) ([]BlameLine, error) {
	if rev == "" {
		rev = "HEAD"
	}
	if err := validateRev(rev); err != nil {
		return nil, err
	}
	out, err := g.git(ctx, "blame", "--porcelain", rev, "--", path)
	if err != nil {
		return nil, err
	}
	return parseBlamePorcelain(out)
}

func (g *gitCLI) StashList(ctx context.Context) ([]Stash, error) {
	out, err := g.git(ctx, "stash", "list", "--format=%H%x00%gs")
	if err != nil {
		return nil, err
	}
	return parseStashList(out)
}

func (g *gitCLI) StashPush(ctx context.Context, message string, includeUntracked bool) error {
	args := []string{"stash", "push"}
	if includeUntracked {
		args = append(args, "--include-untracked")
	}
	if message != "" {
		args = append(args, "-m", message)
	}
	out, err := g.git(ctx, args...)
	if err != nil {
		return err
	}
	if strings.Contains(out, "No local changes to save") {
		return ErrNothingToCommit
	}
	return nil
}

func (g *gitCLI) stashRef(ctx context.Context, index int) (string, error) {
	stashes, err := g.StashList(ctx)
	if err != nil {
		return "", err
	}
	if index < 0 || index >= len(stashes) {
		return "", refNotFound(fmt.Sprintf("stash@{%d}", index))
	}
	return fmt.Sprintf("stash@{%d}", index), nil
}

func (g *gitCLI) StashApply(ctx context.Context, index int, pop bool) error {
	ref, err := g.stashRef(ctx, index)
	if err != nil {
		return err
	}
	verb := "apply"
	if pop {
		verb = "pop"
	}
	_, err = g.git(ctx, "stash", verb, ref)
	if err == nil {
		return nil
	}
	return g.stoppedOperation(ctx, "stash", ref, err)
}

func (g *gitCLI) StashDrop(ctx context.Context, index int) error {
	ref, err := g.stashRef(ctx, index)
	if err != nil {
		return err
	}
	_, err = g.git(ctx, "stash", "drop", ref)
	return err
}
