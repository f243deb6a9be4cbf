package git

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/thiagokokada/repoops/internal/git/backend"
)

// rewriteDepth bounds how far back reorder and drop look for their commits.
const rewriteDepth = 1000

func requireMessage(msg string) error {
	if strings.TrimSpace(msg) == "" {
		return backend.Invalid("message", "empty commit message")
	}
	return nil
}

func validateRef(field, ref string) error {
	switch {
	case strings.TrimSpace(ref) == "":
		return backend.Invalid(field, "empty reference")
	case strings.HasPrefix(ref, "-"):
		return backend.Invalid(field, "%q must not start with '-'", ref)
	}
	return nil
}

// firstParents returns the first-parent chain from tip, newest first, with
// at most limit commits.
func (s *Service) firstParents(ctx context.Context, tip string, limit int) ([]backend.Commit, error) {
	commits, err := s.backend.Log(ctx, backend.LogOptions{From: tip, MaxCount: limit})
	if err != nil {
		return nil, err
	}
	byHash := make(map[string]backend.Commit, len(commits))
	for _, c := range commits {
		byHash[c.Hash] = c
	}
	var chain []backend.Commit
	next := tip
	for len(chain) < limit {
		c, ok := byHash[next]
		if !ok {
			info, err := s.backend.CommitInfo(ctx, next)
			if err != nil {
				return nil, err
			}
			c = *info
		}
		chain = append(chain, c)
		if len(c.ParentHashes) == 0 {
			break
		}
		next = c.ParentHashes[0]
	}
	return chain, nil
}

func (s *Service) resolveAll(ctx context.Context, refs []string) ([]string, error) {
	out := make([]string, 0, len(refs))
	for _, r := range refs {
		if err := validateRef("commit", r); err != nil {
			return nil, err
		}
		h, err := s.backend.ResolveRef(ctx, r)
		if err != nil {
			return nil, err
		}
		if slices.Contains(out, h) {
			return nil, backend.Invalid("commits", "%s listed twice", shortHash(h))
		}
		out = append(out, h)
	}
	return out, nil
}

// CherryPick applies commits onto HEAD in order. Commits whose changes are
// already present are skipped. On a conflict the repository is left stopped
// and the remaining commits are reported as pending.
func (s *Service) CherryPick(ctx context.Context, commits ...string) (*OpResult, error) {
	if len(commits) == 0 {
		return nil, backend.Invalid("commits", "nothing to cherry-pick")
	}
	return mutateResult(s, func() (*OpResult, error) {
		return s.cherryPick(ctx, commits)
	})
}

func (s *Service) cherryPick(ctx context.Context, commits []string) (*OpResult, error) {
	sg := s.newSaga("cherry-pick")
	if err := s.requireIdle(ctx); err != nil {
		return nil, err
	}
	hashes, err := s.resolveAll(ctx, commits)
	if err != nil {
		return nil, err
	}
	st, err := s.backend.HeadState(ctx)
	if err != nil {
		return nil, err
	}
	if st.Unborn() {
		return nil, backend.Invalid("HEAD", "cherry-pick needs at least one commit")
	}
	// A sequence that fails for reasons other than a conflict is rolled back,
	// which is only safe when there are no local changes to lose.
	if len(hashes) > 1 {
		if dirty, err := s.dirtyTracked(ctx); err == nil && len(dirty) == 0 {
			sg.rollback = s.restoreHead(st)
		}
	}
	sg.begin()
	for i, h := range hashes {
		err := s.backend.CherryPick(ctx, h)
		var ce *ConflictError
		switch {
		case err == nil:
			if head, herr := s.backend.HeadState(ctx); herr == nil {
				sg.res.Applied = append(sg.res.Applied, head.Hash)
			}
		case errors.Is(err, backend.ErrEmptyCommit):
			sg.res.Skipped = append(sg.res.Skipped, h)
		case errors.As(err, &ce):
			sg.res.Pending = hashes[i+1:]
			return sg.conflict(ctx, err)
		default:
			return sg.abort(ctx, fmt.Errorf("cherry-pick %s: %w", shortHash(h), err))
		}
	}
	return sg.commit(ctx)
}

// restoreHead returns a rollback that puts HEAD, the branch it names and the
// working tree back to st.
func (s *Service) restoreHead(st backend.HeadState) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		op, err := s.backend.OperationState(ctx)
		if err != nil {
			return err
		}
		switch op {
		case backend.OpCherryPick:
			err = s.backend.CherryPickAbort(ctx)
		case backend.OpRevert:
			err = s.backend.RevertAbort(ctx)
		case backend.OpMerge:
			err = s.backend.MergeAbort(ctx)
		}
		if err != nil {
			return fmt.Errorf("abort %s: %w", op, err)
		}
		cur, err := s.backend.HeadState(ctx)
		if err != nil {
			return err
		}
		if st.Branch == "" {
			if err := s.backend.CheckoutDetached(ctx, st.Hash); err != nil {
				return err
			}
			return s.backend.Reset(ctx, st.Hash, backend.ResetHard)
		}
		if cur.Branch == st.Branch {
			return s.backend.Reset(ctx, st.Hash, backend.ResetHard)
		}
		// Detached somewhere else: the branch itself may have been moved.
		if err := s.backend.Reset(ctx, cur.Hash, backend.ResetHard); err != nil {
			return err
		}
		if err := s.backend.SetBranch(ctx, st.Branch, st.Hash); err != nil {
			return err
		}
		return s.backend.Checkout(ctx, st.Branch)
	}
}

func (s *Service) CherryPickContinue(ctx context.Context) (*OpResult, error) {
	return s.continueOp(ctx, "cherry-pick", s.backend.CherryPickContinue)
}

func (s *Service) CherryPickAbort(ctx context.Context) error {
	return s.mutate(func() error { return s.backend.CherryPickAbort(ctx) })
}

// CherryPickSkip drops the stopped commit and its partial changes.
func (s *Service) CherryPickSkip(ctx context.Context) error {
	return s.mutate(func() error { return s.backend.CherryPickSkip(ctx) })
}

func (s *Service) RevertContinue(ctx context.Context) (*OpResult, error) {
	return s.continueOp(ctx, "revert", s.backend.RevertContinue)
}

func (s *Service) RevertAbort(ctx context.Context) error {
	return s.mutate(func() error { return s.backend.RevertAbort(ctx) })
}

func (s *Service) MergeContinue(ctx context.Context) (*OpResult, error) {
	return s.continueOp(ctx, "merge", s.backend.MergeContinue)
}

func (s *Service) MergeAbort(ctx context.Context) error {
	return s.mutate(func() error { return s.backend.MergeAbort(ctx) })
}

// continueOp commits a resolved stop. A cherry-pick or revert that turned
// out empty is dropped, as it would have been without the conflict.
func (s *Service) continueOp(ctx context.Context, op string, fn func(context.Context) error) (*OpResult, error) {
	return mutateResult(s, func() (*OpResult, error) {
		sg := s.newSaga(op + " --continue")
		sg.begin()
		err := fn(ctx)
		var ce *ConflictError
		switch {
		case err == nil:
			return sg.commit(ctx)
		case errors.Is(err, backend.ErrEmptyCommit) && op != "merge":
			drop := s.backend.CherryPickSkip
			if op == "revert" {
				drop = s.backend.RevertAbort
			}
			if derr := drop(ctx); derr != nil {
				return sg.abort(ctx, errors.Join(err, derr))
			}
			sg.log().Info("resolved commit was empty, dropped")
			return sg.commit(ctx)
		case errors.As(err, &ce):
			return sg.conflict(ctx, err)
		default:
			return sg.abort(ctx, err)
		}
	})
}

// Continue resumes whichever operation is stopped in the repository.
func (s *Service) Continue(ctx context.Context) (*OpResult, error) {
	op, err := s.OperationState(ctx)
	if err != nil {
		return nil, err
	}
	switch op {
	case backend.OpCherryPick:
		return s.CherryPickContinue(ctx)
	case backend.OpRevert:
		return s.RevertContinue(ctx)
	case backend.OpMerge:
		return s.MergeContinue(ctx)
	case backend.OpNone:
		return nil, backend.Invalid("operation", "nothing to continue")
	default:
		return nil, backend.Invalid("operation", "%s must be continued with git", op)
	}
}

// Abort abandons whichever operation is stopped in the repository.
func (s *Service) Abort(ctx context.Context) error {
	op, err := s.OperationState(ctx)
	if err != nil {
		return err
	}
	switch op {
	case backend.OpCherryPick:
		return s.CherryPickAbort(ctx)
	case backend.OpRevert:
		return s.RevertAbort(ctx)
	case backend.OpMerge:
		return s.MergeAbort(ctx)
	case backend.OpNone:
		return backend.Invalid("operation", "nothing to abort")
	default:
		return backend.Invalid("operation", "%s must be aborted with git", op)
	}
}

// Reorder rewrites branch so that commits, a contiguous run of its history,
// appear in the given order (oldest first). Commits above the run are
// replayed on top. Any failure returns the repository to where it started.
func (s *Service) Reorder(ctx context.Context, branch string, commits []string) (*OpResult, error) {
	if len(commits) < 2 {
		return nil, backend.Invalid("commits", "reorder needs at least two commits")
	}
	if branch != "" {
		if err := backend.ValidateBranchName(branch); err != nil {
			return nil, err
		}
	}
	return mutateResult(s, func() (*OpResult, error) {
		return s.reorder(ctx, branch, commits)
	})
}

func (s *Service) reorder(ctx context.Context, branch string, commits []string) (*OpResult, error) {
	sg := s.newSaga("reorder")
	if err := s.requireIdle(ctx); err != nil {
		return nil, err
	}
	if err := s.requireCleanTree(ctx); err != nil {
		return nil, err
	}
	st, err := s.backend.HeadState(ctx)
	if err != nil {
		return nil, err
	}
	if branch == "" {
		if st.Branch == "" || st.Unborn() {
			return nil, backend.Invalid("branch", "HEAD is not on a branch with commits")
		}
		branch = st.Branch
	}
	tip, err := s.backend.ResolveRef(ctx, "refs/heads/"+branch)
	if err != nil {
		return nil, err
	}
	order, err := s.resolveAll(ctx, commits)
	if err != nil {
		return nil, err
	}
	chain, err := s.firstParents(ctx, tip, rewriteDepth)
	if err != nil {
		return nil, err
	}
	pos := make(map[string]int, len(chain))
	for i, c := range chain {
		pos[c.Hash] = i
	}
	lo, hi := len(chain), -1
	for _, h := range order {
		i, ok := pos[h]
		if !ok {
			return nil, backend.Invalid("commits", "%s is not on branch %s", shortHash(h), branch)
		}
		lo, hi = min(lo, i), max(hi, i)
	}
	if hi-lo+1 != len(order) {
		return nil, backend.Invalid("commits", "commits must be contiguous")
	}
	if err := requireLinear(chain[:hi+1]); err != nil {
		return nil, err
	}
	oldest := chain[hi]
	if len(oldest.ParentHashes) == 0 {
		return nil, backend.Invalid("commits", "cannot reorder the root commit")
	}
	sg.begin()
	current := make([]string, 0, len(order))
	for i := hi; i >= lo; i-- {
		current = append(current, chain[i].Hash)
	}
	if slices.Equal(current, order) {
		return sg.commit(ctx)
	}
	replay := slices.Clone(order)
	for i := lo - 1; i >= 0; i-- {
		replay = append(replay, chain[i].Hash)
	}
	restore := s.restoreHead(st)
	sg.rollback = func(ctx context.Context) error {
		if err := restore(ctx); err != nil {
			return err
		}
		if branch == st.Branch {
			return nil
		}
		return s.backend.SetBranch(ctx, branch, tip)
	}
	res, err := s.replay(ctx, sg, oldest.ParentHashes[0], replay, branch, tip)
	if err != nil || branch == st.Branch {
		return res, err
	}
	// Rewriting another branch checks it out; go back to where HEAD was.
	if st.Branch != "" {
		err = s.backend.Checkout(ctx, st.Branch)
	} else {
		err = s.backend.CheckoutDetached(ctx, st.Hash)
	}
	if err != nil {
		return res, err
	}
	sg.head(ctx)
	return res, nil
}

func requireLinear(commits []backend.Commit) error {
	for _, c := range commits {
		if len(c.ParentHashes) > 1 {
			return backend.Invalid("commits", "cannot rewrite across merge commit %s", c.ShortHash())
		}
	}
	return nil
}

// replay detaches at base, cherry-picks commits in order and then moves
// branch (when set) to the result and checks it out. Failures abort the
// saga; conflicts are reported after the repository has been restored.
func (s *Service) replay(ctx context.Context, sg *saga, base string, commits []string, branch, oldTip string) (*OpResult, error) {
	if err := s.backend.CheckoutDetached(ctx, base); err != nil {
		return sg.abort(ctx, err)
	}
	for _, h := range commits {
		err := s.backend.CherryPick(ctx, h)
		var ce *ConflictError
		switch {
		case err == nil:
			head, herr := s.backend.HeadState(ctx)
			if herr != nil {
				return sg.abort(ctx, herr)
			}
			sg.res.Applied = append(sg.res.Applied, head.Hash)
		case errors.Is(err, backend.ErrEmptyCommit):
			sg.res.Skipped = append(sg.res.Skipped, h)
		case errors.As(err, &ce):
			res, aerr := sg.abort(ctx, err)
			if aerr == err {
				ce.Restored = true
			}
			return res, aerr
		default:
			return sg.abort(ctx, fmt.Errorf("replay %s: %w", shortHash(h), err))
		}
	}
	if branch == "" {
		return sg.commit(ctx)
	}
	head, err := s.backend.HeadState(ctx)
	if err != nil {
		return sg.abort(ctx, err)
	}
	if err := s.backend.SetBranch(ctx, branch, head.Hash); err != nil {
		return sg.abort(ctx, err)
	}
	if err := s.backend.Checkout(ctx, branch); err != nil {
		return sg.abort(ctx, err)
	}
	sg.log().Debug("branch rewritten",
		slog.String("branch", branch),
		slog.String("from", shortHash(oldTip)),
		slog.String("to", shortHash(head.Hash)),
	)
	return sg.commit(ctx)
}

// Squash folds commits, given newest first and ending at HEAD, into one
// commit with message.
func (s *Service) Squash(ctx context.Context, commits []string, message string) (*OpResult, error) {
	if len(commits) < 2 {
		return nil, backend.Invalid("commits", "squash needs at least two commits")
	}
	if err := requireMessage(message); err != nil {
		return nil, err
	}
	return mutateResult(s, func() (*OpResult, error) {
		return s.squash(ctx, commits, message)
	})
}

func (s *Service) squash(ctx context.Context, commits []string, message string) (*OpResult, error) {
	sg := s.newSaga("squash")
	if err := s.requireIdle(ctx); err != nil {
		return nil, err
	}
	if err := s.requireCleanTree(ctx); err != nil {
		return nil, err
	}
	hashes, err := s.resolveAll(ctx, commits)
	if err != nil {
		return nil, err
	}
	st, err := s.backend.HeadState(ctx)
	if err != nil {
		return nil, err
	}
	if hashes[0] != st.Hash {
		return nil, backend.Invalid("commits", "%s is not HEAD", shortHash(hashes[0]))
	}
	chain, err := s.firstParents(ctx, st.Hash, len(hashes))
	if err != nil {
		return nil, err
	}
	if len(chain) < len(hashes) {
		return nil, backend.Invalid("commits", "cannot squash the root commit")
	}
	for i, h := range hashes {
		if chain[i].Hash != h {
			return nil, backend.Invalid("commits", "%s does not follow %s", shortHash(h), shortHash(hashes[i-1]))
		}
	}
	if err := requireLinear(chain); err != nil {
		return nil, err
	}
	oldest := chain[len(chain)-1]
	if len(oldest.ParentHashes) == 0 {
		return nil, backend.Invalid("commits", "cannot squash the root commit")
	}
	sg.rollback = func(ctx context.Context) error {
		return s.backend.Reset(ctx, st.Hash, backend.ResetSoft)
	}
	sg.begin()
	if err := s.backend.Reset(ctx, oldest.ParentHashes[0], backend.ResetSoft); err != nil {
		return sg.abort(ctx, err)
	}
	author := oldest.Author
	h, err := s.backend.Commit(ctx, backend.CommitOptions{Message: message, Author: &author, AllowEmpty: true})
	if err != nil {
		return sg.abort(ctx, err)
	}
	sg.res.Applied = []string{h}
	return sg.commit(ctx)
}

// Drop removes commit from the current branch by replaying the commits
// above it onto its parent. On a conflict the branch is left untouched.
func (s *Service) Drop(ctx context.Context, commit string) (*OpResult, error) {
	if err := validateRef("commit", commit); err != nil {
		return nil, err
	}
	return mutateResult(s, func() (*OpResult, error) {
		return s.drop(ctx, commit)
	})
}

func (s *Service) drop(ctx context.Context, commit string) (*OpResult, error) {
	sg := s.newSaga("drop")
	if err := s.requireIdle(ctx); err != nil {
		return nil, err
	}
	if err := s.requireCleanTree(ctx); err != nil {
		return nil, err
	}
	st, err := s.backend.HeadState(ctx)
	if err != nil {
		return nil, err
	}
	if st.Unborn() {
		return nil, backend.Invalid("HEAD", "no commits")
	}
	target, err := s.backend.ResolveRef(ctx, commit)
	if err != nil {
		return nil, err
	}
	chain, err := s.firstParents(ctx, st.Hash, rewriteDepth)
	if err != nil {
		return nil, err
	}
	idx := slices.IndexFunc(chain, func(c backend.Commit) bool { return c.Hash == target })
	if idx < 0 {
		return nil, backend.Invalid("commit", "%s is not in the history of HEAD", shortHash(target))
	}
	if err := requireLinear(chain[:idx+1]); err != nil {
		return nil, err
	}
	dropped := chain[idx]
	if len(dropped.ParentHashes) == 0 {
		return nil, backend.Invalid("commit", "cannot drop the root commit")
	}
	parent := dropped.ParentHashes[0]
	sg.rollback = s.restoreHead(st)
	sg.begin()
	if idx == 0 {
		if err := s.backend.Reset(ctx, parent, backend.ResetHard); err != nil {
			return sg.abort(ctx, err)
		}
		return sg.commit(ctx)
	}
	var tail []string
	for i := idx - 1; i >= 0; i-- {
		tail = append(tail, chain[i].Hash)
	}
	return s.replay(ctx, sg, parent, tail, st.Branch, st.Hash)
}

// Revert records a commit undoing commit. A conflict is left in place for
// the caller to resolve or abort.
func (s *Service) Revert(ctx context.Context, commit string) (*OpResult, error) {
	if err := validateRef("commit", commit); err != nil {
		return nil, err
	}
	return mutateResult(s, func() (*OpResult, error) {
		return s.revert(ctx, commit)
	})
}

func (s *Service) revert(ctx context.Context, commit string) (*OpResult, error) {
	sg := s.newSaga("revert")
	if err := s.requireIdle(ctx); err != nil {
		return nil, err
	}
	hash, err := s.backend.ResolveRef(ctx, commit)
	if err != nil {
		return nil, err
	}
	sg.begin()
	err = s.backend.Revert(ctx, hash)
	var ce *ConflictError
	switch {
	case err == nil:
		res, err := sg.commit(ctx)
		res.Applied = []string{res.Head}
		return res, err
	case errors.Is(err, backend.ErrEmptyCommit):
		sg.res.Skipped = []string{hash}
		return sg.commit(ctx)
	case errors.As(err, &ce):
		return sg.conflict(ctx, err)
	default:
		return sg.abort(ctx, err)
	}
}

// Amend replaces the tip commit with one carrying message (the old message
// when empty) and the staged content. commit must be HEAD.
func (s *Service) Amend(ctx context.Context, commit, message string) (*OpResult, error) {
	if err := validateRef("commit", commit); err != nil {
		return nil, err
	}
	return mutateResult(s, func() (*OpResult, error) {
		return s.amend(ctx, commit, message)
	})
}

func (s *Service) amend(ctx context.Context, commit, message string) (*OpResult, error) {
	sg := s.newSaga("amend")
	if err := s.requireIdle(ctx); err != nil {
		return nil, err
	}
	st, err := s.backend.HeadState(ctx)
	if err != nil {
		return nil, err
	}
	target, err := s.backend.ResolveRef(ctx, commit)
	if err != nil {
		return nil, err
	}
	if target != st.Hash {
		return nil, backend.Invalid("commit", "%s is not the tip commit", shortHash(target))
	}
	if strings.TrimSpace(message) == "" {
		c, err := s.backend.CommitInfo(ctx, target)
		if err != nil {
			return nil, err
		}
		message = c.Message
	}
	sg.begin()
	h, err := s.backend.Commit(ctx, backend.CommitOptions{Message: message, Amend: true, AllowEmpty: true})
	if err != nil {
		return sg.abort(ctx, err)
	}
	sg.res.Applied = []string{h}
	return sg.commit(ctx)
}

// Merge merges branch into HEAD, always recording a merge commit. A
// conflict is left in place.
func (s *Service) Merge(ctx context.Context, branch, message string) (*OpResult, error) {
	if err := validateRef("branch", branch); err != nil {
		return nil, err
	}
	return mutateResult(s, func() (*OpResult, error) {
		return s.merge(ctx, branch, message)
	})
}

func (s *Service) merge(ctx context.Context, branch, message string) (*OpResult, error) {
	sg := s.newSaga("merge")
	if err := s.requireIdle(ctx); err != nil {
		return nil, err
	}
	theirs, err := s.backend.ResolveRef(ctx, branch)
	if err != nil {
		return nil, err
	}
	st, err := s.backend.HeadState(ctx)
	if err != nil {
		return nil, err
	}
	if st.Unborn() {
		return nil, backend.Invalid("HEAD", "merge needs at least one commit")
	}
	merged, err := s.backend.IsAncestor(ctx, theirs, st.Hash)
	if err != nil {
		return nil, err
	}
	if merged {
		return nil, backend.Invalid("branch", "%s is already merged into HEAD", branch)
	}
	sg.begin()
	err = s.backend.Merge(ctx, branch, message)
	var ce *ConflictError
	switch {
	case err == nil:
		res, err := sg.commit(ctx)
		res.Applied = []string{res.Head}
		return res, err
	case errors.As(err, &ce):
		return sg.conflict(ctx, err)
	default:
		return sg.abort(ctx, err)
	}
}
