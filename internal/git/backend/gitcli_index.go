package backend

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

func (g *gitCLI) Add(ctx context.Context, paths ...string) error {
	if len(paths) == 0 {
		return nil
	}
	_, err := g.git(ctx, append([]string{"add", "-A", "--"}, paths...)...)
	return err
}

func (g *gitCLI) Unstage(ctx context.Context, paths ...string) error {
	if len(paths) == 0 {
		return nil
	}
	head, err := g.HeadState(ctx)
	if err != nil {
		return err
	}
	if head.Unborn() {
		_, err = g.git(ctx, append([]string{"rm", "--cached", "-q", "-r", "--ignore-unmatch", "--"}, paths...)...)
		return err
	}
	_, err = g.git(ctx, append([]string{"reset", "-q", "HEAD", "--"}, paths...)...)
	return err
}

func (g *gitCLI) Discard(ctx context.Context, paths ...string) error {
	if len(paths) == 0 {
		return nil
	}
	_, err := g.git(ctx, append([]string{"checkout", "--"}, paths...)...)
	return err
}

func (g *gitCLI) Commit(ctx context.Context, opts CommitOptions) (string, error) {
	args := []string{"commit", "-q", "--cleanup=strip", "-F", "-"}
	if opts.Amend {
		args = append(args, "--amend")
	}
	if opts.AllowEmpty {
		args = append(args, "--allow-empty")
	}
	var env []string
	if a := opts.Author; a != nil {
		args = append(args, "--author", fmt.Sprintf("%s <%s>", a.Name, a.Email))
		if !a.When.IsZero() {
			env = append(env, "GIT_AUTHOR_DATE="+a.When.Format("2006-01-02T15:04:05-0700"))
		}
	}
	_, err := g.run(ctx, args, runOpts{stdin: strings.NewReader(opts.Message), env: env})
	if err != nil {
		if errors.Is(err, ErrNothingToCommit) || errors.Is(err, ErrEmptyCommit) {
			return "", ErrNothingToCommit
		}
		return "", err
	}
	out, err := g.git(ctx, "rev-parse", "HEAD")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

func (g *gitCLI) Checkout(ctx context.Context, branch string) error {
	if err := validateRev(branch); err != nil {
		return err
	}
	_, err := g.git(ctx, "switch", "-q", "--", branch)
	return err
}

func (g *gitCLI) CheckoutDetached(ctx context.Context, hash string) error {
	if err := validateRev(hash); err != nil {
		return err
	}
	_, err := g.git(ctx, "switch", "-q", "--detach", hash)
	return err
}

func (g *gitCLI) CreateBranch(ctx context.Context, name, start string) error {
	if err := ValidateBranchName(name); err != nil {
		return err
	}
	args := []string{"branch", name}
	if start != "" {
		if err := validateRev(start); err != nil {
			return err
		}
		args = append(args, start)
	}
	_, err := g.git(ctx, args...)
	return err
}

func (g *gitCLI) DeleteBranch(ctx context.Context, name string, force bool) error {
	if err := ValidateBranchName(name); err != nil {
		return err
	}
	flag := "-d"
	if force {
		flag = "-D"
	}
	_, err := g.git(ctx, "branch", flag, name)
	if err != nil && strings.Contains(err.Error(), "not found") {
		return refNotFound(name)
	}
	return err
}

func (g *gitCLI) RenameBranch(ctx context.Context, oldName, newName string) error {
	if err := ValidateBranchName(oldName); err != nil {
		return err
	}
	if err := ValidateBranchName(newName); err != nil {
		return err
	}
	_, err := g.git(ctx, "branch", "-m", oldName, newName)
	return err
}

func (g *gitCLI) SetBranch(ctx context.Context, name, hash string) error {
	if err := ValidateBranchName(name); err != nil {
		return err
	}
	if err := validateRev(hash); err != nil {
		return err
	}
	// update-ref also works for the checked out branch, unlike branch -f.
	_, err := g.git(ctx, "update-ref", "-m", "repoops: set branch", "refs/heads/"+name, hash)
	return err
}

func (g *gitCLI) Reset(ctx context.Context, hash string, mode ResetMode) error {
	if err := validateRev(hash); err != nil {
		return err
	}
	_, err := g.git(ctx, "reset", "-q", mode.flag(), hash, "--")
	return err
}
