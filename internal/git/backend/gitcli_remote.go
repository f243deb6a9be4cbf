package backend

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
)

func (g *gitCLI) Remotes(ctx context.Context) ([]Remote, error) {
	out, err := g.git(ctx, "remote", "-v")
	if err != nil {
		return nil, err
	}
	return parseRemotes(out), nil
}

func (g *gitCLI) Fetch(ctx context.Context, opts RemoteOptions) error {
	args := []string{"fetch", "--progress", "--prune", remoteName(opts)}
	if opts.Branch != "" {
		args = append(args, opts.Branch)
	}
	return g.network(ctx, args, opts)
}

func (g *gitCLI) Pull(ctx context.Context, opts RemoteOptions) error {
	args := []string{"pull", "--progress", "--no-rebase", "--no-edit", remoteName(opts)}
	if opts.Branch != "" {
		args = append(args, opts.Branch)
	}
	err := g.network(ctx, args, opts)
	if err != nil {
		return g.stoppedOperation(ctx, "merge", "MERGE_HEAD", err)
	}
	return nil
}

func (g *gitCLI) Push(ctx context.Context, opts RemoteOptions) error {
	args := []string{"push", "--progress"}
	if opts.Force {
		args = append(args, "--force-with-lease")
	}
	args = append(args, remoteName(opts))
	if opts.Branch != "" {
		args = append(args, "refs/heads/"+opts.Branch+":refs/heads/"+opts.Branch)
	}
	return g.network(ctx, args, opts)
}

func (g *gitCLI) network(ctx context.Context, args []string, opts RemoteOptions) error {
	// git reports a missing remote as "does not appear to be a git
	// repository", which cannot be told apart from a bad URL.
	remotes, err := g.Remotes(ctx)
	if err != nil {
		return err
	}
	if !slices.ContainsFunc(remotes, func(r Remote) bool { return r.Name == remoteName(opts) }) {
		return fmt.Errorf("%w: %s", ErrNoRemoteConfigured, remoteName(opts))
	}
	return withCredential(opts.Credential, func(env []string) error {
		pw := newProgressWriter(opts.Progress)
		_, err := g.run(ctx, args, runOpts{env: env, progress: pw})
		return networkError(err)
	})
}

func networkError(err error) error {
	if err == nil {
		return nil
	}
	var be *BackendError
	if errors.As(err, &be) && be.Kind == nil {
		s := strings.ToLower(be.Stderr)
		if strings.Contains(s, "no such remote") {
			be.Kind = ErrNoRemoteConfigured
		}
	}
	return err
}

func remoteName(opts RemoteOptions) string {
	if opts.Remote == "" {
		return "origin"
	}
	return opts.Remote
}

func cloneCLI(ctx context.Context, binary, url, dir string, opts CloneOptions) error {
	if err := ensureMinGitVersion(binary); err != nil {
		return err
	}
	args := []string{"clone", "--progress"}
	if opts.Branch != "" {
		args = append(args, "--branch", opts.Branch)
	}
	if opts.Depth > 0 {
		args = append(args, "--depth", strconv.Itoa(opts.Depth))
	}
	args = append(args, "--", url, dir)
	return withCredential(opts.Credential, func(env []string) error {
		pw := newProgressWriter(opts.Progress)
		_, err := runGit(ctx, binary, "", args, runOpts{env: env, progress: pw})
		return networkError(err)
	})
}
