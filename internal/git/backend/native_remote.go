package backend

import (
	"context"
	"errors"
	"fmt"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/go-git/go-git/v5/plumbing/transport/http"
)

func (n *native) Remotes(ctx context.Context) ([]Remote, error) {
	list, err := n.repo.Remotes()
	if err != nil {
		return nil, err
	}
	remotes := make([]Remote, 0, len(list))
	for _, r := range list {
		cfg := r.Config()
		urls := make([]string, 0, len(cfg.URLs))
		for _, u := range cfg.URLs {
			urls = append(urls, Redact(u))
		}
		remotes = append(remotes, Remote{Name: cfg.Name, URLs: urls})
	}
	return remotes, nil
}

// auth turns a credential into HTTP basic auth. Tokens are sent as the
// password, which is what the common hosting services expect.
func auth(cred Credential) transport.AuthMethod {
	if cred.Empty() {
		return nil
	}
	user := cred.Username
	if user == "" {
		user = defaultAskpassUser
	}
	return &http.BasicAuth{Username: user, Password: cred.Token}
}

func (n *native) Fetch(ctx context.Context, opts RemoteOptions) error {
	return n.fetch(ctx, opts)
}

func (n *native) fetch(ctx context.Context, opts RemoteOptions) error {
	name := remoteName(opts)
	fo := &gogit.FetchOptions{
		RemoteName: name,
		Auth:       auth(opts.Credential),
		Progress:   newProgressWriter(opts.Progress),
		Prune:      true,
	}
	if opts.Branch != "" {
		fo.RefSpecs = []config.RefSpec{config.RefSpec(fmt.Sprintf(
			"+refs/heads/%s:refs/remotes/%s/%s", opts.Branch, name, opts.Branch))}
	}
	err := n.repo.FetchContext(ctx, fo)
	if errors.Is(err, gogit.NoErrAlreadyUpToDate) {
		return nil
	}
	return nativeNetworkError("fetch", err)
}

// Pull fetches and then merges the upstream branch, fast-forwarding when
// possible.
func (n *native) Pull(ctx context.Context, opts RemoteOptions) error {
	st, err := n.HeadState(ctx)
	if err != nil {
		return err
	}
	if st.Branch == "" {
		return Invalid("HEAD", "cannot pull with a detached HEAD")
	}
	name := remoteName(opts)
	branch := opts.Branch
	if branch == "" {
		branch = st.Branch
		if cfg, err := n.repo.Config(); err == nil {
			if b, ok := cfg.Branches[st.Branch]; ok && b.Merge != "" && (opts.Remote == "" || b.Remote == opts.Remote) {
				branch = b.Merge.Short()
				if opts.Remote == "" && b.Remote != "" {
					name = b.Remote
				}
			}
		}
	}
	fetchOpts := opts
	fetchOpts.Remote, fetchOpts.Branch = name, branch
	if err := n.fetch(ctx, fetchOpts); err != nil {
		return err
	}
	if err := n.lockIndex(); err != nil {
		return err
	}
	defer n.unlockIndex()
	remoteRef, err := n.repo.Reference(plumbing.NewRemoteReferenceName(name, branch), true)
	if err != nil {
		return refNotFound(name + "/" + branch)
	}
	theirs, err := n.repo.CommitObject(remoteRef.Hash())
	if err != nil {
		return err
	}
	head, err := n.headCommit()
	if err != nil {
		return err
	}
	if head == nil {
		if err := n.switchTree(nil, theirs); err != nil {
			return err
		}
		return n.updateHead(theirs.Hash)
	}
	if ff, err := head.IsAncestor(theirs); err != nil {
		return err
	} else if ff {
		if err := n.switchTree(head, theirs); err != nil {
			return err
		}
		return n.updateHead(theirs.Hash)
	}
	return n.merge(ctx, name+"/"+branch, fmt.Sprintf("Merge branch '%s' of %s", branch, name))
}

func (n *native) Push(ctx context.Context, opts RemoteOptions) error {
	name := remoteName(opts)
	po := &gogit.PushOptions{
		RemoteName: name,
		Auth:       auth(opts.Credential),
		Progress:   newProgressWriter(opts.Progress),
	}
	if opts.Branch != "" {
		ref := plumbing.NewBranchReferenceName(opts.Branch)
		po.RefSpecs = []config.RefSpec{config.RefSpec(ref.String() + ":" + ref.String())}
		if opts.Force {
			po.ForceWithLease = &gogit.ForceWithLease{RefName: ref}
		}
	} else if opts.Force {
		po.ForceWithLease = &gogit.ForceWithLease{}
	}
	err := n.repo.PushContext(ctx, po)
	if errors.Is(err, gogit.NoErrAlreadyUpToDate) {
		return nil
	}
	return nativeNetworkError("push", err)
}

func nativeNetworkError(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gogit.ErrRemoteNotFound):
		return fmt.Errorf("%s: %w", op, ErrNoRemoteConfigured)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	}
	kind := Classify(err.Error())
	if errors.Is(err, gogit.ErrForceNeeded) || errors.Is(err, gogit.ErrNonFastForwardUpdate) {
		kind = ErrValidation
	}
	return &BackendError{Args: []string{op}, Stderr: Redact(err.Error()), Kind: kind, Err: err}
}

func cloneNative(ctx context.Context, url, dir string, opts CloneOptions) error {
	co := &gogit.CloneOptions{
		URL:      url,
		Auth:     auth(opts.Credential),
		Progress: newProgressWriter(opts.Progress),
		Depth:    opts.Depth,
	}
	if opts.Branch != "" {
		co.ReferenceName = plumbing.NewBranchReferenceName(opts.Branch)
		co.SingleBranch = true
	}
	_, err := gogit.PlainCloneContext(ctx, dir, false, co)
	return nativeNetworkError("clone", err)
}
