package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/spf13/cobra"

	"github.com/thiagokokada/repoops/internal/git"
)

const (
	usernameEnv = "REPOOPS_USERNAME"
	tokenEnv    = "REPOOPS_TOKEN"
)

// credential reads a transient credential from the environment. Tokens are
// never taken from flags so they stay out of the process list.
func credential() git.Credential {
	return git.Credential{Username: os.Getenv(usernameEnv), Token: os.Getenv(tokenEnv)}
}

// progressPrinter redraws one status line per transfer phase.
type progressPrinter struct {
	mu    sync.Mutex
	w     io.Writer
	phase string
}

func (p *progressPrinter) update(pr git.Progress) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.phase != "" && p.phase != pr.Phase {
		fmt.Fprintln(p.w)
	}
	p.phase = pr.Phase
	fmt.Fprintf(p.w, "\r%s: %3d%% (%d/%d)", pr.Phase, pr.Percent, pr.Current, pr.Total)
	if pr.Done {
		fmt.Fprint(p.w, ", done.\n")
		p.phase = ""
	}
}

func (p *progressPrinter) finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.phase != "" {
		fmt.Fprintln(p.w)
		p.phase = ""
	}
}

type remoteFlags struct {
	quiet bool
	force bool
}

// progress returns the callback for network operations, nil when quiet or
// when structured output is requested.
func (a *app) progress(cmd *cobra.Command, quiet bool) (git.ProgressFunc, func()) {
	if quiet || a.output != outputText {
		return nil, func() {}
	}
	p := &progressPrinter{w: cmd.ErrOrStderr()}
	return p.update, p.finish
}

// runNetwork runs op as a background task and waits for it. Interrupting
// the command cancels the task, which is still waited for so the operation
// can clean up.
func runNetwork(cmd *cobra.Command, op func(ctx context.Context) error) error {
	task := git.Go(cmd.Context(), func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	_, err := task.Wait(context.WithoutCancel(cmd.Context()))
	return err
}

func newRemotesCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "remotes",
		Short: "List configured remotes and their URLs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, err := a.open()
			if err != nil {
				return err
			}
			remotes, err := svc.Remotes(cmd.Context())
			if err != nil {
				return err
			}
			return a.render(cmd.OutOrStdout(), remotes, func(w io.Writer) error {
				for _, r := range remotes {
					for _, u := range r.URLs {
						fmt.Fprintf(w, "%s\t%s\n", bold.Sprint(r.Name), u)
					}
				}
				return nil
			})
		},
	}
}

func newFetchCmd(a *app) *cobra.Command {
	var f remoteFlags
	cmd := &cobra.Command{
		Use:   "fetch [remote]",
		Short: "Download objects and refs from a remote",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := git.RemoteOptions{Credential: credential()}
			if len(args) == 1 {
				opts.Remote = args[0]
			}
			return a.remoteOp(cmd, f, opts, (*git.Service).Fetch)
		},
	}
	cmd.Flags().BoolVarP(&f.quiet, "quiet", "q", false, "do not report progress")
	return cmd
}

func newPullCmd(a *app) *cobra.Command {
	var f remoteFlags
	cmd := &cobra.Command{
		Use:   "pull [remote] [branch]",
		Short: "Fetch and integrate a remote branch",
		Args:  cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := git.RemoteOptions{Credential: credential()}
			if len(args) > 0 {
				opts.Remote = args[0]
			}
			if len(args) > 1 {
				opts.Branch = args[1]
			}
			return a.remoteOp(cmd, f, opts, (*git.Service).Pull)
		},
	}
	cmd.Flags().BoolVarP(&f.quiet, "quiet", "q", false, "do not report progress")
	return cmd
}

func newPushCmd(a *app) *cobra.Command {
	var f remoteFlags
	cmd := &cobra.Command{
		Use:   "push [remote] [branch]",
		Short: "Update a remote branch",
		Args:  cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := git.RemoteOptions{Credential: credential(), Force: f.force}
			if len(args) > 0 {
				opts.Remote = args[0]
			}
			if len(args) > 1 {
				opts.Branch = args[1]
			}
			return a.remoteOp(cmd, f, opts, (*git.Service).Push)
		},
	}
	cmd.Flags().BoolVarP(&f.quiet, "quiet", "q", false, "do not report progress")
	cmd.Flags().BoolVarP(&f.force, "force", "f", false, "allow non fast-forward updates")
	return cmd
}

func (a *app) remoteOp(cmd *cobra.Command, f remoteFlags, opts git.RemoteOptions, op func(*git.Service, context.Context, git.RemoteOptions) error) error {
	svc, err := a.open()
	if err != nil {
		return err
	}
	progress, finish := a.progress(cmd, f.quiet)
	opts.Progress = progress
	err = runNetwork(cmd, func(ctx context.Context) error {
		return op(svc, ctx, opts)
	})
	finish()
	return err
}

func newCloneCmd(a *app) *cobra.Command {
	var (
		f      remoteFlags
		branch string
		depth  int
	)
	cmd := &cobra.Command{
		Use:   "clone <url> <dir>",
		Short: "Clone a repository into a new directory",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.engine == nil {
				a.engine = git.NewEngine(a.cfg.Engine())
			}
			progress, finish := a.progress(cmd, f.quiet)
			var svc *git.Service
			err := runNetwork(cmd, func(ctx context.Context) error {
				var err error
				svc, err = a.engine.Clone(ctx, args[0], args[1], git.CloneOptions{
					Branch:     branch,
					Depth:      depth,
					Credential: credential(),
					Progress:   progress,
				})
				return err
			})
			finish()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Cloned into '%s' (%s backend)\n", svc.RepoPath(), svc.BackendName())
			return nil
		},
	}
	cmd.Flags().BoolVarP(&f.quiet, "quiet", "q", false, "do not report progress")
	cmd.Flags().StringVarP(&branch, "branch", "b", "", "branch to check out")
	cmd.Flags().IntVar(&depth, "depth", 0, "create a shallow clone with this many commits")
	return cmd
}
