package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/thiagokokada/repoops/internal/git"
)

// sequenceFlags are the follow-up actions of an operation stopped on a
// conflict.
type sequenceFlags struct {
	cont  bool
	abort bool
	skip  bool
}

func (f *sequenceFlags) register(cmd *cobra.Command, skip bool) {
	cmd.Flags().BoolVar(&f.cont, "continue", false, "continue after resolving conflicts")
	cmd.Flags().BoolVar(&f.abort, "abort", false, "abandon the stopped operation")
	if skip {
		cmd.Flags().BoolVar(&f.skip, "skip", false, "skip the conflicted commit")
	}
	cmd.MarkFlagsMutuallyExclusive("continue", "abort")
}

func (f *sequenceFlags) any() bool { return f.cont || f.abort || f.skip }

// runOp prints the result of a history operation, with conflict guidance
// when it stopped.
func (a *app) runOp(cmd *cobra.Command, op func(context.Context, *git.Service) (*git.OpResult, error)) error {
	svc, err := a.open()
	if err != nil {
		return err
	}
	res, opErr := op(cmd.Context(), svc)
	if res != nil {
		if err := a.render(cmd.OutOrStdout(), res, func(w io.Writer) error {
			writeOpResult(w, res)
			return nil
		}); err != nil {
			return errors.Join(opErr, err)
		}
	}
	if opErr != nil {
		conflictHint(cmd.ErrOrStderr(), opErr)
	}
	return opErr
}

// runAbort runs a plain abort and reports it.
func (a *app) runAbort(cmd *cobra.Command, abort func(context.Context, *git.Service) error) error {
	return a.withService(func(svc *git.Service) error {
		if err := abort(cmd.Context(), svc); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Aborted")
		return nil
	})
}

func newCherryPickCmd(a *app) *cobra.Command {
	var seq sequenceFlags
	cmd := &cobra.Command{
		Use:   "cherry-pick <commit>...",
		Short: "Apply commits on top of HEAD",
		Long: `Apply the changes of each commit, in the order given, on top of HEAD.
When several commits are picked and one fails with anything but a conflict,
HEAD is restored to where it was. A conflict stops the sequence; the
commits not applied yet are reported as pending.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if seq.any() && len(args) > 0 {
				return errors.New("--continue, --abort and --skip take no commits")
			}
			switch {
			case seq.cont:
				return a.runOp(cmd, func(ctx context.Context, svc *git.Service) (*git.OpResult, error) {
					return svc.CherryPickContinue(ctx)
				})
			case seq.abort:
				return a.runAbort(cmd, func(ctx context.Context, svc *git.Service) error {
					return svc.CherryPickAbort(ctx)
				})
			case seq.skip:
				return a.withService(func(svc *git.Service) error {
					return svc.CherryPickSkip(cmd.Context())
				})
			case len(args) == 0:
				return errors.New("no commits given")
			}
			return a.runOp(cmd, func(ctx context.Context, svc *git.Service) (*git.OpResult, error) {
				return svc.CherryPick(ctx, args...)
			})
		},
	}
	seq.register(cmd, true)
	return cmd
}

func newRevertCmd(a *app) *cobra.Command {
	var seq sequenceFlags
	cmd := &cobra.Command{
		Use:   "revert <commit>",
		Short: "Create a commit undoing another",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			switch {
			case seq.cont:
				return a.runOp(cmd, func(ctx context.Context, svc *git.Service) (*git.OpResult, error) {
					return svc.RevertContinue(ctx)
				})
			case seq.abort:
				return a.runAbort(cmd, func(ctx context.Context, svc *git.Service) error {
					return svc.RevertAbort(ctx)
				})
			case len(args) == 0:
				return errors.New("no commit given")
			}
			return a.runOp(cmd, func(ctx context.Context, svc *git.Service) (*git.OpResult, error) {
				return svc.Revert(ctx, args[0])
			})
		},
	}
	seq.register(cmd, false)
	return cmd
}

func newMergeCmd(a *app) *cobra.Command {
	var (
		seq     sequenceFlags
		message string
	)
	cmd := &cobra.Command{
		Use:   "merge <branch>",
		Short: "Merge a branch into the current one",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			switch {
			case seq.cont:
				return a.runOp(cmd, func(ctx context.Context, svc *git.Service) (*git.OpResult, error) {
					return svc.MergeContinue(ctx)
				})
			case seq.abort:
				return a.runAbort(cmd, func(ctx context.Context, svc *git.Service) error {
					return svc.MergeAbort(ctx)
				})
			case len(args) == 0:
				return errors.New("no branch given")
			}
			return a.runOp(cmd, func(ctx context.Context, svc *git.Service) (*git.OpResult, error) {
				return svc.Merge(ctx, args[0], message)
			})
		},
	}
	seq.register(cmd, false)
	cmd.Flags().StringVarP(&message, "message", "m", "", "merge commit message")
	return cmd
}

func newReorderCmd(a *app) *cobra.Command {
	var branch string
	cmd := &cobra.Command{
		Use:   "reorder <commit>...",
		Short: "Rewrite a run of commits in a new order",
		Long: `Rewrite the contiguous run of commits named on the command line so they
appear in the given order, oldest first. The run must be on the first-parent
history of the branch and contain no merge commits. On a conflict the
branch is restored and nothing is changed.`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runOp(cmd, func(ctx context.Context, svc *git.Service) (*git.OpResult, error) {
				return svc.Reorder(ctx, branch, args)
			})
		},
	}
	cmd.Flags().StringVarP(&branch, "branch", "b", "", "branch to rewrite (default current)")
	return cmd
}

func newSquashCmd(a *app) *cobra.Command {
	var message string
	cmd := &cobra.Command{
		Use:   "squash <commit>...",
		Short: "Combine the newest commits into one",
		Long: `Replace the commits named on the command line, newest first and starting
at HEAD, with a single commit carrying the given message.`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runOp(cmd, func(ctx context.Context, svc *git.Service) (*git.OpResult, error) {
				return svc.Squash(ctx, args, message)
			})
		},
	}
	cmd.Flags().StringVarP(&message, "message", "m", "", "message of the combined commit")
	_ = cmd.MarkFlagRequired("message")
	return cmd
}

func newDropCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "drop <commit>",
		Short: "Remove a commit from the current branch",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runOp(cmd, func(ctx context.Context, svc *git.Service) (*git.OpResult, error) {
				return svc.Drop(ctx, args[0])
			})
		},
	}
}

func newContinueCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "continue",
		Short: "Continue the stopped cherry-pick, revert or merge",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runOp(cmd, func(ctx context.Context, svc *git.Service) (*git.OpResult, error) {
				return svc.Continue(ctx)
			})
		},
	}
}

func newAbortCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "abort",
		Short: "Abandon the stopped cherry-pick, revert or merge",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runAbort(cmd, func(ctx context.Context, svc *git.Service) error {
				return svc.Abort(ctx)
			})
		},
	}
}
