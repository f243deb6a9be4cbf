package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/thiagokokada/repoops/internal/git"
)

func newBranchCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "branch",
		Short: "List, create, delete, rename or move branches",
		Long: `Manage branches.

Without a subcommand, lists local and remote branches.

Examples:
  repoops branch                      # List branches
  repoops branch create feature       # Create 'feature' at HEAD
  repoops branch create fix abc123    # Create 'fix' at commit abc123
  repoops branch delete -f feature    # Delete 'feature' even if unmerged
  repoops branch checkout feature     # Switch to 'feature'`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, err := a.open()
			if err != nil {
				return err
			}
			branches, err := svc.Branches(cmd.Context())
			if err != nil {
				return err
			}
			return a.render(cmd.OutOrStdout(), branches, func(w io.Writer) error {
				for _, b := range branches {
					writeBranch(w, b)
				}
				return nil
			})
		},
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "create <name> [start]",
			Short: "Create a branch at start (HEAD by default)",
			Args:  cobra.RangeArgs(1, 2),
			RunE: func(cmd *cobra.Command, args []string) error {
				start := ""
				if len(args) == 2 {
					start = args[1]
				}
				return a.withService(func(svc *git.Service) error {
					if err := svc.CreateBranch(cmd.Context(), args[0], start); err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "Created branch '%s'\n", args[0])
					return nil
				})
			},
		},
		newBranchDeleteCmd(a),
		&cobra.Command{
			Use:   "rename <old> <new>",
			Short: "Rename a branch",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				return a.withService(func(svc *git.Service) error {
					if err := svc.RenameBranch(cmd.Context(), args[0], args[1]); err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "Renamed branch '%s' to '%s'\n", args[0], args[1])
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "reset <name> <ref>",
			Short: "Point a branch that is not checked out at ref",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				return a.withService(func(svc *git.Service) error {
					if err := svc.ResetBranch(cmd.Context(), args[0], args[1]); err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "Branch '%s' now points at %s\n", args[0], args[1])
					return nil
				})
			},
		},
		newCheckoutCmd(a),
	)
	return cmd
}

func writeBranch(w io.Writer, b git.Branch) {
	switch {
	case b.Active:
		green.Fprintf(w, "* %s", b.Name)
	case b.Remote:
		red.Fprintf(w, "  remotes/%s", b.Name)
	default:
		fmt.Fprintf(w, "  %s", b.Name)
	}
	yellow.Fprintf(w, " %s", shortID(b.Hash))
	if b.Upstream != "" {
		cyan.Fprintf(w, " [%s]", b.Upstream)
	}
	fmt.Fprintln(w)
}

func newBranchDeleteCmd(a *app) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "delete <name>",
		Short: "Delete a branch",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withService(func(svc *git.Service) error {
				if err := svc.DeleteBranch(cmd.Context(), args[0], force); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted branch '%s'\n", args[0])
				return nil
			})
		},
	}
	cmd.Flags().BoolVarP(&force, "force", "f", false, "delete even when not merged")
	return cmd
}

func newCheckoutCmd(a *app) *cobra.Command {
	var detach bool
	cmd := &cobra.Command{
		Use:   "checkout <branch|ref>",
		Short: "Switch to a branch, or detach HEAD at a ref",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withService(func(svc *git.Service) error {
				if detach {
					if err := svc.CheckoutDetached(cmd.Context(), args[0]); err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "HEAD is now at %s\n", args[0])
					return nil
				}
				if err := svc.Checkout(cmd.Context(), args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Switched to branch '%s'\n", args[0])
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&detach, "detach", false, "detach HEAD at the ref")
	return cmd
}

func newAheadBehindCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "ahead-behind [branch]",
		Short: "Count commits a branch and its upstream have that the other lacks",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			branch := ""
			if len(args) == 1 {
				branch = args[0]
			}
			svc, err := a.open()
			if err != nil {
				return err
			}
			ab, err := svc.AheadBehind(cmd.Context(), branch)
			if err != nil {
				return err
			}
			return a.render(cmd.OutOrStdout(), ab, func(w io.Writer) error {
				bound := ""
				if ab.Approximate {
					bound = " at least"
				}
				fmt.Fprintf(w, "%s is%s ", ab.Branch, bound)
				green.Fprintf(w, "%d ahead", ab.Ahead)
				fmt.Fprint(w, ", ")
				red.Fprintf(w, "%d behind", ab.Behind)
				fmt.Fprintf(w, " %s\n", ab.Upstream)
				return nil
			})
		},
	}
}

// withService opens the repository and runs fn.
func (a *app) withService(fn func(*git.Service) error) error {
	svc, err := a.open()
	if err != nil {
		return err
	}
	return fn(svc)
}
