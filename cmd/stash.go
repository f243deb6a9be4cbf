package cmd

import (
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/thiagokokada/repoops/internal/git"
)

func stashIndex(args []string) (int, error) {
	if len(args) == 0 {
		return 0, nil
	}
	n, err := strconv.Atoi(args[0])
	if err != nil {
		return 0, fmt.Errorf("invalid stash index %q", args[0])
	}
	return n, nil
}

func newStashCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stash",
		Short: "Save and restore uncommitted changes",
	}
	list := &cobra.Command{
		Use:   "list",
		Short: "List stashes, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, err := a.open()
			if err != nil {
				return err
			}
			stashes, err := svc.StashList(cmd.Context())
			if err != nil {
				return err
			}
			return a.render(cmd.OutOrStdout(), stashes, func(w io.Writer) error {
				for _, s := range stashes {
					yellow.Fprintf(w, "stash@{%d}", s.Index)
					fmt.Fprintf(w, ": %s\n", s.Message)
				}
				return nil
			})
		},
	}
	var (
		message   string
		untracked bool
	)
	push := &cobra.Command{
		Use:   "push",
		Short: "Stash the working tree and index changes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withService(func(svc *git.Service) error {
				if err := svc.StashPush(cmd.Context(), message, untracked); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Saved working directory and index state")
				return nil
			})
		},
	}
	push.Flags().StringVarP(&message, "message", "m", "", "stash message")
	push.Flags().BoolVarP(&untracked, "include-untracked", "u", false, "stash untracked files too")

	indexed := func(use, short, done string, fn func(*git.Service, *cobra.Command, int) error) *cobra.Command {
		return &cobra.Command{
			Use:   use + " [index]",
			Short: short,
			Args:  cobra.MaximumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				n, err := stashIndex(args)
				if err != nil {
					return err
				}
				return a.withService(func(svc *git.Service) error {
					if err := fn(svc, cmd, n); err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "%s stash@{%d}\n", done, n)
					return nil
				})
			},
		}
	}
	show := &cobra.Command{
		Use:   "show [index]",
		Short: "List the files changed by a stash",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := stashIndex(args)
			if err != nil {
				return err
			}
			svc, err := a.open()
			if err != nil {
				return err
			}
			files, err := svc.StashFiles(cmd.Context(), n)
			if err != nil {
				return err
			}
			return a.render(cmd.OutOrStdout(), files, func(w io.Writer) error {
				for _, f := range files {
					fmt.Fprintf(w, "%-10s %s\n", string(f.Kind)+":", f.Path)
				}
				return nil
			})
		},
	}
	cmd.AddCommand(
		list,
		push,
		show,
		indexed("apply", "Apply a stash, keeping it", "Applied", func(svc *git.Service, cmd *cobra.Command, n int) error {
			return svc.StashApply(cmd.Context(), n)
		}),
		indexed("pop", "Apply a stash and drop it", "Popped", func(svc *git.Service, cmd *cobra.Command, n int) error {
			return svc.StashPop(cmd.Context(), n)
		}),
		indexed("drop", "Delete a stash", "Dropped", func(svc *git.Service, cmd *cobra.Command, n int) error {
			return svc.StashDrop(cmd.Context(), n)
		}),
	)
	return cmd
}
