package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/thiagokokada/repoops/internal/git"
	"github.com/thiagokokada/repoops/internal/repocache"
	"github.com/thiagokokada/repoops/internal/watch"
)

func newWatchCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Print the status whenever the repository changes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !a.cfg.Watch.Enabled {
				return errors.New("watching is disabled in the configuration ([watch] enabled)")
			}
			svc, err := a.open()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			out := cmd.OutOrStdout()
			changed := make(chan []repocache.Kind, 1)
			w, err := watch.New(svc.Engine(), svc.RepoPath(), svc.GitDir(), watch.Options{
				Debounce: time.Duration(a.cfg.Watch.Debounce),
				OnChange: func(kinds []repocache.Kind) {
					select {
					case changed <- kinds:
					default:
					}
				},
			})
			if err != nil {
				return err
			}
			defer w.Close()

			errc := make(chan error, 1)
			go func() { errc <- w.Run(ctx) }()
			if err := a.printSummary(ctx, out, svc); err != nil {
				return err
			}
			for {
				select {
				case <-ctx.Done():
					return nil
				case err := <-errc:
					if errors.Is(err, context.Canceled) {
						return nil
					}
					return err
				case <-changed:
					if err := a.printSummary(ctx, out, svc); err != nil {
						return err
					}
				}
			}
		},
	}
}

type watchSummary struct {
	Time   time.Time `json:"time" yaml:"time"`
	Branch string    `json:"branch" yaml:"branch"`
	Head   string    `json:"head,omitempty" yaml:"head,omitempty"`
	Staged int       `json:"staged" yaml:"staged"`
	Dirty  int       `json:"unstaged" yaml:"unstaged"`
}

func (a *app) printSummary(ctx context.Context, w io.Writer, svc *git.Service) error {
	sum := watchSummary{Time: time.Now()}
	var err error
	if sum.Branch, err = svc.CurrentBranch(ctx); err != nil {
		return err
	}
	if sum.Head, err = svc.ResolveRef(ctx, "HEAD"); err != nil && !errors.Is(err, git.ErrRefNotFound) {
		return err
	}
	changes, err := svc.WorkingTreeStatus(ctx)
	if err != nil {
		return err
	}
	for _, c := range changes {
		if c.Staged {
			sum.Staged++
		} else {
			sum.Dirty++
		}
	}
	return a.render(w, sum, func(w io.Writer) error {
		cyan.Fprintf(w, "[%s] ", sum.Time.Format(time.TimeOnly))
		fmt.Fprintf(w, "%s ", sum.Branch)
		yellow.Fprint(w, shortID(sum.Head))
		fmt.Fprint(w, " ")
		green.Fprintf(w, "%d staged", sum.Staged)
		fmt.Fprint(w, ", ")
		red.Fprintf(w, "%d unstaged\n", sum.Dirty)
		return nil
	})
}
