package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/thiagokokada/repoops/internal/git"
)

// partialFlags select a hunk, or one line of it, of a single file.
type partialFlags struct {
	hunk  int
	line  int
	patch string
}

func (p *partialFlags) register(cmd *cobra.Command, verb string) {
	cmd.Flags().IntVar(&p.hunk, "hunk", -1, verb+" only the hunk with this index (see 'repoops diff')")
	cmd.Flags().IntVar(&p.line, "line", -1, verb+" only this line of the hunk selected by --hunk")
}

func (p *partialFlags) validate(args []string) error {
	if p.line >= 0 && p.hunk < 0 {
		return errors.New("--line requires --hunk")
	}
	if p.hunk >= 0 && len(args) != 1 {
		return errors.New("--hunk takes exactly one path")
	}
	return nil
}

func newStageCmd(a *app) *cobra.Command {
	var p partialFlags
	cmd := &cobra.Command{
		Use:   "stage <path>...",
		Short: "Stage files, a single hunk or a single line",
		Long: `Stage whole files, or with --hunk and --line a part of one file. The
working tree is never modified. With --patch, the hunks of a unified
patch file ("-" for stdin) are applied to the index.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := p.validate(args); err != nil {
				return err
			}
			svc, err := a.open()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			switch {
			case p.patch != "":
				patch, err := a.readInput(p.patch)
				if err != nil {
					return err
				}
				paths, err := svc.ApplyPatchToIndex(ctx, patch)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Staged patch for %d file(s)\n", len(paths))
				return nil
			case p.hunk >= 0:
				path := args[0]
				oldText, err := svc.IndexFileContent(ctx, path)
				if err != nil {
					return err
				}
				newText, err := svc.WorkingFileContent(path)
				if err != nil {
					return err
				}
				if p.line >= 0 {
					return svc.StageLine(ctx, path, oldText, newText, p.hunk, p.line)
				}
				return svc.StageHunk(ctx, path, oldText, newText, p.hunk)
			case len(args) == 0:
				return errors.New("nothing to stage: give paths or --patch")
			}
			return svc.StageFile(ctx, args...)
		},
	}
	p.register(cmd, "stage")
	cmd.Flags().StringVar(&p.patch, "patch", "", "apply a unified patch file to the index")
	return cmd
}

func newUnstageCmd(a *app) *cobra.Command {
	var p partialFlags
	cmd := &cobra.Command{
		Use:   "unstage <path>...",
		Short: "Unstage files, a single hunk or a single line",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := p.validate(args); err != nil {
				return err
			}
			svc, err := a.open()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if p.hunk < 0 {
				return svc.UnstageFile(ctx, args...)
			}
			path := args[0]
			headText, err := headContent(cmd, svc, path)
			if err != nil {
				return err
			}
			indexText, err := svc.IndexFileContent(ctx, path)
			if err != nil {
				return err
			}
			if p.line >= 0 {
				return svc.UnstageLine(ctx, path, headText, indexText, p.hunk, p.line)
			}
			return svc.UnstageHunk(ctx, path, headText, indexText, p.hunk)
		},
	}
	p.register(cmd, "unstage")
	return cmd
}

// headContent is path at HEAD, empty before the first commit.
func headContent(cmd *cobra.Command, svc *git.Service, path string) (string, error) {
	text, err := svc.FileContentAt(cmd.Context(), "HEAD", path)
	if errors.Is(err, git.ErrRefNotFound) {
		return "", nil
	}
	return text, err
}

func newDiscardCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "discard <path>...",
		Short: "Discard unstaged changes to files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withService(func(svc *git.Service) error {
				return svc.DiscardFile(cmd.Context(), args...)
			})
		},
	}
}

func newCommitCmd(a *app) *cobra.Command {
	var (
		message string
		amend   bool
	)
	cmd := &cobra.Command{
		Use:   "commit",
		Short: "Record the staged changes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, err := a.open()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if amend {
				res, err := svc.Amend(ctx, "HEAD", message)
				if err != nil {
					return err
				}
				return a.render(cmd.OutOrStdout(), res, func(w io.Writer) error {
					writeOpResult(w, res)
					return nil
				})
			}
			hash, err := svc.Commit(ctx, message)
			if err != nil {
				return err
			}
			return a.render(cmd.OutOrStdout(), map[string]string{"commit": hash}, func(w io.Writer) error {
				fmt.Fprint(w, "Created commit ")
				yellow.Fprintln(w, shortID(hash))
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&message, "message", "m", "", "commit message")
	cmd.Flags().BoolVar(&amend, "amend", false, "replace the tip commit, keeping its message when -m is empty")
	return cmd
}

// readInput reads name, or stdin for "-".
func (a *app) readInput(name string) (string, error) {
	var (
		data []byte
		err  error
	)
	if name == "-" {
		data, err = io.ReadAll(a.stdin)
	} else {
		data, err = os.ReadFile(name)
	}
	if err != nil {
		return "", fmt.Errorf("read %s: %w", name, err)
	}
	return string(data), nil
}
