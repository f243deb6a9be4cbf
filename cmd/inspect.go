package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/thiagokokada/repoops/internal/diff"
	"github.com/thiagokokada/repoops/internal/git"
	"github.com/thiagokokada/repoops/internal/git/backend"
)

type statusReport struct {
	Branch    string           `json:"branch" yaml:"branch"`
	Operation string           `json:"operation,omitempty" yaml:"operation,omitempty"`
	Changes   []git.FileChange `json:"changes" yaml:"changes"`
}

func newStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the working tree status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, err := a.open()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			branch, err := svc.CurrentBranch(ctx)
			if err != nil {
				return err
			}
			op, err := svc.OperationState(ctx)
			if err != nil {
				return err
			}
			changes, err := svc.WorkingTreeStatus(ctx)
			if err != nil {
				return err
			}
			// The slice is shared with the cache; patches are dropped on a copy.
			trimmed := make([]git.FileChange, len(changes))
			for i, c := range changes {
				c.Patch = ""
				trimmed[i] = c
			}
			report := statusReport{Branch: branch, Operation: string(op), Changes: trimmed}
			return a.render(cmd.OutOrStdout(), report, func(w io.Writer) error {
				writeStatus(w, report)
				return nil
			})
		},
	}
}

func writeStatus(w io.Writer, r statusReport) {
	if r.Branch == "HEAD" {
		fmt.Fprintln(w, "HEAD detached")
	} else {
		fmt.Fprintf(w, "On branch %s\n", r.Branch)
	}
	if r.Operation != "" {
		yellow.Fprintf(w, "You are in the middle of a %s.\n", r.Operation)
		cyan.Fprintln(w, "  (use \"repoops continue\" or \"repoops abort\")")
	}
	if len(r.Changes) == 0 {
		fmt.Fprintln(w, "\nNothing to commit, working tree clean")
		return
	}
	var staged, unstaged, untracked, conflicted []git.FileChange
	for _, c := range r.Changes {
		switch {
		case c.Status == git.ChangeConflicted:
			conflicted = append(conflicted, c)
		case c.Untracked:
			untracked = append(untracked, c)
		case c.Staged:
			staged = append(staged, c)
		default:
			unstaged = append(unstaged, c)
		}
	}
	if len(conflicted) > 0 {
		fmt.Fprintln(w, "\nUnmerged paths:")
		for _, c := range conflicted {
			magenta.Fprintf(w, "        both modified:   %s\n", c.Path)
		}
	}
	if len(staged) > 0 {
		fmt.Fprintln(w, "\nChanges to be committed:")
		cyan.Fprintln(w, "  (use \"repoops unstage <path>\" to unstage)")
		for _, c := range staged {
			writeChange(w, c, green)
		}
	}
	if len(unstaged) > 0 {
		fmt.Fprintln(w, "\nChanges not staged for commit:")
		cyan.Fprintln(w, "  (use \"repoops stage <path>\" to stage)")
		for _, c := range unstaged {
			writeChange(w, c, red)
		}
	}
	if len(untracked) > 0 {
		fmt.Fprintln(w, "\nUntracked files:")
		for _, c := range untracked {
			red.Fprintf(w, "        %s\n", c.Path)
		}
	}
}

func writeChange(w io.Writer, c git.FileChange, col *color.Color) {
	name := c.Path
	if c.OrigPath != "" {
		name = c.OrigPath + " -> " + c.Path
	}
	counts := fmt.Sprintf("+%d -%d", c.Additions, c.Deletions)
	if c.Binary {
		counts = "binary"
	}
	col.Fprintf(w, "        %-10s %s", string(c.Status)+":", name)
	fmt.Fprintf(w, " (%s)\n", counts)
}

type fileHunks struct {
	Path  string      `json:"path" yaml:"path"`
	Hunks []diff.Hunk `json:"hunks" yaml:"hunks"`
}

type fileRows struct {
	Path string     `json:"path" yaml:"path"`
	Rows []diff.Row `json:"rows" yaml:"rows"`
}

func sideBySideRows(files []fileHunks) []fileRows {
	out := make([]fileRows, 0, len(files))
	for _, f := range files {
		fr := fileRows{Path: f.Path}
		for _, h := range f.Hunks {
			fr.Rows = append(fr.Rows, diff.SideBySide(h.Lines)...)
		}
		out = append(out, fr)
	}
	return out
}

func newDiffCmd(a *app) *cobra.Command {
	var (
		staged     bool
		sideBySide bool
		width      int
	)
	cmd := &cobra.Command{
		Use:   "diff [path...]",
		Short: "Show unstaged changes, or staged changes with --staged",
		Long: `Show the changes between the index and the working tree, or between
HEAD and the index with --staged. Hunks are numbered from 0 in the order
shown; those numbers are what "stage --hunk" and "unstage --hunk" take.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if sideBySide && width < 1 {
				return fmt.Errorf("--width must be positive, got %d", width)
			}
			svc, err := a.open()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			paths := args
			if len(paths) == 0 {
				changes, err := svc.WorkingTreeStatus(ctx)
				if err != nil {
					return err
				}
				for _, c := range changes {
					if c.Staged == staged && !c.Binary && c.Status != git.ChangeConflicted {
						paths = append(paths, c.Path)
					}
				}
			}
			var files []fileHunks
			for _, p := range paths {
				hunks, err := svc.FileDiff(ctx, p, staged)
				if err != nil {
					return err
				}
				if len(hunks) > 0 {
					files = append(files, fileHunks{Path: p, Hunks: hunks})
				}
			}
			var v any = files
			if sideBySide {
				v = sideBySideRows(files)
			}
			return a.render(cmd.OutOrStdout(), v, func(w io.Writer) error {
				for _, f := range files {
					if sideBySide {
						writeSideBySide(w, f, width)
						continue
					}
					writeNumberedPatch(w, f)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&staged, "staged", false, "show changes between HEAD and the index")
	cmd.Flags().BoolVarP(&sideBySide, "side-by-side", "y", false, "show old and new text in two columns")
	cmd.Flags().IntVar(&width, "width", 60, "column width for --side-by-side")
	return cmd
}

// writeNumberedPatch prints a file diff with the hunk index before each
// hunk header.
func writeNumberedPatch(w io.Writer, f fileHunks) {
	bold.Fprintf(w, "--- a/%s\n+++ b/%s\n", f.Path, f.Path)
	for i, h := range f.Hunks {
		magenta.Fprintf(w, "[%d] ", i)
		writePatch(w, strings.TrimPrefix(diff.Format(f.Path, []diff.Hunk{h}), fmt.Sprintf("--- a/%s\n+++ b/%s\n", f.Path, f.Path)))
	}
}

// writeSideBySide prints each hunk as two columns, old text on the left.
// Changed characters are underlined.
func writeSideBySide(w io.Writer, f fileHunks, width int) {
	bold.Fprintf(w, "%s\n", f.Path)
	for i, h := range f.Hunks {
		magenta.Fprintf(w, "[%d] ", i)
		cyan.Fprintln(w, h.Header())
		for _, row := range diff.SideBySide(h.Lines) {
			writeCell(w, row.Left, width, true)
			fmt.Fprint(w, " | ")
			writeCell(w, row.Right, width, false)
			fmt.Fprintln(w)
		}
	}
}

func writeCell(w io.Writer, l *diff.Line, width int, left bool) {
	if l == nil {
		fmt.Fprintf(w, "%5s %-*s", "", width, "")
		return
	}
	num := l.NewLine
	if left {
		num = l.OldLine
	}
	fmt.Fprintf(w, "%5d ", num)
	runes := []rune(l.Content)
	if len(runes) > width {
		runes = runes[:width]
	}
	col, hl := color.New(), color.New(color.Underline)
	switch l.Kind {
	case diff.Add:
		col, hl = green, color.New(color.FgGreen, color.Underline)
	case diff.Remove:
		col, hl = red, color.New(color.FgRed, color.Underline)
	}
	pos := 0
	for _, r := range l.IntraChanges {
		from, to := min(r.From, len(runes)), min(r.To, len(runes))
		col.Fprint(w, string(runes[pos:from]))
		hl.Fprint(w, string(runes[from:to]))
		pos = to
	}
	col.Fprint(w, string(runes[pos:]))
	if pad := width - len(runes); pad > 0 {
		fmt.Fprintf(w, "%*s", pad, "")
	}
}

func newFilesCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "files [dir]",
		Short: "List the working directory files with their status",
		Long: `List tracked files and untracked files that are not ignored, optionally
only those under dir. The status column is the staged then the unstaged
change, "??" for untracked files.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.open()
			if err != nil {
				return err
			}
			files, err := svc.WorktreeFiles(cmd.Context())
			if err != nil {
				return err
			}
			if len(args) == 1 {
				files = git.FilterWorktreeFiles(files, args[0])
			}
			return a.render(cmd.OutOrStdout(), files, func(w io.Writer) error {
				for _, f := range files {
					writeFileStatus(w, f)
				}
				return nil
			})
		},
	}
}

func writeFileStatus(w io.Writer, f git.WorktreeFile) {
	switch {
	case f.Untracked:
		red.Fprint(w, "??")
	default:
		green.Fprint(w, changeLetter(f.Staged))
		red.Fprint(w, changeLetter(f.Unstaged))
	}
	fmt.Fprintf(w, " %8d %s\n", f.Size, f.Path)
}

func changeLetter(k git.ChangeKind) string {
	switch k {
	case git.ChangeAdded:
		return "A"
	case git.ChangeModified:
		return "M"
	case git.ChangeDeleted:
		return "D"
	case git.ChangeRenamed:
		return "R"
	case git.ChangeConflicted:
		return "U"
	}
	return " "
}

type commitReport struct {
	Commit *backend.Commit       `json:"commit" yaml:"commit"`
	Files  []backend.ChangedFile `json:"files" yaml:"files"`
}

func newShowCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show [rev]",
		Short: "Show a commit and its patch",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rev := "HEAD"
			if len(args) == 1 {
				rev = args[0]
			}
			svc, err := a.open()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			c, err := svc.CommitInfo(ctx, rev)
			if err != nil {
				return err
			}
			if a.output != outputText {
				files, err := svc.CommitChanges(ctx, c.Hash)
				if err != nil {
					return err
				}
				return a.render(cmd.OutOrStdout(), commitReport{Commit: c, Files: files}, nil)
			}
			files, err := svc.CommitDiff(ctx, c.Hash)
			if err != nil {
				return err
			}
			writePatch(cmd.OutOrStdout(), git.FormatCommitPatch(c, files))
			return nil
		},
	}
}

func newBlameCmd(a *app) *cobra.Command {
	var (
		rev      string
		strategy string
		depth    int
	)
	cmd := &cobra.Command{
		Use:   "blame <path>",
		Short: "Show the commit that last changed each line",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if strategy == "" {
				strategy = a.cfg.Blame.Strategy
			}
			st, err := git.ParseBlameStrategy(strategy)
			if err != nil {
				return err
			}
			svc, err := a.open()
			if err != nil {
				return err
			}
			lines, err := svc.Blame(cmd.Context(), args[0], rev, git.BlameOptions{Strategy: st, MaxDepth: depth})
			if err != nil {
				return err
			}
			return a.render(cmd.OutOrStdout(), lines, func(w io.Writer) error {
				width := len(fmt.Sprint(len(lines)))
				for _, l := range lines {
					yellow.Fprint(w, shortID(l.Commit))
					fmt.Fprintf(w, " (%-16.16s %s %*d) %s\n",
						l.Author, l.Date.Format("2006-01-02"), width, l.LineNo, l.Content)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&rev, "rev", "HEAD", "revision to blame")
	cmd.Flags().StringVar(&strategy, "strategy", "", "blame strategy: auto, native or fallback")
	cmd.Flags().IntVar(&depth, "depth", 0, "commits examined by the fallback strategy")
	return cmd
}

func newLogCmd(a *app) *cobra.Command {
	var (
		path  string
		limit int
	)
	cmd := &cobra.Command{
		Use:   "log [ref]",
		Short: "Show commit history with a graph",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			q := git.LogQuery{Path: path, Limit: limit}
			if len(args) == 1 {
				q.Ref = args[0]
			}
			svc, err := a.open()
			if err != nil {
				return err
			}
			entries, err := svc.Log(cmd.Context(), q)
			if err != nil {
				return err
			}
			return a.render(cmd.OutOrStdout(), entries, func(w io.Writer) error {
				for _, e := range entries {
					if e.Graph != "" {
						fmt.Fprintf(w, "%s ", e.Graph)
					}
					yellow.Fprint(w, e.Commit.ShortHash())
					if len(e.Labels) > 0 {
						fmt.Fprint(w, " (")
						green.Fprint(w, strings.Join(e.Labels, ", "))
						fmt.Fprint(w, ")")
					}
					fmt.Fprintf(w, " %s ", e.Commit.Summary())
					cyan.Fprintf(w, "<%s>\n", e.Commit.Author.Name)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&path, "path", "", "only commits touching path")
	cmd.Flags().IntVarP(&limit, "limit", "n", git.DefaultLogLimit, "maximum number of commits")
	return cmd
}
