// Package cmd implements the repoops command line interface.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/thiagokokada/repoops/internal/buildinfo"
	"github.com/thiagokokada/repoops/internal/config"
	"github.com/thiagokokada/repoops/internal/git"
)

// app holds the flags and resources shared by every command.
type app struct {
	configPath string
	repoPath   string
	backend    string
	output     string
	logFormat  string
	verbose    bool
	noColor    bool

	cfg    *config.Config
	engine *git.Engine
	stdin  io.Reader
}

// Run executes the command line with os.Args. SIGINT and SIGTERM cancel the
// running operation.
func Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return newRootCmd().ExecuteContext(ctx)
}

func newRootCmd() *cobra.Command {
	a := &app{stdin: os.Stdin}
	root := &cobra.Command{
		Use:   "repoops",
		Short: "Local git repository operations",
		Long: `repoops inspects and edits local git repositories: status and diffs,
hunk and line staging, history rewriting with automatic rollback, blame,
branches, stashes and remote synchronisation.

The git executable is used when available, an in-process implementation
otherwise (see --backend).`,
		Version:       buildinfo.VersionWithTags(),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd)
		},
	}
	root.SetVersionTemplate("repoops {{.Version}}\n")

	f := root.PersistentFlags()
	f.StringVarP(&a.repoPath, "repo", "C", ".", "path inside the repository")
	f.StringVar(&a.configPath, "config", "", "configuration file (default $XDG_CONFIG_HOME/repoops/config.toml)")
	f.StringVar(&a.backend, "backend", "", "execution backend: auto, cli or native")
	f.StringVarP(&a.output, "output", "o", outputText, "output format: text, json or yaml")
	f.StringVar(&a.logFormat, "log-format", "text", "log format: text or json")
	f.BoolVarP(&a.verbose, "verbose", "v", false, "enable verbose logging")
	f.BoolVar(&a.noColor, "no-color", false, "disable colored output")

	root.AddCommand(
		newStatusCmd(a),
		newDiffCmd(a),
		newFilesCmd(a),
		newShowCmd(a),
		newBlameCmd(a),
		newLogCmd(a),
		newBranchCmd(a),
		newAheadBehindCmd(a),
		newStageCmd(a),
		newUnstageCmd(a),
		newDiscardCmd(a),
		newCommitCmd(a),
		newCherryPickCmd(a),
		newRevertCmd(a),
		newReorderCmd(a),
		newSquashCmd(a),
		newDropCmd(a),
		newMergeCmd(a),
		newContinueCmd(a),
		newAbortCmd(a),
		newStashCmd(a),
		newRemotesCmd(a),
		newFetchCmd(a),
		newPullCmd(a),
		newPushCmd(a),
		newCloneCmd(a),
		newWatchCmd(a),
		newConfigCmd(a),
		newVersionCmd(a),
	)
	return root
}

func (a *app) setup(cmd *cobra.Command) error {
	if err := checkOutput(a.output); err != nil {
		return err
	}
	if a.noColor {
		color.NoColor = true
	}
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.backend != "" {
		cfg.Backend = a.backend
		if err := cfg.Validate(); err != nil {
			return err
		}
	}
	a.cfg = cfg
	return a.setupLogger(cmd.ErrOrStderr())
}

func (a *app) setupLogger(w io.Writer) error {
	level, err := config.ParseLogLevel(a.cfg.LogLevel)
	if err != nil {
		return err
	}
	if a.verbose {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	switch a.logFormat {
	case "", "text":
		handler = slog.NewTextHandler(w, opts)
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	default:
		return fmt.Errorf("unknown log format %q (want text or json)", a.logFormat)
	}
	slog.SetDefault(slog.New(handler))
	return nil
}

// open opens the repository selected by --repo.
func (a *app) open() (*git.Service, error) {
	if a.engine == nil {
		a.engine = git.NewEngine(a.cfg.Engine())
	}
	svc, err := a.engine.Open(a.repoPath)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", a.repoPath, err)
	}
	return svc, nil
}

// conflictHint explains how to go on after a stopped history operation.
func conflictHint(w io.Writer, err error) {
	var ce *git.ConflictError
	if !errors.As(err, &ce) {
		return
	}
	yellow := color.New(color.FgYellow)
	if ce.Restored {
		yellow.Fprintln(w, "The repository was restored to its previous state.")
		return
	}
	for _, p := range ce.Paths {
		yellow.Fprintf(w, "    both modified:   %s\n", p)
	}
	fmt.Fprintln(w, "\nResolve the conflicts, stage the files and run 'repoops continue',")
	fmt.Fprintln(w, "or run 'repoops abort' to give up.")
}

// ExitCode maps err to the process exit status: 2 when an operation stopped
// on conflicts, 3 for rejected input, 1 otherwise.
func ExitCode(err error) int {
	switch git.Kind(err) {
	case "":
		return 0
	case "conflict_pending":
		return 2
	case "validation", "path_traversal_rejected", "ref_not_found":
		return 3
	default:
		return 1
	}
}
