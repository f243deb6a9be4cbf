package backend

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

type gitCLI struct {
	path   string
	gitDir string
	binary string
}

// OpenCLI opens the repository containing repoPath using the git executable
// named by binary ("git" when empty).
func OpenCLI(repoPath, binary string) (Backend, error) {
	if binary == "" {
		binary = "git"
	}
	if err := ensureMinGitVersion(binary); err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(repoPath)
	if err != nil {
		return nil, err
	}
	tmp := &gitCLI{path: abs, binary: binary}
	out, err := tmp.git(context.Background(), "rev-parse", "--show-toplevel", "--absolute-git-dir")
	if err != nil {
		return nil, fmt.Errorf("open repository: %w", err)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 2 || lines[0] == "" {
		return nil, fmt.Errorf("open repository: git rev-parse returned %q", out)
	}
	return &gitCLI{
		path:   filepath.Clean(lines[0]),
		gitDir: filepath.Clean(strings.TrimSpace(lines[1])),
		binary: binary,
	}, nil
}

func (g *gitCLI) Name() string { return "cli" }

func (g *gitCLI) RepoPath() string {
	if g == nil {
		return ""
	}
	return g.path
}

func (g *gitCLI) GitDir() string { return g.gitDir }

type runOpts struct {
	// allowExit1 treats exit status 1 with empty stderr as success, which is
	// how several plumbing commands report "no match".
	allowExit1 bool
	env        []string
	stdin      io.Reader
	// progress receives stderr as it is produced.
	progress io.Writer
}

// baseEnv pins the locale so stderr can be classified and keeps git from
// opening editors or pagers.
var baseEnv = []string{
	"LC_ALL=C",
	"GIT_EDITOR=true",
	"GIT_MERGE_AUTOEDIT=no",
	"GIT_PAGER=cat",
}

func (g *gitCLI) git(ctx context.Context, args ...string) (string, error) {
	return g.run(ctx, args, runOpts{})
}

func (g *gitCLI) run(ctx context.Context, args []string, opts runOpts) (string, error) {
	if g == nil || g.path == "" {
		return "", fmt.Errorf("repository root not set")
	}
	return runGit(ctx, g.binary, g.path, args, opts)
}

// runGit executes binary with args as a discrete argument list. dir, when
// set, is passed with -C.
func runGit(ctx context.Context, binary, dir string, args []string, opts runOpts) (string, error) {
	cmdArgs := args
	if dir != "" {
		cmdArgs = append([]string{"-C", dir}, args...)
	}
	cmd := exec.CommandContext(ctx, binary, cmdArgs...)
	cmd.Env = append(append(os.Environ(), baseEnv...), opts.env...)
	cmd.Stdin = opts.stdin
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	if opts.progress != nil {
		cmd.Stderr = io.MultiWriter(&stderr, opts.progress)
	} else {
		cmd.Stderr = &stderr
	}

	start := time.Now()
	err := cmd.Run()
	slog.Debug("git",
		slog.String("args", sanitizeArgs(args)),
		slog.Duration("elapsed", time.Since(start)),
		slog.Bool("ok", err == nil),
	)
	if err == nil {
		return stdout.String(), nil
	}
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = ctxErr
		}
		return "", &BackendError{Args: args, ExitCode: -1, Err: err}
	}
	if opts.allowExit1 && exitErr.ExitCode() == 1 && stderr.Len() == 0 {
		return stdout.String(), nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return "", &BackendError{Args: args, ExitCode: exitErr.ExitCode(), Err: ctxErr}
	}
	msg := strings.TrimSpace(stderr.String())
	kind := Classify(msg)
	if kind == nil {
		// Some commands (commit, stash) explain themselves on stdout.
		kind = Classify(stdout.String())
		if msg == "" {
			msg = strings.TrimSpace(stdout.String())
		}
	}
	return "", &BackendError{
		Args:     args,
		ExitCode: exitErr.ExitCode(),
		Stderr:   Redact(msg),
		Kind:     kind,
		Err:      err,
	}
}

// exitCode returns the exit status carried by err, or -1.
func exitCode(err error) int {
	var be *BackendError
	if errors.As(err, &be) {
		return be.ExitCode
	}
	return -1
}
