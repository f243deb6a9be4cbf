package backend

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
)

type Preference string

const (
	PreferAuto   Preference = "auto"
	PreferCLI    Preference = "cli"
	PreferNative Preference = "native"
)

func ParsePreference(s string) (Preference, error) {
	switch p := Preference(strings.ToLower(strings.TrimSpace(s))); p {
	case "", PreferAuto:
		return PreferAuto, nil
	case PreferCLI, PreferNative:
		return p, nil
	default:
		return "", Invalid("backend", "%q (want auto, cli or native)", s)
	}
}

type Options struct {
	Preference Preference
	// GitBinary is the git executable used by the CLI backend.
	GitBinary string
}

func (o Options) binary() string {
	if o.GitBinary == "" {
		return "git"
	}
	return o.GitBinary
}

// CLIAvailable reports whether the git executable can be used, and why not.
func CLIAvailable(binary string) (bool, error) {
	if binary == "" {
		binary = "git"
	}
	if _, err := exec.LookPath(binary); err != nil {
		return false, err
	}
	if err := ensureMinGitVersion(binary); err != nil {
		return false, err
	}
	return true, nil
}

// Open picks a backend for repoPath. With PreferAuto the git executable is
// used whenever it is installed and recent enough, otherwise the repository
// is opened in-process.
func Open(repoPath string, opts Options) (Backend, error) {
	switch opts.Preference {
	case PreferCLI:
		return OpenCLI(repoPath, opts.binary())
	case PreferNative:
		return OpenNative(repoPath)
	case "", PreferAuto:
	default:
		return nil, Invalid("backend", "unknown preference %q", opts.Preference)
	}
	if ok, err := CLIAvailable(opts.binary()); !ok {
		slog.Debug("git executable unavailable, using native backend", slog.Any("error", err))
		return OpenNative(repoPath)
	}
	return OpenCLI(repoPath, opts.binary())
}

type CloneOptions struct {
	Options
	Branch     string
	Depth      int
	Credential Credential
	Progress   ProgressFunc
}

// Clone clones url into dir and opens the result.
func Clone(ctx context.Context, url, dir string, opts CloneOptions) (Backend, error) {
	if strings.TrimSpace(url) == "" {
		return nil, Invalid("url", "empty clone URL")
	}
	if strings.HasPrefix(url, "-") || strings.HasPrefix(dir, "-") {
		return nil, Invalid("url", "arguments must not start with '-'")
	}
	useCLI := opts.Preference == PreferCLI
	if opts.Preference == "" || opts.Preference == PreferAuto {
		useCLI, _ = CLIAvailable(opts.binary())
	}
	if useCLI {
		if err := cloneCLI(ctx, opts.binary(), url, dir, opts); err != nil {
			return nil, fmt.Errorf("clone %s: %w", Redact(url), err)
		}
		return OpenCLI(dir, opts.binary())
	}
	if err := cloneNative(ctx, url, dir, opts); err != nil {
		return nil, fmt.Errorf("clone %s: %w", Redact(url), err)
	}
	return OpenNative(dir)
}
