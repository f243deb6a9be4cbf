package buildinfo

import (
	"fmt"
	"runtime/debug"

	"github.com/thiagokokada/repoops/internal/git/backend"
)

// Version returns the module version or "dev" when unset.
func Version() string {
	info, ok := debug.ReadBuildInfo()
	if !ok || info == nil {
		return "dev"
	}
	version := info.Main.Version
	if version == "" || version == "(devel)" {
		return "dev"
	}
	return version
}

// Tags returns the GOFLAGS build tags recorded at compile time.
func Tags() string {
	info, ok := debug.ReadBuildInfo()
	if !ok || info == nil {
		return ""
	}
	for _, setting := range info.Settings {
		if setting.Key == "-tags" {
			return setting.Value
		}
	}
	return ""
}

// VersionWithTags returns the version string and tags if present.
func VersionWithTags() string {
	version := Version()
	tags := Tags()
	if tags == "" {
		return version
	}
	return fmt.Sprintf("%s (tags: %s)", version, tags)
}

// Info describes the binary and the backends usable on this machine.
type Info struct {
	Version    string `json:"version" yaml:"version"`
	GitBinary  string `json:"git_binary" yaml:"git_binary"`
	GitVersion string `json:"git_version,omitempty" yaml:"git_version,omitempty"`
	// CLIError explains why the git executable cannot be used.
	CLIError   string `json:"cli_error,omitempty" yaml:"cli_error,omitempty"`
	MinVersion string `json:"min_git_version" yaml:"min_git_version"`
}

// Collect probes binary, the git executable used by the CLI backend.
func Collect(binary string) Info {
	if binary == "" {
		binary = "git"
	}
	info := Info{
		Version:    VersionWithTags(),
		GitBinary:  binary,
		MinVersion: backend.MinGitVersion(),
	}
	if ok, err := backend.CLIAvailable(binary); !ok {
		info.CLIError = err.Error()
		return info
	}
	if v, err := backend.GitVersion(binary); err == nil {
		info.GitVersion = v
	}
	return info
}

// BackendSummary is a one line description of the backend auto selection.
func (i Info) BackendSummary() string {
	if i.CLIError != "" {
		return fmt.Sprintf("backend: native (git unusable: %s)", i.CLIError)
	}
	return fmt.Sprintf("backend: cli (git %s, minimum %s), native available", i.GitVersion, i.MinVersion)
}
