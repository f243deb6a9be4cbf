package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"gopkg.in/yaml.v3"

	"github.com/thiagokokada/repoops/internal/git"
)

const (
	outputText = "text"
	outputJSON = "json"
	outputYAML = "yaml"
)

func checkOutput(format string) error {
	switch format {
	case outputText, outputJSON, outputYAML:
		return nil
	}
	return fmt.Errorf("unknown output format %q (want text, json or yaml)", format)
}

// render writes v as JSON or YAML when requested, otherwise calls text.
func (a *app) render(w io.Writer, v any, text func(io.Writer) error) error {
	switch a.output {
	case outputJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case outputYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	default:
		return text(w)
	}
}

var (
	green   = color.New(color.FgGreen)
	red     = color.New(color.FgRed)
	yellow  = color.New(color.FgYellow)
	cyan    = color.New(color.FgCyan)
	magenta = color.New(color.FgMagenta)
	bold    = color.New(color.Bold)
)

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// writePatch prints unified diff text with colored markers.
func writePatch(w io.Writer, patch string) {
	for _, line := range strings.SplitAfter(patch, "\n") {
		if line == "" {
			continue
		}
		switch {
		case strings.HasPrefix(line, "diff --git"), strings.HasPrefix(line, "--- "), strings.HasPrefix(line, "+++ "):
			bold.Fprint(w, line)
		case strings.HasPrefix(line, "@@"):
			cyan.Fprint(w, line)
		case strings.HasPrefix(line, "+"):
			green.Fprint(w, line)
		case strings.HasPrefix(line, "-"):
			red.Fprint(w, line)
		case strings.HasPrefix(line, "commit "):
			yellow.Fprint(w, line)
		default:
			fmt.Fprint(w, line)
		}
	}
}

func writeOpResult(w io.Writer, res *git.OpResult) {
	if res == nil {
		return
	}
	c := green
	switch res.State {
	case git.StateConflictPending:
		c = yellow
	case git.StateAborted:
		c = red
	}
	c.Fprintf(w, "%s %s", res.Op, res.State)
	if res.Head != "" {
		fmt.Fprintf(w, ", HEAD is now %s", shortID(res.Head))
	}
	fmt.Fprintln(w)
	writeHashes(w, "applied", res.Applied)
	writeHashes(w, "skipped (already present)", res.Skipped)
	writeHashes(w, "pending", res.Pending)
}

func writeHashes(w io.Writer, label string, hashes []string) {
	if len(hashes) == 0 {
		return
	}
	short := make([]string, len(hashes))
	for i, h := range hashes {
		short[i] = shortID(h)
	}
	fmt.Fprintf(w, "  %s: %s\n", label, strings.Join(short, " "))
}
