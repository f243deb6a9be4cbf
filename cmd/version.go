package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/thiagokokada/repoops/internal/buildinfo"
)

func newVersionCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version and backend information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			info := buildinfo.Collect(a.cfg.GitBinary)
			return a.render(cmd.OutOrStdout(), info, func(w io.Writer) error {
				fmt.Fprintf(w, "repoops %s\n", info.Version)
				fmt.Fprintln(w, info.BackendSummary())
				return nil
			})
		},
	}
}
