package cmd

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"

	"github.com/thiagokokada/repoops/internal/config"
)

func newConfigCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the configuration file",
	}
	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a configuration file with the default settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.Default()
			cfg.SetPath(a.cfg.Path())
			if !force {
				if _, err := os.Stat(cfg.Path()); err == nil {
					return fmt.Errorf("%s already exists (use --force to overwrite)", cfg.Path())
				} else if !errors.Is(err, fs.ErrNotExist) {
					return err
				}
			}
			if err := cfg.Save(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", cfg.Path())
			return nil
		},
	}
	initCmd.Flags().BoolVarP(&force, "force", "f", false, "overwrite an existing file")
	show := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.render(cmd.OutOrStdout(), a.cfg, func(w io.Writer) error {
				fmt.Fprintf(w, "# %s\n", a.cfg.Path())
				return toml.NewEncoder(w).Encode(a.cfg)
			})
		},
	}
	cmd.AddCommand(initCmd, show)
	return cmd
}
