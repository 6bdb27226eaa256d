package commands

import (
	"github.com/spf13/cobra"
)

func (c *CLI) newInstallCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "install [specs...]",
		Short: "Install packages into an existing environment",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				_ = cmd.Help()
				return nil
			}
			opts := options(cmd)
			opts.AllowDowngrade, _ = cmd.Flags().GetBool("allow-downgrade")
			return c.app.Install(cmd.Context(), opts, args)
		},
	}
	cmd.Flags().Bool("allow-downgrade", false, "Permit installing a version older than the installed one")
	return cmd
}
