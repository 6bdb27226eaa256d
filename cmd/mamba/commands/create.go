package commands

import (
	"github.com/spf13/cobra"
)

func (c *CLI) newCreateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "create [specs...]",
		Short: "Create a new environment with the given packages",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				_ = cmd.Help()
				return nil
			}
			return c.app.Create(cmd.Context(), options(cmd), args)
		},
	}
}
