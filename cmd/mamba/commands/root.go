// Package commands implements the CLI commands for the mamba package manager.
package commands

import (
	"context"

	"github.com/marimeireles/mamba/internal/app"
	"github.com/marimeireles/mamba/internal/build"
	"github.com/marimeireles/mamba/internal/core/domain"
	"github.com/spf13/cobra"
)

// CLI represents the command line interface for mamba.
type CLI struct {
	app     *app.App
	rootCmd *cobra.Command
}

// New creates a new CLI instance with the given app.
func New(a *app.App) *CLI {
	rootCmd := &cobra.Command{
		Use:           "mamba",
		Short:         "A fast cross-platform package manager",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       build.Version,
	}

	pf := rootCmd.PersistentFlags()
	pf.StringArrayP("channel", "c", nil, "Channel to search for packages, highest priority first (repeatable)")
	pf.StringP("prefix", "p", "", "Path to the target environment prefix")
	pf.String("root-prefix", "", "Path to the root prefix holding the shared package cache")
	pf.String("rc-file", "", "Path to the configuration file")
	pf.String("platform", "", "Channel platform tag (e.g. linux-64)")
	pf.BoolP("yes", "y", false, "Do not ask for confirmation")
	pf.Bool("dry-run", false, "Plan and report the transaction without executing it")
	pf.Bool("offline", false, "Use cached repodata and archives only, no network")
	pf.Bool("json", false, "Emit machine-readable JSON output")
	pf.CountP("verbose", "v", "Increase log verbosity (repeatable)")
	pf.BoolP("quiet", "q", false, "Suppress progress output")
	pf.Bool("ssl-verify", true, "Verify TLS certificates")
	pf.String("cacert-path", "", "Path to a CA certificate bundle")
	pf.Int("workers", 0, "Maximum concurrent downloads (0 means number of CPUs)")
	pf.Int("max-retries", 0, "Retries per download on transient failures")

	rootCmd.InitDefaultVersionFlag()
	rootCmd.Flags().Lookup("version").Usage = "Print the application version"

	rootCmd.InitDefaultHelpFlag()
	rootCmd.Flags().Lookup("help").Usage = "Show help for command"

	c := &CLI{
		app:     a,
		rootCmd: rootCmd,
	}

	rootCmd.AddCommand(c.newCreateCmd())
	rootCmd.AddCommand(c.newInstallCmd())
	rootCmd.AddCommand(c.newRemoveCmd())
	rootCmd.AddCommand(c.newListCmd())
	rootCmd.AddCommand(c.newVersionCmd())

	return c
}

// Execute runs the root command with the given context.
func (c *CLI) Execute(ctx context.Context) error {
	c.rootCmd.SetContext(ctx)
	return c.rootCmd.Execute()
}

// SetArgs sets the arguments for the root command. Used for testing.
func (c *CLI) SetArgs(args []string) {
	c.rootCmd.SetArgs(args)
}

// options folds the persistent flags into a fresh Options value. Flags the
// user did not set keep their defaults and may later be filled from the rc
// file.
func options(cmd *cobra.Command) domain.Options {
	opts := domain.DefaultOptions()
	flags := cmd.Flags()

	if v, err := flags.GetStringArray("channel"); err == nil && len(v) > 0 {
		opts.Channels = v
	}
	if v, err := flags.GetString("prefix"); err == nil && v != "" {
		opts.TargetPrefix = v
	}
	if v, err := flags.GetString("root-prefix"); err == nil && v != "" {
		opts.RootPrefix = v
	}
	if v, err := flags.GetString("rc-file"); err == nil && v != "" {
		opts.RCFile = v
	}
	if v, err := flags.GetString("platform"); err == nil && v != "" {
		opts.Platform = v
	}
	opts.AlwaysYes, _ = flags.GetBool("yes")
	opts.DryRun, _ = flags.GetBool("dry-run")
	opts.Offline, _ = flags.GetBool("offline")
	opts.JSON, _ = flags.GetBool("json")
	opts.Quiet, _ = flags.GetBool("quiet")
	opts.Verbosity, _ = flags.GetCount("verbose")
	opts.SSLVerify, _ = flags.GetBool("ssl-verify")
	if v, err := flags.GetString("cacert-path"); err == nil && v != "" {
		opts.CACertPath = v
	}
	if v, err := flags.GetInt("workers"); err == nil && v > 0 {
		opts.Workers = v
	}
	if v, err := flags.GetInt("max-retries"); err == nil && v > 0 {
		opts.MaxRetries = v
	}
	return opts
}
