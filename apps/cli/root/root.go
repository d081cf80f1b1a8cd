package root

import (
	"github.com/spf13/cobra"
)

// rootCmd is the base command for the worlds admin CLI. Subcommands (auth, bootstrap, world) are attached here.
var rootCmd = &cobra.Command{
	Use:           "worlds",
	Short:         "Game worlds admin CLI",
	Long:          "Administrative utilities for game worlds (registry bootstrap, provisioning, lifecycle flags, activation, dev tokens).",
	SilenceErrors: true,
	SilenceUsage:  true,
}

// Execute runs the CLI.
func Execute() error {
	return rootCmd.Execute()
}

// Root returns the mutable root command for wiring from subpackages.
func Root() *cobra.Command {
	return rootCmd
}
