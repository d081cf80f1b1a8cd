package auth

import "github.com/spf13/cobra"

// Command groups authentication-related helpers.
func Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Authentication utilities",
		Long:  "Authentication utilities (operator dev tokens for the dev and hs256 auth providers).",
	}

	cmd.AddCommand(devTokenCommand())

	return cmd
}
