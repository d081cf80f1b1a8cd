package auth

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/zenGate-Global/palmyra-worlds/platform/go/auth/devtoken"
)

func devTokenCommand() *cobra.Command {
	var (
		params    devtoken.Params
		roles     []string
		expiresIn time.Duration
		secret    string
	)

	cmd := &cobra.Command{
		Use:   "devtoken",
		Short: "Generate an operator JWT for dev/local use",
		Long: "Generate an operator JWT. Without --secret the token is unsigned (AUTH_PROVIDER=dev);\n" +
			"with --secret (or OPERATOR_TOKEN_SECRET) it is HS256-signed (AUTH_PROVIDER=hs256).",
		RunE: func(cmd *cobra.Command, args []string) error {
			params.Roles = roles
			params.ExpiresIn = expiresIn

			if secret == "" {
				secret = os.Getenv("OPERATOR_TOKEN_SECRET")
			}

			var (
				token string
				err   error
			)
			if secret != "" {
				token, err = devtoken.BuildSignedToken(params, []byte(secret), time.Now().UTC())
			} else {
				token, err = devtoken.BuildUnsignedToken(params, time.Now().UTC())
			}
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	// Required claims
	cmd.Flags().StringVar(&params.UserID, "user-id", "", "sub/uid claim")
	cmd.Flags().StringVar(&params.Email, "email", "", "email claim")

	// Optional claims
	cmd.Flags().StringVar(&params.Name, "name", "", "display name")
	cmd.Flags().BoolVar(&params.EmailVerified, "email-verified", true, "email_verified claim")
	cmd.Flags().BoolVar(&params.IsAdmin, "admin", false, "set isAdmin=true (grants the admin role)")
	cmd.Flags().StringSliceVar(&roles, "roles", nil, "roles array (comma-separated: admin, operator, viewer)")
	cmd.Flags().DurationVar(&expiresIn, "expires-in", time.Hour, "token lifetime (e.g. 30m, 2h)")
	cmd.Flags().StringVar(&params.Audience, "audience", "", "optional aud claim")
	cmd.Flags().StringVar(&params.Issuer, "issuer", "", "override iss")
	cmd.Flags().StringVar(&secret, "secret", "", "HS256 signing secret; empty produces an unsigned token")

	_ = cmd.MarkFlagRequired("user-id")
	_ = cmd.MarkFlagRequired("email")

	return cmd
}
