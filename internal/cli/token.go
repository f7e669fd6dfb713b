// ABOUTME: token command: mint a bearer token for the HTTP transport
// ABOUTME: Signs with auth.jwt_secret; --admin grants destructive tools

package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/2389/coven-context/internal/auth"
	"github.com/2389/coven-context/internal/store"
)

// NewTokenCommand creates the token command.
func NewTokenCommand(rootOpts *RootOptions) *cobra.Command {
	var subject string
	var admin bool
	var ttl time.Duration

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Generate a bearer token for the HTTP transport",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := rootOpts.cfg.Auth.JWTSecret
			if secret == "" {
				return store.NewError(store.CodeValidation, "auth.jwt_secret is not configured")
			}
			verifier, err := auth.NewJWTVerifier([]byte(secret))
			if err != nil {
				return err
			}
			if ttl == 0 {
				ttl = rootOpts.cfg.Auth.TokenTTL
			}
			var scopes []string
			if admin {
				scopes = append(scopes, auth.ScopeAdmin)
			}
			token, err := verifier.Generate(subject, scopes, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVar(&subject, "subject", "", "client name recorded in the token")
	cmd.Flags().BoolVar(&admin, "admin", false, "allow destructive tools")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (default auth.token_ttl)")
	_ = cmd.MarkFlagRequired("subject")
	return cmd
}
