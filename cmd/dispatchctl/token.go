package main

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/cobra"

	"github.com/notifyhub/villa-dispatch/internal/auth"
)

type tokenEnv struct {
	JWTSecret string        `envconfig:"JWT_SECRET" required:"true"`
	TokenTTL  time.Duration `envconfig:"TOKEN_TTL" default:"24h"`
}

func newTokenCmd() *cobra.Command {
	var (
		subject string
		role    string
		ttl     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an API access token",
		Long: `Signs a bearer token with JWT_SECRET.

Roles:
  service - producers posting job events
  admin   - operators; reaches every route
  staff   - the mobile app; --subject must be the staff id

Example:
  dispatchctl token --role staff --subject staff-17 --ttl 720h`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var env tokenEnv
			if err := envconfig.Process("", &env); err != nil {
				return fmt.Errorf("process env config: %w", err)
			}
			if env.JWTSecret == "" {
				return fmt.Errorf("JWT_SECRET is required")
			}

			tok, err := auth.NewService(env.JWTSecret, env.TokenTTL).GenerateToken(subject, auth.Role(role), ttl)
			if err != nil {
				return fmt.Errorf("issue token: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}

	cmd.Flags().StringVar(&subject, "subject", "", "staff id or client name (required)")
	cmd.Flags().StringVar(&role, "role", string(auth.RoleService), "service, admin or staff")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (defaults to TOKEN_TTL)")
	_ = cmd.MarkFlagRequired("subject")
	return cmd
}
