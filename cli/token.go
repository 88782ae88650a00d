package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/warp/loan-engine/api"
)

// TokenCmd returns the token command
func TokenCmd(a *App) *cobra.Command {
	var (
		subject string
		ttl     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Print a bearer token for the HTTP API",
		Long: `Sign a bearer token with server.jwt_secret from the configuration
(or LOAN_SERVER_JWT_SECRET). Needed for mutating API calls when the
server has a secret configured.

Examples:
  loanctl token --subject ops --ttl 12h`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.config()
			if err != nil {
				return err
			}
			if cfg.Server.JWTSecret == "" {
				return errors.New("no jwt secret configured (server.jwt_secret / LOAN_SERVER_JWT_SECRET)")
			}
			token, err := api.GenerateToken(subject, cfg.Server.JWTSecret, ttl)
			if err != nil {
				return fmt.Errorf("failed to sign token: %w", err)
			}
			fmt.Fprintln(a.Out, token)
			return nil
		},
	}

	cmd.Flags().StringVarP(&subject, "subject", "s", "loanctl", "Token subject")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "Token lifetime")
	return cmd
}
