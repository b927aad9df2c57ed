package auth

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/crucial707/juport/cmd/cli/config"
	"github.com/crucial707/juport/internal/middleware"
)

// InitAuth registers auth-related CLI commands on the root command.
func InitAuth(rootCmd *cobra.Command) {
	rootCmd.AddCommand(tokenCmd(), loginCmd())
}

// tokenCmd signs a bearer token with the server's JWT secret. The API has no
// user store; whoever holds the secret mints tokens.
func tokenCmd() *cobra.Command {
	var subject string
	var ttl time.Duration
	var save bool

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Sign an API token with the server secret",
		Long: `Sign a bearer token with the secret the API runs with (JWT_SECRET).
The subject is recorded as the actor in the audit log.

Example:
  JWT_SECRET=... juport token --subject alice --save`,
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := os.Getenv("JWT_SECRET")
			if secret == "" {
				return errors.New("JWT_SECRET is not set")
			}
			if subject == "" {
				return errors.New("subject is required")
			}
			token, err := middleware.SignToken([]byte(secret), subject, ttl)
			if err != nil {
				return fmt.Errorf("failed to sign token: %w", err)
			}
			if save {
				if err := config.SaveToken(token); err != nil {
					return fmt.Errorf("failed to save token: %w", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Token stored locally.")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVar(&subject, "subject", "", "Actor name carried by the token")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "Token lifetime")
	cmd.Flags().BoolVar(&save, "save", false, "Store the token for later commands instead of printing it")
	return cmd
}

// loginCmd stores a token obtained elsewhere.
func loginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "login [token]",
		Short: "Store an API token for subsequent commands",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.SaveToken(args[0]); err != nil {
				return fmt.Errorf("failed to save token: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Token stored locally.")
			return nil
		},
	}
}
