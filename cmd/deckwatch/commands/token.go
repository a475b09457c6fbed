package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/marmos91/deckwatch/pkg/api/auth"
	"github.com/marmos91/deckwatch/pkg/config"
)

var (
	tokenScope   string
	tokenTTL     time.Duration
	tokenSubject string
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint a bearer token for the status API",
	Long: `Mint a signed token for the status API using api.jwt_secret.

Read tokens may query devices and tracks. Control tokens may also change
finder settings such as passive mode.

Examples:
  deckwatch token
  deckwatch token --scope control --ttl 24h --subject booth-display`,
	RunE: runToken,
}

func init() {
	tokenCmd.Flags().StringVar(&tokenScope, "scope", auth.ScopeRead, "Token scope (read|control)")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 0, "Token lifetime (0 never expires)")
	tokenCmd.Flags().StringVar(&tokenSubject, "subject", "deckwatch-cli", "Subject recorded in the token")
}

func runToken(cmd *cobra.Command, args []string) error {
	if tokenScope != auth.ScopeRead && tokenScope != auth.ScopeControl {
		return fmt.Errorf("invalid scope %q (valid: %s, %s)", tokenScope, auth.ScopeRead, auth.ScopeControl)
	}

	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return err
	}
	if cfg.API.JWTSecret == "" {
		return fmt.Errorf("api.jwt_secret is not set; the API accepts requests without tokens")
	}

	tokens, err := auth.NewTokenService(auth.Config{Secret: cfg.API.JWTSecret})
	if err != nil {
		return err
	}
	token, err := tokens.Mint(tokenSubject, tokenScope, tokenTTL)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
	return err
}
