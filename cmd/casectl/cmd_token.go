package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"caseflow/pkg/auth"
)

var tokenFlags struct {
	secret   string
	subject  string
	audience string
	ttl      time.Duration
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint a development bearer token",
	Long: `Token signs an HS256 bearer token for local development against a daemon
configured with the same JWT secret. Production deployments should use the
identity provider instead.`,
	RunE: mintToken,
}

func init() {
	f := tokenCmd.Flags()
	f.StringVar(&tokenFlags.secret, "secret", "", "JWT signing secret (default: $CASEFLOW_JWT_SECRET)")
	f.StringVar(&tokenFlags.subject, "sub", "dev", "Subject (user id) claim")
	f.StringVar(&tokenFlags.audience, "aud", auth.DefaultAudience, "Audience claim")
	f.DurationVar(&tokenFlags.ttl, "ttl", 24*time.Hour, "Token lifetime")
}

func mintToken(cmd *cobra.Command, _ []string) error {
	secret := tokenFlags.secret
	if secret == "" {
		secret = os.Getenv("CASEFLOW_JWT_SECRET")
	}

	token, err := auth.Sign(secret, tokenFlags.subject, tokenFlags.audience, tokenFlags.ttl)
	if err != nil {
		return fmt.Errorf("failed to sign token: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}
