package cmd

import (
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"quickgpt/internal/config"
	"quickgpt/internal/pkg/jwt"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Bearer token helpers for local development",
}

var tokenIssueCmd = &cobra.Command{
	Use:   "issue",
	Short: "Sign a bearer token for a user with the configured secret",
	RunE:  runTokenIssue,
}

func init() {
	rootCmd.AddCommand(tokenCmd)
	tokenCmd.AddCommand(tokenIssueCmd)

	tokenIssueCmd.Flags().String("user", "", "user id")
	tokenIssueCmd.Flags().String("name", "", "user display name")
	tokenIssueCmd.Flags().Duration("ttl", 0, "token lifetime (default: auth.access_token_expiry)")
	_ = tokenIssueCmd.MarkFlagRequired("user")
}

func runTokenIssue(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()
	secret := cfg.Auth.JWTSecret
	if secret == "" {
		secret = config.DefaultJWTSecret
		log.Warn().Msg("JWT secret not configured, signing with the default development secret")
	}

	userID, _ := cmd.Flags().GetString("user")
	name, _ := cmd.Flags().GetString("name")
	ttl, _ := cmd.Flags().GetDuration("ttl")
	if ttl <= 0 {
		ttl = cfg.Auth.AccessTokenExpiry
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}

	token, err := jwt.NewJWT(secret, ttl).GenerateToken(userID, name)
	if err != nil {
		return fmt.Errorf("failed to sign token: %w", err)
	}

	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}
