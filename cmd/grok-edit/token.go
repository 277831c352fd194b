package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/fpang/grok-image-edit/internal/httpapi"
)

var (
	tokenUserFlag  string
	tokenGroupFlag string
	tokenTTLFlag   time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint a bearer token for the HTTP API",
	RunE: func(cmd *cobra.Command, _ []string) error {
		tokens := httpapi.NewTokenManager(opts.HTTPAuthSecret, opts.HTTPAuthIssuer)
		if tokens == nil {
			return errors.New("http_auth_secret is not configured")
		}
		token, err := tokens.Issue(tokenUserFlag, tokenGroupFlag, tokenTTLFlag)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

func init() {
	tokenCmd.Flags().StringVar(&tokenUserFlag, "user", "", "User id carried by the token (required)")
	tokenCmd.Flags().StringVar(&tokenGroupFlag, "group", "", "Group id carried by the token")
	tokenCmd.Flags().DurationVar(&tokenTTLFlag, "ttl", 24*time.Hour, "Token lifetime")
	_ = tokenCmd.MarkFlagRequired("user")
}
