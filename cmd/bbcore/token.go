package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/beyondbetter/bb-core/internal/observability"
	"github.com/beyondbetter/bb-core/internal/session"
	"github.com/beyondbetter/bb-core/internal/supabase"
	"github.com/beyondbetter/bb-core/pkg/types"
)

// tokenFunction is the backend edge function owning durable API tokens. The
// daemon's in-process registry mirrors what this function issues.
const tokenFunction = "api-tokens"

// buildTokenCmd creates the "token" command group.
func buildTokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Manage API tokens against the backend",
	}
	cmd.AddCommand(buildTokenGenerateCmd(), buildTokenRevokeCmd())
	return cmd
}

func buildTokenGenerateCmd() *cobra.Command {
	var (
		configPath  string
		accessToken string
		ttl         time.Duration
		scopes      []string
	)

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Issue a new API token",
		Long: `Issue a new API token for the authenticated user.

The access token is taken from --access-token or BB_ACCESS_TOKEN.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := tokenClient(cmd.Context(), resolveConfigPath(configPath), accessToken)
			if err != nil {
				return err
			}
			defer client.Close()

			var result struct {
				Token     string    `json:"token"`
				ExpiresAt time.Time `json:"expires_at"`
			}
			payload := map[string]any{
				"action":     "issue",
				"ttlSeconds": int(ttl.Seconds()),
				"scopes":     scopes,
			}
			if err := client.InvokeFunction(cmd.Context(), tokenFunction, payload, &result); err != nil {
				return fmt.Errorf("issue token: %w", err)
			}
			if !session.WellFormed(result.Token) {
				return fmt.Errorf("backend returned a malformed token")
			}
			fmt.Println(result.Token)
			if !result.ExpiresAt.IsZero() {
				fmt.Fprintln(os.Stderr, "expires:", result.ExpiresAt.Format(time.RFC3339))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to configuration file")
	cmd.Flags().StringVar(&accessToken, "access-token", "", "Access token (or set BB_ACCESS_TOKEN)")
	cmd.Flags().DurationVar(&ttl, "ttl", 30*24*time.Hour, "Token lifetime (0 for no expiry)")
	cmd.Flags().StringSliceVar(&scopes, "scope", nil, "Scopes granted to the token (repeatable)")
	return cmd
}

func buildTokenRevokeCmd() *cobra.Command {
	var (
		configPath  string
		accessToken string
	)

	cmd := &cobra.Command{
		Use:   "revoke <token>",
		Short: "Revoke an API token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			token := args[0]
			if !session.WellFormed(token) {
				return fmt.Errorf("not an API token: %q", token)
			}
			client, err := tokenClient(cmd.Context(), resolveConfigPath(configPath), accessToken)
			if err != nil {
				return err
			}
			defer client.Close()

			payload := map[string]any{"action": "revoke", "token": token}
			if err := client.InvokeFunction(cmd.Context(), tokenFunction, payload, nil); err != nil {
				return fmt.Errorf("revoke token: %w", err)
			}
			fmt.Println("revoked")
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to configuration file")
	cmd.Flags().StringVar(&accessToken, "access-token", "", "Access token (or set BB_ACCESS_TOKEN)")
	return cmd
}

// tokenClient bootstraps an authenticated Supabase client for one-shot token
// operations.
func tokenClient(ctx context.Context, configPath, accessToken string) (*supabase.Client, error) {
	if accessToken == "" {
		accessToken = os.Getenv("BB_ACCESS_TOKEN")
	}
	if accessToken == "" {
		return nil, fmt.Errorf("an access token is required (--access-token or BB_ACCESS_TOKEN)")
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, err
	}
	logger := observability.NewLogger(observability.LogConfig{
		Level:  "warn",
		Format: cfg.Logging.Format,
		Output: os.Stderr,
	})

	projectCfg, err := supabase.FetchConfig(ctx, logger, supabase.FetchOptions{
		URL: cfg.API.SupabaseConfigURL,
	})
	if err != nil {
		return nil, fmt.Errorf("bootstrap supabase config: %w", err)
	}

	client := supabase.NewClient(projectCfg, supabase.ClientOptions{
		UseAuth:       true,
		RefreshMargin: cfg.Session.RefreshSafetyMargin,
		Logger:        logger,
	})
	if err := client.SetSession(&types.UserAuthSession{
		AccessToken: accessToken,
		// One-shot CLI calls never outlive the token; skip refresh wiring.
		ExpiresAt: time.Now().Add(time.Hour),
	}); err != nil {
		client.Close()
		return nil, err
	}
	return client, nil
}
