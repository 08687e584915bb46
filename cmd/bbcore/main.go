// Package main provides the CLI entry point for the bb-core orchestration
// daemon.
//
// bb-core brokers conversations between clients and LLM vendors: it owns the
// interaction state machine, the response cache, retry policy, tool-use
// validation, and the session and API-token registry.
//
// # Basic Usage
//
// Start the daemon:
//
//	bbcore serve --config bbcore.yaml
//
// Manage API tokens against the backend:
//
//	bbcore token generate --ttl 720h
//	bbcore token revoke bb_<uuid>_<uuid>
//
// # Environment Variables
//
//   - BB_CONFIG: Path to configuration file (default: bbcore.yaml)
//   - BB_ACCESS_TOKEN: Access token used by token subcommands
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Build information, populated by ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := buildRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
// Separated from main to facilitate testing.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "bbcore",
		Short:        "bb-core - LLM orchestration daemon",
		Long:         "bb-core brokers conversations between clients and LLM vendors:\ninteraction state, response caching, retry, tool validation, and sessions.",
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}
	rootCmd.AddCommand(
		buildServeCmd(),
		buildTokenCmd(),
	)
	return rootCmd
}

// resolveConfigPath applies the BB_CONFIG fallback when no flag was given.
func resolveConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if env := os.Getenv("BB_CONFIG"); env != "" {
		return env
	}
	return "bbcore.yaml"
}
