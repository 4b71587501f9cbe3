// Package commands implements the healthclaw CLI using cobra.
package commands

import (
	"github.com/spf13/cobra"
)

// NewRootCmd creates the root command with every subcommand registered.
func NewRootCmd(version string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "healthclaw",
		Short: "Healthclaw - a health companion for chat channels",
		Long: `Healthclaw is a conversational health assistant for shared Discord
channels and direct messages. It keeps a profile and daily activity record
per user and saves changes only after the user confirms them.

Examples:
  healthclaw setup
  healthclaw serve
  healthclaw chat
  healthclaw summary 123456789 2025-01-31
  healthclaw knowledge import ./docs`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		newServeCmd(),
		newChatCmd(),
		newSetupCmd(),
		newSummaryCmd(),
		newResetUserCmd(),
		newKnowledgeCmd(),
		newConfigCmd(),
		newHealthCmd(version),
	)

	rootCmd.PersistentFlags().StringP("config", "c", "", "path to the configuration file")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "enable debug logging")

	return rootCmd
}
