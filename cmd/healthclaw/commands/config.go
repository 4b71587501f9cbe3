package commands

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/jholhewres/healthclaw/pkg/healthclaw/copilot"
)

// newConfigCmd creates the `healthclaw config` command group.
func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the configuration",
	}
	cmd.AddCommand(newConfigCheckCmd(), newConfigPathCmd(), newConfigShowCmd())
	return cmd
}

func newConfigCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Validate the configuration and report missing secrets",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, path, err := resolveConfig(cmd)
			if err != nil {
				return err
			}
			if path == "" {
				path = "(defaults)"
			}
			fmt.Printf("Config:    %s\n", path)

			model := cfg.Model.Effective()
			fmt.Printf("Backend:   %s (%s)\n", model.Provider, model.Model)
			fmt.Printf("Embedding: %s\n", cfg.EmbeddingEffective().Provider)
			fmt.Printf("Database:  %s\n", cfg.Database.Effective().Backend)
			fmt.Printf("Timezone:  %s\n", cfg.Timezone)
			if cfg.Schedule.DailySummary != "" {
				fmt.Printf("Summaries: %s\n", cfg.Schedule.DailySummary)
			}

			secretErr := copilot.ResolveSecrets(cfg, nil)
			fmt.Printf("Model key: %s\n", presence(cfg.Model.APIKey))
			fmt.Printf("Discord:   %s\n", presence(cfg.Channels.Discord.Token))
			if secretErr != nil {
				return secretErr
			}
			fmt.Println("OK")
			return nil
		},
	}
}

func newConfigPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the config file that would be loaded",
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, _ := cmd.Root().PersistentFlags().GetString("config")
			if path == "" {
				path = copilot.FindConfigFile()
			}
			if path == "" {
				return fmt.Errorf("no config file found; run `healthclaw setup`")
			}
			fmt.Println(path)
			return nil
		},
	}
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration with secrets masked",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := resolveConfig(cmd)
			if err != nil {
				return err
			}
			masked := *cfg
			masked.Channels.Discord.Token = mask(masked.Channels.Discord.Token)
			masked.Database.PostgreSQL.Password = mask(masked.Database.PostgreSQL.Password)
			masked.Database.PostgreSQL.DSN = mask(masked.Database.PostgreSQL.DSN)

			out, err := yaml.Marshal(&masked)
			if err != nil {
				return err
			}
			fmt.Print(string(out))
			return nil
		},
	}
}

func presence(v string) string {
	if v == "" {
		return "missing"
	}
	return "set"
}

func mask(v string) string {
	if v == "" {
		return ""
	}
	return "********"
}
