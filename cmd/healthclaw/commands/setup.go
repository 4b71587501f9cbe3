package commands

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/jholhewres/healthclaw/pkg/healthclaw/copilot"
	"github.com/jholhewres/healthclaw/pkg/healthclaw/llm"
)

// newSetupCmd creates the `healthclaw setup` command.
func newSetupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "setup",
		Short: "Interactive setup wizard",
		Long: `Starts an interactive wizard that writes healthclaw.yaml and stores the
Discord token and model API key in the OS keyring (or .env when no keyring
is available).

Examples:
  healthclaw setup
  healthclaw setup --config ~/.healthclaw/config.yaml`,
		RunE: runSetup,
	}
}

// setupAnswers are the values collected by the wizard.
type setupAnswers struct {
	backend      string
	timezone     string
	prefix       string
	commandGuild string
	dailySummary string
	discordToken string
	apiKey       string
	openAIKey    string
	useKeyring   bool
}

func runSetup(cmd *cobra.Command, _ []string) error {
	if !copilot.IsInteractive() {
		return errors.New("setup needs an interactive terminal")
	}

	path, _ := cmd.Root().PersistentFlags().GetString("config")
	if path == "" {
		path = "healthclaw.yaml"
	}
	cfg := copilot.DefaultConfig()
	if _, err := os.Stat(path); err == nil {
		if existing, err := copilot.LoadConfigFromFile(path); err == nil {
			cfg = existing
		}
	}

	ans := setupAnswers{
		backend:      string(cfg.Model.Effective().Provider),
		timezone:     cfg.Timezone,
		prefix:       cfg.Channels.Discord.Prefix,
		commandGuild: cfg.Channels.Discord.CommandGuild,
		dailySummary: cfg.Schedule.DailySummary,
		useKeyring:   copilot.KeyringAvailable(),
	}

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewNote().
				Title("Healthclaw setup").
				Description("A health companion for Discord. Secrets never go into the config file."),
			huh.NewSelect[string]().
				Title("Model backend").
				Options(
					huh.NewOption("Google Gemini", string(llm.ProviderGemini)),
					huh.NewOption("Typhoon (OpenAI-compatible)", string(llm.ProviderTyphoon)),
				).
				Value(&ans.backend),
			huh.NewInput().
				Title("Time zone").
				Description("Defines the calendar day for activity logs.").
				Value(&ans.timezone).
				Validate(func(s string) error {
					_, err := time.LoadLocation(strings.TrimSpace(s))
					return err
				}),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("Discord bot token").
				EchoMode(huh.EchoModePassword).
				Value(&ans.discordToken),
			huh.NewInput().
				Title("Channel prefix").
				Value(&ans.prefix),
			huh.NewInput().
				Title("Guild id for slash commands").
				Description("Leave empty to register them globally (slower to appear).").
				Value(&ans.commandGuild),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("Model API key").
				Description("GOOGLE_API_KEY for Gemini, OPENTYPHOON_API_KEY for Typhoon.").
				EchoMode(huh.EchoModePassword).
				Value(&ans.apiKey),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("OpenAI API key for embeddings").
				Description("Typhoon answers are grounded with OpenAI embeddings. Leave empty to skip.").
				EchoMode(huh.EchoModePassword).
				Value(&ans.openAIKey),
		).WithHideFunc(func() bool { return ans.backend != string(llm.ProviderTyphoon) }),
		huh.NewGroup(
			huh.NewInput().
				Title("Daily summary schedule").
				Description(`Cron spec such as "0 20 * * *". Empty disables it.`).
				Value(&ans.dailySummary),
			huh.NewConfirm().
				Title("Store secrets in the OS keyring?").
				Description("Otherwise they are written to .env in this directory.").
				Value(&ans.useKeyring),
		),
	)
	if err := form.Run(); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			fmt.Println("Setup cancelled.")
			return nil
		}
		return err
	}

	provider, err := llm.ParseProvider(ans.backend)
	if err != nil {
		return err
	}
	cfg.Model.Provider = provider
	cfg.Timezone = strings.TrimSpace(ans.timezone)
	cfg.Channels.Discord.Prefix = strings.TrimSpace(ans.prefix)
	cfg.Channels.Discord.CommandGuild = strings.TrimSpace(ans.commandGuild)
	cfg.Schedule.DailySummary = strings.TrimSpace(ans.dailySummary)
	cfg.Channels.Discord.Token = ""

	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := storeSecrets(ans, provider); err != nil {
		return err
	}
	if err := copilot.SaveConfigToFile(cfg, path); err != nil {
		return err
	}

	fmt.Printf("\nConfiguration written to %s.\nStart the bot with: healthclaw serve\n", path)
	return nil
}

// storeSecrets writes non-empty secrets to the keyring, or to .env.
func storeSecrets(ans setupAnswers, provider llm.Provider) error {
	apiKeyName, apiKeyEnv := copilot.KeyGoogleAPIKey, "GOOGLE_API_KEY"
	if provider == llm.ProviderTyphoon {
		apiKeyName, apiKeyEnv = copilot.KeyTyphoonAPIKey, "OPENTYPHOON_API_KEY"
	}
	secrets := []struct {
		key, env, value string
	}{
		{copilot.KeyDiscordToken, "DISCORD_TOKEN", ans.discordToken},
		{apiKeyName, apiKeyEnv, ans.apiKey},
		{copilot.KeyOpenAIAPIKey, "OPENAI_API_KEY", ans.openAIKey},
	}

	if ans.useKeyring {
		for _, s := range secrets {
			if s.value == "" {
				continue
			}
			if err := copilot.StoreKeyring(s.key, strings.TrimSpace(s.value)); err != nil {
				return fmt.Errorf("storing %s in keyring: %w", s.key, err)
			}
		}
		fmt.Println("Secrets stored in the OS keyring.")
		return nil
	}

	env, err := godotenv.Read(".env")
	if err != nil {
		env = map[string]string{}
	}
	for _, s := range secrets {
		if s.value != "" {
			env[s.env] = strings.TrimSpace(s.value)
		}
	}
	if err := godotenv.Write(env, ".env"); err != nil {
		return fmt.Errorf("writing .env: %w", err)
	}
	if err := os.Chmod(".env", 0o600); err != nil {
		return fmt.Errorf("securing .env: %w", err)
	}
	fmt.Println("Secrets written to .env.")
	return nil
}
