package copilot

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/zalando/go-keyring"
	"golang.org/x/term"

	"github.com/jholhewres/healthclaw/pkg/healthclaw/llm"
)

const keyringService = "healthclaw"

// Keyring entry names.
const (
	KeyDiscordToken  = "discord_token"
	KeyGoogleAPIKey  = "google_api_key"
	KeyTyphoonAPIKey = "typhoon_api_key"
	KeyOpenAIAPIKey  = "openai_api_key"
)

// KeyringKeys lists every entry healthclaw stores.
var KeyringKeys = []string{KeyDiscordToken, KeyGoogleAPIKey, KeyTyphoonAPIKey, KeyOpenAIAPIKey}

// StoreKeyring saves a secret to the OS keyring.
func StoreKeyring(key, value string) error {
	return keyring.Set(keyringService, key, value)
}

// GetKeyring retrieves a secret from the OS keyring, or "" if not found.
func GetKeyring(key string) string {
	val, err := keyring.Get(keyringService, key)
	if err != nil {
		return ""
	}
	return val
}

// DeleteKeyring removes a secret from the OS keyring.
func DeleteKeyring(key string) error {
	return keyring.Delete(keyringService, key)
}

// KeyringAvailable checks if the OS keyring is accessible.
func KeyringAvailable() bool {
	testKey := "__healthclaw_test__"
	if err := keyring.Set(keyringService, testKey, "test"); err != nil {
		return false
	}
	_ = keyring.Delete(keyringService, testKey)
	return true
}

// ResolveSecrets fills credentials in priority order:
//  1. OS keyring (service "healthclaw")
//  2. Environment variable (HEALTHCLAW_*, DISCORD_TOKEN, GOOGLE_API_KEY, ...)
//  3. .env file (loaded by godotenv)
//  4. config.yaml value (Discord token only)
//
// It returns an error when the selected backend has no API key.
func ResolveSecrets(cfg *Config, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	fromKeyring := func(key string, dst *string) {
		if val := GetKeyring(key); val != "" {
			*dst = val
			logger.Debug("secret loaded from OS keyring", "key", key)
		}
	}
	fromKeyring(KeyDiscordToken, &cfg.Channels.Discord.Token)
	fromKeyring(KeyGoogleAPIKey, &cfg.Secrets.GoogleAPIKey)
	fromKeyring(KeyTyphoonAPIKey, &cfg.Secrets.TyphoonAPIKey)
	fromKeyring(KeyOpenAIAPIKey, &cfg.Secrets.OpenAIAPIKey)
	cfg.applySecrets()

	if cfg.Model.APIKey == "" {
		provider := cfg.Model.Effective().Provider
		return fmt.Errorf("no API key for backend %q; run `healthclaw setup` or set %s",
			provider, envNameForProvider(provider))
	}
	return nil
}

func envNameForProvider(p llm.Provider) string {
	if p == llm.ProviderTyphoon {
		return "OPENTYPHOON_API_KEY"
	}
	return "GOOGLE_API_KEY"
}

// IsInteractive reports whether stdin is a terminal.
func IsInteractive() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}

// ReadPassword reads a secret from the terminal without echo.
func ReadPassword(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	b, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(b)), nil
}
