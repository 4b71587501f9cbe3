package copilot

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/jholhewres/healthclaw/pkg/healthclaw/database"
	"github.com/jholhewres/healthclaw/pkg/healthclaw/llm"
)

// envPrefix prefixes every environment override (HEALTHCLAW_BACKEND, ...).
const envPrefix = "HEALTHCLAW"

// envVarPattern matches ${VAR}, ${VAR:-default} and ${VAR:?message}.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::(-|\?)([^}]*))?\}`)

// Secrets holds credentials that never come from the YAML file.
type Secrets struct {
	GoogleAPIKey  string
	TyphoonAPIKey string
	OpenAIAPIKey  string
}

// envOverrides is the environment overlay. Keys with an envconfig tag are
// read as HEALTHCLAW_<TAG> first and then as the bare tag.
type envOverrides struct {
	Backend      string        `envconfig:"BACKEND"`
	Model        string        `envconfig:"MODEL"`
	Timezone     string        `envconfig:"TIMEZONE"`
	LogLevel     string        `split_words:"true"`
	LogFormat    string        `split_words:"true"`
	DBBackend    string        `envconfig:"DB_BACKEND"`
	DBPath       string        `envconfig:"DB_PATH"`
	PostgresDSN  string        `envconfig:"DATABASE_URL"`
	DailySummary string        `split_words:"true"`
	PendingTTL   time.Duration `split_words:"true"`
	CommandGuild string        `envconfig:"DISCORD_GUILD_ID"`

	DiscordToken  string `envconfig:"DISCORD_TOKEN"`
	GoogleAPIKey  string `envconfig:"GOOGLE_API_KEY"`
	TyphoonAPIKey string `envconfig:"OPENTYPHOON_API_KEY"`
	OpenAIAPIKey  string `envconfig:"OPENAI_API_KEY"`
}

// LoadConfig loads the file at path (defaults only when path is empty),
// overlays the environment and validates the result.
func LoadConfig(path string) (*Config, error) {
	loadEnvFiles()

	cfg := DefaultConfig()
	if path != "" {
		var err error
		if cfg, err = LoadConfigFromFile(path); err != nil {
			return nil, err
		}
	}
	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// LoadConfigFromFile reads a YAML file, expanding ${VAR} references first.
func LoadConfigFromFile(path string) (*Config, error) {
	loadEnvFiles()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	expanded, err := expandEnvVars(string(data))
	if err != nil {
		return nil, fmt.Errorf("expanding environment variables: %w", err)
	}
	cfg, err := ParseConfig([]byte(expanded))
	if err != nil {
		return nil, err
	}
	resolveRelativePaths(cfg, path)
	checkFilePermissions(path)
	return cfg, nil
}

// ParseConfig parses YAML over DefaultConfig.
func ParseConfig(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}
	return cfg, nil
}

// SaveConfigToFile writes cfg as YAML with owner-only permissions. The
// Discord token is written as an environment reference.
func SaveConfigToFile(cfg *Config, path string) error {
	sanitized := *cfg
	if sanitized.Channels.Discord.Token != "" {
		sanitized.Channels.Discord.Token = "${DISCORD_TOKEN}"
	}
	data, err := yaml.Marshal(&sanitized)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("creating config dir: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

// FindConfigFile searches for config files in standard locations.
func FindConfigFile() string {
	candidates := []string{
		"healthclaw.yaml",
		"healthclaw.yml",
		"config.yaml",
		"config.yml",
		"configs/healthclaw.yaml",
	}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".healthclaw", "config.yaml"))
	}
	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// loadEnvFiles loads .env files without overriding existing variables.
func loadEnvFiles() {
	for _, f := range []string{".env", ".env.local"} {
		_ = godotenv.Load(f)
	}
}

// expandEnvVars replaces ${VAR} references. Unset variables without a
// default expand to "", and ${VAR:?msg} fails when VAR is unset.
func expandEnvVars(input string) (string, error) {
	var missing []string
	out := envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		sub := envVarPattern.FindStringSubmatch(match)
		name, mod, val := sub[1], sub[2], sub[3]
		if v, ok := os.LookupEnv(name); ok {
			return v
		}
		switch mod {
		case "-":
			return val
		case "?":
			if val == "" {
				val = "required environment variable not set"
			}
			missing = append(missing, name+": "+val)
		}
		return ""
	})
	if len(missing) > 0 {
		return "", fmt.Errorf("%s", strings.Join(missing, "; "))
	}
	return out, nil
}

// applyEnv overlays HEALTHCLAW_* and the well-known credential variables.
func applyEnv(cfg *Config) error {
	var env envOverrides
	if err := envconfig.Process(envPrefix, &env); err != nil {
		return fmt.Errorf("reading environment: %w", err)
	}

	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	if env.Backend != "" {
		p, err := llm.ParseProvider(env.Backend)
		if err != nil {
			return err
		}
		cfg.Model.Provider = p
	}
	set(&cfg.Model.Model, env.Model)
	set(&cfg.Timezone, env.Timezone)
	set(&cfg.Logging.Level, env.LogLevel)
	set(&cfg.Logging.Format, env.LogFormat)
	if env.DBBackend != "" {
		cfg.Database.Backend = database.BackendType(strings.ToLower(env.DBBackend))
	}
	set(&cfg.Database.SQLite.Path, env.DBPath)
	set(&cfg.Database.PostgreSQL.DSN, env.PostgresDSN)
	set(&cfg.Schedule.DailySummary, env.DailySummary)
	if env.PendingTTL > 0 {
		cfg.Session.PendingTTL = env.PendingTTL
	}
	set(&cfg.Channels.Discord.CommandGuild, env.CommandGuild)
	set(&cfg.Channels.Discord.Token, env.DiscordToken)

	cfg.Secrets = Secrets{
		GoogleAPIKey:  env.GoogleAPIKey,
		TyphoonAPIKey: env.TyphoonAPIKey,
		OpenAIAPIKey:  env.OpenAIAPIKey,
	}
	cfg.applySecrets()
	return nil
}

// applySecrets assigns credentials to the backends that use them.
func (c *Config) applySecrets() {
	switch c.Model.Effective().Provider {
	case llm.ProviderTyphoon:
		c.Model.APIKey = c.Secrets.TyphoonAPIKey
	default:
		c.Model.APIKey = c.Secrets.GoogleAPIKey
	}
	switch strings.ToLower(c.EmbeddingEffective().Provider) {
	case "gemini":
		c.Embedding.APIKey = c.Secrets.GoogleAPIKey
	case "openai":
		c.Embedding.APIKey = c.Secrets.OpenAIAPIKey
	}
}

// resolveRelativePaths anchors file paths at the config file's directory.
func resolveRelativePaths(cfg *Config, configPath string) {
	dir := filepath.Dir(configPath)
	if dir == "." {
		return
	}
	anchor := func(p string) string {
		if p == "" || filepath.IsAbs(p) || p == ":memory:" {
			return p
		}
		return filepath.Join(dir, p)
	}
	cfg.Database.SQLite.Path = anchor(cfg.Database.SQLite.Path)
	for i, src := range cfg.Knowledge.Sources {
		cfg.Knowledge.Sources[i] = anchor(src)
	}
}

// checkFilePermissions warns when the config file is readable by others.
func checkFilePermissions(path string) {
	info, err := os.Stat(path)
	if err != nil {
		return
	}
	if mode := info.Mode().Perm(); mode&0o077 != 0 {
		slog.Warn("config file is accessible by other users", "path", path,
			"mode", fmt.Sprintf("%04o", mode), "hint", "chmod 600 "+path)
	}
}
