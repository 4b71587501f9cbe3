// Package copilot is the assistant core of healthclaw: per-user sessions,
// the message router, the decision pipeline, the confirmation gate and the
// daily summary aggregator, plus the configuration that wires them.
package copilot

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jholhewres/healthclaw/pkg/healthclaw/channels/discord"
	"github.com/jholhewres/healthclaw/pkg/healthclaw/database"
	"github.com/jholhewres/healthclaw/pkg/healthclaw/knowledge"
	"github.com/jholhewres/healthclaw/pkg/healthclaw/llm"
)

// Config holds all assistant configuration.
type Config struct {
	// Name is the assistant name shown in the console and logs.
	Name string `yaml:"name"`

	// Timezone defines the calendar day used for activity records and
	// summaries (e.g. "Asia/Bangkok").
	Timezone string `yaml:"timezone"`

	// Model configures the completion backend. Its provider is fixed at startup.
	Model llm.Config `yaml:"model"`

	// Embedding configures the knowledge embedder. An empty provider follows
	// the model backend.
	Embedding knowledge.EmbeddingConfig `yaml:"embedding"`

	Knowledge KnowledgeConfig `yaml:"knowledge"`

	Database database.Config `yaml:"database"`

	Channels ChannelsConfig `yaml:"channels"`

	Session SessionConfig `yaml:"session"`

	Triage TriageConfig `yaml:"triage"`

	Schedule ScheduleConfig `yaml:"schedule"`

	Logging LoggingConfig `yaml:"logging"`

	Prompts PromptsConfig `yaml:"prompts"`

	Summary SummaryTexts `yaml:"summary"`

	// Secrets are resolved from the keyring and environment, never the file.
	Secrets Secrets `yaml:"-"`
}

// KnowledgeConfig configures the retrieval corpus.
type KnowledgeConfig struct {
	Enabled bool `yaml:"enabled"`

	// TopK is the number of passages given to the model.
	TopK int `yaml:"top_k"`

	// Sources are files or directories imported on startup.
	Sources []string `yaml:"sources"`

	Chunk knowledge.ChunkConfig `yaml:"chunk"`
}

// ChannelsConfig configures the chat transports.
type ChannelsConfig struct {
	Discord discord.Config `yaml:"discord"`
}

// SessionConfig configures per-user conversation state.
type SessionConfig struct {
	// MaxHistory caps the turns kept per user.
	MaxHistory int `yaml:"max_history"`

	// TTL evicts sessions idle for longer (sessions with a pending update
	// are kept).
	TTL time.Duration `yaml:"ttl"`

	// PruneEvery is the pruning interval.
	PruneEvery time.Duration `yaml:"prune_every"`

	// PendingTTL is how long a proposed update waits for confirmation.
	PendingTTL time.Duration `yaml:"pending_ttl"`

	// HistoryWindow is the number of turns sent to the model.
	HistoryWindow int `yaml:"history_window"`

	// HistoryGap cuts the window at a silence longer than this.
	HistoryGap time.Duration `yaml:"history_gap"`

	// MaxQueue bounds the messages waiting in one user's lane.
	MaxQueue int `yaml:"max_queue"`
}

// TriageConfig configures severity rating of questions.
type TriageConfig struct {
	Enabled bool `yaml:"enabled"`

	// UrgentSeverity and above short-circuits to an urgent-care reply.
	UrgentSeverity int `yaml:"urgent_severity"`

	// CautionSeverity and above appends a caution notice.
	CautionSeverity int `yaml:"caution_severity"`
}

// ScheduleConfig configures background jobs.
type ScheduleConfig struct {
	// DailySummary is a cron spec ("0 20 * * *"). Empty disables the job.
	DailySummary string `yaml:"daily_summary"`

	// ActiveWithin selects users who wrote within this window.
	ActiveWithin time.Duration `yaml:"active_within"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	// Level is the log level ("debug", "info", "warn", "error").
	Level string `yaml:"level"`

	// Format is the log format ("json", "text").
	Format string `yaml:"format"`
}

// DefaultConfig returns the default assistant configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:     "Healthclaw",
		Timezone: "Asia/Bangkok",
		Model: llm.Config{
			Provider: llm.ProviderGemini,
		},
		Knowledge: KnowledgeConfig{
			Enabled: true,
			TopK:    4,
		},
		Database: database.DefaultConfig(),
		Channels: ChannelsConfig{
			Discord: discord.DefaultConfig(),
		},
		Session: SessionConfig{
			MaxHistory:    DefaultMaxHistory,
			TTL:           DefaultSessionTTL,
			PruneEvery:    10 * time.Minute,
			PendingTTL:    DefaultPendingTTL,
			HistoryWindow: 25,
			HistoryGap:    600 * time.Second,
			MaxQueue:      DefaultMaxQueue,
		},
		Triage: TriageConfig{
			Enabled:         true,
			UrgentSeverity:  4,
			CautionSeverity: 2,
		},
		Schedule: ScheduleConfig{
			ActiveWithin: 7 * 24 * time.Hour,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Location resolves the configured time zone.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// EmbeddingEffective returns the embedding config, following the model
// backend when no provider is set.
func (c *Config) EmbeddingEffective() knowledge.EmbeddingConfig {
	e := c.Embedding
	if e.Provider != "" {
		return e
	}
	switch c.Model.Effective().Provider {
	case llm.ProviderTyphoon:
		e.Provider = "openai"
	default:
		e.Provider = "gemini"
		if e.APIKey == "" {
			e.APIKey = c.Model.APIKey
		}
	}
	return e
}

// Validate rejects configurations the assistant cannot start with.
func (c *Config) Validate() error {
	var errs []error

	if _, err := llm.ParseProvider(string(c.Model.Provider)); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.Location(); err != nil {
		errs = append(errs, err)
	}
	if err := c.Database.Effective().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("database: %w", err))
	}

	s := c.Session
	for name, d := range map[string]time.Duration{
		"session.ttl":         s.TTL,
		"session.pending_ttl": s.PendingTTL,
		"session.prune_every": s.PruneEvery,
		"session.history_gap": s.HistoryGap,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", name, d))
		}
	}
	if s.MaxHistory <= 0 || s.HistoryWindow <= 0 || s.MaxQueue <= 0 {
		errs = append(errs, errors.New("session.max_history, history_window and max_queue must be positive"))
	}

	if c.Triage.Enabled && c.Triage.CautionSeverity > c.Triage.UrgentSeverity {
		errs = append(errs, fmt.Errorf("triage.caution_severity (%d) exceeds urgent_severity (%d)",
			c.Triage.CautionSeverity, c.Triage.UrgentSeverity))
	}

	switch strings.ToLower(c.Logging.Format) {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("logging.format %q (want text or json)", c.Logging.Format))
	}

	return errors.Join(errs...)
}
