// Package llm provides the language-model completion backends used by the
// assistant: Google Gemini through the genai SDK and any OpenAI-compatible
// chat completions endpoint (Typhoon by default).
package llm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Role of a chat message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn of conversation sent to the model.
type Message struct {
	Role    Role
	Content string
}

// Request is a single completion request.
type Request struct {
	System   string
	Messages []Message

	// JSON asks the backend for a JSON object response.
	JSON bool

	// Temperature is used when non-nil.
	Temperature *float32

	// MaxTokens caps the response length (0 = backend default).
	MaxTokens int
}

// Backend produces a completion for a request.
type Backend interface {
	Complete(ctx context.Context, req Request) (string, error)
	Name() string
}

// Provider selects a model family. It is resolved once at startup.
type Provider string

const (
	ProviderGemini  Provider = "gemini"
	ProviderTyphoon Provider = "typhoon"
)

// ParseProvider validates a provider name.
func ParseProvider(s string) (Provider, error) {
	switch Provider(strings.ToLower(strings.TrimSpace(s))) {
	case ProviderGemini, "":
		return ProviderGemini, nil
	case ProviderTyphoon:
		return ProviderTyphoon, nil
	default:
		return "", fmt.Errorf("unknown model backend %q (want gemini or typhoon)", s)
	}
}

// Config configures the completion backend.
type Config struct {
	Provider Provider `yaml:"provider"`

	// Model overrides the provider default.
	Model string `yaml:"model"`

	// BaseURL is used by OpenAI-compatible providers.
	BaseURL string `yaml:"base_url"`

	// APIKey is resolved by the caller (keyring, env, config).
	APIKey string `yaml:"-"`

	Timeout time.Duration `yaml:"timeout"`

	// RetryBackoff is the wait before the single retry of a transient failure.
	RetryBackoff time.Duration `yaml:"retry_backoff"`
}

// Provider defaults.
const (
	DefaultGeminiModel  = "gemini-2.5-flash-lite"
	DefaultTyphoonModel = "typhoon-v2.5-30b-a3b-instruct"
	DefaultTyphoonURL   = "https://api.opentyphoon.ai/v1"
)

// Effective returns a copy with provider defaults filled in.
func (c Config) Effective() Config {
	out := c
	if out.Provider == "" {
		out.Provider = ProviderGemini
	}
	if out.Model == "" {
		switch out.Provider {
		case ProviderTyphoon:
			out.Model = DefaultTyphoonModel
		default:
			out.Model = DefaultGeminiModel
		}
	}
	if out.BaseURL == "" && out.Provider == ProviderTyphoon {
		out.BaseURL = DefaultTyphoonURL
	}
	if out.Timeout == 0 {
		out.Timeout = 60 * time.Second
	}
	if out.RetryBackoff == 0 {
		out.RetryBackoff = 2 * time.Second
	}
	return out
}

// New builds the backend for the configured provider, wrapped with a single
// retry on transient failures.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (Backend, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.Effective()
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%s: API key is required", cfg.Provider)
	}

	var (
		b   Backend
		err error
	)
	switch cfg.Provider {
	case ProviderGemini:
		b, err = NewGeminiBackend(ctx, cfg, logger)
	case ProviderTyphoon:
		b = NewOpenAIBackend(cfg, logger)
	default:
		err = fmt.Errorf("unsupported provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}
	return WithRetry(b, 1, cfg.RetryBackoff, logger), nil
}
