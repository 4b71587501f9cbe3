package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"google.golang.org/genai"
)

// GeminiBackend generates completions with the Gemini API.
type GeminiBackend struct {
	client *genai.Client
	model  string
	logger *slog.Logger
}

// NewGeminiBackend creates a Gemini client for cfg.APIKey.
func NewGeminiBackend(ctx context.Context, cfg Config, logger *slog.Logger) (*GeminiBackend, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.Effective()

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &GeminiBackend{
		client: client,
		model:  cfg.Model,
		logger: logger.With("component", "llm", "provider", "gemini"),
	}, nil
}

func (b *GeminiBackend) Name() string { return "gemini:" + b.model }

// Complete sends the conversation to Gemini and returns the text response.
func (b *GeminiBackend) Complete(ctx context.Context, req Request) (string, error) {
	contents := make([]*genai.Content, 0, len(req.Messages))
	for _, m := range req.Messages {
		role := genai.Role(genai.RoleUser)
		if m.Role == RoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(m.Content, role))
	}

	config := &genai.GenerateContentConfig{
		Temperature: req.Temperature,
	}
	if req.System != "" {
		config.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}
	if req.JSON {
		config.ResponseMIMEType = "application/json"
	}
	if req.MaxTokens > 0 {
		config.MaxOutputTokens = int32(req.MaxTokens)
	}

	start := time.Now()
	resp, err := b.client.Models.GenerateContent(ctx, b.model, contents, config)
	if err != nil {
		return "", classifyGenAIError(err)
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", fmt.Errorf("empty response from %s", b.model)
	}
	b.logger.Debug("gemini completion done",
		"model", b.model,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return text, nil
}

// classifyGenAIError converts genai API errors into *APIError so retry
// decisions work the same across providers.
func classifyGenAIError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return newAPIError("gemini", apiErr.Code, apiErr.Status+": "+apiErr.Message)
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return newAPIError("gemini", apiErrPtr.Code, apiErrPtr.Status+": "+apiErrPtr.Message)
	}
	return fmt.Errorf("gemini: %w", err)
}
