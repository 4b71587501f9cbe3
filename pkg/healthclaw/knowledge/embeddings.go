// Package knowledge implements the retrieval corpus behind grounded answers:
// documents are chunked, embedded, persisted alongside the rest of the data,
// and searched by cosine similarity from an in-memory cache.
package knowledge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Embedder generates vector embeddings from text.
type Embedder interface {
	// Embed returns one vector per input text.
	Embed(ctx context.Context, texts []string) ([][]float32, error)

	// Name returns the provider name.
	Name() string

	// Model returns the model name.
	Model() string
}

// EmbeddingConfig configures the embedding provider.
type EmbeddingConfig struct {
	// Provider is "gemini", "openai" or "none".
	Provider string `yaml:"provider"`

	Model      string `yaml:"model"`
	Dimensions int    `yaml:"dimensions"`
	BaseURL    string `yaml:"base_url"`

	// APIKey is resolved by the caller.
	APIKey string `yaml:"-"`
}

const (
	DefaultGeminiEmbeddingModel = "gemini-embedding-001"
	DefaultOpenAIEmbeddingModel = "text-embedding-3-small"
	defaultOpenAIBaseURL        = "https://api.openai.com/v1"
)

// NewEmbedder builds the embedder for cfg.Provider.
func NewEmbedder(ctx context.Context, cfg EmbeddingConfig) (Embedder, error) {
	switch strings.ToLower(cfg.Provider) {
	case "gemini":
		return NewGeminiEmbedder(ctx, cfg)
	case "openai":
		return NewOpenAIEmbedder(cfg), nil
	case "", "none":
		return &NullEmbedder{}, nil
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}
}

// ---------- OpenAI ----------

type openaiEmbedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// OpenAIEmbedder calls an OpenAI-compatible /embeddings endpoint.
type OpenAIEmbedder struct {
	apiKey     string
	model      string
	dimensions int
	baseURL    string
	client     *http.Client
}

// NewOpenAIEmbedder creates an OpenAI embedding provider.
func NewOpenAIEmbedder(cfg EmbeddingConfig) *OpenAIEmbedder {
	e := &OpenAIEmbedder{
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
		baseURL:    cfg.BaseURL,
		client:     &http.Client{Timeout: 30 * time.Second},
	}
	if e.model == "" {
		e.model = DefaultOpenAIEmbeddingModel
	}
	if e.baseURL == "" {
		e.baseURL = defaultOpenAIBaseURL
	}
	return e
}

func (e *OpenAIEmbedder) Name() string  { return "openai" }
func (e *OpenAIEmbedder) Model() string { return e.model }

func (e *OpenAIEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	body := map[string]any{
		"model": e.model,
		"input": texts,
	}
	if e.dimensions > 0 {
		body["dimensions"] = e.dimensions
	}
	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("openai: marshal embed request: %w", err)
	}

	endpoint := strings.TrimRight(e.baseURL, "/") + "/embeddings"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("openai: create embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.apiKey)

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("openai: embed API call: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("openai: read embed response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("openai: embed API error (status %d): %s", resp.StatusCode, string(respBody))
	}

	var result openaiEmbedResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("openai: unmarshal embed response: %w", err)
	}
	if result.Error != nil {
		return nil, fmt.Errorf("openai: embed API error: %s", result.Error.Message)
	}

	// Sort by index to match input order.
	out := make([][]float32, len(texts))
	for _, d := range result.Data {
		if d.Index >= 0 && d.Index < len(out) {
			out[d.Index] = d.Embedding
		}
	}
	return out, nil
}

// ---------- Null ----------

// NullEmbedder disables vector search; retrieval then returns no passages.
type NullEmbedder struct{}

func (e *NullEmbedder) Embed(_ context.Context, _ []string) ([][]float32, error) { return nil, nil }
func (e *NullEmbedder) Name() string                                             { return "none" }
func (e *NullEmbedder) Model() string                                            { return "none" }
