package knowledge

import (
	"context"
	"fmt"

	"google.golang.org/genai"
)

// GeminiEmbedder generates embeddings using Google's Gemini API.
type GeminiEmbedder struct {
	client     *genai.Client
	model      string
	dimensions int
}

// NewGeminiEmbedder creates a Gemini embedding provider.
func NewGeminiEmbedder(ctx context.Context, cfg EmbeddingConfig) (*GeminiEmbedder, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini: API key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}

	model := cfg.Model
	if model == "" {
		model = DefaultGeminiEmbeddingModel
	}
	return &GeminiEmbedder{client: client, model: model, dimensions: cfg.Dimensions}, nil
}

func (e *GeminiEmbedder) Name() string  { return "gemini" }
func (e *GeminiEmbedder) Model() string { return e.model }

// Embed uses the native batch endpoint.
func (e *GeminiEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	contents := make([]*genai.Content, len(texts))
	for i, text := range texts {
		contents[i] = genai.NewContentFromText(text, genai.RoleUser)
	}

	config := &genai.EmbedContentConfig{TaskType: "RETRIEVAL_DOCUMENT"}
	if e.dimensions > 0 {
		dims := int32(e.dimensions)
		config.OutputDimensionality = &dims
	}

	result, err := e.client.Models.EmbedContent(ctx, e.model, contents, config)
	if err != nil {
		return nil, fmt.Errorf("gemini: embed: %w", err)
	}

	out := make([][]float32, len(texts))
	for i, emb := range result.Embeddings {
		if i < len(out) && emb != nil {
			out[i] = emb.Values
		}
	}
	return out, nil
}
