package knowledge

import (
	"context"
	"fmt"
	"strings"
	"time"
)

type EmbedderOptions struct {
	Provider   string
	APIKey     string
	Model      string
	Dimension  int
	BaseURL    string
	APIVersion string
	Timeout    time.Duration
}

func NewEmbedder(ctx context.Context, opts EmbedderOptions) (Embedder, error) {
	provider := strings.ToLower(strings.TrimSpace(opts.Provider))
	if provider == "" {
		provider = defaultAzureProvider
	}

	switch provider {
	case "azure":
		return NewAzureEmbedder(opts.APIKey, opts.BaseURL, opts.Model, opts.APIVersion, opts.Dimension, opts.Timeout), nil
	case "openai":
		return NewOpenAIEmbedder(opts.APIKey, opts.Model, opts.Dimension, opts.BaseURL), nil
	case "ollama":
		return NewOllamaEmbedder(opts.Model, opts.Dimension, opts.BaseURL, opts.Timeout), nil
	case "gemini":
		return NewGeminiEmbedder(ctx, opts.APIKey, opts.Model, opts.Dimension)
	default:
		return nil, fmt.Errorf("unsupported embedder provider: %s", opts.Provider)
	}
}

type AnalystOptions struct {
	Provider   string
	APIKey     string
	Model      string
	BaseURL    string
	APIVersion string
	Timeout    time.Duration
}

func NewAnalyst(ctx context.Context, opts AnalystOptions) (Analyst, error) {
	provider := strings.ToLower(strings.TrimSpace(opts.Provider))
	if provider == "" {
		provider = defaultAzureProvider
	}

	switch provider {
	case "azure":
		return NewAzureAnalyst(opts.APIKey, opts.BaseURL, opts.Model, opts.APIVersion), nil
	case "openai":
		return NewOpenAIAnalyst(opts.APIKey, opts.Model, opts.BaseURL), nil
	case "ollama":
		return NewOllamaAnalyst(opts.Model, opts.BaseURL, opts.Timeout), nil
	case "gemini":
		return NewGeminiAnalyst(ctx, opts.APIKey, opts.Model)
	default:
		return nil, fmt.Errorf("unsupported inference provider: %s", opts.Provider)
	}
}
