package knowledge

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"google.golang.org/genai"
)

// GeminiEmbedder implements Embedder using Google's Gemini API.
type GeminiEmbedder struct {
	client     *genai.Client
	model      string
	dims       dimensionTracker
	retryDelay time.Duration
}

func NewGeminiEmbedder(ctx context.Context, apiKey string, modelName string, dim int) (*GeminiEmbedder, error) {
	client, err := newGenAIClient(ctx, apiKey)
	if err != nil {
		return nil, err
	}
	return &GeminiEmbedder{
		client:     client,
		model:      modelName,
		dims:       dimensionTracker{configured: dim},
		retryDelay: geminiRetryDelay,
	}, nil
}

func newGenAIClient(ctx context.Context, apiKey string) (*genai.Client, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	return client, nil
}

// The Gemini API rejects requests with more than 100 contents.
const geminiEmbedBatchSize = 50
const geminiBatchDelay = 700 * time.Millisecond
const geminiRetryDelay = 6 * time.Second
const geminiMaxRetries = 5

func (g *GeminiEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	results := make([][]float32, 0, len(texts))

	var config *genai.EmbedContentConfig
	if g.dims.configured > 0 {
		dim := int32(g.dims.configured)
		config = &genai.EmbedContentConfig{OutputDimensionality: &dim}
	}

	for i := 0; i < len(texts); i += geminiEmbedBatchSize {
		if i > 0 && !waitOrCancel(ctx, geminiBatchDelay) {
			return nil, embedErr("gemini", ctx.Err())
		}

		end := min(i+geminiEmbedBatchSize, len(texts))
		batch := texts[i:end]

		contents := make([]*genai.Content, 0, len(batch))
		for _, text := range batch {
			contents = append(contents, genai.NewContentFromText(text, genai.RoleUser))
		}

		var res *genai.EmbedContentResponse
		var err error
		for attempt := 0; attempt <= geminiMaxRetries; attempt++ {
			res, err = g.client.Models.EmbedContent(ctx, g.model, contents, config)
			if err == nil {
				break
			}
			if !isRateLimitError(err) || attempt == geminiMaxRetries {
				return nil, &EmbeddingServiceError{Provider: "gemini", StatusCode: geminiStatus(err), Err: err}
			}
			if !waitOrCancel(ctx, g.retryDelay) {
				return nil, embedErr("gemini", ctx.Err())
			}
		}

		if len(res.Embeddings) != len(batch) {
			return nil, &EmbeddingServiceError{
				Provider: "gemini",
				Message:  fmt.Sprintf("embedding count mismatch: got %d, expected %d", len(res.Embeddings), len(batch)),
			}
		}
		for _, emb := range res.Embeddings {
			if emb == nil {
				results = append(results, nil)
				continue
			}
			results = append(results, emb.Values)
		}
	}
	if err := CheckVectors("gemini", results, len(texts)); err != nil {
		return nil, err
	}
	g.dims.observe(results)
	return results, nil
}

func (g *GeminiEmbedder) Dimension() int {
	return g.dims.value()
}

func geminiStatus(err error) int {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return 0
}

func isRateLimitError(err error) bool {
	if err == nil {
		return false
	}
	if geminiStatus(err) == 429 {
		return true
	}
	s := err.Error()
	return strings.Contains(s, "429") || strings.Contains(s, "RESOURCE_EXHAUSTED") || strings.Contains(s, "quota")
}
