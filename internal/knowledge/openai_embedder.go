package knowledge

import (
	"context"
	"errors"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

type OpenAIEmbedder struct {
	client *openai.Client
	model  string
	dims   dimensionTracker
}

func NewOpenAIEmbedder(apiKey, model string, dim int, baseURL string) *OpenAIEmbedder {
	cfg := openai.DefaultConfig(apiKey)
	if strings.TrimSpace(baseURL) != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	return &OpenAIEmbedder{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
		dims:   dimensionTracker{configured: dim},
	}
}

func (o *OpenAIEmbedder) Dimension() int {
	return o.dims.value()
}

func (o *OpenAIEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	req := openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(o.model),
		Input: texts,
	}
	if o.dims.configured > 0 {
		req.Dimensions = o.dims.configured
	}

	resp, err := o.client.CreateEmbeddings(ctx, req)
	if err != nil {
		return nil, &EmbeddingServiceError{
			Provider:   "openai",
			StatusCode: apiStatus(err),
			Err:        fmt.Errorf("create openai embeddings: %w", err),
		}
	}

	if len(resp.Data) != len(texts) {
		return nil, &EmbeddingServiceError{
			Provider: "openai",
			Message:  fmt.Sprintf("embedding count mismatch: got %d, expected %d", len(resp.Data), len(texts)),
		}
	}
	indices := make([]int, len(resp.Data))
	vecs := make([][]float32, len(resp.Data))
	for i, datum := range resp.Data {
		indices[i] = datum.Index
		vecs[i] = datum.Embedding
	}
	out := orderByIndex(indices, vecs)
	if err := CheckVectors("openai", out, len(texts)); err != nil {
		return nil, err
	}
	o.dims.observe(out)
	return out, nil
}

// apiStatus extracts the HTTP status carried by go-openai errors.
func apiStatus(err error) int {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode
	}
	return 0
}
