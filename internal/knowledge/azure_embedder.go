package knowledge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	azureEmbedRetries    = 5
	azureRetryDelay      = 3 * time.Second
	defaultEmbedTimeout  = 60 * time.Second
	defaultAzureProvider = "azure"
)

// AzureEmbedder calls an Azure OpenAI embeddings deployment over REST.
type AzureEmbedder struct {
	client     *http.Client
	apiKey     string
	deployment string
	dims       dimensionTracker
	endpoint   string
	retryDelay time.Duration
}

type azureEmbeddingRequest struct {
	Input      []string `json:"input"`
	Dimensions *int     `json:"dimensions,omitempty"`
}

type azureEmbeddingItem struct {
	Object    string    `json:"object"`
	Index     int       `json:"index"`
	Embedding []float32 `json:"embedding"`
}

type azureEmbeddingResponse struct {
	Object string               `json:"object"`
	Data   []azureEmbeddingItem `json:"data"`
	Model  string               `json:"model"`
}

type azureErrorBody struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    any    `json:"code"`
	} `json:"error"`
}

// NewAzureEmbedder builds the deployment URL
// {base}/openai/deployments/{deployment}/embeddings?api-version={version}.
func NewAzureEmbedder(apiKey, baseURL, deployment, apiVersion string, dim int, timeout time.Duration) *AzureEmbedder {
	if timeout <= 0 {
		timeout = defaultEmbedTimeout
	}
	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	endpoint := fmt.Sprintf("%s/openai/deployments/%s/embeddings?api-version=%s",
		base, url.PathEscape(deployment), url.QueryEscape(apiVersion))
	return &AzureEmbedder{
		client: &http.Client{
			Timeout: timeout,
		},
		apiKey:     apiKey,
		deployment: deployment,
		dims:       dimensionTracker{configured: dim},
		endpoint:   endpoint,
		retryDelay: azureRetryDelay,
	}
}

func (a *AzureEmbedder) Dimension() int {
	return a.dims.value()
}

// Embed sends texts as a single request. Batching is the caller's concern.
func (a *AzureEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if strings.TrimSpace(a.apiKey) == "" {
		return nil, &EmbeddingServiceError{Provider: defaultAzureProvider, Message: "api key is required"}
	}
	if strings.TrimSpace(a.deployment) == "" {
		return nil, &EmbeddingServiceError{Provider: defaultAzureProvider, Message: "embedding deployment is required"}
	}
	if len(texts) == 0 {
		return nil, nil
	}

	vecs, err := a.embedBatch(ctx, texts)
	if err != nil {
		return nil, embedErr(defaultAzureProvider, err)
	}
	if err := CheckVectors(defaultAzureProvider, vecs, len(texts)); err != nil {
		return nil, err
	}
	a.dims.observe(vecs)
	return vecs, nil
}

func (a *AzureEmbedder) embedBatch(ctx context.Context, batch []string) ([][]float32, error) {
	payload := azureEmbeddingRequest{Input: batch}
	if dim := a.dims.configured; dim > 0 {
		payload.Dimensions = &dim
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 0; attempt <= azureEmbedRetries; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("api-key", a.apiKey)
		req.Header.Set("Content-Type", "application/json")

		resp, err := a.client.Do(req)
		if err != nil {
			lastErr = err
			if attempt == azureEmbedRetries || ctx.Err() != nil {
				break
			}
			if !waitOrCancel(ctx, a.retryDelay) {
				return nil, ctx.Err()
			}
			continue
		}

		data, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			return nil, readErr
		}

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			lastErr = &EmbeddingServiceError{
				Provider:   defaultAzureProvider,
				StatusCode: resp.StatusCode,
				Message:    strings.TrimSpace(string(data)),
			}
			if attempt == azureEmbedRetries {
				break
			}
			if !waitOrCancel(ctx, a.retryDelay) {
				return nil, ctx.Err()
			}
			continue
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			msg := strings.TrimSpace(string(data))
			var errBody azureErrorBody
			if json.Unmarshal(data, &errBody) == nil && strings.TrimSpace(errBody.Error.Message) != "" {
				msg = strings.TrimSpace(errBody.Error.Message)
			}
			return nil, &EmbeddingServiceError{Provider: defaultAzureProvider, StatusCode: resp.StatusCode, Message: msg}
		}

		var parsed azureEmbeddingResponse
		if err := json.Unmarshal(data, &parsed); err != nil {
			return nil, fmt.Errorf("decode embeddings response: %w", err)
		}
		if len(parsed.Data) != len(batch) {
			return nil, &EmbeddingServiceError{
				Provider: defaultAzureProvider,
				Message:  fmt.Sprintf("embedding count mismatch: got %d, expected %d", len(parsed.Data), len(batch)),
			}
		}

		indices := make([]int, len(parsed.Data))
		vecs := make([][]float32, len(parsed.Data))
		for i, item := range parsed.Data {
			indices[i] = item.Index
			vecs[i] = item.Embedding
		}
		return orderByIndex(indices, vecs), nil
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("embeddings request failed")
	}
	return nil, lastErr
}

func waitOrCancel(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
