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

const defaultOllamaURL = "http://127.0.0.1:11434"

type OllamaEmbedder struct {
	client   *http.Client
	model    string
	dims     dimensionTracker
	endpoint string
}

type ollamaEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type ollamaEmbedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

func NewOllamaEmbedder(model string, dim int, baseURL string, timeout time.Duration) *OllamaEmbedder {
	if timeout <= 0 {
		timeout = 90 * time.Second
	}
	return &OllamaEmbedder{
		client: &http.Client{
			Timeout: timeout,
		},
		model:    model,
		dims:     dimensionTracker{configured: dim},
		endpoint: ollamaURL(baseURL, "/api/embed"),
	}
}

func ollamaURL(baseURL, path string) string {
	url := strings.TrimSpace(baseURL)
	if url == "" {
		url = defaultOllamaURL
	}
	url = strings.TrimRight(url, "/")
	if !strings.HasSuffix(url, path) {
		url += path
	}
	return url
}

func (o *OllamaEmbedder) Dimension() int {
	return o.dims.value()
}

func (o *OllamaEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if strings.TrimSpace(o.model) == "" {
		return nil, &EmbeddingServiceError{Provider: "ollama", Message: "embedding model is required"}
	}
	if len(texts) == 0 {
		return nil, nil
	}

	out, err := o.embedBatch(ctx, texts)
	if err != nil {
		return nil, embedErr("ollama", err)
	}
	if err := CheckVectors("ollama", out, len(texts)); err != nil {
		return nil, err
	}
	o.dims.observe(out)
	return out, nil
}

func (o *OllamaEmbedder) embedBatch(ctx context.Context, batch []string) ([][]float32, error) {
	reqBody := ollamaEmbedRequest{
		Model: o.model,
		Input: batch,
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &EmbeddingServiceError{
			Provider:   "ollama",
			StatusCode: resp.StatusCode,
			Message:    strings.TrimSpace(string(raw)),
		}
	}

	var parsed ollamaEmbedResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("decode ollama embed response: %w", err)
	}
	return parsed.Embeddings, nil
}
