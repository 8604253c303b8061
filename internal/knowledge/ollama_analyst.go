package knowledge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

type OllamaAnalyst struct {
	client   *http.Client
	model    string
	endpoint string
}

type ollamaChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaChatRequest struct {
	Model    string              `json:"model"`
	Messages []ollamaChatMessage `json:"messages"`
	Stream   bool                `json:"stream"`
}

type ollamaChatResponse struct {
	Message ollamaChatMessage `json:"message"`
	Error   string            `json:"error,omitempty"`
}

func NewOllamaAnalyst(model, baseURL string, timeout time.Duration) *OllamaAnalyst {
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &OllamaAnalyst{
		client:   &http.Client{Timeout: timeout},
		model:    model,
		endpoint: ollamaURL(baseURL, "/api/chat"),
	}
}

func (o *OllamaAnalyst) Analyze(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(ollamaChatRequest{
		Model:    o.model,
		Messages: []ollamaChatMessage{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return "", &InferenceError{Provider: "ollama", Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &InferenceError{Provider: "ollama", Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &InferenceError{
			Provider:   "ollama",
			StatusCode: resp.StatusCode,
			Err:        errors.New(strings.TrimSpace(string(raw))),
		}
	}

	var parsed ollamaChatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", &InferenceError{Provider: "ollama", Err: fmt.Errorf("decode chat response: %w", err)}
	}
	if parsed.Error != "" {
		return "", &InferenceError{Provider: "ollama", Err: errors.New(parsed.Error)}
	}
	text := cleanMarkdownOutput(parsed.Message.Content)
	if text == "" {
		return "", &InferenceError{Provider: "ollama", Err: errors.New("empty response")}
	}
	return text, nil
}
