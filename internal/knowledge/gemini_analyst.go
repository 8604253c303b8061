package knowledge

import (
	"context"
	"errors"

	"google.golang.org/genai"
)

// GeminiAnalyst implements Analyst using Gemini text generation.
type GeminiAnalyst struct {
	client *genai.Client
	model  string
}

func NewGeminiAnalyst(ctx context.Context, apiKey string, modelName string) (*GeminiAnalyst, error) {
	client, err := newGenAIClient(ctx, apiKey)
	if err != nil {
		return nil, err
	}
	return &GeminiAnalyst{
		client: client,
		model:  modelName,
	}, nil
}

func (g *GeminiAnalyst) Analyze(ctx context.Context, prompt string) (string, error) {
	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(prompt), nil)
	if err != nil {
		return "", &InferenceError{Provider: "gemini", StatusCode: geminiStatus(err), Err: err}
	}
	text := cleanMarkdownOutput(resp.Text())
	if text == "" {
		return "", &InferenceError{Provider: "gemini", Err: errors.New("empty response")}
	}
	return text, nil
}
