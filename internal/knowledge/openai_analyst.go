package knowledge

import (
	"context"
	"errors"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIAnalyst runs chat completions against OpenAI or an Azure OpenAI deployment.
type OpenAIAnalyst struct {
	client   *openai.Client
	provider string
	model    string
}

func NewOpenAIAnalyst(apiKey, model, baseURL string) *OpenAIAnalyst {
	cfg := openai.DefaultConfig(apiKey)
	if strings.TrimSpace(baseURL) != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	return &OpenAIAnalyst{
		client:   openai.NewClientWithConfig(cfg),
		provider: "openai",
		model:    model,
	}
}

// NewAzureAnalyst targets the chat deployment named by deployment.
func NewAzureAnalyst(apiKey, baseURL, deployment, apiVersion string) *OpenAIAnalyst {
	cfg := openai.DefaultAzureConfig(apiKey, strings.TrimRight(baseURL, "/"))
	if apiVersion != "" {
		cfg.APIVersion = apiVersion
	}
	cfg.AzureModelMapperFunc = func(string) string { return deployment }
	return &OpenAIAnalyst{
		client:   openai.NewClientWithConfig(cfg),
		provider: "azure",
		model:    deployment,
	}
}

func (a *OpenAIAnalyst) Analyze(ctx context.Context, prompt string) (string, error) {
	resp, err := a.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: a.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: 0.1,
	})
	if err != nil {
		return "", &InferenceError{Provider: a.provider, StatusCode: apiStatus(err), Err: err}
	}
	if len(resp.Choices) == 0 {
		return "", &InferenceError{Provider: a.provider, Err: errors.New("chat completion returned no choices")}
	}
	text := cleanMarkdownOutput(resp.Choices[0].Message.Content)
	if text == "" {
		return "", &InferenceError{Provider: a.provider, Err: fmt.Errorf("empty completion from %s", a.model)}
	}
	return text, nil
}
