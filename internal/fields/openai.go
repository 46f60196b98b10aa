package fields

import (
	"context"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"
)

// OpenAICompleter talks to the OpenAI chat completion API or any endpoint
// that speaks the same protocol.
type OpenAICompleter struct {
	client *openai.Client
	model  string
}

// NewOpenAICompleter creates a completer from an API key. An empty baseURL
// selects the public OpenAI endpoint.
func NewOpenAICompleter(apiKey, model, baseURL string) (*OpenAICompleter, error) {
	const op = "NewOpenAICompleter"

	if apiKey == "" {
		return nil, NewFieldError(op, ErrMissingCredentials, "OPENAI_API_KEY is required")
	}
	if model == "" {
		model = openai.GPT4oMini
	}

	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimSuffix(baseURL, "/")
	}

	return NewOpenAICompleterWithClient(openai.NewClientWithConfig(cfg), model), nil
}

// NewOpenAICompleterWithClient creates a completer with an existing client.
func NewOpenAICompleterWithClient(client *openai.Client, model string) *OpenAICompleter {
	return &OpenAICompleter{client: client, model: model}
}

// Complete implements Completer.
func (c *OpenAICompleter) Complete(ctx context.Context, system, user string) (string, error) {
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Temperature: 0,
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat completion returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// Name implements Completer.
func (c *OpenAICompleter) Name() string {
	return "openai/" + c.model
}

// Close implements Completer.
func (c *OpenAICompleter) Close() error {
	return nil
}
