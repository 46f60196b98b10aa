package fields

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"cloud.google.com/go/vertexai/genai"

	"certextract/internal/gcloud"
)

// GeminiCompleter calls a Gemini model on Vertex AI.
type GeminiCompleter struct {
	client    *genai.Client
	modelName string

	// GenerativeModel carries the system instruction, so one model per
	// distinct system prompt is kept.
	mu     sync.Mutex
	models map[string]*genai.GenerativeModel
}

// NewGeminiCompleter creates a Vertex AI client for project and location.
func NewGeminiCompleter(ctx context.Context, projectID, location, model string) (*GeminiCompleter, error) {
	const op = "NewGeminiCompleter"

	if projectID == "" {
		return nil, NewFieldError(op, ErrMissingCredentials, "GOOGLE_CLOUD_PROJECT is required")
	}
	if location == "" {
		location = "us-central1"
	}
	if model == "" {
		model = "gemini-2.5-flash"
	}

	client, err := genai.NewClient(ctx, projectID, location, gcloud.CredentialOptions()...)
	if err != nil {
		return nil, NewFieldError(op, ErrExtractionFailed, fmt.Sprintf("genai.NewClient: %v", err))
	}

	return &GeminiCompleter{
		client:    client,
		modelName: model,
		models:    make(map[string]*genai.GenerativeModel),
	}, nil
}

func (c *GeminiCompleter) model(system string) *genai.GenerativeModel {
	c.mu.Lock()
	defer c.mu.Unlock()

	if m, ok := c.models[system]; ok {
		return m
	}
	m := c.client.GenerativeModel(c.modelName)
	m.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(system)},
	}
	m.GenerationConfig = genai.GenerationConfig{
		ResponseMIMEType: "application/json",
		Temperature:      genai.Ptr[float32](0.0),
	}
	c.models[system] = m
	return m
}

// Complete implements Completer.
func (c *GeminiCompleter) Complete(ctx context.Context, system, user string) (string, error) {
	resp, err := c.model(system).GenerateContent(ctx, genai.Text(user))
	if err != nil {
		return "", fmt.Errorf("generate content: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", fmt.Errorf("generate content returned no candidates")
	}

	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if t, ok := part.(genai.Text); ok {
			b.WriteString(string(t))
		}
	}
	return b.String(), nil
}

// Name implements Completer.
func (c *GeminiCompleter) Name() string {
	return "gemini/" + c.modelName
}

// Close implements Completer.
func (c *GeminiCompleter) Close() error {
	return c.client.Close()
}
