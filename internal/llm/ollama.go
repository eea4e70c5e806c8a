package llm

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/ollama/ollama/api"
)

// OllamaClient implements the Client interface against a local Ollama server.
type OllamaClient struct {
	client *api.Client
	config Config
}

// NewOllamaClient creates a model client backed by an Ollama instance.
// BaseURL defaults to http://localhost:11434 when empty.
func NewOllamaClient(config Config) (*OllamaClient, error) {
	if config.ChatModel == "" {
		return nil, fmt.Errorf("%w: missing chat model name", ErrInvalidConfig)
	}
	if config.EmbedModel == "" {
		return nil, fmt.Errorf("%w: missing embedding model name", ErrInvalidConfig)
	}

	baseURL := config.BaseURL
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	// api.NewClient expects the server root, without an /api or /v1 suffix
	baseURL = strings.TrimSuffix(baseURL, "/v1")
	baseURL = strings.TrimSuffix(baseURL, "/")

	parsed, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid Ollama base URL %q: %v", ErrInvalidConfig, baseURL, err)
	}

	return &OllamaClient{
		client: api.NewClient(parsed, http.DefaultClient),
		config: config,
	}, nil
}

// Model returns the chat model identifier.
func (o *OllamaClient) Model() string {
	return o.config.ChatModel
}

// Complete sends the prompt to Ollama and returns the generated text.
func (o *OllamaClient) Complete(ctx context.Context, prompt string, opts CompletionOptions) (string, error) {
	if prompt == "" {
		return "", fmt.Errorf("%w: prompt cannot be empty", ErrInvalidConfig)
	}

	stream := false
	req := &api.ChatRequest{
		Model: o.config.ChatModel,
		Messages: []api.Message{
			{Role: "user", Content: prompt},
		},
		Stream:  &stream,
		Options: map[string]interface{}{},
	}
	if opts.Temperature > 0 {
		req.Options["temperature"] = float64(opts.Temperature)
	}
	if opts.MaxTokens > 0 {
		req.Options["num_predict"] = opts.MaxTokens
	}

	var b strings.Builder
	err := o.client.Chat(ctx, req, func(resp api.ChatResponse) error {
		b.WriteString(resp.Message.Content)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrProviderFailed, err)
	}

	text := b.String()
	if text == "" {
		return "", fmt.Errorf("%w: no response generated", ErrProviderFailed)
	}

	return text, nil
}

// Embed generates embeddings for the provided texts using Ollama's embed API.
func (o *OllamaClient) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: no texts provided for embedding", ErrInvalidConfig)
	}

	resp, err := o.client.Embed(ctx, &api.EmbedRequest{
		Model: o.config.EmbedModel,
		Input: texts,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrProviderFailed, err)
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("%w: expected %d embeddings, got %d", ErrProviderFailed, len(texts), len(resp.Embeddings))
	}

	return resp.Embeddings, nil
}
