package llm

import (
	"context"
	"fmt"
	"os"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
)

// OpenAIClient implements the Client interface using OpenAI's API.
type OpenAIClient struct {
	client openai.Client
	config Config
}

// NewOpenAIClient creates an OpenAI-backed model client.
// Returns an error if the API key or model names are missing.
func NewOpenAIClient(config Config) (*OpenAIClient, error) {
	// Use config API key or fall back to environment variable
	apiKey := config.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("%w: missing API key (set OPENAI_API_KEY or provide in config)", ErrInvalidConfig)
	}
	if config.ChatModel == "" {
		return nil, fmt.Errorf("%w: missing chat model name", ErrInvalidConfig)
	}
	if config.EmbedModel == "" {
		return nil, fmt.Errorf("%w: missing embedding model name", ErrInvalidConfig)
	}
	if config.EmbedDimension <= 0 {
		return nil, fmt.Errorf("%w: embedding dimension must be positive, got %d", ErrInvalidConfig, config.EmbedDimension)
	}

	client := openai.NewClient(
		option.WithAPIKey(apiKey),
	)

	return &OpenAIClient{
		client: client,
		config: config,
	}, nil
}

// Model returns the chat model identifier.
func (o *OpenAIClient) Model() string {
	return o.config.ChatModel
}

// Complete sends the prompt to OpenAI and returns the generated text.
func (o *OpenAIClient) Complete(ctx context.Context, prompt string, opts CompletionOptions) (string, error) {
	if prompt == "" {
		return "", fmt.Errorf("%w: prompt cannot be empty", ErrInvalidConfig)
	}

	params := openai.ChatCompletionNewParams{
		Model: shared.ChatModel(o.config.ChatModel),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt),
		},
	}

	if opts.Temperature > 0 {
		params.Temperature = openai.Float(float64(opts.Temperature))
	}
	if opts.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(opts.MaxTokens))
	}

	completion, err := o.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrProviderFailed, err)
	}

	if len(completion.Choices) == 0 {
		return "", fmt.Errorf("%w: no response generated", ErrProviderFailed)
	}

	return completion.Choices[0].Message.Content, nil
}

// Embed generates embeddings for the provided texts using OpenAI's API.
func (o *OpenAIClient) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: no texts provided for embedding", ErrInvalidConfig)
	}

	resp, err := o.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{
			OfArrayOfStrings: texts,
		},
		Model:          o.config.EmbedModel,
		Dimensions:     openai.Int(int64(o.config.EmbedDimension)),
		EncodingFormat: openai.EmbeddingNewParamsEncodingFormatFloat,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrProviderFailed, err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("%w: expected %d embeddings, got %d", ErrProviderFailed, len(texts), len(resp.Data))
	}

	vectors := make([][]float32, len(texts))
	for _, data := range resp.Data {
		// Convert []float64 to []float32, keeping input order
		vector := make([]float32, len(data.Embedding))
		for j, val := range data.Embedding {
			vector[j] = float32(val)
		}
		vectors[int(data.Index)] = vector
	}

	return vectors, nil
}
