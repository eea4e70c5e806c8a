// Package llm provides a provider-agnostic language model abstraction with
// two capabilities: text completion and text embedding. Concrete
// implementations exist for OpenAI, Ollama, and deterministic mocks for
// testing. Provider selection is configuration, never a type hierarchy.
package llm

import (
	"context"
	"errors"
)

var (
	ErrProviderFailed = errors.New("model provider request failed")
	ErrInvalidConfig  = errors.New("invalid model configuration")
)

// Client defines the interface for interacting with language model providers.
// Implementations must be stateless and safe for concurrent use.
type Client interface {
	// Complete produces text from a prompt using the configured chat model.
	Complete(ctx context.Context, prompt string, opts CompletionOptions) (string, error)

	// Embed generates one embedding vector per input text, in input order.
	Embed(ctx context.Context, texts []string) ([][]float32, error)

	// Model returns the chat model identifier.
	Model() string
}

// CompletionOptions holds per-call generation parameters.
type CompletionOptions struct {
	// Temperature controls randomness (0.0 = deterministic, 2.0 = very random)
	Temperature float32

	// MaxTokens limits the response length (0 = use provider default)
	MaxTokens int
}

// Config holds common configuration options for model providers.
type Config struct {
	// ChatModel specifies the completion model identifier (e.g., "gpt-4o")
	ChatModel string

	// EmbedModel specifies the embedding model identifier
	EmbedModel string

	// EmbedDimension is the embedding vector dimension
	EmbedDimension int

	// APIKey is the authentication key for the provider
	APIKey string

	// BaseURL overrides the provider endpoint (used by Ollama)
	BaseURL string
}

// DefaultConfig returns sensible defaults for story generation.
func DefaultConfig() Config {
	return Config{
		ChatModel:      "gpt-4o",
		EmbedModel:     "text-embedding-3-small",
		EmbedDimension: 1536,
	}
}
