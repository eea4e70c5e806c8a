package llm

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// MockClient is a deterministic Client implementation for testing.
// It returns predictable responses based on prompt content.
type MockClient struct {
	// Response is the fixed text returned by Complete.
	// If empty, a default response is generated from the prompt.
	Response string

	// Responses, if non-empty, are returned by successive Complete calls
	// in order; the last entry repeats once exhausted.
	Responses []string

	// Err, if set, is returned by Complete instead of a response.
	Err error

	// EmbedErr, if set, is returned by Embed instead of vectors.
	EmbedErr error

	// Dimension is the embedding vector size (default 8).
	Dimension int

	// LastPrompt stores the most recent prompt passed to Complete.
	LastPrompt string

	// Prompts records every prompt passed to Complete, in call order.
	Prompts []string

	mu    sync.Mutex
	calls int
}

// NewMockClient creates a mock client with the given fixed response.
func NewMockClient(response string) *MockClient {
	return &MockClient{Response: response}
}

// NewMockClientWithError creates a mock client that always fails completions.
func NewMockClientWithError(err error) *MockClient {
	return &MockClient{Err: err}
}

// Model returns a fixed mock model identifier.
func (m *MockClient) Model() string {
	return "mock-model"
}

// CompleteCalls returns how many times Complete has been invoked.
func (m *MockClient) CompleteCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Complete returns the configured response or generates a deterministic one.
func (m *MockClient) Complete(ctx context.Context, prompt string, opts CompletionOptions) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls++
	m.LastPrompt = prompt
	m.Prompts = append(m.Prompts, prompt)

	if m.Err != nil {
		return "", m.Err
	}

	if len(m.Responses) > 0 {
		idx := m.calls - 1
		if idx >= len(m.Responses) {
			idx = len(m.Responses) - 1
		}
		return m.Responses[idx], nil
	}

	if m.Response != "" {
		return m.Response, nil
	}

	return generateMockResponse(prompt), nil
}

// Embed returns deterministic vectors derived from each text's bytes.
func (m *MockClient) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.EmbedErr != nil {
		return nil, m.EmbedErr
	}

	dim := m.Dimension
	if dim <= 0 {
		dim = 8
	}

	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vector := make([]float32, dim)
		for j, r := range text {
			vector[j%dim] += float32(r%13) / 13.0
		}
		// Keep components in a cosine-friendly range
		for j := range vector {
			if vector[j] > 1 {
				vector[j] = 1 / vector[j]
			}
		}
		vectors[i] = vector
	}

	return vectors, nil
}

// generateMockResponse creates a predictable, parseable reply from the prompt.
// Scoring prompts get a fixed evaluation; drafting prompts get one story.
func generateMockResponse(prompt string) string {
	if strings.Contains(prompt, `"scores"`) {
		return `{
  "scores": {"independent": 8, "negotiable": 8, "valuable": 9, "estimable": 8, "small": 7, "testable": 9},
  "feedback": ["The story states a clear outcome for the persona."],
  "suggestions": []
}`
	}

	persona := "user"
	if strings.Contains(prompt, "**Persona:**") {
		parts := strings.Split(prompt, "**Persona:**")
		if len(parts) > 1 {
			lines := strings.Split(parts[1], "\n")
			if len(lines) > 0 && strings.TrimSpace(lines[0]) != "" {
				persona = strings.TrimSpace(lines[0])
			}
		}
	}

	return fmt.Sprintf(`[
  {
    "title": "Core capability for %s",
    "persona": "%s",
    "want": "to accomplish the primary goal described in the requirements",
    "benefit": "the intended outcome is reached reliably",
    "acceptance_criteria": [
      "The capability is reachable from the main workflow",
      "Invalid input is rejected with a clear message",
      "A successful run produces a confirmation"
    ]
  }
]`, persona, persona)
}
