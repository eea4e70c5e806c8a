package rag

import (
	"context"
)

// Passage is a chunk of corpus text stored alongside its embedding.
type Passage struct {
	SourceID   string    `json:"source_id"`
	ProjectID  string    `json:"project_id"`
	ChunkIndex int       `json:"chunk_index"`
	Text       string    `json:"text"`
	Embedding  []float32 `json:"embedding"`
}

// Match is a raw similarity hit returned by a vector store.
type Match struct {
	SourceID   string  `json:"source_id"`
	ProjectID  string  `json:"project_id"`
	ChunkIndex int     `json:"chunk_index"`
	Text       string  `json:"text"`
	Score      float32 `json:"score"`
}

// RetrievedPassage is a ranked retrieval result handed to context assembly.
type RetrievedPassage struct {
	SourceID        string  `json:"source_id"`
	Text            string  `json:"text"`
	SimilarityScore float64 `json:"similarity_score"`
	Rank            int     `json:"rank"`
}

// SearchOptions provides filtering options for vector search
type SearchOptions struct {
	ProjectID string   `json:"project_id,omitempty"` // Filter by project identifier
	SourceIDs []string `json:"source_ids,omitempty"` // Filter by specific source documents
}

// VectorStore defines the interface for vector storage and similarity search
// Implementations should support passage embeddings for RAG pipelines
type VectorStore interface {
	// Insert efficiently inserts multiple passages in a single operation
	Insert(ctx context.Context, passages []Passage) error

	// Flush ensures all pending data is persisted
	Flush(ctx context.Context) error

	// Search performs top-K similarity search with optional filtering
	Search(ctx context.Context, queryVector []float32, topK int, opts *SearchOptions) ([]Match, error)

	// Query checks which source IDs exist in the store
	// Returns a map where keys are source IDs and values indicate existence
	Query(ctx context.Context, sourceIDs []string) (map[string]bool, error)

	// Delete removes all passages belonging to the given source IDs
	Delete(ctx context.Context, sourceIDs []string) error

	// GetStats returns collection statistics (record count, index status, etc.)
	GetStats(ctx context.Context) (map[string]interface{}, error)

	// Close releases resources and closes connections
	Close() error
}

// Embedder defines the interface for generating text embeddings.
// llm.Client satisfies it directly.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// IndexOptions provides configuration for corpus indexing
type IndexOptions struct {
	// BatchSize determines how many chunks to embed at once
	BatchSize int

	// ForceReindex will delete and re-insert documents even if they exist
	ForceReindex bool

	// SkipExisting will check if a document already exists and skip if present
	SkipExisting bool
}

// DefaultIndexOptions returns sensible defaults for indexing
func DefaultIndexOptions() IndexOptions {
	return IndexOptions{
		BatchSize:    16,
		ForceReindex: false,
		SkipExisting: true,
	}
}
