package rag

import (
	"context"
	"errors"
	"fmt"
	"sort"
)

// ErrRetrievalUnavailable indicates the vector store or embedder could not
// be reached. Callers may retry or continue with an empty context.
var ErrRetrievalUnavailable = errors.New("retrieval unavailable")

// Retriever provides high-level semantic retrieval over indexed passages.
type Retriever struct {
	embedder    Embedder
	vectorStore VectorStore
}

// NewRetriever creates a new Retriever instance.
func NewRetriever(embedder Embedder, vectorStore VectorStore) (*Retriever, error) {
	if embedder == nil {
		return nil, fmt.Errorf("embedder cannot be nil")
	}
	if vectorStore == nil {
		return nil, fmt.Errorf("vector store cannot be nil")
	}

	return &Retriever{
		embedder:    embedder,
		vectorStore: vectorStore,
	}, nil
}

// Retrieve performs semantic search for a free-text query and returns ranked
// passages. Matches with negative cosine similarity are discarded, then
// anything below minSimilarity. Results are ordered by similarity descending
// with ties broken by source ID, and ranks are assigned from 1. An empty
// result is not an error.
func (r *Retriever) Retrieve(
	ctx context.Context,
	query string,
	topK int,
	minSimilarity float64,
	opts *SearchOptions,
) ([]RetrievedPassage, error) {
	if query == "" {
		return nil, fmt.Errorf("query cannot be empty")
	}
	if topK <= 0 {
		return nil, fmt.Errorf("topK must be positive, got %d", topK)
	}
	if minSimilarity < 0 || minSimilarity > 1 {
		return nil, fmt.Errorf("minSimilarity must be in [0, 1], got %g", minSimilarity)
	}

	// Generate embedding for the query
	vectors, err := r.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("%w: embedding query: %v", ErrRetrievalUnavailable, err)
	}
	if len(vectors) == 0 {
		return nil, fmt.Errorf("%w: no embedding generated for query", ErrRetrievalUnavailable)
	}

	matches, err := r.vectorStore.Search(ctx, vectors[0], topK, opts)
	if err != nil {
		return nil, fmt.Errorf("%w: searching vector store: %v", ErrRetrievalUnavailable, err)
	}

	return rankMatches(matches, minSimilarity), nil
}

// rankMatches filters, orders, and ranks raw store hits.
func rankMatches(matches []Match, minSimilarity float64) []RetrievedPassage {
	kept := make([]Match, 0, len(matches))
	for _, m := range matches {
		score := float64(m.Score)
		if score < 0 {
			continue
		}
		if score < minSimilarity {
			continue
		}
		kept = append(kept, m)
	}

	sort.Slice(kept, func(i, j int) bool {
		if kept[i].Score != kept[j].Score {
			return kept[i].Score > kept[j].Score
		}
		if kept[i].SourceID != kept[j].SourceID {
			return kept[i].SourceID < kept[j].SourceID
		}
		return kept[i].ChunkIndex < kept[j].ChunkIndex
	})

	passages := make([]RetrievedPassage, len(kept))
	for i, m := range kept {
		passages[i] = RetrievedPassage{
			SourceID:        m.SourceID,
			Text:            m.Text,
			SimilarityScore: float64(m.Score),
			Rank:            i + 1,
		}
	}

	return passages
}
