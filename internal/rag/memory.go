package rag

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
)

// MemoryStore is an in-memory VectorStore for tests and local runs
// without a Milvus deployment. Search uses exact cosine similarity.
type MemoryStore struct {
	mu       sync.RWMutex
	passages []Passage
}

// NewMemoryStore creates an empty in-memory vector store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Insert appends passages to the store.
func (s *MemoryStore) Insert(ctx context.Context, passages []Passage) error {
	if len(passages) == 0 {
		return ErrEmptyPassages
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.passages = append(s.passages, passages...)
	return nil
}

// Flush is a no-op for the in-memory store.
func (s *MemoryStore) Flush(ctx context.Context) error {
	return nil
}

// Search returns the topK passages most similar to the query vector.
func (s *MemoryStore) Search(ctx context.Context, queryVector []float32, topK int, opts *SearchOptions) ([]Match, error) {
	if len(queryVector) == 0 {
		return nil, fmt.Errorf("%w: empty query vector", ErrInvalidDimension)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	matches := make([]Match, 0, len(s.passages))
	for _, p := range s.passages {
		if !matchesOptions(p, opts) {
			continue
		}
		if len(p.Embedding) != len(queryVector) {
			continue
		}
		matches = append(matches, Match{
			SourceID:   p.SourceID,
			ProjectID:  p.ProjectID,
			ChunkIndex: p.ChunkIndex,
			Text:       p.Text,
			Score:      cosineSimilarity(queryVector, p.Embedding),
		})
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		if matches[i].SourceID != matches[j].SourceID {
			return matches[i].SourceID < matches[j].SourceID
		}
		return matches[i].ChunkIndex < matches[j].ChunkIndex
	})

	if len(matches) > topK {
		matches = matches[:topK]
	}

	return matches, nil
}

func matchesOptions(p Passage, opts *SearchOptions) bool {
	if opts == nil {
		return true
	}
	if opts.ProjectID != "" && p.ProjectID != opts.ProjectID {
		return false
	}
	if len(opts.SourceIDs) > 0 {
		found := false
		for _, id := range opts.SourceIDs {
			if p.SourceID == id {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// Query checks which source IDs exist in the store
func (s *MemoryStore) Query(ctx context.Context, sourceIDs []string) (map[string]bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	existenceMap := make(map[string]bool, len(sourceIDs))
	for _, id := range sourceIDs {
		existenceMap[id] = false
	}
	for _, p := range s.passages {
		if _, ok := existenceMap[p.SourceID]; ok {
			existenceMap[p.SourceID] = true
		}
	}

	return existenceMap, nil
}

// Delete removes all passages belonging to the given source IDs
func (s *MemoryStore) Delete(ctx context.Context, sourceIDs []string) error {
	if len(sourceIDs) == 0 {
		return nil
	}

	drop := make(map[string]bool, len(sourceIDs))
	for _, id := range sourceIDs {
		drop[id] = true
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.passages[:0]
	for _, p := range s.passages {
		if !drop[p.SourceID] {
			kept = append(kept, p)
		}
	}
	s.passages = kept

	return nil
}

// GetStats returns collection statistics
func (s *MemoryStore) GetStats(ctx context.Context) (map[string]interface{}, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return map[string]interface{}{
		"row_count": len(s.passages),
	}, nil
}

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() error {
	return nil
}

// cosineSimilarity computes the cosine of the angle between two vectors.
// Returns 0 for zero-magnitude vectors.
func cosineSimilarity(a, b []float32) float32 {
	var dot, magA, magB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		magA += float64(a[i]) * float64(a[i])
		magB += float64(b[i]) * float64(b[i])
	}
	if magA == 0 || magB == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(magA) * math.Sqrt(magB)))
}
