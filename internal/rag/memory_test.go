package rag

import (
	"context"
	"math"
	"testing"
)

func seedMemoryVectorStore(t *testing.T) *MemoryStore {
	t.Helper()
	store := NewMemoryStore()

	passages := []Passage{
		{SourceID: "doc-a", ProjectID: "p1", ChunkIndex: 0, Text: "password reset flow", Embedding: []float32{1, 0, 0}},
		{SourceID: "doc-a", ProjectID: "p1", ChunkIndex: 1, Text: "email confirmation", Embedding: []float32{0.9, 0.1, 0}},
		{SourceID: "doc-b", ProjectID: "p1", ChunkIndex: 0, Text: "audit requirements", Embedding: []float32{0, 1, 0}},
		{SourceID: "doc-c", ProjectID: "p2", ChunkIndex: 0, Text: "other project", Embedding: []float32{1, 0, 0}},
	}
	if err := store.Insert(context.Background(), passages); err != nil {
		t.Fatalf("Failed to insert passages: %v", err)
	}

	return store
}

func TestMemoryVectorStoreSearch(t *testing.T) {
	ctx := context.Background()
	store := seedMemoryVectorStore(t)

	t.Run("Ranked by cosine similarity", func(t *testing.T) {
		matches, err := store.Search(ctx, []float32{1, 0, 0}, 10, nil)
		if err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
		if len(matches) != 4 {
			t.Fatalf("Expected 4 matches, got %d", len(matches))
		}
		if matches[0].Score != 1.0 {
			t.Errorf("Expected perfect similarity first, got %f", matches[0].Score)
		}
		if matches[0].SourceID != "doc-a" || matches[0].ChunkIndex != 0 {
			t.Errorf("Expected doc-a chunk 0 first, got %s chunk %d", matches[0].SourceID, matches[0].ChunkIndex)
		}
	})

	t.Run("Identical scores break ties by source then chunk", func(t *testing.T) {
		matches, err := store.Search(ctx, []float32{1, 0, 0}, 10, &SearchOptions{ProjectID: "p1"})
		if err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
		if len(matches) != 3 {
			t.Fatalf("Expected 3 matches, got %d", len(matches))
		}
		if matches[0].ChunkIndex != 0 || matches[1].ChunkIndex != 1 {
			t.Errorf("Expected doc-a chunks in index order, got %d then %d", matches[0].ChunkIndex, matches[1].ChunkIndex)
		}
	})

	t.Run("TopK bounds results", func(t *testing.T) {
		matches, err := store.Search(ctx, []float32{1, 0, 0}, 2, nil)
		if err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
		if len(matches) != 2 {
			t.Errorf("Expected 2 matches, got %d", len(matches))
		}
	})

	t.Run("Project filter", func(t *testing.T) {
		matches, err := store.Search(ctx, []float32{1, 0, 0}, 10, &SearchOptions{ProjectID: "p2"})
		if err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
		if len(matches) != 1 || matches[0].SourceID != "doc-c" {
			t.Errorf("Expected only doc-c, got %v", matches)
		}
	})

	t.Run("Source filter", func(t *testing.T) {
		matches, err := store.Search(ctx, []float32{1, 0, 0}, 10, &SearchOptions{SourceIDs: []string{"doc-b"}})
		if err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
		if len(matches) != 1 || matches[0].SourceID != "doc-b" {
			t.Errorf("Expected only doc-b, got %v", matches)
		}
	})

	t.Run("Empty query vector", func(t *testing.T) {
		if _, err := store.Search(ctx, nil, 10, nil); err == nil {
			t.Fatal("Expected error for empty query vector")
		}
	})
}

func TestMemoryVectorStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	store := seedMemoryVectorStore(t)

	t.Run("Query reports existence", func(t *testing.T) {
		existing, err := store.Query(ctx, []string{"doc-a", "doc-z"})
		if err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
		if !existing["doc-a"] {
			t.Error("Expected doc-a to exist")
		}
		if existing["doc-z"] {
			t.Error("Expected doc-z to be absent")
		}
	})

	t.Run("Delete removes all chunks of a source", func(t *testing.T) {
		if err := store.Delete(ctx, []string{"doc-a"}); err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
		existing, err := store.Query(ctx, []string{"doc-a"})
		if err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
		if existing["doc-a"] {
			t.Error("Expected doc-a to be deleted")
		}

		stats, err := store.GetStats(ctx)
		if err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
		if stats["row_count"] != 2 {
			t.Errorf("Expected 2 remaining passages, got %v", stats["row_count"])
		}
	})

	t.Run("Insert rejects empty batch", func(t *testing.T) {
		if err := store.Insert(ctx, nil); err == nil {
			t.Fatal("Expected error for empty batch")
		}
	})
}

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name     string
		a, b     []float32
		expected float32
	}{
		{"Identical vectors", []float32{1, 2, 3}, []float32{1, 2, 3}, 1.0},
		{"Orthogonal vectors", []float32{1, 0}, []float32{0, 1}, 0.0},
		{"Opposite vectors", []float32{1, 0}, []float32{-1, 0}, -1.0},
		{"Zero vector", []float32{0, 0}, []float32{1, 1}, 0.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := cosineSimilarity(tt.a, tt.b)
			if math.Abs(float64(got-tt.expected)) > 1e-6 {
				t.Errorf("Expected %f, got %f", tt.expected, got)
			}
		})
	}
}
