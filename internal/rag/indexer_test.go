package rag

import (
	"context"
	"fmt"
	"testing"
)

func TestIndexDocuments(t *testing.T) {
	ctx := context.Background()

	docs := []Document{
		{SourceID: "doc-a", Text: "Users must reset forgotten passwords via email."},
		{SourceID: "doc-b", Text: "Administrators audit every password change."},
	}

	t.Run("Chunks, embeds, and inserts", func(t *testing.T) {
		embedder := &mockEmbedder{}
		store := &mockVectorStore{}

		count, err := IndexDocuments(ctx, docs, "p1", DefaultChunker(), embedder, store, DefaultIndexOptions())
		if err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
		if count != 2 {
			t.Errorf("Expected 2 passages indexed, got %d", count)
		}
		if len(store.inserted) != 2 {
			t.Fatalf("Expected 2 inserted passages, got %d", len(store.inserted))
		}
		for _, p := range store.inserted {
			if p.ProjectID != "p1" {
				t.Errorf("Expected project p1, got %s", p.ProjectID)
			}
			if len(p.Embedding) == 0 {
				t.Errorf("Expected embedding attached to %s", p.SourceID)
			}
		}
		if store.flushes == 0 {
			t.Error("Expected at least one flush")
		}
	})

	t.Run("Empty documents", func(t *testing.T) {
		count, err := IndexDocuments(ctx, nil, "p1", nil, &mockEmbedder{}, &mockVectorStore{}, DefaultIndexOptions())
		if err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
		if count != 0 {
			t.Errorf("Expected 0 passages, got %d", count)
		}
	})

	t.Run("Empty project ID", func(t *testing.T) {
		if _, err := IndexDocuments(ctx, docs, "", nil, &mockEmbedder{}, &mockVectorStore{}, DefaultIndexOptions()); err == nil {
			t.Fatal("Expected error for empty project ID")
		}
	})

	t.Run("Nil embedder", func(t *testing.T) {
		if _, err := IndexDocuments(ctx, docs, "p1", nil, nil, &mockVectorStore{}, DefaultIndexOptions()); err == nil {
			t.Fatal("Expected error for nil embedder")
		}
	})

	t.Run("Nil vector store", func(t *testing.T) {
		if _, err := IndexDocuments(ctx, docs, "p1", nil, &mockEmbedder{}, nil, DefaultIndexOptions()); err == nil {
			t.Fatal("Expected error for nil vector store")
		}
	})

	t.Run("Skip existing documents", func(t *testing.T) {
		store := &mockVectorStore{
			queryFunc: func(ctx context.Context, sourceIDs []string) (map[string]bool, error) {
				return map[string]bool{"doc-a": true}, nil
			},
		}

		count, err := IndexDocuments(ctx, docs, "p1", nil, &mockEmbedder{}, store, DefaultIndexOptions())
		if err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
		if count != 1 {
			t.Fatalf("Expected 1 passage for the new document, got %d", count)
		}
		if store.inserted[0].SourceID != "doc-b" {
			t.Errorf("Expected doc-b indexed, got %s", store.inserted[0].SourceID)
		}
	})

	t.Run("Force reindex deletes first", func(t *testing.T) {
		store := &mockVectorStore{}
		opts := DefaultIndexOptions()
		opts.ForceReindex = true

		if _, err := IndexDocuments(ctx, docs, "p1", nil, &mockEmbedder{}, store, opts); err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
		if len(store.deleted) != 1 || len(store.deleted[0]) != 2 {
			t.Fatalf("Expected one delete covering both documents, got %v", store.deleted)
		}
		if len(store.inserted) != 2 {
			t.Errorf("Expected 2 passages reinserted, got %d", len(store.inserted))
		}
	})

	t.Run("Batch size respected", func(t *testing.T) {
		chunker, err := NewChunker(30, 0)
		if err != nil {
			t.Fatalf("Failed to create chunker: %v", err)
		}

		embedder := &mockEmbedder{}
		opts := DefaultIndexOptions()
		opts.BatchSize = 2
		opts.SkipExisting = false

		long := []Document{{
			SourceID: "doc-long",
			Text:     "First sentence here one. Second sentence here two. Third sentence here three. Fourth sentence here four. Fifth sentence here five.",
		}}

		count, err := IndexDocuments(ctx, long, "p1", chunker, embedder, &mockVectorStore{}, opts)
		if err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
		if count < 3 {
			t.Fatalf("Expected at least 3 passages, got %d", count)
		}
		for i, call := range embedder.calls {
			if len(call) > 2 {
				t.Errorf("Expected batch %d within size 2, got %d texts", i, len(call))
			}
		}
	})

	t.Run("Embedder failure propagates", func(t *testing.T) {
		embedder := &mockEmbedder{
			embedFunc: func(ctx context.Context, texts []string) ([][]float32, error) {
				return nil, fmt.Errorf("provider down")
			},
		}
		if _, err := IndexDocuments(ctx, docs, "p1", nil, embedder, &mockVectorStore{}, DefaultIndexOptions()); err == nil {
			t.Fatal("Expected error when embedding fails")
		}
	})

	t.Run("Vector count mismatch", func(t *testing.T) {
		embedder := &mockEmbedder{
			embedFunc: func(ctx context.Context, texts []string) ([][]float32, error) {
				return [][]float32{{1, 2, 3}}, nil
			},
		}
		if _, err := IndexDocuments(ctx, docs, "p1", nil, embedder, &mockVectorStore{}, DefaultIndexOptions()); err == nil {
			t.Fatal("Expected error for vector count mismatch")
		}
	})
}
