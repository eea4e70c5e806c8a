package rag

import (
	"context"
	"fmt"
)

// Document is a named plain-text source to be chunked and indexed.
type Document struct {
	SourceID string `json:"source_id"`
	Text     string `json:"text"`
}

// IndexDocuments processes requirement documents and stores their embeddings
// in the vector store. This function:
// 1. Splits each document into overlapping chunks
// 2. Generates embeddings in batches
// 3. Stores passages with their project scope in the vector store
// 4. Supports re-indexing options (skip existing, force reindex)
// It returns the number of passages written.
func IndexDocuments(
	ctx context.Context,
	docs []Document,
	projectID string,
	chunker *Chunker,
	embedder Embedder,
	vectorStore VectorStore,
	opts IndexOptions,
) (int, error) {
	if len(docs) == 0 {
		return 0, nil
	}

	if projectID == "" {
		return 0, fmt.Errorf("project ID cannot be empty")
	}

	if embedder == nil {
		return 0, fmt.Errorf("embedder cannot be nil")
	}

	if vectorStore == nil {
		return 0, fmt.Errorf("vector store cannot be nil")
	}

	if chunker == nil {
		chunker = DefaultChunker()
	}

	// Handle re-indexing: delete existing passages if force reindex is enabled
	if opts.ForceReindex {
		sourceIDs := make([]string, len(docs))
		for i, doc := range docs {
			sourceIDs[i] = doc.SourceID
		}

		if err := vectorStore.Delete(ctx, sourceIDs); err != nil {
			return 0, fmt.Errorf("failed to delete existing documents: %w", err)
		}
	}

	docsToIndex := docs
	if opts.SkipExisting && !opts.ForceReindex {
		docsToIndex = filterNewDocuments(ctx, docs, vectorStore)
	}

	// Chunk every document up front so batches can span documents
	var passages []Passage
	for _, doc := range docsToIndex {
		for i, chunk := range chunker.Split(doc.Text) {
			passages = append(passages, Passage{
				SourceID:   doc.SourceID,
				ProjectID:  projectID,
				ChunkIndex: i,
				Text:       chunk,
			})
		}
	}
	if len(passages) == 0 {
		return 0, nil
	}

	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultIndexOptions().BatchSize
	}

	for batchStart := 0; batchStart < len(passages); batchStart += batchSize {
		batchEnd := batchStart + batchSize
		if batchEnd > len(passages) {
			batchEnd = len(passages)
		}

		batch := passages[batchStart:batchEnd]

		texts := make([]string, len(batch))
		for i, p := range batch {
			texts[i] = p.Text
		}

		vectors, err := embedder.Embed(ctx, texts)
		if err != nil {
			return 0, fmt.Errorf("failed to generate embeddings for batch starting at %d: %w", batchStart, err)
		}
		if len(vectors) != len(batch) {
			return 0, fmt.Errorf("embedder returned %d vectors for %d texts", len(vectors), len(batch))
		}

		for i := range batch {
			batch[i].Embedding = vectors[i]
		}

		if err := vectorStore.Insert(ctx, batch); err != nil {
			return 0, fmt.Errorf("failed to insert batch starting at %d: %w", batchStart, err)
		}

		// Flush after each batch
		if err := vectorStore.Flush(ctx); err != nil {
			return 0, fmt.Errorf("failed to flush batch starting at %d: %w", batchStart, err)
		}
	}

	return len(passages), nil
}

// filterNewDocuments removes documents whose source IDs already exist in the
// vector store.
func filterNewDocuments(ctx context.Context, docs []Document, vectorStore VectorStore) []Document {
	if len(docs) == 0 {
		return docs
	}

	sourceIDs := make([]string, len(docs))
	for i, doc := range docs {
		sourceIDs[i] = doc.SourceID
	}

	existing, err := vectorStore.Query(ctx, sourceIDs)
	if err != nil {
		// If the existence check fails, index everything and let insertion
		// surface any real error.
		return docs
	}

	newDocs := make([]Document, 0, len(docs))
	for _, doc := range docs {
		if !existing[doc.SourceID] {
			newDocs = append(newDocs, doc)
		}
	}

	return newDocs
}
