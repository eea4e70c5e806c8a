package rag

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
)

// Common errors for Milvus operations
var (
	ErrInvalidDimension = errors.New("invalid vector dimension")
	ErrEmptyPassages    = errors.New("no passages provided for insertion")
	ErrConnectionFailed = errors.New("failed to connect to Milvus")
	ErrInsertFailed     = errors.New("failed to insert passages")
	ErrSearchFailed     = errors.New("failed to search vectors")
)

// MilvusConfig holds configuration for Milvus connection and collection
type MilvusConfig struct {
	Address        string // Milvus server address (e.g., "localhost:19530")
	CollectionName string // Name of the collection
	Dimension      int    // Vector dimension (e.g., 1536 for text-embedding-3-small)
	IndexType      string // Index type (default: "HNSW")
	MetricType     string // Similarity metric (default: "COSINE")

	// HNSW index parameters
	M              int // HNSW M parameter (default: 16)
	EfConstruction int // HNSW efConstruction (default: 256)
}

// DefaultMilvusConfig returns default configuration from environment variables
func DefaultMilvusConfig() MilvusConfig {
	address := os.Getenv("MILVUS_ADDRESS")
	if address == "" {
		address = "localhost:19530"
	}

	collection := os.Getenv("MILVUS_COLLECTION")
	if collection == "" {
		collection = "fable_passages"
	}

	return MilvusConfig{
		Address:        address,
		CollectionName: collection,
		Dimension:      1536,
		IndexType:      "HNSW",
		MetricType:     "COSINE",
		M:              16,
		EfConstruction: 256,
	}
}

// MilvusStore implements VectorStore interface using Milvus
type MilvusStore struct {
	client client.Client
	config MilvusConfig
}

// NewMilvusStore creates a new Milvus vector store instance
// Connects to Milvus and ensures the collection exists with proper schema
func NewMilvusStore(ctx context.Context, config MilvusConfig) (*MilvusStore, error) {
	if config.Dimension <= 0 {
		return nil, ErrInvalidDimension
	}

	c, err := client.NewGrpcClient(ctx, config.Address)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	store := &MilvusStore{
		client: c,
		config: config,
	}

	// Create collection if it doesn't exist
	if err := store.ensureCollection(ctx); err != nil {
		c.Close()
		return nil, err
	}

	return store, nil
}

// ensureCollection creates the collection with schema if it doesn't exist
func (m *MilvusStore) ensureCollection(ctx context.Context) error {
	has, err := m.client.HasCollection(ctx, m.config.CollectionName)
	if err != nil {
		return fmt.Errorf("failed to check collection existence: %w", err)
	}

	if has {
		return nil
	}

	// Define schema for passage embeddings
	schema := &entity.Schema{
		CollectionName: m.config.CollectionName,
		AutoID:         true,
		Fields: []*entity.Field{
			{
				Name:       "id",
				DataType:   entity.FieldTypeInt64,
				PrimaryKey: true,
				AutoID:     true,
			},
			{
				Name:     "source_id",
				DataType: entity.FieldTypeVarChar,
				TypeParams: map[string]string{
					"max_length": "128",
				},
			},
			{
				Name:     "project_id",
				DataType: entity.FieldTypeVarChar,
				TypeParams: map[string]string{
					"max_length": "128",
				},
			},
			{
				Name:     "chunk_index",
				DataType: entity.FieldTypeInt64,
			},
			{
				Name:     "text",
				DataType: entity.FieldTypeVarChar,
				TypeParams: map[string]string{
					"max_length": "65535",
				},
			},
			{
				Name:     "embedding",
				DataType: entity.FieldTypeFloatVector,
				TypeParams: map[string]string{
					"dim": fmt.Sprintf("%d", m.config.Dimension),
				},
			},
		},
	}

	if err := m.client.CreateCollection(ctx, schema, entity.DefaultShardNumber); err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}

	// Create HNSW index on embedding field
	idx, err := entity.NewIndexHNSW(entity.COSINE, m.config.M, m.config.EfConstruction)
	if err != nil {
		return fmt.Errorf("failed to create index config: %w", err)
	}

	if err := m.client.CreateIndex(ctx, m.config.CollectionName, "embedding", idx, false); err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}

	// Load collection into memory
	if err := m.client.LoadCollection(ctx, m.config.CollectionName, false); err != nil {
		return fmt.Errorf("failed to load collection: %w", err)
	}

	return nil
}

// Insert adds passage records to Milvus
func (m *MilvusStore) Insert(ctx context.Context, passages []Passage) error {
	if len(passages) == 0 {
		return ErrEmptyPassages
	}

	sourceIDs := make([]string, len(passages))
	projectIDs := make([]string, len(passages))
	chunkIndexes := make([]int64, len(passages))
	texts := make([]string, len(passages))
	embeddings := make([][]float32, len(passages))

	for i, p := range passages {
		if len(p.Embedding) != m.config.Dimension {
			return fmt.Errorf("%w: expected %d, got %d", ErrInvalidDimension, m.config.Dimension, len(p.Embedding))
		}
		sourceIDs[i] = p.SourceID
		projectIDs[i] = p.ProjectID
		chunkIndexes[i] = int64(p.ChunkIndex)
		texts[i] = p.Text
		embeddings[i] = p.Embedding
	}

	columns := []entity.Column{
		entity.NewColumnVarChar("source_id", sourceIDs),
		entity.NewColumnVarChar("project_id", projectIDs),
		entity.NewColumnInt64("chunk_index", chunkIndexes),
		entity.NewColumnVarChar("text", texts),
		entity.NewColumnFloatVector("embedding", m.config.Dimension, embeddings),
	}

	if _, err := m.client.Insert(ctx, m.config.CollectionName, "", columns...); err != nil {
		return fmt.Errorf("%w: %v", ErrInsertFailed, err)
	}

	return nil
}

// Flush ensures all pending data is persisted
func (m *MilvusStore) Flush(ctx context.Context) error {
	if err := m.client.Flush(ctx, m.config.CollectionName, false); err != nil {
		return fmt.Errorf("failed to flush data: %w", err)
	}
	return nil
}

// Search performs top-K similarity search with optional filtering
func (m *MilvusStore) Search(ctx context.Context, queryVector []float32, topK int, opts *SearchOptions) ([]Match, error) {
	if len(queryVector) != m.config.Dimension {
		return nil, fmt.Errorf("%w: expected %d, got %d", ErrInvalidDimension, m.config.Dimension, len(queryVector))
	}

	expr := buildFilterExpr(opts)

	sp, err := entity.NewIndexHNSWSearchParam(64) // ef parameter for search
	if err != nil {
		return nil, fmt.Errorf("failed to create search params: %w", err)
	}

	vectors := []entity.Vector{entity.FloatVector(queryVector)}
	outputFields := []string{"source_id", "project_id", "chunk_index", "text"}

	results, err := m.client.Search(
		ctx,
		m.config.CollectionName,
		nil, // partition names
		expr,
		outputFields,
		vectors,
		"embedding",
		entity.COSINE,
		topK,
		sp,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSearchFailed, err)
	}

	if len(results) == 0 {
		return []Match{}, nil
	}

	matches := make([]Match, 0, results[0].ResultCount)

	for i := 0; i < results[0].ResultCount; i++ {
		match := Match{
			Score: results[0].Scores[i],
		}

		for _, field := range results[0].Fields {
			switch field.Name() {
			case "source_id":
				match.SourceID = field.(*entity.ColumnVarChar).Data()[i]
			case "project_id":
				match.ProjectID = field.(*entity.ColumnVarChar).Data()[i]
			case "chunk_index":
				match.ChunkIndex = int(field.(*entity.ColumnInt64).Data()[i])
			case "text":
				match.Text = field.(*entity.ColumnVarChar).Data()[i]
			}
		}

		matches = append(matches, match)
	}

	return matches, nil
}

// buildFilterExpr translates search options into a Milvus filter expression
func buildFilterExpr(opts *SearchOptions) string {
	if opts == nil {
		return ""
	}

	expr := ""
	if opts.ProjectID != "" {
		expr = fmt.Sprintf(`project_id == "%s"`, opts.ProjectID)
	}

	if len(opts.SourceIDs) > 0 {
		sourceExpr := fmt.Sprintf(`source_id == "%s"`, opts.SourceIDs[0])
		for i := 1; i < len(opts.SourceIDs); i++ {
			sourceExpr = fmt.Sprintf(`%s or source_id == "%s"`, sourceExpr, opts.SourceIDs[i])
		}
		if expr != "" {
			expr = fmt.Sprintf(`%s and (%s)`, expr, sourceExpr)
		} else {
			expr = sourceExpr
		}
	}

	return expr
}

// Query checks which source IDs exist in the store
func (m *MilvusStore) Query(ctx context.Context, sourceIDs []string) (map[string]bool, error) {
	if len(sourceIDs) == 0 {
		return map[string]bool{}, nil
	}

	expr := fmt.Sprintf(`source_id == "%s"`, sourceIDs[0])
	for i := 1; i < len(sourceIDs); i++ {
		expr = fmt.Sprintf(`%s or source_id == "%s"`, expr, sourceIDs[i])
	}

	results, err := m.client.Query(
		ctx,
		m.config.CollectionName,
		nil, // partition names
		expr,
		[]string{"source_id"},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query sources: %w", err)
	}

	existenceMap := make(map[string]bool, len(sourceIDs))
	for _, id := range sourceIDs {
		existenceMap[id] = false
	}

	for _, column := range results {
		if column.Name() == "source_id" {
			if varcharCol, ok := column.(*entity.ColumnVarChar); ok {
				for _, id := range varcharCol.Data() {
					existenceMap[id] = true
				}
			}
		}
	}

	return existenceMap, nil
}

// Delete removes all passages belonging to the given source IDs
func (m *MilvusStore) Delete(ctx context.Context, sourceIDs []string) error {
	if len(sourceIDs) == 0 {
		return nil
	}

	expr := fmt.Sprintf(`source_id == "%s"`, sourceIDs[0])
	for i := 1; i < len(sourceIDs); i++ {
		expr = fmt.Sprintf(`%s or source_id == "%s"`, expr, sourceIDs[i])
	}

	if err := m.client.Delete(ctx, m.config.CollectionName, "", expr); err != nil {
		return fmt.Errorf("failed to delete passages: %w", err)
	}

	return nil
}

// GetStats returns collection statistics
func (m *MilvusStore) GetStats(ctx context.Context) (map[string]interface{}, error) {
	stats, err := m.client.GetCollectionStatistics(ctx, m.config.CollectionName)
	if err != nil {
		return nil, fmt.Errorf("failed to get stats: %w", err)
	}

	return map[string]interface{}{
		"row_count": stats["row_count"],
	}, nil
}

// Close releases resources and closes the Milvus connection
func (m *MilvusStore) Close() error {
	if m.client != nil {
		return m.client.Close()
	}
	return nil
}
