// Package engine assembles the full generation pipeline from configuration:
// model provider, vector and graph stores, retrieval, context assembly,
// drafting, scoring, and the orchestrator with its worker pool. The CLI and
// the queue worker both run the engine through this one handle.
package engine

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/Yates-Labs/fable/internal/config"
	"github.com/Yates-Labs/fable/internal/graph"
	"github.com/Yates-Labs/fable/internal/llm"
	"github.com/Yates-Labs/fable/internal/orchestrator"
	"github.com/Yates-Labs/fable/internal/rag"
	"github.com/Yates-Labs/fable/internal/story"
)

// Engine is the constructed generation pipeline. It holds the backend
// connections and is safe for concurrent runs.
type Engine struct {
	provider    llm.Client
	embedder    rag.Embedder
	vectorStore rag.VectorStore
	graphStore  graph.Store
	chunker     *rag.Chunker
	orch        *orchestrator.Orchestrator
	pool        *orchestrator.Pool
	cache       *redis.Client
	logger      zerolog.Logger
}

// New builds the pipeline described by the configuration. Backends are
// connected eagerly so a misconfigured engine fails at startup rather than
// mid-run.
func New(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*Engine, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	e := &Engine{logger: logger.With().Str("component", "engine").Logger()}

	provider, err := newProvider(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create model provider: %w", err)
	}
	e.provider = provider

	e.embedder = provider
	if cfg.RedisAddr != "" {
		e.cache = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		cached, err := rag.NewCachedEmbedder(provider, e.cache, cfg.EmbeddingModel, cfg.CacheTTL, logger)
		if err != nil {
			e.Close(ctx)
			return nil, fmt.Errorf("failed to create embedding cache: %w", err)
		}
		e.embedder = cached
	}

	vectorStore, err := newVectorStore(ctx, cfg)
	if err != nil {
		e.Close(ctx)
		return nil, fmt.Errorf("failed to create vector store: %w", err)
	}
	e.vectorStore = vectorStore

	retriever, err := rag.NewRetriever(e.embedder, vectorStore)
	if err != nil {
		e.Close(ctx)
		return nil, fmt.Errorf("failed to create retriever: %w", err)
	}

	graphStore, err := newGraphStore(ctx, cfg)
	if err != nil {
		e.Close(ctx)
		return nil, fmt.Errorf("failed to create graph store: %w", err)
	}
	e.graphStore = graphStore

	builder, err := graph.NewBuilder(graphStore)
	if err != nil {
		e.Close(ctx)
		return nil, fmt.Errorf("failed to create graph context builder: %w", err)
	}

	assembler, err := story.NewAssembler()
	if err != nil {
		e.Close(ctx)
		return nil, fmt.Errorf("failed to create context assembler: %w", err)
	}

	drafter, err := story.NewDrafter(provider)
	if err != nil {
		e.Close(ctx)
		return nil, fmt.Errorf("failed to create drafter: %w", err)
	}

	scorer, err := story.NewScorer(provider, logger)
	if err != nil {
		e.Close(ctx)
		return nil, fmt.Errorf("failed to create scorer: %w", err)
	}

	orch, err := orchestrator.New(cfg.Orchestrator(), retriever, builder, assembler, drafter, scorer, logger)
	if err != nil {
		e.Close(ctx)
		return nil, fmt.Errorf("failed to create orchestrator: %w", err)
	}
	e.orch = orch

	pool, err := orchestrator.NewPool(orch, cfg.Workers, logger)
	if err != nil {
		e.Close(ctx)
		return nil, fmt.Errorf("failed to create worker pool: %w", err)
	}
	e.pool = pool

	chunker, err := rag.NewChunker(cfg.ChunkSize, cfg.ChunkOverlap)
	if err != nil {
		e.Close(ctx)
		return nil, fmt.Errorf("failed to create chunker: %w", err)
	}
	e.chunker = chunker

	e.logger.Info().
		Str("provider", cfg.Provider).
		Str("chat_model", provider.Model()).
		Str("vector_store", cfg.VectorStore).
		Str("graph_store", cfg.GraphStore).
		Bool("embedding_cache", e.cache != nil).
		Int("workers", cfg.Workers).
		Msg("Engine assembled")

	return e, nil
}

func newProvider(cfg *config.Config) (llm.Client, error) {
	modelCfg := llm.Config{
		ChatModel:      cfg.ChatModel,
		EmbedModel:     cfg.EmbeddingModel,
		EmbedDimension: cfg.EmbeddingDims,
	}

	switch cfg.Provider {
	case config.ProviderOpenAI:
		modelCfg.APIKey = cfg.OpenAIAPIKey
		return llm.NewOpenAIClient(modelCfg)
	case config.ProviderOllama:
		modelCfg.BaseURL = cfg.OllamaHost
		return llm.NewOllamaClient(modelCfg)
	case config.ProviderMock:
		return llm.NewMockClient(""), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Provider)
	}
}

func newVectorStore(ctx context.Context, cfg *config.Config) (rag.VectorStore, error) {
	switch cfg.VectorStore {
	case config.VectorStoreMilvus:
		milvusCfg := rag.DefaultMilvusConfig()
		milvusCfg.Address = cfg.MilvusAddr
		milvusCfg.CollectionName = cfg.MilvusCollection
		milvusCfg.Dimension = cfg.EmbeddingDims
		return rag.NewMilvusStore(ctx, milvusCfg)
	case config.VectorStoreMemory:
		return rag.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown vector store %q", cfg.VectorStore)
	}
}

func newGraphStore(ctx context.Context, cfg *config.Config) (graph.Store, error) {
	switch cfg.GraphStore {
	case config.GraphStoreNeo4j:
		neo4jCfg := graph.DefaultNeo4jConfig()
		neo4jCfg.URI = cfg.Neo4jURI
		neo4jCfg.Username = cfg.Neo4jUser
		neo4jCfg.Password = cfg.Neo4jPassword
		return graph.NewNeo4jStore(ctx, neo4jCfg)
	case config.GraphStoreMemory:
		return graph.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown graph store %q", cfg.GraphStore)
	}
}

// Run executes one generation request through the orchestrator.
func (e *Engine) Run(ctx context.Context, req story.GenerationRequest) (story.GenerationResult, error) {
	return e.orch.Run(ctx, req)
}

// RunAll executes a batch of requests through the worker pool, one run per
// worker.
func (e *Engine) RunAll(ctx context.Context, reqs []story.GenerationRequest) []orchestrator.RunOutcome {
	return e.pool.RunAll(ctx, reqs)
}

// IndexDocuments chunks and embeds requirement documents into the vector
// store so later runs can retrieve them. It returns the number of passages
// written.
func (e *Engine) IndexDocuments(ctx context.Context, projectID string, docs []rag.Document, force bool) (int, error) {
	e.logger.Info().
		Str("project_id", projectID).
		Int("documents", len(docs)).
		Bool("force_reindex", force).
		Msg("Indexing requirement documents")

	opts := rag.DefaultIndexOptions()
	opts.ForceReindex = force
	opts.SkipExisting = !force

	count, err := rag.IndexDocuments(ctx, docs, projectID, e.chunker, e.embedder, e.vectorStore, opts)
	if err != nil {
		return 0, fmt.Errorf("failed to index documents: %w", err)
	}

	e.logger.Info().Int("passages", count).Msg("Indexed requirement documents")
	return count, nil
}

// GraphStore exposes the knowledge graph store, letting callers seed the
// in-memory implementation for offline runs.
func (e *Engine) GraphStore() graph.Store {
	return e.graphStore
}

// Close releases every backend connection the engine holds. Safe to call on
// a partially constructed engine.
func (e *Engine) Close(ctx context.Context) error {
	var firstErr error
	if e.vectorStore != nil {
		if err := e.vectorStore.Close(); err != nil {
			firstErr = err
		}
	}
	if e.graphStore != nil {
		if err := e.graphStore.Close(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if e.cache != nil {
		if err := e.cache.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
