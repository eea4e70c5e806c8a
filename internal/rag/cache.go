package rag

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// DefaultCacheTTL bounds how long cached embeddings live.
const DefaultCacheTTL = 24 * time.Hour

// CachedEmbedder wraps an Embedder with a Redis cache keyed by embedding
// model and text digest, so repeated queries and re-indexed chunks skip the
// provider. Cache failures degrade to direct embedding calls, never to
// request failures.
type CachedEmbedder struct {
	inner  Embedder
	client *redis.Client
	model  string
	ttl    time.Duration
	logger zerolog.Logger
}

// NewCachedEmbedder creates a caching wrapper around inner. The model name
// participates in cache keys so vectors from different models never collide.
func NewCachedEmbedder(inner Embedder, client *redis.Client, model string, ttl time.Duration, logger zerolog.Logger) (*CachedEmbedder, error) {
	if inner == nil {
		return nil, fmt.Errorf("embedder cannot be nil")
	}
	if client == nil {
		return nil, fmt.Errorf("redis client cannot be nil")
	}
	if model == "" {
		return nil, fmt.Errorf("model cannot be empty")
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}

	return &CachedEmbedder{
		inner:  inner,
		client: client,
		model:  model,
		ttl:    ttl,
		logger: logger,
	}, nil
}

// Embed returns one vector per text, serving hits from Redis and delegating
// misses to the wrapped embedder in a single batch.
func (c *CachedEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	keys := make([]string, len(texts))
	for i, text := range texts {
		keys[i] = c.key(text)
	}

	cached, err := c.client.MGet(ctx, keys...).Result()
	if err != nil {
		c.logger.Warn().Err(err).Msg("embedding cache read failed, falling back to provider")
		return c.inner.Embed(ctx, texts)
	}

	vectors := make([][]float32, len(texts))
	var missIndexes []int
	var missTexts []string
	for i, raw := range cached {
		payload, ok := raw.(string)
		if ok {
			var vec []float32
			if err := json.Unmarshal([]byte(payload), &vec); err == nil && len(vec) > 0 {
				vectors[i] = vec
				continue
			}
		}
		missIndexes = append(missIndexes, i)
		missTexts = append(missTexts, texts[i])
	}

	if len(missIndexes) == 0 {
		return vectors, nil
	}

	fresh, err := c.inner.Embed(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	if len(fresh) != len(missTexts) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d texts", len(fresh), len(missTexts))
	}

	pipe := c.client.Pipeline()
	for j, i := range missIndexes {
		vectors[i] = fresh[j]
		if payload, err := json.Marshal(fresh[j]); err == nil {
			pipe.Set(ctx, keys[i], payload, c.ttl)
		}
	}
	if _, err := pipe.Exec(ctx); err != nil {
		c.logger.Warn().Err(err).Msg("embedding cache write failed")
	}

	return vectors, nil
}

func (c *CachedEmbedder) key(text string) string {
	digest := sha256.Sum256([]byte(text))
	return fmt.Sprintf("fable:embed:%s:%x", c.model, digest)
}
