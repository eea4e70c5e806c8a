package orchestrator

import (
	"fmt"
	"time"
)

// Config holds the tuning knobs for generation runs.
type Config struct {
	// TopK is the number of passages retrieved per query
	TopK int

	// MinSimilarity is the similarity floor below which passages are discarded
	MinSimilarity float64

	// MaxHops bounds the graph neighborhood expansion depth
	MaxHops int

	// MaxEntities bounds the number of entities included in the context (0 = unbounded)
	MaxEntities int

	// TokenBudget caps the token size of the assembled context
	TokenBudget int

	// MaxRefinementIterations bounds how many times a rejected draft is reworked
	MaxRefinementIterations int

	// StageRetries is the number of attempts for transient stage failures
	StageRetries int

	// RetryBaseDelay is the base delay for exponential backoff between attempts
	RetryBaseDelay time.Duration

	// StageTimeout bounds every external call made by a stage
	StageTimeout time.Duration
}

// DefaultConfig returns sensible defaults for the generation pipeline.
func DefaultConfig() Config {
	return Config{
		TopK:                    5,
		MinSimilarity:           0.7,
		MaxHops:                 2,
		MaxEntities:             20,
		TokenBudget:             3000,
		MaxRefinementIterations: 3,
		StageRetries:            3,
		RetryBaseDelay:          time.Second,
		StageTimeout:            120 * time.Second,
	}
}

// validate rejects configurations that would make a run misbehave rather
// than merely perform badly.
func (c Config) validate() error {
	if c.TopK <= 0 {
		return fmt.Errorf("top K must be positive, got %d", c.TopK)
	}
	if c.MinSimilarity < 0 || c.MinSimilarity > 1 {
		return fmt.Errorf("min similarity must be in [0, 1], got %g", c.MinSimilarity)
	}
	if c.MaxHops < 0 {
		return fmt.Errorf("max hops cannot be negative, got %d", c.MaxHops)
	}
	if c.MaxEntities < 0 {
		return fmt.Errorf("max entities cannot be negative, got %d", c.MaxEntities)
	}
	if c.TokenBudget <= 0 {
		return fmt.Errorf("token budget must be positive, got %d", c.TokenBudget)
	}
	if c.MaxRefinementIterations < 0 {
		return fmt.Errorf("max refinement iterations cannot be negative, got %d", c.MaxRefinementIterations)
	}
	if c.StageRetries < 1 {
		return fmt.Errorf("stage retries must be at least 1, got %d", c.StageRetries)
	}
	if c.RetryBaseDelay <= 0 {
		return fmt.Errorf("retry base delay must be positive, got %s", c.RetryBaseDelay)
	}
	if c.StageTimeout <= 0 {
		return fmt.Errorf("stage timeout must be positive, got %s", c.StageTimeout)
	}
	return nil
}
