package orchestrator

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/Yates-Labs/fable/internal/story"
)

// Runner executes a single generation request. *Orchestrator implements it.
type Runner interface {
	Run(ctx context.Context, req story.GenerationRequest) (story.GenerationResult, error)
}

// RunOutcome pairs one request with what its run produced.
type RunOutcome struct {
	Request story.GenerationRequest
	Result  story.GenerationResult
	Err     error
}

// Pool fans generation requests out to a bounded set of workers, one run per
// worker. Runs share no mutable state, so the only coordination is the
// worker limit.
type Pool struct {
	runner  Runner
	workers int
	logger  zerolog.Logger
}

// NewPool creates a new Pool instance. A worker count below one is raised
// to one.
func NewPool(runner Runner, workers int, logger zerolog.Logger) (*Pool, error) {
	if runner == nil {
		return nil, fmt.Errorf("runner cannot be nil")
	}
	if workers < 1 {
		workers = 1
	}
	return &Pool{
		runner:  runner,
		workers: workers,
		logger:  logger.With().Str("component", "pool").Logger(),
	}, nil
}

// RunAll executes every request through the pool and returns one outcome per
// request, in input order regardless of completion order. Individual run
// failures are recorded in their outcome slot and never abort the batch.
func (p *Pool) RunAll(ctx context.Context, reqs []story.GenerationRequest) []RunOutcome {
	outcomes := make([]RunOutcome, len(reqs))
	if len(reqs) == 0 {
		return outcomes
	}

	p.logger.Info().Int("requests", len(reqs)).Int("workers", p.workers).Msg("Dispatching generation batch")

	g := new(errgroup.Group)
	g.SetLimit(p.workers)
	for i := range reqs {
		g.Go(func() error {
			result, err := p.runner.Run(ctx, reqs[i])
			outcomes[i] = RunOutcome{Request: reqs[i], Result: result, Err: err}
			return nil
		})
	}
	// Per-run failures live in their outcome slot, never group-fatal.
	_ = g.Wait()

	p.logger.Info().Int("requests", len(reqs)).Msg("Generation batch complete")
	return outcomes
}
