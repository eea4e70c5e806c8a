// Package orchestrator drives generation requests through an explicit state
// machine: retrieval, graph expansion, context assembly, drafting, scoring,
// and bounded refinement. Every run terminates in DONE or FAILED; callers
// always receive a finalized GenerationResult unless the request itself is
// invalid.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/Yates-Labs/fable/internal/graph"
	"github.com/Yates-Labs/fable/internal/llm"
	"github.com/Yates-Labs/fable/internal/rag"
	"github.com/Yates-Labs/fable/internal/story"
)

// ErrInvalidTransition indicates a state machine edge that is not in the
// transition table. Hitting it is a programming error, not a runtime
// condition.
var ErrInvalidTransition = errors.New("invalid state transition")

// State names a stage of the generation state machine.
type State string

const (
	StatePlanning   State = "PLANNING"
	StateRetrieving State = "RETRIEVING"
	StateAssembling State = "ASSEMBLING"
	StateDrafting   State = "DRAFTING"
	StateScoring    State = "SCORING"
	StateRefining   State = "REFINING"
	StateAccepting  State = "ACCEPTING"
	StateDone       State = "DONE"
	StateFailed     State = "FAILED"
)

// validTransitions enumerates every legal state machine edge. DONE and
// FAILED are terminal.
var validTransitions = map[State][]State{
	StatePlanning:   {StateRetrieving, StateFailed},
	StateRetrieving: {StateAssembling, StateFailed},
	StateAssembling: {StateDrafting, StateFailed},
	StateDrafting:   {StateScoring, StateFailed},
	StateScoring:    {StateRefining, StateAccepting, StateFailed},
	StateRefining:   {StateDrafting, StateFailed},
	StateAccepting:  {StateDone},
	StateDone:       {},
	StateFailed:     {},
}

// CanTransition reports whether the state machine allows moving from one
// state to another.
func CanTransition(from, to State) bool {
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Retriever performs semantic passage retrieval scoped to a project.
type Retriever interface {
	Retrieve(ctx context.Context, query string, topK int, minSimilarity float64, opts *rag.SearchOptions) ([]rag.RetrievedPassage, error)
}

// Expander resolves entity mentions into bounded graph context.
type Expander interface {
	Expand(ctx context.Context, mentions []string, projectID string, maxHops, maxEntities int) (graph.Expansion, error)
}

// Assembler packs passages and entities into a token-bounded context.
type Assembler interface {
	Assemble(passages []rag.RetrievedPassage, expansion graph.Expansion, tokenBudget int) (story.AssembledContext, error)
}

// Drafter turns assembled context into candidate stories.
type Drafter interface {
	Draft(ctx context.Context, req story.GenerationRequest, assembled story.AssembledContext, prior *story.QualityAssessment, iteration int) ([]story.UserStoryCandidate, error)
}

// Scorer assesses one candidate against the quality rubric. Implementations
// degrade to a zero-score assessment instead of failing.
type Scorer interface {
	Score(ctx context.Context, candidate story.UserStoryCandidate) story.QualityAssessment
}

// Orchestrator executes generation runs. It holds no per-run state and is
// safe for concurrent use.
type Orchestrator struct {
	config    Config
	retriever Retriever
	expander  Expander
	assembler Assembler
	drafter   Drafter
	scorer    Scorer
	logger    zerolog.Logger
}

// New creates a new Orchestrator instance.
func New(config Config, retriever Retriever, expander Expander, assembler Assembler, drafter Drafter, scorer Scorer, logger zerolog.Logger) (*Orchestrator, error) {
	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid orchestrator config: %w", err)
	}
	if retriever == nil {
		return nil, fmt.Errorf("retriever cannot be nil")
	}
	if expander == nil {
		return nil, fmt.Errorf("expander cannot be nil")
	}
	if assembler == nil {
		return nil, fmt.Errorf("assembler cannot be nil")
	}
	if drafter == nil {
		return nil, fmt.Errorf("drafter cannot be nil")
	}
	if scorer == nil {
		return nil, fmt.Errorf("scorer cannot be nil")
	}

	return &Orchestrator{
		config:    config,
		retriever: retriever,
		expander:  expander,
		assembler: assembler,
		drafter:   drafter,
		scorer:    scorer,
		logger:    logger.With().Str("component", "orchestrator").Logger(),
	}, nil
}

// slot tracks one requested story through drafting, scoring, and refinement.
// Feedback is slot-local: a refinement only ever sees its own slot's prior
// assessment.
type slot struct {
	current  story.ScoredCandidate
	best     story.ScoredCandidate
	produced int  // scored candidates drafted for this slot
	pending  bool // current candidate has not been scored yet
	resolved bool
	accepted bool // resolved by clearing the quality threshold
	dead     bool // provider retries exhausted during refinement
}

// run holds the mutable state of a single generation run.
type run struct {
	req       story.GenerationRequest
	state     State
	logger    zerolog.Logger
	assembled story.AssembledContext
	slots     []*slot
	iteration int  // iteration number of the latest drafting call
	ready     bool // retrieval and assembly completed
	llmDead   bool // some slot exhausted its provider retries
}

// to moves the run to the next state, enforcing the transition table.
func (r *run) to(next State) error {
	if !CanTransition(r.state, next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, r.state, next)
	}
	r.logger.Debug().Str("from", string(r.state)).Str("state", string(next)).Msg("Stage transition")
	r.state = next
	return nil
}

func (r *run) activeSlots() []*slot {
	var active []*slot
	for _, s := range r.slots {
		if !s.resolved && !s.dead {
			active = append(active, s)
		}
	}
	return active
}

func (r *run) pendingSlots() []*slot {
	var pending []*slot
	for _, s := range r.slots {
		if s.pending {
			pending = append(pending, s)
		}
	}
	return pending
}

// Run drives one generation request through the state machine. Fatal
// validation errors return before any stage executes, with no result. A
// cancelled run still finalizes a result from the progress made and returns
// the context error alongside it. Every other outcome, including failed
// retrieval and exhausted providers, is reported through the result's
// terminated reason with a nil error.
func (o *Orchestrator) Run(ctx context.Context, req story.GenerationRequest) (story.GenerationResult, error) {
	if err := req.Validate(); err != nil {
		return story.GenerationResult{}, err
	}
	req = req.Normalized()
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	r := &run{
		req:    req,
		state:  StatePlanning,
		logger: o.logger.With().Str("request_id", req.ID).Str("project_id", req.ProjectID).Logger(),
	}
	r.logger.Info().
		Str("state", string(StatePlanning)).
		Int("max_stories", req.MaxStories).
		Float64("quality_threshold", req.QualityThreshold).
		Msg("Starting generation run")

	queries := deriveQueries(req)
	mentions := extractMentions(req)
	r.logger.Info().
		Str("state", string(StatePlanning)).
		Int("queries", len(queries)).
		Int("mentions", len(mentions)).
		Msg("Derived retrieval queries and entity mentions")

	if err := ctx.Err(); err != nil {
		return o.finalizeCancelled(r, err)
	}
	if err := r.to(StateRetrieving); err != nil {
		return story.GenerationResult{}, err
	}
	passages, err := o.retrievePassages(ctx, r, queries)
	if err != nil {
		if ctx.Err() != nil {
			return o.finalizeCancelled(r, ctx.Err())
		}
		return o.finalizeFailed(r, story.TerminationRetrievalUnavailable, err)
	}
	expansion, err := o.expandMentions(ctx, r, mentions)
	if err != nil {
		if ctx.Err() != nil {
			return o.finalizeCancelled(r, ctx.Err())
		}
		return o.finalizeFailed(r, story.TerminationRetrievalUnavailable, err)
	}

	if err := ctx.Err(); err != nil {
		return o.finalizeCancelled(r, err)
	}
	if err := r.to(StateAssembling); err != nil {
		return story.GenerationResult{}, err
	}
	r.assembled, err = o.assembler.Assemble(passages, expansion, o.config.TokenBudget)
	if err != nil {
		return o.finalizeFailed(r, story.TerminationRetrievalUnavailable, err)
	}
	r.ready = true
	r.logger.Info().
		Str("state", string(StateAssembling)).
		Int("passages", len(r.assembled.Passages)).
		Int("entities", len(r.assembled.Entities)).
		Int("tokens_used", r.assembled.TokenBudgetUsed).
		Bool("truncated", r.assembled.WasTruncated).
		Msg("Assembled generation context")

	if err := ctx.Err(); err != nil {
		return o.finalizeCancelled(r, err)
	}
	if err := r.to(StateDrafting); err != nil {
		return story.GenerationResult{}, err
	}
	if err := o.draftInitial(ctx, r); err != nil {
		if ctx.Err() != nil {
			return o.finalizeCancelled(r, ctx.Err())
		}
		return o.finalizeFailed(r, story.TerminationLLMFailure, err)
	}

	if err := r.to(StateScoring); err != nil {
		return story.GenerationResult{}, err
	}
	if err := o.scoreSlots(ctx, r); err != nil {
		return o.finalizeCancelled(r, err)
	}
	resolveCleared(r)

	for len(r.activeSlots()) > 0 && r.iteration <= o.config.MaxRefinementIterations {
		if err := ctx.Err(); err != nil {
			return o.finalizeCancelled(r, err)
		}
		if err := r.to(StateRefining); err != nil {
			return story.GenerationResult{}, err
		}
		if err := r.to(StateDrafting); err != nil {
			return story.GenerationResult{}, err
		}
		r.iteration++
		if err := o.refineSlots(ctx, r); err != nil {
			return o.finalizeCancelled(r, err)
		}

		if err := r.to(StateScoring); err != nil {
			return story.GenerationResult{}, err
		}
		if err := o.scoreSlots(ctx, r); err != nil {
			return o.finalizeCancelled(r, err)
		}
		resolveCleared(r)

		if r.llmDead {
			break
		}
	}

	return o.finalizeResolved(r)
}

// retrievePassages runs every planned query through the retriever and merges
// the results into one ranked, deduplicated list. Failures are retried with
// backoff; exhaustion aborts the run.
func (o *Orchestrator) retrievePassages(ctx context.Context, r *run, queries []string) ([]rag.RetrievedPassage, error) {
	opts := &rag.SearchOptions{ProjectID: r.req.ProjectID}
	lists := make([][]rag.RetrievedPassage, 0, len(queries))
	for _, query := range queries {
		var passages []rag.RetrievedPassage
		err := withRetries(ctx, r.logger, o.config.StageRetries, o.config.RetryBaseDelay, func(attemptCtx context.Context) (bool, error) {
			callCtx, cancel := context.WithTimeout(attemptCtx, o.config.StageTimeout)
			defer cancel()
			var err error
			passages, err = o.retriever.Retrieve(callCtx, query, o.config.TopK, o.config.MinSimilarity, opts)
			return err != nil, err
		})
		if err != nil {
			r.logger.Error().Err(err).Str("state", string(StateRetrieving)).Msg("Retrieval failed after retries")
			return nil, err
		}
		lists = append(lists, passages)
	}

	merged := mergePassages(lists, o.config.TopK)
	r.logger.Info().
		Str("state", string(StateRetrieving)).
		Int("queries", len(queries)).
		Int("passages", len(merged)).
		Msg("Retrieved context passages")
	return merged, nil
}

// expandMentions resolves mentions into bounded graph context. An empty
// mention set skips the graph store entirely.
func (o *Orchestrator) expandMentions(ctx context.Context, r *run, mentions []string) (graph.Expansion, error) {
	if len(mentions) == 0 {
		return graph.Expansion{}, nil
	}

	var expansion graph.Expansion
	err := withRetries(ctx, r.logger, o.config.StageRetries, o.config.RetryBaseDelay, func(attemptCtx context.Context) (bool, error) {
		callCtx, cancel := context.WithTimeout(attemptCtx, o.config.StageTimeout)
		defer cancel()
		var err error
		expansion, err = o.expander.Expand(callCtx, mentions, r.req.ProjectID, o.config.MaxHops, o.config.MaxEntities)
		return err != nil, err
	})
	if err != nil {
		r.logger.Error().Err(err).Str("state", string(StateRetrieving)).Msg("Graph expansion failed after retries")
		return graph.Expansion{}, err
	}

	r.logger.Info().
		Str("state", string(StateRetrieving)).
		Int("entities", len(expansion.Entities)).
		Bool("truncated", expansion.Truncated).
		Msg("Expanded graph context")
	return expansion, nil
}

// draftInitial produces the first candidate set. Malformed output is
// re-drafted against the refinement iteration budget; exhausted provider
// retries and an exhausted budget both abort the run.
func (o *Orchestrator) draftInitial(ctx context.Context, r *run) error {
	for {
		r.iteration++
		candidates, err := o.draftOnce(ctx, r, r.req, nil)
		if err == nil {
			r.logger.Info().
				Str("state", string(StateDrafting)).
				Int("iteration", r.iteration).
				Int("candidates", len(candidates)).
				Msg("Drafted story candidates")
			r.slots = make([]*slot, len(candidates))
			for i, c := range candidates {
				r.slots[i] = &slot{current: story.ScoredCandidate{Candidate: c}, pending: true}
			}
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, llm.ErrProviderFailed) {
			r.logger.Error().Err(err).Int("iteration", r.iteration).Msg("Drafting failed after retries")
			return err
		}
		if r.iteration > o.config.MaxRefinementIterations {
			r.logger.Error().Err(err).Int("iteration", r.iteration).Msg("Drafting budget exhausted without a parseable draft")
			return err
		}
		r.logger.Warn().Err(err).Int("iteration", r.iteration).Msg("Draft was malformed, re-drafting")
	}
}

// draftOnce makes one drafting call. Transient provider failures are retried
// with backoff inside the call; malformed output is returned to the caller
// so it can be counted against the iteration budget.
func (o *Orchestrator) draftOnce(ctx context.Context, r *run, req story.GenerationRequest, prior *story.QualityAssessment) ([]story.UserStoryCandidate, error) {
	var candidates []story.UserStoryCandidate
	err := withRetries(ctx, r.logger, o.config.StageRetries, o.config.RetryBaseDelay, func(attemptCtx context.Context) (bool, error) {
		callCtx, cancel := context.WithTimeout(attemptCtx, o.config.StageTimeout)
		defer cancel()
		var err error
		candidates, err = o.drafter.Draft(callCtx, req, r.assembled, prior, r.iteration)
		return err != nil && errors.Is(err, llm.ErrProviderFailed), err
	})
	return candidates, err
}

// refineSlots re-drafts every unresolved slot with its own prior assessment
// as feedback, concurrently when several slots are active. A malformed
// re-draft keeps the slot's previous candidate and burns the iteration;
// exhausted provider retries mark the slot dead so the run finalizes as an
// llm failure. Only cancellation is returned as an error.
func (o *Orchestrator) refineSlots(ctx context.Context, r *run) error {
	g, draftCtx := errgroup.WithContext(ctx)
	for _, s := range r.activeSlots() {
		g.Go(func() error {
			if err := draftCtx.Err(); err != nil {
				return err
			}

			refineReq := r.req
			refineReq.MaxStories = 1
			prior := s.current.Assessment
			drafted, err := o.draftOnce(draftCtx, r, refineReq, &prior)
			if err != nil {
				if draftCtx.Err() != nil {
					return draftCtx.Err()
				}
				if errors.Is(err, llm.ErrProviderFailed) {
					r.logger.Error().Err(err).
						Str("candidate_id", s.current.Candidate.ID).
						Int("iteration", r.iteration).
						Msg("Refinement drafting failed after retries")
					s.dead = true
					return nil
				}
				r.logger.Warn().Err(err).
					Str("candidate_id", s.current.Candidate.ID).
					Int("iteration", r.iteration).
					Msg("Refined draft was malformed, iteration burned")
				return nil
			}

			s.current = story.ScoredCandidate{Candidate: drafted[0]}
			s.pending = true
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for _, s := range r.slots {
		if s.dead {
			r.llmDead = true
		}
	}
	return nil
}

// scoreSlots assesses every pending candidate, concurrently when more than
// one is waiting. Scoring never fails the run: degraded assessments score
// zero and fall below any threshold. Only cancellation is returned as an
// error.
func (o *Orchestrator) scoreSlots(ctx context.Context, r *run) error {
	pending := r.pendingSlots()
	if len(pending) == 0 {
		return nil
	}

	g, scoreCtx := errgroup.WithContext(ctx)
	for _, s := range pending {
		g.Go(func() error {
			if err := scoreCtx.Err(); err != nil {
				return err
			}

			callCtx, cancel := context.WithTimeout(scoreCtx, o.config.StageTimeout)
			defer cancel()
			assessment := o.scorer.Score(callCtx, s.current.Candidate)

			s.current.Assessment = assessment
			s.pending = false
			s.produced++
			if s.best.Candidate.ID == "" || assessment.OverallScore > s.best.Assessment.OverallScore {
				s.best = s.current
			}

			r.logger.Info().
				Str("state", string(StateScoring)).
				Str("candidate_id", s.current.Candidate.ID).
				Int("iteration", s.current.Candidate.IterationNumber).
				Float64("score", assessment.OverallScore).
				Str("risk", string(assessment.RiskLevel)).
				Msg("Scored candidate")
			return nil
		})
	}
	return g.Wait()
}

// resolveCleared marks slots whose latest assessment clears the quality
// threshold.
func resolveCleared(r *run) {
	for _, s := range r.slots {
		if s.resolved || s.pending {
			continue
		}
		if s.current.Assessment.OverallScore >= r.req.QualityThreshold {
			s.resolved = true
			s.accepted = true
		}
	}
}

// finalizeResolved resolves any leftover slot to its best-seen candidate
// and completes the run. A best candidate is never discarded even when it
// missed the threshold on every iteration.
func (o *Orchestrator) finalizeResolved(r *run) (story.GenerationResult, error) {
	capExhausted := false
	for _, s := range r.slots {
		if s.resolved {
			continue
		}
		s.current = s.best
		s.resolved = true
		if !s.dead {
			capExhausted = true
		}
	}

	reason := story.TerminationThresholdMet
	switch {
	case r.llmDead:
		reason = story.TerminationLLMFailure
	case capExhausted:
		reason = story.TerminationMaxIterations
	}
	return o.complete(r, reason)
}

// finalizeCancelled finalizes a cancelled run from the progress made:
// resolved candidates are delivered, unresolved slots fall back to their
// best attempt, and the terminated reason reflects the furthest completed
// stage. The context error is returned alongside the finalized result.
func (o *Orchestrator) finalizeCancelled(r *run, cause error) (story.GenerationResult, error) {
	resolveCleared(r)

	scored := 0
	for _, s := range r.slots {
		scored += s.produced
	}
	if scored == 0 {
		reason := story.TerminationLLMFailure
		if !r.ready {
			reason = story.TerminationRetrievalUnavailable
		}
		result, err := o.finalizeFailed(r, reason, cause)
		if err != nil {
			return result, err
		}
		return result, cause
	}

	allAccepted := true
	for _, s := range r.slots {
		if !s.resolved && s.produced > 0 {
			s.current = s.best
			s.resolved = true
		}
		if s.produced > 0 && !s.accepted {
			allAccepted = false
		}
	}
	reason := story.TerminationMaxIterations
	if allAccepted {
		reason = story.TerminationThresholdMet
	}

	// A cancelled refinement pass leaves the run mid-DRAFTING; the scoring
	// stage completes vacuously on the way out, same as a pass with nothing
	// pending.
	if r.state == StateDrafting {
		if err := r.to(StateScoring); err != nil {
			return story.GenerationResult{}, err
		}
	}
	result, err := o.complete(r, reason)
	if err != nil {
		return result, err
	}
	return result, cause
}

// finalizeFailed terminates the run in FAILED with an empty candidate set.
func (o *Orchestrator) finalizeFailed(r *run, reason story.TerminationReason, cause error) (story.GenerationResult, error) {
	r.logger.Error().
		Err(cause).
		Str("from", string(r.state)).
		Str("reason", string(reason)).
		Msg("Generation run failed")
	if err := r.to(StateFailed); err != nil {
		return story.GenerationResult{}, err
	}
	return story.GenerationResult{
		RequestID:   r.req.ID,
		ProjectID:   r.req.ProjectID,
		Reason:      reason,
		CompletedAt: time.Now().UTC(),
	}, nil
}

// complete moves the run through ACCEPTING into DONE and builds the result.
// Accepted candidates keep slot order, which is the drafting order of the
// initial iteration. Each slot contributes its superseded candidate count to
// the rejected total.
func (o *Orchestrator) complete(r *run, reason story.TerminationReason) (story.GenerationResult, error) {
	if err := r.to(StateAccepting); err != nil {
		return story.GenerationResult{}, err
	}

	accepted := make([]story.ScoredCandidate, 0, len(r.slots))
	rejected := 0
	for _, s := range r.slots {
		if s.produced == 0 {
			continue
		}
		accepted = append(accepted, s.current)
		rejected += s.produced - 1
	}

	result := story.GenerationResult{
		RequestID:        r.req.ID,
		ProjectID:        r.req.ProjectID,
		Accepted:         accepted,
		RejectedAttempts: rejected,
		Reason:           reason,
		CompletedAt:      time.Now().UTC(),
	}
	if err := r.to(StateDone); err != nil {
		return story.GenerationResult{}, err
	}

	r.logger.Info().
		Str("state", string(StateDone)).
		Str("reason", string(reason)).
		Int("accepted", len(accepted)).
		Int("rejected_attempts", rejected).
		Msg("Generation run complete")
	return result, nil
}

// deriveQueries returns the retrieval queries for a request: the raw
// requirements text always, plus the additional context when present.
func deriveQueries(req story.GenerationRequest) []string {
	queries := []string{req.RequirementsText}
	if extra := strings.TrimSpace(req.AdditionalContext); extra != "" {
		queries = append(queries, extra)
	}
	return queries
}

// mergePassages folds per-query retrieval results into a single ranked list:
// deduplicated by source and text with the highest similarity winning,
// ordered by similarity descending, cut to topK, and re-ranked from 1.
func mergePassages(lists [][]rag.RetrievedPassage, topK int) []rag.RetrievedPassage {
	type key struct{ source, text string }
	best := make(map[key]rag.RetrievedPassage)
	for _, list := range lists {
		for _, p := range list {
			k := key{p.SourceID, p.Text}
			if cur, ok := best[k]; !ok || p.SimilarityScore > cur.SimilarityScore {
				best[k] = p
			}
		}
	}

	merged := make([]rag.RetrievedPassage, 0, len(best))
	for _, p := range best {
		merged = append(merged, p)
	}
	sort.Slice(merged, func(i, j int) bool {
		if merged[i].SimilarityScore != merged[j].SimilarityScore {
			return merged[i].SimilarityScore > merged[j].SimilarityScore
		}
		if merged[i].SourceID != merged[j].SourceID {
			return merged[i].SourceID < merged[j].SourceID
		}
		return merged[i].Text < merged[j].Text
	})
	if len(merged) > topK {
		merged = merged[:topK]
	}
	for i := range merged {
		merged[i].Rank = i + 1
	}
	return merged
}

// mentionStopwords are words that never form an entity mention on their own
// and are stripped from the front of capitalized runs.
var mentionStopwords = map[string]bool{
	"a": true, "an": true, "the": true, "and": true, "or": true, "but": true,
	"as": true, "at": true, "by": true, "for": true, "from": true, "in": true,
	"into": true, "of": true, "on": true, "to": true, "via": true, "with": true,
	"all": true, "any": true, "each": true, "every": true, "must": true,
	"should": true, "can": true, "could": true, "may": true, "will": true,
	"would": true, "shall": true, "when": true, "where": true, "while": true,
	"if": true, "then": true, "this": true, "that": true, "these": true,
	"those": true, "it": true, "its": true, "be": true, "is": true,
	"are": true, "was": true, "were": true, "so": true, "not": true,
	"no": true, "they": true, "their": true, "there": true, "after": true,
	"before": true, "once": true, "only": true, "also": true, "we": true,
	"i": true, "you": true, "our": true, "new": true, "note": true,
}

// extractMentions pulls candidate entity names from the request: the persona
// first, then runs of capitalized words ("Password Reset", "Checkout") in
// order of first appearance. Leading stopwords are stripped from each run
// and a single capitalized word opening a sentence is treated as sentence
// syntax, not a name. Deduplication is case-insensitive and order
// preserving. Mentions that resolve to nothing are dropped later by the
// graph expansion, so over-extraction is harmless.
func extractMentions(req story.GenerationRequest) []string {
	seen := make(map[string]bool)
	var mentions []string
	add := func(m string) {
		m = strings.TrimSpace(m)
		key := strings.ToLower(m)
		if m == "" || seen[key] {
			return
		}
		seen[key] = true
		mentions = append(mentions, m)
	}

	if p := strings.TrimSpace(req.Persona); p != "" {
		add(p)
	}

	var (
		runWords []string
		runLeads bool // run begins a sentence
		atStart  = true
	)
	flush := func() {
		words := runWords
		runWords = nil
		for len(words) > 0 && mentionStopwords[strings.ToLower(words[0])] {
			words = words[1:]
			runLeads = false
		}
		if len(words) == 0 {
			return
		}
		if len(words) == 1 && runLeads {
			return
		}
		add(strings.Join(words, " "))
	}

	text := req.RequirementsText + " " + req.AdditionalContext
	for _, word := range strings.Fields(text) {
		trimmed := strings.Trim(word, ".,;:!?()[]{}'\"`")
		if isCapitalized(trimmed) {
			if len(runWords) == 0 {
				runLeads = atStart
			}
			runWords = append(runWords, trimmed)
		} else {
			flush()
		}
		atStart = strings.ContainsAny(word, ".!?")
	}
	flush()

	return mentions
}

// isCapitalized reports whether a word starts with an uppercase letter
// followed by a lowercase one, the shape of a name rather than an acronym
// or shouting.
func isCapitalized(word string) bool {
	runes := []rune(word)
	if len(runes) < 2 {
		return false
	}
	return unicode.IsUpper(runes[0]) && unicode.IsLower(runes[1])
}
