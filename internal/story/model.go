// Package story holds the user story domain model and the two model-facing
// stages that produce and evaluate candidates: drafting and INVEST scoring.
// Context assembly for prompts lives here too, since its output shape is part
// of the drafting contract.
package story

import (
	"errors"
	"fmt"
	"time"

	"github.com/Yates-Labs/fable/internal/graph"
	"github.com/Yates-Labs/fable/internal/rag"
)

var (
	ErrInvalidRequest = errors.New("invalid generation request")
)

// Defaults applied by GenerationRequest.Normalized.
const (
	DefaultMaxStories       = 1
	MaxStoriesCap           = 10
	DefaultQualityThreshold = 7.0
)

// GenerationRequest describes one story generation job. It is immutable once
// submitted; the orchestrator works on a normalized copy.
type GenerationRequest struct {
	// ID is the caller-assigned request identifier (uuid) used for audit
	ID string `json:"id"`

	// ProjectID scopes retrieval and graph lookups
	ProjectID string `json:"project_id"`

	// RequirementsText is the raw requirements to convert into stories
	RequirementsText string `json:"requirements_text"`

	// Persona optionally fixes the story persona; empty lets the model choose
	Persona string `json:"persona,omitempty"`

	// AdditionalContext is free-form caller-supplied background
	AdditionalContext string `json:"additional_context,omitempty"`

	// MaxStories bounds how many candidates one drafting call may produce
	MaxStories int `json:"max_stories,omitempty"`

	// QualityThreshold is the minimum overall score for acceptance
	QualityThreshold float64 `json:"quality_threshold,omitempty"`
}

// Validate rejects requests that can never produce a result.
func (r GenerationRequest) Validate() error {
	if r.RequirementsText == "" {
		return fmt.Errorf("%w: requirements text is required", ErrInvalidRequest)
	}
	if r.ProjectID == "" {
		return fmt.Errorf("%w: project ID is required", ErrInvalidRequest)
	}
	return nil
}

// Normalized returns a copy with defaults filled in and MaxStories capped.
func (r GenerationRequest) Normalized() GenerationRequest {
	if r.MaxStories <= 0 {
		r.MaxStories = DefaultMaxStories
	}
	if r.MaxStories > MaxStoriesCap {
		r.MaxStories = MaxStoriesCap
	}
	if r.QualityThreshold <= 0 {
		r.QualityThreshold = DefaultQualityThreshold
	}
	return r
}

// AssembledContext is the token-bounded context handed to the drafting stage.
// Passages keep retrieval rank order; entities are ordered by relation count.
type AssembledContext struct {
	Passages []rag.RetrievedPassage `json:"passages"`
	Entities []graph.EntityContext  `json:"entities"`

	// TokenBudgetUsed counts the tokens consumed by passages and entities
	TokenBudgetUsed int `json:"token_budget_used"`

	// WasTruncated is set when the top passage had to be cut to fit the budget
	WasTruncated bool `json:"was_truncated"`

	// EntitiesTruncated carries the truncation flag from graph expansion
	EntitiesTruncated bool `json:"entities_truncated"`
}

// UserStoryCandidate is one drafted story. Refinement produces a new
// candidate; existing ones are never mutated.
type UserStoryCandidate struct {
	ID                 string    `json:"id"`
	Title              string    `json:"title"`
	Persona            string    `json:"persona"`
	Want               string    `json:"want"`
	Benefit            string    `json:"benefit"`
	StoryText          string    `json:"story_text"`
	AcceptanceCriteria []string  `json:"acceptance_criteria"`
	IterationNumber    int       `json:"iteration_number"`
	GeneratedAt        time.Time `json:"generated_at"`
}

// FormatStoryText renders the canonical story sentence.
func FormatStoryText(persona, want, benefit string) string {
	return fmt.Sprintf("As a %s, I want %s so that %s.", persona, want, benefit)
}

// InvestCriteria lists the six scoring dimensions in canonical order.
var InvestCriteria = []string{
	"independent",
	"negotiable",
	"valuable",
	"estimable",
	"small",
	"testable",
}

// RiskLevel classifies how risky shipping a story as-is would be.
type RiskLevel string

const (
	RiskLow     RiskLevel = "low"
	RiskMedium  RiskLevel = "medium"
	RiskHigh    RiskLevel = "high"
	RiskUnknown RiskLevel = "unknown"
)

// QualityAssessment is the scorer's verdict on one candidate.
type QualityAssessment struct {
	// InvestScores maps each criterion to a 0-10 score
	InvestScores map[string]float64 `json:"invest_scores"`

	// OverallScore is the unweighted mean of the six scores, one decimal
	OverallScore float64 `json:"overall_score"`

	Feedback    []string  `json:"feedback"`
	Suggestions []string  `json:"suggestions"`
	RiskLevel   RiskLevel `json:"risk_level"`
}

// ScoredCandidate pairs a candidate with its assessment.
type ScoredCandidate struct {
	Candidate  UserStoryCandidate `json:"candidate"`
	Assessment QualityAssessment  `json:"assessment"`
}

// TerminationReason records why a run finished.
type TerminationReason string

const (
	TerminationThresholdMet         TerminationReason = "threshold_met"
	TerminationMaxIterations        TerminationReason = "max_iterations"
	TerminationLLMFailure           TerminationReason = "llm_failure"
	TerminationRetrievalUnavailable TerminationReason = "retrieval_unavailable"
)

// GenerationResult is the single output of a run. Callers always receive one
// unless the request itself was invalid.
type GenerationResult struct {
	RequestID string `json:"request_id"`
	ProjectID string `json:"project_id"`

	// Accepted holds candidate/assessment pairs in acceptance order
	Accepted []ScoredCandidate `json:"accepted"`

	// RejectedAttempts counts superseded below-threshold iterations
	RejectedAttempts int `json:"rejected_attempts_count"`

	Reason      TerminationReason `json:"terminated_reason"`
	CompletedAt time.Time         `json:"completed_at"`
}
