package story

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Yates-Labs/fable/internal/llm"
)

var (
	ErrGenerationFailed = errors.New("story generation failed")
)

// Generation parameters for the drafting call.
const (
	DraftTemperature = 0.7
	DraftMaxTokens   = 3000
)

// Drafter turns an assembled context into user story candidates with a
// single provider call per invocation.
type Drafter struct {
	client llm.Client
}

// NewDrafter creates a drafting stage backed by the given model client.
func NewDrafter(client llm.Client) (*Drafter, error) {
	if client == nil {
		return nil, fmt.Errorf("client cannot be nil")
	}
	return &Drafter{client: client}, nil
}

// draftStory mirrors the JSON shape the drafting prompt demands.
type draftStory struct {
	Title              string   `json:"title"`
	Persona            string   `json:"persona"`
	Want               string   `json:"want"`
	Benefit            string   `json:"benefit"`
	AcceptanceCriteria []string `json:"acceptance_criteria"`
}

// Draft produces 1..MaxStories candidates for the request.
//
// This function:
//  1. Builds the drafting prompt, folding in prior feedback when refining
//  2. Makes exactly one completion call
//  3. Parses and validates the JSON response into candidates
//
// Provider errors and unusable responses both come back as
// ErrGenerationFailed; the orchestrator decides whether to retry.
func (d *Drafter) Draft(ctx context.Context, req GenerationRequest, assembled AssembledContext, prior *QualityAssessment, iteration int) ([]UserStoryCandidate, error) {
	req = req.Normalized()

	prompt := BuildDraftPrompt(req, assembled, prior)

	text, err := d.client.Complete(ctx, prompt, llm.CompletionOptions{
		Temperature: DraftTemperature,
		MaxTokens:   DraftMaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: provider call failed: %w", ErrGenerationFailed, err)
	}

	drafts, err := parseDraftResponse(text)
	if err != nil {
		return nil, err
	}

	if len(drafts) > req.MaxStories {
		drafts = drafts[:req.MaxStories]
	}

	now := time.Now().UTC()
	candidates := make([]UserStoryCandidate, len(drafts))
	for i, ds := range drafts {
		persona := strings.TrimSpace(ds.Persona)
		if persona == "" {
			persona = req.Persona
		}
		if persona == "" {
			persona = "User"
		}

		want := strings.TrimSpace(ds.Want)
		benefit := strings.TrimSpace(ds.Benefit)

		candidates[i] = UserStoryCandidate{
			ID:                 uuid.NewString(),
			Title:              strings.TrimSpace(ds.Title),
			Persona:            persona,
			Want:               want,
			Benefit:            benefit,
			StoryText:          FormatStoryText(persona, want, benefit),
			AcceptanceCriteria: ds.AcceptanceCriteria,
			IterationNumber:    iteration,
			GeneratedAt:        now,
		}
	}

	return candidates, nil
}

// parseDraftResponse strips markdown fences and decodes the story array.
func parseDraftResponse(text string) ([]draftStory, error) {
	cleaned := strings.TrimSpace(text)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")
	cleaned = strings.TrimSpace(cleaned)

	var drafts []draftStory
	if err := json.Unmarshal([]byte(cleaned), &drafts); err != nil {
		return nil, fmt.Errorf("%w: response is not a JSON story array: %v", ErrGenerationFailed, err)
	}
	if len(drafts) == 0 {
		return nil, fmt.Errorf("%w: response contained no stories", ErrGenerationFailed)
	}

	for i, ds := range drafts {
		if strings.TrimSpace(ds.Want) == "" {
			return nil, fmt.Errorf("%w: story %d has empty story text", ErrGenerationFailed, i+1)
		}
		if len(ds.AcceptanceCriteria) == 0 {
			return nil, fmt.Errorf("%w: story %d has no acceptance criteria", ErrGenerationFailed, i+1)
		}
	}

	return drafts, nil
}
