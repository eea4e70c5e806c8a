package story

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/Yates-Labs/fable/internal/llm"
)

const validDraftResponse = `[
  {
    "title": "Reset password via email",
    "persona": "registered user",
    "want": "to reset my password through an emailed link",
    "benefit": "I can regain access without contacting support",
    "acceptance_criteria": ["A reset link is emailed within one minute", "Links expire after 24 hours"]
  },
  {
    "title": "See reset confirmation",
    "persona": "registered user",
    "want": "to see a confirmation after resetting",
    "benefit": "I know the change took effect",
    "acceptance_criteria": ["A confirmation page is shown"]
  }
]`

func draftRequest() GenerationRequest {
	return GenerationRequest{
		ID:               "req-1",
		ProjectID:        "p1",
		RequirementsText: "Users must be able to reset their password via email.",
		MaxStories:       2,
	}
}

func TestNewDrafter(t *testing.T) {
	if _, err := NewDrafter(nil); err == nil {
		t.Error("Expected error for nil client")
	}

	drafter, err := NewDrafter(llm.NewMockClient("x"))
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if drafter == nil {
		t.Fatal("Expected drafter instance")
	}
}

func TestDraft(t *testing.T) {
	ctx := context.Background()

	t.Run("Parses a well-formed response", func(t *testing.T) {
		mock := llm.NewMockClient(validDraftResponse)
		drafter, _ := NewDrafter(mock)

		candidates, err := drafter.Draft(ctx, draftRequest(), AssembledContext{}, nil, 1)
		if err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}

		if len(candidates) != 2 {
			t.Fatalf("Expected 2 candidates, got %d", len(candidates))
		}
		first := candidates[0]
		if first.ID == "" || first.ID == candidates[1].ID {
			t.Error("Expected distinct non-empty candidate IDs")
		}
		if first.Persona != "registered user" {
			t.Errorf("Expected persona from response, got %q", first.Persona)
		}
		expected := "As a registered user, I want to reset my password through an emailed link so that I can regain access without contacting support."
		if first.StoryText != expected {
			t.Errorf("Expected story text %q, got %q", expected, first.StoryText)
		}
		if len(first.AcceptanceCriteria) != 2 {
			t.Errorf("Expected 2 acceptance criteria, got %d", len(first.AcceptanceCriteria))
		}
		if first.IterationNumber != 1 {
			t.Errorf("Expected iteration 1, got %d", first.IterationNumber)
		}
		if first.GeneratedAt.IsZero() {
			t.Error("Expected generation timestamp")
		}
		if mock.CompleteCalls() != 1 {
			t.Errorf("Expected exactly one provider call, got %d", mock.CompleteCalls())
		}
	})

	t.Run("Markdown fences stripped", func(t *testing.T) {
		mock := llm.NewMockClient("```json\n" + validDraftResponse + "\n```")
		drafter, _ := NewDrafter(mock)

		candidates, err := drafter.Draft(ctx, draftRequest(), AssembledContext{}, nil, 1)
		if err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
		if len(candidates) != 2 {
			t.Errorf("Expected 2 candidates, got %d", len(candidates))
		}
	})

	t.Run("Persona falls back to request then User", func(t *testing.T) {
		response := `[{"title": "T", "want": "to do the thing", "benefit": "value", "acceptance_criteria": ["done"]}]`

		drafter, _ := NewDrafter(llm.NewMockClient(response))

		req := draftRequest()
		req.Persona = "admin"
		candidates, err := drafter.Draft(ctx, req, AssembledContext{}, nil, 1)
		if err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
		if candidates[0].Persona != "admin" {
			t.Errorf("Expected request persona, got %q", candidates[0].Persona)
		}

		req.Persona = ""
		candidates, err = drafter.Draft(ctx, req, AssembledContext{}, nil, 1)
		if err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
		if candidates[0].Persona != "User" {
			t.Errorf("Expected default persona User, got %q", candidates[0].Persona)
		}
	})

	t.Run("Caps candidates at MaxStories", func(t *testing.T) {
		drafter, _ := NewDrafter(llm.NewMockClient(validDraftResponse))

		req := draftRequest()
		req.MaxStories = 1
		candidates, err := drafter.Draft(ctx, req, AssembledContext{}, nil, 1)
		if err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
		if len(candidates) != 1 {
			t.Errorf("Expected 1 candidate, got %d", len(candidates))
		}
	})

	t.Run("Refinement feedback reaches the prompt", func(t *testing.T) {
		mock := llm.NewMockClient(validDraftResponse)
		drafter, _ := NewDrafter(mock)

		prior := &QualityAssessment{
			OverallScore: 4.0,
			Feedback:     []string{"Too broad to estimate."},
		}
		if _, err := drafter.Draft(ctx, draftRequest(), AssembledContext{}, prior, 2); err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}

		if !strings.Contains(mock.LastPrompt, "Too broad to estimate.") {
			t.Error("Expected prior feedback in the prompt")
		}
	})

	t.Run("Provider error", func(t *testing.T) {
		drafter, _ := NewDrafter(llm.NewMockClientWithError(llm.ErrProviderFailed))

		_, err := drafter.Draft(ctx, draftRequest(), AssembledContext{}, nil, 1)
		if !errors.Is(err, ErrGenerationFailed) {
			t.Errorf("Expected ErrGenerationFailed, got: %v", err)
		}
	})

	t.Run("Unparsable response", func(t *testing.T) {
		drafter, _ := NewDrafter(llm.NewMockClient("here are your stories!"))

		_, err := drafter.Draft(ctx, draftRequest(), AssembledContext{}, nil, 1)
		if !errors.Is(err, ErrGenerationFailed) {
			t.Errorf("Expected ErrGenerationFailed, got: %v", err)
		}
	})

	t.Run("Empty story array", func(t *testing.T) {
		drafter, _ := NewDrafter(llm.NewMockClient("[]"))

		_, err := drafter.Draft(ctx, draftRequest(), AssembledContext{}, nil, 1)
		if !errors.Is(err, ErrGenerationFailed) {
			t.Errorf("Expected ErrGenerationFailed, got: %v", err)
		}
	})

	t.Run("Missing acceptance criteria", func(t *testing.T) {
		response := `[{"title": "T", "persona": "user", "want": "something", "benefit": "value", "acceptance_criteria": []}]`
		drafter, _ := NewDrafter(llm.NewMockClient(response))

		_, err := drafter.Draft(ctx, draftRequest(), AssembledContext{}, nil, 1)
		if !errors.Is(err, ErrGenerationFailed) {
			t.Errorf("Expected ErrGenerationFailed, got: %v", err)
		}
	})

	t.Run("Empty story text", func(t *testing.T) {
		response := `[{"title": "T", "persona": "user", "want": "  ", "benefit": "value", "acceptance_criteria": ["done"]}]`
		drafter, _ := NewDrafter(llm.NewMockClient(response))

		_, err := drafter.Draft(ctx, draftRequest(), AssembledContext{}, nil, 1)
		if !errors.Is(err, ErrGenerationFailed) {
			t.Errorf("Expected ErrGenerationFailed, got: %v", err)
		}
	})
}
