package story

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/Yates-Labs/fable/internal/llm"
)

func scoresResponse(ind, neg, val, est, sm, tst float64) string {
	return fmt.Sprintf(`{"scores": {"independent": %g, "negotiable": %g, "valuable": %g, "estimable": %g, "small": %g, "testable": %g}, "feedback": ["noted"], "suggestions": ["tighten the benefit"]}`,
		ind, neg, val, est, sm, tst)
}

func newTestScorer(t *testing.T, client llm.Client) *Scorer {
	t.Helper()
	scorer, err := NewScorer(client, zerolog.Nop())
	if err != nil {
		t.Fatalf("Failed to create scorer: %v", err)
	}
	return scorer
}

func scoredCandidate() UserStoryCandidate {
	return UserStoryCandidate{
		ID:                 "c1",
		Title:              "Password reset",
		StoryText:          "As a registered user, I want to reset my password so that I can regain access.",
		AcceptanceCriteria: []string{"A reset link is emailed"},
	}
}

func TestNewScorer(t *testing.T) {
	if _, err := NewScorer(nil, zerolog.Nop()); err == nil {
		t.Error("Expected error for nil client")
	}
}

func TestScore(t *testing.T) {
	ctx := context.Background()

	t.Run("Well-formed response", func(t *testing.T) {
		scorer := newTestScorer(t, llm.NewMockClient(scoresResponse(8, 8, 9, 8, 7, 9)))

		assessment := scorer.Score(ctx, scoredCandidate())

		if assessment.OverallScore != 8.2 {
			t.Errorf("Expected overall 8.2, got %g", assessment.OverallScore)
		}
		if assessment.RiskLevel != RiskLow {
			t.Errorf("Expected low risk, got %s", assessment.RiskLevel)
		}
		if len(assessment.InvestScores) != 6 {
			t.Errorf("Expected 6 scores, got %d", len(assessment.InvestScores))
		}
		if assessment.InvestScores["valuable"] != 9 {
			t.Errorf("Expected valuable 9, got %g", assessment.InvestScores["valuable"])
		}
		if len(assessment.Feedback) != 1 || assessment.Feedback[0] != "noted" {
			t.Errorf("Expected feedback carried, got %v", assessment.Feedback)
		}
		if len(assessment.Suggestions) != 1 {
			t.Errorf("Expected suggestions carried, got %v", assessment.Suggestions)
		}
	})

	t.Run("Mean rounded to one decimal", func(t *testing.T) {
		scorer := newTestScorer(t, llm.NewMockClient(scoresResponse(7, 7, 7, 7, 7, 8)))

		assessment := scorer.Score(ctx, scoredCandidate())

		if assessment.OverallScore != 7.2 {
			t.Errorf("Expected overall 7.2, got %g", assessment.OverallScore)
		}
		if assessment.RiskLevel != RiskMedium {
			t.Errorf("Expected medium risk, got %s", assessment.RiskLevel)
		}
	})

	t.Run("Scores clamped to 0-10", func(t *testing.T) {
		scorer := newTestScorer(t, llm.NewMockClient(scoresResponse(15, -3, 5, 5, 5, 5)))

		assessment := scorer.Score(ctx, scoredCandidate())

		if assessment.InvestScores["independent"] != 10 {
			t.Errorf("Expected independent clamped to 10, got %g", assessment.InvestScores["independent"])
		}
		if assessment.InvestScores["negotiable"] != 0 {
			t.Errorf("Expected negotiable clamped to 0, got %g", assessment.InvestScores["negotiable"])
		}
		if assessment.OverallScore != 5.0 {
			t.Errorf("Expected overall 5.0, got %g", assessment.OverallScore)
		}
	})

	t.Run("Risk bands", func(t *testing.T) {
		tests := []struct {
			name     string
			score    float64
			expected RiskLevel
		}{
			{"High scores are low risk", 8, RiskLow},
			{"Middling scores are medium risk", 5, RiskMedium},
			{"Low scores are high risk", 4, RiskHigh},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				s := tt.score
				scorer := newTestScorer(t, llm.NewMockClient(scoresResponse(s, s, s, s, s, s)))

				assessment := scorer.Score(ctx, scoredCandidate())
				if assessment.RiskLevel != tt.expected {
					t.Errorf("Expected %s risk for score %g, got %s", tt.expected, s, assessment.RiskLevel)
				}
			})
		}
	})

	t.Run("Fenced response parsed", func(t *testing.T) {
		scorer := newTestScorer(t, llm.NewMockClient("```json\n"+scoresResponse(8, 8, 8, 8, 8, 8)+"\n```"))

		assessment := scorer.Score(ctx, scoredCandidate())
		if assessment.OverallScore != 8.0 {
			t.Errorf("Expected overall 8.0, got %g", assessment.OverallScore)
		}
	})

	t.Run("Provider failure degrades", func(t *testing.T) {
		scorer := newTestScorer(t, llm.NewMockClientWithError(llm.ErrProviderFailed))

		assessment := scorer.Score(ctx, scoredCandidate())

		if assessment.OverallScore != 0 {
			t.Errorf("Expected overall 0, got %g", assessment.OverallScore)
		}
		if assessment.RiskLevel != RiskUnknown {
			t.Errorf("Expected unknown risk, got %s", assessment.RiskLevel)
		}
		if len(assessment.InvestScores) != 0 {
			t.Errorf("Expected empty scores, got %v", assessment.InvestScores)
		}
		if len(assessment.Feedback) != 1 || !strings.Contains(assessment.Feedback[0], "quality scoring failed") {
			t.Errorf("Expected failure feedback entry, got %v", assessment.Feedback)
		}
	})

	t.Run("Malformed response degrades", func(t *testing.T) {
		scorer := newTestScorer(t, llm.NewMockClient("I would rate this story quite highly."))

		assessment := scorer.Score(ctx, scoredCandidate())
		if assessment.OverallScore != 0 || assessment.RiskLevel != RiskUnknown {
			t.Errorf("Expected degraded assessment, got %+v", assessment)
		}
	})

	t.Run("Missing criterion degrades", func(t *testing.T) {
		response := `{"scores": {"independent": 8, "negotiable": 8, "valuable": 8, "estimable": 8, "small": 8}, "feedback": [], "suggestions": []}`
		scorer := newTestScorer(t, llm.NewMockClient(response))

		assessment := scorer.Score(ctx, scoredCandidate())
		if assessment.OverallScore != 0 || assessment.RiskLevel != RiskUnknown {
			t.Errorf("Expected degraded assessment, got %+v", assessment)
		}
	})
}
