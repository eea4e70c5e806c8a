package story

import (
	"fmt"
	"strings"

	"github.com/Yates-Labs/fable/internal/graph"
)

// EntityLine renders one entity for the KEY ENTITIES prompt section. The
// assembler counts this exact rendering against the token budget.
func EntityLine(e graph.EntityContext) string {
	if len(e.Related) == 0 {
		return fmt.Sprintf("- %s (%s)", e.Name, e.Type)
	}
	pairs := make([]string, len(e.Related))
	for i, r := range e.Related {
		pairs[i] = fmt.Sprintf("%s %s", r.RelationType, r.Name)
	}
	return fmt.Sprintf("- %s (%s): %s", e.Name, e.Type, strings.Join(pairs, "; "))
}

// BuildDraftPrompt assembles the drafting prompt from the request and the
// packed context. When prior is non-nil the prompt is a refinement round and
// instructs the model to address the previous assessment first.
func BuildDraftPrompt(req GenerationRequest, assembled AssembledContext, prior *QualityAssessment) string {
	var b strings.Builder

	b.WriteString("You are an expert business analyst specializing in writing clear, actionable user stories. ")
	b.WriteString("Convert the requirements below into well-structured user stories following the format:\n")
	b.WriteString("\"As a [persona], I want [functionality] so that [benefit].\"\n\n")

	b.WriteString("Guidelines:\n")
	b.WriteString("1. Each user story should be independent and testable\n")
	b.WriteString("2. Focus on user value and clear acceptance criteria\n")
	b.WriteString("3. Use specific, actionable language\n")
	b.WriteString("4. Consider edge cases and constraints\n\n")

	b.WriteString("# Requirements\n\n")
	b.WriteString(req.RequirementsText + "\n\n")

	if req.Persona != "" {
		b.WriteString(fmt.Sprintf("**Persona:** %s\n\n", req.Persona))
	} else {
		b.WriteString("No target persona was specified. Please identify appropriate personas from the requirements.\n\n")
	}

	if len(assembled.Passages) > 0 {
		b.WriteString("=== RELEVANT DOCUMENTS ===\n")
		for _, p := range assembled.Passages {
			b.WriteString(fmt.Sprintf("Document %d (similarity: %.3f):\n", p.Rank, p.SimilarityScore))
			b.WriteString(p.Text + "\n")
		}
		b.WriteString("\n")
	}

	if len(assembled.Entities) > 0 {
		b.WriteString("=== KEY ENTITIES ===\n")
		for _, e := range assembled.Entities {
			b.WriteString(EntityLine(e) + "\n")
		}
		b.WriteString("\n")
	}

	if req.AdditionalContext != "" {
		b.WriteString("=== ADDITIONAL CONTEXT ===\n")
		b.WriteString(req.AdditionalContext + "\n\n")
	}

	if prior != nil {
		b.WriteString("# Prior Review\n\n")
		b.WriteString(fmt.Sprintf("The previous draft scored %.1f/10. Address this feedback before anything else:\n", prior.OverallScore))
		for _, f := range prior.Feedback {
			b.WriteString("- " + f + "\n")
		}
		if len(prior.Suggestions) > 0 {
			b.WriteString("Suggestions:\n")
			for _, s := range prior.Suggestions {
				b.WriteString("- " + s + "\n")
			}
		}
		b.WriteString("\n")
	}

	b.WriteString("# Task\n\n")
	b.WriteString(fmt.Sprintf("Generate at most %d user stories as a JSON array. Each element must have exactly these fields:\n", req.Normalized().MaxStories))
	b.WriteString(`[{"title": "Brief descriptive title", "persona": "The user type", "want": "what the user wants to do", "benefit": "the value gained", "acceptance_criteria": ["Criterion 1", "Criterion 2"]}]` + "\n")
	b.WriteString("Respond ONLY with valid JSON.\n")

	return b.String()
}

// BuildScorePrompt assembles the INVEST evaluation prompt for one candidate.
func BuildScorePrompt(candidate UserStoryCandidate) string {
	var b strings.Builder

	b.WriteString("You are a quality assurance expert for user stories. ")
	b.WriteString("Evaluate the following user story against the INVEST criteria:\n\n")
	b.WriteString("- Independent: Can be developed independently\n")
	b.WriteString("- Negotiable: Details can be discussed\n")
	b.WriteString("- Valuable: Provides business value\n")
	b.WriteString("- Estimable: Can be estimated for effort\n")
	b.WriteString("- Small: Can be completed in one iteration\n")
	b.WriteString("- Testable: Has clear acceptance criteria\n\n")

	b.WriteString("# Story\n\n")
	b.WriteString(fmt.Sprintf("**Title:** %s\n", candidate.Title))
	b.WriteString(fmt.Sprintf("**Story:** %s\n", candidate.StoryText))
	b.WriteString("**Acceptance Criteria:**\n")
	if len(candidate.AcceptanceCriteria) == 0 {
		b.WriteString("- (none)\n")
	} else {
		for _, c := range candidate.AcceptanceCriteria {
			b.WriteString("- " + c + "\n")
		}
	}
	b.WriteString("\n")

	b.WriteString("# Task\n\n")
	b.WriteString("Score each criterion from 0 to 10 and respond ONLY with valid JSON in this exact shape:\n")
	b.WriteString(`{"scores": {"independent": 0, "negotiable": 0, "valuable": 0, "estimable": 0, "small": 0, "testable": 0}, "feedback": ["observation"], "suggestions": ["improvement"]}` + "\n")

	return b.String()
}
