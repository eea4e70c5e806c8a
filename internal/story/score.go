package story

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/rs/zerolog"

	"github.com/Yates-Labs/fable/internal/llm"
)

// Generation parameters for the scoring call.
const (
	ScoreTemperature = 0.3
	ScoreMaxTokens   = 3000
)

// Scorer evaluates candidates against the INVEST criteria.
type Scorer struct {
	client llm.Client
	logger zerolog.Logger
}

// NewScorer creates a scoring stage backed by the given model client.
func NewScorer(client llm.Client, logger zerolog.Logger) (*Scorer, error) {
	if client == nil {
		return nil, fmt.Errorf("client cannot be nil")
	}
	return &Scorer{client: client, logger: logger}, nil
}

// scoreResponse mirrors the JSON shape the scoring prompt demands.
type scoreResponse struct {
	Scores      map[string]float64 `json:"scores"`
	Feedback    []string           `json:"feedback"`
	Suggestions []string           `json:"suggestions"`
}

// Score evaluates one candidate. It always returns a usable assessment:
// provider failures and malformed responses produce a degraded one with
// overall 0 and risk unknown, which never clears an acceptance threshold.
func (s *Scorer) Score(ctx context.Context, candidate UserStoryCandidate) QualityAssessment {
	prompt := BuildScorePrompt(candidate)

	text, err := s.client.Complete(ctx, prompt, llm.CompletionOptions{
		Temperature: ScoreTemperature,
		MaxTokens:   ScoreMaxTokens,
	})
	if err != nil {
		s.logger.Warn().Err(err).Str("candidate_id", candidate.ID).Msg("quality scoring call failed")
		return degradedAssessment(fmt.Sprintf("quality scoring failed: %v", err))
	}

	assessment, err := parseScoreResponse(text)
	if err != nil {
		s.logger.Warn().Err(err).Str("candidate_id", candidate.ID).Msg("quality scoring response unusable")
		return degradedAssessment(fmt.Sprintf("quality scoring failed: %v", err))
	}

	return assessment
}

// parseScoreResponse decodes the scoring JSON and derives the aggregates:
// overall score is the unweighted mean of the six criterion scores rounded
// to one decimal, risk level follows from the overall score.
func parseScoreResponse(text string) (QualityAssessment, error) {
	cleaned := strings.TrimSpace(text)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")
	cleaned = strings.TrimSpace(cleaned)

	var resp scoreResponse
	if err := json.Unmarshal([]byte(cleaned), &resp); err != nil {
		return QualityAssessment{}, fmt.Errorf("response is not a JSON assessment: %v", err)
	}

	scores := make(map[string]float64, len(InvestCriteria))
	total := 0.0
	for _, criterion := range InvestCriteria {
		value, ok := resp.Scores[criterion]
		if !ok {
			return QualityAssessment{}, fmt.Errorf("missing score for %s", criterion)
		}
		value = clampScore(value)
		scores[criterion] = value
		total += value
	}

	overall := roundOneDecimal(total / float64(len(InvestCriteria)))

	return QualityAssessment{
		InvestScores: scores,
		OverallScore: overall,
		Feedback:     resp.Feedback,
		Suggestions:  resp.Suggestions,
		RiskLevel:    riskForScore(overall),
	}, nil
}

// riskForScore maps an overall score to a shipping risk band.
func riskForScore(overall float64) RiskLevel {
	switch {
	case overall >= 8:
		return RiskLow
	case overall >= 5:
		return RiskMedium
	default:
		return RiskHigh
	}
}

func clampScore(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 10 {
		return 10
	}
	return v
}

func roundOneDecimal(v float64) float64 {
	return math.Round(v*10) / 10
}

// degradedAssessment is the scorer's failure value. Overall 0 never clears
// an acceptance threshold.
func degradedAssessment(reason string) QualityAssessment {
	return QualityAssessment{
		InvestScores: map[string]float64{},
		OverallScore: 0,
		Feedback:     []string{reason},
		RiskLevel:    RiskUnknown,
	}
}
