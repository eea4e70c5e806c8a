// Package store persists finalized generation results. The Postgres sink
// writes one row per run and one per accepted story; the nop sink serves
// runs with no database configured.
package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"

	"github.com/Yates-Labs/fable/internal/story"
)

// Sink persists finalized generation results.
type Sink interface {
	SaveResult(ctx context.Context, result story.GenerationResult) error
}

// Querier is the subset of the pgx pool the sink issues statements through.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Schema statements run by EnsureSchema. Idempotent, so the worker can
// bootstrap a fresh database on startup.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS generation_runs (
		id TEXT PRIMARY KEY,
		project_id TEXT NOT NULL,
		terminated_reason TEXT NOT NULL,
		rejected_attempts INT NOT NULL DEFAULT 0,
		accepted_count INT NOT NULL DEFAULT 0,
		completed_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS user_stories (
		id TEXT PRIMARY KEY,
		run_id TEXT NOT NULL REFERENCES generation_runs(id) ON DELETE CASCADE,
		title TEXT NOT NULL,
		persona TEXT NOT NULL,
		story_text TEXT NOT NULL,
		acceptance_criteria JSONB NOT NULL,
		invest_scores JSONB NOT NULL,
		overall_score DOUBLE PRECISION NOT NULL,
		risk_level TEXT NOT NULL,
		iteration_number INT NOT NULL,
		generated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_user_stories_run_id ON user_stories (run_id)`,
}

const (
	saveRunQuery = `
		INSERT INTO generation_runs (
			id, project_id, terminated_reason, rejected_attempts,
			accepted_count, completed_at
		)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			project_id = EXCLUDED.project_id,
			terminated_reason = EXCLUDED.terminated_reason,
			rejected_attempts = EXCLUDED.rejected_attempts,
			accepted_count = EXCLUDED.accepted_count,
			completed_at = EXCLUDED.completed_at
	`
	saveStoryQuery = `
		INSERT INTO user_stories (
			id, run_id, title, persona, story_text, acceptance_criteria,
			invest_scores, overall_score, risk_level, iteration_number,
			generated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			run_id = EXCLUDED.run_id,
			title = EXCLUDED.title,
			persona = EXCLUDED.persona,
			story_text = EXCLUDED.story_text,
			acceptance_criteria = EXCLUDED.acceptance_criteria,
			invest_scores = EXCLUDED.invest_scores,
			overall_score = EXCLUDED.overall_score,
			risk_level = EXCLUDED.risk_level,
			iteration_number = EXCLUDED.iteration_number,
			generated_at = EXCLUDED.generated_at
	`
)

// PostgresSink stores runs and their accepted stories in Postgres. Saves are
// keyed by request and candidate IDs, so redelivered work upserts instead of
// duplicating rows.
type PostgresSink struct {
	db     Querier
	logger zerolog.Logger
}

// NewPostgresSink creates a sink over an open pgx pool.
func NewPostgresSink(db Querier, logger zerolog.Logger) (*PostgresSink, error) {
	if db == nil {
		return nil, fmt.Errorf("db cannot be nil")
	}
	return &PostgresSink{
		db:     db,
		logger: logger.With().Str("component", "sink").Logger(),
	}, nil
}

// EnsureSchema creates the result tables if they do not exist.
func (s *PostgresSink) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := s.db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to ensure result schema: %w", err)
		}
	}
	s.logger.Debug().Msg("Result schema ensured")
	return nil
}

// SaveResult upserts the run row and one row per accepted story.
func (s *PostgresSink) SaveResult(ctx context.Context, result story.GenerationResult) error {
	if result.RequestID == "" {
		return fmt.Errorf("result request ID cannot be empty")
	}

	_, err := s.db.Exec(ctx, saveRunQuery,
		result.RequestID,
		result.ProjectID,
		string(result.Reason),
		result.RejectedAttempts,
		len(result.Accepted),
		result.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save generation run %s: %w", result.RequestID, err)
	}

	for _, scored := range result.Accepted {
		criteria, err := json.Marshal(scored.Candidate.AcceptanceCriteria)
		if err != nil {
			return fmt.Errorf("failed to encode acceptance criteria for %s: %w", scored.Candidate.ID, err)
		}
		scores, err := json.Marshal(scored.Assessment.InvestScores)
		if err != nil {
			return fmt.Errorf("failed to encode scores for %s: %w", scored.Candidate.ID, err)
		}

		_, err = s.db.Exec(ctx, saveStoryQuery,
			scored.Candidate.ID,
			result.RequestID,
			scored.Candidate.Title,
			scored.Candidate.Persona,
			scored.Candidate.StoryText,
			criteria,
			scores,
			scored.Assessment.OverallScore,
			string(scored.Assessment.RiskLevel),
			scored.Candidate.IterationNumber,
			scored.Candidate.GeneratedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to save story %s: %w", scored.Candidate.ID, err)
		}
	}

	s.logger.Debug().
		Str("request_id", result.RequestID).
		Int("stories", len(result.Accepted)).
		Str("reason", string(result.Reason)).
		Msg("Generation result saved")
	return nil
}

// NopSink discards every result. It stands in for the Postgres sink when no
// database is configured, keeping callers free of nil checks.
type NopSink struct{}

// SaveResult implements Sink.
func (NopSink) SaveResult(ctx context.Context, result story.GenerationResult) error {
	return nil
}
