package services

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/phonginreallife/autoanswer/db"
)

// OutcomeStore is the write-only sink for answer outcomes.
type OutcomeStore struct {
	PG *sql.DB
}

func NewOutcomeStore(pg *sql.DB) *OutcomeStore {
	return &OutcomeStore{PG: pg}
}

// RecordOutcome inserts one outcome. ID and RecordedAt are filled in when
// empty.
func (s *OutcomeStore) RecordOutcome(ctx context.Context, outcome *db.AnswerOutcome) error {
	if outcome.ID == "" {
		outcome.ID = uuid.New().String()
	}

	keywords := outcome.MatchedKeywords
	if keywords == nil {
		keywords = []string{}
	}

	var recordedAt interface{}
	if !outcome.RecordedAt.IsZero() {
		recordedAt = outcome.RecordedAt
	}

	_, err := s.PG.ExecContext(ctx, `
		INSERT INTO answer_outcomes (id, question_id, verdict_kind, rule_id, window_id, matched_keywords,
		                             answer_text, success, error_message, decision_elapsed_us, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, COALESCE($11, NOW()))
	`, outcome.ID, outcome.QuestionID, outcome.VerdictKind, outcome.RuleID, outcome.WindowID,
		pq.Array(keywords), outcome.AnswerText, outcome.Success, outcome.Error,
		outcome.DecisionElapsed.Microseconds(), recordedAt)
	if err != nil {
		return fmt.Errorf("failed to record outcome for question %d: %w", outcome.QuestionID, err)
	}
	return nil
}
