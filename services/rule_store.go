package services

import (
	"context"
	"database/sql"
	"fmt"
	"log"

	"github.com/lib/pq"
	"github.com/phonginreallife/autoanswer/db"
)

// RuleStore reads rules and absence windows managed by the dashboard.
type RuleStore struct {
	PG *sql.DB
}

func NewRuleStore(pg *sql.DB) *RuleStore {
	return &RuleStore{PG: pg}
}

var _ RuleSource = (*RuleStore)(nil)

// ListActiveRulesByPriorityDesc returns active rules, highest priority
// first, ties in id order. Active rules without keywords are skipped.
func (s *RuleStore) ListActiveRulesByPriorityDesc(ctx context.Context) ([]db.Rule, error) {
	rows, err := s.PG.QueryContext(ctx, `
		SELECT id, name, keywords, response, is_active, priority, created_at, updated_at
		FROM auto_rules
		WHERE is_active = true
		ORDER BY priority DESC, id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query rules: %w", err)
	}
	defer rows.Close()

	var rules []db.Rule
	for rows.Next() {
		var rule db.Rule
		if err := rows.Scan(
			&rule.ID, &rule.Name, pq.Array(&rule.Keywords), &rule.Response,
			&rule.IsActive, &rule.Priority, &rule.CreatedAt, &rule.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}
		if len(rule.Keywords) == 0 {
			log.Printf("RuleStore: skipping active rule %d without keywords", rule.ID)
			continue
		}
		rules = append(rules, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate rules: %w", err)
	}

	return rules, nil
}

// ListActiveAbsenceWindows returns active windows in stored (id) order.
func (s *RuleStore) ListActiveAbsenceWindows(ctx context.Context) ([]db.AbsenceWindow, error) {
	rows, err := s.PG.QueryContext(ctx, `
		SELECT id, name, start_time, end_time, weekdays_only, is_active, message, created_at, updated_at
		FROM absence_windows
		WHERE is_active = true
		ORDER BY id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query absence windows: %w", err)
	}
	defer rows.Close()

	var windows []db.AbsenceWindow
	for rows.Next() {
		var w db.AbsenceWindow
		if err := rows.Scan(
			&w.ID, &w.Name, &w.Start, &w.End, &w.WeekdaysOnly,
			&w.IsActive, &w.Message, &w.CreatedAt, &w.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan absence window: %w", err)
		}
		windows = append(windows, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate absence windows: %w", err)
	}

	return windows, nil
}
