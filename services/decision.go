package services

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/phonginreallife/autoanswer/db"
	"github.com/phonginreallife/autoanswer/internal/clock"
)

type VerdictKind int

const (
	VerdictNoAction VerdictKind = iota
	VerdictAbsence
	VerdictRuleMatch
)

func (k VerdictKind) String() string {
	switch k {
	case VerdictAbsence:
		return db.VerdictKindAbsence
	case VerdictRuleMatch:
		return db.VerdictKindRuleMatch
	default:
		return db.VerdictKindNoAction
	}
}

// NoActionReason explains why a question is left unanswered.
type NoActionReason string

const (
	ReasonNoActiveRules  NoActionReason = "no_active_rules"
	ReasonNoKeywordMatch NoActionReason = "no_keyword_match"
)

// Verdict is the per-question decision. Exactly one of the kind-specific
// field groups is meaningful.
type Verdict struct {
	Kind VerdictKind

	// Message is the text to post for absence overrides and rule matches.
	Message string

	// Absence override
	WindowID int64

	// Rule match
	RuleID          int64
	MatchedKeywords []string

	// No action
	Reason NoActionReason
}

// Actionable reports whether an answer should be posted.
func (v Verdict) Actionable() bool {
	return v.Kind != VerdictNoAction && strings.TrimSpace(v.Message) != ""
}

func (v Verdict) String() string {
	switch v.Kind {
	case VerdictAbsence:
		return fmt.Sprintf("absence_override(window=%d)", v.WindowID)
	case VerdictRuleMatch:
		return fmt.Sprintf("rule_match(rule=%d keywords=%v)", v.RuleID, v.MatchedKeywords)
	default:
		return fmt.Sprintf("no_action(%s)", v.Reason)
	}
}

// Decide produces the verdict for one question text. Absence windows win
// over rules; among rules the first one in priority order with any
// keyword contained in the normalized text wins, even if a later rule
// would match more keywords. Decide has no side effects.
func Decide(text string, now time.Time, rules []db.Rule, windows []db.AbsenceWindow) Verdict {
	if w := EvaluateAbsence(now, windows); w != nil {
		return Verdict{Kind: VerdictAbsence, Message: w.Message, WindowID: w.ID}
	}
	return MatchRules(text, rules)
}

// MatchRules runs only the keyword stage of Decide.
func MatchRules(text string, rules []db.Rule) Verdict {
	ordered := orderRules(rules)
	if len(ordered) == 0 {
		return Verdict{Kind: VerdictNoAction, Reason: ReasonNoActiveRules}
	}

	normalized := NormalizeText(text)
	for _, rule := range ordered {
		if matched := matchKeywords(normalized, rule.Keywords); len(matched) > 0 {
			return Verdict{
				Kind:            VerdictRuleMatch,
				Message:         rule.Response,
				RuleID:          rule.ID,
				MatchedKeywords: matched,
			}
		}
	}
	return Verdict{Kind: VerdictNoAction, Reason: ReasonNoKeywordMatch}
}

// orderRules returns the active rules sorted by priority descending,
// ties by ascending id.
func orderRules(rules []db.Rule) []db.Rule {
	ordered := make([]db.Rule, 0, len(rules))
	for _, r := range rules {
		if r.IsActive {
			ordered = append(ordered, r)
		}
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Priority != ordered[j].Priority {
			return ordered[i].Priority > ordered[j].Priority
		}
		return ordered[i].ID < ordered[j].ID
	})
	return ordered
}

func matchKeywords(normalizedText string, keywords []string) []string {
	var matched []string
	for _, kw := range keywords {
		nkw := NormalizeText(kw)
		if nkw == "" {
			continue
		}
		if strings.Contains(normalizedText, nkw) {
			matched = append(matched, kw)
		}
	}
	return matched
}

// RuleSource is the read side of the rule and absence-window store.
type RuleSource interface {
	ListActiveRulesByPriorityDesc(ctx context.Context) ([]db.Rule, error)
	ListActiveAbsenceWindows(ctx context.Context) ([]db.AbsenceWindow, error)
}

// DecisionEngine binds Decide to a store, a clock and the business
// timezone.
type DecisionEngine struct {
	store    RuleSource
	clock    clock.Clock
	location *time.Location
}

func NewDecisionEngine(store RuleSource, clk clock.Clock, location *time.Location) *DecisionEngine {
	if location == nil {
		location = time.UTC
	}
	return &DecisionEngine{store: store, clock: clk, location: location}
}

// Decide loads fresh snapshots and decides for q. Rules are not loaded
// when an absence window applies.
func (e *DecisionEngine) Decide(ctx context.Context, q db.Question) (Verdict, error) {
	now := e.clock.Now().In(e.location)

	windows, err := e.store.ListActiveAbsenceWindows(ctx)
	if err != nil {
		return Verdict{}, fmt.Errorf("failed to load absence windows: %w", err)
	}
	if w := EvaluateAbsence(now, windows); w != nil {
		return Verdict{Kind: VerdictAbsence, Message: w.Message, WindowID: w.ID}, nil
	}

	rules, err := e.store.ListActiveRulesByPriorityDesc(ctx)
	if err != nil {
		return Verdict{}, fmt.Errorf("failed to load rules: %w", err)
	}
	return MatchRules(q.Text, rules), nil
}
