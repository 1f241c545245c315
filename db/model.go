package db

import (
	"database/sql/driver"
	"fmt"
	"strings"
	"time"
)

// ===========================
// RULE MODELS
// ===========================

// Rule maps a set of keywords to an automatic answer.
// Higher Priority is evaluated first; ties are broken by ascending ID.
type Rule struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Keywords  []string  `json:"keywords"`
	Response  string    `json:"response"`
	IsActive  bool      `json:"is_active"`
	Priority  int       `json:"priority"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ===========================
// ABSENCE MODELS
// ===========================

// AbsenceWindow is a wall-clock span during which Message replaces keyword
// answers. Start > End denotes an overnight span crossing midnight.
type AbsenceWindow struct {
	ID           int64     `json:"id"`
	Name         string    `json:"name"`
	Start        TimeOfDay `json:"start"`
	End          TimeOfDay `json:"end"`
	WeekdaysOnly bool      `json:"weekdays_only"` // matches all day on Saturday and Sunday
	IsActive     bool      `json:"is_active"`
	Message      string    `json:"message"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// TimeOfDay is a wall-clock time with second resolution, stored as
// seconds since midnight.
type TimeOfDay int

const secondsPerDay = 24 * 60 * 60

// NewTimeOfDay builds a TimeOfDay from its components.
func NewTimeOfDay(hour, minute, second int) TimeOfDay {
	return TimeOfDay(hour*3600 + minute*60 + second)
}

// TimeOfDayOf returns the wall-clock part of t in t's location.
func TimeOfDayOf(t time.Time) TimeOfDay {
	return NewTimeOfDay(t.Hour(), t.Minute(), t.Second())
}

// ParseTimeOfDay accepts "HH:MM" or "HH:MM:SS".
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	s = strings.TrimSpace(s)
	var hour, minute, second int
	var n int
	var err error
	switch strings.Count(s, ":") {
	case 1:
		n, err = fmt.Sscanf(s, "%d:%d", &hour, &minute)
		if n != 2 {
			return 0, fmt.Errorf("invalid time of day %q", s)
		}
	case 2:
		n, err = fmt.Sscanf(s, "%d:%d:%d", &hour, &minute, &second)
		if n != 3 {
			return 0, fmt.Errorf("invalid time of day %q", s)
		}
	default:
		return 0, fmt.Errorf("invalid time of day %q", s)
	}
	if err != nil {
		return 0, fmt.Errorf("invalid time of day %q: %w", s, err)
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 || second < 0 || second > 59 {
		return 0, fmt.Errorf("time of day out of range: %q", s)
	}
	return NewTimeOfDay(hour, minute, second), nil
}

// MustParseTimeOfDay is ParseTimeOfDay for literals; it panics on error.
func MustParseTimeOfDay(s string) TimeOfDay {
	t, err := ParseTimeOfDay(s)
	if err != nil {
		panic(err)
	}
	return t
}

func (t TimeOfDay) String() string {
	s := int(t) % secondsPerDay
	return fmt.Sprintf("%02d:%02d:%02d", s/3600, (s%3600)/60, s%60)
}

// Scan implements sql.Scanner for Postgres TIME columns.
func (t *TimeOfDay) Scan(src interface{}) error {
	switch v := src.(type) {
	case time.Time:
		*t = TimeOfDayOf(v)
		return nil
	case []byte:
		return t.scanString(string(v))
	case string:
		return t.scanString(v)
	case nil:
		return fmt.Errorf("time of day cannot be NULL")
	default:
		return fmt.Errorf("unsupported time of day type %T", src)
	}
}

func (t *TimeOfDay) scanString(s string) error {
	// Postgres may append fractional seconds ("18:00:00.000000")
	if i := strings.IndexByte(s, '.'); i >= 0 {
		s = s[:i]
	}
	parsed, err := ParseTimeOfDay(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Value implements driver.Valuer.
func (t TimeOfDay) Value() (driver.Value, error) {
	return t.String(), nil
}

func (t TimeOfDay) MarshalJSON() ([]byte, error) {
	return []byte(`"` + t.String() + `"`), nil
}

func (t *TimeOfDay) UnmarshalJSON(b []byte) error {
	return t.scanString(strings.Trim(string(b), `"`))
}

// ===========================
// QUESTION MODELS
// ===========================

const (
	QuestionStatusUnanswered = "UNANSWERED"
	QuestionStatusAnswered   = "ANSWERED"
)

// Question is a buyer question as returned by the marketplace.
type Question struct {
	ID         int64     `json:"id"`
	ItemID     string    `json:"item_id"`
	Text       string    `json:"text"`
	Status     string    `json:"status"`
	ReceivedAt time.Time `json:"date_created"`
}

// IsUnanswered reports whether the marketplace still expects an answer.
func (q Question) IsUnanswered() bool {
	return strings.EqualFold(q.Status, QuestionStatusUnanswered)
}

// ===========================
// OUTCOME MODELS
// ===========================

const (
	VerdictKindAbsence   = "absence_override"
	VerdictKindRuleMatch = "rule_match"
	VerdictKindNoAction  = "no_action"
)

// AnswerOutcome records what happened to one question.
type AnswerOutcome struct {
	ID              string        `json:"id"`
	QuestionID      int64         `json:"question_id"`
	VerdictKind     string        `json:"verdict_kind"`
	RuleID          *int64        `json:"rule_id,omitempty"`
	WindowID        *int64        `json:"window_id,omitempty"`
	MatchedKeywords []string      `json:"matched_keywords,omitempty"`
	AnswerText      string        `json:"answer_text"`
	Success         bool          `json:"success"`
	Error           string        `json:"error,omitempty"`
	DecisionElapsed time.Duration `json:"decision_elapsed"`
	RecordedAt      time.Time     `json:"recorded_at"`
}

// ===========================
// TOKEN MODELS
// ===========================

// TokenState is the persisted marketplace credential.
type TokenState struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}
