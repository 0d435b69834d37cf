package trade

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Outcome of a completed trade
type Outcome string

const (
	OutcomePending   Outcome = "pending"
	OutcomeWin       Outcome = "win"
	OutcomeLoss      Outcome = "loss"
	OutcomeBreakeven Outcome = "breakeven"
)

var ErrUnknownOutcome = errors.New("unknown trade outcome")

// ParseOutcome parses an outcome; an empty string means pending
func ParseOutcome(s string) (Outcome, error) {
	switch o := Outcome(strings.ToLower(strings.TrimSpace(s))); o {
	case "":
		return OutcomePending, nil
	case OutcomePending, OutcomeWin, OutcomeLoss, OutcomeBreakeven:
		return o, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownOutcome, s)
}

// Known reports whether the outcome is final
func (o Outcome) Known() bool {
	return o == OutcomeWin || o == OutcomeLoss || o == OutcomeBreakeven
}

// Direction of a planned trade
type Direction string

const (
	DirectionLong    Direction = "long"
	DirectionShort   Direction = "short"
	DirectionNeutral Direction = "neutral"
)

// Sign is +1 for long, -1 for short and 0 otherwise
func (d Direction) Sign() float64 {
	switch d {
	case DirectionLong:
		return 1
	case DirectionShort:
		return -1
	}
	return 0
}

// DirectionFromLevels infers direction from where the target sits
func DirectionFromLevels(entry, target float64) Direction {
	switch {
	case entry <= 0 || target <= 0 || entry == target:
		return DirectionNeutral
	case target > entry:
		return DirectionLong
	default:
		return DirectionShort
	}
}

// FileRef points at a stored screenshot
type FileRef struct {
	Timeframe   string `json:"timeframe"`
	Path        string `json:"path"`
	Size        int64  `json:"size"`
	ContentType string `json:"content_type,omitempty"`
}

// Violation is a persisted rule violation from risk validation
type Violation struct {
	Rule     string `json:"rule"`
	Message  string `json:"message"`
	Severity string `json:"severity"`
}

// Trade is the central aggregate. A pre-trade record holds the plan; an
// execution record (ParentID set) holds what actually happened.
type Trade struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id,omitempty"`
	ParentID  string    `json:"parent_id,omitempty"`
	Phase     Phase     `json:"phase"`
	Timestamp time.Time `json:"timestamp"`

	Instrument       string            `json:"instrument"`
	TradingStyle     string            `json:"trading_style"`
	SessionInfo      string            `json:"session_info,omitempty"`
	Direction        Direction         `json:"direction"`
	Screenshots      []FileRef         `json:"screenshots"`
	PrimaryTimeframe string            `json:"primary_timeframe,omitempty"`
	TimeframeRoles   map[string]string `json:"timeframe_roles,omitempty"`
	Completeness     int               `json:"completeness"`

	PatternType    string  `json:"pattern_type"`
	SetupQuality   int     `json:"setup_quality"`
	Confidence     float64 `json:"confidence"`
	AnalysisSource string  `json:"analysis_source"`

	PlannedEntry  float64 `json:"planned_entry"`
	PlannedStop   float64 `json:"planned_stop"`
	PlannedTarget float64 `json:"planned_target"`
	PlannedRR     float64 `json:"planned_rr"`

	ActualEntry  *float64 `json:"actual_entry,omitempty"`
	ActualStop   *float64 `json:"actual_stop,omitempty"`
	ActualTarget *float64 `json:"actual_target,omitempty"`
	ActualRR     *float64 `json:"actual_rr,omitempty"`

	VarianceEntry  *float64 `json:"variance_entry,omitempty"`
	VarianceStop   *float64 `json:"variance_stop,omitempty"`
	VarianceTarget *float64 `json:"variance_target,omitempty"`
	RRImpact       *float64 `json:"rr_impact,omitempty"`

	RiskAmount   float64     `json:"risk_amount"`
	WithinLimits bool        `json:"within_limits"`
	Violations   []Violation `json:"violations,omitempty"`

	ExecutionTokenHash string   `json:"-"`
	LinkedExecutionID  string   `json:"linked_execution_id,omitempty"`
	ExecutionPatterns  []string `json:"execution_patterns,omitempty"`

	Outcome    Outcome  `json:"outcome"`
	Contracts  float64  `json:"contracts"`
	PointValue float64  `json:"point_value"`
	ActualPnL  *float64 `json:"actual_pnl,omitempty"`

	Notes    string          `json:"notes,omitempty"`
	Analysis json.RawMessage `json:"analysis,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Clone returns a deep copy
func (t *Trade) Clone() *Trade {
	if t == nil {
		return nil
	}
	c := *t
	c.Screenshots = append([]FileRef(nil), t.Screenshots...)
	c.Violations = append([]Violation(nil), t.Violations...)
	c.ExecutionPatterns = append([]string(nil), t.ExecutionPatterns...)
	c.Analysis = append(json.RawMessage(nil), t.Analysis...)
	if t.TimeframeRoles != nil {
		c.TimeframeRoles = make(map[string]string, len(t.TimeframeRoles))
		for k, v := range t.TimeframeRoles {
			c.TimeframeRoles[k] = v
		}
	}
	c.ActualEntry = clonePtr(t.ActualEntry)
	c.ActualStop = clonePtr(t.ActualStop)
	c.ActualTarget = clonePtr(t.ActualTarget)
	c.ActualRR = clonePtr(t.ActualRR)
	c.VarianceEntry = clonePtr(t.VarianceEntry)
	c.VarianceStop = clonePtr(t.VarianceStop)
	c.VarianceTarget = clonePtr(t.VarianceTarget)
	c.RRImpact = clonePtr(t.RRImpact)
	c.ActualPnL = clonePtr(t.ActualPnL)
	return &c
}

func clonePtr(p *float64) *float64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// Float returns a pointer to v
func Float(v float64) *float64 {
	return &v
}
