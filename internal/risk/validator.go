package risk

import (
	"errors"
	"fmt"
	"math"
	"time"
	_ "time/tzdata"

	"chart-trade-analyzer/internal/analysis"
	"chart-trade-analyzer/internal/trade"
)

// Severity levels
const (
	SeverityHigh   = "HIGH"
	SeverityMedium = "MEDIUM"
	SeverityLow    = "LOW"
)

// Rule names
const (
	RuleMaxRisk       = "max_risk"
	RuleSessionWindow = "session_window"
	RuleMinRiskReward = "min_risk_reward"
)

var ErrInvalidRules = errors.New("invalid risk rules")

// Rules holds the account's risk limits
type Rules struct {
	MaxRiskPerTrade float64 `json:"max_risk_per_trade" yaml:"max_risk_per_trade"` // Currency per trade
	MaxRiskPercent  float64 `json:"max_risk_percent" yaml:"max_risk_percent"`     // Percentage of account, 0 disables
	MinRiskReward   float64 `json:"min_risk_reward" yaml:"min_risk_reward"`
	SessionStart    string  `json:"session_start" yaml:"session_start"` // HH:MM
	SessionEnd      string  `json:"session_end" yaml:"session_end"`     // HH:MM, exclusive
	SessionTimezone string  `json:"session_timezone" yaml:"session_timezone"`
}

// DefaultRules returns limits for a New York cash session
func DefaultRules() Rules {
	return Rules{
		MaxRiskPerTrade: 500,
		MinRiskReward:   2.0,
		SessionStart:    "09:30",
		SessionEnd:      "16:00",
		SessionTimezone: "America/New_York",
	}
}

// SessionContext is the per-request input alongside the analysis
type SessionContext struct {
	Timestamp      time.Time
	AccountSize    float64
	RiskMultiplier float64 // From specialization, 0 means 1
}

// Validation is the outcome of checking a plan against the rules
type Validation struct {
	Valid              bool              `json:"valid"`
	WithinLimits       bool              `json:"within_limits"`
	Violations         []trade.Violation `json:"violations"`
	EffectiveMaxRisk   float64           `json:"effective_max_risk"`
	SuggestedContracts int               `json:"suggested_contracts"`
}

// HasSeverity reports whether any violation has the given severity
func (v Validation) HasSeverity(severity string) bool {
	for _, vi := range v.Violations {
		if vi.Severity == severity {
			return true
		}
	}
	return false
}

// Validator checks analysis results against fixed rules. It holds no
// mutable state.
type Validator struct {
	rules      Rules
	loc        *time.Location
	start, end int
}

// NewValidator parses the session window and timezone
func NewValidator(rules Rules) (*Validator, error) {
	loc, err := time.LoadLocation(rules.SessionTimezone)
	if err != nil {
		return nil, fmt.Errorf("%w: timezone %q: %v", ErrInvalidRules, rules.SessionTimezone, err)
	}
	start, err := parseClock(rules.SessionStart)
	if err != nil {
		return nil, fmt.Errorf("%w: session_start: %v", ErrInvalidRules, err)
	}
	end, err := parseClock(rules.SessionEnd)
	if err != nil {
		return nil, fmt.Errorf("%w: session_end: %v", ErrInvalidRules, err)
	}
	if rules.MaxRiskPerTrade < 0 || rules.MaxRiskPercent < 0 || rules.MinRiskReward < 0 {
		return nil, fmt.Errorf("%w: limits must not be negative", ErrInvalidRules)
	}
	return &Validator{rules: rules, loc: loc, start: start, end: end}, nil
}

// Rules returns the configured rules
func (v *Validator) Rules() Rules {
	return v.rules
}

func parseClock(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, err
	}
	return t.Hour()*60 + t.Minute(), nil
}

// Validate evaluates every rule independently
func (v *Validator) Validate(result *analysis.Result, sc SessionContext) Validation {
	if result == nil {
		result = &analysis.Result{}
	}
	out := Validation{
		Violations:       []trade.Violation{},
		EffectiveMaxRisk: v.maxRisk(sc),
	}

	if result.RiskAmount > out.EffectiveMaxRisk {
		out.Violations = append(out.Violations, trade.Violation{
			Rule:     RuleMaxRisk,
			Message:  fmt.Sprintf("risk %.2f exceeds limit %.2f", result.RiskAmount, out.EffectiveMaxRisk),
			Severity: SeverityHigh,
		})
	}

	if !sc.Timestamp.IsZero() && !v.InSession(sc.Timestamp) {
		local := sc.Timestamp.In(v.loc)
		out.Violations = append(out.Violations, trade.Violation{
			Rule:     RuleSessionWindow,
			Message:  fmt.Sprintf("%s is outside the %s-%s %s session", local.Format("15:04"), v.rules.SessionStart, v.rules.SessionEnd, v.loc),
			Severity: SeverityMedium,
		})
	}

	if result.RiskRewardRatio < v.rules.MinRiskReward {
		out.Violations = append(out.Violations, trade.Violation{
			Rule:     RuleMinRiskReward,
			Message:  fmt.Sprintf("risk/reward %.2f below minimum %.2f", result.RiskRewardRatio, v.rules.MinRiskReward),
			Severity: SeverityMedium,
		})
	}

	if result.RiskAmount > 0 {
		out.SuggestedContracts = int(math.Floor(out.EffectiveMaxRisk / result.RiskAmount))
	}
	out.Valid = len(out.Violations) == 0
	out.WithinLimits = !out.HasSeverity(SeverityHigh)
	return out
}

// maxRisk applies the account percentage cap and the specialization
// multiplier to the fixed per-trade limit
func (v *Validator) maxRisk(sc SessionContext) float64 {
	limit := v.rules.MaxRiskPerTrade
	if v.rules.MaxRiskPercent > 0 && sc.AccountSize > 0 {
		limit = math.Min(limit, sc.AccountSize*v.rules.MaxRiskPercent/100)
	}
	if sc.RiskMultiplier > 0 && sc.RiskMultiplier < 1 {
		limit *= sc.RiskMultiplier
	}
	return math.Round(limit*100) / 100
}

// InSession reports whether t falls in [start, end) local time. A window
// whose end precedes its start wraps past midnight; equal bounds mean
// always open.
func (v *Validator) InSession(t time.Time) bool {
	local := t.In(v.loc)
	m := local.Hour()*60 + local.Minute()
	switch {
	case v.start == v.end:
		return true
	case v.start < v.end:
		return m >= v.start && m < v.end
	default:
		return m >= v.start || m < v.end
	}
}
