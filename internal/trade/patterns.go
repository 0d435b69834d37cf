package trade

import "time"

// Setup pattern vocabulary seeded into the learning tables
var SetupPatterns = []string{
	"breakout",
	"pullback",
	"reversal",
	"trend_continuation",
	"range_bounce",
	"double_top",
	"double_bottom",
	"head_and_shoulders",
	"flag",
	"liquidity_sweep",
	"fair_value_gap",
	"order_block",
}

// UnknownPattern is used when a setup cannot be recognised
const UnknownPattern = "unknown"

// IsSetupPattern reports whether name is in the seeded vocabulary
func IsSetupPattern(name string) bool {
	for _, p := range SetupPatterns {
		if p == name {
			return true
		}
	}
	return name == UnknownPattern
}

// Behavioral patterns classified from execution variances
const (
	ExecEarlyEntry      = "early_entry"
	ExecLateEntry       = "late_entry"
	ExecStopTightening  = "stop_tightening"
	ExecStopWidening    = "stop_widening"
	ExecTargetExtension = "target_extension"
	ExecTargetReduction = "target_reduction"
)

// SetupPatternStat aggregates outcomes for a setup pattern
type SetupPatternStat struct {
	PatternName     string    `json:"pattern_name"`
	SuccessCount    int       `json:"success_count"`
	TotalCount      int       `json:"total_count"`
	ConfidenceScore float64   `json:"confidence_score"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// SuccessRate is success_count / total_count, or 0 with no observations
func (s SetupPatternStat) SuccessRate() float64 {
	if s.TotalCount == 0 {
		return 0
	}
	return float64(s.SuccessCount) / float64(s.TotalCount)
}

// ExecutionPatternStat aggregates a behavioral execution pattern
type ExecutionPatternStat struct {
	PatternType     string    `json:"pattern_type"`
	FrequencyCount  int       `json:"frequency_count"`
	AverageImpact   float64   `json:"average_impact"`
	ConfidenceScore float64   `json:"confidence_score"`
	FirstSeen       time.Time `json:"first_seen"`
	LastSeen        time.Time `json:"last_seen"`
}
