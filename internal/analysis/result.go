package analysis

import (
	"math"

	"chart-trade-analyzer/internal/trade"
)

// Result sources
const (
	SourceProvider = "provider"
	SourceFallback = "fallback"
)

// Field ranges
const (
	minSetupQuality = 1
	maxSetupQuality = 10
	maxRiskReward   = 20.0

	defaultSetupQuality = 5
	defaultConfidence   = 0.5

	// Provider results below this confidence are flagged
	lowConfidenceThreshold = 0.3
)

// TimeframeNote is the per-chart part of an analysis
type TimeframeNote struct {
	Timeframe string `json:"timeframe"`
	Trend     string `json:"trend"`
	Notes     string `json:"notes,omitempty"`
}

// Trend values allowed in TimeframeNote
const (
	TrendBullish = "bullish"
	TrendBearish = "bearish"
	TrendNeutral = "neutral"
)

// Specialization is the instrument/style overlay applied to a result
type Specialization struct {
	Applied         bool     `json:"applied"`
	Profile         string   `json:"profile,omitempty"`
	ConfidenceDelta float64  `json:"confidence_delta"`
	RiskMultiplier  float64  `json:"risk_multiplier"`
	PointValue      float64  `json:"point_value"`
	Notes           []string `json:"notes,omitempty"`
}

// Result has the same shape whether it came from the provider or the
// local fallback
type Result struct {
	PatternType       string          `json:"pattern_type"`
	SetupQuality      int             `json:"setup_quality"`
	Direction         trade.Direction `json:"direction"`
	Confidence        float64         `json:"confidence"`
	EntryPrice        float64         `json:"entry_price"`
	StopLoss          float64         `json:"stop_loss"`
	TakeProfit        float64         `json:"take_profit"`
	RiskRewardRatio   float64         `json:"risk_reward_ratio"`
	RiskAmount        float64         `json:"risk_amount"`
	TimeframeAnalysis []TimeframeNote `json:"timeframe_analysis"`
	KeyLevels         []float64       `json:"key_levels"`
	Reasoning         string          `json:"reasoning"`
	Warnings          []string        `json:"warnings"`

	Source         string          `json:"source"`
	LowConfidence  bool            `json:"low_confidence"`
	FailureKind    string          `json:"failure_kind,omitempty"`
	Repairs        []string        `json:"repairs,omitempty"`
	Specialization *Specialization `json:"specialization,omitempty"`
}

// IsFallback reports whether the result was synthesized locally
func (r *Result) IsFallback() bool {
	return r.Source == SourceFallback
}

// HasLevels reports whether entry, stop and target are all set
func (r *Result) HasLevels() bool {
	return r.EntryPrice > 0 && r.StopLoss > 0 && r.TakeProfit > 0
}

// ApplySpecialization records the overlay and adjusts confidence
func (r *Result) ApplySpecialization(s Specialization) {
	r.Specialization = &s
	if !s.Applied {
		return
	}
	r.Confidence = clamp(r.Confidence+s.ConfidenceDelta, 0, 1)
	r.Warnings = append(r.Warnings, s.Notes...)
	if r.Source == SourceProvider {
		r.LowConfidence = r.Confidence < lowConfidenceThreshold
	}
}

// riskReward returns |target-entry| / |entry-stop| rounded to 2 places,
// or 0 when risk is zero or a level is missing
func riskReward(entry, stop, target float64) float64 {
	if entry <= 0 || stop <= 0 || target <= 0 {
		return 0
	}
	risk := math.Abs(entry - stop)
	if risk == 0 {
		return 0
	}
	return round2(math.Abs(target-entry) / risk)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Max(lo, math.Min(hi, v))
}
