package specialization

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"chart-trade-analyzer/internal/analysis"
	"chart-trade-analyzer/internal/timeframe"
)

// Profile describes how one instrument trades
type Profile struct {
	Symbol            string  `json:"symbol" yaml:"symbol"`
	Description       string  `json:"description" yaml:"description"`
	PointValue        float64 `json:"point_value" yaml:"point_value"`
	TickSize          float64 `json:"tick_size" yaml:"tick_size"`
	TypicalStopMin    float64 `json:"typical_stop_min" yaml:"typical_stop_min"`
	TypicalStopMax    float64 `json:"typical_stop_max" yaml:"typical_stop_max"`
	PreferredSession  string  `json:"preferred_session" yaml:"preferred_session"`
	ScalpingSupported bool    `json:"scalping_supported" yaml:"scalping_supported"`
}

// Adjustments are the confidence and risk nudges applied per request
type Adjustments struct {
	EntryPresentBonus        float64 `json:"entry_present_bonus" yaml:"entry_present_bonus"`
	EntryMissingPenalty      float64 `json:"entry_missing_penalty" yaml:"entry_missing_penalty"`
	EntryMissingRiskCap      float64 `json:"entry_missing_risk_cap" yaml:"entry_missing_risk_cap"`
	TrendMissingPenalty      float64 `json:"trend_missing_penalty" yaml:"trend_missing_penalty"`
	LowCompletenessThreshold int     `json:"low_completeness_threshold" yaml:"low_completeness_threshold"`
	LowCompletenessRiskCap   float64 `json:"low_completeness_risk_cap" yaml:"low_completeness_risk_cap"`
}

// Config holds the instrument profiles and adjustments
type Config struct {
	Profiles    map[string]Profile `json:"profiles" yaml:"profiles"`
	Adjustments Adjustments        `json:"adjustments" yaml:"adjustments"`
}

// DefaultConfig returns profiles for the common index futures and BTC
func DefaultConfig() *Config {
	return &Config{
		Profiles: map[string]Profile{
			"NQ": {
				Symbol: "NQ", Description: "E-mini Nasdaq-100",
				PointValue: 20, TickSize: 0.25, TypicalStopMin: 10, TypicalStopMax: 40,
				PreferredSession: "new_york", ScalpingSupported: true,
			},
			"MNQ": {
				Symbol: "MNQ", Description: "Micro E-mini Nasdaq-100",
				PointValue: 2, TickSize: 0.25, TypicalStopMin: 10, TypicalStopMax: 40,
				PreferredSession: "new_york", ScalpingSupported: true,
			},
			"ES": {
				Symbol: "ES", Description: "E-mini S&P 500",
				PointValue: 50, TickSize: 0.25, TypicalStopMin: 3, TypicalStopMax: 12,
				PreferredSession: "new_york", ScalpingSupported: true,
			},
			"BTCUSDT": {
				Symbol: "BTCUSDT", Description: "Bitcoin perpetual",
				PointValue: 1, TickSize: 0.1, TypicalStopMin: 50, TypicalStopMax: 600,
				ScalpingSupported: true,
			},
		},
		Adjustments: Adjustments{
			EntryPresentBonus:        0.10,
			EntryMissingPenalty:      0.15,
			EntryMissingRiskCap:      0.5,
			TrendMissingPenalty:      0.05,
			LowCompletenessThreshold: 60,
			LowCompletenessRiskCap:   0.75,
		},
	}
}

// Advisor produces instrument and style specific overlays
type Advisor struct {
	config *Config
	logger zerolog.Logger
}

// NewAdvisor creates an advisor. Profile keys are matched case-insensitively.
func NewAdvisor(cfg *Config, logger zerolog.Logger) *Advisor {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	profiles := make(map[string]Profile, len(cfg.Profiles))
	for key, p := range cfg.Profiles {
		key = strings.ToUpper(strings.TrimSpace(key))
		if p.Symbol == "" {
			p.Symbol = key
		}
		if p.PointValue <= 0 {
			p.PointValue = 1
		}
		profiles[key] = p
	}
	return &Advisor{
		config: &Config{Profiles: profiles, Adjustments: cfg.Adjustments},
		logger: logger.With().Str("component", "specialization").Logger(),
	}
}

// Profile looks up an instrument profile
func (a *Advisor) Profile(instrument string) (Profile, bool) {
	p, ok := a.config.Profiles[strings.ToUpper(strings.TrimSpace(instrument))]
	return p, ok
}

// Instruments lists the configured symbols in order
func (a *Advisor) Instruments() []string {
	out := make([]string, 0, len(a.config.Profiles))
	for k := range a.config.Profiles {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// PointValue returns the currency value of one point, 1 for unknown
// instruments
func (a *Advisor) PointValue(instrument string) float64 {
	if p, ok := a.Profile(instrument); ok {
		return p.PointValue
	}
	return 1
}

// Advise evaluates the hierarchy against the instrument profile and style
func (a *Advisor) Advise(h *timeframe.Hierarchy, tc analysis.TradingContext) analysis.Specialization {
	p, ok := a.Profile(tc.Instrument)
	if !ok {
		return analysis.Specialization{RiskMultiplier: 1, PointValue: 1}
	}

	adj := a.config.Adjustments
	spec := analysis.Specialization{
		Applied:        true,
		Profile:        p.Symbol,
		RiskMultiplier: 1,
		PointValue:     p.PointValue,
	}

	if h == nil {
		h = &timeframe.Hierarchy{}
	}

	if tc.IsScalping() {
		if !p.ScalpingSupported {
			spec.Notes = append(spec.Notes, fmt.Sprintf("%s is not a typical scalping instrument", p.Symbol))
		}
		if h.Entry != nil {
			spec.ConfidenceDelta += adj.EntryPresentBonus
			spec.Notes = append(spec.Notes, fmt.Sprintf("entry timing available on %s", h.Entry.Label))
		} else {
			spec.ConfidenceDelta -= adj.EntryMissingPenalty
			spec.RiskMultiplier = math.Min(spec.RiskMultiplier, adj.EntryMissingRiskCap)
			spec.Notes = append(spec.Notes, "no entry-timing chart for a scalping plan; reduce size")
		}
		if h.Trend == nil {
			spec.ConfidenceDelta -= adj.TrendMissingPenalty
			spec.Notes = append(spec.Notes, "no trend chart; trade against higher-timeframe flow is possible")
		}
	}

	if h.Completeness < adj.LowCompletenessThreshold {
		spec.RiskMultiplier = math.Min(spec.RiskMultiplier, adj.LowCompletenessRiskCap)
		spec.Notes = append(spec.Notes, fmt.Sprintf("hierarchy completeness %d below %d", h.Completeness, adj.LowCompletenessThreshold))
	}

	if p.PreferredSession != "" && tc.SessionInfo != "" && !strings.EqualFold(tc.SessionInfo, p.PreferredSession) {
		spec.Notes = append(spec.Notes, fmt.Sprintf("%s liquidity is best in the %s session", p.Symbol, p.PreferredSession))
	}

	spec.ConfidenceDelta = math.Round(spec.ConfidenceDelta*100) / 100

	a.logger.Debug().
		Str("profile", spec.Profile).
		Float64("confidence_delta", spec.ConfidenceDelta).
		Float64("risk_multiplier", spec.RiskMultiplier).
		Msg("Specialization advised")
	return spec
}

var _ analysis.Specializer = (*Advisor)(nil)
