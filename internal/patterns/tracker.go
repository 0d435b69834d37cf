// Package patterns keeps the running learning aggregates for setup patterns
// and execution behavior.
package patterns

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"chart-trade-analyzer/internal/storage"
	"chart-trade-analyzer/internal/trade"
)

// Config holds the learning constants
type Config struct {
	InitialConfidence       float64 `json:"initial_confidence" yaml:"initial_confidence"`
	SuccessNudge            float64 `json:"success_nudge" yaml:"success_nudge"`
	FailureNudge            float64 `json:"failure_nudge" yaml:"failure_nudge"`
	ExecutionConfidenceStep float64 `json:"execution_confidence_step" yaml:"execution_confidence_step"`
}

// DefaultConfig returns the default learning constants
func DefaultConfig() Config {
	return Config{
		InitialConfidence:       0.5,
		SuccessNudge:            0.05,
		FailureNudge:            0.10,
		ExecutionConfidenceStep: 0.1,
	}
}

var ErrEmptyPattern = errors.New("pattern name is required")

// Tracker updates setup and execution pattern aggregates
type Tracker struct {
	store  storage.PatternStore
	config Config
	logger zerolog.Logger
	now    func() time.Time
}

// NewTracker creates a new pattern tracker
func NewTracker(store storage.PatternStore, config Config, logger zerolog.Logger) *Tracker {
	return &Tracker{
		store:  store,
		config: config,
		logger: logger.With().Str("component", "PatternTracker").Logger(),
		now:    time.Now,
	}
}

// Seed inserts the fixed setup vocabulary. Existing rows are left alone.
func (t *Tracker) Seed(ctx context.Context) error {
	seeds := make([]trade.SetupPatternStat, 0, len(trade.SetupPatterns))
	for _, name := range trade.SetupPatterns {
		seeds = append(seeds, trade.SetupPatternStat{
			PatternName:     name,
			ConfidenceScore: t.config.InitialConfidence,
		})
	}
	if err := t.store.SeedSetupPatterns(ctx, seeds); err != nil {
		return fmt.Errorf("seed setup patterns: %w", err)
	}
	t.logger.Info().Int("patterns", len(seeds)).Msg("Setup pattern vocabulary seeded")
	return nil
}

// RecordSetupOutcome folds one observed outcome into the setup pattern's
// aggregate. Every outcome counts toward total_count; wins raise
// confidence, losses lower it, breakevens only count.
func (t *Tracker) RecordSetupOutcome(ctx context.Context, pattern string, outcome trade.Outcome) (*trade.SetupPatternStat, error) {
	pattern = normalizePattern(pattern)
	if pattern == "" {
		return nil, ErrEmptyPattern
	}
	if !outcome.Known() {
		return nil, fmt.Errorf("%w: %q", trade.ErrUnknownOutcome, outcome)
	}

	initial := trade.SetupPatternStat{
		PatternName:     pattern,
		ConfidenceScore: t.config.InitialConfidence,
	}

	stat, err := t.store.UpsertSetupPattern(ctx, initial, func(s *trade.SetupPatternStat) {
		s.TotalCount++
		switch outcome {
		case trade.OutcomeWin:
			s.SuccessCount++
			s.ConfidenceScore = math.Min(1.0, s.ConfidenceScore+t.config.SuccessNudge)
		case trade.OutcomeLoss:
			s.ConfidenceScore = math.Max(0.0, s.ConfidenceScore-t.config.FailureNudge)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("update setup pattern %s: %w", pattern, err)
	}

	t.logger.Debug().
		Str("pattern", pattern).
		Str("outcome", string(outcome)).
		Int("total", stat.TotalCount).
		Float64("confidence", stat.ConfidenceScore).
		Msg("Setup pattern updated")
	return stat, nil
}

// RecordExecutionPattern folds one occurrence of a behavioral pattern with
// the given reward/risk impact into its running weighted mean.
func (t *Tracker) RecordExecutionPattern(ctx context.Context, pattern string, impact float64, at time.Time) (*trade.ExecutionPatternStat, error) {
	pattern = normalizePattern(pattern)
	if pattern == "" {
		return nil, ErrEmptyPattern
	}
	if math.IsNaN(impact) || math.IsInf(impact, 0) {
		impact = 0
	}
	if at.IsZero() {
		at = t.now()
	}

	initial := trade.ExecutionPatternStat{
		PatternType: pattern,
		FirstSeen:   at,
		LastSeen:    at,
	}

	stat, err := t.store.UpsertExecutionPattern(ctx, initial, func(s *trade.ExecutionPatternStat) {
		oldFreq := float64(s.FrequencyCount)
		s.AverageImpact = (s.AverageImpact*oldFreq + impact) / (oldFreq + 1)
		s.FrequencyCount++
		s.ConfidenceScore = math.Min(1.0, float64(s.FrequencyCount)*t.config.ExecutionConfidenceStep)
		if s.FirstSeen.IsZero() {
			s.FirstSeen = at
		}
		s.LastSeen = at
	})
	if err != nil {
		return nil, fmt.Errorf("update execution pattern %s: %w", pattern, err)
	}

	t.logger.Debug().
		Str("pattern", pattern).
		Float64("impact", impact).
		Int("frequency", stat.FrequencyCount).
		Float64("average_impact", stat.AverageImpact).
		Msg("Execution pattern updated")
	return stat, nil
}

// SetupStats returns every setup pattern aggregate
func (t *Tracker) SetupStats(ctx context.Context) ([]trade.SetupPatternStat, error) {
	return t.store.ListSetupPatterns(ctx)
}

// ExecutionStats returns every execution pattern aggregate
func (t *Tracker) ExecutionStats(ctx context.Context) ([]trade.ExecutionPatternStat, error) {
	return t.store.ListExecutionPatterns(ctx)
}

// SetupStat returns one setup pattern aggregate
func (t *Tracker) SetupStat(ctx context.Context, name string) (*trade.SetupPatternStat, error) {
	stat, err := t.store.GetSetupPattern(ctx, normalizePattern(name))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	return stat, err
}

// Summary is a compact view used by scheduled reporting
type Summary struct {
	SetupPatterns        int     `json:"setup_patterns"`
	ObservedSetups       int     `json:"observed_setups"`
	OverallSuccessRate   float64 `json:"overall_success_rate"`
	BestSetup            string  `json:"best_setup,omitempty"`
	ExecutionPatterns    int     `json:"execution_patterns"`
	MostFrequentBehavior string  `json:"most_frequent_behavior,omitempty"`
	WorstAverageImpact   float64 `json:"worst_average_impact"`
}

// Summarize aggregates both tables into a Summary
func (t *Tracker) Summarize(ctx context.Context) (*Summary, error) {
	setups, err := t.store.ListSetupPatterns(ctx)
	if err != nil {
		return nil, fmt.Errorf("list setup patterns: %w", err)
	}
	executions, err := t.store.ListExecutionPatterns(ctx)
	if err != nil {
		return nil, fmt.Errorf("list execution patterns: %w", err)
	}

	sum := &Summary{SetupPatterns: len(setups), ExecutionPatterns: len(executions)}

	wins, bestConfidence := 0, -1.0
	for _, s := range setups {
		sum.ObservedSetups += s.TotalCount
		wins += s.SuccessCount
		if s.TotalCount > 0 && s.ConfidenceScore > bestConfidence {
			bestConfidence = s.ConfidenceScore
			sum.BestSetup = s.PatternName
		}
	}
	if sum.ObservedSetups > 0 {
		sum.OverallSuccessRate = float64(wins) / float64(sum.ObservedSetups)
	}

	maxFreq := 0
	for _, e := range executions {
		if e.FrequencyCount > maxFreq {
			maxFreq = e.FrequencyCount
			sum.MostFrequentBehavior = e.PatternType
		}
		if e.AverageImpact < sum.WorstAverageImpact {
			sum.WorstAverageImpact = e.AverageImpact
		}
	}
	return sum, nil
}

func normalizePattern(name string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), " ", "_")
}
