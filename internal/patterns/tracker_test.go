package patterns

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chart-trade-analyzer/internal/storage/memory"
	"chart-trade-analyzer/internal/trade"
)

func newTestTracker() *Tracker {
	return NewTracker(memory.NewPatternStore(), DefaultConfig(), zerolog.Nop())
}

func TestSeedCreatesVocabulary(t *testing.T) {
	ctx := context.Background()
	tr := newTestTracker()

	require.NoError(t, tr.Seed(ctx))
	require.NoError(t, tr.Seed(ctx))

	stats, err := tr.SetupStats(ctx)
	require.NoError(t, err)
	assert.Len(t, stats, len(trade.SetupPatterns))
	for _, s := range stats {
		assert.Equal(t, 0, s.TotalCount)
		assert.InDelta(t, 0.5, s.ConfidenceScore, 1e-9)
	}
}

func TestRecordSetupOutcome_Nudges(t *testing.T) {
	ctx := context.Background()
	tr := newTestTracker()
	require.NoError(t, tr.Seed(ctx))

	stat, err := tr.RecordSetupOutcome(ctx, "breakout", trade.OutcomeWin)
	require.NoError(t, err)
	assert.Equal(t, 1, stat.SuccessCount)
	assert.Equal(t, 1, stat.TotalCount)
	assert.InDelta(t, 0.55, stat.ConfidenceScore, 1e-9)

	stat, err = tr.RecordSetupOutcome(ctx, "breakout", trade.OutcomeLoss)
	require.NoError(t, err)
	assert.Equal(t, 1, stat.SuccessCount)
	assert.Equal(t, 2, stat.TotalCount)
	assert.InDelta(t, 0.45, stat.ConfidenceScore, 1e-9)

	stat, err = tr.RecordSetupOutcome(ctx, "breakout", trade.OutcomeBreakeven)
	require.NoError(t, err)
	assert.Equal(t, 3, stat.TotalCount)
	assert.InDelta(t, 0.45, stat.ConfidenceScore, 1e-9)
}

func TestRecordSetupOutcome_Bounds(t *testing.T) {
	ctx := context.Background()
	tr := newTestTracker()

	for i := 0; i < 20; i++ {
		_, err := tr.RecordSetupOutcome(ctx, "flag", trade.OutcomeWin)
		require.NoError(t, err)
	}
	stat, err := tr.SetupStat(ctx, "flag")
	require.NoError(t, err)
	assert.Equal(t, 1.0, stat.ConfidenceScore)
	assert.Equal(t, 20, stat.TotalCount)

	for i := 0; i < 20; i++ {
		_, err := tr.RecordSetupOutcome(ctx, "flag", trade.OutcomeLoss)
		require.NoError(t, err)
	}
	stat, err = tr.SetupStat(ctx, "flag")
	require.NoError(t, err)
	assert.Equal(t, 0.0, stat.ConfidenceScore)
	assert.Equal(t, 40, stat.TotalCount)
	assert.Equal(t, 20, stat.SuccessCount)
}

func TestRecordSetupOutcome_RejectsBadInput(t *testing.T) {
	ctx := context.Background()
	tr := newTestTracker()

	_, err := tr.RecordSetupOutcome(ctx, "  ", trade.OutcomeWin)
	assert.ErrorIs(t, err, ErrEmptyPattern)

	_, err = tr.RecordSetupOutcome(ctx, "breakout", trade.OutcomePending)
	assert.ErrorIs(t, err, trade.ErrUnknownOutcome)

	stat, err := tr.SetupStat(ctx, "breakout")
	require.NoError(t, err)
	assert.Nil(t, stat)
}

func TestRecordExecutionPattern_WeightedMean(t *testing.T) {
	ctx := context.Background()
	tr := newTestTracker()
	t0 := time.Date(2024, 5, 1, 14, 0, 0, 0, time.UTC)

	impacts := []float64{-0.5, 0.25, -1.0}
	var stat *trade.ExecutionPatternStat
	var err error
	for i, impact := range impacts {
		stat, err = tr.RecordExecutionPattern(ctx, trade.ExecEarlyEntry, impact, t0.Add(time.Duration(i)*time.Hour))
		require.NoError(t, err)
	}

	assert.Equal(t, 3, stat.FrequencyCount)
	assert.InDelta(t, (-0.5+0.25-1.0)/3, stat.AverageImpact, 1e-9)
	assert.Equal(t, t0, stat.FirstSeen)
	assert.Equal(t, t0.Add(2*time.Hour), stat.LastSeen)
	assert.InDelta(t, 0.3, stat.ConfidenceScore, 1e-9)

	// (old_avg * old_freq + new) / (old_freq + 1)
	prevAvg, prevFreq := stat.AverageImpact, float64(stat.FrequencyCount)
	stat, err = tr.RecordExecutionPattern(ctx, trade.ExecEarlyEntry, 2.0, t0.Add(3*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 4, stat.FrequencyCount)
	assert.InDelta(t, (prevAvg*prevFreq+2.0)/(prevFreq+1), stat.AverageImpact, 1e-9)
}

func TestRecordExecutionPattern_ConcurrentSameKey(t *testing.T) {
	ctx := context.Background()
	tr := newTestTracker()

	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := tr.RecordExecutionPattern(ctx, trade.ExecLateEntry, 1.0, time.Now())
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	stats, err := tr.ExecutionStats(ctx)
	require.NoError(t, err)
	require.Len(t, stats, 1)
	assert.Equal(t, 40, stats[0].FrequencyCount)
	assert.InDelta(t, 1.0, stats[0].AverageImpact, 1e-9)
}

func TestSummarize(t *testing.T) {
	ctx := context.Background()
	tr := newTestTracker()
	require.NoError(t, tr.Seed(ctx))

	_, _ = tr.RecordSetupOutcome(ctx, "breakout", trade.OutcomeWin)
	_, _ = tr.RecordSetupOutcome(ctx, "pullback", trade.OutcomeLoss)
	_, _ = tr.RecordExecutionPattern(ctx, trade.ExecEarlyEntry, -0.4, time.Now())
	_, _ = tr.RecordExecutionPattern(ctx, trade.ExecEarlyEntry, -0.2, time.Now())
	_, _ = tr.RecordExecutionPattern(ctx, trade.ExecTargetExtension, 0.5, time.Now())

	sum, err := tr.Summarize(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, sum.ObservedSetups)
	assert.InDelta(t, 0.5, sum.OverallSuccessRate, 1e-9)
	assert.Equal(t, "breakout", sum.BestSetup)
	assert.Equal(t, trade.ExecEarlyEntry, sum.MostFrequentBehavior)
	assert.InDelta(t, -0.3, sum.WorstAverageImpact, 1e-9)
}
