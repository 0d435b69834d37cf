package analysis

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"chart-trade-analyzer/internal/timeframe"
	"chart-trade-analyzer/internal/trade"
)

func TestExtractLevels(t *testing.T) {
	tests := []struct {
		notes string
		want  ExtractedLevels
	}{
		{"entry 19700 stop 19680 target 19740", ExtractedLevels{19700, 19680, 19740}},
		{"Entry: 19,700.50, Stop Loss: 19,680 take-profit @ 19740", ExtractedLevels{19700.5, 19680, 19740}},
		{"SL=4995 TP=5020 entry at $5000", ExtractedLevels{5000, 4995, 5020}},
		{"entry 100 entry 200", ExtractedLevels{Entry: 100}},
		{"looking for a long near the open", ExtractedLevels{}},
		{"slippage 3 stopped out twice", ExtractedLevels{}},
	}

	for _, tt := range tests {
		got := ExtractLevels(tt.notes)
		if got != tt.want {
			t.Errorf("ExtractLevels(%q): expected %+v, got %+v", tt.notes, tt.want, got)
		}
	}
}

func TestFallbackAllLevels(t *testing.T) {
	res := synthesizeFallback("entry 19700 stop 19680 target 19740", nil, 2.0, 1, "transient")

	assert.Equal(t, 19700.0, res.EntryPrice)
	assert.Equal(t, 19680.0, res.StopLoss)
	assert.Equal(t, 19740.0, res.TakeProfit)
	assert.Equal(t, 2.0, res.RiskRewardRatio)
	assert.Equal(t, 20.0, res.RiskAmount)
	assert.Equal(t, trade.DirectionLong, res.Direction)
	assert.Equal(t, SourceFallback, res.Source)
	assert.Equal(t, "transient", res.FailureKind)
	assert.True(t, res.LowConfidence)
	assert.Equal(t, fallbackConfidenceWithLevels, res.Confidence)
	assert.Equal(t, []float64{19680, 19700, 19740}, res.KeyLevels)
}

func TestFallbackInfersMissingLevel(t *testing.T) {
	tests := []struct {
		name  string
		notes string
		want  ExtractedLevels
		dir   trade.Direction
	}{
		{"missing target long", "entry 100 stop 90", ExtractedLevels{100, 90, 120}, trade.DirectionLong},
		{"missing target short", "entry 100 stop 110", ExtractedLevels{100, 110, 80}, trade.DirectionShort},
		{"missing stop", "entry 100 target 130", ExtractedLevels{100, 85, 130}, trade.DirectionLong},
		{"missing entry", "stop 90 target 120", ExtractedLevels{100, 90, 120}, trade.DirectionLong},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := synthesizeFallback(tt.notes, nil, 2.0, 1, "auth")
			assert.Equal(t, tt.want, ExtractedLevels{res.EntryPrice, res.StopLoss, res.TakeProfit})
			assert.Equal(t, 2.0, res.RiskRewardRatio)
			assert.Equal(t, tt.dir, res.Direction)
			assert.True(t, res.LowConfidence)
			assert.Len(t, res.Warnings, 2)
		})
	}
}

func TestFallbackNoLevels(t *testing.T) {
	h, err := timeframe.Resolve([]timeframe.Input{{Label: "5m"}, {Label: "daily"}})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	res := synthesizeFallback("entry 19700 only", h, 2.0, 20, "transient")

	if res.EntryPrice != 0 || res.StopLoss != 0 || res.TakeProfit != 0 {
		t.Errorf("Expected zero prices, got %v/%v/%v", res.EntryPrice, res.StopLoss, res.TakeProfit)
	}
	if res.RiskRewardRatio != 0 {
		t.Errorf("Expected RR 0, got %v", res.RiskRewardRatio)
	}
	if res.SetupQuality != 1 || res.Confidence != 0.1 {
		t.Errorf("Expected quality 1 and confidence 0.1, got %d and %v", res.SetupQuality, res.Confidence)
	}
	if res.Direction != trade.DirectionNeutral {
		t.Errorf("Expected neutral direction, got %s", res.Direction)
	}
	if len(res.TimeframeAnalysis) != 2 {
		t.Errorf("Expected one note per timeframe, got %d", len(res.TimeframeAnalysis))
	}
	if !res.LowConfidence || !res.IsFallback() {
		t.Error("Expected a low-confidence fallback result")
	}
}

func TestFallbackIsDeterministic(t *testing.T) {
	a := synthesizeFallback("tp 5020 sl 4995 entry 5000", nil, 2.0, 50, "transient")
	b := synthesizeFallback("tp 5020 sl 4995 entry 5000", nil, 2.0, 50, "transient")
	assert.Equal(t, a, b)
	assert.Equal(t, trade.DirectionLong, a.Direction)
	assert.Equal(t, 4.0, a.RiskRewardRatio)
	assert.Equal(t, 250.0, a.RiskAmount)
}
