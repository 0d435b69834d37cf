package analysis

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chart-trade-analyzer/internal/trade"
)

func TestExtractJSONObject(t *testing.T) {
	tests := []struct {
		name string
		text string
		key  string
		want interface{}
	}{
		{"plain", `{"confidence":0.8}`, "confidence", 0.8},
		{"fenced", "Here is the analysis:\n```json\n{\"pattern_type\":\"flag\"}\n```\nGood luck.", "pattern_type", "flag"},
		{"prose around", `The setup looks clean. {"setup_quality": 7} Let me know.`, "setup_quality", 7.0},
		{"brace inside string", `{"reasoning":"watch the {gap} and \"quote\"","confidence":0.4}`, "reasoning", `watch the {gap} and "quote"`},
		{"broken first object", `{not json} then {"direction":"long"}`, "direction", "long"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			obj, err := extractJSONObject(tt.text)
			require.NoError(t, err)
			assert.Equal(t, tt.want, obj[tt.key])
		})
	}
}

func TestExtractJSONObjectNone(t *testing.T) {
	for _, text := range []string{"", "no json here", "{unterminated", "[1,2,3]"} {
		if _, err := extractJSONObject(text); err != ErrNoJSON {
			t.Errorf("Expected ErrNoJSON for %q, got %v", text, err)
		}
	}
}

func TestParseProviderResultClean(t *testing.T) {
	obj, err := extractJSONObject(`{
		"pattern_type": "pullback",
		"setup_quality": 8,
		"direction": "long",
		"confidence": 0.75,
		"entry_price": 19700,
		"stop_loss": 19680,
		"take_profit": 19740,
		"risk_reward_ratio": 2.0,
		"risk_amount": 400,
		"timeframe_analysis": [{"timeframe": "15min", "trend": "bullish", "notes": "higher lows"}],
		"key_levels": [19680, 19740],
		"reasoning": "pullback into support",
		"warnings": []
	}`)
	require.NoError(t, err)

	res := parseProviderResult(obj, 20)
	assert.Equal(t, "pullback", res.PatternType)
	assert.Equal(t, 8, res.SetupQuality)
	assert.Equal(t, trade.DirectionLong, res.Direction)
	assert.Equal(t, 0.75, res.Confidence)
	assert.Equal(t, 2.0, res.RiskRewardRatio)
	assert.Equal(t, 400.0, res.RiskAmount)
	assert.Equal(t, SourceProvider, res.Source)
	assert.False(t, res.LowConfidence)
	assert.Empty(t, res.Repairs)
	require.Len(t, res.TimeframeAnalysis, 1)
	assert.Equal(t, TrendBullish, res.TimeframeAnalysis[0].Trend)
}

func TestParseProviderResultRepairsFields(t *testing.T) {
	obj, err := extractJSONObject(`{
		"pattern_type": "Bull Flag",
		"setup_quality": 15,
		"direction": "UP",
		"confidence": 1.7,
		"entry_price": "19,700.50",
		"stop_loss": -5,
		"take_profit": 19740,
		"risk_reward_ratio": 50,
		"timeframe_analysis": [{"timeframe": "5min", "trend": "sideways"}, "junk"],
		"key_levels": 19700,
		"reasoning": 42,
		"warnings": "news at 10:00"
	}`)
	require.NoError(t, err)

	res := parseProviderResult(obj, 20)

	assert.Equal(t, trade.UnknownPattern, res.PatternType)
	assert.Equal(t, 10, res.SetupQuality)
	assert.Equal(t, 1.0, res.Confidence)
	assert.Equal(t, 19700.5, res.EntryPrice)
	assert.Equal(t, 0.0, res.StopLoss)
	assert.Equal(t, 19740.0, res.TakeProfit)
	assert.Equal(t, trade.DirectionLong, res.Direction, "direction should be inferred from levels")
	assert.Equal(t, maxRiskReward, res.RiskRewardRatio)
	assert.Equal(t, 0.0, res.RiskAmount, "risk cannot be derived without a stop")
	assert.Equal(t, []float64{19700}, res.KeyLevels)
	assert.Equal(t, []string{"news at 10:00"}, res.Warnings)
	assert.Equal(t, "42", res.Reasoning)
	require.Len(t, res.TimeframeAnalysis, 1)
	assert.Equal(t, TrendNeutral, res.TimeframeAnalysis[0].Trend)
	assert.NotEmpty(t, res.Repairs)
}

func TestParseProviderResultDerivesMissingValues(t *testing.T) {
	res := parseProviderResult(map[string]interface{}{
		"entry_price": 100.0,
		"stop_loss":   95.0,
		"take_profit": 110.0,
		"confidence":  0.2,
	}, 20)

	if res.RiskRewardRatio != 2.0 {
		t.Errorf("Expected derived RR 2.0, got %v", res.RiskRewardRatio)
	}
	if res.RiskAmount != 100 {
		t.Errorf("Expected derived risk 100, got %v", res.RiskAmount)
	}
	if res.SetupQuality != defaultSetupQuality {
		t.Errorf("Expected default quality, got %d", res.SetupQuality)
	}
	if !res.LowConfidence {
		t.Error("Expected low confidence flag below threshold")
	}
	if res.PatternType != trade.UnknownPattern {
		t.Errorf("Expected unknown pattern, got %s", res.PatternType)
	}
}

func TestParseProviderResultEmptyObject(t *testing.T) {
	res := parseProviderResult(map[string]interface{}{}, 1)

	assert.Equal(t, defaultConfidence, res.Confidence)
	assert.Equal(t, trade.DirectionNeutral, res.Direction)
	assert.NotNil(t, res.KeyLevels)
	assert.NotNil(t, res.Warnings)
	assert.NotNil(t, res.TimeframeAnalysis)
	assert.Zero(t, res.RiskRewardRatio)
}
