package timeframe

import (
	"strings"
	"testing"
)

// ============================================================================
// CLASSIFIER
// ============================================================================

func TestClassifyCanonicalLabels(t *testing.T) {
	tests := []struct {
		label    string
		category Category
		priority Priority
		minutes  float64
	}{
		{"1min", CategoryUltraShort, PriorityEntryTiming, 1},
		{"5m", CategoryUltraShort, PriorityEntryTiming, 5},
		{" 1 Minute ", CategoryUltraShort, PriorityEntryTiming, 1},
		{"tick", CategoryUltraShort, PriorityEntryTiming, 0},
		{"15min", CategoryShortTerm, PriorityStructure, 15},
		{"1H", CategoryShortTerm, PriorityStructure, 60},
		{"4hr", CategoryShortTerm, PriorityStructure, 240},
		{"hourly", CategoryShortTerm, PriorityStructure, 60},
		{"daily", CategoryMediumTerm, PriorityTrend, 1440},
		{"1D", CategoryMediumTerm, PriorityTrend, 1440},
		{"12h", CategoryMediumTerm, PriorityTrend, 720},
		{"weekly", CategoryLongTerm, PriorityBias, 10080},
		{"1w", CategoryLongTerm, PriorityBias, 10080},
		{"monthly", CategoryLongTerm, PriorityBias, 43200},
	}

	for _, tt := range tests {
		t.Run(tt.label, func(t *testing.T) {
			got := Classify(tt.label)
			if got.Category != tt.category {
				t.Errorf("Expected category %s, got %s", tt.category, got.Category)
			}
			if got.Priority != tt.priority {
				t.Errorf("Expected priority %s, got %s", tt.priority, got.Priority)
			}
			if got.Minutes != tt.minutes {
				t.Errorf("Expected %v minutes, got %v", tt.minutes, got.Minutes)
			}
			if got.Label != tt.label {
				t.Errorf("Expected original label %q to be kept, got %q", tt.label, got.Label)
			}
		})
	}
}

func TestClassifyNumericThresholds(t *testing.T) {
	tests := []struct {
		label    string
		category Category
	}{
		{"30s", CategoryUltraShort},
		{"90min", CategoryShortTerm},
		{"3 hours", CategoryShortTerm},
		{"5hr", CategoryMediumTerm},
		{"24h", CategoryMediumTerm},
		{"3d", CategoryMediumTerm},
		{"4 days", CategoryLongTerm},
		{"2w", CategoryLongTerm},
		{"6mo", CategoryLongTerm},
	}

	for _, tt := range tests {
		t.Run(tt.label, func(t *testing.T) {
			if got := Classify(tt.label).Category; got != tt.category {
				t.Errorf("Expected %s for %q, got %s", tt.category, tt.label, got)
			}
		})
	}
}

func TestClassifyBareNumbersAndMonthShorthand(t *testing.T) {
	tests := []struct {
		label    string
		category Category
		minutes  float64
	}{
		{"15", CategoryShortTerm, 15},
		{"60", CategoryShortTerm, 60},
		{"240", CategoryShortTerm, 240},
		{"1440", CategoryMediumTerm, 1440},
		{"1M", CategoryLongTerm, 43200},
		{"3M", CategoryLongTerm, 3 * 43200},
		{"1m", CategoryUltraShort, 1},
	}

	for _, tt := range tests {
		t.Run(tt.label, func(t *testing.T) {
			got := Classify(tt.label)
			if got.Category != tt.category {
				t.Errorf("Expected category %s for %q, got %s", tt.category, tt.label, got.Category)
			}
			if got.Minutes != tt.minutes {
				t.Errorf("Expected %v minutes for %q, got %v", tt.minutes, tt.label, got.Minutes)
			}
		})
	}

	if Normalize("1M") == Normalize("1m") {
		t.Error("Expected 1M and 1m to normalize differently")
	}
	if _, err := Resolve([]Input{{Label: "1m"}, {Label: "1M"}}); err != nil {
		t.Errorf("Expected 1m and 1M to resolve together, got %v", err)
	}
}

func TestClassifyUnknownIsCustom(t *testing.T) {
	labels := []string{"", "   ", "my favourite chart", "0m", "renko 10", "🚀", strings.Repeat("x", 500), "1.2.3h"}

	for _, label := range labels {
		got := Classify(label)
		if got.Category != CategoryCustom {
			t.Errorf("Expected custom for %q, got %s", label, got.Category)
		}
		if got.Priority != PriorityContext {
			t.Errorf("Expected context priority for %q, got %s", label, got.Priority)
		}
		if got.Weight != customWeight {
			t.Errorf("Expected weight %v for %q, got %v", customWeight, label, got.Weight)
		}
	}
}

func TestClassifyIsDeterministic(t *testing.T) {
	for _, label := range []string{"5min", "daily", "whatever", "2h"} {
		first := Classify(label)
		for i := 0; i < 5; i++ {
			if again := Classify(label); again != first {
				t.Fatalf("Classification of %q changed between calls: %+v vs %+v", label, first, again)
			}
		}
	}
}

func TestWeightsIncreaseWithHorizon(t *testing.T) {
	order := []string{"1m", "15m", "daily", "weekly"}
	for i := 1; i < len(order); i++ {
		prev, cur := Classify(order[i-1]), Classify(order[i])
		if cur.Weight <= prev.Weight {
			t.Errorf("Expected %s weight > %s weight, got %v <= %v", order[i], order[i-1], cur.Weight, prev.Weight)
		}
	}
}

func TestSuitabilityDependsOnStyle(t *testing.T) {
	scalper := NewClassifier(StyleScalping)
	swing := NewClassifier(StyleSwing)

	if got := scalper.Classify("1m").Suitability; got != SuitabilityOptimal {
		t.Errorf("Expected 1m optimal for scalping, got %s", got)
	}
	if got := swing.Classify("1m").Suitability; got != SuitabilityPoor {
		t.Errorf("Expected 1m poor for swing, got %s", got)
	}
	if got := NewClassifier("unknown").Style(); got != DefaultStyle {
		t.Errorf("Expected unknown style to fall back to %s, got %s", DefaultStyle, got)
	}
}

func TestValidateLabel(t *testing.T) {
	valid := []string{"5min", "Daily", "my custom chart"}
	for _, label := range valid {
		if err := ValidateLabel(label); err != nil {
			t.Errorf("Expected %q to be valid, got %v", label, err)
		}
	}

	invalid := []string{"", "   ", "bad\x00label", "tab\tlabel", strings.Repeat("a", MaxLabelLength+1)}
	for _, label := range invalid {
		if err := ValidateLabel(label); err != ErrInvalidLabel {
			t.Errorf("Expected ErrInvalidLabel for %q, got %v", label, err)
		}
	}
}
