package analysis

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"chart-trade-analyzer/internal/timeframe"
	"chart-trade-analyzer/internal/trade"
)

// Fallback confidence levels
const (
	fallbackConfidenceWithLevels = 0.3
	fallbackConfidenceNoLevels   = 0.1
	fallbackQualityWithLevels    = 3
	fallbackQualityNoLevels      = 1
)

// levelPattern matches "entry 19700", "stop loss: 19,680", "TP @ 19740.25"
var levelPattern = regexp.MustCompile(`(?i)\b(entry|stop[\s_-]*loss|stop|sl|take[\s_-]*profit|target|tp)\b(?:\s*(?:price|level))?\s*(?:at|@|:|=|-|is)?\s*\$?\s*(\d[\d,]*(?:\.\d+)?)`)

// ExtractedLevels are the price levels found in free-text notes
type ExtractedLevels struct {
	Entry  float64 `json:"entry"`
	Stop   float64 `json:"stop"`
	Target float64 `json:"target"`
}

// Count returns how many levels were found
func (l ExtractedLevels) Count() int {
	n := 0
	for _, v := range []float64{l.Entry, l.Stop, l.Target} {
		if v > 0 {
			n++
		}
	}
	return n
}

// ExtractLevels pulls entry, stop and target prices out of operator notes.
// The first mention of each level wins.
func ExtractLevels(notes string) ExtractedLevels {
	var levels ExtractedLevels
	for _, m := range levelPattern.FindAllStringSubmatch(notes, -1) {
		price, err := strconv.ParseFloat(strings.ReplaceAll(m[2], ",", ""), 64)
		if err != nil || price <= 0 {
			continue
		}
		var slot *float64
		switch kind := strings.ToLower(m[1]); {
		case kind == "entry":
			slot = &levels.Entry
		case kind == "sl" || strings.HasPrefix(kind, "stop"):
			slot = &levels.Stop
		default:
			slot = &levels.Target
		}
		if *slot == 0 {
			*slot = price
		}
	}
	return levels
}

// complete infers a single missing level from the other two using the
// given reward ratio. With fewer than two levels nothing is inferred.
func (l ExtractedLevels) complete(rewardRatio float64) (ExtractedLevels, bool) {
	if rewardRatio <= 0 {
		rewardRatio = 2
	}
	switch {
	case l.Count() == 3:
		return l, false
	case l.Entry > 0 && l.Stop > 0:
		l.Target = l.Entry + rewardRatio*(l.Entry-l.Stop)
	case l.Entry > 0 && l.Target > 0:
		l.Stop = l.Entry - (l.Target-l.Entry)/rewardRatio
	case l.Stop > 0 && l.Target > 0:
		l.Entry = l.Stop + (l.Target-l.Stop)/(1+rewardRatio)
	default:
		return l, false
	}
	if l.Entry <= 0 || l.Stop <= 0 || l.Target <= 0 {
		return ExtractedLevels{}, false
	}
	l.Entry, l.Stop, l.Target = round2(l.Entry), round2(l.Stop), round2(l.Target)
	return l, true
}

// synthesizeFallback builds a deterministic, low-confidence result from the
// operator notes and hierarchy alone
func synthesizeFallback(notes string, h *timeframe.Hierarchy, rewardRatio, pointValue float64, kind string) *Result {
	res := &Result{
		PatternType:       trade.UnknownPattern,
		Direction:         trade.DirectionNeutral,
		TimeframeAnalysis: fallbackTimeframes(h),
		KeyLevels:         []float64{},
		Warnings:          []string{"analysis provider unavailable; result synthesized locally"},
		Source:            SourceFallback,
		LowConfidence:     true,
		FailureKind:       kind,
	}

	levels := ExtractLevels(notes)
	found := levels.Count()
	levels, inferred := levels.complete(rewardRatio)

	if levels.Count() < 3 {
		res.SetupQuality = fallbackQualityNoLevels
		res.Confidence = fallbackConfidenceNoLevels
		res.Reasoning = "No price levels could be extracted from the notes; neutral placeholder values returned."
		return res
	}

	res.EntryPrice, res.StopLoss, res.TakeProfit = levels.Entry, levels.Stop, levels.Target
	res.RiskRewardRatio = riskReward(levels.Entry, levels.Stop, levels.Target)
	res.RiskAmount = derivedRisk(levels.Entry, levels.Stop, pointValue)
	res.Direction = trade.DirectionFromLevels(levels.Entry, levels.Target)
	res.SetupQuality = fallbackQualityWithLevels
	res.Confidence = fallbackConfidenceWithLevels
	res.KeyLevels = []float64{levels.Stop, levels.Entry, levels.Target}
	sort.Float64s(res.KeyLevels)

	res.Reasoning = fmt.Sprintf("Levels extracted from trader notes (%d of 3 found); risk/reward %.2f.", found, res.RiskRewardRatio)
	if inferred {
		res.Warnings = append(res.Warnings, fmt.Sprintf("one level inferred with a %.1f reward ratio", rewardRatio))
	}
	return res
}

func fallbackTimeframes(h *timeframe.Hierarchy) []TimeframeNote {
	notes := []TimeframeNote{}
	if h == nil {
		return notes
	}
	for _, e := range h.Entries {
		n := TimeframeNote{Timeframe: e.Label, Trend: TrendNeutral}
		if e.Role != timeframe.RoleNone {
			n.Notes = "role: " + string(e.Role)
		}
		notes = append(notes, n)
	}
	return notes
}
