package analysis

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"chart-trade-analyzer/internal/trade"
)

var ErrNoJSON = errors.New("no JSON object found in provider response")

var markdownFence = regexp.MustCompile("(?s)```(?:json|JSON)?\\s*\\n?(.*?)\\n?```")

// stripMarkdownCodeBlock returns the content of the first fenced block, or
// the input unchanged
func stripMarkdownCodeBlock(s string) string {
	if m := markdownFence.FindStringSubmatch(s); m != nil {
		return m[1]
	}
	return s
}

// extractJSONObject returns the first well-formed JSON object in text. The
// provider may wrap it in prose or code fences.
func extractJSONObject(text string) (map[string]interface{}, error) {
	for _, candidate := range []string{stripMarkdownCodeBlock(text), text} {
		for start := strings.IndexByte(candidate, '{'); start >= 0; {
			end := matchBrace(candidate, start)
			if end > start {
				var obj map[string]interface{}
				if err := json.Unmarshal([]byte(candidate[start:end+1]), &obj); err == nil {
					return obj, nil
				}
			}
			next := strings.IndexByte(candidate[start+1:], '{')
			if next < 0 {
				break
			}
			start += next + 1
		}
	}
	return nil, ErrNoJSON
}

// matchBrace returns the index of the brace closing the one at start, or
// -1. Braces inside strings are ignored.
func matchBrace(s string, start int) int {
	depth := 0
	inString, escaped := false, false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// repairer turns an untrusted decoded object into a Result, degrading
// individual fields instead of rejecting the whole object
type repairer struct {
	raw     map[string]interface{}
	repairs []string
}

func (r *repairer) note(field, format string, args ...interface{}) {
	r.repairs = append(r.repairs, field+": "+fmt.Sprintf(format, args...))
}

// parseProviderResult validates and clamps every field of a provider object
func parseProviderResult(raw map[string]interface{}, pointValue float64) *Result {
	r := &repairer{raw: raw}
	res := &Result{Source: SourceProvider}

	res.PatternType = r.enum("pattern_type", trade.UnknownPattern, trade.IsSetupPattern)
	res.SetupQuality = r.intRange("setup_quality", defaultSetupQuality, minSetupQuality, maxSetupQuality)
	res.Confidence = r.floatRange("confidence", defaultConfidence, 0, 1)

	res.EntryPrice = r.price("entry_price")
	res.StopLoss = r.price("stop_loss")
	res.TakeProfit = r.price("take_profit")

	dir := r.enum("direction", "", func(s string) bool {
		return s == string(trade.DirectionLong) || s == string(trade.DirectionShort) || s == string(trade.DirectionNeutral)
	})
	if dir == "" {
		res.Direction = trade.DirectionFromLevels(res.EntryPrice, res.TakeProfit)
	} else {
		res.Direction = trade.Direction(dir)
	}

	if v, ok := r.number("risk_reward_ratio"); ok && v >= 0 {
		if v > maxRiskReward {
			r.note("risk_reward_ratio", "clamped %v to %v", v, maxRiskReward)
			v = maxRiskReward
		}
		res.RiskRewardRatio = round2(v)
	} else {
		res.RiskRewardRatio = math.Min(riskReward(res.EntryPrice, res.StopLoss, res.TakeProfit), maxRiskReward)
		r.note("risk_reward_ratio", "derived from levels")
	}

	if v, ok := r.number("risk_amount"); ok && v >= 0 {
		res.RiskAmount = v
	} else {
		res.RiskAmount = derivedRisk(res.EntryPrice, res.StopLoss, pointValue)
		r.note("risk_amount", "derived from levels")
	}

	res.TimeframeAnalysis = r.timeframes("timeframe_analysis")
	res.KeyLevels = r.floatList("key_levels")
	res.Reasoning = r.str("reasoning")
	res.Warnings = r.stringList("warnings")

	res.LowConfidence = res.Confidence < lowConfidenceThreshold
	res.Repairs = r.repairs
	return res
}

func derivedRisk(entry, stop, pointValue float64) float64 {
	if entry <= 0 || stop <= 0 {
		return 0
	}
	if pointValue <= 0 {
		pointValue = 1
	}
	return round2(math.Abs(entry-stop) * pointValue)
}

// number reads a numeric field, accepting numeric strings like "19,700.5"
func (r *repairer) number(field string) (float64, bool) {
	v, present := r.raw[field]
	if !present || v == nil {
		return 0, false
	}
	f, ok := toFloat(v)
	if !ok {
		r.note(field, "not a number (%v)", v)
	}
	return f, ok
}

func toFloat(v interface{}) (float64, bool) {
	switch t := v.(type) {
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return 0, false
		}
		return t, true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case string:
		s := strings.TrimSpace(strings.NewReplacer(",", "", "$", "", " ", "").Replace(t))
		f, err := strconv.ParseFloat(s, 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, false
		}
		return f, true
	}
	return 0, false
}

func (r *repairer) price(field string) float64 {
	v, ok := r.number(field)
	if !ok {
		return 0
	}
	if v < 0 {
		r.note(field, "negative price %v dropped", v)
		return 0
	}
	return v
}

func (r *repairer) floatRange(field string, def, lo, hi float64) float64 {
	v, ok := r.number(field)
	if !ok {
		r.note(field, "defaulted to %v", def)
		return def
	}
	if v < lo || v > hi {
		c := clamp(v, lo, hi)
		r.note(field, "clamped %v to %v", v, c)
		return c
	}
	return v
}

func (r *repairer) intRange(field string, def, lo, hi int) int {
	v, ok := r.number(field)
	if !ok {
		r.note(field, "defaulted to %d", def)
		return def
	}
	n := int(math.Round(v))
	if n < lo || n > hi {
		c := int(clamp(float64(n), float64(lo), float64(hi)))
		r.note(field, "clamped %d to %d", n, c)
		return c
	}
	return n
}

func (r *repairer) enum(field, def string, allowed func(string) bool) string {
	v, present := r.raw[field]
	if !present || v == nil {
		if def != "" {
			r.note(field, "defaulted to %q", def)
		}
		return def
	}
	s, ok := v.(string)
	if ok {
		s = strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), " ", "_")
	}
	if !ok || !allowed(s) {
		r.note(field, "value %v not allowed, using %q", v, def)
		return def
	}
	return s
}

func (r *repairer) str(field string) string {
	v, present := r.raw[field]
	if !present || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	r.note(field, "coerced %T to string", v)
	return fmt.Sprint(v)
}

// stringList coerces a field into a string slice: a single value becomes a
// one-element slice
func (r *repairer) stringList(field string) []string {
	out := []string{}
	v, present := r.raw[field]
	if !present || v == nil {
		return out
	}
	items, isList := v.([]interface{})
	if !isList {
		r.note(field, "coerced single value to array")
		items = []interface{}{v}
	}
	for _, item := range items {
		if item == nil {
			continue
		}
		if s, ok := item.(string); ok {
			out = append(out, s)
		} else {
			out = append(out, fmt.Sprint(item))
		}
	}
	return out
}

func (r *repairer) floatList(field string) []float64 {
	out := []float64{}
	v, present := r.raw[field]
	if !present || v == nil {
		return out
	}
	items, isList := v.([]interface{})
	if !isList {
		r.note(field, "coerced single value to array")
		items = []interface{}{v}
	}
	for _, item := range items {
		if f, ok := toFloat(item); ok && f > 0 {
			out = append(out, f)
		}
	}
	if len(out) != len(items) {
		r.note(field, "dropped %d invalid entries", len(items)-len(out))
	}
	return out
}

func (r *repairer) timeframes(field string) []TimeframeNote {
	out := []TimeframeNote{}
	v, present := r.raw[field]
	if !present || v == nil {
		return out
	}
	items, isList := v.([]interface{})
	if !isList {
		r.note(field, "coerced single value to array")
		items = []interface{}{v}
	}
	for _, item := range items {
		obj, ok := item.(map[string]interface{})
		if !ok {
			r.note(field, "dropped non-object entry")
			continue
		}
		sub := &repairer{raw: obj}
		note := TimeframeNote{
			Timeframe: sub.str("timeframe"),
			Trend: sub.enum("trend", TrendNeutral, func(s string) bool {
				return s == TrendBullish || s == TrendBearish || s == TrendNeutral
			}),
			Notes: sub.str("notes"),
		}
		for _, rep := range sub.repairs {
			r.repairs = append(r.repairs, field+"."+rep)
		}
		out = append(out, note)
	}
	return out
}
