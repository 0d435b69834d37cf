package timeframe

import (
	"errors"
	"regexp"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Category groups a timeframe by analytical horizon
type Category string

const (
	CategoryUltraShort Category = "ultra_short"
	CategoryShortTerm  Category = "short_term"
	CategoryMediumTerm Category = "medium_term"
	CategoryLongTerm   Category = "long_term"
	CategoryCustom     Category = "custom"
)

// Priority is the analytical purpose a timeframe category usually serves
type Priority string

const (
	PriorityEntryTiming Priority = "entry_timing"
	PriorityStructure   Priority = "structure"
	PriorityTrend       Priority = "trend"
	PriorityBias        Priority = "bias"
	PriorityContext     Priority = "context"
)

// Suitability is a qualitative fit of a timeframe for a trading style
type Suitability string

const (
	SuitabilityOptimal       Suitability = "optimal"
	SuitabilitySuitable      Suitability = "suitable"
	SuitabilitySupplementary Suitability = "supplementary"
	SuitabilityPoor          Suitability = "poor"
)

// TradingStyle is the style a classification is scored against
type TradingStyle string

const (
	StyleScalping   TradingStyle = "scalping"
	StyleDayTrading TradingStyle = "day_trading"
	StyleSwing      TradingStyle = "swing"
	StylePosition   TradingStyle = "position"
)

// DefaultStyle is used when no style (or an unknown one) is configured
const DefaultStyle = StyleDayTrading

// MaxLabelLength is the longest label accepted from an upload
const MaxLabelLength = 32

// customWeight sits between short_term and medium_term
const customWeight = 2.5

var ErrInvalidLabel = errors.New("invalid timeframe label")

// Classification is derived from a label and never stored on its own
type Classification struct {
	Label       string      `json:"label"`
	Normalized  string      `json:"normalized"`
	Category    Category    `json:"category"`
	Priority    Priority    `json:"priority"`
	Weight      float64     `json:"weight"`
	Minutes     float64     `json:"minutes"`
	Suitability Suitability `json:"suitability"`
}

type canonicalPattern struct {
	re       *regexp.Regexp
	category Category
	minutes  func(n float64) float64
}

func fixed(m float64) func(float64) float64 { return func(float64) float64 { return m } }
func scaled(unit float64) func(float64) float64 {
	return func(n float64) float64 { return n * unit }
}

const (
	minute = 1.0
	hour   = 60.0
	day    = 24 * hour
	week   = 7 * day
	month  = 30 * day
)

// Ordered ultra_short -> long_term; the first match wins.
var canonicalPatterns = []canonicalPattern{
	{regexp.MustCompile(`^(tick|ticks|\d+\s*t(icks?)?)$`), CategoryUltraShort, fixed(0)},
	{regexp.MustCompile(`^m?([1-5])\s*(m|min|mins|minute|minutes)?$`), CategoryUltraShort, scaled(minute)},

	{regexp.MustCompile(`^m?(10|15|20|30|45)\s*(m|min|mins|minute|minutes)?$`), CategoryShortTerm, scaled(minute)},
	{regexp.MustCompile(`^h?([1-4])\s*(h|hr|hrs|hour|hours)$`), CategoryShortTerm, scaled(hour)},
	{regexp.MustCompile(`^h([1-4])$`), CategoryShortTerm, scaled(hour)},
	{regexp.MustCompile(`^(hourly|intraday)$`), CategoryShortTerm, fixed(hour)},

	{regexp.MustCompile(`^(6|8|12)\s*(h|hr|hrs|hour|hours)$`), CategoryMediumTerm, scaled(hour)},
	{regexp.MustCompile(`^(daily|day|d|d1|1\s*d|1\s*day)$`), CategoryMediumTerm, fixed(day)},

	{regexp.MustCompile(`^(weekly|week|w|w1|1\s*w|1\s*wk|1\s*week)$`), CategoryLongTerm, fixed(week)},
	{regexp.MustCompile(`^(monthly|month|mn|mn1|1\s*mo|1\s*mon|1\s*month)$`), CategoryLongTerm, fixed(month)},
	{regexp.MustCompile(`^(quarterly|yearly|annual|1\s*y|1\s*yr|1\s*year)$`), CategoryLongTerm, fixed(12 * month)},
}

// A number without a unit is minutes, as charting platforms label them
// ("60", "240").
var numericPattern = regexp.MustCompile(`^(\d+(?:\.\d+)?)\s*([a-z]*)$`)

// An uppercase M after a number is a month ("1M"); lowercasing would turn
// it into a minute.
var monthShorthand = regexp.MustCompile(`^(\d+)\s*M$`)

var unitMinutes = map[string]float64{
	"s": minute / 60, "sec": minute / 60, "secs": minute / 60, "second": minute / 60, "seconds": minute / 60,
	"m": minute, "min": minute, "mins": minute, "minute": minute, "minutes": minute,
	"h": hour, "hr": hour, "hrs": hour, "hour": hour, "hours": hour,
	"d": day, "day": day, "days": day,
	"w": week, "wk": week, "wks": week, "week": week, "weeks": week,
	"mo": month, "mon": month, "mos": month, "month": month, "months": month,
}

var categoryWeights = map[Category]float64{
	CategoryUltraShort: 1,
	CategoryShortTerm:  2,
	CategoryMediumTerm: 3,
	CategoryLongTerm:   4,
	CategoryCustom:     customWeight,
}

var categoryPriorities = map[Category]Priority{
	CategoryUltraShort: PriorityEntryTiming,
	CategoryShortTerm:  PriorityStructure,
	CategoryMediumTerm: PriorityTrend,
	CategoryLongTerm:   PriorityBias,
	CategoryCustom:     PriorityContext,
}

var suitabilityTable = map[TradingStyle]map[Category]Suitability{
	StyleScalping: {
		CategoryUltraShort: SuitabilityOptimal,
		CategoryShortTerm:  SuitabilitySuitable,
		CategoryMediumTerm: SuitabilitySupplementary,
		CategoryLongTerm:   SuitabilityPoor,
	},
	StyleDayTrading: {
		CategoryUltraShort: SuitabilitySuitable,
		CategoryShortTerm:  SuitabilityOptimal,
		CategoryMediumTerm: SuitabilitySuitable,
		CategoryLongTerm:   SuitabilitySupplementary,
	},
	StyleSwing: {
		CategoryUltraShort: SuitabilityPoor,
		CategoryShortTerm:  SuitabilitySupplementary,
		CategoryMediumTerm: SuitabilityOptimal,
		CategoryLongTerm:   SuitabilitySuitable,
	},
	StylePosition: {
		CategoryUltraShort: SuitabilityPoor,
		CategoryShortTerm:  SuitabilityPoor,
		CategoryMediumTerm: SuitabilitySuitable,
		CategoryLongTerm:   SuitabilityOptimal,
	},
}

// Classifier classifies labels against a trading style
type Classifier struct {
	style TradingStyle
}

// NewClassifier creates a classifier for the given style. Unknown styles
// fall back to DefaultStyle.
func NewClassifier(style TradingStyle) *Classifier {
	if _, ok := suitabilityTable[style]; !ok {
		style = DefaultStyle
	}
	return &Classifier{style: style}
}

// Style returns the style the classifier scores against
func (c *Classifier) Style() TradingStyle {
	return c.style
}

var defaultClassifier = NewClassifier(DefaultStyle)

// Classify classifies a label with the default trading style
func Classify(label string) Classification {
	return defaultClassifier.Classify(label)
}

// Classify maps a free-form label to a Classification. It is total:
// anything unrecognised is classified as custom.
func (c *Classifier) Classify(label string) Classification {
	norm := Normalize(label)
	category, minutes := matchCanonical(norm)
	if category == "" {
		category, minutes = matchNumeric(norm)
	}
	if category == "" {
		category = CategoryCustom
	}

	return Classification{
		Label:       label,
		Normalized:  norm,
		Category:    category,
		Priority:    categoryPriorities[category],
		Weight:      categoryWeights[category],
		Minutes:     minutes,
		Suitability: c.suitability(category),
	}
}

func (c *Classifier) suitability(category Category) Suitability {
	if category == CategoryCustom {
		return SuitabilitySupplementary
	}
	return suitabilityTable[c.style][category]
}

// Normalize lowercases, trims and collapses inner whitespace. "1M" becomes
// "1mo" so it stays distinct from "1m".
func Normalize(label string) string {
	trimmed := strings.TrimSpace(label)
	if m := monthShorthand.FindStringSubmatch(trimmed); m != nil {
		return m[1] + "mo"
	}
	return strings.Join(strings.Fields(strings.ToLower(trimmed)), " ")
}

// ValidateLabel rejects labels that cannot be accepted from an upload
func ValidateLabel(label string) error {
	trimmed := strings.TrimSpace(label)
	if trimmed == "" {
		return ErrInvalidLabel
	}
	if !utf8.ValidString(trimmed) || utf8.RuneCountInString(trimmed) > MaxLabelLength {
		return ErrInvalidLabel
	}
	for _, r := range trimmed {
		if unicode.IsControl(r) {
			return ErrInvalidLabel
		}
	}
	return nil
}

func matchCanonical(norm string) (Category, float64) {
	for _, p := range canonicalPatterns {
		m := p.re.FindStringSubmatch(norm)
		if m == nil {
			continue
		}
		n := 1.0
		if len(m) > 1 {
			if v, err := strconv.ParseFloat(m[1], 64); err == nil {
				n = v
			}
		}
		return p.category, p.minutes(n)
	}
	return "", 0
}

func matchNumeric(norm string) (Category, float64) {
	m := numericPattern.FindStringSubmatch(norm)
	if m == nil {
		return "", 0
	}
	n, err := strconv.ParseFloat(m[1], 64)
	if err != nil || n <= 0 {
		return "", 0
	}
	unit, ok := unitMinutes[m[2]]
	if m[2] == "" {
		unit, ok = minute, true
	}
	if !ok {
		return "", 0
	}
	minutes := n * unit
	return bucket(minutes), minutes
}

func bucket(minutes float64) Category {
	switch {
	case minutes <= 5*minute:
		return CategoryUltraShort
	case minutes <= 4*hour:
		return CategoryShortTerm
	case minutes <= 3*day:
		return CategoryMediumTerm
	default:
		return CategoryLongTerm
	}
}
