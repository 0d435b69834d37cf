package analysis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/creasty/defaults"

	"chart-trade-analyzer/internal/timeframe"
)

// TradingContext is supplied by the caller per upload. Missing fields get
// their defaults through ApplyDefaults.
type TradingContext struct {
	Instrument       string    `json:"instrument" form:"instrument" default:"NQ" validate:"required,max=32"`
	TradingStyle     string    `json:"trading_style" form:"trading_style" default:"day_trading" validate:"oneof=scalping day_trading swing position"`
	SessionInfo      string    `json:"session_info" form:"session_info" default:"new_york" validate:"max=64"`
	AccountSize      float64   `json:"account_size" form:"account_size" default:"50000" validate:"gt=0"`
	PrimaryTimeframe string    `json:"primary_timeframe" form:"primary_timeframe" validate:"max=32"`
	Contracts        float64   `json:"contracts" form:"contracts" default:"1" validate:"gt=0"`
	Timestamp        time.Time `json:"timestamp" form:"timestamp"`
}

// ApplyDefaults fills zero-valued fields and normalizes casing
func (tc *TradingContext) ApplyDefaults() error {
	tc.Instrument = strings.ToUpper(strings.TrimSpace(tc.Instrument))
	tc.TradingStyle = strings.ToLower(strings.TrimSpace(tc.TradingStyle))
	tc.SessionInfo = strings.ToLower(strings.TrimSpace(tc.SessionInfo))
	if err := defaults.Set(tc); err != nil {
		return fmt.Errorf("apply trading context defaults: %w", err)
	}
	if tc.Timestamp.IsZero() {
		tc.Timestamp = time.Now().UTC()
	}
	return nil
}

// Style returns the context's style as a timeframe style
func (tc TradingContext) Style() timeframe.TradingStyle {
	return timeframe.TradingStyle(tc.TradingStyle)
}

// IsScalping reports whether the context trades on the shortest horizons
func (tc TradingContext) IsScalping() bool {
	return tc.Style() == timeframe.StyleScalping
}

type rateKeyCtx struct{}

// WithRateKey tags ctx with the key provider calls are rate limited under,
// usually the user id
func WithRateKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, rateKeyCtx{}, key)
}

func rateKeyFrom(ctx context.Context) string {
	if key, ok := ctx.Value(rateKeyCtx{}).(string); ok && key != "" {
		return key
	}
	return "anonymous"
}
