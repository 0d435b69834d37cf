package cache

import (
	"context"
	"time"

	"chart-trade-analyzer/internal/analysis"
)

var _ analysis.Limiter = (*RateLimiter)(nil)

// RateLimitConfig bounds provider calls per user in fixed windows
type RateLimitConfig struct {
	Requests int           `json:"requests" yaml:"requests" default:"20"`
	Window   time.Duration `json:"window" yaml:"window" default:"1m"`
}

type counter interface {
	IncrWithExpiry(ctx context.Context, key string, ttl time.Duration) (int64, error)
}

// RateLimiter is a fixed-window counter keyed by user and window start
type RateLimiter struct {
	counter counter
	prefix  string
	config  RateLimitConfig
	now     func() time.Time
}

// NewRateLimiter creates a limiter backed by the cache service
func NewRateLimiter(cs *CacheService, cfg RateLimitConfig) *RateLimiter {
	return newRateLimiter(cs, cs.KeyPrefix(), cfg)
}

func newRateLimiter(c counter, prefix string, cfg RateLimitConfig) *RateLimiter {
	if cfg.Requests <= 0 {
		cfg.Requests = 20
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	return &RateLimiter{counter: c, prefix: prefix, config: cfg, now: time.Now}
}

// Allow counts one call for key. An error means the count is unknown and
// the caller decides whether to fail open.
func (l *RateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	window := l.now().UnixNano() / int64(l.config.Window)
	n, err := l.counter.IncrWithExpiry(ctx, RateLimitKey(l.prefix, key, window), 2*l.config.Window)
	if err != nil {
		return false, err
	}
	return n <= int64(l.config.Requests), nil
}
