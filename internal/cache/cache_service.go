// Package cache provides Redis-backed session state and rate limiting.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// ErrUnavailable is returned while the circuit breaker is open
var ErrUnavailable = errors.New("redis unavailable (circuit breaker open)")

// ErrMiss is returned when a key does not exist
var ErrMiss = errors.New("cache miss")

// Config holds Redis connection settings
type Config struct {
	Enabled     bool          `json:"enabled" yaml:"enabled"`
	Address     string        `json:"address" yaml:"address" default:"localhost:6379"`
	Password    string        `json:"password" yaml:"password"`
	DB          int           `json:"db" yaml:"db"`
	PoolSize    int           `json:"pool_size" yaml:"pool_size" default:"10"`
	DialTimeout time.Duration `json:"dial_timeout" yaml:"dial_timeout" default:"5s"`
	KeyPrefix   string        `json:"key_prefix" yaml:"key_prefix" default:"cta"`
}

// CacheService wraps a Redis client and stops issuing commands after
// maxFailures consecutive errors until a background ping succeeds.
// Callers treat any error as "no cache" and degrade.
type CacheService struct {
	client       *redis.Client
	config       Config
	logger       zerolog.Logger
	mu            sync.RWMutex
	healthy       bool
	failureCount  int
	lastCheck     time.Time
	maxFailures   int
	checkInterval time.Duration
}

// Key prefixes
const (
	PrefixNavigation = "%s:user:%s:navigation"
	PrefixRateLimit  = "%s:ratelimit:%s:%d"
)

// NewCacheService connects to Redis. A failed initial ping returns the
// service in degraded mode rather than an error.
func NewCacheService(cfg Config, logger zerolog.Logger) (*CacheService, error) {
	if !cfg.Enabled {
		return nil, fmt.Errorf("redis is not enabled in configuration")
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 5 * time.Second
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "cta"
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: 2,
		MaxRetries:   3,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	cs := &CacheService{
		client:        client,
		config:        cfg,
		logger:        logger.With().Str("component", "cache").Logger(),
		maxFailures:   3,
		checkInterval: 30 * time.Second,
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		cs.logger.Warn().Err(err).Str("address", cfg.Address).Msg("Initial Redis connection failed, running degraded")
		return cs, nil
	}

	cs.healthy = true
	cs.lastCheck = time.Now()
	cs.logger.Info().Str("address", cfg.Address).Msg("Redis connected")
	return cs, nil
}

// IsHealthy returns whether Redis is currently available.
func (cs *CacheService) IsHealthy() bool {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return cs.healthy
}

// observe feeds one command result into the breaker. redis.Nil is a
// normal answer and counts as success.
func (cs *CacheService) observe(err error) {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if err == nil || errors.Is(err, redis.Nil) {
		if !cs.healthy {
			cs.logger.Info().Msg("Redis recovered, cache back in service")
		}
		cs.healthy = true
		cs.failureCount = 0
		cs.lastCheck = time.Now()
		return
	}

	cs.failureCount++
	if cs.healthy && cs.failureCount >= cs.maxFailures {
		cs.logger.Warn().Err(err).Int("failures", cs.failureCount).Msg("Redis marked unhealthy")
		cs.healthy = false
	}
}

// run executes op unless the breaker is open. While open, a background
// ping is sent at most once per checkInterval.
func (cs *CacheService) run(op string, fn func() error) error {
	cs.mu.Lock()
	healthy := cs.healthy
	probe := !healthy && time.Since(cs.lastCheck) >= cs.checkInterval
	if probe {
		cs.lastCheck = time.Now()
	}
	cs.mu.Unlock()

	if probe {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := cs.client.Ping(ctx).Err(); err == nil {
				cs.observe(nil)
			}
		}()
	}
	if !healthy {
		return ErrUnavailable
	}

	err := fn()
	cs.observe(err)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, redis.Nil):
		return ErrMiss
	}
	return fmt.Errorf("redis %s failed: %w", op, err)
}

// Get returns ErrMiss for a missing key.
func (cs *CacheService) Get(ctx context.Context, key string) (string, error) {
	var value string
	err := cs.run("get", func() (err error) {
		value, err = cs.client.Get(ctx, key).Result()
		return err
	})
	return value, err
}

// Set stores strings and byte slices as-is and anything else as JSON.
func (cs *CacheService) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	var payload interface{}
	switch v := value.(type) {
	case string, []byte:
		payload = v
	default:
		data, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("failed to marshal value: %w", err)
		}
		payload = data
	}
	return cs.run("set", func() error {
		return cs.client.Set(ctx, key, payload, ttl).Err()
	})
}

func (cs *CacheService) Delete(ctx context.Context, key string) error {
	return cs.run("delete", func() error {
		return cs.client.Del(ctx, key).Err()
	})
}

// IncrWithExpiry increments key and refreshes its ttl. INCR and EXPIRE run
// in one MULTI so a counter never lives without a TTL.
func (cs *CacheService) IncrWithExpiry(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	var incr *redis.IntCmd
	err := cs.run("incr", func() error {
		_, err := cs.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			incr = pipe.Incr(ctx, key)
			pipe.Expire(ctx, key, ttl)
			return nil
		})
		return err
	})
	if err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

// GetJSON decodes the stored value into dest.
func (cs *CacheService) GetJSON(ctx context.Context, key string, dest interface{}) error {
	data, err := cs.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(data), dest); err != nil {
		return fmt.Errorf("failed to unmarshal cached value: %w", err)
	}
	return nil
}

func (cs *CacheService) SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	return cs.Set(ctx, key, value, ttl)
}

func (cs *CacheService) Close() error {
	if cs.client == nil {
		return nil
	}
	return cs.client.Close()
}

// Ping bypasses the breaker so health checks always reach Redis.
func (cs *CacheService) Ping(ctx context.Context) error {
	err := cs.client.Ping(ctx).Err()
	cs.observe(err)
	return err
}

type Stats struct {
	Healthy      bool   `json:"healthy"`
	FailureCount int    `json:"failure_count"`
	Address      string `json:"address"`
	PoolSize     int    `json:"pool_size"`
}

func (cs *CacheService) GetStats() Stats {
	cs.mu.RLock()
	defer cs.mu.RUnlock()

	return Stats{
		Healthy:      cs.healthy,
		FailureCount: cs.failureCount,
		Address:      cs.config.Address,
		PoolSize:     cs.config.PoolSize,
	}
}

// KeyPrefix returns the namespace prepended to every key
func (cs *CacheService) KeyPrefix() string {
	return cs.config.KeyPrefix
}

// NavigationKey generates the cache key for a user's navigation state.
func NavigationKey(prefix, userID string) string {
	return fmt.Sprintf(PrefixNavigation, prefix, userID)
}

// RateLimitKey generates the counter key for a user and fixed window.
func RateLimitKey(prefix, userID string, window int64) string {
	return fmt.Sprintf(PrefixRateLimit, prefix, userID, window)
}
