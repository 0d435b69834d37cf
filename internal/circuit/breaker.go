package circuit

import (
	"fmt"
	"sync"
	"time"
)

// BreakerState represents the circuit breaker state
type BreakerState string

const (
	StateClosed   BreakerState = "closed"    // Normal operation
	StateOpen     BreakerState = "open"      // Provider calls skipped
	StateHalfOpen BreakerState = "half_open" // Testing recovery
)

// CircuitBreakerConfig holds circuit breaker configuration
type CircuitBreakerConfig struct {
	Enabled                bool          `json:"enabled" yaml:"enabled" default:"true"`
	MaxConsecutiveFailures int           `json:"max_consecutive_failures" yaml:"max_consecutive_failures" default:"5"`
	Cooldown               time.Duration `json:"cooldown" yaml:"cooldown" default:"2m"`
	MaxCallsPerMinute      int           `json:"max_calls_per_minute" yaml:"max_calls_per_minute" default:"60"`
}

// DefaultCircuitBreakerConfig returns safe defaults
func DefaultCircuitBreakerConfig() *CircuitBreakerConfig {
	return &CircuitBreakerConfig{
		Enabled:                true,
		MaxConsecutiveFailures: 5,
		Cooldown:               2 * time.Minute,
		MaxCallsPerMinute:      60,
	}
}

// CircuitBreaker stops calling a failing upstream until a cooldown passes.
// After the cooldown one probe call is let through; its result closes or
// re-opens the breaker.
type CircuitBreaker struct {
	config              *CircuitBreakerConfig
	state               BreakerState
	consecutiveFailures int
	callsLastMinute     int
	totalFailures       int
	lastTripTime        time.Time
	minuteResetTime     time.Time
	tripReason          string
	probeInFlight       bool
	mu                  sync.RWMutex
	onTrip              func(reason string)
	onReset             func()
	now                 func() time.Time
}

// NewCircuitBreaker creates a new circuit breaker
func NewCircuitBreaker(config *CircuitBreakerConfig) *CircuitBreaker {
	if config == nil {
		config = DefaultCircuitBreakerConfig()
	}
	def := DefaultCircuitBreakerConfig()
	if config.MaxConsecutiveFailures <= 0 {
		config.MaxConsecutiveFailures = def.MaxConsecutiveFailures
	}
	if config.Cooldown <= 0 {
		config.Cooldown = def.Cooldown
	}

	cb := &CircuitBreaker{
		config: config,
		state:  StateClosed,
		now:    time.Now,
	}
	cb.minuteResetTime = cb.now().Add(time.Minute)
	return cb
}

// OnTrip sets callback for when breaker trips
func (cb *CircuitBreaker) OnTrip(handler func(reason string)) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.onTrip = handler
}

// OnReset sets callback for when breaker resets
func (cb *CircuitBreaker) OnReset(handler func()) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.onReset = handler
}

// Allow checks if a call may proceed. The reason is empty when allowed.
func (cb *CircuitBreaker) Allow() (bool, string) {
	if !cb.config.Enabled {
		return true, ""
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.resetCountersIfNeeded()

	switch cb.state {
	case StateOpen:
		elapsed := cb.now().Sub(cb.lastTripTime)
		if elapsed < cb.config.Cooldown {
			remaining := cb.config.Cooldown - elapsed
			return false, fmt.Sprintf("circuit breaker open, cooldown remaining: %v (reason: %s)",
				remaining.Round(time.Second), cb.tripReason)
		}
		// Cooldown passed, let one probe through
		cb.state = StateHalfOpen
		cb.probeInFlight = true
	case StateHalfOpen:
		if cb.probeInFlight {
			return false, "circuit breaker half-open, probe in flight"
		}
		cb.probeInFlight = true
	}

	if cb.config.MaxCallsPerMinute > 0 && cb.callsLastMinute >= cb.config.MaxCallsPerMinute {
		cb.probeInFlight = false
		return false, fmt.Sprintf("rate limit reached: %d calls/minute", cb.callsLastMinute)
	}
	cb.callsLastMinute++
	return true, ""
}

// Record records the result of an allowed call
func (cb *CircuitBreaker) Record(success bool) {
	if !cb.config.Enabled {
		return
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()

	wasHalfOpen := cb.state == StateHalfOpen
	cb.probeInFlight = false

	if success {
		cb.consecutiveFailures = 0
		if wasHalfOpen {
			cb.state = StateClosed
			cb.tripReason = ""
			if cb.onReset != nil {
				go cb.onReset()
			}
		}
		return
	}

	cb.consecutiveFailures++
	cb.totalFailures++
	switch {
	case wasHalfOpen:
		cb.trip("probe call failed")
	case cb.state == StateClosed && cb.consecutiveFailures >= cb.config.MaxConsecutiveFailures:
		cb.trip(fmt.Sprintf("consecutive failures: %d", cb.consecutiveFailures))
	}
}

// trip opens the circuit breaker
func (cb *CircuitBreaker) trip(reason string) {
	cb.state = StateOpen
	cb.lastTripTime = cb.now()
	cb.tripReason = reason

	if cb.onTrip != nil {
		go cb.onTrip(reason)
	}
}

// resetCountersIfNeeded resets time-based counters
func (cb *CircuitBreaker) resetCountersIfNeeded() {
	now := cb.now()
	if now.After(cb.minuteResetTime) {
		cb.callsLastMinute = 0
		cb.minuteResetTime = now.Add(time.Minute)
	}
}

// ForceReset manually resets the circuit breaker
func (cb *CircuitBreaker) ForceReset() {
	cb.mu.Lock()
	cb.state = StateClosed
	cb.consecutiveFailures = 0
	cb.probeInFlight = false
	cb.tripReason = ""
	onReset := cb.onReset
	cb.mu.Unlock()

	if onReset != nil {
		go onReset()
	}
}

// GetState returns current breaker state
func (cb *CircuitBreaker) GetState() BreakerState {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state
}

// GetStats returns current statistics
func (cb *CircuitBreaker) GetStats() map[string]interface{} {
	cb.mu.RLock()
	defer cb.mu.RUnlock()

	return map[string]interface{}{
		"state":                string(cb.state),
		"consecutive_failures": cb.consecutiveFailures,
		"total_failures":       cb.totalFailures,
		"calls_last_minute":    cb.callsLastMinute,
		"trip_reason":          cb.tripReason,
		"last_trip_time":       cb.lastTripTime,
	}
}

// IsEnabled returns if circuit breaker is enabled
func (cb *CircuitBreaker) IsEnabled() bool {
	return cb.config.Enabled
}
