package cache

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNoNavigation is returned when a user has no stored navigation state
var ErrNoNavigation = errors.New("no navigation state")

// NavigationState is the per-user UI position between requests: which
// step of the analyse/execute flow the user is on and what they were
// looking at. It expires on its own.
type NavigationState struct {
	Step       string            `json:"step" validate:"required,oneof=upload review execution outcome history"`
	TradeID    string            `json:"trade_id,omitempty" validate:"omitempty,uuid"`
	Instrument string            `json:"instrument,omitempty" validate:"omitempty,max=32"`
	Timeframes []string          `json:"timeframes,omitempty" validate:"max=12"`
	Filters    map[string]string `json:"filters,omitempty"`
	UpdatedAt  time.Time         `json:"updated_at"`
}

type jsonStore interface {
	GetJSON(ctx context.Context, key string, dest interface{}) error
	SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// NavigationStore keeps navigation state in Redis under a TTL
type NavigationStore struct {
	store  jsonStore
	prefix string
	ttl    time.Duration
	now    func() time.Time
}

// NewNavigationStore creates a store whose entries live for ttl after the
// last write
func NewNavigationStore(cs *CacheService, ttl time.Duration) *NavigationStore {
	return newNavigationStore(cs, cs.KeyPrefix(), ttl)
}

func newNavigationStore(s jsonStore, prefix string, ttl time.Duration) *NavigationStore {
	if ttl <= 0 {
		ttl = 2 * time.Hour
	}
	return &NavigationStore{store: s, prefix: prefix, ttl: ttl, now: time.Now}
}

// Get returns the user's state or ErrNoNavigation
func (n *NavigationStore) Get(ctx context.Context, userID string) (*NavigationState, error) {
	var state NavigationState
	if err := n.store.GetJSON(ctx, NavigationKey(n.prefix, userID), &state); err != nil {
		if errors.Is(err, ErrMiss) {
			return nil, ErrNoNavigation
		}
		return nil, fmt.Errorf("load navigation state: %w", err)
	}
	return &state, nil
}

// Put replaces the user's state and restarts its TTL
func (n *NavigationStore) Put(ctx context.Context, userID string, state NavigationState) (*NavigationState, error) {
	state.UpdatedAt = n.now().UTC()
	if err := n.store.SetJSON(ctx, NavigationKey(n.prefix, userID), state, n.ttl); err != nil {
		return nil, fmt.Errorf("save navigation state: %w", err)
	}
	return &state, nil
}

// Clear removes the user's state
func (n *NavigationStore) Clear(ctx context.Context, userID string) error {
	if err := n.store.Delete(ctx, NavigationKey(n.prefix, userID)); err != nil {
		return fmt.Errorf("clear navigation state: %w", err)
	}
	return nil
}

// TTL returns how long state lives after a write
func (n *NavigationStore) TTL() time.Duration {
	return n.ttl
}
