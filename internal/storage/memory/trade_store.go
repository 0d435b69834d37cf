package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"chart-trade-analyzer/internal/storage"
	"chart-trade-analyzer/internal/trade"
)

// Compile-time interface check
var _ storage.TradeStore = (*TradeStore)(nil)

// TradeStore is an in-memory implementation of storage.TradeStore.
type TradeStore struct {
	mu   sync.RWMutex
	data map[string]*trade.Trade // keyed by trade id

	now func() time.Time
}

// NewTradeStore creates a new in-memory trade store.
func NewTradeStore() *TradeStore {
	return &TradeStore{
		data: make(map[string]*trade.Trade),
		now:  time.Now,
	}
}

// CreateTrade adds a new trade. Returns ErrDuplicateKey if the id exists.
func (s *TradeStore) CreateTrade(_ context.Context, t *trade.Trade) error {
	if t == nil || t.ID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[t.ID]; exists {
		return storage.ErrDuplicateKey
	}

	now := s.now()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now
	s.data[t.ID] = t.Clone()
	return nil
}

// GetTrade retrieves a trade by id. Returns ErrNotFound if missing.
func (s *TradeStore) GetTrade(_ context.Context, id string) (*trade.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.data[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return t.Clone(), nil
}

// ListTrades returns matching trades newest first.
func (s *TradeStore) ListTrades(_ context.Context, f storage.TradeFilter) ([]*trade.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*trade.Trade, 0, len(s.data))
	for _, t := range s.data {
		if f.UserID != "" && t.UserID != f.UserID {
			continue
		}
		if f.Phase != trade.PhaseUnknown && t.Phase != f.Phase {
			continue
		}
		if f.Instrument != "" && t.Instrument != f.Instrument {
			continue
		}
		if !f.Since.IsZero() && t.Timestamp.Before(f.Since) {
			continue
		}
		result = append(result, t.Clone())
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].Timestamp.Equal(result[j].Timestamp) {
			return result[i].ID > result[j].ID
		}
		return result[i].Timestamp.After(result[j].Timestamp)
	})

	if f.Limit > 0 && len(result) > f.Limit {
		result = result[:f.Limit]
	}
	return result, nil
}

// LinkExecution applies fn to the pre-trade record under the store lock.
func (s *TradeStore) LinkExecution(_ context.Context, tradeID string, fn storage.LinkFunc) (*trade.Trade, *trade.Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.data[tradeID]
	if !ok {
		return nil, nil, storage.ErrNotFound
	}

	parent := stored.Clone()
	execution, err := fn(parent)
	if err != nil {
		return nil, nil, err
	}
	if stored.Phase != trade.PhasePreTrade || !stored.Phase.CanTransitionTo(parent.Phase) {
		return nil, nil, storage.ErrConflict
	}
	if execution == nil || execution.ID == "" {
		return nil, nil, storage.ErrInvalidInput
	}
	if _, exists := s.data[execution.ID]; exists {
		return nil, nil, storage.ErrDuplicateKey
	}

	now := s.now()
	execution.CreatedAt = now
	execution.UpdatedAt = now
	parent.UpdatedAt = now

	s.data[execution.ID] = execution.Clone()
	s.data[parent.ID] = parent.Clone()
	return parent, execution, nil
}

// UpdateTrade applies fn to a copy of the record and stores it on success.
func (s *TradeStore) UpdateTrade(_ context.Context, id string, fn func(t *trade.Trade) error) (*trade.Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.data[id]
	if !ok {
		return nil, storage.ErrNotFound
	}

	t := stored.Clone()
	if err := fn(t); err != nil {
		return nil, err
	}
	t.ID = stored.ID
	t.UpdatedAt = s.now()
	s.data[id] = t.Clone()
	return t, nil
}
