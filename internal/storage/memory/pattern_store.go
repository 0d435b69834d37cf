package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"chart-trade-analyzer/internal/storage"
	"chart-trade-analyzer/internal/trade"
)

var _ storage.PatternStore = (*PatternStore)(nil)

// PatternStore is an in-memory implementation of storage.PatternStore.
// A single mutex serializes every read-modify-write.
type PatternStore struct {
	mu        sync.Mutex
	setup     map[string]trade.SetupPatternStat
	execution map[string]trade.ExecutionPatternStat

	now func() time.Time
}

// NewPatternStore creates a new in-memory pattern store.
func NewPatternStore() *PatternStore {
	return &PatternStore{
		setup:     make(map[string]trade.SetupPatternStat),
		execution: make(map[string]trade.ExecutionPatternStat),
		now:       time.Now,
	}
}

// SeedSetupPatterns inserts seeds that do not exist yet.
func (s *PatternStore) SeedSetupPatterns(_ context.Context, seeds []trade.SetupPatternStat) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for _, seed := range seeds {
		if seed.PatternName == "" {
			return storage.ErrInvalidInput
		}
		if _, exists := s.setup[seed.PatternName]; exists {
			continue
		}
		seed.CreatedAt, seed.UpdatedAt = now, now
		s.setup[seed.PatternName] = seed
	}
	return nil
}

func (s *PatternStore) UpsertSetupPattern(_ context.Context, initial trade.SetupPatternStat, mutate func(*trade.SetupPatternStat)) (*trade.SetupPatternStat, error) {
	if initial.PatternName == "" {
		return nil, storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	stat, exists := s.setup[initial.PatternName]
	if !exists {
		stat = initial
		stat.CreatedAt = now
	}
	mutate(&stat)
	stat.PatternName = initial.PatternName
	stat.UpdatedAt = now
	s.setup[stat.PatternName] = stat

	out := stat
	return &out, nil
}

func (s *PatternStore) UpsertExecutionPattern(_ context.Context, initial trade.ExecutionPatternStat, mutate func(*trade.ExecutionPatternStat)) (*trade.ExecutionPatternStat, error) {
	if initial.PatternType == "" {
		return nil, storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stat, exists := s.execution[initial.PatternType]
	if !exists {
		stat = initial
	}
	mutate(&stat)
	stat.PatternType = initial.PatternType
	s.execution[stat.PatternType] = stat

	out := stat
	return &out, nil
}

func (s *PatternStore) GetSetupPattern(_ context.Context, name string) (*trade.SetupPatternStat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stat, ok := s.setup[name]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &stat, nil
}

func (s *PatternStore) GetExecutionPattern(_ context.Context, patternType string) (*trade.ExecutionPatternStat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stat, ok := s.execution[patternType]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &stat, nil
}

// ListSetupPatterns returns all setup stats ordered by name.
func (s *PatternStore) ListSetupPatterns(_ context.Context) ([]trade.SetupPatternStat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make([]trade.SetupPatternStat, 0, len(s.setup))
	for _, stat := range s.setup {
		result = append(result, stat)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].PatternName < result[j].PatternName })
	return result, nil
}

// ListExecutionPatterns returns all execution stats ordered by type.
func (s *PatternStore) ListExecutionPatterns(_ context.Context) ([]trade.ExecutionPatternStat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make([]trade.ExecutionPatternStat, 0, len(s.execution))
	for _, stat := range s.execution {
		result = append(result, stat)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].PatternType < result[j].PatternType })
	return result, nil
}
