package storage

import (
	"context"
	"time"

	"chart-trade-analyzer/internal/trade"
)

// LinkFunc receives the locked pre-trade record. It mutates the record in
// place and returns the execution record to insert. Returning an error
// aborts the link without any write.
type LinkFunc func(parent *trade.Trade) (*trade.Trade, error)

// TradeFilter narrows ListTrades. Zero values match everything.
type TradeFilter struct {
	UserID     string
	Phase      trade.Phase
	Instrument string
	Since      time.Time
	Limit      int
}

// TradeStore persists trades.
type TradeStore interface {
	// CreateTrade inserts a new trade. Returns ErrDuplicateKey if the id exists.
	CreateTrade(ctx context.Context, t *trade.Trade) error

	// GetTrade retrieves a trade by id. Returns ErrNotFound if missing.
	GetTrade(ctx context.Context, id string) (*trade.Trade, error)

	// ListTrades returns trades newest first.
	ListTrades(ctx context.Context, filter TradeFilter) ([]*trade.Trade, error)

	// LinkExecution atomically locks the pre-trade record, applies fn and
	// writes both the updated parent and the returned execution record.
	// The parent update only succeeds while it is still in pre_trade;
	// otherwise ErrConflict is returned and nothing is written.
	LinkExecution(ctx context.Context, tradeID string, fn LinkFunc) (parent, execution *trade.Trade, err error)

	// UpdateTrade locks the record, applies fn and writes it back.
	UpdateTrade(ctx context.Context, id string, fn func(t *trade.Trade) error) (*trade.Trade, error)
}

// PatternStore persists the learning aggregates. Upserts are atomic per
// key: the row is created from initial if absent, then locked, mutated and
// written back in one unit.
type PatternStore interface {
	SeedSetupPatterns(ctx context.Context, seeds []trade.SetupPatternStat) error

	UpsertSetupPattern(ctx context.Context, initial trade.SetupPatternStat, mutate func(s *trade.SetupPatternStat)) (*trade.SetupPatternStat, error)

	UpsertExecutionPattern(ctx context.Context, initial trade.ExecutionPatternStat, mutate func(s *trade.ExecutionPatternStat)) (*trade.ExecutionPatternStat, error)

	// GetSetupPattern returns ErrNotFound if the pattern was never seen.
	GetSetupPattern(ctx context.Context, name string) (*trade.SetupPatternStat, error)

	// GetExecutionPattern returns ErrNotFound if the pattern was never seen.
	GetExecutionPattern(ctx context.Context, patternType string) (*trade.ExecutionPatternStat, error)

	ListSetupPatterns(ctx context.Context) ([]trade.SetupPatternStat, error)

	ListExecutionPatterns(ctx context.Context) ([]trade.ExecutionPatternStat, error)
}
