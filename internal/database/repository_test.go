package database

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"chart-trade-analyzer/internal/storage"
	"chart-trade-analyzer/internal/trade"
)

// setupTestDB starts a PostgreSQL container and applies migrations
func setupTestDB(t *testing.T) *DB {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping postgres integration test in short mode")
	}

	ctx := context.Background()
	var (
		container *postgres.PostgresContainer
		err       error
	)
	func() {
		// testcontainers panics when no docker daemon is reachable
		defer func() {
			if r := recover(); r != nil {
				err = errors.New("docker unavailable")
			}
		}()
		container, err = postgres.Run(ctx, "postgres:15-alpine",
			postgres.WithDatabase("testdb"),
			postgres.WithUsername("test"),
			postgres.WithPassword("test"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(60*time.Second),
			),
		)
	}()
	if err != nil {
		t.Skipf("postgres container unavailable: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err, "failed to get connection string")

	db, err := NewDB(ctx, Config{DSN: dsn, MaxConns: 10}, zerolog.Nop())
	require.NoError(t, err, "failed to create pool")
	t.Cleanup(db.Close)

	require.NoError(t, db.RunMigrations(ctx))
	// migrations are idempotent
	require.NoError(t, db.RunMigrations(ctx))
	return db
}

func preTrade(id string) *trade.Trade {
	return &trade.Trade{
		ID:                 id,
		UserID:             "user-1",
		Phase:              trade.PhasePreTrade,
		Timestamp:          time.Date(2024, 3, 1, 14, 30, 0, 0, time.UTC),
		Instrument:         "NQ",
		TradingStyle:       "scalping",
		Direction:          trade.DirectionLong,
		Screenshots:        []trade.FileRef{{Timeframe: "1min", Path: "/tmp/a.png", Size: 10}},
		PrimaryTimeframe:   "1min",
		TimeframeRoles:     map[string]string{"1min": "entry"},
		Completeness:       60,
		PatternType:        "breakout",
		SetupQuality:       7,
		Confidence:         0.7,
		AnalysisSource:     "provider",
		PlannedEntry:       19700,
		PlannedStop:        19680,
		PlannedTarget:      19740,
		PlannedRR:          2,
		RiskAmount:         400,
		WithinLimits:       true,
		Violations:         []trade.Violation{{Rule: "session_window", Message: "outside", Severity: "LOW"}},
		ExecutionTokenHash: "hash",
		Outcome:            trade.OutcomePending,
		Contracts:          1,
		PointValue:         20,
		Analysis:           []byte(`{"pattern_type":"breakout"}`),
	}
}

func TestTradeRepository(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	t.Run("create and get", func(t *testing.T) {
		require.NoError(t, db.CreateTrade(ctx, preTrade("11111111-1111-1111-1111-111111111111")))
		assert.ErrorIs(t, db.CreateTrade(ctx, preTrade("11111111-1111-1111-1111-111111111111")), storage.ErrDuplicateKey)

		got, err := db.GetTrade(ctx, "11111111-1111-1111-1111-111111111111")
		require.NoError(t, err)
		assert.Equal(t, trade.PhasePreTrade, got.Phase)
		assert.Equal(t, "entry", got.TimeframeRoles["1min"])
		assert.Len(t, got.Violations, 1)
		assert.Nil(t, got.ActualEntry)
		assert.JSONEq(t, `{"pattern_type":"breakout"}`, string(got.Analysis))

		_, err = db.GetTrade(ctx, "00000000-0000-0000-0000-000000000000")
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("link execution once", func(t *testing.T) {
		id := "22222222-2222-2222-2222-222222222222"
		require.NoError(t, db.CreateTrade(ctx, preTrade(id)))

		link := func(execID string) storage.LinkFunc {
			return func(parent *trade.Trade) (*trade.Trade, error) {
				parent.Phase = trade.PhaseComplete
				parent.LinkedExecutionID = execID
				parent.ActualEntry = trade.Float(19703)
				parent.ExecutionPatterns = []string{trade.ExecEarlyEntry}
				exec := parent.Clone()
				exec.ID = execID
				exec.ParentID = parent.ID
				exec.Phase = trade.PhaseExecution
				exec.LinkedExecutionID = ""
				return exec, nil
			}
		}

		parent, exec, err := db.LinkExecution(ctx, id, link("33333333-3333-3333-3333-333333333333"))
		require.NoError(t, err)
		assert.Equal(t, trade.PhaseComplete, parent.Phase)
		assert.Equal(t, id, exec.ParentID)
		assert.Equal(t, []string{trade.ExecEarlyEntry}, parent.ExecutionPatterns)
		require.NotNil(t, parent.ActualEntry)
		assert.Equal(t, 19703.0, *parent.ActualEntry)

		_, _, err = db.LinkExecution(ctx, id, link("44444444-4444-4444-4444-444444444444"))
		assert.ErrorIs(t, err, storage.ErrConflict)

		_, err = db.GetTrade(ctx, "44444444-4444-4444-4444-444444444444")
		assert.ErrorIs(t, err, storage.ErrNotFound, "losing link must not write")
	})

	t.Run("concurrent links", func(t *testing.T) {
		id := "55555555-5555-5555-5555-555555555555"
		require.NoError(t, db.CreateTrade(ctx, preTrade(id)))

		execIDs := []string{
			"66666666-6666-6666-6666-666666666661",
			"66666666-6666-6666-6666-666666666662",
			"66666666-6666-6666-6666-666666666663",
			"66666666-6666-6666-6666-666666666664",
		}
		var wins, conflicts int32
		var wg sync.WaitGroup
		for _, execID := range execIDs {
			wg.Add(1)
			go func(execID string) {
				defer wg.Done()
				_, _, err := db.LinkExecution(ctx, id, func(parent *trade.Trade) (*trade.Trade, error) {
					parent.Phase = trade.PhaseComplete
					exec := parent.Clone()
					exec.ID = execID
					exec.ParentID = parent.ID
					exec.Phase = trade.PhaseExecution
					return exec, nil
				})
				switch {
				case err == nil:
					atomic.AddInt32(&wins, 1)
				case errors.Is(err, storage.ErrConflict):
					atomic.AddInt32(&conflicts, 1)
				default:
					t.Errorf("unexpected error: %v", err)
				}
			}(execID)
		}
		wg.Wait()

		assert.Equal(t, int32(1), wins)
		assert.Equal(t, int32(len(execIDs)-1), conflicts)
	})

	t.Run("update and list", func(t *testing.T) {
		id := "22222222-2222-2222-2222-222222222222"
		updated, err := db.UpdateTrade(ctx, id, func(tr *trade.Trade) error {
			tr.Outcome = trade.OutcomeWin
			tr.ActualPnL = trade.Float(740)
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, trade.OutcomeWin, updated.Outcome)

		list, err := db.ListTrades(ctx, storage.TradeFilter{UserID: "user-1", Phase: trade.PhaseComplete})
		require.NoError(t, err)
		assert.NotEmpty(t, list)
		for _, tr := range list {
			assert.Equal(t, trade.PhaseComplete, tr.Phase)
		}

		limited, err := db.ListTrades(ctx, storage.TradeFilter{Limit: 2})
		require.NoError(t, err)
		assert.Len(t, limited, 2)
	})
}

func TestPatternRepository(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	seeds := []trade.SetupPatternStat{{PatternName: "breakout"}, {PatternName: "pullback"}}
	require.NoError(t, db.SeedSetupPatterns(ctx, seeds))
	require.NoError(t, db.SeedSetupPatterns(ctx, seeds))

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(win bool) {
			defer wg.Done()
			_, err := db.UpsertSetupPattern(ctx, trade.SetupPatternStat{PatternName: "breakout"}, func(s *trade.SetupPatternStat) {
				s.TotalCount++
				if win {
					s.SuccessCount++
				}
			})
			assert.NoError(t, err)
		}(i%2 == 0)
	}
	wg.Wait()

	stat, err := db.GetSetupPattern(ctx, "breakout")
	require.NoError(t, err)
	assert.Equal(t, 10, stat.TotalCount)
	assert.Equal(t, 5, stat.SuccessCount)

	exec, err := db.UpsertExecutionPattern(ctx, trade.ExecutionPatternStat{PatternType: trade.ExecLateEntry}, func(s *trade.ExecutionPatternStat) {
		s.FrequencyCount++
		s.AverageImpact = -0.4
	})
	require.NoError(t, err)
	assert.Equal(t, 1, exec.FrequencyCount)

	_, err = db.GetExecutionPattern(ctx, trade.ExecEarlyEntry)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	setups, err := db.ListSetupPatterns(ctx)
	require.NoError(t, err)
	require.Len(t, setups, 2)
	assert.Equal(t, "breakout", setups[0].PatternName)

	execs, err := db.ListExecutionPatterns(ctx)
	require.NoError(t, err)
	assert.Len(t, execs, 1)
}
