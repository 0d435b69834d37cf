package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"chart-trade-analyzer/internal/storage"
	"chart-trade-analyzer/internal/trade"
)

var _ storage.PatternStore = (*DB)(nil)

// SeedSetupPatterns inserts the pattern vocabulary, leaving existing rows alone
func (db *DB) SeedSetupPatterns(ctx context.Context, seeds []trade.SetupPatternStat) error {
	if db.Pool == nil {
		return fmt.Errorf("database not initialized")
	}
	if len(seeds) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, seed := range seeds {
		if seed.PatternName == "" {
			return storage.ErrInvalidInput
		}
		batch.Queue(`
			INSERT INTO setup_pattern_stats (pattern_name, success_count, total_count, confidence_score)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (pattern_name) DO NOTHING`,
			seed.PatternName, seed.SuccessCount, seed.TotalCount, seed.ConfidenceScore)
	}

	results := db.Pool.SendBatch(ctx, batch)
	defer results.Close()
	for range seeds {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("failed to seed setup patterns: %w", err)
		}
	}
	return nil
}

const setupColumns = `pattern_name, success_count, total_count, confidence_score, created_at, updated_at`

func scanSetupPattern(row pgx.Row) (*trade.SetupPatternStat, error) {
	var s trade.SetupPatternStat
	if err := row.Scan(&s.PatternName, &s.SuccessCount, &s.TotalCount, &s.ConfidenceScore, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return nil, err
	}
	return &s, nil
}

// UpsertSetupPattern creates the row from initial if absent, then locks,
// mutates and writes it back in one transaction
func (db *DB) UpsertSetupPattern(ctx context.Context, initial trade.SetupPatternStat, mutate func(s *trade.SetupPatternStat)) (*trade.SetupPatternStat, error) {
	if db.Pool == nil {
		return nil, fmt.Errorf("database not initialized")
	}
	if initial.PatternName == "" {
		return nil, storage.ErrInvalidInput
	}

	var out *trade.SetupPatternStat
	err := db.withTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
			INSERT INTO setup_pattern_stats (pattern_name, success_count, total_count, confidence_score)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (pattern_name) DO NOTHING`,
			initial.PatternName, initial.SuccessCount, initial.TotalCount, initial.ConfidenceScore,
		); err != nil {
			return fmt.Errorf("failed to insert setup pattern: %w", err)
		}

		stat, err := scanSetupPattern(tx.QueryRow(ctx,
			`SELECT `+setupColumns+` FROM setup_pattern_stats WHERE pattern_name = $1 FOR UPDATE`,
			initial.PatternName))
		if err != nil {
			return fmt.Errorf("failed to lock setup pattern: %w", err)
		}

		mutate(stat)

		out, err = scanSetupPattern(tx.QueryRow(ctx, `
			UPDATE setup_pattern_stats
			SET success_count = $2, total_count = $3, confidence_score = $4
			WHERE pattern_name = $1
			RETURNING `+setupColumns,
			initial.PatternName, stat.SuccessCount, stat.TotalCount, stat.ConfidenceScore))
		if err != nil {
			return fmt.Errorf("failed to update setup pattern: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

const executionColumns = `pattern_type, frequency_count, average_impact, confidence_score, first_seen, last_seen`

func scanExecutionPattern(row pgx.Row) (*trade.ExecutionPatternStat, error) {
	var s trade.ExecutionPatternStat
	if err := row.Scan(&s.PatternType, &s.FrequencyCount, &s.AverageImpact, &s.ConfidenceScore, &s.FirstSeen, &s.LastSeen); err != nil {
		return nil, err
	}
	return &s, nil
}

// UpsertExecutionPattern creates the row from initial if absent, then
// locks, mutates and writes it back in one transaction
func (db *DB) UpsertExecutionPattern(ctx context.Context, initial trade.ExecutionPatternStat, mutate func(s *trade.ExecutionPatternStat)) (*trade.ExecutionPatternStat, error) {
	if db.Pool == nil {
		return nil, fmt.Errorf("database not initialized")
	}
	if initial.PatternType == "" {
		return nil, storage.ErrInvalidInput
	}

	firstSeen := initial.FirstSeen
	if firstSeen.IsZero() {
		firstSeen = time.Now()
	}
	lastSeen := initial.LastSeen
	if lastSeen.IsZero() {
		lastSeen = firstSeen
	}

	var out *trade.ExecutionPatternStat
	err := db.withTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
			INSERT INTO execution_pattern_stats (pattern_type, frequency_count, average_impact, confidence_score, first_seen, last_seen)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (pattern_type) DO NOTHING`,
			initial.PatternType, initial.FrequencyCount, initial.AverageImpact, initial.ConfidenceScore, firstSeen, lastSeen,
		); err != nil {
			return fmt.Errorf("failed to insert execution pattern: %w", err)
		}

		stat, err := scanExecutionPattern(tx.QueryRow(ctx,
			`SELECT `+executionColumns+` FROM execution_pattern_stats WHERE pattern_type = $1 FOR UPDATE`,
			initial.PatternType))
		if err != nil {
			return fmt.Errorf("failed to lock execution pattern: %w", err)
		}

		mutate(stat)

		out, err = scanExecutionPattern(tx.QueryRow(ctx, `
			UPDATE execution_pattern_stats
			SET frequency_count = $2, average_impact = $3, confidence_score = $4, first_seen = $5, last_seen = $6
			WHERE pattern_type = $1
			RETURNING `+executionColumns,
			initial.PatternType, stat.FrequencyCount, stat.AverageImpact, stat.ConfidenceScore, stat.FirstSeen, stat.LastSeen))
		if err != nil {
			return fmt.Errorf("failed to update execution pattern: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GetSetupPattern returns a single setup aggregate
func (db *DB) GetSetupPattern(ctx context.Context, name string) (*trade.SetupPatternStat, error) {
	if db.Pool == nil {
		return nil, fmt.Errorf("database not initialized")
	}
	stat, err := scanSetupPattern(db.Pool.QueryRow(ctx,
		`SELECT `+setupColumns+` FROM setup_pattern_stats WHERE pattern_name = $1`, name))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get setup pattern: %w", err)
	}
	return stat, nil
}

// GetExecutionPattern returns a single execution aggregate
func (db *DB) GetExecutionPattern(ctx context.Context, patternType string) (*trade.ExecutionPatternStat, error) {
	if db.Pool == nil {
		return nil, fmt.Errorf("database not initialized")
	}
	stat, err := scanExecutionPattern(db.Pool.QueryRow(ctx,
		`SELECT `+executionColumns+` FROM execution_pattern_stats WHERE pattern_type = $1`, patternType))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get execution pattern: %w", err)
	}
	return stat, nil
}

// ListSetupPatterns returns every setup aggregate ordered by name
func (db *DB) ListSetupPatterns(ctx context.Context) ([]trade.SetupPatternStat, error) {
	if db.Pool == nil {
		return nil, fmt.Errorf("database not initialized")
	}

	rows, err := db.Pool.Query(ctx, `SELECT `+setupColumns+` FROM setup_pattern_stats ORDER BY pattern_name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list setup patterns: %w", err)
	}
	defer rows.Close()

	var stats []trade.SetupPatternStat
	for rows.Next() {
		s, err := scanSetupPattern(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan setup pattern: %w", err)
		}
		stats = append(stats, *s)
	}
	return stats, rows.Err()
}

// ListExecutionPatterns returns every execution aggregate ordered by type
func (db *DB) ListExecutionPatterns(ctx context.Context) ([]trade.ExecutionPatternStat, error) {
	if db.Pool == nil {
		return nil, fmt.Errorf("database not initialized")
	}

	rows, err := db.Pool.Query(ctx, `SELECT `+executionColumns+` FROM execution_pattern_stats ORDER BY pattern_type`)
	if err != nil {
		return nil, fmt.Errorf("failed to list execution patterns: %w", err)
	}
	defer rows.Close()

	var stats []trade.ExecutionPatternStat
	for rows.Next() {
		s, err := scanExecutionPattern(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution pattern: %w", err)
		}
		stats = append(stats, *s)
	}
	return stats, rows.Err()
}
