package database

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"chart-trade-analyzer/internal/storage"
	"chart-trade-analyzer/internal/trade"
)

var _ storage.TradeStore = (*DB)(nil)

const tradeColumns = `id, user_id, parent_id, phase, ts,
	instrument, trading_style, session_info, direction, screenshots,
	primary_timeframe, timeframe_roles, completeness,
	pattern_type, setup_quality, confidence, analysis_source,
	planned_entry, planned_stop, planned_target, planned_rr,
	actual_entry, actual_stop, actual_target, actual_rr,
	variance_entry, variance_stop, variance_target, rr_impact,
	risk_amount, within_limits, violations,
	execution_token_hash, linked_execution_id, execution_patterns,
	outcome, contracts, point_value, actual_pnl,
	notes, analysis, created_at, updated_at`

// tradeArgs returns the insert arguments in tradeColumns order, without
// the trailing timestamps
func tradeArgs(t *trade.Trade) ([]any, error) {
	screenshots, err := json.Marshal(nonNilFiles(t.Screenshots))
	if err != nil {
		return nil, fmt.Errorf("failed to encode screenshots: %w", err)
	}
	roles := t.TimeframeRoles
	if roles == nil {
		roles = map[string]string{}
	}
	rolesJSON, err := json.Marshal(roles)
	if err != nil {
		return nil, fmt.Errorf("failed to encode timeframe roles: %w", err)
	}
	violations := t.Violations
	if violations == nil {
		violations = []trade.Violation{}
	}
	violationsJSON, err := json.Marshal(violations)
	if err != nil {
		return nil, fmt.Errorf("failed to encode violations: %w", err)
	}
	patterns := t.ExecutionPatterns
	if patterns == nil {
		patterns = []string{}
	}
	var analysis []byte
	if len(t.Analysis) > 0 {
		analysis = t.Analysis
	}

	return []any{
		t.ID, t.UserID, nullString(t.ParentID), t.Phase.String(), t.Timestamp,
		t.Instrument, t.TradingStyle, t.SessionInfo, string(t.Direction), screenshots,
		t.PrimaryTimeframe, rolesJSON, t.Completeness,
		t.PatternType, t.SetupQuality, t.Confidence, t.AnalysisSource,
		t.PlannedEntry, t.PlannedStop, t.PlannedTarget, t.PlannedRR,
		t.ActualEntry, t.ActualStop, t.ActualTarget, t.ActualRR,
		t.VarianceEntry, t.VarianceStop, t.VarianceTarget, t.RRImpact,
		t.RiskAmount, t.WithinLimits, violationsJSON,
		t.ExecutionTokenHash, t.LinkedExecutionID, patterns,
		string(t.Outcome), t.Contracts, t.PointValue, t.ActualPnL,
		t.Notes, analysis,
	}, nil
}

func scanTrade(row pgx.Row) (*trade.Trade, error) {
	var (
		t                              trade.Trade
		parentID                       *string
		phase, direction, outcome      string
		screenshots, roles, violations []byte
		analysis                       []byte
	)
	err := row.Scan(
		&t.ID, &t.UserID, &parentID, &phase, &t.Timestamp,
		&t.Instrument, &t.TradingStyle, &t.SessionInfo, &direction, &screenshots,
		&t.PrimaryTimeframe, &roles, &t.Completeness,
		&t.PatternType, &t.SetupQuality, &t.Confidence, &t.AnalysisSource,
		&t.PlannedEntry, &t.PlannedStop, &t.PlannedTarget, &t.PlannedRR,
		&t.ActualEntry, &t.ActualStop, &t.ActualTarget, &t.ActualRR,
		&t.VarianceEntry, &t.VarianceStop, &t.VarianceTarget, &t.RRImpact,
		&t.RiskAmount, &t.WithinLimits, &violations,
		&t.ExecutionTokenHash, &t.LinkedExecutionID, &t.ExecutionPatterns,
		&outcome, &t.Contracts, &t.PointValue, &t.ActualPnL,
		&t.Notes, &analysis, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if parentID != nil {
		t.ParentID = *parentID
	}
	if t.Phase, err = trade.ParsePhase(phase); err != nil {
		return nil, err
	}
	t.Direction = trade.Direction(direction)
	t.Outcome = trade.Outcome(outcome)
	if err := json.Unmarshal(screenshots, &t.Screenshots); err != nil {
		return nil, fmt.Errorf("failed to decode screenshots: %w", err)
	}
	if err := json.Unmarshal(roles, &t.TimeframeRoles); err != nil {
		return nil, fmt.Errorf("failed to decode timeframe roles: %w", err)
	}
	if err := json.Unmarshal(violations, &t.Violations); err != nil {
		return nil, fmt.Errorf("failed to decode violations: %w", err)
	}
	if len(t.Violations) == 0 {
		t.Violations = nil
	}
	if len(t.TimeframeRoles) == 0 {
		t.TimeframeRoles = nil
	}
	if len(analysis) > 0 {
		t.Analysis = json.RawMessage(analysis)
	}
	return &t, nil
}

func insertTrade(ctx context.Context, q querier, t *trade.Trade) (*trade.Trade, error) {
	args, err := tradeArgs(t)
	if err != nil {
		return nil, err
	}
	placeholders := make([]string, len(args))
	for i := range args {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}
	query := fmt.Sprintf(`INSERT INTO trades (%s) VALUES (%s, NOW(), NOW()) RETURNING %s`,
		tradeColumns, strings.Join(placeholders, ", "), tradeColumns)

	stored, err := scanTrade(q.QueryRow(ctx, query, args...))
	if err != nil {
		if isDuplicateKeyError(err) {
			return nil, storage.ErrDuplicateKey
		}
		return nil, fmt.Errorf("failed to insert trade: %w", err)
	}
	return stored, nil
}

// querier is the subset of pgxpool.Pool and pgx.Tx used here
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// CreateTrade inserts a new pre-trade or execution record
func (db *DB) CreateTrade(ctx context.Context, t *trade.Trade) error {
	if db.Pool == nil {
		return fmt.Errorf("database not initialized")
	}
	if t == nil || t.ID == "" {
		return storage.ErrInvalidInput
	}

	stored, err := insertTrade(ctx, db.Pool, t)
	if err != nil {
		return err
	}
	t.CreatedAt = stored.CreatedAt
	t.UpdatedAt = stored.UpdatedAt
	return nil
}

// GetTrade retrieves a trade by id
func (db *DB) GetTrade(ctx context.Context, id string) (*trade.Trade, error) {
	if db.Pool == nil {
		return nil, fmt.Errorf("database not initialized")
	}

	t, err := scanTrade(db.Pool.QueryRow(ctx,
		`SELECT `+tradeColumns+` FROM trades WHERE id = $1`, id))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get trade: %w", err)
	}
	return t, nil
}

// ListTrades returns trades matching the filter, newest first
func (db *DB) ListTrades(ctx context.Context, f storage.TradeFilter) ([]*trade.Trade, error) {
	if db.Pool == nil {
		return nil, fmt.Errorf("database not initialized")
	}

	var (
		where []string
		args  []any
	)
	add := func(clause string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if f.UserID != "" {
		add("user_id = $%d", f.UserID)
	}
	if f.Phase != trade.PhaseUnknown {
		add("phase = $%d", f.Phase.String())
	}
	if f.Instrument != "" {
		add("instrument = $%d", f.Instrument)
	}
	if !f.Since.IsZero() {
		add("ts >= $%d", f.Since)
	}

	query := `SELECT ` + tradeColumns + ` FROM trades`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY ts DESC, id DESC"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list trades: %w", err)
	}
	defer rows.Close()

	var trades []*trade.Trade
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}
		trades = append(trades, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate trades: %w", err)
	}
	return trades, nil
}

// LinkExecution locks the pre-trade row, applies fn and writes the parent
// and the new execution record in one transaction. The parent update is
// conditional on the stored phase still being pre_trade.
func (db *DB) LinkExecution(ctx context.Context, tradeID string, fn storage.LinkFunc) (*trade.Trade, *trade.Trade, error) {
	if db.Pool == nil {
		return nil, nil, fmt.Errorf("database not initialized")
	}

	var parent, execution *trade.Trade
	err := db.withTx(ctx, func(tx pgx.Tx) error {
		locked, err := scanTrade(tx.QueryRow(ctx,
			`SELECT `+tradeColumns+` FROM trades WHERE id = $1 FOR UPDATE`, tradeID))
		if err != nil {
			if isNotFoundError(err) {
				return storage.ErrNotFound
			}
			return fmt.Errorf("failed to lock trade: %w", err)
		}

		next := locked.Clone()
		exec, err := fn(next)
		if err != nil {
			return err
		}
		if locked.Phase != trade.PhasePreTrade || !locked.Phase.CanTransitionTo(next.Phase) {
			return storage.ErrConflict
		}
		if exec == nil || exec.ID == "" {
			return storage.ErrInvalidInput
		}

		execution, err = insertTrade(ctx, tx, exec)
		if err != nil {
			return err
		}

		parent, err = updateTradeRow(ctx, tx, next, trade.PhasePreTrade)
		return err
	})
	if err != nil {
		return nil, nil, err
	}

	db.logger.Debug().
		Str("trade_id", parent.ID).
		Str("execution_id", execution.ID).
		Msg("Execution linked")
	return parent, execution, nil
}

// UpdateTrade locks the row, applies fn and writes it back
func (db *DB) UpdateTrade(ctx context.Context, id string, fn func(t *trade.Trade) error) (*trade.Trade, error) {
	if db.Pool == nil {
		return nil, fmt.Errorf("database not initialized")
	}

	var updated *trade.Trade
	err := db.withTx(ctx, func(tx pgx.Tx) error {
		locked, err := scanTrade(tx.QueryRow(ctx,
			`SELECT `+tradeColumns+` FROM trades WHERE id = $1 FOR UPDATE`, id))
		if err != nil {
			if isNotFoundError(err) {
				return storage.ErrNotFound
			}
			return fmt.Errorf("failed to lock trade: %w", err)
		}

		next := locked.Clone()
		if err := fn(next); err != nil {
			return err
		}
		next.ID = locked.ID

		updated, err = updateTradeRow(ctx, tx, next, locked.Phase)
		return err
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// updateTradeRow rewrites every mutable column of t. The write only
// applies while the stored phase equals expected; otherwise ErrConflict.
func updateTradeRow(ctx context.Context, tx pgx.Tx, t *trade.Trade, expected trade.Phase) (*trade.Trade, error) {
	args, err := tradeArgs(t)
	if err != nil {
		return nil, err
	}

	cols := strings.Split(tradeColumns, ",")
	sets := make([]string, 0, len(args))
	// skip id (arg 1); everything up to analysis is assignable
	for i := 1; i < len(args); i++ {
		sets = append(sets, fmt.Sprintf("%s = $%d", strings.TrimSpace(cols[i]), i+1))
	}
	args = append(args, expected.String())
	query := fmt.Sprintf(`UPDATE trades SET %s WHERE id = $1 AND phase = $%d RETURNING %s`,
		strings.Join(sets, ", "), len(args), tradeColumns)

	stored, err := scanTrade(tx.QueryRow(ctx, query, args...))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrConflict
		}
		return nil, fmt.Errorf("failed to update trade: %w", err)
	}
	return stored, nil
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nonNilFiles(files []trade.FileRef) []trade.FileRef {
	if files == nil {
		return []trade.FileRef{}
	}
	return files
}
