package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// DB wraps the PostgreSQL connection pool
type DB struct {
	Pool   *pgxpool.Pool
	logger zerolog.Logger
}

// Config holds database configuration
type Config struct {
	Host     string `json:"host" yaml:"host" default:"localhost"`
	Port     int    `json:"port" yaml:"port" default:"5432" validate:"min=1,max=65535"`
	User     string `json:"user" yaml:"user" default:"postgres"`
	Password string `json:"password" yaml:"password"`
	Database string `json:"database" yaml:"database" default:"chart_trades"`
	SSLMode  string `json:"ssl_mode" yaml:"ssl_mode" default:"disable"`
	MaxConns int32  `json:"max_conns" yaml:"max_conns" default:"25"`

	// DSN overrides the discrete fields when set
	DSN string `json:"dsn" yaml:"dsn"`
}

// ConnString builds the pgx connection string
func (c Config) ConnString() string {
	if c.DSN != "" {
		return c.DSN
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// NewDB creates a new database connection
func NewDB(ctx context.Context, cfg Config, logger zerolog.Logger) (*DB, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.ConnString())
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	// Configure connection pool
	poolConfig.MaxConns = 25
	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = cfg.MaxConns
	}
	poolConfig.MinConns = 2
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	logger = logger.With().Str("component", "database").Logger()
	logger.Info().Str("database", poolConfig.ConnConfig.Database).Msg("Connected to PostgreSQL")

	return &DB{Pool: pool, logger: logger}, nil
}

// Close closes the database connection
func (db *DB) Close() {
	if db.Pool != nil {
		db.Pool.Close()
		db.logger.Info().Msg("Database connection closed")
	}
}

// Ping checks the pool is reachable
func (db *DB) Ping(ctx context.Context) error {
	if db.Pool == nil {
		return fmt.Errorf("database not initialized")
	}
	return db.Pool.Ping(ctx)
}

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS trades (
		id VARCHAR(36) PRIMARY KEY,
		user_id VARCHAR(64) NOT NULL DEFAULT '',
		parent_id VARCHAR(36) REFERENCES trades(id) ON DELETE CASCADE,
		phase VARCHAR(16) NOT NULL,
		ts TIMESTAMPTZ NOT NULL,

		instrument VARCHAR(32) NOT NULL,
		trading_style VARCHAR(32) NOT NULL DEFAULT '',
		session_info VARCHAR(64) NOT NULL DEFAULT '',
		direction VARCHAR(8) NOT NULL DEFAULT 'neutral',
		screenshots JSONB NOT NULL DEFAULT '[]',
		primary_timeframe VARCHAR(32) NOT NULL DEFAULT '',
		timeframe_roles JSONB NOT NULL DEFAULT '{}',
		completeness INTEGER NOT NULL DEFAULT 0,

		pattern_type VARCHAR(64) NOT NULL DEFAULT 'unknown',
		setup_quality INTEGER NOT NULL DEFAULT 0,
		confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
		analysis_source VARCHAR(16) NOT NULL DEFAULT '',

		planned_entry DOUBLE PRECISION NOT NULL DEFAULT 0,
		planned_stop DOUBLE PRECISION NOT NULL DEFAULT 0,
		planned_target DOUBLE PRECISION NOT NULL DEFAULT 0,
		planned_rr DOUBLE PRECISION NOT NULL DEFAULT 0,

		actual_entry DOUBLE PRECISION,
		actual_stop DOUBLE PRECISION,
		actual_target DOUBLE PRECISION,
		actual_rr DOUBLE PRECISION,
		variance_entry DOUBLE PRECISION,
		variance_stop DOUBLE PRECISION,
		variance_target DOUBLE PRECISION,
		rr_impact DOUBLE PRECISION,

		risk_amount DOUBLE PRECISION NOT NULL DEFAULT 0,
		within_limits BOOLEAN NOT NULL DEFAULT FALSE,
		violations JSONB NOT NULL DEFAULT '[]',

		execution_token_hash VARCHAR(100) NOT NULL DEFAULT '',
		linked_execution_id VARCHAR(36) NOT NULL DEFAULT '',
		execution_patterns TEXT[] NOT NULL DEFAULT '{}',

		outcome VARCHAR(16) NOT NULL DEFAULT 'pending',
		contracts DOUBLE PRECISION NOT NULL DEFAULT 0,
		point_value DOUBLE PRECISION NOT NULL DEFAULT 1,
		actual_pnl DOUBLE PRECISION,

		notes TEXT NOT NULL DEFAULT '',
		analysis JSONB,

		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_trades_user_ts ON trades(user_id, ts DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_trades_phase ON trades(phase)`,
	`CREATE INDEX IF NOT EXISTS idx_trades_parent ON trades(parent_id)`,
	`CREATE INDEX IF NOT EXISTS idx_trades_instrument ON trades(instrument)`,

	`CREATE TABLE IF NOT EXISTS setup_pattern_stats (
		pattern_name VARCHAR(64) PRIMARY KEY,
		success_count INTEGER NOT NULL DEFAULT 0,
		total_count INTEGER NOT NULL DEFAULT 0,
		confidence_score DOUBLE PRECISION NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		CHECK (success_count <= total_count)
	)`,

	`CREATE TABLE IF NOT EXISTS execution_pattern_stats (
		pattern_type VARCHAR(64) PRIMARY KEY,
		frequency_count INTEGER NOT NULL DEFAULT 0,
		average_impact DOUBLE PRECISION NOT NULL DEFAULT 0,
		confidence_score DOUBLE PRECISION NOT NULL DEFAULT 0,
		first_seen TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		last_seen TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE OR REPLACE FUNCTION update_updated_at_column()
	RETURNS TRIGGER AS $$
	BEGIN
		NEW.updated_at = NOW();
		RETURN NEW;
	END;
	$$ language 'plpgsql'`,

	`DROP TRIGGER IF EXISTS update_trades_updated_at ON trades`,
	`CREATE TRIGGER update_trades_updated_at BEFORE UPDATE ON trades
		FOR EACH ROW EXECUTE FUNCTION update_updated_at_column()`,

	`DROP TRIGGER IF EXISTS update_setup_pattern_stats_updated_at ON setup_pattern_stats`,
	`CREATE TRIGGER update_setup_pattern_stats_updated_at BEFORE UPDATE ON setup_pattern_stats
		FOR EACH ROW EXECUTE FUNCTION update_updated_at_column()`,
}

// RunMigrations executes database migrations
func (db *DB) RunMigrations(ctx context.Context) error {
	if db.Pool == nil {
		return fmt.Errorf("database not initialized")
	}
	db.logger.Info().Int("statements", len(migrations)).Msg("Running database migrations")

	for i, migration := range migrations {
		if _, err := db.Pool.Exec(ctx, migration); err != nil {
			return fmt.Errorf("migration %d failed: %w", i, err)
		}
	}

	db.logger.Info().Msg("Database migrations completed")
	return nil
}

// PostgreSQL error codes
const (
	pgErrUniqueViolation = "23505"
)

func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgErrUniqueViolation
	}
	return false
}

func isNotFoundError(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

// withTx runs fn in a transaction, committing only when fn succeeds
func (db *DB) withTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
