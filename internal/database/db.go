// Package database provides the PostgreSQL-backed candle store and backtest
// result persistence.
package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// Config holds database connection settings.
type Config struct {
	Enabled  bool   `json:"enabled"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	Database string `json:"database"`
	SSLMode  string `json:"ssl_mode"`
}

// DB wraps the PostgreSQL connection pool.
type DB struct {
	Pool   *pgxpool.Pool
	logger zerolog.Logger
}

// NewDB creates a connection pool and verifies connectivity.
func NewDB(cfg Config, logger zerolog.Logger) (*DB, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
	)

	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	poolConfig.MaxConns = 25
	poolConfig.MinConns = 5
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	log := logger.With().Str("component", "Database").Logger()
	log.Info().Str("database", cfg.Database).Msg("connected to PostgreSQL")

	return &DB{Pool: pool, logger: log}, nil
}

// Close closes the connection pool.
func (db *DB) Close() {
	if db.Pool != nil {
		db.Pool.Close()
		db.logger.Info().Msg("database connection closed")
	}
}

// RunMigrations creates the schema if it does not exist.
func (db *DB) RunMigrations(ctx context.Context) error {
	db.logger.Info().Msg("running database migrations")

	migrations := []string{
		`CREATE TABLE IF NOT EXISTS candles (
			symbol VARCHAR(20) NOT NULL,
			timeframe VARCHAR(5) NOT NULL,
			open_time TIMESTAMPTZ NOT NULL,
			open DECIMAL(20, 8) NOT NULL,
			high DECIMAL(20, 8) NOT NULL,
			low DECIMAL(20, 8) NOT NULL,
			close DECIMAL(20, 8) NOT NULL,
			volume DECIMAL(28, 8) NOT NULL,
			PRIMARY KEY (symbol, timeframe, open_time)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_candles_open_time ON candles(open_time)`,

		`CREATE TABLE IF NOT EXISTS backtest_results (
			id SERIAL PRIMARY KEY,
			run_id UUID NOT NULL UNIQUE,
			symbol VARCHAR(20) NOT NULL,
			timeframe VARCHAR(5) NOT NULL,
			strategy VARCHAR(100) NOT NULL,
			start_time TIMESTAMPTZ NOT NULL,
			end_time TIMESTAMPTZ NOT NULL,
			initial_capital DECIMAL(20, 8) NOT NULL,
			final_equity DECIMAL(20, 8) NOT NULL,
			total_return DECIMAL(12, 6) NOT NULL,
			annualized_return DECIMAL(12, 6) NOT NULL,
			max_drawdown DECIMAL(12, 6) NOT NULL,
			sharpe_ratio DECIMAL(12, 6) NOT NULL,
			sortino_ratio DECIMAL(12, 6) NOT NULL,
			win_rate DECIMAL(8, 6) NOT NULL,
			profit_factor DECIMAL(12, 6),
			total_trades INTEGER NOT NULL,
			created_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_backtest_results_symbol ON backtest_results(symbol)`,

		`CREATE TABLE IF NOT EXISTS backtest_trades (
			id SERIAL PRIMARY KEY,
			backtest_result_id INTEGER NOT NULL REFERENCES backtest_results(id) ON DELETE CASCADE,
			entry_time TIMESTAMPTZ NOT NULL,
			entry_price DECIMAL(20, 8) NOT NULL,
			exit_time TIMESTAMPTZ NOT NULL,
			exit_price DECIMAL(20, 8) NOT NULL,
			side VARCHAR(5) NOT NULL,
			units DECIMAL(28, 8) NOT NULL,
			pnl DECIMAL(20, 8) NOT NULL,
			fees DECIMAL(20, 8) NOT NULL,
			exit_reason VARCHAR(20) NOT NULL,
			force_closed BOOLEAN NOT NULL DEFAULT FALSE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_backtest_trades_result ON backtest_trades(backtest_result_id)`,
	}

	for i, migration := range migrations {
		if _, err := db.Pool.Exec(ctx, migration); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}

	db.logger.Info().Msg("database migrations complete")
	return nil
}
