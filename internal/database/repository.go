package database

import (
	"context"
	"fmt"
	"time"

	"crypto-market-analyzer/internal/backtest"
	"crypto-market-analyzer/internal/market"
)

// Repository provides data access on top of the connection pool. It
// implements market.CandleProvider against the candles table.
type Repository struct {
	db *DB
}

// NewRepository creates a repository.
func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

// Candles returns the most recent limit candles for a symbol/timeframe,
// ordered ascending by open time.
func (r *Repository) Candles(ctx context.Context, symbol string, tf market.Timeframe, limit int) ([]market.Candle, error) {
	query := `
		SELECT open_time, open, high, low, close, volume
		FROM (
			SELECT open_time, open, high, low, close, volume
			FROM candles
			WHERE symbol = $1 AND timeframe = $2
			ORDER BY open_time DESC
			LIMIT $3
		) recent
		ORDER BY open_time ASC
	`
	rows, err := r.db.Pool.Query(ctx, query, symbol, string(tf), limit)
	if err != nil {
		return nil, market.NewAPIError(fmt.Sprintf("candle query failed: %v", err))
	}
	defer rows.Close()

	return scanCandles(rows, symbol, tf)
}

// CandlesRange returns the candles inside [from, to], ordered ascending.
func (r *Repository) CandlesRange(ctx context.Context, symbol string, tf market.Timeframe, from, to time.Time) ([]market.Candle, error) {
	query := `
		SELECT open_time, open, high, low, close, volume
		FROM candles
		WHERE symbol = $1 AND timeframe = $2 AND open_time >= $3 AND open_time <= $4
		ORDER BY open_time ASC
	`
	rows, err := r.db.Pool.Query(ctx, query, symbol, string(tf), from, to)
	if err != nil {
		return nil, market.NewAPIError(fmt.Sprintf("candle range query failed: %v", err))
	}
	defer rows.Close()

	return scanCandles(rows, symbol, tf)
}

// candleRows is the subset of pgx.Rows scanCandles needs.
type candleRows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanCandles(rows candleRows, symbol string, tf market.Timeframe) ([]market.Candle, error) {
	var candles []market.Candle
	for rows.Next() {
		var c market.Candle
		if err := rows.Scan(&c.OpenTime, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume); err != nil {
			return nil, market.NewAPIError(fmt.Sprintf("candle scan failed: %v", err))
		}
		candles = append(candles, c)
	}
	if err := rows.Err(); err != nil {
		return nil, market.NewAPIError(fmt.Sprintf("candle rows failed: %v", err))
	}
	if len(candles) == 0 {
		return nil, market.NewDataError(fmt.Sprintf("no candles stored for %s %s", symbol, tf))
	}
	return candles, nil
}

// UpsertCandles stores a candle batch, replacing rows that already exist for
// the same (symbol, timeframe, open_time).
func (r *Repository) UpsertCandles(ctx context.Context, symbol string, tf market.Timeframe, candles []market.Candle) error {
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO candles (symbol, timeframe, open_time, open, high, low, close, volume)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (symbol, timeframe, open_time)
		DO UPDATE SET open = $4, high = $5, low = $6, close = $7, volume = $8
	`
	for _, c := range candles {
		if _, err := tx.Exec(ctx, query, symbol, string(tf), c.OpenTime, c.Open, c.High, c.Low, c.Close, c.Volume); err != nil {
			return fmt.Errorf("failed to upsert candle at %s: %w", c.OpenTime.Format(time.RFC3339), err)
		}
	}

	return tx.Commit(ctx)
}

// SaveBacktestResult persists a run and its trade ledger in one transaction
// and returns the row id.
func (r *Repository) SaveBacktestResult(ctx context.Context, result *backtest.Result) (int64, error) {
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO backtest_results (
			run_id, symbol, timeframe, strategy, start_time, end_time,
			initial_capital, final_equity, total_return, annualized_return,
			max_drawdown, sharpe_ratio, sortino_ratio, win_rate, profit_factor,
			total_trades
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		RETURNING id
	`
	m := result.Metrics
	var resultID int64
	err = tx.QueryRow(ctx, query,
		result.RunID, result.Symbol, result.Timeframe, result.Strategy,
		result.StartTime, result.EndTime,
		result.InitialCapital, result.FinalEquity, m.TotalReturn, m.AnnualizedReturn,
		m.MaxDrawdown, m.SharpeRatio, m.SortinoRatio, m.WinRate, nullableFloat(m.ProfitFactor),
		m.TotalTrades,
	).Scan(&resultID)
	if err != nil {
		return 0, fmt.Errorf("failed to insert backtest result: %w", err)
	}

	tradeQuery := `
		INSERT INTO backtest_trades (
			backtest_result_id, entry_time, entry_price, exit_time, exit_price,
			side, units, pnl, fees, exit_reason, force_closed
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	for _, t := range result.Trades {
		if _, err := tx.Exec(ctx, tradeQuery,
			resultID, t.EntryTime, t.EntryPrice, t.ExitTime, t.ExitPrice,
			string(t.Side), t.Units, t.PnL, t.Fees, string(t.ExitReason), t.ForceClosed,
		); err != nil {
			return 0, fmt.Errorf("failed to insert backtest trade: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit backtest result: %w", err)
	}
	return resultID, nil
}

// nullableFloat maps non-finite ratios (e.g. profit factor with zero losses)
// to NULL.
func nullableFloat(v float64) *float64 {
	if v != v || v > 1e308 || v < -1e308 {
		return nil
	}
	return &v
}
