package backtest

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"crypto-market-analyzer/internal/market"
)

// Side is the direction of a trade.
type Side string

const (
	SideLong Side = "long"
)

// ExitReason records which rule closed a trade.
type ExitReason string

const (
	ExitStopLoss   ExitReason = "stop_loss"
	ExitTakeProfit ExitReason = "take_profit"
	ExitRule       ExitReason = "rule"
	ExitForceClose ExitReason = "force_close"
)

// Trade is one append-only ledger entry. Owned exclusively by a single run.
type Trade struct {
	EntryTime   time.Time  `json:"entry_time"`
	EntryPrice  float64    `json:"entry_price"`
	ExitTime    time.Time  `json:"exit_time"`
	ExitPrice   float64    `json:"exit_price"`
	Side        Side       `json:"side"`
	Units       float64    `json:"units"`
	PnL         float64    `json:"pnl"`
	Fees        float64    `json:"fees"`
	ExitReason  ExitReason `json:"exit_reason"`
	ForceClosed bool       `json:"force_closed"`
}

// EquityPoint is one mark-to-market sample of the equity curve.
type EquityPoint struct {
	Time   time.Time `json:"time"`
	Equity float64   `json:"equity"`
}

// RunConfig holds the execution parameters of one backtest run.
type RunConfig struct {
	InitialCapital    float64   `json:"initial_capital"`
	SlippageBps       float64   `json:"slippage_bps"`        // per fill, applied against the trader
	FeeBps            float64   `json:"fee_bps"`             // per fill, on notional
	StopLossPercent   float64   `json:"stop_loss_percent"`   // 0 disables the stop
	TakeProfitPercent float64   `json:"take_profit_percent"` // 0 disables the target
	EntryOnNextOpen   bool      `json:"entry_on_next_open"`  // fill at next open instead of signal close
	From              time.Time `json:"from"`
	To                time.Time `json:"to"`
}

// DefaultRunConfig returns the tuned execution defaults: 5 bps slippage and
// 10 bps fee per side.
func DefaultRunConfig(initialCapital float64) RunConfig {
	return RunConfig{
		InitialCapital: initialCapital,
		SlippageBps:    5,
		FeeBps:         10,
	}
}

// Result is the immutable output of one completed run.
type Result struct {
	RunID          string        `json:"run_id"`
	Symbol         string        `json:"symbol"`
	Timeframe      string        `json:"timeframe"`
	Strategy       string        `json:"strategy"`
	StartTime      time.Time     `json:"start_time"`
	EndTime        time.Time     `json:"end_time"`
	InitialCapital float64       `json:"initial_capital"`
	FinalEquity    float64       `json:"final_equity"`
	Trades         []Trade       `json:"trades"`
	EquityCurve    []EquityPoint `json:"equity_curve"`
	Metrics        Metrics       `json:"metrics"`
	Suggestions    []string      `json:"optimization_suggestions"`
}

// position is the open-position state while IN_POSITION.
type position struct {
	entryTime  time.Time
	entryPrice float64
	units      float64
	entryFee   float64
	stop       float64
	target     float64
}

// Engine replays strategies over candle history. Each run is strictly
// sequential internally; independent runs may execute concurrently.
type Engine struct {
	logger zerolog.Logger
}

// NewEngine creates a backtest engine.
func NewEngine(logger zerolog.Logger) *Engine {
	return &Engine{logger: logger.With().Str("component", "BacktestEngine").Logger()}
}

// Run replays the strategy over the series. Identical inputs reproduce an
// identical trade list and equity curve.
func (e *Engine) Run(series market.Series, strategy Strategy, cfg RunConfig) (*Result, error) {
	if err := series.Validate(); err != nil {
		return nil, err
	}
	if strategy == nil {
		return nil, market.NewValidationError("nil strategy")
	}
	if cfg.InitialCapital <= 0 {
		return nil, market.NewCalculationError(fmt.Sprintf(
			"initial capital must be positive, got %.2f", cfg.InitialCapital))
	}
	if !cfg.To.IsZero() && !cfg.From.IsZero() && cfg.To.Before(cfg.From) {
		return nil, market.NewCalculationError(fmt.Sprintf(
			"inverted date range: end %s before start %s",
			cfg.To.Format(time.RFC3339), cfg.From.Format(time.RFC3339)))
	}

	candles := clampRange(series.Candles, cfg.From, cfg.To)
	if len(candles) < strategy.MinLookback() {
		return nil, market.NewDataError(fmt.Sprintf(
			"%s: %d candles in range, strategy %s requires at least %d",
			series.Symbol, len(candles), strategy.Name(), strategy.MinLookback()))
	}

	slip := cfg.SlippageBps / 10000
	fee := cfg.FeeBps / 10000

	cash := cfg.InitialCapital
	var pos *position
	var trades []Trade
	equity := make([]EquityPoint, 0, len(candles))
	pendingEntry := false

	closeTrade := func(c market.Candle, price float64, reason ExitReason) {
		fill := price * (1 - slip)
		proceeds := pos.units * fill
		exitFee := proceeds * fee
		cash = proceeds - exitFee
		fees := pos.entryFee + exitFee
		trades = append(trades, Trade{
			EntryTime:   pos.entryTime,
			EntryPrice:  pos.entryPrice,
			ExitTime:    c.OpenTime,
			ExitPrice:   fill,
			Side:        SideLong,
			Units:       pos.units,
			PnL:         pos.units*(fill-pos.entryPrice) - fees,
			Fees:        fees,
			ExitReason:  reason,
			ForceClosed: reason == ExitForceClose,
		})
		pos = nil
	}

	openTrade := func(c market.Candle, price float64) {
		fill := price * (1 + slip)
		entryFee := cash * fee
		units := (cash - entryFee) / fill
		p := &position{
			entryTime:  c.OpenTime,
			entryPrice: fill,
			units:      units,
			entryFee:   entryFee,
		}
		if cfg.StopLossPercent > 0 {
			p.stop = fill * (1 - cfg.StopLossPercent/100)
		}
		if cfg.TakeProfitPercent > 0 {
			p.target = fill * (1 + cfg.TakeProfitPercent/100)
		}
		cash = 0
		pos = p
	}

	for i, c := range candles {
		if pendingEntry {
			openTrade(c, c.Open)
			pendingEntry = false
		}

		if pos != nil {
			// fixed same-bar priority: stop, then target, then rule exit
			switch {
			case pos.stop > 0 && c.Low <= pos.stop:
				closeTrade(c, pos.stop, ExitStopLoss)
			case pos.target > 0 && c.High >= pos.target:
				closeTrade(c, pos.target, ExitTakeProfit)
			case strategy.ShouldExit(candles, i):
				closeTrade(c, c.Close, ExitRule)
			}
		} else if !pendingEntry && strategy.ShouldEnter(candles, i) {
			if cfg.EntryOnNextOpen {
				pendingEntry = i < len(candles)-1
			} else {
				openTrade(c, c.Close)
			}
		}

		mark := cash
		if pos != nil {
			mark += pos.units * c.Close
		}
		equity = append(equity, EquityPoint{Time: c.OpenTime, Equity: mark})
	}

	if pos != nil {
		last := candles[len(candles)-1]
		closeTrade(last, last.Close, ExitForceClose)
		equity[len(equity)-1].Equity = cash
	}

	result := &Result{
		RunID:          uuid.NewString(),
		Symbol:         series.Symbol,
		Timeframe:      string(series.Timeframe),
		Strategy:       strategy.Name(),
		StartTime:      candles[0].OpenTime,
		EndTime:        candles[len(candles)-1].OpenTime,
		InitialCapital: cfg.InitialCapital,
		FinalEquity:    equity[len(equity)-1].Equity,
		Trades:         trades,
		EquityCurve:    equity,
	}
	result.Metrics = ComputeMetrics(equity, trades, series.Timeframe, cfg.InitialCapital)
	result.Suggestions = Suggestions(result.Metrics)

	e.logger.Info().
		Str("run_id", result.RunID).
		Str("symbol", series.Symbol).
		Str("strategy", strategy.Name()).
		Int("trades", len(trades)).
		Float64("total_return", result.Metrics.TotalReturn).
		Msg("backtest run complete")

	return result, nil
}

// clampRange returns the candles inside [from, to]. Zero bounds are open.
func clampRange(candles []market.Candle, from, to time.Time) []market.Candle {
	lo, hi := 0, len(candles)
	if !from.IsZero() {
		for lo < len(candles) && candles[lo].OpenTime.Before(from) {
			lo++
		}
	}
	if !to.IsZero() {
		for hi > lo && candles[hi-1].OpenTime.After(to) {
			hi--
		}
	}
	return candles[lo:hi]
}
