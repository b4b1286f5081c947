// Package analysis implements the market structure analysis engine: order
// block detection, fair value gaps and swing-based structure events.
package analysis

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"crypto-market-analyzer/internal/indicators"
	"crypto-market-analyzer/internal/market"
)

// Config holds the structure engine's tunable parameters.
type Config struct {
	SwingLookback int              `json:"swing_lookback"`  // candles each side of a pivot (3-10)
	ATRPeriod     int              `json:"atr_period"`      // ATR window (7-28)
	MinGapPercent float64          `json:"min_gap_percent"` // FVG minimum size, percent of price
	FVGMaxAgeBars int              `json:"fvg_max_age_bars"`
	MinCandles    int              `json:"min_candles"` // hard floor for any analysis
	OrderBlock    OrderBlockConfig `json:"order_block"`
}

// DefaultConfig returns the tuned engine defaults.
func DefaultConfig() Config {
	return Config{
		SwingLookback: 5,
		ATRPeriod:     14,
		MinGapPercent: 0.05,
		FVGMaxAgeBars: 200,
		MinCandles:    50,
		OrderBlock:    DefaultOrderBlockConfig(),
	}
}

// Result is one immutable analysis of a candle window. It is never mutated,
// only superseded by a newer result.
type Result struct {
	Symbol          string           `json:"symbol"`
	Timeframe       market.Timeframe `json:"timeframe"`
	Timestamp       time.Time        `json:"timestamp"`
	Trend           TrendState       `json:"trend"`
	ATR             float64          `json:"atr"`
	ATRHistory      []float64        `json:"-"`
	OrderBlocks     []OrderBlock     `json:"order_blocks"`
	FairValueGaps   []FairValueGap   `json:"fair_value_gaps"`
	StructureEvents []StructureEvent `json:"structure_events"`
	SwingHighs      []SwingPoint     `json:"-"`
	SwingLows       []SwingPoint     `json:"-"`
	LastEvent       *StructureEvent  `json:"-"`
	CandleCount     int              `json:"candle_count"`
}

// Engine runs the full structure analysis over a candle window. Stateless
// between calls; safe for concurrent use across symbols.
type Engine struct {
	cfg     Config
	fvg     *FVGDetector
	blocks  *OrderBlockDetector
	tracker *StructureTracker
	logger  zerolog.Logger
}

// NewEngine creates an engine with the given config.
func NewEngine(cfg Config, logger zerolog.Logger) *Engine {
	def := DefaultConfig()
	if cfg.SwingLookback <= 0 {
		cfg.SwingLookback = def.SwingLookback
	}
	if cfg.ATRPeriod <= 0 {
		cfg.ATRPeriod = def.ATRPeriod
	}
	if cfg.MinCandles <= 0 {
		cfg.MinCandles = def.MinCandles
	}
	return &Engine{
		cfg:     cfg,
		fvg:     NewFVGDetector(cfg.MinGapPercent, cfg.FVGMaxAgeBars),
		blocks:  NewOrderBlockDetector(cfg.OrderBlock),
		tracker: NewStructureTracker(cfg.SwingLookback),
		logger:  logger.With().Str("component", "StructureEngine").Logger(),
	}
}

// MinCandles returns the minimum window length Analyze accepts.
func (e *Engine) MinCandles() int {
	min := e.cfg.MinCandles
	if m := e.tracker.MinCandles(); m > min {
		min = m
	}
	if m := e.cfg.ATRPeriod + 1; m > min {
		min = m
	}
	return min
}

// Config returns the engine configuration. Used for cache keying.
func (e *Engine) Config() Config {
	return e.cfg
}

// Analyze scans the window and returns a fresh Result. It returns a DataError
// when the window is shorter than the minimum lookback and a ValidationError
// when the series ordering contract is broken. Malformed-but-sufficient data
// degrades to fewer detected patterns, never an error.
func (e *Engine) Analyze(series market.Series) (*Result, error) {
	if err := series.Validate(); err != nil {
		return nil, err
	}
	candles := series.Candles
	if len(candles) < e.MinCandles() {
		return nil, market.NewDataError(fmt.Sprintf(
			"%s %s: %d candles provided, structure analysis requires at least %d",
			series.Symbol, series.Timeframe, len(candles), e.MinCandles()))
	}

	atr, err := indicators.ATR(market.Highs(candles), market.Lows(candles), market.Closes(candles), e.cfg.ATRPeriod)
	if err != nil {
		return nil, market.NewDataError(err.Error())
	}

	scan := e.tracker.Scan(candles)
	blocks := e.blocks.Detect(candles, atr)
	gaps := e.fvg.Detect(candles)

	last := candles[len(candles)-1]
	result := &Result{
		Symbol:          series.Symbol,
		Timeframe:       series.Timeframe,
		Timestamp:       last.OpenTime,
		Trend:           scan.Trend,
		ATR:             atr[len(atr)-1],
		ATRHistory:      atr,
		OrderBlocks:     blocks,
		FairValueGaps:   gaps,
		StructureEvents: scan.Events,
		SwingHighs:      scan.SwingHighs,
		SwingLows:       scan.SwingLows,
		LastEvent:       scan.LastEvent,
		CandleCount:     len(candles),
	}

	e.logger.Debug().
		Str("symbol", series.Symbol).
		Str("timeframe", string(series.Timeframe)).
		Int("order_blocks", len(blocks)).
		Int("fvgs", len(gaps)).
		Int("structure_events", len(scan.Events)).
		Str("trend", string(scan.Trend)).
		Msg("structure analysis complete")

	return result, nil
}
