// Package backtest replays a strategy over historical candles through a
// strictly sequential state machine and computes performance statistics.
package backtest

import (
	"fmt"

	"crypto-market-analyzer/internal/analysis"
	"crypto-market-analyzer/internal/indicators"
	"crypto-market-analyzer/internal/market"
)

// StrategyKind is the closed set of supported strategy types. Unsupported
// kinds fail at construction, not as a runtime no-op.
type StrategyKind string

const (
	StrategyMACrossover StrategyKind = "ma_crossover"
	StrategyStructure   StrategyKind = "structure"
)

// StrategyConfig is the tagged parameter set consumed by the engine. Only the
// fields relevant to Kind are read.
type StrategyConfig struct {
	Kind StrategyKind `json:"kind"`

	// ma_crossover
	FastPeriod int `json:"fast_period,omitempty"`
	SlowPeriod int `json:"slow_period,omitempty"`

	// structure
	SwingLookback int `json:"swing_lookback,omitempty"`
}

// Strategy evaluates entry and exit rules against data up to and including
// the current candle only. Implementations must be deterministic.
type Strategy interface {
	Name() string
	// MinLookback is the smallest candle count the strategy can trade on.
	MinLookback() int
	// ShouldEnter reports whether the entry rule fires at index i.
	ShouldEnter(candles []market.Candle, i int) bool
	// ShouldExit reports whether the exit rule fires at index i.
	ShouldExit(candles []market.Candle, i int) bool
}

// NewStrategy constructs the strategy for a config. Unknown kinds and invalid
// parameters return a ValidationError.
func NewStrategy(cfg StrategyConfig) (Strategy, error) {
	switch cfg.Kind {
	case StrategyMACrossover:
		return newMACrossover(cfg)
	case StrategyStructure:
		return newStructureStrategy(cfg)
	default:
		return nil, market.NewValidationError(fmt.Sprintf("unsupported strategy kind %q", cfg.Kind))
	}
}

// maCrossover enters long when the fast SMA crosses above the slow SMA and
// exits on the opposite cross.
type maCrossover struct {
	fast int
	slow int
}

func newMACrossover(cfg StrategyConfig) (*maCrossover, error) {
	fast, slow := cfg.FastPeriod, cfg.SlowPeriod
	if fast <= 0 {
		fast = 10
	}
	if slow <= 0 {
		slow = 30
	}
	if fast >= slow {
		return nil, market.NewValidationError(fmt.Sprintf(
			"ma_crossover fast period (%d) must be shorter than slow period (%d)", fast, slow))
	}
	return &maCrossover{fast: fast, slow: slow}, nil
}

func (s *maCrossover) Name() string { return fmt.Sprintf("ma_crossover(%d/%d)", s.fast, s.slow) }

func (s *maCrossover) MinLookback() int { return s.slow + 1 }

func (s *maCrossover) ShouldEnter(candles []market.Candle, i int) bool {
	above, crossed := s.cross(candles, i)
	return crossed && above
}

func (s *maCrossover) ShouldExit(candles []market.Candle, i int) bool {
	above, crossed := s.cross(candles, i)
	return crossed && !above
}

// cross reports whether the fast/slow relation flipped at index i and which
// side it landed on.
func (s *maCrossover) cross(candles []market.Candle, i int) (above, crossed bool) {
	if i < s.slow {
		return false, false
	}
	closes := market.Closes(candles[:i+1])
	fastNow, err := indicators.SMAAt(closes, i, s.fast)
	if err != nil {
		return false, false
	}
	slowNow, err := indicators.SMAAt(closes, i, s.slow)
	if err != nil {
		return false, false
	}
	fastPrev, err := indicators.SMAAt(closes, i-1, s.fast)
	if err != nil {
		return false, false
	}
	slowPrev, err := indicators.SMAAt(closes, i-1, s.slow)
	if err != nil {
		return false, false
	}

	above = fastNow > slowNow
	wasAbove := fastPrev > slowPrev
	return above, above != wasAbove
}

// structureStrategy enters long when a bullish structure break fires on the
// current candle and exits on a bearish break.
type structureStrategy struct {
	tracker  *analysis.StructureTracker
	lookback int
}

func newStructureStrategy(cfg StrategyConfig) (*structureStrategy, error) {
	lookback := cfg.SwingLookback
	if lookback <= 0 {
		lookback = 5
	}
	return &structureStrategy{
		tracker:  analysis.NewStructureTracker(lookback),
		lookback: lookback,
	}, nil
}

func (s *structureStrategy) Name() string { return fmt.Sprintf("structure(%d)", s.lookback) }

func (s *structureStrategy) MinLookback() int { return s.tracker.MinCandles() + 1 }

func (s *structureStrategy) ShouldEnter(candles []market.Candle, i int) bool {
	ev := s.eventAt(candles, i)
	return ev != nil && ev.Direction == analysis.DirectionBullish
}

func (s *structureStrategy) ShouldExit(candles []market.Candle, i int) bool {
	ev := s.eventAt(candles, i)
	return ev != nil && ev.Direction == analysis.DirectionBearish
}

// eventAt rescans the visible window and returns the structure event that
// fired on candle i, if any. The scan sees candles[:i+1] only, so no
// look-ahead is possible.
func (s *structureStrategy) eventAt(candles []market.Candle, i int) *analysis.StructureEvent {
	if i+1 < s.tracker.MinCandles() {
		return nil
	}
	scan := s.tracker.Scan(candles[:i+1])
	if scan.LastEvent == nil || scan.LastEvent.CandleIndex != i {
		return nil
	}
	return scan.LastEvent
}
