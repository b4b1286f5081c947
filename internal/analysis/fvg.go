package analysis

import (
	"time"

	"crypto-market-analyzer/internal/market"
)

// FVGSide represents the direction of a Fair Value Gap
type FVGSide string

const (
	BullishFVG FVGSide = "bullish"
	BearishFVG FVGSide = "bearish"
)

// FairValueGap is a three-candle price inefficiency. Upper is always strictly
// greater than Lower. Fill state is derived from later candles, not stored.
type FairValueGap struct {
	Upper       float64   `json:"upper"`
	Lower       float64   `json:"lower"`
	Side        FVGSide   `json:"side"`
	CreatedAt   time.Time `json:"timestamp"`
	CandleIndex int       `json:"candle_index"`
}

// GapSize returns the absolute size of the gap.
func (g FairValueGap) GapSize() float64 {
	return g.Upper - g.Lower
}

// AlignedWithTrend reports whether the gap's side matches the given direction.
// Used by the scorer to weight confluence.
func (g FairValueGap) AlignedWithTrend(bullish bool) bool {
	if bullish {
		return g.Side == BullishFVG
	}
	return g.Side == BearishFVG
}

// FVGDetector detects Fair Value Gaps in candlestick data
type FVGDetector struct {
	minGapPercent float64 // minimum gap size as percentage of price
	maxAgeBars    int     // gaps older than this are considered expired
}

// NewFVGDetector creates a new FVG detector. Non-positive arguments fall back
// to defaults (0.05% minimum gap, 200-bar expiry).
func NewFVGDetector(minGapPercent float64, maxAgeBars int) *FVGDetector {
	if minGapPercent <= 0 {
		minGapPercent = 0.05
	}
	if maxAgeBars <= 0 {
		maxAgeBars = 200
	}
	return &FVGDetector{
		minGapPercent: minGapPercent,
		maxAgeBars:    maxAgeBars,
	}
}

// Detect returns the gaps still active at the end of the window: unfilled by
// any later candle and younger than the expiry age. A bullish FVG exists when
// C1.High < C3.Low (gap [C1.High, C3.Low]); a bearish FVG when C1.Low > C3.High
// (gap [C3.High, C1.Low]).
func (fd *FVGDetector) Detect(candles []market.Candle) []FairValueGap {
	if len(candles) < 3 {
		return nil
	}

	var active []FairValueGap
	lastIndex := len(candles) - 1

	for i := 0; i < len(candles)-2; i++ {
		c1 := candles[i]
		c3 := candles[i+2]
		createdIndex := i + 2

		if lastIndex-createdIndex > fd.maxAgeBars {
			continue
		}

		if c1.High < c3.Low {
			gap := FairValueGap{
				Upper:       c3.Low,
				Lower:       c1.High,
				Side:        BullishFVG,
				CreatedAt:   c3.OpenTime,
				CandleIndex: createdIndex,
			}
			if fd.bigEnough(gap) && !fd.filled(gap, candles) {
				active = append(active, gap)
			}
		}

		if c1.Low > c3.High {
			gap := FairValueGap{
				Upper:       c1.Low,
				Lower:       c3.High,
				Side:        BearishFVG,
				CreatedAt:   c3.OpenTime,
				CandleIndex: createdIndex,
			}
			if fd.bigEnough(gap) && !fd.filled(gap, candles) {
				active = append(active, gap)
			}
		}
	}

	return active
}

// bigEnough filters out gaps below the configured minimum size.
func (fd *FVGDetector) bigEnough(gap FairValueGap) bool {
	if gap.Lower <= 0 {
		return false
	}
	return gap.GapSize()/gap.Lower*100 >= fd.minGapPercent
}

// filled reports whether any candle after the gap's third candle overlaps the
// gap zone [Lower, Upper].
func (fd *FVGDetector) filled(gap FairValueGap, candles []market.Candle) bool {
	for i := gap.CandleIndex + 1; i < len(candles); i++ {
		if candles[i].Low <= gap.Upper && candles[i].High >= gap.Lower {
			return true
		}
	}
	return false
}
