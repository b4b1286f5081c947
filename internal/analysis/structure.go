package analysis

import (
	"time"

	"crypto-market-analyzer/internal/market"
)

// TrendState is the prevailing structural trend tracked across the scan.
type TrendState string

const (
	TrendBullish TrendState = "bullish"
	TrendBearish TrendState = "bearish"
	TrendNeutral TrendState = "neutral"
)

// EventKind distinguishes structure breaks with and against the trend.
type EventKind string

const (
	BreakOfStructure  EventKind = "break_of_structure"
	ChangeOfCharacter EventKind = "change_of_character"
)

// Direction is the direction of a structure event.
type Direction string

const (
	DirectionBullish Direction = "bullish"
	DirectionBearish Direction = "bearish"
)

// StructureEvent records a close beyond a tracked swing level. Terminal per
// occurrence; never mutated after creation.
type StructureEvent struct {
	Kind        EventKind `json:"kind"`
	Direction   Direction `json:"direction"`
	PivotPrice  float64   `json:"pivot_price"`
	Timestamp   time.Time `json:"timestamp"`
	CandleIndex int       `json:"candle_index"`
}

// SwingPoint is a confirmed local extreme over the lookback window.
type SwingPoint struct {
	Price       float64   `json:"price"`
	CandleIndex int       `json:"candle_index"`
	Timestamp   time.Time `json:"timestamp"`
	IsHigh      bool      `json:"is_high"`
}

// StructureTracker detects swing highs/lows and the BoS/ChoCH events they
// produce. The trend state and the last unbroken swing levels are the only
// state carried across the candle scan.
type StructureTracker struct {
	lookback int
}

// NewStructureTracker creates a tracker with the given swing lookback
// (candles on each side of a pivot). Non-positive lookback defaults to 5.
func NewStructureTracker(lookback int) *StructureTracker {
	if lookback <= 0 {
		lookback = 5
	}
	return &StructureTracker{lookback: lookback}
}

// MinCandles returns the smallest window the tracker can work with.
func (st *StructureTracker) MinCandles() int {
	return st.lookback*2 + 1
}

// StructureScan is the output of one pass over a candle window.
type StructureScan struct {
	Events     []StructureEvent
	Trend      TrendState
	SwingHighs []SwingPoint
	SwingLows  []SwingPoint
	LastEvent  *StructureEvent
}

// Scan walks the window once, confirming swings as their right-side lookback
// completes and firing an event whenever a close crosses the latest confirmed
// swing. A break in the direction of the prevailing trend is a BoS; a break
// against it is a ChoCH and flips the trend.
func (st *StructureTracker) Scan(candles []market.Candle) StructureScan {
	scan := StructureScan{Trend: TrendNeutral}
	if len(candles) < st.MinCandles() {
		return scan
	}

	highs := st.findSwings(candles, true)
	lows := st.findSwings(candles, false)
	scan.SwingHighs = highs
	scan.SwingLows = lows

	// swings become visible only after their confirmation candle
	nextHigh, nextLow := 0, 0
	var lastHigh, lastLow *SwingPoint

	for t := 0; t < len(candles); t++ {
		for nextHigh < len(highs) && highs[nextHigh].CandleIndex+st.lookback == t {
			lastHigh = &highs[nextHigh]
			nextHigh++
		}
		for nextLow < len(lows) && lows[nextLow].CandleIndex+st.lookback == t {
			lastLow = &lows[nextLow]
			nextLow++
		}

		close := candles[t].Close

		if lastHigh != nil && close > lastHigh.Price {
			ev := StructureEvent{
				Direction:   DirectionBullish,
				PivotPrice:  lastHigh.Price,
				Timestamp:   candles[t].OpenTime,
				CandleIndex: t,
			}
			if scan.Trend == TrendBearish {
				ev.Kind = ChangeOfCharacter
			} else {
				ev.Kind = BreakOfStructure
			}
			scan.Trend = TrendBullish
			scan.Events = append(scan.Events, ev)
			lastHigh = nil // consumed until the next swing confirms
		}

		if lastLow != nil && close < lastLow.Price {
			ev := StructureEvent{
				Direction:   DirectionBearish,
				PivotPrice:  lastLow.Price,
				Timestamp:   candles[t].OpenTime,
				CandleIndex: t,
			}
			if scan.Trend == TrendBullish {
				ev.Kind = ChangeOfCharacter
			} else {
				ev.Kind = BreakOfStructure
			}
			scan.Trend = TrendBearish
			scan.Events = append(scan.Events, ev)
			lastLow = nil
		}
	}

	if len(scan.Events) > 0 {
		scan.LastEvent = &scan.Events[len(scan.Events)-1]
	}
	return scan
}

// findSwings identifies local extremes that dominate the lookback window on
// both sides.
func (st *StructureTracker) findSwings(candles []market.Candle, wantHigh bool) []SwingPoint {
	var swings []SwingPoint

	for i := st.lookback; i < len(candles)-st.lookback; i++ {
		isSwing := true
		for j := i - st.lookback; j <= i+st.lookback; j++ {
			if j == i {
				continue
			}
			if wantHigh && candles[j].High >= candles[i].High {
				isSwing = false
				break
			}
			if !wantHigh && candles[j].Low <= candles[i].Low {
				isSwing = false
				break
			}
		}
		if !isSwing {
			continue
		}

		price := candles[i].High
		if !wantHigh {
			price = candles[i].Low
		}
		swings = append(swings, SwingPoint{
			Price:       price,
			CandleIndex: i,
			Timestamp:   candles[i].OpenTime,
			IsHigh:      wantHigh,
		})
	}

	return swings
}
