package market

import (
	"fmt"
	"time"
)

// Candle represents a single OHLCV bar. Candles are immutable once fetched.
type Candle struct {
	OpenTime time.Time `json:"open_time"`
	Open     float64   `json:"open"`
	High     float64   `json:"high"`
	Low      float64   `json:"low"`
	Close    float64   `json:"close"`
	Volume   float64   `json:"volume"`
}

// IsBullish reports whether the candle closed above its open.
func (c Candle) IsBullish() bool {
	return c.Close > c.Open
}

// Body returns the absolute body size of the candle.
func (c Candle) Body() float64 {
	if c.Close > c.Open {
		return c.Close - c.Open
	}
	return c.Open - c.Close
}

// Range returns the high-low range of the candle.
func (c Candle) Range() float64 {
	return c.High - c.Low
}

// Series is an ascending-timestamp candle window for one symbol/timeframe.
type Series struct {
	Symbol    string
	Timeframe Timeframe
	Candles   []Candle
}

// Validate checks the ordering contract the Candle Store collaborator must
// guarantee: ascending open times with no duplicates.
func (s Series) Validate() error {
	if s.Symbol == "" {
		return NewValidationError("series symbol is empty")
	}
	for i := 1; i < len(s.Candles); i++ {
		prev, cur := s.Candles[i-1].OpenTime, s.Candles[i].OpenTime
		if !cur.After(prev) {
			return NewValidationError(fmt.Sprintf(
				"candles out of order at index %d: %s does not follow %s",
				i, cur.Format(time.RFC3339), prev.Format(time.RFC3339)))
		}
	}
	return nil
}

// Closes extracts close prices.
func Closes(candles []Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Close
	}
	return out
}

// Highs extracts high prices.
func Highs(candles []Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.High
	}
	return out
}

// Lows extracts low prices.
func Lows(candles []Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Low
	}
	return out
}

// Volumes extracts volumes.
func Volumes(candles []Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Volume
	}
	return out
}
