package market

import (
	"fmt"
	"time"
)

// Timeframe is the candle interval. Only the listed values are valid; anything
// else is rejected at parse time.
type Timeframe string

const (
	Timeframe1m  Timeframe = "1m"
	Timeframe5m  Timeframe = "5m"
	Timeframe15m Timeframe = "15m"
	Timeframe1h  Timeframe = "1h"
	Timeframe4h  Timeframe = "4h"
	Timeframe1d  Timeframe = "1d"
	Timeframe1w  Timeframe = "1w"
)

var timeframeDurations = map[Timeframe]time.Duration{
	Timeframe1m:  time.Minute,
	Timeframe5m:  5 * time.Minute,
	Timeframe15m: 15 * time.Minute,
	Timeframe1h:  time.Hour,
	Timeframe4h:  4 * time.Hour,
	Timeframe1d:  24 * time.Hour,
	Timeframe1w:  7 * 24 * time.Hour,
}

// ParseTimeframe validates a timeframe string.
func ParseTimeframe(s string) (Timeframe, error) {
	tf := Timeframe(s)
	if _, ok := timeframeDurations[tf]; !ok {
		return "", NewValidationError(fmt.Sprintf("unsupported timeframe %q", s))
	}
	return tf, nil
}

// Duration returns the bar duration.
func (tf Timeframe) Duration() time.Duration {
	return timeframeDurations[tf]
}

// PeriodsPerYear returns the number of bars in a year, used to annualize
// return and volatility metrics.
func (tf Timeframe) PeriodsPerYear() float64 {
	const year = 365 * 24 * time.Hour
	return float64(year) / float64(tf.Duration())
}
