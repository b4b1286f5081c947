// Package indicators provides the technical indicator primitives used by the
// structure engine, the signal scorer and backtest strategies (SMA, EMA, RSI,
// ATR, realized volatility, percentile rank).
package indicators

import (
	"fmt"
	"math"
	"sort"

	"github.com/cinar/indicator/v2/helper"
	"github.com/cinar/indicator/v2/momentum"
	"github.com/cinar/indicator/v2/trend"
	"github.com/cinar/indicator/v2/volatility"
)

// EMA calculates the Exponential Moving Average for the given period.
// The returned slice is shorter than the input by the warmup length; the last
// element corresponds to the last input value.
func EMA(closes []float64, period int) ([]float64, error) {
	if len(closes) < period {
		return nil, fmt.Errorf("not enough data points for EMA: need %d, got %d", period, len(closes))
	}

	ema := trend.NewEmaWithPeriod[float64](period)
	out := helper.ChanToSlice(ema.Compute(helper.SliceToChan(closes)))
	return out, nil
}

// RSI calculates the Relative Strength Index for the given period.
func RSI(closes []float64, period int) ([]float64, error) {
	if len(closes) < period+1 {
		return nil, fmt.Errorf("not enough data points for RSI: need %d, got %d", period+1, len(closes))
	}

	rsi := momentum.NewRsiWithPeriod[float64](period)
	out := helper.ChanToSlice(rsi.Compute(helper.SliceToChan(closes)))
	return out, nil
}

// ATR calculates the Average True Range for the given period. The returned
// slice is shorter than the input by the warmup length.
func ATR(highs, lows, closes []float64, period int) ([]float64, error) {
	if len(closes) < period+1 {
		return nil, fmt.Errorf("not enough data points for ATR: need %d, got %d", period+1, len(closes))
	}
	if len(highs) != len(closes) || len(lows) != len(closes) {
		return nil, fmt.Errorf("ATR input slices must have equal length")
	}

	atr := volatility.NewAtrWithPeriod[float64](period)
	out := helper.ChanToSlice(atr.Compute(
		helper.SliceToChan(highs),
		helper.SliceToChan(lows),
		helper.SliceToChan(closes),
	))
	return out, nil
}

// SMAAt returns the simple moving average of the period values ending at
// index idx inclusive. It sees only data up to idx, so backtest strategies can
// use it without look-ahead.
func SMAAt(values []float64, idx, period int) (float64, error) {
	if period <= 0 {
		return 0, fmt.Errorf("SMA period must be positive, got %d", period)
	}
	if idx < period-1 || idx >= len(values) {
		return 0, fmt.Errorf("not enough data points for SMA(%d) at index %d", period, idx)
	}
	sum := 0.0
	for i := idx - period + 1; i <= idx; i++ {
		sum += values[i]
	}
	return sum / float64(period), nil
}

// ReturnVolatility returns the standard deviation of log returns over the
// trailing lookback bars ending at the last close.
func ReturnVolatility(closes []float64, lookback int) (float64, error) {
	if lookback < 2 {
		return 0, fmt.Errorf("volatility lookback must be at least 2, got %d", lookback)
	}
	if len(closes) < lookback+1 {
		return 0, fmt.Errorf("not enough data points for volatility: need %d, got %d", lookback+1, len(closes))
	}

	returns := make([]float64, 0, lookback)
	for i := len(closes) - lookback; i < len(closes); i++ {
		if closes[i-1] <= 0 || closes[i] <= 0 {
			return 0, fmt.Errorf("non-positive close at index %d", i)
		}
		returns = append(returns, math.Log(closes[i]/closes[i-1]))
	}

	mean := 0.0
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	variance := 0.0
	for _, r := range returns {
		d := r - mean
		variance += d * d
	}
	variance /= float64(len(returns) - 1)

	return math.Sqrt(variance), nil
}

// PercentileRank returns the percentile (0-100) of v within the sample.
func PercentileRank(sample []float64, v float64) float64 {
	if len(sample) == 0 {
		return 0
	}
	sorted := make([]float64, len(sample))
	copy(sorted, sample)
	sort.Float64s(sorted)

	below := 0
	for _, s := range sorted {
		if s < v {
			below++
		}
	}
	return float64(below) / float64(len(sorted)) * 100
}
