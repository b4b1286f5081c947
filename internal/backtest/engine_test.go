package backtest

import (
	"encoding/json"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crypto-market-analyzer/internal/market"
)

var runStart = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// seriesFromCloses builds an hourly series where each candle's range brackets
// its open and close by one.
func seriesFromCloses(symbol string, closes []float64) market.Series {
	candles := make([]market.Candle, len(closes))
	prev := closes[0]
	for i, c := range closes {
		hi, lo := prev, c
		if c > hi {
			hi, lo = c, prev
		}
		candles[i] = market.Candle{
			OpenTime: runStart.Add(time.Duration(i) * time.Hour),
			Open:     prev,
			High:     hi + 1,
			Low:      lo - 1,
			Close:    c,
			Volume:   1000,
		}
		prev = c
	}
	return market.Series{Symbol: symbol, Timeframe: market.Timeframe1h, Candles: candles}
}

// crossingCloses produces a fall-then-rally shape that forces a golden cross
// and later a death cross for a 3/6 SMA pair.
func crossingCloses(n int) []float64 {
	closes := make([]float64, n)
	price := 100.0
	for i := range closes {
		switch {
		case i < n/3:
			price -= 0.5
		case i < 2*n/3:
			price += 1.0
		default:
			price -= 1.0
		}
		closes[i] = price
	}
	return closes
}

func testStrategy(t *testing.T) Strategy {
	t.Helper()
	s, err := NewStrategy(StrategyConfig{Kind: StrategyMACrossover, FastPeriod: 3, SlowPeriod: 6})
	require.NoError(t, err)
	return s
}

func TestRunDeterministic(t *testing.T) {
	engine := NewEngine(zerolog.Nop())
	series := seriesFromCloses("BTCUSDT", crossingCloses(60))
	cfg := DefaultRunConfig(10000)

	first, err := engine.Run(series, testStrategy(t), cfg)
	require.NoError(t, err)
	second, err := engine.Run(series, testStrategy(t), cfg)
	require.NoError(t, err)

	// run IDs differ; the trade ledger and equity curve must not
	assert.Equal(t, first.Trades, second.Trades)
	assert.Equal(t, first.EquityCurve, second.EquityCurve)
	assert.Equal(t, first.Metrics, second.Metrics)
}

func TestRunFlatSeriesNoTrades(t *testing.T) {
	closes := make([]float64, 60)
	for i := range closes {
		closes[i] = 100
	}
	series := seriesFromCloses("BTCUSDT", closes)

	result, err := NewEngine(zerolog.Nop()).Run(series, testStrategy(t), DefaultRunConfig(10000))
	require.NoError(t, err)

	assert.Empty(t, result.Trades)
	assert.InDelta(t, 0, result.Metrics.TotalReturn, 1e-9)
	assert.InDelta(t, 10000, result.FinalEquity, 1e-9)
}

func TestRunProducesTradesOnCrossing(t *testing.T) {
	series := seriesFromCloses("BTCUSDT", crossingCloses(60))

	result, err := NewEngine(zerolog.Nop()).Run(series, testStrategy(t), DefaultRunConfig(10000))
	require.NoError(t, err)

	require.NotEmpty(t, result.Trades)
	for _, tr := range result.Trades {
		assert.True(t, tr.ExitTime.After(tr.EntryTime) || tr.ExitTime.Equal(tr.EntryTime))
		assert.Greater(t, tr.Fees, 0.0)
		assert.Equal(t, SideLong, tr.Side)
	}
	assert.Len(t, result.EquityCurve, 60)
}

func TestRunStopLossBeatsRuleExit(t *testing.T) {
	// rally long enough for the 3/6 cross, then a crash candle that pierces
	// the stop: the trade must close at the stop price, not the rule exit
	closes := []float64{100, 100, 100, 100, 100, 100, 101, 103, 106, 110, 115, 60}
	series := seriesFromCloses("BTCUSDT", closes)

	cfg := DefaultRunConfig(10000)
	cfg.StopLossPercent = 5

	result, err := NewEngine(zerolog.Nop()).Run(series, testStrategy(t), cfg)
	require.NoError(t, err)

	require.NotEmpty(t, result.Trades)
	assert.Equal(t, ExitStopLoss, result.Trades[0].ExitReason)
	assert.Less(t, result.Trades[0].PnL, 0.0)
}

func TestRunForceCloseAtStreamEnd(t *testing.T) {
	// brief dip then a one-way rally: the golden cross fires and no exit
	// condition ever triggers before the data ends
	closes := make([]float64, 30)
	price := 100.0
	for i := range closes {
		if i < 8 {
			price -= 1
		} else {
			price += 2
		}
		closes[i] = price
	}
	series := seriesFromCloses("BTCUSDT", closes)

	result, err := NewEngine(zerolog.Nop()).Run(series, testStrategy(t), DefaultRunConfig(10000))
	require.NoError(t, err)

	require.NotEmpty(t, result.Trades)
	last := result.Trades[len(result.Trades)-1]
	assert.True(t, last.ForceClosed)
	assert.Equal(t, ExitForceClose, last.ExitReason)
}

func TestRunRejectsBadInputs(t *testing.T) {
	engine := NewEngine(zerolog.Nop())
	series := seriesFromCloses("BTCUSDT", crossingCloses(60))
	strategy := testStrategy(t)

	t.Run("non-positive capital", func(t *testing.T) {
		_, err := engine.Run(series, strategy, DefaultRunConfig(0))
		assert.True(t, errors.Is(err, market.ErrCalculation))
	})

	t.Run("inverted date range", func(t *testing.T) {
		cfg := DefaultRunConfig(10000)
		cfg.From = runStart.Add(48 * time.Hour)
		cfg.To = runStart
		_, err := engine.Run(series, strategy, cfg)
		assert.True(t, errors.Is(err, market.ErrCalculation))
	})

	t.Run("window below strategy lookback", func(t *testing.T) {
		short := seriesFromCloses("BTCUSDT", []float64{100, 101, 102})
		_, err := engine.Run(short, strategy, DefaultRunConfig(10000))
		assert.True(t, errors.Is(err, market.ErrData))
	})
}

func TestMetricsDrawdownAndWinRate(t *testing.T) {
	equity := []EquityPoint{
		{Time: runStart, Equity: 10000},
		{Time: runStart.Add(time.Hour), Equity: 12000},
		{Time: runStart.Add(2 * time.Hour), Equity: 9000},
		{Time: runStart.Add(3 * time.Hour), Equity: 11000},
	}
	trades := []Trade{
		{PnL: 2000}, {PnL: -3000}, {PnL: 2000},
	}

	m := ComputeMetrics(equity, trades, market.Timeframe1h, 10000)

	assert.InDelta(t, 0.1, m.TotalReturn, 1e-9)
	assert.InDelta(t, 0.25, m.MaxDrawdown, 1e-9) // 12000 -> 9000
	assert.InDelta(t, 2.0/3.0, m.WinRate, 1e-9)
	assert.InDelta(t, 2000, m.AvgWin, 1e-9)
	assert.InDelta(t, 3000, m.AvgLoss, 1e-9)
	assert.InDelta(t, 4000.0/3000.0, m.ProfitFactor, 1e-9)
	assert.Equal(t, 3, m.TotalTrades)
}

func TestMetricsEncodeWithAllWinningTrades(t *testing.T) {
	equity := []EquityPoint{
		{Time: runStart, Equity: 10000},
		{Time: runStart.Add(time.Hour), Equity: 10500},
		{Time: runStart.Add(2 * time.Hour), Equity: 11000},
	}
	trades := []Trade{{PnL: 500}, {PnL: 500}}

	m := ComputeMetrics(equity, trades, market.Timeframe1h, 10000)
	require.True(t, math.IsInf(m.ProfitFactor, 1), "no losing trades must yield an infinite profit factor")

	data, err := json.Marshal(m)
	require.NoError(t, err, "metrics with a non-finite ratio must still encode")
	assert.Contains(t, string(data), `"profit_factor":null`)
	assert.Contains(t, string(data), `"winning_trades":2`)
}
