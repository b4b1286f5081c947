package analysis

import (
	"encoding/json"
	"errors"
	"reflect"
	"testing"

	"github.com/rs/zerolog"

	"crypto-market-analyzer/internal/market"
)

// trendingSeries builds a 60-candle uptrend in 10-bar cycles: six up bars
// then a four-bar pullback, so swing highs form at each cycle peak and are
// broken in the next cycle.
func trendingSeries(symbol string) market.Series {
	rows := make([]ohlcv, 60)
	price := 100.0
	for i := range rows {
		open := price
		if i%10 < 6 {
			price += 2
			rows[i] = ohlcv{open, price + 0.8, open - 0.8, price, 1000 + float64(i%5)*200}
		} else {
			price -= 1
			rows[i] = ohlcv{open, open + 0.2, price - 0.2, price, 1000 + float64(i%5)*200}
		}
	}
	return market.Series{Symbol: symbol, Timeframe: market.Timeframe1h, Candles: makeCandles(rows)}
}

func TestEngineAnalyzeIdempotent(t *testing.T) {
	engine := NewEngine(DefaultConfig(), zerolog.Nop())
	series := trendingSeries("BTCUSDT")

	first, err := engine.Analyze(series)
	if err != nil {
		t.Fatalf("analyze failed: %v", err)
	}
	second, err := engine.Analyze(series)
	if err != nil {
		t.Fatalf("second analyze failed: %v", err)
	}

	if !reflect.DeepEqual(first, second) {
		t.Error("two analyses of the same immutable window differ")
	}
}

func TestEngineAnalyzeShortWindowIsDataError(t *testing.T) {
	engine := NewEngine(DefaultConfig(), zerolog.Nop())
	series := market.Series{
		Symbol:    "BTCUSDT",
		Timeframe: market.Timeframe1h,
		Candles:   makeCandles(flatCandles(10, 100)),
	}

	result, err := engine.Analyze(series)

	if result != nil {
		t.Error("short window must not produce a result")
	}
	if !errors.Is(err, market.ErrData) {
		t.Errorf("expected DataError, got %v", err)
	}
}

func TestEngineAnalyzeRejectsUnorderedSeries(t *testing.T) {
	engine := NewEngine(DefaultConfig(), zerolog.Nop())
	candles := makeCandles(flatCandles(60, 100))
	candles[10].OpenTime = candles[9].OpenTime // duplicate timestamp

	_, err := engine.Analyze(market.Series{
		Symbol:    "BTCUSDT",
		Timeframe: market.Timeframe1h,
		Candles:   candles,
	})

	if !errors.Is(err, market.ErrValidation) {
		t.Errorf("expected ValidationError, got %v", err)
	}
}

func TestConfigBindsOrderBlockKeys(t *testing.T) {
	raw := []byte(`{
		"swing_lookback": 7,
		"order_block": {
			"displacement_atr": 2.5,
			"volume_avg_period": 30,
			"weight_volume": 0.5,
			"weight_displacement": 0.3,
			"weight_touches": 0.2
		}
	}`)

	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}

	if cfg.SwingLookback != 7 {
		t.Errorf("swing_lookback = %d, want 7", cfg.SwingLookback)
	}
	if cfg.OrderBlock.DisplacementATR != 2.5 {
		t.Errorf("displacement_atr = %v, want 2.5", cfg.OrderBlock.DisplacementATR)
	}
	if cfg.OrderBlock.VolumeAvgPeriod != 30 {
		t.Errorf("volume_avg_period = %d, want 30", cfg.OrderBlock.VolumeAvgPeriod)
	}
	if cfg.OrderBlock.WeightVolume != 0.5 {
		t.Errorf("weight_volume = %v, want 0.5", cfg.OrderBlock.WeightVolume)
	}
}

func TestEngineAnalyzeTrendMatchesUptrend(t *testing.T) {
	engine := NewEngine(DefaultConfig(), zerolog.Nop())

	result, err := engine.Analyze(trendingSeries("ETHUSDT"))
	if err != nil {
		t.Fatalf("analyze failed: %v", err)
	}

	if result.Trend != TrendBullish {
		t.Errorf("expected bullish trend on an uptrend, got %s", result.Trend)
	}
	if result.ATR <= 0 {
		t.Errorf("expected positive ATR, got %v", result.ATR)
	}
	if result.CandleCount != 60 {
		t.Errorf("expected candle count 60, got %d", result.CandleCount)
	}
}
