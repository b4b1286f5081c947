package scanner

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crypto-market-analyzer/internal/analysis"
	"crypto-market-analyzer/internal/cache"
	"crypto-market-analyzer/internal/market"
	"crypto-market-analyzer/internal/signal"
)

var scanStart = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// cycleCandles builds an uptrend in 10-bar cycles (six up, four down) so the
// structure tracker finds swings and breaks.
func cycleCandles(n int, start float64) []market.Candle {
	candles := make([]market.Candle, n)
	price := start
	for i := range candles {
		open := price
		if i%10 < 6 {
			price += start * 0.02
			candles[i] = market.Candle{
				OpenTime: scanStart.Add(time.Duration(i) * time.Hour),
				Open:     open, High: price + start*0.008, Low: open - start*0.008,
				Close: price, Volume: 1000,
			}
		} else {
			price -= start * 0.01
			candles[i] = market.Candle{
				OpenTime: scanStart.Add(time.Duration(i) * time.Hour),
				Open:     open, High: open + start*0.002, Low: price - start*0.002,
				Close: price, Volume: 1000,
			}
		}
	}
	return candles
}

func newTestScanner(t *testing.T, provider market.CandleProvider, cfg Config) *Scanner {
	t.Helper()
	engine := analysis.NewEngine(analysis.DefaultConfig(), zerolog.Nop())
	scorer := signal.NewScorer(signal.DefaultConfig(), zerolog.Nop())
	store := cache.NewMemoryStore(64, nil)
	return New(provider, engine, scorer, cache.New(store, time.Minute), cfg, zerolog.Nop())
}

func TestScanRanksAndLimits(t *testing.T) {
	provider := market.NewMemoryProvider()
	symbols := []string{"AAAUSDT", "BBBUSDT", "CCCUSDT", "DDDUSDT"}
	for i, sym := range symbols {
		provider.Put(sym, market.Timeframe1h, cycleCandles(120, 100*float64(i+1)))
	}

	s := newTestScanner(t, provider, Config{TopN: 2, CandleLimit: 120, Timeframe: market.Timeframe1h})

	result, err := s.Scan(context.Background(), symbols)
	require.NoError(t, err)

	assert.NotEmpty(t, result.ScanID)
	assert.Equal(t, 4, result.Scanned)
	assert.LessOrEqual(t, len(result.Opportunities), 2)
	for i := 1; i < len(result.Opportunities); i++ {
		assert.GreaterOrEqual(t,
			result.Opportunities[i-1].CompositeScore,
			result.Opportunities[i].CompositeScore,
			"opportunities must be sorted by composite score")
	}
}

func TestScanIsolatesPerSymbolFailures(t *testing.T) {
	provider := market.NewMemoryProvider()
	provider.Put("GOODUSDT", market.Timeframe1h, cycleCandles(120, 100))
	// MISSINGUSDT has no stored candles and must fail alone

	s := newTestScanner(t, provider, Config{TopN: 5, CandleLimit: 120, Timeframe: market.Timeframe1h})

	result, err := s.Scan(context.Background(), []string{"GOODUSDT", "MISSINGUSDT"})
	require.NoError(t, err)

	assert.Contains(t, result.Errors, "MISSINGUSDT")
	assert.NotContains(t, result.Errors, "GOODUSDT")
	assert.Len(t, result.Opportunities, 1)
	assert.Equal(t, "GOODUSDT", result.Opportunities[0].Symbol)
}

func TestScanVolumePreFilter(t *testing.T) {
	provider := market.NewMemoryProvider()
	provider.Put("THINUSDT", market.Timeframe1h, cycleCandles(120, 100))

	s := newTestScanner(t, provider, Config{
		TopN:           5,
		CandleLimit:    120,
		Timeframe:      market.Timeframe1h,
		MinQuoteVolume: 1e12, // far above the fixture's turnover
	})

	result, err := s.Scan(context.Background(), []string{"THINUSDT"})
	require.NoError(t, err)

	assert.Empty(t, result.Opportunities)
	assert.Equal(t, 1, result.Filtered)
	assert.Empty(t, result.Errors)
}

func TestScanRequiresSymbols(t *testing.T) {
	provider := market.NewMemoryProvider()
	s := newTestScanner(t, provider, Config{})

	_, err := s.Scan(context.Background(), nil)
	assert.Error(t, err)
}

// countingProvider counts fetches so tests can tell cache hits from misses.
type countingProvider struct {
	market.CandleProvider
	calls int
}

func (p *countingProvider) Candles(ctx context.Context, symbol string, tf market.Timeframe, limit int) ([]market.Candle, error) {
	p.calls++
	return p.CandleProvider.Candles(ctx, symbol, tf, limit)
}

func TestScanCacheMissesOnChangedScoringConfig(t *testing.T) {
	provider := market.NewMemoryProvider()
	provider.Put("AAAUSDT", market.Timeframe1h, cycleCandles(120, 100))
	counting := &countingProvider{CandleProvider: provider}

	store := cache.NewMemoryStore(64, nil)
	engine := analysis.NewEngine(analysis.DefaultConfig(), zerolog.Nop())
	cfg := Config{TopN: 5, CandleLimit: 120, Timeframe: market.Timeframe1h}

	first := New(counting, engine, signal.NewScorer(signal.DefaultConfig(), zerolog.Nop()),
		cache.New(store, time.Minute), cfg, zerolog.Nop())
	_, err := first.Scan(context.Background(), []string{"AAAUSDT"})
	require.NoError(t, err)
	require.Equal(t, 1, counting.calls)

	// identical parameters: the entry written above is served, no new fetch
	same := New(counting, engine, signal.NewScorer(signal.DefaultConfig(), zerolog.Nop()),
		cache.New(store, time.Minute), cfg, zerolog.Nop())
	_, err = same.Scan(context.Background(), []string{"AAAUSDT"})
	require.NoError(t, err)
	assert.Equal(t, 1, counting.calls)

	// different scoring weights against the same store: the stale entry was
	// computed under other parameters and must not be served
	tuned := signal.DefaultConfig()
	tuned.WeightOrderBlock = 45
	tuned.WeightFVG = 15
	retuned := New(counting, engine, signal.NewScorer(tuned, zerolog.Nop()),
		cache.New(store, time.Minute), cfg, zerolog.Nop())
	_, err = retuned.Scan(context.Background(), []string{"AAAUSDT"})
	require.NoError(t, err)
	assert.Equal(t, 2, counting.calls)
}

func TestScanCancelledContext(t *testing.T) {
	provider := market.NewMemoryProvider()
	provider.Put("AAAUSDT", market.Timeframe1h, cycleCandles(120, 100))
	s := newTestScanner(t, provider, Config{TopN: 5, CandleLimit: 120, Timeframe: market.Timeframe1h})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Scan(ctx, []string{"AAAUSDT", "BBBUSDT"})
	assert.True(t, errors.Is(err, market.ErrAPI), "cancelled scan must surface as an APIError, got %v", err)
}

func TestScanServesCachedResults(t *testing.T) {
	provider := market.NewMemoryProvider()
	provider.Put("AAAUSDT", market.Timeframe1h, cycleCandles(120, 100))

	s := newTestScanner(t, provider, Config{TopN: 5, CandleLimit: 120, Timeframe: market.Timeframe1h})

	first, err := s.Scan(context.Background(), []string{"AAAUSDT"})
	require.NoError(t, err)
	require.Len(t, first.Opportunities, 1)

	// second scan hits the cache; the ranked output must be identical
	second, err := s.Scan(context.Background(), []string{"AAAUSDT"})
	require.NoError(t, err)
	assert.Equal(t, first.Opportunities, second.Opportunities)
}
