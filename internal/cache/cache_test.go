package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crypto-market-analyzer/internal/market"
)

// manualClock is an injectable clock the tests advance by hand.
type manualClock struct {
	now time.Time
}

func (m *manualClock) Now() time.Time          { return m.now }
func (m *manualClock) Advance(d time.Duration) { m.now = m.now.Add(d) }

func TestMemoryStoreExpiresByTime(t *testing.T) {
	clock := &manualClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	store := NewMemoryStore(16, clock.Now)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "k", []byte("v"), 5*time.Minute))

	data, ok, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("v"), data)

	clock.Advance(4 * time.Minute)
	_, ok, _ = store.Get(ctx, "k")
	assert.True(t, ok, "entry must survive inside the TTL window")

	clock.Advance(2 * time.Minute)
	_, ok, _ = store.Get(ctx, "k")
	assert.False(t, ok, "entry must expire after the TTL")
	assert.Equal(t, 0, store.Len())
}

func TestMemoryStoreCapacityEviction(t *testing.T) {
	clock := &manualClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	store := NewMemoryStore(3, clock.Now)
	ctx := context.Background()

	// staggered TTLs: "a" expires first and is the eviction victim
	require.NoError(t, store.Set(ctx, "a", []byte("1"), 1*time.Minute))
	require.NoError(t, store.Set(ctx, "b", []byte("2"), 10*time.Minute))
	require.NoError(t, store.Set(ctx, "c", []byte("3"), 10*time.Minute))
	require.NoError(t, store.Set(ctx, "d", []byte("4"), 10*time.Minute))

	assert.LessOrEqual(t, store.Len(), 3)
	_, ok, _ := store.Get(ctx, "a")
	assert.False(t, ok, "earliest-expiring entry should have been evicted")
	_, ok, _ = store.Get(ctx, "d")
	assert.True(t, ok)
}

func TestAnalysisCacheRoundTrip(t *testing.T) {
	store := NewMemoryStore(16, nil)
	c := New(store, time.Minute)
	ctx := context.Background()

	type payload struct {
		Symbol     string  `json:"symbol"`
		Confidence float64 `json:"confidence"`
	}
	key := Key("BTCUSDT", market.Timeframe1h, map[string]int{"lookback": 5})

	var miss payload
	assert.False(t, c.GetJSON(ctx, key, &miss), "empty cache must miss")

	c.SetJSON(ctx, key, payload{Symbol: "BTCUSDT", Confidence: 82.5})

	var hit payload
	require.True(t, c.GetJSON(ctx, key, &hit))
	assert.Equal(t, "BTCUSDT", hit.Symbol)
	assert.InDelta(t, 82.5, hit.Confidence, 1e-9)
}

func TestKeyDependsOnParameters(t *testing.T) {
	type params struct {
		Lookback int `json:"lookback"`
	}

	a := Key("BTCUSDT", market.Timeframe1h, params{Lookback: 5})
	b := Key("BTCUSDT", market.Timeframe1h, params{Lookback: 7})
	c := Key("BTCUSDT", market.Timeframe4h, params{Lookback: 5})
	d := Key("ETHUSDT", market.Timeframe1h, params{Lookback: 5})

	assert.NotEqual(t, a, b, "parameter changes must change the key")
	assert.NotEqual(t, a, c, "timeframe must change the key")
	assert.NotEqual(t, a, d, "symbol must change the key")
	assert.Equal(t, a, Key("BTCUSDT", market.Timeframe1h, params{Lookback: 5}), "keys are deterministic")
}

func TestNilCacheIsNoOp(t *testing.T) {
	var c *AnalysisCache
	ctx := context.Background()

	var dest int
	assert.False(t, c.GetJSON(ctx, "k", &dest))
	c.SetJSON(ctx, "k", 42) // must not panic
	assert.NoError(t, c.Close())
}
