package market

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func testCandles(n int) []Candle {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	candles := make([]Candle, n)
	for i := range candles {
		candles[i] = Candle{
			OpenTime: start.Add(time.Duration(i) * time.Hour),
			Open:     100, High: 101, Low: 99, Close: 100.5, Volume: 1000,
		}
	}
	return candles
}

func TestParseTimeframe(t *testing.T) {
	valid := []string{"1m", "5m", "15m", "1h", "4h", "1d", "1w"}
	for _, s := range valid {
		if _, err := ParseTimeframe(s); err != nil {
			t.Errorf("ParseTimeframe(%q) failed: %v", s, err)
		}
	}

	for _, s := range []string{"", "2h", "1M", "daily"} {
		_, err := ParseTimeframe(s)
		if !errors.Is(err, ErrValidation) {
			t.Errorf("ParseTimeframe(%q) expected ValidationError, got %v", s, err)
		}
	}
}

func TestTimeframePeriodsPerYear(t *testing.T) {
	if got := Timeframe1d.PeriodsPerYear(); got != 365 {
		t.Errorf("1d periods per year = %v, want 365", got)
	}
	if got := Timeframe1h.PeriodsPerYear(); got != 365*24 {
		t.Errorf("1h periods per year = %v, want %v", got, 365*24)
	}
}

func TestSeriesValidateOrdering(t *testing.T) {
	candles := testCandles(5)
	s := Series{Symbol: "BTCUSDT", Timeframe: Timeframe1h, Candles: candles}
	if err := s.Validate(); err != nil {
		t.Fatalf("valid series rejected: %v", err)
	}

	candles[3].OpenTime = candles[2].OpenTime
	if err := s.Validate(); !errors.Is(err, ErrValidation) {
		t.Errorf("duplicate timestamp expected ValidationError, got %v", err)
	}

	if err := (Series{Timeframe: Timeframe1h}).Validate(); !errors.Is(err, ErrValidation) {
		t.Error("empty symbol must be rejected")
	}
}

func TestErrorTaxonomyUnwraps(t *testing.T) {
	cases := []struct {
		err  error
		kind error
	}{
		{NewValidationError("x"), ErrValidation},
		{NewDataError("x"), ErrData},
		{NewAPIError("x"), ErrAPI},
		{NewCalculationError("x"), ErrCalculation},
	}
	for _, tc := range cases {
		if !errors.Is(tc.err, tc.kind) {
			t.Errorf("%v does not unwrap to %v", tc.err, tc.kind)
		}
	}
}

func TestMemoryProviderLimit(t *testing.T) {
	p := NewMemoryProvider()
	p.Put("BTCUSDT", Timeframe1h, testCandles(50))

	candles, err := p.Candles(context.Background(), "BTCUSDT", Timeframe1h, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(candles) != 10 {
		t.Errorf("expected 10 candles, got %d", len(candles))
	}

	_, err = p.Candles(context.Background(), "NOPEUSDT", Timeframe1h, 10)
	if !errors.Is(err, ErrData) {
		t.Errorf("missing symbol expected DataError, got %v", err)
	}
}

func TestMemoryProviderRange(t *testing.T) {
	p := NewMemoryProvider()
	candles := testCandles(24)
	p.Put("BTCUSDT", Timeframe1h, candles)

	from := candles[6].OpenTime
	to := candles[12].OpenTime
	got, err := p.CandlesRange(context.Background(), "BTCUSDT", Timeframe1h, from, to)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// [from, to) covers indexes 6..11
	if len(got) != 6 {
		t.Errorf("expected 6 candles, got %d", len(got))
	}
}

func TestLoadCandlesCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "BTCUSDT_1h.csv")
	content := "timestamp,open,high,low,close,volume\n" +
		"1704067200,100,105,99,104,1234.5\n" +
		"1704070800,104,106,103,105,2000\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	candles, err := LoadCandlesCSV(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if len(candles) != 2 {
		t.Fatalf("expected 2 candles, got %d", len(candles))
	}
	if candles[0].Close != 104 || candles[1].Volume != 2000 {
		t.Errorf("unexpected candle values: %+v", candles)
	}
	if !candles[1].OpenTime.After(candles[0].OpenTime) {
		t.Error("timestamps must be ascending")
	}
}

func TestLoadCandlesCSVBadData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.csv")
	content := "1704067200,100,105,notanumber,104,1234.5\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := LoadCandlesCSV(path); !errors.Is(err, ErrValidation) {
		t.Errorf("expected ValidationError for bad value, got %v", err)
	}

	if _, err := LoadCandlesCSV(filepath.Join(t.TempDir(), "missing.csv")); !errors.Is(err, ErrData) {
		t.Errorf("expected DataError for missing file, got %v", err)
	}
}

func TestRetryProviderRetriesAPIErrors(t *testing.T) {
	flaky := &flakyProvider{failures: 2}
	p := WithRetry(flaky, RetryPolicy{
		MaxAttempts:     3,
		InitialInterval: time.Millisecond,
		MaxInterval:     2 * time.Millisecond,
		Retryable:       func(err error) bool { return errors.Is(err, ErrAPI) },
	})

	candles, err := p.Candles(context.Background(), "BTCUSDT", Timeframe1h, 10)
	if err != nil {
		t.Fatalf("expected retry to succeed, got %v", err)
	}
	if len(candles) == 0 {
		t.Error("expected candles after retries")
	}
	if flaky.calls != 3 {
		t.Errorf("expected 3 attempts, got %d", flaky.calls)
	}
}

func TestRetryProviderDoesNotRetryValidation(t *testing.T) {
	flaky := &flakyProvider{failures: 2, err: NewValidationError("bad symbol")}
	p := WithRetry(flaky, DefaultRetryPolicy())

	_, err := p.Candles(context.Background(), "BTCUSDT", Timeframe1h, 10)
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if flaky.calls != 1 {
		t.Errorf("validation errors must not be retried, got %d attempts", flaky.calls)
	}
}

// flakyProvider fails the first N calls, then serves a fixed window.
type flakyProvider struct {
	failures int
	calls    int
	err      error
}

func (f *flakyProvider) Candles(_ context.Context, _ string, _ Timeframe, _ int) ([]Candle, error) {
	f.calls++
	if f.calls <= f.failures {
		if f.err != nil {
			return nil, f.err
		}
		return nil, NewAPIError("upstream unavailable")
	}
	return testCandles(10), nil
}

func (f *flakyProvider) CandlesRange(_ context.Context, _ string, _ Timeframe, _, _ time.Time) ([]Candle, error) {
	return f.Candles(context.Background(), "", Timeframe1h, 0)
}
