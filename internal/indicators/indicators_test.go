package indicators

import (
	"math"
	"testing"
)

func TestSMAAt(t *testing.T) {
	values := []float64{1, 2, 3, 4, 5, 6}

	got, err := SMAAt(values, 2, 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 2 {
		t.Errorf("SMA(3) at index 2 = %v, want 2", got)
	}

	got, err = SMAAt(values, 5, 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 5 {
		t.Errorf("SMA(3) at index 5 = %v, want 5", got)
	}
}

func TestSMAAtBounds(t *testing.T) {
	values := []float64{1, 2, 3}

	if _, err := SMAAt(values, 1, 3); err == nil {
		t.Error("expected error when the window does not fit yet")
	}
	if _, err := SMAAt(values, 5, 2); err == nil {
		t.Error("expected error for out-of-range index")
	}
	if _, err := SMAAt(values, 2, 0); err == nil {
		t.Error("expected error for non-positive period")
	}
}

func TestEMATracksInput(t *testing.T) {
	closes := make([]float64, 40)
	for i := range closes {
		closes[i] = 100 + float64(i)
	}

	out, err := EMA(closes, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) == 0 || len(out) > len(closes) {
		t.Fatalf("unexpected output length %d for input %d", len(out), len(closes))
	}
	last := out[len(out)-1]
	// on a steadily rising series the EMA lags below the last close
	if last >= closes[len(closes)-1] || last <= closes[0] {
		t.Errorf("EMA %v outside the plausible range (%v, %v)", last, closes[0], closes[len(closes)-1])
	}

	if _, err := EMA(closes[:5], 10); err == nil {
		t.Error("expected error for window shorter than the period")
	}
}

func TestRSIExtremes(t *testing.T) {
	rising := make([]float64, 40)
	for i := range rising {
		rising[i] = 100 + float64(i)
	}

	out, err := RSI(rising, 14)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	last := out[len(out)-1]
	if last < 95 || last > 100 {
		t.Errorf("RSI on all-gains series = %v, want near 100", last)
	}
}

func TestATRConstantRange(t *testing.T) {
	n := 40
	highs := make([]float64, n)
	lows := make([]float64, n)
	closes := make([]float64, n)
	for i := range closes {
		closes[i] = 100
		highs[i] = 101
		lows[i] = 99
	}

	out, err := ATR(highs, lows, closes, 14)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	last := out[len(out)-1]
	if math.Abs(last-2) > 1e-9 {
		t.Errorf("ATR of constant 2-point range = %v, want 2", last)
	}

	if _, err := ATR(highs[:10], lows, closes, 14); err == nil {
		t.Error("expected error for mismatched slice lengths")
	}
}

func TestReturnVolatility(t *testing.T) {
	// constant closes: zero volatility
	flat := []float64{100, 100, 100, 100, 100, 100}
	got, err := ReturnVolatility(flat, 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 0 {
		t.Errorf("volatility of flat series = %v, want 0", got)
	}

	// alternating +1%/-1% moves: volatility strictly positive
	choppy := []float64{100, 101, 100, 101, 100, 101}
	got, err = ReturnVolatility(choppy, 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got <= 0 {
		t.Errorf("volatility of choppy series = %v, want > 0", got)
	}

	if _, err := ReturnVolatility(flat, 1); err == nil {
		t.Error("expected error for lookback below 2")
	}
	if _, err := ReturnVolatility(flat[:3], 5); err == nil {
		t.Error("expected error when the window is too short")
	}
	if _, err := ReturnVolatility([]float64{100, -1, 100, 100, 100, 100}, 5); err == nil {
		t.Error("expected error for non-positive close")
	}
}

func TestPercentileRank(t *testing.T) {
	sample := []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}

	cases := []struct {
		v    float64
		want float64
	}{
		{0.5, 0},
		{5.5, 50},
		{11, 100},
	}
	for _, tc := range cases {
		if got := PercentileRank(sample, tc.v); got != tc.want {
			t.Errorf("PercentileRank(%v) = %v, want %v", tc.v, got, tc.want)
		}
	}

	if got := PercentileRank(nil, 5); got != 0 {
		t.Errorf("empty sample rank = %v, want 0", got)
	}
}
