package analysis

import "testing"

func TestFVGDetectorBullishGap(t *testing.T) {
	// C1.high=100, C3.low=105 leaves a bullish gap [100, 105]
	candles := makeCandles([]ohlcv{
		{98, 100, 96, 99, 1000},
		{101, 104, 100.5, 103, 1500},
		{106, 110, 105, 109, 2000},
	})

	gaps := NewFVGDetector(0.05, 200).Detect(candles)

	if len(gaps) != 1 {
		t.Fatalf("expected 1 gap, got %d", len(gaps))
	}
	g := gaps[0]
	if g.Side != BullishFVG {
		t.Errorf("expected bullish gap, got %s", g.Side)
	}
	if g.Lower != 100 || g.Upper != 105 {
		t.Errorf("expected gap [100, 105], got [%v, %v]", g.Lower, g.Upper)
	}
}

func TestFVGDetectorBearishGap(t *testing.T) {
	// C1.low=105, C3.high=100 leaves a bearish gap [100, 105]
	candles := makeCandles([]ohlcv{
		{108, 110, 105, 106, 1000},
		{104, 104.5, 101, 102, 1500},
		{99, 100, 95, 96, 2000},
	})

	gaps := NewFVGDetector(0.05, 200).Detect(candles)

	if len(gaps) != 1 {
		t.Fatalf("expected 1 gap, got %d", len(gaps))
	}
	g := gaps[0]
	if g.Side != BearishFVG {
		t.Errorf("expected bearish gap, got %s", g.Side)
	}
	if g.Lower != 100 || g.Upper != 105 {
		t.Errorf("expected gap [100, 105], got [%v, %v]", g.Lower, g.Upper)
	}
}

func TestFVGDetectorFilledGapExcluded(t *testing.T) {
	// fourth candle trades back through [100, 105]
	candles := makeCandles([]ohlcv{
		{98, 100, 96, 99, 1000},
		{101, 104, 100.5, 103, 1500},
		{106, 110, 105, 109, 2000},
		{108, 109, 102, 104, 1200},
	})

	gaps := NewFVGDetector(0.05, 200).Detect(candles)

	if len(gaps) != 0 {
		t.Fatalf("expected filled gap to be excluded, got %d gaps", len(gaps))
	}
}

func TestFVGDetectorMinimumSize(t *testing.T) {
	// gap of 0.01 on a ~100 price is 0.01%, below a 0.05% floor
	candles := makeCandles([]ohlcv{
		{98, 100, 96, 99, 1000},
		{100, 100.005, 99.9, 100, 1500},
		{100.2, 101, 100.01, 100.8, 2000},
	})

	gaps := NewFVGDetector(0.05, 200).Detect(candles)

	if len(gaps) != 0 {
		t.Fatalf("expected gap below minimum size to be excluded, got %d", len(gaps))
	}
}

func TestFVGDetectorExpiry(t *testing.T) {
	rows := []ohlcv{
		{98, 100, 96, 99, 1000},
		{101, 104, 100.5, 103, 1500},
		{106, 110, 105, 109, 2000},
	}
	// price stays far above the gap so it is never filled, only aged out
	for i := 0; i < 10; i++ {
		rows = append(rows, ohlcv{112, 114, 111, 113, 1000})
	}
	candles := makeCandles(rows)

	if gaps := NewFVGDetector(0.05, 200).Detect(candles); len(gaps) != 1 {
		t.Fatalf("expected young gap to survive, got %d", len(gaps))
	}
	if gaps := NewFVGDetector(0.05, 5).Detect(candles); len(gaps) != 0 {
		t.Fatalf("expected aged-out gap to be dropped")
	}
}

func TestFVGInvariantUpperAboveLower(t *testing.T) {
	rows := append(flatCandles(5, 100),
		ohlcv{98, 100, 96, 99, 1000},
		ohlcv{101, 104, 100.5, 103, 1500},
		ohlcv{106, 110, 105, 109, 2000},
		ohlcv{111, 113, 110.5, 112, 1000},
	)
	candles := makeCandles(rows)

	for _, g := range NewFVGDetector(0.05, 200).Detect(candles) {
		if g.Upper <= g.Lower {
			t.Errorf("gap violates upper > lower: [%v, %v]", g.Lower, g.Upper)
		}
	}
}
