package analysis

import (
	"time"

	"crypto-market-analyzer/internal/market"
)

var testStart = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// ohlcv is a compact candle literal for test fixtures.
type ohlcv struct {
	o, h, l, c, v float64
}

func makeCandles(rows []ohlcv) []market.Candle {
	candles := make([]market.Candle, len(rows))
	for i, r := range rows {
		candles[i] = market.Candle{
			OpenTime: testStart.Add(time.Duration(i) * time.Hour),
			Open:     r.o,
			High:     r.h,
			Low:      r.l,
			Close:    r.c,
			Volume:   r.v,
		}
	}
	return candles
}

// flatCandles builds n identical ranging candles around price.
func flatCandles(n int, price float64) []ohlcv {
	rows := make([]ohlcv, n)
	for i := range rows {
		rows[i] = ohlcv{price, price + 1, price - 1, price, 1000}
	}
	return rows
}
