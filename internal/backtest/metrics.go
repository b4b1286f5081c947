package backtest

import (
	"encoding/json"
	"fmt"
	"math"

	"crypto-market-analyzer/internal/market"
)

// Metrics is the post-run performance statistics block. Ratios are annualized
// by the candle timeframe; drawdown and returns are fractions.
type Metrics struct {
	TotalReturn      float64 `json:"total_return"`
	AnnualizedReturn float64 `json:"annualized_return"`
	MaxDrawdown      float64 `json:"max_drawdown"`
	SharpeRatio      float64 `json:"sharpe_ratio"`
	SortinoRatio     float64 `json:"sortino_ratio"`
	CalmarRatio      float64 `json:"calmar_ratio"`
	WinRate          float64 `json:"win_rate"`
	AvgWin           float64 `json:"avg_win"`
	AvgLoss          float64 `json:"avg_loss"`
	ProfitFactor     float64 `json:"profit_factor"`
	TotalTrades      int     `json:"total_trades"`
	WinningTrades    int     `json:"winning_trades"`
	LosingTrades     int     `json:"losing_trades"`
	Volatility       float64 `json:"volatility"` // annualized stddev of periodic returns
}

// MarshalJSON renders non-finite ratios as null: a ledger with no losing
// trades carries an infinite profit factor, which encoding/json rejects.
func (m Metrics) MarshalJSON() ([]byte, error) {
	type plain Metrics
	return json.Marshal(struct {
		plain
		SharpeRatio  *float64 `json:"sharpe_ratio"`
		SortinoRatio *float64 `json:"sortino_ratio"`
		CalmarRatio  *float64 `json:"calmar_ratio"`
		ProfitFactor *float64 `json:"profit_factor"`
	}{
		plain:        plain(m),
		SharpeRatio:  finiteOrNil(m.SharpeRatio),
		SortinoRatio: finiteOrNil(m.SortinoRatio),
		CalmarRatio:  finiteOrNil(m.CalmarRatio),
		ProfitFactor: finiteOrNil(m.ProfitFactor),
	})
}

func finiteOrNil(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

// ComputeMetrics derives the statistics block from a completed run's equity
// curve and trade ledger.
func ComputeMetrics(equity []EquityPoint, trades []Trade, tf market.Timeframe, initialCapital float64) Metrics {
	m := Metrics{TotalTrades: len(trades)}
	if len(equity) == 0 || initialCapital <= 0 {
		return m
	}

	final := equity[len(equity)-1].Equity
	m.TotalReturn = final/initialCapital - 1

	periods := float64(len(equity))
	perYear := tf.PeriodsPerYear()
	if periods > 1 && final > 0 {
		years := periods / perYear
		m.AnnualizedReturn = math.Pow(final/initialCapital, 1/years) - 1
	}

	m.MaxDrawdown = equityDrawdown(equity)

	returns := periodicReturns(equity)
	mean, stddev := meanStddev(returns)
	downside := downsideDeviation(returns)
	annFactor := math.Sqrt(perYear)
	m.Volatility = stddev * annFactor
	if stddev > 0 {
		m.SharpeRatio = mean / stddev * annFactor
	}
	if downside > 0 {
		m.SortinoRatio = mean / downside * annFactor
	}
	if m.MaxDrawdown > 0 {
		m.CalmarRatio = m.AnnualizedReturn / m.MaxDrawdown
	}

	var winSum, lossSum float64
	for _, t := range trades {
		if t.PnL > 0 {
			m.WinningTrades++
			winSum += t.PnL
		} else if t.PnL < 0 {
			m.LosingTrades++
			lossSum += -t.PnL
		}
	}
	if len(trades) > 0 {
		m.WinRate = float64(m.WinningTrades) / float64(len(trades))
	}
	if m.WinningTrades > 0 {
		m.AvgWin = winSum / float64(m.WinningTrades)
	}
	if m.LosingTrades > 0 {
		m.AvgLoss = lossSum / float64(m.LosingTrades)
	}
	if lossSum > 0 {
		m.ProfitFactor = winSum / lossSum
	} else if winSum > 0 {
		m.ProfitFactor = math.Inf(1)
	}

	return m
}

// Suggestions derives tuning hints from the statistics block, mirroring the
// optimization_suggestions output contract.
func Suggestions(m Metrics) []string {
	var out []string
	if m.TotalTrades == 0 {
		return []string{"strategy produced no trades over the range; loosen entry conditions or widen the date range"}
	}
	if m.TotalTrades < 10 {
		out = append(out, fmt.Sprintf(
			"only %d trades in sample; statistics are unreliable below ~30 trades", m.TotalTrades))
	}
	if m.WinRate < 0.4 && m.ProfitFactor < 1 {
		out = append(out, "win rate and profit factor are both weak; entry rule may be firing against the trend")
	}
	if m.MaxDrawdown > 0.25 {
		out = append(out, fmt.Sprintf(
			"max drawdown %.0f%% exceeds 25%%; consider a tighter stop or smaller allocation", m.MaxDrawdown*100))
	}
	if m.AvgLoss > 0 && m.AvgWin/m.AvgLoss < 1 && m.WinRate < 0.55 {
		out = append(out, "average loss exceeds average win at a sub-55% win rate; widen the take-profit target")
	}
	if m.SharpeRatio > 0 && m.SharpeRatio < 0.5 {
		out = append(out, "sharpe below 0.5; returns barely clear their volatility")
	}
	return out
}

// equityDrawdown returns the largest peak-to-trough decline as a fraction.
func equityDrawdown(equity []EquityPoint) float64 {
	peak, maxDD := 0.0, 0.0
	for _, p := range equity {
		if p.Equity > peak {
			peak = p.Equity
		}
		if peak > 0 {
			if dd := (peak - p.Equity) / peak; dd > maxDD {
				maxDD = dd
			}
		}
	}
	return maxDD
}

// periodicReturns converts the equity curve to simple per-period returns.
func periodicReturns(equity []EquityPoint) []float64 {
	if len(equity) < 2 {
		return nil
	}
	out := make([]float64, 0, len(equity)-1)
	for i := 1; i < len(equity); i++ {
		prev := equity[i-1].Equity
		if prev <= 0 {
			continue
		}
		out = append(out, equity[i].Equity/prev-1)
	}
	return out
}

func meanStddev(values []float64) (mean, stddev float64) {
	if len(values) == 0 {
		return 0, 0
	}
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))
	if len(values) < 2 {
		return mean, 0
	}
	variance := 0.0
	for _, v := range values {
		d := v - mean
		variance += d * d
	}
	variance /= float64(len(values) - 1)
	return mean, math.Sqrt(variance)
}

// downsideDeviation is the stddev of negative returns only, against a zero
// target.
func downsideDeviation(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		if v < 0 {
			sum += v * v
		}
	}
	return math.Sqrt(sum / float64(len(values)))
}
