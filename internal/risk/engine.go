// Package risk implements position sizing, parametric Value-at-Risk and
// Kelly-fraction bounds. All calculations are pure functions of their inputs;
// the engine carries only configuration.
package risk

import (
	"fmt"
	"math"

	"github.com/rs/zerolog"

	"crypto-market-analyzer/internal/indicators"
	"crypto-market-analyzer/internal/market"
)

// z-scores for the one-sided normal quantiles used by parametric VaR.
const (
	z95 = 1.645
	z99 = 2.326
)

// Config holds the risk engine parameters.
type Config struct {
	DefaultRiskPercent float64 `json:"default_risk_percent"` // percent of portfolio risked per trade
	VolatilityLookback int     `json:"volatility_lookback"`  // bars of returns for realized volatility
	KellyCap           float64 `json:"kelly_cap"`            // recommended-fraction ceiling (fraction of capital)
	MinTradeSample     int     `json:"min_trade_sample"`     // trades needed to estimate Kelly inputs
	VaRAlertPercent    float64 `json:"var_alert_percent"`    // 1d VaR as percent of portfolio that triggers an alert
}

// DefaultConfig returns the engine defaults. The 5% Kelly cap is deliberate:
// raw Kelly is too aggressive for leveraged, fat-tailed crypto markets.
func DefaultConfig() Config {
	return Config{
		DefaultRiskPercent: 2,
		VolatilityLookback: 30,
		KellyCap:           0.05,
		MinTradeSample:     20,
		VaRAlertPercent:    5,
	}
}

// PositionSize is the sizing output in both quote currency and units.
type PositionSize struct {
	QuoteValue   float64 `json:"quote_value"`
	Units        float64 `json:"units"`
	RiskAmount   float64 `json:"risk_amount"`
	RiskPercent  float64 `json:"risk_percent"`
	StopDistance float64 `json:"stop_distance"`
}

// VaRMetrics holds parametric Value-at-Risk at both confidence levels over
// one-day and seven-day horizons.
type VaRMetrics struct {
	VaR95_1d   float64 `json:"var_95_1d"`
	VaR99_1d   float64 `json:"var_99_1d"`
	VaR95_7d   float64 `json:"var_95_7d"`
	VaR99_7d   float64 `json:"var_99_7d"`
	Volatility float64 `json:"volatility"`
}

// Assessment is the full risk output for one proposed position.
type Assessment struct {
	Position            PositionSize `json:"position_sizing"`
	VaR                 VaRMetrics   `json:"risk_metrics"`
	MaxDrawdown         float64      `json:"max_drawdown"`
	KellyFraction       float64      `json:"kelly_fraction"`
	RecommendedFraction float64      `json:"recommended_fraction"`
	Alerts              []string     `json:"risk_alerts"`
}

// AssessmentInput bundles the caller-supplied facts an assessment needs.
// Closes drive the volatility estimate; TradePnLs is an optional historical
// trade sample for the Kelly estimate.
type AssessmentInput struct {
	PortfolioValue float64
	EntryPrice     float64
	StopLoss       float64
	RiskPercent    float64
	Closes         []float64
	TradePnLs      []float64
}

// Engine computes sizing and risk metrics. Stateless; safe for concurrent use.
type Engine struct {
	cfg    Config
	logger zerolog.Logger
}

// NewEngine creates a risk engine with the given config, filling in defaults
// for zero-valued fields.
func NewEngine(cfg Config, logger zerolog.Logger) *Engine {
	def := DefaultConfig()
	if cfg.DefaultRiskPercent <= 0 {
		cfg.DefaultRiskPercent = def.DefaultRiskPercent
	}
	if cfg.VolatilityLookback <= 0 {
		cfg.VolatilityLookback = def.VolatilityLookback
	}
	if cfg.KellyCap <= 0 {
		cfg.KellyCap = def.KellyCap
	}
	if cfg.MinTradeSample <= 0 {
		cfg.MinTradeSample = def.MinTradeSample
	}
	if cfg.VaRAlertPercent <= 0 {
		cfg.VaRAlertPercent = def.VaRAlertPercent
	}
	return &Engine{
		cfg:    cfg,
		logger: logger.With().Str("component", "RiskEngine").Logger(),
	}
}

// Config returns the engine configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

// PositionSize computes the position size for a fixed fractional risk model:
// quote value = portfolio × risk% / |entry − stop| × entry, units = quote/entry.
func (e *Engine) PositionSize(portfolioValue, entry, stop, riskPercent float64) (PositionSize, error) {
	if portfolioValue <= 0 {
		return PositionSize{}, market.NewCalculationError(fmt.Sprintf("portfolio value must be positive, got %.2f", portfolioValue))
	}
	if entry <= 0 {
		return PositionSize{}, market.NewCalculationError(fmt.Sprintf("entry price must be positive, got %.2f", entry))
	}
	if riskPercent <= 0 || riskPercent > 100 {
		return PositionSize{}, market.NewCalculationError(fmt.Sprintf("risk percent must be in (0,100], got %.2f", riskPercent))
	}
	distance := math.Abs(entry - stop)
	if distance == 0 {
		return PositionSize{}, market.NewCalculationError("entry price equals stop loss: risk distance is undefined")
	}

	riskAmount := portfolioValue * riskPercent / 100
	units := riskAmount / distance

	return PositionSize{
		QuoteValue:   units * entry,
		Units:        units,
		RiskAmount:   riskAmount,
		RiskPercent:  riskPercent,
		StopDistance: distance,
	}, nil
}

// ValueAtRisk computes parametric VaR under a normal approximation.
// volatility is the per-period standard deviation of returns; the seven-day
// figures scale by the square root of time.
func (e *Engine) ValueAtRisk(positionValue, volatility float64) (VaRMetrics, error) {
	if positionValue <= 0 {
		return VaRMetrics{}, market.NewCalculationError(fmt.Sprintf("position value must be positive, got %.2f", positionValue))
	}
	if volatility < 0 {
		return VaRMetrics{}, market.NewCalculationError(fmt.Sprintf("volatility must be non-negative, got %.4f", volatility))
	}

	sqrt7 := math.Sqrt(7)
	return VaRMetrics{
		VaR95_1d:   positionValue * volatility * z95,
		VaR99_1d:   positionValue * volatility * z99,
		VaR95_7d:   positionValue * volatility * z95 * sqrt7,
		VaR99_7d:   positionValue * volatility * z99 * sqrt7,
		Volatility: volatility,
	}, nil
}

// Kelly computes the raw Kelly fraction (b·p − q)/b and the recommended
// fraction after the safety cap. winProb is p in (0,1); winLossRatio is b,
// the average win divided by the average loss.
func (e *Engine) Kelly(winProb, winLossRatio float64) (raw, recommended float64, err error) {
	if winProb <= 0 || winProb >= 1 {
		return 0, 0, market.NewCalculationError(fmt.Sprintf("win probability must be in (0,1), got %.4f", winProb))
	}
	if winLossRatio <= 0 {
		return 0, 0, market.NewCalculationError(fmt.Sprintf("win/loss ratio must be positive, got %.4f", winLossRatio))
	}

	raw = (winLossRatio*winProb - (1 - winProb)) / winLossRatio
	recommended = math.Max(0, math.Min(raw, e.cfg.KellyCap))
	return raw, recommended, nil
}

// KellyFromTrades estimates p and b from a historical trade PnL sample and
// returns the capped Kelly fraction. A sample smaller than MinTradeSample, or
// one with no wins or no losses, cannot estimate the inputs reliably.
func (e *Engine) KellyFromTrades(pnls []float64) (raw, recommended float64, err error) {
	if len(pnls) < e.cfg.MinTradeSample {
		return 0, 0, market.NewCalculationError(fmt.Sprintf(
			"Kelly estimate requires at least %d trades, got %d", e.cfg.MinTradeSample, len(pnls)))
	}

	var winSum, lossSum float64
	var wins, losses int
	for _, pnl := range pnls {
		if pnl > 0 {
			winSum += pnl
			wins++
		} else if pnl < 0 {
			lossSum += -pnl
			losses++
		}
	}
	if wins == 0 || losses == 0 {
		return 0, 0, market.NewCalculationError("trade sample has no wins or no losses; win/loss ratio is undefined")
	}

	p := float64(wins) / float64(len(pnls))
	b := (winSum / float64(wins)) / (lossSum / float64(losses))
	return e.Kelly(p, b)
}

// Assess runs the full pipeline: sizing, volatility, VaR, drawdown, Kelly and
// alert generation. The Kelly estimate degrades to zero with an alert when the
// trade sample is missing or too small; everything else is a hard error.
func (e *Engine) Assess(in AssessmentInput) (*Assessment, error) {
	riskPercent := in.RiskPercent
	if riskPercent == 0 {
		riskPercent = e.cfg.DefaultRiskPercent
	}

	pos, err := e.PositionSize(in.PortfolioValue, in.EntryPrice, in.StopLoss, riskPercent)
	if err != nil {
		return nil, err
	}

	vol, err := indicators.ReturnVolatility(in.Closes, e.cfg.VolatilityLookback)
	if err != nil {
		return nil, market.NewCalculationError(err.Error())
	}

	vars, err := e.ValueAtRisk(pos.QuoteValue, vol)
	if err != nil {
		return nil, err
	}

	a := &Assessment{
		Position:    pos,
		VaR:         vars,
		MaxDrawdown: priceDrawdown(in.Closes),
	}

	if len(in.TradePnLs) > 0 {
		raw, rec, kerr := e.KellyFromTrades(in.TradePnLs)
		if kerr != nil {
			a.Alerts = append(a.Alerts, fmt.Sprintf("kelly estimate unavailable: %v", kerr))
		} else {
			a.KellyFraction = raw
			a.RecommendedFraction = rec
			if raw > e.cfg.KellyCap {
				a.Alerts = append(a.Alerts, fmt.Sprintf(
					"raw kelly %.1f%% capped at %.1f%% safety ceiling", raw*100, e.cfg.KellyCap*100))
			}
		}
	}

	a.Alerts = append(a.Alerts, e.alerts(in, pos, vars)...)

	e.logger.Debug().
		Float64("position_units", pos.Units).
		Float64("var_95_1d", vars.VaR95_1d).
		Float64("volatility", vol).
		Int("alerts", len(a.Alerts)).
		Msg("risk assessment complete")

	return a, nil
}

// alerts flags conditions that warrant caller attention but do not invalidate
// the assessment.
func (e *Engine) alerts(in AssessmentInput, pos PositionSize, vars VaRMetrics) []string {
	var out []string

	if varPct := vars.VaR95_1d / in.PortfolioValue * 100; varPct > e.cfg.VaRAlertPercent {
		out = append(out, fmt.Sprintf(
			"1-day VaR(95) is %.1f%% of portfolio, above the %.1f%% threshold", varPct, e.cfg.VaRAlertPercent))
	}
	if pos.QuoteValue > in.PortfolioValue {
		out = append(out, "position value exceeds portfolio value: sizing implies leverage")
	}
	if stopPct := pos.StopDistance / in.EntryPrice * 100; stopPct > 10 {
		out = append(out, fmt.Sprintf("stop is %.1f%% away from entry; consider a tighter invalidation level", stopPct))
	}
	return out
}

// priceDrawdown returns the largest peak-to-trough decline of the close
// series, as a fraction.
func priceDrawdown(closes []float64) float64 {
	peak, maxDD := 0.0, 0.0
	for _, c := range closes {
		if c > peak {
			peak = c
		}
		if peak > 0 {
			if dd := (peak - c) / peak; dd > maxDD {
				maxDD = dd
			}
		}
	}
	return maxDD
}
