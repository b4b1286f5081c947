// Package signal turns structure analysis output into a scored trading
// recommendation.
package signal

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"crypto-market-analyzer/internal/analysis"
	"crypto-market-analyzer/internal/indicators"
	"crypto-market-analyzer/internal/market"
)

// TrendLabel is the five-way trend classification.
type TrendLabel string

const (
	TrendBullishStrong TrendLabel = "bullish_strong"
	TrendBullish       TrendLabel = "bullish"
	TrendNeutral       TrendLabel = "neutral"
	TrendBearish       TrendLabel = "bearish"
	TrendBearishStrong TrendLabel = "bearish_strong"
)

// VolatilityLabel classifies current ATR against its trailing distribution.
type VolatilityLabel string

const (
	VolatilityLow      VolatilityLabel = "low"
	VolatilityModerate VolatilityLabel = "moderate"
	VolatilityHigh     VolatilityLabel = "high"
)

// Action is the final recommendation.
type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
	ActionHold Action = "HOLD"
)

// Config holds the scoring weights and thresholds. The four weights must sum
// to 100; each component contributes weight × [0,1].
type Config struct {
	WeightOrderBlock float64 `json:"weight_order_block"` // block proximity x strength (20-50)
	WeightFVG        float64 `json:"weight_fvg"`         // unfilled gap alignment (10-40)
	WeightStructure  float64 `json:"weight_structure"`   // structure event recency (10-40)
	WeightVolatility float64 `json:"weight_volatility"`  // volatility regime bonus (5-25)

	HoldFloor        float64 `json:"hold_floor"`         // below this confidence, always HOLD (40-70)
	HighVolCap       float64 `json:"high_vol_cap"`       // confidence ceiling in high volatility (50-85)
	MASlopePeriod    int     `json:"ma_slope_period"`    // SMA window for the slope check
	MASlopeSpan      int     `json:"ma_slope_span"`      // bars between slope samples
	MASlopeThreshold float64 `json:"ma_slope_threshold"` // relative slope for a "strong" call
	RecencyHorizon   int     `json:"recency_horizon"`    // bars over which a structure event decays
	ProximityATR     float64 `json:"proximity_atr"`      // block proximity horizon in ATR multiples
}

// DefaultConfig returns the tuned scoring defaults.
func DefaultConfig() Config {
	return Config{
		WeightOrderBlock: 35,
		WeightFVG:        25,
		WeightStructure:  25,
		WeightVolatility: 15,
		HoldFloor:        55,
		HighVolCap:       70,
		MASlopePeriod:    20,
		MASlopeSpan:      5,
		MASlopeThreshold: 0.002,
		RecencyHorizon:   20,
		ProximityATR:     3,
	}
}

// TechnicalIndicators is the indicator snapshot attached to a score.
type TechnicalIndicators struct {
	SMA20  float64 `json:"sma_20"`
	SMA50  float64 `json:"sma_50"`
	RSI14  float64 `json:"rsi_14"`
	ATR14  float64 `json:"atr_14"`
	Volume float64 `json:"volume"`
}

// Recommendation is the actionable output of a score.
type Recommendation struct {
	Action     Action  `json:"action"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
}

// Score is the full scorer output for one analysis result.
type Score struct {
	Trend            TrendLabel          `json:"trend"`
	Volatility       VolatilityLabel     `json:"volatility"`
	Confidence       float64             `json:"confidence"`
	IntelligentScore float64             `json:"intelligent_score"`
	Recommendation   Recommendation      `json:"recommendation"`
	Indicators       TechnicalIndicators `json:"technical_indicators"`
}

// Scorer combines structure findings with trend and volatility classification.
// Stateless; safe for concurrent use.
type Scorer struct {
	cfg    Config
	logger zerolog.Logger
}

// NewScorer creates a scorer with the given config, falling back to defaults
// when the weights are all zero.
func NewScorer(cfg Config, logger zerolog.Logger) *Scorer {
	if cfg.WeightOrderBlock+cfg.WeightFVG+cfg.WeightStructure+cfg.WeightVolatility == 0 {
		cfg = DefaultConfig()
	}
	return &Scorer{
		cfg:    cfg,
		logger: logger.With().Str("component", "SignalScorer").Logger(),
	}
}

// Config returns the scoring configuration. Used for cache keying.
func (s *Scorer) Config() Config {
	return s.cfg
}

// Score classifies trend and volatility and produces a confidence-weighted
// recommendation for the analysis result.
func (s *Scorer) Score(result *analysis.Result, candles []market.Candle) (*Score, error) {
	if result == nil {
		return nil, market.NewValidationError("nil analysis result")
	}
	closes := market.Closes(candles)
	if len(closes) < s.cfg.MASlopePeriod+s.cfg.MASlopeSpan {
		return nil, market.NewDataError(fmt.Sprintf(
			"scoring requires at least %d candles, got %d",
			s.cfg.MASlopePeriod+s.cfg.MASlopeSpan, len(closes)))
	}

	trend := s.classifyTrend(result.Trend, closes)
	volatility := s.classifyVolatility(result)

	components := s.components(result, candles, trend, volatility)
	confidence := 0.0
	for _, c := range components {
		confidence += c.weighted
	}
	if volatility == VolatilityHigh && confidence > s.cfg.HighVolCap {
		confidence = s.cfg.HighVolCap
	}
	confidence = math.Max(0, math.Min(100, confidence))

	rec := Recommendation{
		Action:     decide(trend, confidence, s.cfg.HoldFloor),
		Confidence: confidence,
		Reasoning:  s.reasoning(trend, volatility, components),
	}

	ind, err := s.indicators(result, candles)
	if err != nil {
		return nil, err
	}

	score := &Score{
		Trend:            trend,
		Volatility:       volatility,
		Confidence:       confidence,
		IntelligentScore: s.intelligentScore(confidence, result),
		Recommendation:   rec,
		Indicators:       ind,
	}

	s.logger.Debug().
		Str("symbol", result.Symbol).
		Str("trend", string(trend)).
		Str("volatility", string(volatility)).
		Float64("confidence", confidence).
		Str("action", string(rec.Action)).
		Msg("signal scored")

	return score, nil
}

// decide maps (trend, confidence) to an action through a fixed table.
// Confidence below the floor always holds, for any trend.
func decide(trend TrendLabel, confidence, holdFloor float64) Action {
	if confidence < holdFloor {
		return ActionHold
	}
	switch trend {
	case TrendBullishStrong, TrendBullish:
		return ActionBuy
	case TrendBearishStrong, TrendBearish:
		return ActionSell
	default:
		return ActionHold
	}
}

// classifyTrend refines the structural trend with a moving-average slope
// check.
func (s *Scorer) classifyTrend(structural analysis.TrendState, closes []float64) TrendLabel {
	last := len(closes) - 1
	smaNow, err := indicators.SMAAt(closes, last, s.cfg.MASlopePeriod)
	if err != nil {
		return mapStructuralTrend(structural)
	}
	smaPrev, err := indicators.SMAAt(closes, last-s.cfg.MASlopeSpan, s.cfg.MASlopePeriod)
	if err != nil || smaPrev == 0 {
		return mapStructuralTrend(structural)
	}
	slope := (smaNow - smaPrev) / smaPrev

	switch structural {
	case analysis.TrendBullish:
		if slope > s.cfg.MASlopeThreshold {
			return TrendBullishStrong
		}
		if slope >= -s.cfg.MASlopeThreshold {
			return TrendBullish
		}
		return TrendNeutral
	case analysis.TrendBearish:
		if slope < -s.cfg.MASlopeThreshold {
			return TrendBearishStrong
		}
		if slope <= s.cfg.MASlopeThreshold {
			return TrendBearish
		}
		return TrendNeutral
	default:
		if slope > s.cfg.MASlopeThreshold {
			return TrendBullish
		}
		if slope < -s.cfg.MASlopeThreshold {
			return TrendBearish
		}
		return TrendNeutral
	}
}

func mapStructuralTrend(structural analysis.TrendState) TrendLabel {
	switch structural {
	case analysis.TrendBullish:
		return TrendBullish
	case analysis.TrendBearish:
		return TrendBearish
	default:
		return TrendNeutral
	}
}

// classifyVolatility ranks the current ATR against its trailing distribution.
func (s *Scorer) classifyVolatility(result *analysis.Result) VolatilityLabel {
	if len(result.ATRHistory) == 0 {
		return VolatilityModerate
	}
	pct := indicators.PercentileRank(result.ATRHistory, result.ATR)
	switch {
	case pct < 30:
		return VolatilityLow
	case pct > 70:
		return VolatilityHigh
	default:
		return VolatilityModerate
	}
}

// component is one weighted confidence term.
type component struct {
	name     string
	raw      float64 // [0,1]
	weighted float64
}

func (s *Scorer) components(result *analysis.Result, candles []market.Candle, trend TrendLabel, volatility VolatilityLabel) []component {
	bullish := trend == TrendBullish || trend == TrendBullishStrong
	bearish := trend == TrendBearish || trend == TrendBearishStrong
	price := candles[len(candles)-1].Close

	blockRaw := s.blockComponent(result, price, bullish, bearish)
	fvgRaw := s.fvgComponent(result, bullish, bearish)
	structRaw := s.structureComponent(result, bullish, bearish)

	volRaw := 0.7
	switch volatility {
	case VolatilityLow:
		volRaw = 1.0
	case VolatilityHigh:
		volRaw = 0.3
	}

	return []component{
		{name: "order block confluence", raw: blockRaw, weighted: blockRaw * s.cfg.WeightOrderBlock},
		{name: "fair value gap alignment", raw: fvgRaw, weighted: fvgRaw * s.cfg.WeightFVG},
		{name: "structure break recency", raw: structRaw, weighted: structRaw * s.cfg.WeightStructure},
		{name: "volatility regime", raw: volRaw, weighted: volRaw * s.cfg.WeightVolatility},
	}
}

// blockComponent scores the best active order block on the trend side by
// strength discounted by distance from price.
func (s *Scorer) blockComponent(result *analysis.Result, price float64, bullish, bearish bool) float64 {
	if result.ATR <= 0 {
		return 0
	}
	best := 0.0
	for _, b := range result.OrderBlocks {
		if bullish && b.Side != analysis.DemandBlock {
			continue
		}
		if bearish && b.Side != analysis.SupplyBlock {
			continue
		}
		dist := math.Abs(price-b.Level) / result.ATR
		proximity := math.Max(0, 1-dist/s.cfg.ProximityATR)
		if v := b.Strength / 100 * proximity; v > best {
			best = v
		}
	}
	return best
}

// fvgComponent scores the fraction of active gaps aligned with the trend.
func (s *Scorer) fvgComponent(result *analysis.Result, bullish, bearish bool) float64 {
	if len(result.FairValueGaps) == 0 || (!bullish && !bearish) {
		return 0
	}
	aligned := 0
	for _, g := range result.FairValueGaps {
		if g.AlignedWithTrend(bullish) {
			aligned++
		}
	}
	return float64(aligned) / float64(len(result.FairValueGaps))
}

// structureComponent decays the last structure event over the recency
// horizon; events against the trend contribute nothing.
func (s *Scorer) structureComponent(result *analysis.Result, bullish, bearish bool) float64 {
	ev := result.LastEvent
	if ev == nil {
		return 0
	}
	if bullish && ev.Direction != analysis.DirectionBullish {
		return 0
	}
	if bearish && ev.Direction != analysis.DirectionBearish {
		return 0
	}
	barsSince := result.CandleCount - 1 - ev.CandleIndex
	return math.Max(0, 1-float64(barsSince)/float64(s.cfg.RecencyHorizon))
}

// intelligentScore blends confidence with the strongest detected pattern.
func (s *Scorer) intelligentScore(confidence float64, result *analysis.Result) float64 {
	strongest := 0.0
	for _, b := range result.OrderBlocks {
		if b.Strength > strongest {
			strongest = b.Strength
		}
	}
	return math.Min(100, 0.7*confidence+0.3*strongest)
}

// reasoning cites the dominant contributing factors, highest weight first.
func (s *Scorer) reasoning(trend TrendLabel, volatility VolatilityLabel, components []component) string {
	sorted := make([]component, len(components))
	copy(sorted, components)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].weighted > sorted[j].weighted })

	var parts []string
	for _, c := range sorted[:2] {
		parts = append(parts, fmt.Sprintf("%s (%.0f/100)", c.name, c.weighted))
	}
	return fmt.Sprintf("trend %s with %s volatility; dominant factors: %s",
		trend, volatility, strings.Join(parts, ", "))
}

// indicators builds the technical indicator snapshot for the output contract.
func (s *Scorer) indicators(result *analysis.Result, candles []market.Candle) (TechnicalIndicators, error) {
	closes := market.Closes(candles)
	last := len(closes) - 1

	sma20, err := indicators.SMAAt(closes, last, 20)
	if err != nil {
		return TechnicalIndicators{}, market.NewDataError(err.Error())
	}
	sma50 := 0.0
	if v, err := indicators.SMAAt(closes, last, 50); err == nil {
		sma50 = v
	}
	rsi := 0.0
	if series, err := indicators.RSI(closes, 14); err == nil && len(series) > 0 {
		rsi = series[len(series)-1]
	}

	return TechnicalIndicators{
		SMA20:  sma20,
		SMA50:  sma50,
		RSI14:  rsi,
		ATR14:  result.ATR,
		Volume: candles[len(candles)-1].Volume,
	}, nil
}
