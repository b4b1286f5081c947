package analysis

import (
	"math"
	"time"

	"crypto-market-analyzer/internal/market"
)

// BlockSide represents the side of an order block
type BlockSide string

const (
	DemandBlock BlockSide = "demand"
	SupplyBlock BlockSide = "supply"
)

// OrderBlock is a price zone where institutional accumulation or distribution
// is inferred from a rejection candle followed by strong displacement.
// Strength is normalized to [0,100].
type OrderBlock struct {
	Level       float64   `json:"level"`
	Upper       float64   `json:"upper"`
	Lower       float64   `json:"lower"`
	Side        BlockSide `json:"side"`
	Strength    float64   `json:"strength"`
	CreatedAt   time.Time `json:"timestamp"`
	CandleIndex int       `json:"candle_index"`
	Touches     int       `json:"touches"`
}

// OrderBlockConfig holds the detection thresholds and strength weights.
// Weight fields must sum to 1; thresholds are in the documented ranges.
type OrderBlockConfig struct {
	DisplacementATR    float64 `json:"displacement_atr"`     // displacement threshold as ATR multiple (1.0-3.0)
	DisplacementSpan   int     `json:"displacement_span"`    // candles ahead over which displacement is measured (1-5)
	RejectionBodyRatio float64 `json:"rejection_body_ratio"` // max body/range ratio for a rejection candle (0.2-0.8)
	VolumeAvgPeriod    int     `json:"volume_avg_period"`    // rolling volume average window (10-50)
	WeightVolume       float64 `json:"weight_volume"`        // strength weight: relative volume
	WeightDisplacement float64 `json:"weight_displacement"`  // strength weight: displacement magnitude
	WeightTouches      float64 `json:"weight_touches"`       // strength weight: untouched-retest count
}

// DefaultOrderBlockConfig returns the tuned defaults.
func DefaultOrderBlockConfig() OrderBlockConfig {
	return OrderBlockConfig{
		DisplacementATR:    1.5,
		DisplacementSpan:   2,
		RejectionBodyRatio: 0.5,
		VolumeAvgPeriod:    20,
		WeightVolume:       0.4,
		WeightDisplacement: 0.4,
		WeightTouches:      0.2,
	}
}

// OrderBlockDetector detects demand and supply order blocks.
type OrderBlockDetector struct {
	cfg OrderBlockConfig
}

// NewOrderBlockDetector creates a detector with the given config, filling in
// defaults for zero-valued fields.
func NewOrderBlockDetector(cfg OrderBlockConfig) *OrderBlockDetector {
	def := DefaultOrderBlockConfig()
	if cfg.DisplacementATR <= 0 {
		cfg.DisplacementATR = def.DisplacementATR
	}
	if cfg.DisplacementSpan <= 0 {
		cfg.DisplacementSpan = def.DisplacementSpan
	}
	if cfg.RejectionBodyRatio <= 0 {
		cfg.RejectionBodyRatio = def.RejectionBodyRatio
	}
	if cfg.VolumeAvgPeriod <= 0 {
		cfg.VolumeAvgPeriod = def.VolumeAvgPeriod
	}
	if cfg.WeightVolume+cfg.WeightDisplacement+cfg.WeightTouches == 0 {
		cfg.WeightVolume = def.WeightVolume
		cfg.WeightDisplacement = def.WeightDisplacement
		cfg.WeightTouches = def.WeightTouches
	}
	return &OrderBlockDetector{cfg: cfg}
}

// Detect scans the window and returns the active (not invalidated) blocks.
// atr is the ATR series aligned to the end of the window: atr[len(atr)-1]
// belongs to the last candle.
func (od *OrderBlockDetector) Detect(candles []market.Candle, atr []float64) []OrderBlock {
	span := od.cfg.DisplacementSpan
	if len(candles) < od.cfg.VolumeAvgPeriod+span+1 {
		return nil
	}

	atrOffset := len(candles) - len(atr)
	var active []OrderBlock

	for i := od.cfg.VolumeAvgPeriod; i < len(candles)-span; i++ {
		if i < atrOffset {
			continue
		}
		bar := candles[i]
		atrVal := atr[i-atrOffset]
		if atrVal <= 0 {
			continue
		}

		displacement := candles[i+span].Close - bar.Close
		threshold := od.cfg.DisplacementATR * atrVal

		var side BlockSide
		switch {
		case displacement >= threshold && od.isRejection(bar, true):
			side = DemandBlock
		case -displacement >= threshold && od.isRejection(bar, false):
			side = SupplyBlock
		default:
			continue
		}

		block := od.buildBlock(candles, i, side)
		if od.invalidated(block, candles) {
			continue
		}
		block.Touches = od.countTouches(block, candles)
		block.Strength = od.strength(candles, i, math.Abs(displacement)/atrVal, block.Touches)
		active = append(active, block)
	}

	return active
}

// isRejection reports whether the candle qualifies as a block origin: either
// the last opposite-colored candle before the displacement, or a candle whose
// body is small relative to its range.
func (od *OrderBlockDetector) isRejection(bar market.Candle, demand bool) bool {
	if demand && !bar.IsBullish() {
		return true
	}
	if !demand && bar.IsBullish() {
		return true
	}
	r := bar.Range()
	if r <= 0 {
		return false
	}
	return bar.Body()/r <= od.cfg.RejectionBodyRatio
}

func (od *OrderBlockDetector) buildBlock(candles []market.Candle, i int, side BlockSide) OrderBlock {
	bar := candles[i]
	var upper, lower float64
	if side == DemandBlock {
		lower = bar.Low
		upper = math.Max(bar.Open, bar.Close)
	} else {
		upper = bar.High
		lower = math.Min(bar.Open, bar.Close)
	}
	return OrderBlock{
		Level:       (upper + lower) / 2,
		Upper:       upper,
		Lower:       lower,
		Side:        side,
		CreatedAt:   bar.OpenTime,
		CandleIndex: i,
	}
}

// invalidated reports whether a later candle closed decisively through the
// block's far boundary. Invalidated blocks are removed from the active set.
func (od *OrderBlockDetector) invalidated(block OrderBlock, candles []market.Candle) bool {
	for i := block.CandleIndex + 1; i < len(candles); i++ {
		if block.Side == DemandBlock && candles[i].Close < block.Lower {
			return true
		}
		if block.Side == SupplyBlock && candles[i].Close > block.Upper {
			return true
		}
	}
	return false
}

// countTouches counts later candles that traded back into the zone without
// invalidating it.
func (od *OrderBlockDetector) countTouches(block OrderBlock, candles []market.Candle) int {
	touches := 0
	for i := block.CandleIndex + od.cfg.DisplacementSpan + 1; i < len(candles); i++ {
		c := candles[i]
		if block.Side == DemandBlock && c.Low <= block.Upper && c.Close >= block.Lower {
			touches++
		}
		if block.Side == SupplyBlock && c.High >= block.Lower && c.Close <= block.Upper {
			touches++
		}
	}
	return touches
}

// strength combines relative volume, displacement magnitude and touch count
// into a [0,100] score.
func (od *OrderBlockDetector) strength(candles []market.Candle, i int, dispATRMultiple float64, touches int) float64 {
	avgVol := 0.0
	for j := i - od.cfg.VolumeAvgPeriod; j < i; j++ {
		avgVol += candles[j].Volume
	}
	avgVol /= float64(od.cfg.VolumeAvgPeriod)

	volScore := 0.5
	if avgVol > 0 {
		volScore = math.Min(candles[i].Volume/avgVol, 2) / 2
	}
	dispScore := math.Min(dispATRMultiple/(od.cfg.DisplacementATR*2), 1)
	touchScore := math.Min(float64(touches), 3) / 3

	score := 100 * (od.cfg.WeightVolume*volScore +
		od.cfg.WeightDisplacement*dispScore +
		od.cfg.WeightTouches*touchScore)

	return math.Max(0, math.Min(100, score))
}
