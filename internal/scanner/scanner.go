// Package scanner fans the structure analysis and signal scoring pipeline out
// across a symbol universe with bounded concurrency, ranks the results and
// returns the top opportunities.
package scanner

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"crypto-market-analyzer/internal/analysis"
	"crypto-market-analyzer/internal/cache"
	"crypto-market-analyzer/internal/market"
	"crypto-market-analyzer/internal/signal"
)

// Config holds the scanner parameters.
type Config struct {
	MaxConcurrency int              `json:"max_concurrency"`  // in-flight symbol analyses; sized to upstream rate limits
	TopN           int              `json:"top_n"`            // opportunities returned after ranking
	CandleLimit    int              `json:"candle_limit"`     // window length fetched per symbol
	MinQuoteVolume float64          `json:"min_quote_volume"` // pre-filter: average per-bar volume x close
	Timeframe      market.Timeframe `json:"timeframe"`
}

// DefaultConfig returns the scanner defaults.
func DefaultConfig() Config {
	return Config{
		MaxConcurrency: 8,
		TopN:           10,
		CandleLimit:    200,
		Timeframe:      market.Timeframe1h,
	}
}

// Opportunity is one ranked scan hit.
type Opportunity struct {
	Symbol           string                `json:"symbol"`
	Trend            signal.TrendLabel     `json:"trend"`
	Volatility       signal.VolatilityLabel `json:"volatility"`
	Confidence       float64               `json:"confidence"`
	IntelligentScore float64               `json:"intelligent_score"`
	CompositeScore   float64               `json:"composite_score"`
	VolumeSurge      float64               `json:"volume_surge"` // last volume over trailing average
	Action           signal.Action         `json:"action"`
	Reasoning        string                `json:"reasoning"`
	OrderBlocks      int                   `json:"order_blocks"`
	FairValueGaps    int                   `json:"fair_value_gaps"`
}

// Result is the output of one scan. Per-symbol failures are isolated in
// Errors; they never abort sibling symbols.
type Result struct {
	ScanID        string           `json:"scan_id"`
	Timeframe     market.Timeframe `json:"timeframe"`
	StartedAt     time.Time        `json:"started_at"`
	Duration      time.Duration    `json:"duration"`
	Scanned       int              `json:"scanned"`
	Filtered      int              `json:"filtered"`
	Opportunities []Opportunity    `json:"opportunities"`
	Errors        map[string]string `json:"errors,omitempty"`
}

// Scanner orchestrates the per-symbol pipelines. Each symbol's analysis is
// fully independent; the semaphore is the only shared resource.
type Scanner struct {
	provider  market.CandleProvider
	engine    *analysis.Engine
	scorer    *signal.Scorer
	cache     *cache.AnalysisCache
	cfg       Config
	keyParams cacheParams
	sem       *semaphore.Weighted
	logger    zerolog.Logger
}

// cacheParams are every tunable that shapes a cached opportunity: the
// analysis thresholds, the scoring weights and the scan window length.
// Changing any of them must miss entries computed under the old values.
type cacheParams struct {
	Analysis    analysis.Config `json:"analysis"`
	Signal      signal.Config   `json:"signal"`
	CandleLimit int             `json:"candle_limit"`
}

// New creates a scanner. cache may be nil to disable the read-through layer.
func New(provider market.CandleProvider, engine *analysis.Engine, scorer *signal.Scorer, analysisCache *cache.AnalysisCache, cfg Config, logger zerolog.Logger) *Scanner {
	def := DefaultConfig()
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = def.MaxConcurrency
	}
	if cfg.TopN <= 0 {
		cfg.TopN = def.TopN
	}
	if cfg.CandleLimit <= 0 {
		cfg.CandleLimit = def.CandleLimit
	}
	if cfg.Timeframe == "" {
		cfg.Timeframe = def.Timeframe
	}
	return &Scanner{
		provider: provider,
		engine:   engine,
		scorer:   scorer,
		cache:    analysisCache,
		cfg:      cfg,
		keyParams: cacheParams{
			Analysis:    engine.Config(),
			Signal:      scorer.Config(),
			CandleLimit: cfg.CandleLimit,
		},
		sem:    semaphore.NewWeighted(int64(cfg.MaxConcurrency)),
		logger: logger.With().Str("component", "MarketScanner").Logger(),
	}
}

// Scan analyzes every symbol with bounded fan-out and returns the top-N
// opportunities by composite score. Acquiring beyond the concurrency bound
// blocks, giving backpressure against the rate-limited data provider.
func (s *Scanner) Scan(ctx context.Context, symbols []string) (*Result, error) {
	if len(symbols) == 0 {
		return nil, market.NewValidationError("scan requires at least one symbol")
	}

	started := time.Now()
	result := &Result{
		ScanID:    uuid.NewString(),
		Timeframe: s.cfg.Timeframe,
		StartedAt: started,
		Scanned:   len(symbols),
		Errors:    make(map[string]string),
	}

	var (
		mu   sync.Mutex
		wg   sync.WaitGroup
		hits []Opportunity
	)

	var launchErr error
	for _, symbol := range symbols {
		if err := s.sem.Acquire(ctx, 1); err != nil {
			launchErr = market.NewAPIError("scan cancelled: " + err.Error())
			break
		}
		wg.Add(1)
		go func(symbol string) {
			defer wg.Done()
			defer s.sem.Release(1)

			opp, err := s.scanSymbol(ctx, symbol)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				result.Errors[symbol] = err.Error()
			case opp == nil:
				result.Filtered++
			default:
				hits = append(hits, *opp)
			}
		}(symbol)
	}
	// drain in-flight symbols before reporting a cancelled launch, so no
	// goroutine writes into a result the caller never sees
	wg.Wait()
	if launchErr != nil {
		return nil, launchErr
	}

	// deterministic ranking: composite desc, then symbol
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].CompositeScore != hits[j].CompositeScore {
			return hits[i].CompositeScore > hits[j].CompositeScore
		}
		return hits[i].Symbol < hits[j].Symbol
	})
	if len(hits) > s.cfg.TopN {
		hits = hits[:s.cfg.TopN]
	}
	result.Opportunities = hits
	result.Duration = time.Since(started)

	s.logger.Info().
		Str("scan_id", result.ScanID).
		Int("symbols", len(symbols)).
		Int("opportunities", len(hits)).
		Int("filtered", result.Filtered).
		Int("errors", len(result.Errors)).
		Dur("duration", result.Duration).
		Msg("scan complete")

	return result, nil
}

// scanSymbol runs one symbol's pipeline: fetch, pre-filter, cached
// analyze+score, composite ranking metric. Returns (nil, nil) when the
// symbol is filtered out.
func (s *Scanner) scanSymbol(ctx context.Context, symbol string) (*Opportunity, error) {
	key := cache.Key(symbol, s.cfg.Timeframe, s.keyParams)
	var cached Opportunity
	if s.cache.GetJSON(ctx, key, &cached) {
		return &cached, nil
	}

	candles, err := s.provider.Candles(ctx, symbol, s.cfg.Timeframe, s.cfg.CandleLimit)
	if err != nil {
		return nil, err
	}

	if s.cfg.MinQuoteVolume > 0 && avgQuoteVolume(candles) < s.cfg.MinQuoteVolume {
		return nil, nil
	}

	series := market.Series{Symbol: symbol, Timeframe: s.cfg.Timeframe, Candles: candles}
	analysisResult, err := s.engine.Analyze(series)
	if err != nil {
		return nil, err
	}
	score, err := s.scorer.Score(analysisResult, candles)
	if err != nil {
		return nil, err
	}

	surge := volumeSurge(candles, 20)
	opp := &Opportunity{
		Symbol:           symbol,
		Trend:            score.Trend,
		Volatility:       score.Volatility,
		Confidence:       score.Confidence,
		IntelligentScore: score.IntelligentScore,
		CompositeScore:   composite(score.Confidence, surge),
		VolumeSurge:      surge,
		Action:           score.Recommendation.Action,
		Reasoning:        score.Recommendation.Reasoning,
		OrderBlocks:      len(analysisResult.OrderBlocks),
		FairValueGaps:    len(analysisResult.FairValueGaps),
	}

	s.cache.SetJSON(ctx, key, opp)
	return opp, nil
}

// composite blends confidence with the volume surge strength metric. Surge
// saturates at 2x the trailing average.
func composite(confidence, surge float64) float64 {
	surgeScore := surge / 2
	if surgeScore > 1 {
		surgeScore = 1
	}
	if surgeScore < 0 {
		surgeScore = 0
	}
	return 0.7*confidence + 0.3*surgeScore*100
}

// volumeSurge returns the last bar's volume relative to the trailing average.
func volumeSurge(candles []market.Candle, window int) float64 {
	if len(candles) < window+1 {
		return 1
	}
	sum := 0.0
	for i := len(candles) - window - 1; i < len(candles)-1; i++ {
		sum += candles[i].Volume
	}
	avg := sum / float64(window)
	if avg <= 0 {
		return 1
	}
	return candles[len(candles)-1].Volume / avg
}

// avgQuoteVolume approximates per-bar quote turnover for the pre-filter.
func avgQuoteVolume(candles []market.Candle) float64 {
	if len(candles) == 0 {
		return 0
	}
	sum := 0.0
	for _, c := range candles {
		sum += c.Volume * c.Close
	}
	return sum / float64(len(candles))
}
