package api

import (
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"crypto-market-analyzer/internal/backtest"
	"crypto-market-analyzer/internal/market"
	"crypto-market-analyzer/internal/risk"
)

// handleHealth reports process liveness.
func (s *Server) handleHealth(c *gin.Context) {
	successResponse(c, gin.H{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// handleAnalysis runs the structure analysis + scoring pipeline for one
// symbol.
// GET /api/v1/analysis?symbol=BTCUSDT&timeframe=1h&limit=200
func (s *Server) handleAnalysis(c *gin.Context) {
	symbol := strings.ToUpper(strings.TrimSpace(c.Query("symbol")))
	if symbol == "" {
		errorResponse(c, market.NewValidationError("symbol is required"))
		return
	}
	tf, err := market.ParseTimeframe(c.DefaultQuery("timeframe", "1h"))
	if err != nil {
		errorResponse(c, err)
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "200"))
	if err != nil || limit <= 0 {
		errorResponse(c, market.NewValidationError("limit must be a positive integer"))
		return
	}

	candles, err := s.provider.Candles(c.Request.Context(), symbol, tf, limit)
	if err != nil {
		errorResponse(c, err)
		return
	}

	series := market.Series{Symbol: symbol, Timeframe: tf, Candles: candles}
	result, err := s.engine.Analyze(series)
	if err != nil {
		errorResponse(c, err)
		return
	}
	score, err := s.scorer.Score(result, candles)
	if err != nil {
		errorResponse(c, err)
		return
	}

	gaps := make([]gin.H, 0, len(result.FairValueGaps))
	for _, g := range result.FairValueGaps {
		gaps = append(gaps, gin.H{
			"upper":     g.Upper,
			"lower":     g.Lower,
			"side":      g.Side,
			"gap_size":  g.GapSize(),
			"timeframe": tf,
		})
	}

	successResponse(c, gin.H{
		"symbol":    symbol,
		"timeframe": tf,
		"timestamp": result.Timestamp,
		"analysis": gin.H{
			"trend":             score.Trend,
			"volatility":        score.Volatility,
			"confidence":        score.Confidence,
			"intelligent_score": score.IntelligentScore,
		},
		"order_blocks":         result.OrderBlocks,
		"fair_value_gaps":      gaps,
		"structure_events":     result.StructureEvents,
		"recommendation":       score.Recommendation,
		"technical_indicators": score.Indicators,
	})
}

// riskRequest is the POST /api/v1/risk body.
type riskRequest struct {
	Symbol         string    `json:"symbol"`
	Timeframe      string    `json:"timeframe"`
	PortfolioValue float64   `json:"portfolio_value"`
	EntryPrice     float64   `json:"entry_price"`
	StopLoss       float64   `json:"stop_loss"`
	RiskPercent    float64   `json:"risk_percent"`
	TradePnLs      []float64 `json:"trade_pnls"`
}

// handleRisk computes sizing, VaR and Kelly bounds for a proposed position.
func (s *Server) handleRisk(c *gin.Context) {
	var req riskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, market.NewValidationError("invalid request body: "+err.Error()))
		return
	}
	symbol := strings.ToUpper(strings.TrimSpace(req.Symbol))
	if symbol == "" {
		errorResponse(c, market.NewValidationError("symbol is required"))
		return
	}
	tf := market.Timeframe1d
	if req.Timeframe != "" {
		parsed, err := market.ParseTimeframe(req.Timeframe)
		if err != nil {
			errorResponse(c, err)
			return
		}
		tf = parsed
	}

	lookback := s.riskEng.Config().VolatilityLookback
	candles, err := s.provider.Candles(c.Request.Context(), symbol, tf, lookback+1)
	if err != nil {
		errorResponse(c, err)
		return
	}

	assessment, err := s.riskEng.Assess(risk.AssessmentInput{
		PortfolioValue: req.PortfolioValue,
		EntryPrice:     req.EntryPrice,
		StopLoss:       req.StopLoss,
		RiskPercent:    req.RiskPercent,
		Closes:         market.Closes(candles),
		TradePnLs:      req.TradePnLs,
	})
	if err != nil {
		errorResponse(c, err)
		return
	}

	successResponse(c, gin.H{
		"symbol": symbol,
		"risk_metrics": gin.H{
			"var_1d":       assessment.VaR.VaR95_1d,
			"var_7d":       assessment.VaR.VaR95_7d,
			"var_99_1d":    assessment.VaR.VaR99_1d,
			"var_99_7d":    assessment.VaR.VaR99_7d,
			"max_drawdown": assessment.MaxDrawdown,
			"volatility":   assessment.VaR.Volatility,
		},
		"position_sizing": gin.H{
			"quote_value":          assessment.Position.QuoteValue,
			"units":                assessment.Position.Units,
			"risk_amount":          assessment.Position.RiskAmount,
			"risk_percent":         assessment.Position.RiskPercent,
			"stop_distance":        assessment.Position.StopDistance,
			"kelly_fraction":       assessment.KellyFraction,
			"recommended_fraction": assessment.RecommendedFraction,
		},
		"risk_alerts": assessment.Alerts,
	})
}

// backtestRequest is the POST /api/v1/backtest body.
type backtestRequest struct {
	Symbol            string                  `json:"symbol"`
	Timeframe         string                  `json:"timeframe"`
	Strategy          backtest.StrategyConfig `json:"strategy"`
	InitialCapital    float64                 `json:"initial_capital"`
	From              *time.Time              `json:"from"`
	To                *time.Time              `json:"to"`
	StopLossPercent   float64                 `json:"stop_loss_percent"`
	TakeProfitPercent float64                 `json:"take_profit_percent"`
	EntryOnNextOpen   bool                    `json:"entry_on_next_open"`
	Limit             int                     `json:"limit"`
}

// handleBacktest replays a strategy over stored history and persists the run
// when a repository is configured.
func (s *Server) handleBacktest(c *gin.Context) {
	var req backtestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, market.NewValidationError("invalid request body: "+err.Error()))
		return
	}
	symbol := strings.ToUpper(strings.TrimSpace(req.Symbol))
	if symbol == "" {
		errorResponse(c, market.NewValidationError("symbol is required"))
		return
	}
	tf, err := market.ParseTimeframe(req.Timeframe)
	if err != nil {
		errorResponse(c, err)
		return
	}

	strategy, err := backtest.NewStrategy(req.Strategy)
	if err != nil {
		errorResponse(c, err)
		return
	}

	ctx := c.Request.Context()
	var candles []market.Candle
	if req.From != nil && req.To != nil {
		candles, err = s.provider.CandlesRange(ctx, symbol, tf, *req.From, *req.To)
	} else {
		limit := req.Limit
		if limit <= 0 {
			limit = 1000
		}
		candles, err = s.provider.Candles(ctx, symbol, tf, limit)
	}
	if err != nil {
		errorResponse(c, err)
		return
	}

	cfg := backtest.DefaultRunConfig(req.InitialCapital)
	cfg.StopLossPercent = req.StopLossPercent
	cfg.TakeProfitPercent = req.TakeProfitPercent
	cfg.EntryOnNextOpen = req.EntryOnNextOpen
	if req.From != nil {
		cfg.From = *req.From
	}
	if req.To != nil {
		cfg.To = *req.To
	}

	series := market.Series{Symbol: symbol, Timeframe: tf, Candles: candles}
	result, err := s.backtest.Run(series, strategy, cfg)
	if err != nil {
		errorResponse(c, err)
		return
	}

	if s.repo != nil {
		if _, err := s.repo.SaveBacktestResult(ctx, result); err != nil {
			s.logger.Error().Err(err).Str("run_id", result.RunID).Msg("failed to persist backtest result")
		}
	}

	m := result.Metrics
	successResponse(c, gin.H{
		"backtest_summary": gin.H{
			"run_id":          result.RunID,
			"symbol":          result.Symbol,
			"timeframe":       result.Timeframe,
			"strategy":        result.Strategy,
			"start_time":      result.StartTime,
			"end_time":        result.EndTime,
			"initial_capital": result.InitialCapital,
			"final_equity":    result.FinalEquity,
			"total_trades":    m.TotalTrades,
		},
		"performance_metrics": gin.H{
			"total_return":      m.TotalReturn,
			"annualized_return": m.AnnualizedReturn,
			"sharpe_ratio":      m.SharpeRatio,
			"sortino_ratio":     m.SortinoRatio,
			"calmar_ratio":      m.CalmarRatio,
			"win_rate":          m.WinRate,
			"avg_win":           m.AvgWin,
			"avg_loss":          m.AvgLoss,
			"profit_factor":     sanitizeRatio(m.ProfitFactor),
		},
		"risk_analysis": gin.H{
			"max_drawdown": m.MaxDrawdown,
			"volatility":   m.Volatility,
		},
		"trades":                   result.Trades,
		"optimization_suggestions": result.Suggestions,
	})
}

// handleScan fans the pipeline out over a symbol list.
// GET /api/v1/scan?symbols=BTCUSDT,ETHUSDT&timeframe=1h
func (s *Server) handleScan(c *gin.Context) {
	raw := c.Query("symbols")
	if raw == "" {
		errorResponse(c, market.NewValidationError("symbols is required (comma-separated list)"))
		return
	}
	var symbols []string
	for _, sym := range strings.Split(raw, ",") {
		if sym = strings.ToUpper(strings.TrimSpace(sym)); sym != "" {
			symbols = append(symbols, sym)
		}
	}

	result, err := s.scanner.Scan(c.Request.Context(), symbols)
	if err != nil {
		errorResponse(c, err)
		return
	}
	successResponse(c, result)
}

// sanitizeRatio renders non-finite ratios as a string so the JSON encoder
// never fails on +Inf.
func sanitizeRatio(v float64) any {
	if v != v {
		return nil
	}
	if v > 1e308 {
		return "inf"
	}
	return v
}
