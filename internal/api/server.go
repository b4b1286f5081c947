// Package api exposes the analysis, risk, backtest and scan operations over
// HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"crypto-market-analyzer/internal/analysis"
	"crypto-market-analyzer/internal/backtest"
	"crypto-market-analyzer/internal/database"
	"crypto-market-analyzer/internal/market"
	"crypto-market-analyzer/internal/risk"
	"crypto-market-analyzer/internal/scanner"
	"crypto-market-analyzer/internal/signal"
)

// ServerConfig holds the HTTP server settings.
type ServerConfig struct {
	Host            string
	Port            int
	AllowedOrigins  string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// Server is the HTTP API server. repo may be nil when persistence is
// disabled; backtest results are then returned but not stored.
type Server struct {
	router     *gin.Engine
	httpServer *http.Server
	config     ServerConfig

	provider market.CandleProvider
	engine   *analysis.Engine
	scorer   *signal.Scorer
	riskEng  *risk.Engine
	backtest *backtest.Engine
	scanner  *scanner.Scanner
	repo     *database.Repository

	logger zerolog.Logger
}

// NewServer wires the HTTP layer over the core components.
func NewServer(
	config ServerConfig,
	provider market.CandleProvider,
	engine *analysis.Engine,
	scorer *signal.Scorer,
	riskEng *risk.Engine,
	backtestEng *backtest.Engine,
	marketScanner *scanner.Scanner,
	repo *database.Repository,
	logger zerolog.Logger,
) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		router:   gin.New(),
		config:   config,
		provider: provider,
		engine:   engine,
		scorer:   scorer,
		riskEng:  riskEng,
		backtest: backtestEng,
		scanner:  marketScanner,
		repo:     repo,
		logger:   logger.With().Str("component", "APIServer").Logger(),
	}

	s.router.Use(gin.Recovery())
	s.router.Use(s.requestLogger())
	s.router.Use(cors.New(corsConfig(config.AllowedOrigins)))
	s.registerRoutes()

	return s
}

func corsConfig(allowedOrigins string) cors.Config {
	cfg := cors.DefaultConfig()
	if allowedOrigins == "" || allowedOrigins == "*" {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = strings.Split(allowedOrigins, ",")
	}
	cfg.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	cfg.AllowHeaders = []string{"Origin", "Content-Type", "Accept"}
	return cfg
}

func (s *Server) registerRoutes() {
	v1 := s.router.Group("/api/v1")
	{
		v1.GET("/health", s.handleHealth)
		v1.GET("/analysis", s.handleAnalysis)
		v1.POST("/risk", s.handleRisk)
		v1.POST("/backtest", s.handleBacktest)
		v1.GET("/scan", s.handleScan)
	}
}

// requestLogger logs one line per request.
func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Info().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("duration", time.Since(start)).
			Msg("request")
	}
}

// Start runs the server until the listener fails.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	s.logger.Info().Str("addr", addr).Msg("API server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// Router exposes the handler for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

// httpStatus maps the error taxonomy onto HTTP status codes: bad input 400,
// insufficient data 422, upstream failures 502, anything else 500.
func httpStatus(err error) int {
	switch {
	case errors.Is(err, market.ErrValidation), errors.Is(err, market.ErrCalculation):
		return http.StatusBadRequest
	case errors.Is(err, market.ErrData):
		return http.StatusUnprocessableEntity
	case errors.Is(err, market.ErrAPI):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// errorResponse sends a failure body with the taxonomy-mapped status.
func errorResponse(c *gin.Context, err error) {
	c.JSON(httpStatus(err), gin.H{
		"error":   true,
		"message": err.Error(),
	})
}

// successResponse sends a success body.
func successResponse(c *gin.Context, data any) {
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    data,
	})
}
