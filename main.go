package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"crypto-market-analyzer/config"
	"crypto-market-analyzer/internal/analysis"
	"crypto-market-analyzer/internal/api"
	"crypto-market-analyzer/internal/backtest"
	"crypto-market-analyzer/internal/cache"
	"crypto-market-analyzer/internal/database"
	"crypto-market-analyzer/internal/logging"
	"crypto-market-analyzer/internal/market"
	"crypto-market-analyzer/internal/risk"
	"crypto-market-analyzer/internal/scanner"
	sig "crypto-market-analyzer/internal/signal"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := logging.New(logging.Settings{
		Level:      cfg.LoggingConfig.Level,
		JSONFormat: cfg.LoggingConfig.JSONFormat,
	})
	logger.Info().Msg("starting crypto market analyzer")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	provider, repo, dbClose := buildProvider(ctx, cfg, logger)
	defer dbClose()

	analysisCache := buildCache(cfg, logger)
	defer analysisCache.Close()

	engine := analysis.NewEngine(cfg.AnalysisConfig, logger)
	scorer := sig.NewScorer(cfg.SignalConfig, logger)
	riskEngine := risk.NewEngine(cfg.RiskConfig, logger)
	backtestEngine := backtest.NewEngine(logger)
	marketScanner := scanner.New(provider, engine, scorer, analysisCache, cfg.ScannerConfig, logger)

	server := api.NewServer(
		api.ServerConfig{
			Host:            cfg.ServerConfig.Host,
			Port:            cfg.ServerConfig.Port,
			AllowedOrigins:  cfg.ServerConfig.AllowedOrigins,
			ReadTimeout:     time.Duration(cfg.ServerConfig.ReadTimeout) * time.Second,
			WriteTimeout:    time.Duration(cfg.ServerConfig.WriteTimeout) * time.Second,
			ShutdownTimeout: time.Duration(cfg.ServerConfig.ShutdownTimeout) * time.Second,
		},
		provider, engine, scorer, riskEngine, backtestEngine, marketScanner, repo,
		logger,
	)

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	select {
	case <-ctx.Done():
		logger.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			logger.Error().Err(err).Msg("server error")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(),
		time.Duration(cfg.ServerConfig.ShutdownTimeout)*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("shutdown failed")
	}
	logger.Info().Msg("stopped")
}

// buildProvider returns the candle store: the PostgreSQL repository when the
// database is enabled, otherwise an in-memory provider seeded from CSV files
// in the data directory. Either way the provider is wrapped with a timeout
// and the default retry policy at the collaborator boundary.
func buildProvider(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (market.CandleProvider, *database.Repository, func()) {
	if cfg.DatabaseConfig.Enabled {
		db, err := database.NewDB(cfg.DatabaseConfig, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("database connection failed")
		}
		if err := db.RunMigrations(ctx); err != nil {
			logger.Fatal().Err(err).Msg("database migrations failed")
		}
		repo := database.NewRepository(db)
		provider := market.WithRetry(
			market.WithTimeout(repo, 10*time.Second),
			market.DefaultRetryPolicy(),
		)
		return provider, repo, db.Close
	}

	mem := market.NewMemoryProvider()
	dataDir := os.Getenv("CANDLE_DATA_DIR")
	if dataDir == "" {
		dataDir = "data"
	}
	seedFromCSV(mem, dataDir, logger)
	return mem, nil, func() {}
}

// seedFromCSV loads every SYMBOL_TIMEFRAME.csv file under dir into the
// provider.
func seedFromCSV(mem *market.MemoryProvider, dir string, logger zerolog.Logger) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.csv"))
	if err != nil || len(paths) == 0 {
		logger.Warn().Str("dir", dir).Msg("no candle CSV files found; provider starts empty")
		return
	}
	for _, path := range paths {
		name := strings.TrimSuffix(filepath.Base(path), ".csv")
		parts := strings.Split(name, "_")
		if len(parts) != 2 {
			logger.Warn().Str("file", path).Msg("skipping file, expected SYMBOL_TIMEFRAME.csv")
			continue
		}
		tf, err := market.ParseTimeframe(parts[1])
		if err != nil {
			logger.Warn().Str("file", path).Err(err).Msg("skipping file")
			continue
		}
		candles, err := market.LoadCandlesCSV(path)
		if err != nil {
			logger.Warn().Str("file", path).Err(err).Msg("failed to load candles")
			continue
		}
		symbol := strings.ToUpper(parts[0])
		mem.Put(symbol, tf, candles)
		logger.Info().Str("symbol", symbol).Str("timeframe", string(tf)).Int("candles", len(candles)).Msg("loaded candle file")
	}
}

// buildCache selects the Redis backend when enabled, otherwise the bounded
// in-memory store.
func buildCache(cfg *config.Config, logger zerolog.Logger) *cache.AnalysisCache {
	ttl := time.Duration(cfg.CacheConfig.TTLSeconds) * time.Second
	if cfg.RedisConfig.Enabled {
		return cache.New(cache.NewRedisStore(cfg.RedisConfig, logger), ttl)
	}
	return cache.New(cache.NewMemoryStore(cfg.CacheConfig.Capacity, nil), ttl)
}
