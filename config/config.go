// Package config loads the application configuration from config.json with
// environment variable overrides.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"crypto-market-analyzer/internal/analysis"
	"crypto-market-analyzer/internal/cache"
	"crypto-market-analyzer/internal/database"
	"crypto-market-analyzer/internal/risk"
	"crypto-market-analyzer/internal/scanner"
	"crypto-market-analyzer/internal/signal"
)

// Config is the full application configuration.
type Config struct {
	ServerConfig   ServerConfig      `json:"server"`
	AnalysisConfig analysis.Config   `json:"analysis"`
	SignalConfig   signal.Config     `json:"signal"`
	RiskConfig     risk.Config       `json:"risk"`
	ScannerConfig  scanner.Config    `json:"scanner"`
	CacheConfig    CacheConfig       `json:"cache"`
	RedisConfig    cache.RedisConfig `json:"redis"`
	DatabaseConfig database.Config   `json:"database"`
	LoggingConfig  LoggingConfig     `json:"logging"`
}

// ServerConfig holds the HTTP server settings.
type ServerConfig struct {
	Host            string `json:"host"`
	Port            int    `json:"port"`
	AllowedOrigins  string `json:"allowed_origins"`
	ReadTimeout     int    `json:"read_timeout"`     // seconds
	WriteTimeout    int    `json:"write_timeout"`    // seconds
	ShutdownTimeout int    `json:"shutdown_timeout"` // seconds
}

// CacheConfig holds the analysis cache settings.
type CacheConfig struct {
	TTLSeconds int `json:"ttl_seconds"`
	Capacity   int `json:"capacity"` // memory backend only
}

// LoggingConfig holds logger settings.
type LoggingConfig struct {
	Level      string `json:"level"`       // debug, info, warn, error
	JSONFormat bool   `json:"json_format"` // JSON output; false uses console writer
}

// Load reads config.json if present and applies environment overrides on
// top. Environment variables always take precedence.
func Load() (*Config, error) {
	cfg, err := loadFromFile("config.json")
	if err != nil {
		cfg = &Config{}
	}

	applyEnvOverrides(cfg)
	applyDefaults(cfg)

	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	cfg.ServerConfig.Host = getEnvOrDefault("SERVER_HOST", cfg.ServerConfig.Host)
	cfg.ServerConfig.Port = getEnvIntOrDefault("SERVER_PORT", cfg.ServerConfig.Port)
	cfg.ServerConfig.AllowedOrigins = getEnvOrDefault("SERVER_ALLOWED_ORIGINS", cfg.ServerConfig.AllowedOrigins)

	cfg.LoggingConfig.Level = getEnvOrDefault("LOG_LEVEL", cfg.LoggingConfig.Level)
	if v := os.Getenv("LOG_JSON"); v != "" {
		cfg.LoggingConfig.JSONFormat = v == "true"
	}

	if v := os.Getenv("REDIS_ENABLED"); v != "" {
		cfg.RedisConfig.Enabled = v == "true"
	}
	cfg.RedisConfig.Address = getEnvOrDefault("REDIS_ADDRESS", cfg.RedisConfig.Address)
	cfg.RedisConfig.Password = getEnvOrDefault("REDIS_PASSWORD", cfg.RedisConfig.Password)
	cfg.RedisConfig.DB = getEnvIntOrDefault("REDIS_DB", cfg.RedisConfig.DB)
	cfg.RedisConfig.PoolSize = getEnvIntOrDefault("REDIS_POOL_SIZE", cfg.RedisConfig.PoolSize)

	if v := os.Getenv("DATABASE_ENABLED"); v != "" {
		cfg.DatabaseConfig.Enabled = v == "true"
	}
	cfg.DatabaseConfig.Host = getEnvOrDefault("DATABASE_HOST", cfg.DatabaseConfig.Host)
	cfg.DatabaseConfig.Port = getEnvIntOrDefault("DATABASE_PORT", cfg.DatabaseConfig.Port)
	cfg.DatabaseConfig.User = getEnvOrDefault("DATABASE_USER", cfg.DatabaseConfig.User)
	cfg.DatabaseConfig.Password = getEnvOrDefault("DATABASE_PASSWORD", cfg.DatabaseConfig.Password)
	cfg.DatabaseConfig.Database = getEnvOrDefault("DATABASE_NAME", cfg.DatabaseConfig.Database)
	cfg.DatabaseConfig.SSLMode = getEnvOrDefault("DATABASE_SSLMODE", cfg.DatabaseConfig.SSLMode)

	cfg.ScannerConfig.MaxConcurrency = getEnvIntOrDefault("SCANNER_MAX_CONCURRENCY", cfg.ScannerConfig.MaxConcurrency)
	cfg.ScannerConfig.TopN = getEnvIntOrDefault("SCANNER_TOP_N", cfg.ScannerConfig.TopN)
	cfg.ScannerConfig.MinQuoteVolume = getEnvFloatOrDefault("SCANNER_MIN_QUOTE_VOLUME", cfg.ScannerConfig.MinQuoteVolume)

	cfg.CacheConfig.TTLSeconds = getEnvIntOrDefault("CACHE_TTL_SECONDS", cfg.CacheConfig.TTLSeconds)

	cfg.RiskConfig.DefaultRiskPercent = getEnvFloatOrDefault("RISK_DEFAULT_PERCENT", cfg.RiskConfig.DefaultRiskPercent)
	cfg.RiskConfig.KellyCap = getEnvFloatOrDefault("RISK_KELLY_CAP", cfg.RiskConfig.KellyCap)
}

func applyDefaults(cfg *Config) {
	if cfg.ServerConfig.Host == "" {
		cfg.ServerConfig.Host = "0.0.0.0"
	}
	if cfg.ServerConfig.Port == 0 {
		cfg.ServerConfig.Port = 8080
	}
	if cfg.ServerConfig.AllowedOrigins == "" {
		cfg.ServerConfig.AllowedOrigins = "*"
	}
	if cfg.ServerConfig.ReadTimeout == 0 {
		cfg.ServerConfig.ReadTimeout = 30
	}
	if cfg.ServerConfig.WriteTimeout == 0 {
		cfg.ServerConfig.WriteTimeout = 30
	}
	if cfg.ServerConfig.ShutdownTimeout == 0 {
		cfg.ServerConfig.ShutdownTimeout = 10
	}
	if cfg.LoggingConfig.Level == "" {
		cfg.LoggingConfig.Level = "info"
	}
	if cfg.CacheConfig.TTLSeconds == 0 {
		cfg.CacheConfig.TTLSeconds = 300
	}
	if cfg.CacheConfig.Capacity == 0 {
		cfg.CacheConfig.Capacity = 1024
	}
	if cfg.DatabaseConfig.SSLMode == "" {
		cfg.DatabaseConfig.SSLMode = "disable"
	}
}

func loadFromFile(filename string) (*Config, error) {
	file, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var config Config
	if err := json.Unmarshal(file, &config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return &config, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}
