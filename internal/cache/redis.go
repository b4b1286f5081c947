package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisConfig holds the Redis backend connection settings.
type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	PoolSize int    `json:"pool_size"`
}

// RedisStore is a Store backed by Redis with graceful degradation: after
// repeated failures the circuit opens and every operation reports a miss
// until a background ping succeeds.
type RedisStore struct {
	client *redis.Client
	logger zerolog.Logger

	mu           sync.RWMutex
	healthy      bool
	failureCount int
	lastCheck    time.Time

	maxFailures   int
	checkInterval time.Duration
}

// NewRedisStore connects to Redis. An unreachable server yields a store in
// degraded mode, not an error: the cache must never block startup.
func NewRedisStore(cfg RedisConfig, logger zerolog.Logger) *RedisStore {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: 2,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	rs := &RedisStore{
		client:        client,
		logger:        logger.With().Str("component", "RedisCache").Logger(),
		maxFailures:   3,
		checkInterval: 30 * time.Second,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		rs.logger.Warn().Err(err).Str("address", cfg.Address).Msg("redis unreachable, cache starts degraded")
		return rs
	}

	rs.healthy = true
	rs.lastCheck = time.Now()
	rs.logger.Info().Str("address", cfg.Address).Msg("redis connected")
	return rs
}

// Get returns the value for key, or a miss when the key is absent or the
// circuit is open.
func (rs *RedisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	rs.checkHealth()
	if !rs.isHealthy() {
		return nil, false, nil
	}

	data, err := rs.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		rs.recordFailure()
		return nil, false, fmt.Errorf("redis get failed: %w", err)
	}
	rs.recordSuccess()
	return data, true, nil
}

// Set stores the value with TTL. With the circuit open the write is dropped
// silently.
func (rs *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	rs.checkHealth()
	if !rs.isHealthy() {
		return nil
	}

	if err := rs.client.Set(ctx, key, value, ttl).Err(); err != nil {
		rs.recordFailure()
		return fmt.Errorf("redis set failed: %w", err)
	}
	rs.recordSuccess()
	return nil
}

// Close closes the connection pool.
func (rs *RedisStore) Close() error {
	return rs.client.Close()
}

func (rs *RedisStore) isHealthy() bool {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	return rs.healthy
}

func (rs *RedisStore) recordFailure() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	rs.failureCount++
	if rs.failureCount >= rs.maxFailures {
		if rs.healthy {
			rs.logger.Warn().Int("failures", rs.failureCount).Msg("circuit open, redis marked unhealthy")
		}
		rs.healthy = false
	}
}

func (rs *RedisStore) recordSuccess() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if !rs.healthy {
		rs.logger.Info().Msg("circuit closed, redis recovered")
	}
	rs.healthy = true
	rs.failureCount = 0
	rs.lastCheck = time.Now()
}

// checkHealth schedules a background ping once the circuit has been open for
// the check interval.
func (rs *RedisStore) checkHealth() {
	rs.mu.RLock()
	shouldCheck := !rs.healthy && time.Since(rs.lastCheck) >= rs.checkInterval
	rs.mu.RUnlock()
	if !shouldCheck {
		return
	}

	rs.mu.Lock()
	rs.lastCheck = time.Now()
	rs.mu.Unlock()

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := rs.client.Ping(ctx).Err(); err == nil {
			rs.recordSuccess()
		}
	}()
}
