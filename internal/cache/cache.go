// Package cache provides the TTL-bound read-through cache that sits in front
// of the structure analysis engine. Entries are immutable once written and
// expire by time, never by explicit invalidation.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"sort"
	"sync"
	"time"

	"crypto-market-analyzer/internal/market"
)

// Clock supplies the current time. Injected so expiry is testable.
type Clock func() time.Time

// Store is a byte-level TTL cache backend. Get returns (nil, false, nil) on a
// miss; backend failures surface as errors so callers can degrade to
// recomputation.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Close() error
}

// Key builds the cache key for an analysis result: symbol, timeframe and a
// hash of the engine parameters, so tuning changes never serve stale shapes.
func Key(symbol string, tf market.Timeframe, params any) string {
	return fmt.Sprintf("analysis:%s:%s:%s", symbol, tf, paramHash(params))
}

// paramHash produces a short stable digest of a parameter struct via its JSON
// encoding. Struct field order is fixed, so the encoding is deterministic.
func paramHash(params any) string {
	data, err := json.Marshal(params)
	if err != nil {
		return "noparams"
	}
	h := fnv.New64a()
	h.Write(data)
	return fmt.Sprintf("%016x", h.Sum64())
}

// AnalysisCache is the typed read-through layer: JSON codec over a Store with
// a single TTL. A nil AnalysisCache is a valid no-op cache.
type AnalysisCache struct {
	store Store
	ttl   time.Duration
}

// New creates an analysis cache over the given backend.
func New(store Store, ttl time.Duration) *AnalysisCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &AnalysisCache{store: store, ttl: ttl}
}

// GetJSON loads and decodes a cached value into dest. A backend failure is
// reported as a miss; the caller recomputes.
func (c *AnalysisCache) GetJSON(ctx context.Context, key string, dest any) bool {
	if c == nil || c.store == nil {
		return false
	}
	data, ok, err := c.store.Get(ctx, key)
	if err != nil || !ok {
		return false
	}
	return json.Unmarshal(data, dest) == nil
}

// SetJSON encodes and stores a value under the cache TTL. Failures are
// swallowed: the cache is an optimization, never a dependency.
func (c *AnalysisCache) SetJSON(ctx context.Context, key string, value any) {
	if c == nil || c.store == nil {
		return
	}
	data, err := json.Marshal(value)
	if err != nil {
		return
	}
	_ = c.store.Set(ctx, key, data, c.ttl)
}

// Close releases the backend.
func (c *AnalysisCache) Close() error {
	if c == nil || c.store == nil {
		return nil
	}
	return c.store.Close()
}

// memoryEntry pairs a value with its absolute expiry.
type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

// MemoryStore is an in-process Store with lazy expiry and a capacity bound.
// Constructed once per process and passed by reference; never a module
// global.
type MemoryStore struct {
	mu       sync.RWMutex
	entries  map[string]memoryEntry
	capacity int
	clock    Clock
}

// NewMemoryStore creates a bounded in-memory store. A nil clock uses
// time.Now.
func NewMemoryStore(capacity int, clock Clock) *MemoryStore {
	if capacity <= 0 {
		capacity = 1024
	}
	if clock == nil {
		clock = time.Now
	}
	return &MemoryStore{
		entries:  make(map[string]memoryEntry),
		capacity: capacity,
		clock:    clock,
	}
}

// Get returns the live value for key, expiring it lazily.
func (m *MemoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.RLock()
	entry, ok := m.entries[key]
	m.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	if m.clock().After(entry.expiresAt) {
		m.mu.Lock()
		delete(m.entries, key)
		m.mu.Unlock()
		return nil, false, nil
	}
	return entry.value, true, nil
}

// Set stores the value, evicting expired then earliest-expiring entries when
// over capacity.
func (m *MemoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock()
	if len(m.entries) >= m.capacity {
		m.evictLocked(now)
	}
	m.entries[key] = memoryEntry{value: value, expiresAt: now.Add(ttl)}
	return nil
}

// evictLocked drops expired entries, then the earliest-expiring ones until a
// slot is free. Caller holds the write lock.
func (m *MemoryStore) evictLocked(now time.Time) {
	for k, e := range m.entries {
		if now.After(e.expiresAt) {
			delete(m.entries, k)
		}
	}
	if len(m.entries) < m.capacity {
		return
	}

	type victim struct {
		key       string
		expiresAt time.Time
	}
	victims := make([]victim, 0, len(m.entries))
	for k, e := range m.entries {
		victims = append(victims, victim{k, e.expiresAt})
	}
	sort.Slice(victims, func(i, j int) bool { return victims[i].expiresAt.Before(victims[j].expiresAt) })
	for i := 0; i < len(victims) && len(m.entries) >= m.capacity; i++ {
		delete(m.entries, victims[i].key)
	}
}

// Len returns the current entry count.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Close is a no-op for the memory backend.
func (m *MemoryStore) Close() error { return nil }
