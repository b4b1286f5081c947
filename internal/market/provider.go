package market

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// CandleProvider is the Candle Store collaborator contract. Implementations
// must deliver ascending-timestamp, duplicate-free series; this core never
// fetches raw market data itself.
type CandleProvider interface {
	// Candles returns the most recent candles for the symbol/timeframe,
	// up to limit bars.
	Candles(ctx context.Context, symbol string, timeframe Timeframe, limit int) ([]Candle, error)

	// CandlesRange returns candles with open times in [from, to).
	CandlesRange(ctx context.Context, symbol string, timeframe Timeframe, from, to time.Time) ([]Candle, error)
}

// RetryPolicy describes how provider calls are retried. It is applied at the
// collaborator boundary only, never inside analysis logic.
type RetryPolicy struct {
	MaxAttempts     uint
	InitialInterval time.Duration
	MaxInterval     time.Duration

	// Retryable decides whether an error is worth another attempt.
	// ValidationError and DataError never are.
	Retryable func(error) bool
}

// DefaultRetryPolicy retries transient provider failures a few times with
// exponential backoff.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     3,
		InitialInterval: 200 * time.Millisecond,
		MaxInterval:     2 * time.Second,
		Retryable: func(err error) bool {
			return errors.Is(err, ErrAPI)
		},
	}
}

// timeoutProvider bounds every provider call with a deadline and maps the
// deadline hit to an APIError for that call only.
type timeoutProvider struct {
	next    CandleProvider
	timeout time.Duration
}

// WithTimeout wraps a provider so each fetch is bounded by timeout.
func WithTimeout(next CandleProvider, timeout time.Duration) CandleProvider {
	return &timeoutProvider{next: next, timeout: timeout}
}

func (p *timeoutProvider) Candles(ctx context.Context, symbol string, timeframe Timeframe, limit int) ([]Candle, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	candles, err := p.next.Candles(ctx, symbol, timeframe, limit)
	return candles, mapDeadline(err)
}

func (p *timeoutProvider) CandlesRange(ctx context.Context, symbol string, timeframe Timeframe, from, to time.Time) ([]Candle, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	candles, err := p.next.CandlesRange(ctx, symbol, timeframe, from, to)
	return candles, mapDeadline(err)
}

func mapDeadline(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return NewAPIError("candle fetch timed out: " + err.Error())
	}
	return err
}

// retryProvider applies a RetryPolicy to provider calls.
type retryProvider struct {
	next   CandleProvider
	policy RetryPolicy
}

// WithRetry wraps a provider with the given retry policy.
func WithRetry(next CandleProvider, policy RetryPolicy) CandleProvider {
	return &retryProvider{next: next, policy: policy}
}

func (p *retryProvider) Candles(ctx context.Context, symbol string, timeframe Timeframe, limit int) ([]Candle, error) {
	var candles []Candle
	err := p.retry(ctx, func() error {
		var err error
		candles, err = p.next.Candles(ctx, symbol, timeframe, limit)
		return err
	})
	return candles, err
}

func (p *retryProvider) CandlesRange(ctx context.Context, symbol string, timeframe Timeframe, from, to time.Time) ([]Candle, error) {
	var candles []Candle
	err := p.retry(ctx, func() error {
		var err error
		candles, err = p.next.CandlesRange(ctx, symbol, timeframe, from, to)
		return err
	})
	return candles, err
}

func (p *retryProvider) retry(ctx context.Context, op func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.policy.InitialInterval
	b.MaxInterval = p.policy.MaxInterval

	wrapped := func() error {
		err := op()
		if err == nil {
			return nil
		}
		if p.policy.Retryable != nil && !p.policy.Retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	maxRetries := uint64(0)
	if p.policy.MaxAttempts > 1 {
		maxRetries = uint64(p.policy.MaxAttempts - 1)
	}
	return backoff.Retry(wrapped,
		backoff.WithContext(backoff.WithMaxRetries(b, maxRetries), ctx))
}

// MemoryProvider serves candles from in-memory series. Used by tests, the
// backtester CLI and anywhere a fixed historical window is replayed.
type MemoryProvider struct {
	series map[string][]Candle // key: symbol|timeframe
}

// NewMemoryProvider creates an empty in-memory provider.
func NewMemoryProvider() *MemoryProvider {
	return &MemoryProvider{series: make(map[string][]Candle)}
}

// Put stores a candle series for a symbol/timeframe, replacing any previous one.
func (m *MemoryProvider) Put(symbol string, timeframe Timeframe, candles []Candle) {
	m.series[memoryKey(symbol, timeframe)] = candles
}

func (m *MemoryProvider) Candles(_ context.Context, symbol string, timeframe Timeframe, limit int) ([]Candle, error) {
	candles, ok := m.series[memoryKey(symbol, timeframe)]
	if !ok {
		return nil, NewDataError(fmt.Sprintf("no candles stored for %s %s", symbol, timeframe))
	}
	if limit > 0 && len(candles) > limit {
		candles = candles[len(candles)-limit:]
	}
	out := make([]Candle, len(candles))
	copy(out, candles)
	return out, nil
}

func (m *MemoryProvider) CandlesRange(_ context.Context, symbol string, timeframe Timeframe, from, to time.Time) ([]Candle, error) {
	candles, ok := m.series[memoryKey(symbol, timeframe)]
	if !ok {
		return nil, NewDataError(fmt.Sprintf("no candles stored for %s %s", symbol, timeframe))
	}
	var out []Candle
	for _, c := range candles {
		if !c.OpenTime.Before(from) && c.OpenTime.Before(to) {
			out = append(out, c)
		}
	}
	if len(out) == 0 {
		return nil, NewDataError(fmt.Sprintf("no candles for %s %s in requested range", symbol, timeframe))
	}
	return out, nil
}

func memoryKey(symbol string, timeframe Timeframe) string {
	return symbol + "|" + string(timeframe)
}
