// Package oracle resolves ETH/USD prices from stored feed samples.
package oracle

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"poolScope/internal/model"
	"poolScope/internal/storage"
)

const (
	// SampleInterval is the alignment of stored samples.
	SampleInterval int64 = 300
	// DefaultLookback bounds how old a sample may be.
	DefaultLookback = 10 * time.Minute

	maxMemo = 4096
)

// PriceSource is the store read used by the cache.
type PriceSource interface {
	LatestEthPrice(ctx context.Context, chainID uint64, from, to int64) (model.EthPrice, error)
}

// Cache answers PriceAt from stored samples, memoizing hits per sample bucket.
type Cache struct {
	src      PriceSource
	lookback int64
	timeout  time.Duration
	misses   *prometheus.CounterVec
	logger   *zap.Logger

	mu   sync.Mutex
	memo map[memoKey]*big.Int
}

type memoKey struct {
	chainID uint64
	bucket  int64
}

// Option configures a Cache.
type Option func(*Cache)

// WithLookback sets how old a sample may be and still answer PriceAt.
func WithLookback(d time.Duration) Option {
	return func(c *Cache) {
		if d > 0 {
			c.lookback = int64(d / time.Second)
		}
	}
}

// WithTimeout bounds each store lookup.
func WithTimeout(d time.Duration) Option {
	return func(c *Cache) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithMissCounter counts lookups that found no sample, labelled by chain.
func WithMissCounter(vec *prometheus.CounterVec) Option {
	return func(c *Cache) { c.misses = vec }
}

// WithLogger sets the logger for failed lookups.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Cache) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewCache returns a Cache reading samples from src.
func NewCache(src PriceSource, opts ...Option) *Cache {
	c := &Cache{
		src:      src,
		lookback: int64(DefaultLookback / time.Second),
		timeout:  2 * time.Second,
		logger:   zap.NewNop(),
		memo:     make(map[memoKey]*big.Int),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Align floors ts to the sample interval.
func Align(ts int64) int64 {
	r := ts % SampleInterval
	if r < 0 {
		r += SampleInterval
	}
	return ts - r
}

// PriceAt returns the newest sample in [ts-lookback, ts]. ok is false when
// there is none or the store did not answer in time.
func (c *Cache) PriceAt(ctx context.Context, chainID uint64, ts int64) (*big.Int, bool) {
	key := memoKey{chainID: chainID, bucket: Align(ts)}
	c.mu.Lock()
	if p, ok := c.memo[key]; ok {
		c.mu.Unlock()
		return new(big.Int).Set(p), true
	}
	c.mu.Unlock()

	lookupCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	sample, err := c.src.LatestEthPrice(lookupCtx, chainID, ts-c.lookback, ts)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			c.logger.Warn("eth price lookup failed", zap.Uint64("chain_id", chainID), zap.Int64("ts", ts), zap.Error(err))
		}
		if c.misses != nil {
			c.misses.WithLabelValues(chainLabel(chainID)).Inc()
		}
		return nil, false
	}
	if sample.Price == nil || sample.Price.Sign() <= 0 {
		return nil, false
	}

	// Only memoize once the bucket's own sample exists, so an early miss is retried.
	if sample.Timestamp >= key.bucket {
		c.mu.Lock()
		if len(c.memo) >= maxMemo {
			c.memo = make(map[memoKey]*big.Int)
		}
		c.memo[key] = new(big.Int).Set(sample.Price)
		c.mu.Unlock()
	}
	return new(big.Int).Set(sample.Price), true
}
