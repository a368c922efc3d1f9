package oracle

import (
	"context"
	"fmt"
	"math/big"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"poolScope/internal/model"
)

// FeedReader reads the answer of an aggregator feed at a block.
type FeedReader interface {
	LatestAnswer(ctx context.Context, feed string, block uint64) (*big.Int, error)
}

// PriceSink stores samples, ignoring duplicates.
type PriceSink interface {
	InsertEthPrice(ctx context.Context, price model.EthPrice) (bool, error)
}

// HeadReader reports the chain head and block timestamps.
type HeadReader interface {
	LatestBlockNumber(ctx context.Context) (uint64, error)
	BlockTimestamp(ctx context.Context, blockNumber uint64) (uint64, error)
}

// Poller writes one sample per chain and sample interval.
type Poller struct {
	chainID uint64
	feed    string
	reader  FeedReader
	sink    PriceSink
	samples *prometheus.CounterVec
	logger  *zap.Logger

	mu   sync.Mutex
	last int64
}

func NewPoller(chainID uint64, feed string, reader FeedReader, sink PriceSink, samples *prometheus.CounterVec, logger *zap.Logger) *Poller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Poller{chainID: chainID, feed: feed, reader: reader, sink: sink, samples: samples, logger: logger, last: -1}
}

// Sample reads the feed at block and stores it under the aligned timestamp.
// It does nothing when the bucket of ts was already sampled by this poller.
func (p *Poller) Sample(ctx context.Context, block uint64, ts int64) error {
	if p.feed == "" {
		return nil
	}
	bucket := Align(ts)
	p.mu.Lock()
	done := bucket == p.last
	p.mu.Unlock()
	if done {
		return nil
	}

	answer, err := p.reader.LatestAnswer(ctx, p.feed, block)
	if err != nil {
		return fmt.Errorf("read eth/usd feed: %w", err)
	}
	if answer == nil || answer.Sign() <= 0 {
		return fmt.Errorf("read eth/usd feed: non-positive answer")
	}

	inserted, err := p.sink.InsertEthPrice(ctx, model.EthPrice{ChainID: p.chainID, Timestamp: bucket, Price: answer})
	if err != nil {
		return fmt.Errorf("store eth price: %w", err)
	}
	if inserted {
		if p.samples != nil {
			p.samples.WithLabelValues(chainLabel(p.chainID)).Inc()
		}
		p.logger.Debug("eth price sampled",
			zap.Uint64("chain_id", p.chainID),
			zap.Int64("ts", bucket),
			zap.String("price", answer.String()),
		)
	}

	p.mu.Lock()
	p.last = bucket
	p.mu.Unlock()
	return nil
}

// SampleHead samples the feed at the current chain head, so prices keep
// moving while no tracked logs arrive.
func (p *Poller) SampleHead(ctx context.Context, head HeadReader) error {
	if p.feed == "" {
		return nil
	}
	block, err := head.LatestBlockNumber(ctx)
	if err != nil {
		return fmt.Errorf("read head block: %w", err)
	}
	ts, err := head.BlockTimestamp(ctx, block)
	if err != nil {
		return fmt.Errorf("read head timestamp %d: %w", block, err)
	}
	return p.Sample(ctx, block, int64(ts))
}

// Run samples the head immediately and then every interval until ctx ends.
// Failures are logged and retried on the next tick.
func (p *Poller) Run(ctx context.Context, head HeadReader, interval time.Duration) error {
	if p.feed == "" {
		return nil
	}
	if interval <= 0 {
		interval = time.Duration(SampleInterval) * time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for ctx.Err() == nil {
		if err := p.SampleHead(ctx, head); err != nil && ctx.Err() == nil {
			p.logger.Warn("head price sample failed", zap.Uint64("chain_id", p.chainID), zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
	return nil
}

func chainLabel(chainID uint64) string {
	return strconv.FormatUint(chainID, 10)
}
