package storage

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"poolScope/internal/model"
)

// BatchSwapSink buffers swap points in memory and forwards them to the
// underlying sink when the buffer fills or the flush interval elapses.
// Failed flushes are logged and dropped; the sink is best effort.
type BatchSwapSink struct {
	next     SwapSink
	size     int
	interval time.Duration
	logger   *zap.Logger

	mu  sync.Mutex
	buf []model.SwapPoint
}

func NewBatchSwapSink(next SwapSink, size int, interval time.Duration, logger *zap.Logger) *BatchSwapSink {
	if size <= 0 {
		size = 500
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BatchSwapSink{next: next, size: size, interval: interval, logger: logger}
}

// PutSwapPoints queues points and flushes synchronously once the buffer is full.
func (b *BatchSwapSink) PutSwapPoints(ctx context.Context, points []model.SwapPoint) error {
	b.mu.Lock()
	b.buf = append(b.buf, points...)
	full := len(b.buf) >= b.size
	b.mu.Unlock()

	if full {
		return b.Flush(ctx)
	}
	return nil
}

// Flush forwards everything buffered so far.
func (b *BatchSwapSink) Flush(ctx context.Context) error {
	b.mu.Lock()
	pending := b.buf
	b.buf = nil
	b.mu.Unlock()

	if len(pending) == 0 {
		return nil
	}
	if err := b.next.PutSwapPoints(ctx, pending); err != nil {
		b.logger.Warn("swap sink flush failed", zap.Int("points", len(pending)), zap.Error(err))
		return err
	}
	return nil
}

// Run flushes on every interval until ctx is done, then flushes once more.
func (b *BatchSwapSink) Run(ctx context.Context) {
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			_ = b.Flush(flushCtx)
			cancel()
			return
		case <-ticker.C:
			_ = b.Flush(ctx)
		}
	}
}
