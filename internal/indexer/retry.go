package indexer

import (
	"context"
	"errors"
	"time"

	"poolScope/internal/aggregate"
	"poolScope/internal/model"
)

const maxRetryDelay = 30 * time.Second

// retryPolicy retries transient RPC and store failures with exponential backoff.
type retryPolicy struct {
	maxRetries int
	baseDelay  time.Duration
}

func newRetryPolicy(maxRetries int, baseDelay time.Duration) retryPolicy {
	if maxRetries < 0 {
		maxRetries = 0
	}
	if baseDelay <= 0 {
		baseDelay = 100 * time.Millisecond
	}
	return retryPolicy{maxRetries: maxRetries, baseDelay: baseDelay}
}

// permanent reports errors a retry cannot fix.
func permanent(err error) bool {
	return errors.Is(err, context.Canceled) ||
		errors.Is(err, model.ErrMalformedEvent) ||
		errors.Is(err, aggregate.ErrInvariantViolation)
}

// do calls fn until it succeeds, fails permanently, ctx ends or the retries
// are used up. onRetry, when set, sees every failure that will be retried.
func (p retryPolicy) do(ctx context.Context, fn func(context.Context) error, onRetry func(attempt int, delay time.Duration, err error)) error {
	delay := p.baseDelay
	for attempt := 0; ; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if attempt >= p.maxRetries || permanent(err) {
			return err
		}
		if onRetry != nil {
			onRetry(attempt+1, delay, err)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		delay = min(delay*2, maxRetryDelay)
	}
}
