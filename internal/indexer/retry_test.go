package indexer

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"poolScope/internal/model"
)

func TestRetryPolicyRetriesUntilSuccess(t *testing.T) {
	policy := newRetryPolicy(3, time.Millisecond)

	calls := 0
	var attempts []int
	err := policy.do(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("rpc unavailable")
		}
		return nil
	}, func(attempt int, _ time.Duration, _ error) {
		attempts = append(attempts, attempt)
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []int{1, 2}, attempts)
}

func TestRetryPolicyGivesUp(t *testing.T) {
	policy := newRetryPolicy(2, time.Millisecond)
	boom := errors.New("boom")

	calls := 0
	err := policy.do(context.Background(), func(context.Context) error {
		calls++
		return boom
	}, nil)

	require.ErrorIs(t, err, boom)
	assert.Equal(t, 3, calls)
}

func TestRetryPolicySkipsPermanentErrors(t *testing.T) {
	policy := newRetryPolicy(5, time.Millisecond)

	calls := 0
	err := policy.do(context.Background(), func(context.Context) error {
		calls++
		return fmt.Errorf("swap: %w", model.ErrMalformedEvent)
	}, func(int, time.Duration, error) {
		t.Fatal("permanent error must not be retried")
	})

	require.ErrorIs(t, err, model.ErrMalformedEvent)
	assert.Equal(t, 1, calls)
}

func TestRetryPolicyStopsOnCancel(t *testing.T) {
	policy := newRetryPolicy(10, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())

	err := policy.do(ctx, func(context.Context) error {
		return errors.New("transient")
	}, func(int, time.Duration, error) {
		cancel()
	})

	require.ErrorIs(t, err, context.Canceled)
}

func TestRetryPolicyBackoffDoubles(t *testing.T) {
	policy := newRetryPolicy(3, time.Millisecond)

	var delays []time.Duration
	_ = policy.do(context.Background(), func(context.Context) error {
		return errors.New("transient")
	}, func(_ int, delay time.Duration, _ error) {
		delays = append(delays, delay)
	})

	assert.Equal(t, []time.Duration{time.Millisecond, 2 * time.Millisecond, 4 * time.Millisecond}, delays)
}
