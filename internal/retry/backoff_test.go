package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"pingup/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastConfig(attempts int) BackoffConfig {
	return BackoffConfig{
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2,
		MaxAttempts:  attempts,
	}
}

func TestDefaultBackoffConfig(t *testing.T) {
	cfg := DefaultBackoffConfig()
	assert.Equal(t, 100*time.Millisecond, cfg.InitialDelay)
	assert.Equal(t, 30*time.Second, cfg.MaxDelay)
	assert.Equal(t, 2.0, cfg.Multiplier)
	assert.Equal(t, 5, cfg.MaxAttempts)
	assert.True(t, cfg.Jitter)
}

func TestConfigFrom(t *testing.T) {
	cfg := ConfigFrom(models.RetryConfig{InitialBackoffMs: 250, MaxBackoffMs: 4000, MaxAttempts: 7})
	assert.Equal(t, 250*time.Millisecond, cfg.InitialDelay)
	assert.Equal(t, 4*time.Second, cfg.MaxDelay)
	assert.Equal(t, 7, cfg.MaxAttempts)

	assert.Equal(t, DefaultBackoffConfig(), ConfigFrom(models.RetryConfig{}))
}

func TestBackoff_SuccessAfterRetries(t *testing.T) {
	b := NewBackoff(fastConfig(5))
	calls := 0

	err := b.Retry(context.Background(), func() error {
		calls++
		if calls < 3 {
			return errors.New("temporary")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestBackoff_FailureAfterMaxAttempts(t *testing.T) {
	b := NewBackoff(fastConfig(3))
	sentinel := errors.New("still failing")
	var retries []int

	attempts, err := b.Do(context.Background(), func(int) error { return sentinel }, nil,
		func(attempt int, err error, delay time.Duration) {
			retries = append(retries, attempt)
			assert.ErrorIs(t, err, sentinel)
			assert.LessOrEqual(t, delay, 5*time.Millisecond)
		})

	assert.ErrorIs(t, err, sentinel)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, []int{1, 2}, retries, "no wait after the last attempt")
}

func TestBackoff_NonRetryableStopsImmediately(t *testing.T) {
	b := NewBackoff(fastConfig(5))
	permanent := errors.New("permanent")
	calls := 0

	err := b.RetryWithPredicate(context.Background(), func() error {
		calls++
		return permanent
	}, func(err error) bool { return !errors.Is(err, permanent) })

	assert.ErrorIs(t, err, permanent)
	assert.Equal(t, 1, calls)
}

func TestBackoff_ContextCancellation(t *testing.T) {
	b := NewBackoff(BackoffConfig{InitialDelay: time.Hour, MaxDelay: time.Hour, Multiplier: 2, MaxAttempts: 3})
	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	err := b.Retry(ctx, func() error { return errors.New("fail") })

	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), time.Second)
}

func TestBackoff_CancelledBeforeFirstAttempt(t *testing.T) {
	b := NewBackoff(fastConfig(3))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	attempts, err := b.Do(ctx, func(int) error { called = true; return nil }, nil, nil)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, attempts)
	assert.False(t, called)
}

func TestBackoff_ExponentialDelays(t *testing.T) {
	b := NewBackoff(BackoffConfig{InitialDelay: 100 * time.Millisecond, MaxDelay: time.Second, Multiplier: 2, MaxAttempts: 10})

	assert.Equal(t, 100*time.Millisecond, b.GetNextDelay(1))
	assert.Equal(t, 200*time.Millisecond, b.GetNextDelay(2))
	assert.Equal(t, 400*time.Millisecond, b.GetNextDelay(3))
	assert.Equal(t, time.Second, b.GetNextDelay(5))
	assert.Equal(t, time.Second, b.GetNextDelay(60))
}

func TestBackoff_JitterBounds(t *testing.T) {
	b := NewBackoff(BackoffConfig{InitialDelay: 100 * time.Millisecond, MaxDelay: time.Second, Multiplier: 2, MaxAttempts: 5, Jitter: true})

	for i := 0; i < 200; i++ {
		d := b.GetNextDelay(2)
		assert.GreaterOrEqual(t, d, 150*time.Millisecond)
		assert.LessOrEqual(t, d, 250*time.Millisecond)
	}
}

func TestNewBackoff_ClampsConfig(t *testing.T) {
	b := NewBackoff(BackoffConfig{InitialDelay: time.Millisecond, MaxDelay: time.Millisecond})
	assert.Equal(t, 1, b.MaxAttempts())
	assert.Equal(t, time.Millisecond, b.GetNextDelay(4))
}

func TestSecureFloat64Range(t *testing.T) {
	for i := 0; i < 1000; i++ {
		v := secureFloat64()
		assert.GreaterOrEqual(t, v, 0.0)
		assert.Less(t, v, 1.0)
	}
}
