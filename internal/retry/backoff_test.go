package retry

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"chatbridge/internal/errors"

	"github.com/stretchr/testify/assert"
)

func fastConfig(attempts int) BackoffConfig {
	return BackoffConfig{
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
		MaxAttempts:  attempts,
	}
}

func retryable(msg string) error {
	return errors.WrapRetryable(stderrors.New(msg), errors.ErrCodeStorageWrite, "write failed")
}

func TestDefaultBackoffConfig(t *testing.T) {
	config := DefaultBackoffConfig()
	assert.Equal(t, 200*time.Millisecond, config.InitialDelay)
	assert.Equal(t, 2*time.Second, config.MaxDelay)
	assert.Equal(t, 3, config.MaxAttempts)
	assert.True(t, config.Jitter)
}

func TestBackoff_SuccessFirstAttempt(t *testing.T) {
	attempts := 0
	err := NewBackoff(fastConfig(3)).Retry(context.Background(), func() error {
		attempts++
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 1, attempts)
}

func TestBackoff_RetriesRetryableErrors(t *testing.T) {
	attempts := 0
	err := NewBackoff(fastConfig(3)).Retry(context.Background(), func() error {
		attempts++
		if attempts < 3 {
			return retryable("database is locked")
		}
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestBackoff_StopsOnNonRetryable(t *testing.T) {
	attempts := 0
	permanent := errors.New(errors.ErrCodeStorageWrite, "disk full")
	err := NewBackoff(fastConfig(5)).Retry(context.Background(), func() error {
		attempts++
		return permanent
	})

	assert.Equal(t, permanent, err)
	assert.Equal(t, 1, attempts)
}

func TestBackoff_ReturnsLastErrorWhenExhausted(t *testing.T) {
	attempts := 0
	err := NewBackoff(fastConfig(2)).Retry(context.Background(), func() error {
		attempts++
		return retryable("busy")
	})

	assert.Error(t, err)
	assert.True(t, errors.IsRetryable(err))
	assert.Equal(t, 2, attempts)
}

func TestBackoff_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	attempts := 0
	err := NewBackoff(fastConfig(3)).Retry(ctx, func() error {
		attempts++
		return nil
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, attempts)
}

func TestBackoff_RetryWithPredicate(t *testing.T) {
	attempts := 0
	err := NewBackoff(fastConfig(4)).RetryWithPredicate(context.Background(), func() error {
		attempts++
		return stderrors.New("plain")
	}, func(error) bool { return true })

	assert.EqualError(t, err, "plain")
	assert.Equal(t, 4, attempts)
}

func TestBackoff_DelayGrowthAndCap(t *testing.T) {
	b := NewBackoff(BackoffConfig{
		InitialDelay: 10 * time.Millisecond,
		MaxDelay:     50 * time.Millisecond,
		Multiplier:   2.0,
		MaxAttempts:  10,
	})

	assert.Equal(t, 10*time.Millisecond, b.GetNextDelay(1))
	assert.Equal(t, 20*time.Millisecond, b.GetNextDelay(2))
	assert.Equal(t, 40*time.Millisecond, b.GetNextDelay(3))
	assert.Equal(t, 50*time.Millisecond, b.GetNextDelay(4))
	assert.Equal(t, 50*time.Millisecond, b.GetNextDelay(30))
}

func TestBackoff_JitterStaysInBounds(t *testing.T) {
	b := NewBackoff(BackoffConfig{
		InitialDelay: 10 * time.Millisecond,
		MaxDelay:     100 * time.Millisecond,
		Multiplier:   2.0,
		MaxAttempts:  5,
		Jitter:       true,
	})

	for i := 0; i < 100; i++ {
		d := b.GetNextDelay(3)
		assert.GreaterOrEqual(t, d, 30*time.Millisecond)
		assert.LessOrEqual(t, d, 50*time.Millisecond)
	}
}
