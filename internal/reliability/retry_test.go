package reliability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExponentialBackoff(t *testing.T) {
	t.Run("ShouldRetry respects max retries", func(t *testing.T) {
		eb := NewExponentialBackoff(100*time.Millisecond, 1*time.Second, 2.0, 3)

		for i := 0; i < 3; i++ {
			shouldRetry, delay := eb.ShouldRetry(i, errors.New("test"))
			assert.True(t, shouldRetry)
			assert.Greater(t, delay, time.Duration(0))
		}

		shouldRetry, delay := eb.ShouldRetry(3, errors.New("test"))
		assert.False(t, shouldRetry)
		assert.Equal(t, time.Duration(0), delay)
	})

	t.Run("NextDelay calculates exponential backoff", func(t *testing.T) {
		eb := NewExponentialBackoff(100*time.Millisecond, 10*time.Second, 2.0, 5)
		eb.Jitter = false

		tests := []struct {
			attempt  int
			expected time.Duration
		}{
			{0, 100 * time.Millisecond},
			{1, 200 * time.Millisecond},
			{3, 800 * time.Millisecond},
			{10, 10 * time.Second},
		}

		for _, tt := range tests {
			assert.Equal(t, tt.expected, eb.NextDelay(tt.attempt))
		}
	})

	t.Run("jitter stays within 15 percent", func(t *testing.T) {
		eb := NewExponentialBackoff(1*time.Second, 10*time.Second, 2.0, 5)

		for i := 0; i < 20; i++ {
			delay := eb.NextDelay(0)
			assert.GreaterOrEqual(t, delay, 850*time.Millisecond)
			assert.LessOrEqual(t, delay, 1150*time.Millisecond)
		}
	})

	t.Run("permanent errors are not retried", func(t *testing.T) {
		eb := NewExponentialBackoff(100*time.Millisecond, 1*time.Second, 2.0, 3)

		shouldRetry, _ := eb.ShouldRetry(0, Permanent(errors.New("denied")))
		assert.False(t, shouldRetry)
	})
}

func TestFixedDelay(t *testing.T) {
	fd := NewFixedDelay(750*time.Millisecond, 2)

	assert.Equal(t, 2, fd.MaxRetries())
	assert.Equal(t, 750*time.Millisecond, fd.NextDelay(5))

	shouldRetry, delay := fd.ShouldRetry(1, errors.New("test"))
	assert.True(t, shouldRetry)
	assert.Equal(t, 750*time.Millisecond, delay)

	shouldRetry, _ = fd.ShouldRetry(2, errors.New("test"))
	assert.False(t, shouldRetry)
}

func TestRetry(t *testing.T) {
	t.Run("succeeds on first attempt", func(t *testing.T) {
		attempts := 0

		err := Retry(context.Background(), "op", NewFixedDelay(0, 3), func(int) error {
			attempts++
			return nil
		})

		assert.NoError(t, err)
		assert.Equal(t, 1, attempts)
	})

	t.Run("succeeds on the last allowed attempt", func(t *testing.T) {
		var seen []int

		err := Retry(context.Background(), "op", NewFixedDelay(time.Millisecond, 2), func(attempt int) error {
			seen = append(seen, attempt)
			if attempt < 2 {
				return errors.New("temporary error")
			}
			return nil
		})

		assert.NoError(t, err)
		assert.Equal(t, []int{0, 1, 2}, seen)
	})

	t.Run("reports the attempt count when exhausted", func(t *testing.T) {
		attempts := 0
		cause := errors.New("persistent error")

		err := Retry(context.Background(), "interaction", NewFixedDelay(0, 1), func(int) error {
			attempts++
			return cause
		})

		require.Error(t, err)
		assert.Equal(t, 2, attempts)

		var retryErr *RetryError
		require.ErrorAs(t, err, &retryErr)
		assert.Equal(t, 2, retryErr.Attempts)
		assert.Equal(t, 2, retryErr.MaxAttempts)
		assert.Equal(t, StatusRetriesExhausted, retryErr.Code)
		assert.ErrorIs(t, err, ErrMaxRetriesExceeded)
		assert.ErrorIs(t, err, cause)
		assert.Contains(t, err.Error(), "interaction failed after 2 attempts")
	})

	t.Run("permanent error stops immediately", func(t *testing.T) {
		attempts := 0
		cause := errors.New("access refused")

		err := Retry(context.Background(), "op", NewFixedDelay(0, 5), func(int) error {
			attempts++
			return Permanent(cause)
		})

		assert.Equal(t, 1, attempts)
		assert.Same(t, cause, err)
	})

	t.Run("respects context cancellation", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		attempts := 0

		err := Retry(ctx, "op", NewFixedDelay(time.Second, 5), func(int) error {
			attempts++
			cancel()
			return errors.New("fail")
		})

		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, attempts)
	})
}
