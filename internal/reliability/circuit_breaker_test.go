package reliability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCircuitBreaker(t *testing.T) {
	errBroker := errors.New("broker down")
	fail := func() error { return errBroker }
	succeed := func() error { return nil }

	t.Run("opens after failure threshold", func(t *testing.T) {
		cb := NewCircuitBreaker(WithFailureThreshold(2), WithTimeout(time.Minute))
		ctx := context.Background()

		assert.ErrorIs(t, cb.Execute(ctx, fail), errBroker)
		assert.Equal(t, StateClosed, cb.State())
		assert.ErrorIs(t, cb.Execute(ctx, fail), errBroker)
		assert.Equal(t, StateOpen, cb.State())

		called := false
		err := cb.Execute(ctx, func() error {
			called = true
			return nil
		})
		assert.False(t, called)
		assert.ErrorIs(t, err, ErrCircuitOpen)

		var cbErr *CircuitBreakerError
		require.ErrorAs(t, err, &cbErr)
		assert.Equal(t, 2, cbErr.Failures)
	})

	t.Run("success resets failures while closed", func(t *testing.T) {
		cb := NewCircuitBreaker(WithFailureThreshold(2))
		ctx := context.Background()

		_ = cb.Execute(ctx, fail)
		_ = cb.Execute(ctx, succeed)
		_ = cb.Execute(ctx, fail)
		assert.Equal(t, StateClosed, cb.State())
	})

	t.Run("half-open closes after successes", func(t *testing.T) {
		now := time.Now()
		var transitions []State
		cb := NewCircuitBreaker(
			WithName("broker"),
			WithFailureThreshold(1),
			WithSuccessThreshold(2),
			WithTimeout(time.Second),
			WithStateChangeHandler(func(name string, from, to State) {
				assert.Equal(t, "broker", name)
				transitions = append(transitions, to)
			}),
		)
		cb.now = func() time.Time { return now }
		ctx := context.Background()

		_ = cb.Execute(ctx, fail)
		assert.Equal(t, StateOpen, cb.State())

		now = now.Add(2 * time.Second)
		require.NoError(t, cb.Execute(ctx, succeed))
		assert.Equal(t, StateHalfOpen, cb.State())
		require.NoError(t, cb.Execute(ctx, succeed))
		assert.Equal(t, StateClosed, cb.State())

		assert.Equal(t, []State{StateOpen, StateHalfOpen, StateClosed}, transitions)
	})

	t.Run("failure in half-open reopens", func(t *testing.T) {
		now := time.Now()
		cb := NewCircuitBreaker(WithFailureThreshold(1), WithTimeout(time.Second))
		cb.now = func() time.Time { return now }
		ctx := context.Background()

		_ = cb.Execute(ctx, fail)
		now = now.Add(2 * time.Second)
		_ = cb.Execute(ctx, fail)
		assert.Equal(t, StateOpen, cb.State())
	})

	t.Run("half-open limits concurrent probes", func(t *testing.T) {
		now := time.Now()
		cb := NewCircuitBreaker(WithFailureThreshold(1), WithTimeout(time.Second), WithHalfOpenRequests(1), WithSuccessThreshold(5))
		cb.now = func() time.Time { return now }
		ctx := context.Background()

		_ = cb.Execute(ctx, fail)
		now = now.Add(2 * time.Second)

		err := cb.Execute(ctx, func() error {
			return cb.Execute(ctx, succeed)
		})
		assert.ErrorIs(t, err, ErrCircuitHalfOpenLimit)
	})

	t.Run("failure predicate filters errors", func(t *testing.T) {
		errFatal := errors.New("fatal")
		cb := NewCircuitBreaker(
			WithFailureThreshold(1),
			WithFailurePredicate(func(err error) bool { return !errors.Is(err, errFatal) }),
		)

		err := cb.Execute(context.Background(), func() error { return errFatal })
		assert.ErrorIs(t, err, errFatal)
		assert.Equal(t, StateClosed, cb.State())
	})

	t.Run("reset closes the circuit", func(t *testing.T) {
		cb := NewCircuitBreaker(WithFailureThreshold(1))
		_ = cb.Execute(context.Background(), fail)
		require.Equal(t, StateOpen, cb.State())

		cb.Reset()
		assert.Equal(t, StateClosed, cb.State())
	})

	t.Run("cancelled context is not executed", func(t *testing.T) {
		cb := NewCircuitBreaker()
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		called := false
		err := cb.Execute(ctx, func() error {
			called = true
			return nil
		})
		assert.ErrorIs(t, err, context.Canceled)
		assert.False(t, called)
	})
}

func TestErrorMetrics(t *testing.T) {
	m := NewErrorMetrics()
	m.RecordError(errors.New("a"), true)
	m.RecordError(&RetryError{}, false)

	snap := m.Snapshot()
	assert.Equal(t, int64(2), snap.TotalErrors)
	assert.Equal(t, int64(1), snap.RetryableErrors)
	assert.Equal(t, int64(1), snap.FatalErrors)
	assert.Equal(t, int64(1), snap.ErrorsByType["*reliability.RetryError"])
	assert.False(t, snap.LastErrorTime.IsZero())
}
