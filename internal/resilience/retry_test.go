package resilience

import (
	"context"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/profile-engine/internal/model"
)

func fastRetry(attempts int, shouldRetry func(error) bool) RetryConfig {
	return RetryConfig{
		MaxAttempts:    attempts,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		Multiplier:     2.0,
		ShouldRetry:    shouldRetry,
	}
}

func TestDoVal(t *testing.T) {
	t.Parallel()

	t.Run("succeeds after conflicts", func(t *testing.T) {
		t.Parallel()
		calls := 0
		v, err := DoVal(context.Background(), fastRetry(3, IsConflict), func(context.Context) (int, error) {
			calls++
			if calls < 3 {
				return 0, eris.Wrap(model.ErrConflict, "store: save profile")
			}
			return 42, nil
		})
		require.NoError(t, err)
		assert.Equal(t, 42, v)
		assert.Equal(t, 3, calls)
	})

	t.Run("gives up after max attempts", func(t *testing.T) {
		t.Parallel()
		calls := 0
		_, err := DoVal(context.Background(), fastRetry(3, IsConflict), func(context.Context) (int, error) {
			calls++
			return 0, model.ErrConflict
		})
		require.Error(t, err)
		assert.True(t, IsConflict(err))
		assert.Equal(t, 3, calls)
	})

	t.Run("non retryable errors return immediately", func(t *testing.T) {
		t.Parallel()
		calls := 0
		err := Do(context.Background(), fastRetry(5, IsConflict), func(context.Context) error {
			calls++
			return eris.New("validation failed")
		})
		require.Error(t, err)
		assert.Equal(t, 1, calls)
	})

	t.Run("cancelled context stops retries", func(t *testing.T) {
		t.Parallel()
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		calls := 0
		err := Do(ctx, fastRetry(5, IsConflict), func(context.Context) error {
			calls++
			return model.ErrConflict
		})
		require.Error(t, err)
		assert.Equal(t, 1, calls)
	})
}

func TestIsRetryable(t *testing.T) {
	t.Parallel()

	assert.True(t, IsConflict(eris.Wrap(model.ErrConflict, "outer")))
	assert.False(t, IsConflict(eris.New("other")))
	assert.True(t, IsRetryable(NewTransientError(eris.New("503"), 503)))
	assert.False(t, IsRetryable(nil))
	assert.True(t, IsTransientHTTPStatus(429))
	assert.False(t, IsTransientHTTPStatus(404))
}

func TestComputeBackoffCaps(t *testing.T) {
	t.Parallel()

	cfg := applyDefaults(RetryConfig{
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     time.Second,
		Multiplier:     10,
		JitterFraction: 0,
	})
	assert.Equal(t, 100*time.Millisecond, computeBackoff(0, cfg))
	assert.Equal(t, time.Second, computeBackoff(1, cfg))
	assert.Equal(t, time.Second, computeBackoff(5, cfg))
}

func TestCircuitBreaker(t *testing.T) {
	t.Parallel()

	boom := NewTransientError(eris.New("upstream down"), 503)

	t.Run("opens after threshold", func(t *testing.T) {
		t.Parallel()
		cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 2, ResetTimeout: time.Minute})
		for i := 0; i < 2; i++ {
			_ = cb.Execute(context.Background(), func(context.Context) error { return boom })
		}
		assert.Equal(t, CircuitOpen, cb.State())

		err := cb.Execute(context.Background(), func(context.Context) error {
			t.Fatal("must not be called while open")
			return nil
		})
		assert.ErrorIs(t, err, ErrCircuitOpen)
	})

	t.Run("probe closes after reset timeout", func(t *testing.T) {
		t.Parallel()
		cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 1, ResetTimeout: 5 * time.Millisecond})
		_ = cb.Execute(context.Background(), func(context.Context) error { return boom })
		require.Equal(t, CircuitOpen, cb.State())

		time.Sleep(10 * time.Millisecond)
		require.Equal(t, CircuitHalfOpen, cb.State())

		err := cb.Execute(context.Background(), func(context.Context) error { return nil })
		require.NoError(t, err)
		assert.Equal(t, CircuitClosed, cb.State())
	})

	t.Run("domain errors do not trip", func(t *testing.T) {
		t.Parallel()
		cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 1, ResetTimeout: time.Minute})
		_ = cb.Execute(context.Background(), func(context.Context) error { return eris.New("bad input") })
		assert.Equal(t, CircuitClosed, cb.State())
	})
}
