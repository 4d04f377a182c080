package errors

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// failNTimes returns a function that errors n times before succeeding, and
// a counter of attempts made.
func failNTimes(n int) (func() error, *int) {
	attempts := 0
	return func() error {
		attempts++
		if attempts <= n {
			return errors.New("model server busy")
		}
		return nil
	}, &attempts
}

func fastRetry(maxRetries int) RetryConfig {
	return RetryConfig{
		MaxRetries:   maxRetries,
		InitialDelay: 10 * time.Millisecond,
		MaxDelay:     100 * time.Millisecond,
		Multiplier:   2.0,
	}
}

// =============================================================================
// Outcomes
// =============================================================================

func TestRetry_RecoversFromTransientFailures(t *testing.T) {
	fn, attempts := failNTimes(2)

	err := Retry(context.Background(), fastRetry(3), fn)

	require.NoError(t, err)
	assert.Equal(t, 3, *attempts)
}

func TestRetry_GivesUpAfterBudget(t *testing.T) {
	fn, attempts := failNTimes(100)

	err := Retry(context.Background(), fastRetry(2), fn)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 2 retries")
	assert.Equal(t, 3, *attempts) // initial call plus two retries
}

func TestRetry_ImmediateSuccessSkipsBackoff(t *testing.T) {
	cfg := RetryConfig{
		MaxRetries:   5,
		InitialDelay: time.Second,
		MaxDelay:     10 * time.Second,
		Multiplier:   2.0,
	}

	start := time.Now()
	err := Retry(context.Background(), cfg, func() error { return nil })

	require.NoError(t, err)
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestRetryWithResult_ReturnsValueAndZero(t *testing.T) {
	attempts := 0
	result, err := RetryWithResult(context.Background(), fastRetry(3), func() ([]string, error) {
		attempts++
		if attempts < 2 {
			return nil, errors.New("not yet")
		}
		return []string{"variant-a", "variant-b"}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"variant-a", "variant-b"}, result)

	// Exhausted retries return the zero value, not the last partial result.
	partial, err := RetryWithResult(context.Background(), fastRetry(1), func() (string, error) {
		return "partial", errors.New("always")
	})
	require.Error(t, err)
	assert.Empty(t, partial)
}

// =============================================================================
// Context handling
// =============================================================================

func TestRetry_CancelAbortsBackoffWait(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	cfg := fastRetry(5)
	cfg.InitialDelay = 500 * time.Millisecond

	start := time.Now()
	err := Retry(ctx, cfg, func() error { return errors.New("fail into backoff") })

	require.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), 400*time.Millisecond)
}

func TestRetry_DeadlineWins(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 80*time.Millisecond)
	defer cancel()

	cfg := fastRetry(10)
	cfg.InitialDelay = 50 * time.Millisecond

	err := Retry(ctx, cfg, func() error { return errors.New("never succeeds") })

	require.ErrorIs(t, err, context.DeadlineExceeded)
}

// =============================================================================
// Backoff shape
// =============================================================================

func attemptGaps(t *testing.T, cfg RetryConfig, failures int) []time.Duration {
	t.Helper()
	var stamps []time.Time
	fn, _ := failNTimes(failures)
	_ = Retry(context.Background(), cfg, func() error {
		stamps = append(stamps, time.Now())
		return fn()
	})
	gaps := make([]time.Duration, 0, len(stamps))
	for i := 1; i < len(stamps); i++ {
		gaps = append(gaps, stamps[i].Sub(stamps[i-1]))
	}
	return gaps
}

func TestRetry_BackoffDoubles(t *testing.T) {
	cfg := RetryConfig{
		MaxRetries:   5,
		InitialDelay: 20 * time.Millisecond,
		MaxDelay:     time.Second,
		Multiplier:   2.0,
	}

	gaps := attemptGaps(t, cfg, 3)

	require.Len(t, gaps, 3)
	assert.InDelta(t, 20, gaps[0].Milliseconds(), 15)
	assert.InDelta(t, 40, gaps[1].Milliseconds(), 20)
	assert.InDelta(t, 80, gaps[2].Milliseconds(), 40)
}

func TestRetry_BackoffCapsAtMaxDelay(t *testing.T) {
	cfg := RetryConfig{
		MaxRetries:   10,
		InitialDelay: 20 * time.Millisecond,
		MaxDelay:     30 * time.Millisecond,
		Multiplier:   2.0,
	}

	gaps := attemptGaps(t, cfg, 4)

	require.NotEmpty(t, gaps)
	for _, gap := range gaps[1:] {
		assert.LessOrEqual(t, gap.Milliseconds(), int64(50))
	}
}

func TestRetry_JitterStaysInHalfToFullWindow(t *testing.T) {
	cfg := RetryConfig{
		MaxRetries:   3,
		InitialDelay: 50 * time.Millisecond,
		MaxDelay:     time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}

	for i := 0; i < 3; i++ {
		gaps := attemptGaps(t, cfg, 1)
		require.Len(t, gaps, 1)
		assert.GreaterOrEqual(t, gaps[0].Milliseconds(), int64(25))
		assert.LessOrEqual(t, gaps[0].Milliseconds(), int64(100))
	}
}

// =============================================================================
// Defaults and concurrency
// =============================================================================

func TestDefaultRetryConfig(t *testing.T) {
	cfg := DefaultRetryConfig()

	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, time.Second, cfg.InitialDelay)
	assert.Equal(t, 16*time.Second, cfg.MaxDelay)
	assert.Equal(t, 2.0, cfg.Multiplier)
	assert.False(t, cfg.Jitter)
}

func TestRetry_ConcurrentCallersAreIndependent(t *testing.T) {
	var wg sync.WaitGroup
	var successes atomic.Int32

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn, _ := failNTimes(1)
			if err := Retry(context.Background(), fastRetry(3), fn); err == nil {
				successes.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(10), successes.Load())
}
