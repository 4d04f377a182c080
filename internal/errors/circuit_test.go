package errors

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func failing() error { return errors.New("model server unavailable") }

// trip opens the breaker with n consecutive failures.
func trip(cb *CircuitBreaker, n int) {
	for i := 0; i < n; i++ {
		_ = cb.Execute(failing)
	}
}

// =============================================================================
// State cycle
// =============================================================================

func TestCircuitBreaker_OpensAtFailureThreshold(t *testing.T) {
	cb := NewCircuitBreaker("rerank", WithMaxFailures(3), WithResetTimeout(time.Second))

	trip(cb, 2)
	assert.Equal(t, StateClosed, cb.State())

	trip(cb, 1)
	assert.Equal(t, StateOpen, cb.State())

	// Open circuit refuses without calling the function.
	called := false
	err := cb.Execute(func() error { called = true; return nil })
	require.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)
}

func TestCircuitBreaker_ProbeAfterTimeoutCloses(t *testing.T) {
	cb := NewCircuitBreaker("rerank", WithMaxFailures(2), WithResetTimeout(50*time.Millisecond))
	trip(cb, 2)
	require.Equal(t, StateOpen, cb.State())

	time.Sleep(60 * time.Millisecond)
	require.Equal(t, StateHalfOpen, cb.State())

	probed := false
	err := cb.Execute(func() error { probed = true; return nil })

	require.NoError(t, err)
	assert.True(t, probed)
	assert.Equal(t, StateClosed, cb.State())
	assert.Zero(t, cb.Failures())
}

func TestCircuitBreaker_FailedProbeReopens(t *testing.T) {
	cb := NewCircuitBreaker("rerank", WithMaxFailures(2), WithResetTimeout(50*time.Millisecond))
	trip(cb, 2)
	time.Sleep(60 * time.Millisecond)

	_ = cb.Execute(failing)

	assert.Equal(t, StateOpen, cb.State())
}

func TestCircuitBreaker_SuccessClearsFailures(t *testing.T) {
	cb := NewCircuitBreaker("rerank", WithMaxFailures(5))
	trip(cb, 3)
	require.Equal(t, 3, cb.Failures())

	require.NoError(t, cb.Execute(func() error { return nil }))

	assert.Zero(t, cb.Failures())
	assert.Equal(t, StateClosed, cb.State())
}

// =============================================================================
// Manual recording and admission
// =============================================================================

func TestCircuitBreaker_RecordedOutcomes(t *testing.T) {
	cb := NewCircuitBreaker("embed", WithMaxFailures(3))

	cb.RecordFailure()
	cb.RecordFailure()
	assert.Equal(t, 2, cb.Failures())
	assert.True(t, cb.Allow())

	cb.RecordFailure()
	assert.Equal(t, StateOpen, cb.State())
	assert.False(t, cb.Allow())

	// A recorded success closes even an open circuit.
	cb.RecordSuccess()
	assert.Equal(t, StateClosed, cb.State())
	assert.Zero(t, cb.Failures())
}

func TestCircuitExecuteWithResult_FallsBack(t *testing.T) {
	cb := NewCircuitBreaker("rerank", WithMaxFailures(1), WithResetTimeout(time.Second))
	trip(cb, 1)

	fallbackCalled := false
	result, err := CircuitExecuteWithResult(cb,
		func() ([]float64, error) { return []float64{0.9}, nil },
		func() ([]float64, error) { fallbackCalled = true; return nil, nil },
	)

	require.NoError(t, err)
	assert.True(t, fallbackCalled)
	assert.Nil(t, result)
}

func TestCircuitExecuteWithResult_AdmittedFailureFallsBack(t *testing.T) {
	cb := NewCircuitBreaker("rerank", WithMaxFailures(5))

	result, err := CircuitExecuteWithResult(cb,
		func() (string, error) { return "", errors.New("scoring failed") },
		func() (string, error) { return "retrieval-order", nil },
	)

	require.NoError(t, err)
	assert.Equal(t, "retrieval-order", result)
	assert.Equal(t, 1, cb.Failures())
}

// =============================================================================
// Defaults and concurrency
// =============================================================================

func TestNewCircuitBreaker_Defaults(t *testing.T) {
	cb := NewCircuitBreaker("cross_encoder")

	assert.Equal(t, "cross_encoder", cb.Name())
	assert.Equal(t, 5, cb.maxFailures)
	assert.Equal(t, 30*time.Second, cb.resetTimeout)
	assert.Equal(t, StateClosed, cb.State())
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "half-open", StateHalfOpen.String())
	assert.Equal(t, "unknown", State(42).String())
}

func TestCircuitBreaker_ConcurrentCalls(t *testing.T) {
	cb := NewCircuitBreaker("rerank", WithMaxFailures(10), WithResetTimeout(time.Second))

	var wg sync.WaitGroup
	var completed atomic.Int32
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = cb.Execute(func() error {
				if i%2 == 0 {
					return nil
				}
				return errors.New("flaky")
			})
			completed.Add(1)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(20), completed.Load())
}
