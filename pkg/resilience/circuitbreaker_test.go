package resilience

import (
	"errors"
	"io"
	"testing"
	"time"

	"karmika-sahayak/backend/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBreaker(failures uint, retry time.Duration) *CircuitBreaker {
	cfg := DefaultCircuitBreakerConfig("test")
	cfg.FailureThreshold = failures
	cfg.RetryTimeout = retry
	log := logger.New(logger.Config{Level: "error", JSON: true, Output: io.Discard})
	return NewCircuitBreaker(cfg, log)
}

func TestBreakerOpensAfterThreshold(t *testing.T) {
	cb := newTestBreaker(3, time.Minute)
	boom := errors.New("boom")

	for i := 0; i < 3; i++ {
		err := cb.Execute(func() error { return boom })
		require.ErrorIs(t, err, boom)
	}

	assert.Equal(t, StateOpen, cb.GetState())

	err := cb.Execute(func() error { return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
}

func TestBreakerHalfOpensAfterRetryTimeout(t *testing.T) {
	cb := newTestBreaker(1, 10*time.Millisecond)

	_ = cb.Execute(func() error { return errors.New("boom") })
	require.Equal(t, StateOpen, cb.GetState())

	time.Sleep(20 * time.Millisecond)

	err := cb.Execute(func() error { return nil })
	assert.NoError(t, err)

	// Default success threshold is 2; one more success closes it.
	err = cb.Execute(func() error { return nil })
	assert.NoError(t, err)
	assert.Equal(t, StateClosed, cb.GetState())
}

func TestBreakerStaysClosedOnSuccess(t *testing.T) {
	cb := newTestBreaker(2, time.Minute)

	for i := 0; i < 10; i++ {
		require.NoError(t, cb.Execute(func() error { return nil }))
	}
	assert.Equal(t, StateClosed, cb.GetState())
}
