package circuitbreaker

import (
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecute_Success(t *testing.T) {
	breaker := New(DefaultConfig("test"))

	called := false
	err := breaker.Execute(func() error {
		called = true
		return nil
	})

	require.NoError(t, err)
	assert.True(t, called)
	assert.Equal(t, gobreaker.StateClosed, breaker.State())
}

func TestExecute_OpensAfterConsecutiveFailures(t *testing.T) {
	cfg := DefaultConfig("test")
	cfg.FailureThreshold = 3
	breaker := New(cfg)

	failure := errors.New("broker unavailable")
	for i := 0; i < 3; i++ {
		err := breaker.Execute(func() error { return failure })
		require.ErrorIs(t, err, failure)
	}

	assert.Equal(t, gobreaker.StateOpen, breaker.State())

	// В открытом состоянии вызов не доходит до fn
	called := false
	err := breaker.Execute(func() error {
		called = true
		return nil
	})

	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.False(t, called)
}

func TestExecute_HalfOpenRecovery(t *testing.T) {
	cfg := DefaultConfig("test")
	cfg.FailureThreshold = 1
	cfg.Timeout = 10 * time.Millisecond
	breaker := New(cfg)

	require.Error(t, breaker.Execute(func() error { return errors.New("boom") }))
	require.Equal(t, gobreaker.StateOpen, breaker.State())

	time.Sleep(20 * time.Millisecond)

	// Из half-open брейкер закрывается после MaxRequests успешных вызовов
	for i := 0; i < int(cfg.MaxRequests); i++ {
		require.NoError(t, breaker.Execute(func() error { return nil }))
	}
	assert.Equal(t, gobreaker.StateClosed, breaker.State())
}
