package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var errBroker = errors.New("broker report unavailable")

func newTestBreaker(clock *time.Time) *CircuitBreaker {
	cb := NewCircuitBreaker(&Config{
		Name:             "IBKR",
		MaxFailures:      2,
		FailureThreshold: 0.5,
		Timeout:          time.Minute,
		HalfOpenMaxCalls: 1,
	})
	cb.now = func() time.Time { return *clock }
	cb.lastStateChange = *clock
	return cb
}

func TestCircuitBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	clock := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	cb := newTestBreaker(&clock)
	ctx := context.Background()

	fail := func() error { return errBroker }
	assert.ErrorIs(t, cb.Execute(ctx, fail), errBroker)
	assert.ErrorIs(t, cb.Execute(ctx, fail), errBroker)
	assert.Equal(t, StateOpen, cb.GetState())

	called := false
	err := cb.Execute(ctx, func() error { called = true; return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)
}

func TestCircuitBreaker_RecoversThroughHalfOpen(t *testing.T) {
	clock := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	cb := newTestBreaker(&clock)
	ctx := context.Background()

	_ = cb.Execute(ctx, func() error { return errBroker })
	_ = cb.Execute(ctx, func() error { return errBroker })
	assert.Equal(t, StateOpen, cb.GetState())

	clock = clock.Add(2 * time.Minute)
	assert.NoError(t, cb.Execute(ctx, func() error { return nil }))
	assert.Equal(t, StateClosed, cb.GetState())
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	clock := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	cb := newTestBreaker(&clock)
	ctx := context.Background()

	_ = cb.Execute(ctx, func() error { return errBroker })
	_ = cb.Execute(ctx, func() error { return errBroker })
	clock = clock.Add(2 * time.Minute)

	assert.ErrorIs(t, cb.Execute(ctx, func() error { return errBroker }), errBroker)
	assert.Equal(t, StateOpen, cb.GetState())
}

func TestManager_OnePerName(t *testing.T) {
	m := NewManager(nil)
	a := m.Get("IBKR")
	assert.Same(t, a, m.Get("IBKR"))
	assert.NotSame(t, a, m.Get("OANDA"))
	assert.Len(t, m.States(), 2)
}
