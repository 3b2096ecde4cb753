package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"finpro-go/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() config.ResilienceConfig {
	return config.ResilienceConfig{
		BreakerEnabled:      true,
		BreakerMinRequests:  2,
		BreakerFailureRatio: 0.5,
		BreakerOpenTimeout:  time.Minute,
		RetryInitialBackoff: time.Millisecond,
		RetryMaxBackoff:     2 * time.Millisecond,
	}
}

func TestExecuteRetriesUntilSuccess(t *testing.T) {
	e := NewExecutor(testConfig())
	calls := 0
	err := e.Execute(context.Background(), "persist", 3, func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestExecuteSingleAttemptDoesNotRetry(t *testing.T) {
	e := NewExecutor(testConfig())
	calls := 0
	err := e.Execute(context.Background(), "llm", 1, func(context.Context) error {
		calls++
		return errors.New("down")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestBreakerOpensAfterFailures(t *testing.T) {
	e := NewExecutor(testConfig())
	failing := func(context.Context) error { return errors.New("down") }

	_ = e.Execute(context.Background(), "embed", 1, failing)
	_ = e.Execute(context.Background(), "embed", 1, failing)

	calls := 0
	err := e.Execute(context.Background(), "embed", 1, func(context.Context) error {
		calls++
		return nil
	})
	require.Error(t, err)
	assert.True(t, IsCircuitOpen(err))
	assert.Zero(t, calls)

	// 其他操作不受影响
	require.NoError(t, e.Execute(context.Background(), "search", 1, func(context.Context) error { return nil }))
}

func TestExecuteStopsOnCanceledContext(t *testing.T) {
	e := NewExecutor(testConfig())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := e.Execute(ctx, "persist", 5, func(context.Context) error {
		calls++
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, calls)
}
