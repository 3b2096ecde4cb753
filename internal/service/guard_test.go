package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"finpro-go/internal/config"
	"finpro-go/pkg/resilience"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGuardLLMOpensBreakerWithoutRetrying(t *testing.T) {
	inner := &fakeLLM{err: errors.New("503")}
	exec := resilience.NewExecutor(config.ResilienceConfig{
		BreakerEnabled:      true,
		BreakerMinRequests:  2,
		BreakerFailureRatio: 0.5,
		BreakerOpenTimeout:  time.Minute,
	})
	client := GuardLLM(inner, exec, "llm_completion")

	for i := 0; i < 2; i++ {
		_, err := client.Complete(context.Background(), nil, nil)
		require.Error(t, err)
	}
	assert.Equal(t, 2, inner.callCount())

	_, err := client.Complete(context.Background(), nil, nil)
	assert.True(t, resilience.IsCircuitOpen(err))
	assert.Equal(t, 2, inner.callCount())
}

func TestGuardLLMPassesThroughWithoutExecutor(t *testing.T) {
	inner := &fakeLLM{reply: "ok"}
	client := GuardLLM(inner, nil, "llm_completion")
	assert.Same(t, inner, client)
}
