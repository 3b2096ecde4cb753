// Package resilience 为外部调用提供按操作划分的熔断器与有限次数的退避重试。
package resilience

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"finpro-go/internal/config"
	"finpro-go/pkg/log"

	"github.com/sony/gobreaker/v2"
)

// Executor 按操作名维护熔断器，并执行带重试的调用。
type Executor struct {
	cfg config.ResilienceConfig

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker[any]
}

// NewExecutor 创建 Executor，并为未设置的字段填充默认值。
func NewExecutor(cfg config.ResilienceConfig) *Executor {
	if cfg.BreakerMinRequests == 0 {
		cfg.BreakerMinRequests = 10
	}
	if cfg.BreakerFailureRatio <= 0 || cfg.BreakerFailureRatio > 1 {
		cfg.BreakerFailureRatio = 0.6
	}
	if cfg.BreakerOpenTimeout <= 0 {
		cfg.BreakerOpenTimeout = 30 * time.Second
	}
	if cfg.RetryInitialBackoff <= 0 {
		cfg.RetryInitialBackoff = 200 * time.Millisecond
	}
	if cfg.RetryMaxBackoff < cfg.RetryInitialBackoff {
		cfg.RetryMaxBackoff = cfg.RetryInitialBackoff
	}
	return &Executor{
		cfg:      cfg,
		breakers: make(map[string]*gobreaker.CircuitBreaker[any]),
	}
}

// Execute 在 operation 对应的熔断器内执行 fn，最多尝试 attempts 次。
// attempts 小于等于 1 时不重试。调用方上下文结束后立即停止重试。
func (e *Executor) Execute(ctx context.Context, operation string, attempts int, fn func(context.Context) error) error {
	if fn == nil {
		return fmt.Errorf("resilience: operation callback is nil")
	}
	op := strings.TrimSpace(operation)
	if op == "" {
		op = "unknown"
	}
	if attempts < 1 {
		attempts = 1
	}

	if !e.cfg.BreakerEnabled {
		return e.executeWithRetry(ctx, op, attempts, fn)
	}

	_, err := e.circuitBreaker(op).Execute(func() (any, error) {
		return nil, e.executeWithRetry(ctx, op, attempts, fn)
	})
	return err
}

func (e *Executor) executeWithRetry(ctx context.Context, operation string, attempts int, fn func(context.Context) error) error {
	backoff := e.cfg.RetryInitialBackoff
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			if err != nil {
				return err
			}
			return ctxErr
		}

		err = fn(ctx)
		if err == nil || attempt == attempts || isContextError(err) {
			return err
		}

		log.Warnw("retry_attempt",
			"operation", operation,
			"attempt", attempt,
			"max_attempts", attempts,
			"backoff", backoff.String(),
			"error", err,
		)

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return err
		case <-timer.C:
		}

		backoff *= 2
		if backoff > e.cfg.RetryMaxBackoff {
			backoff = e.cfg.RetryMaxBackoff
		}
	}
	return err
}

func (e *Executor) circuitBreaker(operation string) *gobreaker.CircuitBreaker[any] {
	e.mu.Lock()
	defer e.mu.Unlock()

	if breaker, ok := e.breakers[operation]; ok {
		return breaker
	}

	settings := gobreaker.Settings{
		Name:        operation,
		MaxRequests: 1,
		Timeout:     e.cfg.BreakerOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < e.cfg.BreakerMinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= e.cfg.BreakerFailureRatio
		},
		// 调用方主动取消不计为下游故障
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Warnw("circuit_breaker_state_change", "operation", name, "from", from.String(), "to", to.String())
		},
	}

	breaker := gobreaker.NewCircuitBreaker[any](settings)
	e.breakers[operation] = breaker
	return breaker
}

func isContextError(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// IsCircuitOpen 判断错误是否由熔断器拒绝调用产生。
func IsCircuitOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}
