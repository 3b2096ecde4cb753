package service

import (
	"context"

	"finpro-go/pkg/llm"
	"finpro-go/pkg/resilience"
)

type guardedLLM struct {
	next      llm.Client
	executor  *resilience.Executor
	operation string
}

// GuardLLM 让补全调用经过 operation 对应的熔断器。补全调用不重试。
func GuardLLM(next llm.Client, executor *resilience.Executor, operation string) llm.Client {
	if executor == nil {
		return next
	}
	return &guardedLLM{next: next, executor: executor, operation: operation}
}

func (g *guardedLLM) Complete(ctx context.Context, messages []llm.Message, gen *llm.GenerationParams) (string, error) {
	var out string
	err := g.executor.Execute(ctx, g.operation, 1, func(ctx context.Context) error {
		var err error
		out, err = g.next.Complete(ctx, messages, gen)
		return err
	})
	return out, err
}
