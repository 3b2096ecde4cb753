package service

import (
	"context"
	"strings"

	"finpro-go/internal/model"
	"finpro-go/pkg/llm"
	"finpro-go/pkg/log"
)

// RewriteService 把依赖上下文的追问改写为可独立检索的问题。
type RewriteService interface {
	Rewrite(ctx context.Context, question string, history []model.ChatMessage) (string, error)
}

type rewriteService struct {
	llmClient llm.Client
	gen       *llm.GenerationParams
}

// NewRewriteService 创建一个新的 RewriteService 实例。
func NewRewriteService(llmClient llm.Client, gen *llm.GenerationParams) RewriteService {
	return &rewriteService{llmClient: llmClient, gen: gen}
}

// Rewrite 在没有历史时原样返回问题，不调用模型；否则以历史与问题调用一次模型。
// 模型返回空白时回退为原问题。
func (s *rewriteService) Rewrite(ctx context.Context, question string, history []model.ChatMessage) (string, error) {
	if len(history) == 0 {
		return question, nil
	}

	msgs := make([]llm.Message, 0, len(history)+2)
	msgs = append(msgs, llm.Message{Role: llm.RoleSystem, Content: contextualizePrompt})
	for _, m := range history {
		msgs = append(msgs, llm.Message{Role: m.Role, Content: m.Content})
	}
	msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: question})

	out, err := s.llmClient.Complete(ctx, msgs, s.gen)
	if err != nil {
		log.Errorf("[RewriteService] 问题改写失败: %v", err)
		return "", wrapError(ErrExternalService, "rewrite question", err)
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return question, nil
	}
	if out != question {
		log.Infof("[RewriteService] 问题改写: '%s' -> '%s'", question, out)
	}
	return out, nil
}
