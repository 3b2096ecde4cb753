package service

import (
	"context"
	"strings"

	"finpro-go/internal/config"
	"finpro-go/internal/model"
	"finpro-go/pkg/llm"
	"finpro-go/pkg/log"
)

// Answer 是一次生成的结果。Passages 与输入段落完全一致。
type Answer struct {
	Text     string
	Passages []model.Passage
}

// SynthesisService 基于检索段落生成回答。
type SynthesisService interface {
	Synthesize(ctx context.Context, query string, passages []model.Passage) (*Answer, error)
}

type synthesisService struct {
	llmClient    llm.Client
	gen          *llm.GenerationParams
	template     string
	noResultText string
}

// NewSynthesisService 创建一个新的 SynthesisService 实例，未配置模板时使用 DefaultSystemTemplate。
func NewSynthesisService(llmClient llm.Client, gen *llm.GenerationParams, prompt config.LLMPromptConfig) SynthesisService {
	tpl := prompt.SystemTemplate
	if strings.TrimSpace(tpl) == "" {
		tpl = DefaultSystemTemplate
	}
	return &synthesisService{
		llmClient:    llmClient,
		gen:          gen,
		template:     tpl,
		noResultText: prompt.NoResultText,
	}
}

func (s *synthesisService) Synthesize(ctx context.Context, query string, passages []model.Passage) (*Answer, error) {
	if len(passages) == 0 {
		log.Info("[SynthesisService] 没有检索到段落, 返回无结果提示")
		return &Answer{Text: s.noResultText, Passages: passages}, nil
	}

	parts := make([]string, 0, len(passages))
	for _, p := range passages {
		parts = append(parts, p.Content)
	}
	system := renderSystemPrompt(s.template, strings.Join(parts, "\n\n"), query)

	text, err := s.llmClient.Complete(ctx, []llm.Message{
		{Role: llm.RoleSystem, Content: system},
		{Role: llm.RoleUser, Content: query},
	}, s.gen)
	if err != nil {
		log.Errorf("[SynthesisService] 回答生成失败: %v", err)
		return nil, wrapError(ErrExternalService, "synthesize answer", err)
	}
	if strings.TrimSpace(text) == "" {
		text = s.noResultText
	}
	return &Answer{Text: text, Passages: passages}, nil
}
