package service

import (
	"context"
	"errors"
	"strings"
	"testing"

	"finpro-go/internal/config"
	"finpro-go/internal/model"
	"finpro-go/pkg/llm"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const noResult = "I'm sorry, but there isn't sufficient information."

func promptConfig() config.LLMPromptConfig {
	return config.LLMPromptConfig{NoResultText: noResult}
}

func TestSynthesizeWithoutPassagesSkipsModel(t *testing.T) {
	client := &fakeLLM{reply: "unused"}
	ans, err := NewSynthesisService(client, nil, promptConfig()).Synthesize(context.Background(), "q", nil)
	require.NoError(t, err)
	assert.Equal(t, noResult, ans.Text)
	assert.Empty(t, ans.Passages)
	assert.Zero(t, client.callCount())
}

func TestSynthesizeRendersContextAndQuery(t *testing.T) {
	client := &fakeLLM{reply: "Revenue grew 15%."}
	passages := []model.Passage{
		{ID: "p1", Source: "doc_A", Content: "Revenue grew 15%"},
		{ID: "p2", Source: "doc_A", Content: "Margins were flat"},
	}
	svc := NewSynthesisService(client, nil, config.LLMPromptConfig{
		SystemTemplate: "CTX[{context}] Q[{input}]",
		NoResultText:   noResult,
	})

	ans, err := svc.Synthesize(context.Background(), "What was revenue?", passages)
	require.NoError(t, err)
	assert.Equal(t, "Revenue grew 15%.", ans.Text)
	assert.Equal(t, passages, ans.Passages)

	require.Equal(t, 1, client.callCount())
	msgs := client.calls[0]
	require.Len(t, msgs, 2)
	assert.Equal(t, llm.Message{Role: llm.RoleSystem, Content: "CTX[Revenue grew 15%\n\nMargins were flat] Q[What was revenue?]"}, msgs[0])
	assert.Equal(t, llm.Message{Role: llm.RoleUser, Content: "What was revenue?"}, msgs[1])
}

func TestSynthesizeDefaultTemplateIsFinPro(t *testing.T) {
	client := &fakeLLM{reply: "ok"}
	_, err := NewSynthesisService(client, nil, promptConfig()).Synthesize(context.Background(), "q", []model.Passage{{Content: "c"}})
	require.NoError(t, err)
	system := client.calls[0][0].Content
	assert.Contains(t, system, "You are FinPro")
	assert.NotContains(t, system, "{context}")
	assert.NotContains(t, system, "{input}")
	assert.True(t, strings.Contains(system, `context: "c"`))
}

func TestSynthesizeBlankReplyBecomesNoResult(t *testing.T) {
	client := &fakeLLM{reply: "  "}
	ans, err := NewSynthesisService(client, nil, promptConfig()).Synthesize(context.Background(), "q", []model.Passage{{Content: "c"}})
	require.NoError(t, err)
	assert.Equal(t, noResult, ans.Text)
	assert.Len(t, ans.Passages, 1)
}

func TestSynthesizeWrapsModelFailure(t *testing.T) {
	client := &fakeLLM{err: errors.New("timeout")}
	_, err := NewSynthesisService(client, nil, promptConfig()).Synthesize(context.Background(), "q", []model.Passage{{Content: "c"}})
	assert.ErrorIs(t, err, ErrExternalService)
}
