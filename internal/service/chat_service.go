package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"finpro-go/internal/config"
	"finpro-go/internal/model"
	"finpro-go/internal/repository"
	"finpro-go/pkg/log"
	"finpro-go/pkg/metrics"
	"finpro-go/pkg/tasks"

	"github.com/google/uuid"
)

// ChatRequest 是一轮对话的输入。Paths 限定检索的文档范围。
type ChatRequest struct {
	Input     string
	Username  string
	SessionID string
	Paths     []string
}

// ChatResult 是一轮对话的输出，MessageID 用于之后提交反馈。
type ChatResult struct {
	SessionID string
	Response  string
	MessageID string
	Metrics   model.Metrics
	Sources   []model.SourcePassage
}

// ChatService 定义了聊天操作的接口。
type ChatService interface {
	Chat(ctx context.Context, req ChatRequest) (*ChatResult, error)
}

type chatService struct {
	conversationRepo repository.ConversationRepository
	rewriter         RewriteService
	searcher         SearchService
	synthesizer      SynthesisService
	scorer           QualityScorer
	recorder         TurnRecorder
	metrics          *metrics.Metrics
	timeouts         config.TimeoutConfig
	now              func() time.Time
}

// NewChatService 创建一个新的 ChatService 实例。
func NewChatService(
	conversationRepo repository.ConversationRepository,
	rewriter RewriteService,
	searcher SearchService,
	synthesizer SynthesisService,
	scorer QualityScorer,
	recorder TurnRecorder,
	m *metrics.Metrics,
	timeouts config.TimeoutConfig,
) ChatService {
	return &chatService{
		conversationRepo: conversationRepo,
		rewriter:         rewriter,
		searcher:         searcher,
		synthesizer:      synthesizer,
		scorer:           scorer,
		recorder:         recorder,
		metrics:          m,
		timeouts:         timeouts,
		now:              time.Now,
	}
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

// Chat 依次执行问题改写、混合检索与回答生成，然后更新会话历史、评分并在后台持久化。
// 同一会话的多轮对话串行执行，不同会话互不阻塞。
func (s *chatService) Chat(ctx context.Context, req ChatRequest) (result *ChatResult, err error) {
	defer func() { s.metrics.FinishTurn(err) }()

	if strings.TrimSpace(req.Input) == "" {
		return nil, validationError("input must not be empty")
	}
	if req.Username == "" || req.SessionID == "" {
		return nil, validationError("username and session_id are required")
	}
	scope, err := normalizeScope(req.Paths)
	if err != nil {
		return nil, err
	}

	session := s.conversationRepo.GetOrCreate(req.SessionID)
	lockCtx, cancel := withTimeout(ctx, s.timeouts.LockWait)
	err = session.Lock(lockCtx)
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		log.Warnf("[ChatService] 等待会话锁超时, session: %s", req.SessionID)
		return nil, ErrSessionBusy
	}
	locked := true
	defer func() {
		if locked {
			session.Unlock()
		}
	}()

	history := session.History()
	log.Infof("[ChatService] 开始处理对话, session: %s, 历史消息 %d 条, 文档 %d 个", req.SessionID, len(history), len(scope))

	// 1. 问题改写
	var standalone string
	err = s.stage(ctx, "rewrite", s.timeouts.Rewrite, func(ctx context.Context) error {
		var err error
		standalone, err = s.rewriter.Rewrite(ctx, req.Input, history)
		return err
	})
	if err != nil {
		return nil, err
	}

	// 2. 混合检索
	var passages []model.Passage
	err = s.stage(ctx, "retrieval", s.timeouts.Retrieval, func(ctx context.Context) error {
		var err error
		passages, err = s.searcher.HybridSearch(ctx, standalone, scope, SearchOptions{})
		return err
	})
	if err != nil {
		return nil, err
	}

	// 3. 回答生成
	var answer *Answer
	err = s.stage(ctx, "synthesis", s.timeouts.Synthesis, func(ctx context.Context) error {
		var err error
		answer, err = s.synthesizer.Synthesize(ctx, standalone, passages)
		return err
	})
	if err != nil {
		return nil, err
	}

	// 4. 记录原始问题与回答，随后释放会话锁
	now := s.now().UTC()
	session.Append(req.Input, answer.Text, now)
	session.Unlock()
	locked = false

	// 5. 评分失败不影响本轮结果
	contextTexts := make([]string, 0, len(answer.Passages))
	for _, p := range answer.Passages {
		contextTexts = append(contextTexts, p.Content)
	}
	var scores model.Metrics
	scoreErr := s.stage(ctx, "metrics", s.timeouts.Metrics, func(ctx context.Context) error {
		var err error
		scores, err = s.scorer.Score(ctx, QualitySample{Prompt: req.Input, Response: answer.Text, Context: contextTexts})
		return err
	})
	if scoreErr != nil {
		log.Warnf("[ChatService] 质量评分失败, session: %s, err: %v", req.SessionID, scoreErr)
		scores = model.Metrics{}
	}
	if scores == nil {
		scores = model.Metrics{}
	}

	sources := model.ToSources(answer.Passages)
	turnID := uuid.NewString()
	s.recorder.Record(newTurnTask(turnID, req, answer.Text, now, scores, sources))

	return &ChatResult{
		SessionID: req.SessionID,
		Response:  answer.Text,
		MessageID: turnID,
		Metrics:   scores,
		Sources:   sources,
	}, nil
}

// stage 在独立超时内执行一个阶段并记录耗时。
func (s *chatService) stage(ctx context.Context, name string, timeout time.Duration, fn func(context.Context) error) error {
	stageCtx, cancel := withTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	err := fn(stageCtx)
	s.metrics.ObserveStage(name, time.Since(start), err)
	if err != nil && errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		log.Errorf("[ChatService] 阶段 %s 超时 (%s)", name, timeout)
		if !errors.Is(err, ErrExternalService) {
			err = wrapError(ErrExternalService, name, err)
		}
	}
	return err
}

func newTurnTask(turnID string, req ChatRequest, output string, at time.Time, scores model.Metrics, sources []model.SourcePassage) tasks.TurnPersistTask {
	task := tasks.TurnPersistTask{
		TurnID:    turnID,
		Username:  req.Username,
		SessionID: req.SessionID,
		Input:     req.Input,
		Output:    output,
		Timestamp: at,
		Metrics:   scores,
		Sources:   make([]tasks.Source, 0, len(sources)),
	}
	for _, src := range sources {
		task.Sources = append(task.Sources, tasks.Source{PageContent: src.PageContent, Metadata: src.Metadata})
	}
	return task
}
