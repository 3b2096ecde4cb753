package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"finpro-go/internal/model"
	"finpro-go/internal/repository"
	"finpro-go/pkg/log"
	"finpro-go/pkg/metrics"
	"finpro-go/pkg/resilience"
	"finpro-go/pkg/tasks"

	"gorm.io/gorm"
)

// TurnService 管理用户已持久化的对话日志。
type TurnService interface {
	// ListTurns 按时间顺序返回用户的全部对话轮次。
	ListTurns(ctx context.Context, username string) ([]model.TurnView, error)
	// ClearHistory 清空会话的内存历史，并删除该会话已持久化的轮次。
	ClearHistory(ctx context.Context, username, sessionID string) error
}

type turnService struct {
	userRepo         repository.UserRepository
	turnRepo         repository.TurnRepository
	conversationRepo repository.ConversationRepository
}

// NewTurnService 创建一个新的 TurnService 实例。
func NewTurnService(userRepo repository.UserRepository, turnRepo repository.TurnRepository, conversationRepo repository.ConversationRepository) TurnService {
	return &turnService{userRepo: userRepo, turnRepo: turnRepo, conversationRepo: conversationRepo}
}

func (s *turnService) ListTurns(ctx context.Context, username string) ([]model.TurnView, error) {
	if username == "" {
		return nil, validationError("username is required")
	}
	user, err := s.userRepo.FindByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	turns, err := s.turnRepo.ListByUser(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	views := make([]model.TurnView, 0, len(turns))
	for _, t := range turns {
		views = append(views, t.View())
	}
	return views, nil
}

func (s *turnService) ClearHistory(ctx context.Context, username, sessionID string) error {
	if username == "" || sessionID == "" {
		return validationError("username and session_id are required")
	}
	user, err := s.userRepo.FindByUsernameAndSession(ctx, username, sessionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrSessionNotFound
		}
		return err
	}

	s.conversationRepo.Clear(sessionID)
	n, err := s.turnRepo.DeleteBySession(ctx, user.ID, sessionID)
	if err != nil {
		log.Errorf("[TurnService] 删除会话轮次失败, session: %s, err: %v", sessionID, err)
		return err
	}
	log.Infof("[TurnService] 已清空会话 %s 的历史, 删除 %d 条持久化记录", sessionID, n)
	return nil
}

// TurnPersister 把一轮对话写入用户的持久化日志，可直接调用也可作为 Kafka 消费者的处理器。
type TurnPersister struct {
	userRepo repository.UserRepository
	turnRepo repository.TurnRepository
}

// NewTurnPersister 创建一个新的 TurnPersister 实例。
func NewTurnPersister(userRepo repository.UserRepository, turnRepo repository.TurnRepository) *TurnPersister {
	return &TurnPersister{userRepo: userRepo, turnRepo: turnRepo}
}

// Process 按 username 与 session 查找用户并追加轮次。用户不存在时记录日志并丢弃，不返回错误。
func (p *TurnPersister) Process(ctx context.Context, task tasks.TurnPersistTask) error {
	user, err := p.userRepo.FindByUsernameAndSession(ctx, task.Username, task.SessionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			log.Warnf("[TurnPersister] 用户或会话不存在, 丢弃轮次 %s, username: %s, session: %s", task.TurnID, task.Username, task.SessionID)
			return nil
		}
		return err
	}

	turn := &model.Turn{
		ID:        task.TurnID,
		UserID:    user.ID,
		SessionID: task.SessionID,
		Input:     task.Input,
		Output:    task.Output,
		Timestamp: task.Timestamp,
		Metrics:   model.Metrics(task.Metrics),
		Sources:   make([]model.SourcePassage, 0, len(task.Sources)),
	}
	for _, src := range task.Sources {
		turn.Sources = append(turn.Sources, model.SourcePassage{PageContent: src.PageContent, Metadata: src.Metadata})
	}
	if err := p.turnRepo.Append(ctx, turn); err != nil {
		return err
	}
	log.Infof("[TurnPersister] 轮次 %s 已写入, user: %d", task.TurnID, user.ID)
	return nil
}

// TurnSink 是轮次的投递目标，例如直接写库或发布到 Kafka。
type TurnSink func(ctx context.Context, task tasks.TurnPersistTask) error

// TurnRecorder 在后台投递已完成的轮次，不阻塞调用方。
type TurnRecorder interface {
	// Record 调度一次投递并立即返回。
	Record(task tasks.TurnPersistTask)
	// Close 停止接收新轮次，等待已调度的投递完成或 ctx 结束。
	Close(ctx context.Context) error
}

// RecorderOptions 控制后台投递的并发与重试。
type RecorderOptions struct {
	Mode        string
	Workers     int
	QueueSize   int
	MaxAttempts int
	// Overflow 是队列满时额外启动的投递 goroutine 上限，默认与 Workers 相同。
	Overflow    int
	// Timeout 同时限定单次投递耗时与队列满载时 Record 的等待时间。
	Timeout     time.Duration
}

type asyncTurnRecorder struct {
	sink     TurnSink
	executor *resilience.Executor
	metrics  *metrics.Metrics
	opts     RecorderOptions

	queue    chan tasks.TurnPersistTask
	overflow chan struct{}
	wg       sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// NewTurnRecorder 启动固定数量的投递 worker。
// 队列满时在 Overflow 上限内为轮次单独启动受跟踪的 goroutine；上限也用尽时
// Record 最多等待 Timeout，仍无法入队则丢弃该轮次并计数。
func NewTurnRecorder(sink TurnSink, executor *resilience.Executor, m *metrics.Metrics, opts RecorderOptions) TurnRecorder {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.QueueSize < 0 {
		opts.QueueSize = 0
	}
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.Mode == "" {
		opts.Mode = "direct"
	}
	if opts.Overflow <= 0 {
		opts.Overflow = opts.Workers
	}
	r := &asyncTurnRecorder{
		sink:     sink,
		executor: executor,
		metrics:  m,
		opts:     opts,
		queue:    make(chan tasks.TurnPersistTask, opts.QueueSize),
		overflow: make(chan struct{}, opts.Overflow),
	}
	for i := 0; i < opts.Workers; i++ {
		r.wg.Add(1)
		go r.worker()
	}
	return r
}

func (r *asyncTurnRecorder) worker() {
	defer r.wg.Done()
	for task := range r.queue {
		r.metrics.SetPersistQueueDepth(len(r.queue))
		r.deliver(task)
	}
}

func (r *asyncTurnRecorder) Record(task tasks.TurnPersistTask) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		log.Errorf("[TurnRecorder] 记录器已关闭, 丢弃轮次 %s", task.TurnID)
		r.metrics.ObservePersistDropped(r.opts.Mode, "closed")
		return
	}

	select {
	case r.queue <- task:
		r.metrics.SetPersistQueueDepth(len(r.queue))
		return
	default:
	}

	select {
	case r.overflow <- struct{}{}:
		log.Warnf("[TurnRecorder] 投递队列已满, 为轮次 %s 单独启动投递", task.TurnID)
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			defer func() { <-r.overflow }()
			r.deliver(task)
		}()
		return
	default:
	}

	timer := time.NewTimer(r.opts.Timeout)
	defer timer.Stop()
	select {
	case r.queue <- task:
		r.metrics.SetPersistQueueDepth(len(r.queue))
	case <-timer.C:
		log.Errorw("[TurnRecorder] 投递队列持续满载, 丢弃轮次", "turn_id", task.TurnID, "session_id", task.SessionID, "mode", r.opts.Mode)
		r.metrics.ObservePersistDropped(r.opts.Mode, "queue_full")
	}
}

// deliver 不继承请求上下文，请求结束后投递仍会完成。
func (r *asyncTurnRecorder) deliver(task tasks.TurnPersistTask) {
	ctx, cancel := context.WithTimeout(context.Background(), r.opts.Timeout)
	defer cancel()

	call := func(ctx context.Context) error { return r.sink(ctx, task) }
	var err error
	if r.executor != nil {
		err = r.executor.Execute(ctx, "persist_turn", r.opts.MaxAttempts, call)
	} else {
		err = call(ctx)
	}
	r.metrics.ObservePersist(r.opts.Mode, err)
	if err != nil {
		log.Errorw("[TurnRecorder] 轮次投递失败", "turn_id", task.TurnID, "session_id", task.SessionID, "mode", r.opts.Mode, "error", err)
	}
}

func (r *asyncTurnRecorder) Close(ctx context.Context) error {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.queue)
	}
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		log.Info("[TurnRecorder] 所有待投递轮次已完成")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
