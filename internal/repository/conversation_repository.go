// Package repository 提供了数据访问层的实现。
package repository

import (
	"context"
	"sync"
	"time"

	"finpro-go/internal/model"

	"github.com/patrickmn/go-cache"
)

// ConversationRepository 维护按会话 ID 划分的内存对话历史。
// 不同会话之间互不阻塞；同一会话的多轮对话通过 Session.Lock 串行执行。
type ConversationRepository interface {
	// GetOrCreate 返回会话句柄，不存在时创建一个空会话。每次访问都会刷新空闲过期时间。
	GetOrCreate(sessionID string) *Session
	// Clear 移除会话句柄，下次访问将得到空历史。会话不存在时不报错。
	Clear(sessionID string)
	// Len 返回当前驻留的会话数。
	Len() int
}

// Session 是单个会话的历史记录与串行锁。
type Session struct {
	id          string
	turnLock    chan struct{}
	maxMessages int

	mu      sync.RWMutex
	history []model.ChatMessage
}

func newSession(id string, maxMessages int) *Session {
	return &Session{
		id:          id,
		turnLock:    make(chan struct{}, 1),
		maxMessages: maxMessages,
	}
}

// ID 返回会话 ID。
func (s *Session) ID() string {
	return s.id
}

// Lock 获取会话的串行锁。ctx 结束时放弃等待并返回 ctx.Err()。
func (s *Session) Lock(ctx context.Context) error {
	select {
	case s.turnLock <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Unlock 释放会话的串行锁。
func (s *Session) Unlock() {
	select {
	case <-s.turnLock:
	default:
		panic("repository: unlock of unlocked session")
	}
}

// History 返回历史记录的副本，按插入顺序排列。
func (s *Session) History() []model.ChatMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.ChatMessage, len(s.history))
	copy(out, s.history)
	return out
}

// Append 追加一轮问答（用户原始输入与回答）。
// 设置了 maxMessages 时只保留最近的消息。
func (s *Session) Append(input, answer string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history,
		model.ChatMessage{Role: model.RoleUser, Content: input, Timestamp: at},
		model.ChatMessage{Role: model.RoleAssistant, Content: answer, Timestamp: at},
	)
	if s.maxMessages > 0 && len(s.history) > s.maxMessages {
		trimmed := make([]model.ChatMessage, s.maxMessages)
		copy(trimmed, s.history[len(s.history)-s.maxMessages:])
		s.history = trimmed
	}
}

type memoryConversationRepository struct {
	// mu 只保护下面的索引读改写，持有时间为常数级；对话处理期间不持有。
	mu          sync.Mutex
	sessions    *cache.Cache
	maxMessages int
}

// NewConversationRepository 创建基于 go-cache 的内存会话存储。
// ttl 为会话空闲过期时间（<=0 表示永不过期），cleanupInterval 为过期清理周期。
func NewConversationRepository(ttl, cleanupInterval time.Duration, maxMessages int) ConversationRepository {
	if ttl <= 0 {
		ttl = cache.NoExpiration
	}
	if cleanupInterval <= 0 {
		cleanupInterval = 10 * time.Minute
	}
	return &memoryConversationRepository{
		sessions:    cache.New(ttl, cleanupInterval),
		maxMessages: maxMessages,
	}
}

func (r *memoryConversationRepository) GetOrCreate(sessionID string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	if v, found := r.sessions.Get(sessionID); found {
		s := v.(*Session)
		r.sessions.Set(sessionID, s, cache.DefaultExpiration)
		return s
	}
	s := newSession(sessionID, r.maxMessages)
	r.sessions.Set(sessionID, s, cache.DefaultExpiration)
	return s
}

func (r *memoryConversationRepository) Clear(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions.Delete(sessionID)
}

func (r *memoryConversationRepository) Len() int {
	return r.sessions.ItemCount()
}
