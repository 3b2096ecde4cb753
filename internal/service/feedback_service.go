package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"finpro-go/internal/model"
	"finpro-go/internal/repository"
	"finpro-go/pkg/log"

	"gorm.io/gorm"
)

// FeedbackStatus 是一次反馈提交的结果。
type FeedbackStatus string

const (
	FeedbackRecorded         FeedbackStatus = "recorded"
	FeedbackAlreadySubmitted FeedbackStatus = "already_submitted"
)

const (
	feedbackRecordedMessage  = "Feedback submitted successfully"
	feedbackDuplicateMessage = "Feedback already submitted or no changes made."
)

// FeedbackRequest 是对某一轮回答的评价。
type FeedbackRequest struct {
	MessageID    string
	FeedbackType string
	Score        float64
	Comment      *string
}

// FeedbackResult 描述提交结果，Message 直接返回给客户端。
type FeedbackResult struct {
	Status  FeedbackStatus
	Message string
}

// FeedbackService 处理用户对回答的反馈，每轮最多接受一次。
type FeedbackService interface {
	Submit(ctx context.Context, username string, req FeedbackRequest) (*FeedbackResult, error)
}

type feedbackService struct {
	userRepo repository.UserRepository
	turnRepo repository.TurnRepository
	now      func() time.Time
}

// NewFeedbackService 创建一个新的 FeedbackService 实例。
func NewFeedbackService(userRepo repository.UserRepository, turnRepo repository.TurnRepository) FeedbackService {
	return &feedbackService{userRepo: userRepo, turnRepo: turnRepo, now: time.Now}
}

func (s *feedbackService) Submit(ctx context.Context, username string, req FeedbackRequest) (*FeedbackResult, error) {
	req.MessageID = strings.TrimSpace(req.MessageID)
	req.FeedbackType = strings.TrimSpace(req.FeedbackType)
	if req.MessageID == "" || req.FeedbackType == "" {
		return nil, validationError("message_id and feedback_type are required")
	}

	user, err := s.userRepo.FindByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}

	// 其他用户的轮次同样视为不存在
	if _, err := s.turnRepo.FindForUser(ctx, user.ID, req.MessageID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTurnNotFound
		}
		return nil, err
	}

	n, err := s.turnRepo.AttachFeedback(ctx, user.ID, req.MessageID, model.Feedback{
		Type:      req.FeedbackType,
		Score:     req.Score,
		Comment:   req.Comment,
		Timestamp: s.now().UTC(),
	})
	if err != nil {
		return nil, err
	}
	if n == 0 {
		log.Infof("[FeedbackService] 轮次 %s 已有反馈, 忽略本次提交", req.MessageID)
		return &FeedbackResult{Status: FeedbackAlreadySubmitted, Message: feedbackDuplicateMessage}, nil
	}
	log.Infof("[FeedbackService] 用户 %s 对轮次 %s 提交反馈: %s", username, req.MessageID, req.FeedbackType)
	return &FeedbackResult{Status: FeedbackRecorded, Message: feedbackRecordedMessage}, nil
}
