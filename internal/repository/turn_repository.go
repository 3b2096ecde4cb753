package repository

import (
	"context"
	"time"

	"finpro-go/internal/model"

	"gorm.io/gorm"
)

// TurnRepository 是用户持久化对话日志的数据访问接口。
type TurnRepository interface {
	// Append 写入一轮对话并刷新用户的 updated_at，二者在同一事务内完成。
	Append(ctx context.Context, turn *model.Turn) error
	// ListByUser 按时间顺序返回用户的全部轮次。
	ListByUser(ctx context.Context, userID uint) ([]model.Turn, error)
	// DeleteBySession 清空用户某个会话下的全部轮次，返回删除行数。
	DeleteBySession(ctx context.Context, userID uint, sessionID string) (int64, error)
	// FindForUser 查找属于该用户的指定轮次，不存在时返回 gorm.ErrRecordNotFound。
	FindForUser(ctx context.Context, userID uint, turnID string) (*model.Turn, error)
	// AttachFeedback 仅在该轮尚无反馈时写入反馈，返回受影响行数。
	AttachFeedback(ctx context.Context, userID uint, turnID string, fb model.Feedback) (int64, error)
}

type turnRepository struct {
	db *gorm.DB
}

// NewTurnRepository 创建一个新的 TurnRepository 实例。
func NewTurnRepository(db *gorm.DB) TurnRepository {
	return &turnRepository{db: db}
}

func (r *turnRepository) Append(ctx context.Context, turn *model.Turn) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(turn).Error; err != nil {
			return err
		}
		return tx.Model(&model.User{}).
			Where("id = ?", turn.UserID).
			UpdateColumn("updated_at", time.Now()).Error
	})
}

// ListByUser 按时间戳返回用户的全部轮次，时间戳相同时按写入顺序。
func (r *turnRepository) ListByUser(ctx context.Context, userID uint) ([]model.Turn, error) {
	var turns []model.Turn
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("timestamp ASC").
		Order("seq ASC").
		Find(&turns).Error
	return turns, err
}

func (r *turnRepository) DeleteBySession(ctx context.Context, userID uint, sessionID string) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("user_id = ? AND session_id = ?", userID, sessionID).
		Delete(&model.Turn{})
	return res.RowsAffected, res.Error
}

func (r *turnRepository) FindForUser(ctx context.Context, userID uint, turnID string) (*model.Turn, error) {
	var turn model.Turn
	err := r.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", turnID, userID).
		First(&turn).Error
	if err != nil {
		return nil, err
	}
	return &turn, nil
}

func (r *turnRepository) AttachFeedback(ctx context.Context, userID uint, turnID string, fb model.Feedback) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&model.Turn{}).
		Where("id = ? AND user_id = ? AND feedback_type IS NULL", turnID, userID).
		UpdateColumns(map[string]interface{}{
			"feedback_type":    fb.Type,
			"feedback_score":   fb.Score,
			"feedback_comment": fb.Comment,
			"feedback_at":      fb.Timestamp,
		})
	return res.RowsAffected, res.Error
}
