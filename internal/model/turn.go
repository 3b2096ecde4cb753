package model

import "time"

// Metrics 是一轮对话的质量指标，键沿用 langkit 的命名，例如 response.toxicity。
type Metrics map[string]float64

// Turn 对应 turns 表，是用户持久化对话日志中的一轮问答。
// 反馈字段在首次提交反馈前为 NULL。
type Turn struct {
	ID        string          `gorm:"type:varchar(36);primaryKey"`
	Seq       uint64          `gorm:"autoIncrement;uniqueIndex;not null"` // 写入顺序，时间戳相同的轮次按它排序
	UserID    uint            `gorm:"index:idx_turns_user_session,priority:1;not null"`
	SessionID string          `gorm:"type:varchar(36);index:idx_turns_user_session,priority:2;not null"`
	Input     string          `gorm:"type:text;not null"`
	Output    string          `gorm:"type:longtext;not null"`
	Timestamp time.Time       `gorm:"index;not null"`
	Metrics   Metrics         `gorm:"serializer:json;type:json"`
	Sources   []SourcePassage `gorm:"serializer:json;type:json"`

	FeedbackType    *string    `gorm:"type:varchar(32)"`
	FeedbackScore   *float64
	FeedbackComment *string    `gorm:"type:text"`
	FeedbackAt      *time.Time
}

// TableName 指定 Turn 模型对应的数据库表名。
func (Turn) TableName() string {
	return "turns"
}

// Feedback 是用户对某一轮回答的评价。
type Feedback struct {
	Type      string    `json:"type"`
	Score     float64   `json:"score"`
	Comment   *string   `json:"comment"`
	Timestamp time.Time `json:"timestamp"`
}

// TurnView 是对话轮次的对外表示。
type TurnView struct {
	ID        string          `json:"id"`
	Input     string          `json:"input"`
	Output    string          `json:"output"`
	Timestamp time.Time       `json:"timestamp"`
	Metrics   Metrics         `json:"metrics"`
	Sources   []SourcePassage `json:"sources"`
	Feedback  *Feedback       `json:"feedback,omitempty"`
}

// View 把数据库记录转换为对外表示。
func (t Turn) View() TurnView {
	v := TurnView{
		ID:        t.ID,
		Input:     t.Input,
		Output:    t.Output,
		Timestamp: t.Timestamp,
		Metrics:   t.Metrics,
		Sources:   t.Sources,
	}
	if v.Metrics == nil {
		v.Metrics = Metrics{}
	}
	if v.Sources == nil {
		v.Sources = []SourcePassage{}
	}
	if t.FeedbackType != nil {
		fb := &Feedback{Type: *t.FeedbackType, Comment: t.FeedbackComment}
		if t.FeedbackScore != nil {
			fb.Score = *t.FeedbackScore
		}
		if t.FeedbackAt != nil {
			fb.Timestamp = *t.FeedbackAt
		}
		v.Feedback = fb
	}
	return v
}
