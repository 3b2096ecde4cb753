package model

import "time"

// User 对应 users 表。一个用户在注册时分配一个会话 ID。
type User struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Username  string    `gorm:"type:varchar(64);uniqueIndex;not null" json:"username"`
	Name      string    `gorm:"type:varchar(128)" json:"name"`
	Email     string    `gorm:"type:varchar(255)" json:"email"`
	Password  string    `gorm:"type:varchar(255);not null" json:"-"`
	SessionID string    `gorm:"type:varchar(36);index;not null" json:"session_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName 指定 User 模型对应的数据库表名。
func (User) TableName() string {
	return "users"
}
