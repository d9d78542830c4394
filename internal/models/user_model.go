package models

import "time"

// User 用户资料（由身份服务维护，这里只读，用于成员列表展示与存在性校验）
type User struct {
	ID uint `gorm:"primaryKey" json:"id"`

	UserName  string `gorm:"column:username;uniqueIndex;not null" json:"username"`
	AvatarURL string `json:"avatar_url"`

	CreatedAt time.Time `json:"created_at"`
}

func (User) TableName() string {
	return "users"
}
