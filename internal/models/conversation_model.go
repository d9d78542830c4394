package models

import (
	"fmt"
	"time"
)

type ConversationType string

const (
	ConversationDirect  ConversationType = "DIRECT"
	ConversationGroup   ConversationType = "GROUP"
	ConversationChannel ConversationType = "CHANNEL"
)

func (t ConversationType) Valid() bool {
	switch t {
	case ConversationDirect, ConversationGroup, ConversationChannel:
		return true
	}
	return false
}

// Conversation 会话模型：私聊、群组、频道共用一张表，类型相关的约束在服务层校验
type Conversation struct {
	ID uint `gorm:"primaryKey" json:"id"`

	Type        ConversationType `gorm:"type:varchar(16);not null;index" json:"type"`
	Title       string           `gorm:"type:varchar(255)" json:"title"`
	AvatarURL   string           `json:"avatar_url"`
	Description string           `gorm:"type:text" json:"description"`
	// Slug 仅可被发现的群组/频道拥有，统一存小写
	Slug *string `gorm:"type:varchar(64);uniqueIndex" json:"slug,omitempty"`
	// DirectKey 私聊双方的 "小ID:大ID"，唯一索引保证同一对用户只有一个私聊
	DirectKey *string `gorm:"type:varchar(64);uniqueIndex" json:"-"`
	CreatedBy uint    `gorm:"not null" json:"created_by"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Conversation) TableName() string {
	return "conversations"
}

func (c *Conversation) IsDirect() bool {
	return c.Type == ConversationDirect
}

func (c *Conversation) IsChannel() bool {
	return c.Type == ConversationChannel
}

// Discoverable 拥有 slug 的群组/频道可以被搜索到
func (c *Conversation) Discoverable() bool {
	return c.Type != ConversationDirect && c.Slug != nil && *c.Slug != ""
}

// DirectKeyFor 生成与参数顺序无关的私聊键
func DirectKeyFor(a, b uint) string {
	if a > b {
		a, b = b, a
	}
	return fmt.Sprintf("%d:%d", a, b)
}
