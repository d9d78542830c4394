package models

import "time"

// InviteLink 邀请链接
// UsageLimit 为 nil 表示不限次数，ExpiresAt 为 nil 表示永不过期
type InviteLink struct {
	ID             uint       `gorm:"primaryKey" json:"id"`
	Code           string     `gorm:"uniqueIndex;size:32;not null" json:"code"`
	ConversationID uint       `gorm:"not null;index" json:"conversation_id"`
	UsageLimit     *int       `json:"usage_limit,omitempty"`
	UsageCount     int        `gorm:"not null;default:0" json:"usage_count"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
	CreatedBy      uint       `gorm:"not null" json:"created_by"`
	RevokedAt      *time.Time `json:"revoked_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

func (InviteLink) TableName() string {
	return "invite_links"
}

func (l *InviteLink) Expired(now time.Time) bool {
	return l.ExpiresAt != nil && !l.ExpiresAt.After(now)
}

func (l *InviteLink) Revoked() bool {
	return l.RevokedAt != nil
}

func (l *InviteLink) Exhausted() bool {
	return l.UsageLimit != nil && l.UsageCount >= *l.UsageLimit
}

// Usable 未撤销、未过期、未用尽
func (l *InviteLink) Usable(now time.Time) bool {
	return !l.Revoked() && !l.Expired(now) && !l.Exhausted()
}

// AllModels 需要自动迁移的全部模型
func AllModels() []any {
	return []any{
		&User{},
		&Conversation{},
		&Participant{},
		&Message{},
		&HiddenMessage{},
		&Reaction{},
		&InviteLink{},
	}
}
