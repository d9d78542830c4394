package models

import "time"

type Role string

const (
	RoleAdmin  Role = "ADMIN"
	RoleMember Role = "MEMBER"
)

// Participant 会话成员（会话 × 用户），离开时只设置 LeftAt，不删除记录
type Participant struct {
	ID             uint `gorm:"primaryKey" json:"id"`
	ConversationID uint `gorm:"not null;uniqueIndex:idx_participant_conversation_user" json:"conversation_id"`
	UserID         uint `gorm:"not null;uniqueIndex:idx_participant_conversation_user;index" json:"user_id"`
	Role           Role `gorm:"type:varchar(16);not null;default:MEMBER" json:"role"`

	JoinedAt time.Time  `gorm:"not null" json:"joined_at"`
	LeftAt   *time.Time `gorm:"index" json:"left_at,omitempty"`

	IsPinned bool `gorm:"not null;default:false" json:"is_pinned"`
	// PinOrder 仅在 IsPinned 时有意义，同一用户内严格递增
	PinOrder   *int       `json:"pin_order,omitempty"`
	MutedUntil *time.Time `json:"muted_until,omitempty"`
	IsArchived bool       `gorm:"not null;default:false" json:"is_archived"`
	// IsManuallyUnread 用户手动标记的未读，与 UnreadCount 分开维护
	IsManuallyUnread bool `gorm:"not null;default:false" json:"is_manually_unread"`
	// IsHidden 会话从列表中隐藏，直到有新消息
	IsHidden bool `gorm:"not null;default:false" json:"is_hidden"`

	LastReadMessageID *int64 `json:"last_read_message_id,omitempty"`
	UnreadCount       int    `gorm:"not null;default:0" json:"unread_count"`
	// ClearedBeforeID 清空历史记录时的最后一条消息 ID，该 ID 及之前的消息对本人不可见
	ClearedBeforeID int64 `gorm:"not null;default:0" json:"-"`

	User *User `gorm:"foreignKey:UserID" json:"user,omitempty"`
}

func (Participant) TableName() string {
	return "participants"
}

func (p *Participant) Active() bool {
	return p.LeftAt == nil
}

func (p *Participant) IsAdmin() bool {
	return p.Role == RoleAdmin
}

func (p *Participant) IsMuted(now time.Time) bool {
	return p.MutedUntil != nil && p.MutedUntil.After(now)
}
