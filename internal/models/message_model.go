package models

import "time"

type MessageType string

const (
	MessageRegular MessageType = "REGULAR"
	MessageSystem  MessageType = "SYSTEM"
)

// 系统消息动作
const (
	ActionGroupCreated      = "group_created"
	ActionTitleChanged      = "title_changed"
	ActionParticipantAdded  = "participant_added"
	ActionParticipantJoined = "participant_joined"
	ActionParticipantKicked = "participant_kicked"
	ActionParticipantLeft   = "participant_left"
	ActionAdminTransferred  = "admin_transferred"
	ActionMessagePinned     = "message_pinned"
	ActionMessageUnpinned   = "message_unpinned"
)

// Message 消息模型，ID 由 snowflake 生成，按时间有序
type Message struct {
	ID             int64       `gorm:"primaryKey;autoIncrement:false" json:"id"`
	ConversationID uint        `gorm:"not null;index:idx_message_conversation_id,priority:1" json:"conversation_id"`
	SenderID       uint        `gorm:"not null;index" json:"sender_id"`
	Type           MessageType `gorm:"type:varchar(16);not null;default:REGULAR" json:"type"`
	SystemAction   string      `gorm:"type:varchar(32)" json:"system_action,omitempty"`
	// Content 为 nil 表示已被全员删除（墓碑）
	Content *string  `gorm:"type:text" json:"content"`
	Images  []string `gorm:"type:text;serializer:json" json:"images"`

	ReplyToID       *int64 `gorm:"index" json:"reply_to_id,omitempty"`
	ForwardedFromID *int64 `json:"forwarded_from_id,omitempty"`
	IsPinned        bool   `gorm:"not null;default:false" json:"is_pinned"`
	ViewsCount      int64  `gorm:"not null;default:0" json:"views_count"`

	CreatedAt       time.Time  `json:"created_at"`
	EditedAt        *time.Time `json:"edited_at,omitempty"`
	DeletedForAllAt *time.Time `json:"deleted_for_all_at,omitempty"`
}

func (Message) TableName() string {
	return "messages"
}

func (m *Message) IsTombstone() bool {
	return m.DeletedForAllAt != nil
}

// HiddenMessage "仅对我删除" 的可见性覆盖层，不修改消息本身
type HiddenMessage struct {
	MessageID int64     `gorm:"primaryKey;autoIncrement:false" json:"message_id"`
	UserID    uint      `gorm:"primaryKey;autoIncrement:false" json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
}

func (HiddenMessage) TableName() string {
	return "hidden_messages"
}

// Reaction 每个用户对每条消息最多一个表情
type Reaction struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	MessageID int64     `gorm:"not null;uniqueIndex:idx_reaction_message_user" json:"message_id"`
	UserID    uint      `gorm:"not null;uniqueIndex:idx_reaction_message_user;index" json:"user_id"`
	Emoji     string    `gorm:"type:varchar(64);not null" json:"emoji"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Reaction) TableName() string {
	return "reactions"
}
