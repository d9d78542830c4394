package services

import (
	"time"

	"github.com/Gopher0727/ChatEngine/internal/models"
	"github.com/Gopher0727/ChatEngine/internal/repositories"
)

// MessageDTO 消息数据传输对象
type MessageDTO struct {
	ID              int64              `json:"id"`
	ConversationID  uint               `json:"conversation_id"`
	SenderID        uint               `json:"sender_id"`
	Type            models.MessageType `json:"type"`
	SystemAction    string             `json:"system_action,omitempty"`
	Content         *string            `json:"content"`
	Images          []string           `json:"images"`
	ReplyToID       *int64             `json:"reply_to_id,omitempty"`
	ReplyTo         *ReplyPreview      `json:"reply_to,omitempty"`
	ForwardedFromID *int64             `json:"forwarded_from_id,omitempty"`
	IsPinned        bool               `json:"is_pinned"`
	ViewsCount      int64              `json:"views_count"`
	IsDeleted       bool               `json:"is_deleted"`

	Reactions  []repositories.EmojiCount `json:"reactions"`
	MyReaction string                    `json:"my_reaction,omitempty"`

	CreatedAt time.Time  `json:"created_at"`
	EditedAt  *time.Time `json:"edited_at,omitempty"`
}

// ReplyPreview 被回复消息的摘要
type ReplyPreview struct {
	ID        int64   `json:"id"`
	SenderID  uint    `json:"sender_id"`
	Content   *string `json:"content"`
	HasImages bool    `json:"has_images"`
	IsDeleted bool    `json:"is_deleted"`
}

func toMessageDTO(m *models.Message) *MessageDTO {
	images := m.Images
	if images == nil {
		images = []string{}
	}
	return &MessageDTO{
		ID:              m.ID,
		ConversationID:  m.ConversationID,
		SenderID:        m.SenderID,
		Type:            m.Type,
		SystemAction:    m.SystemAction,
		Content:         m.Content,
		Images:          images,
		ReplyToID:       m.ReplyToID,
		ForwardedFromID: m.ForwardedFromID,
		IsPinned:        m.IsPinned,
		ViewsCount:      m.ViewsCount,
		IsDeleted:       m.IsTombstone(),
		Reactions:       []repositories.EmojiCount{},
		CreatedAt:       m.CreatedAt,
		EditedAt:        m.EditedAt,
	}
}

func toReplyPreview(m *models.Message) *ReplyPreview {
	return &ReplyPreview{
		ID:        m.ID,
		SenderID:  m.SenderID,
		Content:   m.Content,
		HasImages: len(m.Images) > 0,
		IsDeleted: m.IsTombstone(),
	}
}

// MessageDeletedEvent message_deleted 事件内容
type MessageDeletedEvent struct {
	ConversationID uint   `json:"conversation_id"`
	MessageID      int64  `json:"message_id"`
	Type           string `json:"type"`
}

// ConversationEvent conversation_updated / conversation_deleted 事件内容
type ConversationEvent struct {
	ConversationID uint                 `json:"conversation_id"`
	Conversation   *models.Conversation `json:"conversation,omitempty"`
}

// MessagesReadEvent messages_read 事件内容
type MessagesReadEvent struct {
	ConversationID    uint   `json:"conversation_id"`
	UserID            uint   `json:"user_id"`
	LastReadMessageID *int64 `json:"last_read_message_id"`
}

// ReactionEvent unread_reaction 事件与通知内容
type ReactionEvent struct {
	ConversationID uint   `json:"conversation_id"`
	MessageID      int64  `json:"message_id"`
	UserID         uint   `json:"user_id"`
	Emoji          string `json:"emoji"`
}

// TypingEvent user_typing 事件内容
type TypingEvent struct {
	ConversationID uint `json:"conversation_id"`
	UserID         uint `json:"user_id"`
}

// NewMessageNotification new_message 通知内容
type NewMessageNotification struct {
	ConversationID uint   `json:"conversation_id"`
	MessageID      int64  `json:"message_id"`
	SenderID       uint   `json:"sender_id"`
	Preview        string `json:"preview"`
}
