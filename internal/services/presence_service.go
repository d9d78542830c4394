package services

import (
	"context"

	"github.com/Gopher0727/ChatEngine/internal/events"
)

// PresenceService 输入中与正在查看状态
type PresenceService struct {
	*base
}

// SetTyping 标记用户正在输入，过期自动消失，不需要停止消息
func (s *PresenceService) SetTyping(ctx context.Context, userID, conversationID uint) error {
	if _, _, err := loadMembership(ctx, s.store(), conversationID, userID); err != nil {
		return err
	}
	if err := s.deps.Presence.SetTyping(ctx, conversationID, userID, s.cfg().TypingTTL()); err != nil {
		return err
	}

	ids, err := s.store().Participants.ActiveUserIDs(ctx, conversationID)
	if err != nil {
		return err
	}
	s.emit(ctx, except(ids, userID), events.UserTyping, TypingEvent{ConversationID: conversationID, UserID: userID})
	return nil
}

// TypingUsers 会话中正在输入的成员
func (s *PresenceService) TypingUsers(ctx context.Context, userID, conversationID uint) ([]uint, error) {
	if _, _, err := loadMembership(ctx, s.store(), conversationID, userID); err != nil {
		return nil, err
	}
	ids, err := s.deps.Presence.TypingUsers(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	return except(ids, userID), nil
}

// SetViewing 客户端打开会话时定期刷新
func (s *PresenceService) SetViewing(ctx context.Context, userID, conversationID uint) error {
	if _, _, err := loadMembership(ctx, s.store(), conversationID, userID); err != nil {
		return err
	}
	return s.deps.Presence.SetViewing(ctx, conversationID, userID, s.cfg().ViewingTTL())
}

// ClearViewing 客户端离开会话
func (s *PresenceService) ClearViewing(ctx context.Context, userID, conversationID uint) error {
	return s.deps.Presence.ClearViewing(ctx, conversationID, userID)
}
