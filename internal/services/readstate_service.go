package services

import (
	"context"
	"fmt"
	"time"

	"github.com/Gopher0727/ChatEngine/internal/events"
	"github.com/Gopher0727/ChatEngine/internal/models"
	"github.com/Gopher0727/ChatEngine/internal/repositories"
)

// MuteForever 无限期静音：当前时间加一百年
const MuteForever = 100 * 365 * 24 * time.Hour

// ReadStateService 已读、手动未读、归档、静音、置顶
type ReadStateService struct {
	*base
}

// PinState 置顶状态
type PinState struct {
	ConversationID uint `json:"conversation_id"`
	IsPinned       bool `json:"is_pinned"`
	PinOrder       *int `json:"pin_order"`
}

// MarkMessagesRead 清零未读，记录最后已读消息；私聊中通知对方
func (s *ReadStateService) MarkMessagesRead(ctx context.Context, userID, conversationID uint) error {
	conv, p, err := loadMembership(ctx, s.store(), conversationID, userID)
	if err != nil {
		return err
	}
	latest, err := s.store().Messages.LatestID(ctx, conversationID)
	if err != nil {
		return err
	}
	updates := map[string]any{
		"unread_count":       0,
		"is_manually_unread": false,
	}
	var lastRead *int64
	if latest > 0 {
		updates["last_read_message_id"] = latest
		lastRead = &latest
	}
	if err := s.store().Participants.Update(ctx, p.ID, updates); err != nil {
		return err
	}

	if conv.IsDirect() {
		ids, err := s.store().Participants.ActiveUserIDs(ctx, conversationID)
		if err != nil {
			return err
		}
		s.emit(ctx, except(ids, userID), events.MessagesRead, MessagesReadEvent{
			ConversationID:    conversationID,
			UserID:            userID,
			LastReadMessageID: lastRead,
		})
	}
	return nil
}

// MarkConversationAsUnread 手动标记为未读
func (s *ReadStateService) MarkConversationAsUnread(ctx context.Context, userID, conversationID uint) error {
	_, p, err := loadMembership(ctx, s.store(), conversationID, userID)
	if err != nil {
		return err
	}
	return s.store().Participants.Update(ctx, p.ID, map[string]any{"is_manually_unread": true})
}

// ToggleArchiveConversation 切换归档，归档同时清除手动未读并取消置顶
func (s *ReadStateService) ToggleArchiveConversation(ctx context.Context, userID, conversationID uint) (bool, error) {
	_, p, err := loadMembership(ctx, s.store(), conversationID, userID)
	if err != nil {
		return false, err
	}
	archived := !p.IsArchived
	updates := map[string]any{"is_archived": archived}
	if archived {
		updates["is_manually_unread"] = false
		updates["is_pinned"] = false
		updates["pin_order"] = nil
	}
	if err := s.store().Participants.Update(ctx, p.ID, updates); err != nil {
		return false, err
	}
	return archived, nil
}

// ToggleMuteConversation 切换静音，返回新的 mutedUntil（nil 表示未静音）
func (s *ReadStateService) ToggleMuteConversation(ctx context.Context, userID, conversationID uint) (*time.Time, error) {
	_, p, err := loadMembership(ctx, s.store(), conversationID, userID)
	if err != nil {
		return nil, err
	}
	var mutedUntil *time.Time
	if !p.IsMuted(s.now()) {
		until := s.now().Add(MuteForever)
		mutedUntil = &until
	}
	if err := s.store().Participants.Update(ctx, p.ID, map[string]any{"muted_until": mutedUntil}); err != nil {
		return nil, err
	}
	return mutedUntil, nil
}

func pinLockKey(userID uint) string {
	return fmt.Sprintf("pin:%d", userID)
}

// TogglePinConversation 切换置顶：置顶时排在最后并取消归档
func (s *ReadStateService) TogglePinConversation(ctx context.Context, userID, conversationID uint) (*PinState, error) {
	if _, _, err := loadMembership(ctx, s.store(), conversationID, userID); err != nil {
		return nil, err
	}

	unlock, err := s.lock(ctx, pinLockKey(userID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	state := &PinState{ConversationID: conversationID}
	err = s.store().Transaction(ctx, func(tx *repositories.Store) error {
		// 加锁后重新读取，避免使用过期的置顶状态
		current, err := tx.Participants.GetActive(ctx, conversationID, userID)
		if err != nil {
			return translate(err, ErrNotParticipant)
		}
		if current.IsPinned {
			return tx.Participants.Update(ctx, current.ID, map[string]any{"is_pinned": false, "pin_order": nil})
		}
		maxOrder, err := tx.Participants.MaxPinOrder(ctx, userID)
		if err != nil {
			return err
		}
		order := maxOrder + 1
		state.IsPinned, state.PinOrder = true, &order
		return tx.Participants.Update(ctx, current.ID, map[string]any{
			"is_pinned":   true,
			"pin_order":   order,
			"is_archived": false,
		})
	})
	if err != nil {
		return nil, err
	}
	return state, nil
}

// UpdatePinOrder 重排置顶：先按给定顺序排列其中当前已置顶的会话，其余置顶会话保持原顺序排在后面，统一重新编号为 1..n
func (s *ReadStateService) UpdatePinOrder(ctx context.Context, userID uint, conversationIDs []uint) ([]PinState, error) {
	unlock, err := s.lock(ctx, pinLockKey(userID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	var out []PinState
	err = s.store().Transaction(ctx, func(tx *repositories.Store) error {
		pinned, err := tx.Participants.Pinned(ctx, userID)
		if err != nil {
			return err
		}
		ordered := reorderPins(pinned, conversationIDs)
		out = make([]PinState, 0, len(ordered))
		for i, p := range ordered {
			order := i + 1
			if p.PinOrder == nil || *p.PinOrder != order {
				if err := tx.Participants.Update(ctx, p.ID, map[string]any{"pin_order": order}); err != nil {
					return err
				}
			}
			out = append(out, PinState{ConversationID: p.ConversationID, IsPinned: true, PinOrder: &order})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// reorderPins 给定顺序中已置顶的在前（去重），其余保持原有顺序
func reorderPins(pinned []models.Participant, requested []uint) []models.Participant {
	byConversation := make(map[uint]models.Participant, len(pinned))
	for _, p := range pinned {
		byConversation[p.ConversationID] = p
	}
	out := make([]models.Participant, 0, len(pinned))
	used := make(map[uint]bool, len(pinned))
	for _, id := range requested {
		p, ok := byConversation[id]
		if !ok || used[id] {
			continue
		}
		used[id] = true
		out = append(out, p)
	}
	for _, p := range pinned {
		if !used[p.ConversationID] {
			out = append(out, p)
		}
	}
	return out
}
