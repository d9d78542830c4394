package services

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/Gopher0727/ChatEngine/internal/events"
	"github.com/Gopher0727/ChatEngine/internal/models"
	"github.com/Gopher0727/ChatEngine/internal/repositories"
	"github.com/Gopher0727/ChatEngine/internal/utils"
)

// 表情状态迁移
const (
	ReactionAdded    = "added"
	ReactionRemoved  = "removed"
	ReactionReplaced = "replaced"
)

// ReactionService 消息表情：每个用户每条消息最多一个表情
type ReactionService struct {
	*base
}

// ReactionResult 切换之后的最终状态，Emoji 为空表示已取消
type ReactionResult struct {
	MessageID  int64                     `json:"message_id"`
	Emoji      string                    `json:"emoji,omitempty"`
	Transition string                    `json:"transition"`
	Reactions  []repositories.EmojiCount `json:"reactions"`
}

// ToggleMessageReaction 无 → 添加；相同表情 → 取消；不同表情 → 替换
// 同一用户对同一消息的操作由分布式锁串行化，读改写在同一事务中完成
func (s *ReactionService) ToggleMessageReaction(ctx context.Context, userID uint, messageID int64, emoji string) (*ReactionResult, error) {
	if !utils.IsValidEmoji(emoji) {
		return nil, ErrInvalidEmoji
	}
	msg, err := s.store().Messages.GetByID(ctx, messageID)
	if err != nil {
		return nil, translate(err, ErrMessageNotFound)
	}
	conv, p, err := loadMembership(ctx, s.store(), msg.ConversationID, userID)
	if err != nil {
		return nil, err
	}
	visible, err := messageVisible(ctx, s.store(), msg, p)
	if err != nil {
		return nil, err
	}
	if !visible {
		return nil, ErrMessageNotFound
	}
	if msg.IsTombstone() {
		return nil, ErrMessageDeleted
	}
	if msg.Type == models.MessageSystem {
		return nil, ErrSystemMessage
	}

	unlock, err := s.lock(ctx, fmt.Sprintf("reaction:%d:%d", userID, messageID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	result := &ReactionResult{MessageID: messageID}
	err = s.store().Transaction(ctx, func(tx *repositories.Store) error {
		existing, err := tx.Reactions.Get(ctx, messageID, userID)
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			result.Transition, result.Emoji = ReactionAdded, emoji
			return tx.Reactions.Create(ctx, &models.Reaction{MessageID: messageID, UserID: userID, Emoji: emoji})
		case err != nil:
			return err
		case existing.Emoji == emoji:
			result.Transition = ReactionRemoved
			return tx.Reactions.Delete(ctx, existing.ID)
		default:
			result.Transition, result.Emoji = ReactionReplaced, emoji
			return tx.Reactions.UpdateEmoji(ctx, existing.ID, emoji)
		}
	})
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return nil, ErrBusy
	}
	if err != nil {
		return nil, err
	}
	s.deps.Metrics.ReactionToggled(result.Transition)

	dto, err := s.buildMessageDTO(ctx, msg, userID)
	if err != nil {
		return nil, err
	}
	result.Reactions = dto.Reactions

	// 广播给所有人的版本不带 my_reaction
	shared := *dto
	shared.MyReaction = ""
	s.emitToConversation(ctx, conv.ID, events.MessageUpdated, &shared)

	if result.Transition != ReactionRemoved && msg.SenderID != userID {
		s.notifyReaction(ctx, msg, userID, emoji)
	}
	return result, nil
}

// notifyReaction 消息发送者没有在查看该会话时，提醒有新的表情
func (s *ReactionService) notifyReaction(ctx context.Context, msg *models.Message, reactorID uint, emoji string) {
	event := ReactionEvent{
		ConversationID: msg.ConversationID,
		MessageID:      msg.ID,
		UserID:         reactorID,
		Emoji:          emoji,
	}
	s.async(ctx, "unread_reaction", func(ctx context.Context) error {
		if s.deps.Presence != nil {
			viewing, err := s.deps.Presence.IsViewing(ctx, msg.ConversationID, msg.SenderID)
			if err != nil {
				return err
			}
			if viewing {
				return nil
			}
		}
		if s.deps.Broadcaster != nil {
			s.deps.Broadcaster.Broadcast(events.UserRoom(msg.SenderID), events.UnreadReaction, event)
		}
		if s.deps.Notifier != nil {
			return s.deps.Notifier.Notify(ctx, msg.SenderID, events.KindReaction, event)
		}
		return nil
	})
}
