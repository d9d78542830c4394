package services

import (
	"context"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/Gopher0727/ChatEngine/internal/events"
	"github.com/Gopher0727/ChatEngine/internal/models"
	"github.com/Gopher0727/ChatEngine/internal/repositories"
	"github.com/Gopher0727/ChatEngine/internal/utils"
)

// MessageService 消息服务：发送、编辑、删除、转发、浏览量、置顶
type MessageService struct {
	*base
	conversations *ConversationService
}

// SendMessageRequest 发送消息请求，ConversationID 与 TargetUserID 必须且只能提供一个
type SendMessageRequest struct {
	ConversationID *uint    `json:"conversation_id"`
	TargetUserID   *uint    `json:"target_user_id"`
	Content        string   `json:"content"`
	Images         []string `json:"images"`
	ReplyToID      *int64   `json:"reply_to_id"`
}

// SendMessage 发送消息
func (s *MessageService) SendMessage(ctx context.Context, userID uint, req *SendMessageRequest) (*MessageDTO, error) {
	if (req.ConversationID == nil) == (req.TargetUserID == nil) {
		return nil, ErrInvalidTarget
	}
	content := strings.TrimSpace(req.Content)
	images := utils.TrimNonBlank(req.Images)
	if content == "" && len(images) == 0 {
		return nil, ErrEmptyMessage
	}
	if len(images) > s.cfg().MaxImages {
		return nil, ErrTooManyImages
	}

	var conversationID uint
	if req.TargetUserID != nil {
		conv, err := s.conversations.CreateDirect(ctx, userID, *req.TargetUserID)
		if err != nil {
			return nil, err
		}
		conversationID = conv.ID
	} else {
		conversationID = *req.ConversationID
	}

	conv, p, err := loadMembership(ctx, s.store(), conversationID, userID)
	if err != nil {
		return nil, err
	}
	if conv.IsChannel() && !p.IsAdmin() {
		return nil, ErrChannelReadOnly
	}
	if req.ReplyToID != nil {
		reply, err := s.store().Messages.GetByID(ctx, *req.ReplyToID)
		if err != nil {
			return nil, translate(err, ErrMessageNotFound)
		}
		if reply.ConversationID != conv.ID {
			return nil, ErrReplyOutside
		}
	}

	id, err := s.deps.IDs.NextID()
	if err != nil {
		return nil, err
	}
	msg := &models.Message{
		ID:             id,
		ConversationID: conv.ID,
		SenderID:       userID,
		Type:           models.MessageRegular,
		Content:        &content,
		Images:         images,
		ReplyToID:      req.ReplyToID,
		CreatedAt:      s.now(),
	}
	err = s.store().Transaction(ctx, func(tx *repositories.Store) error {
		return s.insertMessage(ctx, tx, p, msg)
	})
	if err != nil {
		return nil, err
	}

	s.deps.Metrics.MessageSent(string(conv.Type), "send")
	dto, err := s.buildMessageDTO(ctx, msg, userID)
	if err != nil {
		return nil, err
	}
	s.publishMessage(ctx, conv, dto)
	return dto, nil
}

// insertMessage 写入普通消息：刷新会话活动时间，其他成员未读数加一并取消隐藏
func (s *MessageService) insertMessage(ctx context.Context, tx *repositories.Store, sender *models.Participant, msg *models.Message) error {
	if err := tx.Messages.Create(ctx, msg); err != nil {
		return err
	}
	if err := tx.Conversations.Touch(ctx, msg.ConversationID, msg.CreatedAt); err != nil {
		return err
	}
	if err := tx.Participants.IncrementUnread(ctx, msg.ConversationID, msg.SenderID); err != nil {
		return err
	}
	if sender.IsHidden {
		return tx.Participants.Update(ctx, sender.ID, map[string]any{"is_hidden": false})
	}
	return nil
}

// publishMessage 推送新消息，并通知未静音的接收者
func (s *MessageService) publishMessage(ctx context.Context, conv *models.Conversation, dto *MessageDTO) {
	s.emitToConversation(ctx, conv.ID, events.MessageReceived, dto)
	if s.deps.Notifier == nil {
		return
	}
	s.async(ctx, "notify", func(ctx context.Context) error {
		participants, err := s.store().Participants.ListActive(ctx, conv.ID)
		if err != nil {
			return err
		}
		now := s.now()
		payload := NewMessageNotification{
			ConversationID: conv.ID,
			MessageID:      dto.ID,
			SenderID:       dto.SenderID,
			Preview:        preview(dto),
		}
		for _, p := range participants {
			if p.UserID == dto.SenderID || p.IsMuted(now) {
				continue
			}
			if err := s.deps.Notifier.Notify(ctx, p.UserID, events.KindNewMessage, payload); err != nil {
				return err
			}
		}
		return nil
	})
}

const previewLength = 80

func preview(dto *MessageDTO) string {
	if dto.Content == nil || *dto.Content == "" {
		if len(dto.Images) > 0 {
			return "[图片]"
		}
		return ""
	}
	text := *dto.Content
	if utf8.RuneCountInString(text) <= previewLength {
		return text
	}
	return string([]rune(text)[:previewLength]) + "…"
}

// EditMessage 编辑自己发送的消息
func (s *MessageService) EditMessage(ctx context.Context, userID uint, messageID int64, content string) (*MessageDTO, error) {
	msg, err := s.store().Messages.GetByID(ctx, messageID)
	if err != nil {
		return nil, translate(err, ErrMessageNotFound)
	}
	if msg.SenderID != userID {
		return nil, ErrNotSender
	}
	if msg.Type == models.MessageSystem || msg.IsTombstone() {
		return nil, ErrNotEditable
	}
	content = strings.TrimSpace(content)
	if content == "" && len(msg.Images) == 0 {
		return nil, ErrEmptyMessage
	}

	now := s.now()
	if err := s.store().Messages.Update(ctx, msg.ID, map[string]any{"content": content, "edited_at": now}); err != nil {
		return nil, err
	}
	msg.Content = &content
	msg.EditedAt = &now

	dto, err := s.buildMessageDTO(ctx, msg, userID)
	if err != nil {
		return nil, err
	}
	s.emitToConversation(ctx, msg.ConversationID, events.MessageUpdated, dto)
	return dto, nil
}

// DeleteMessage ALL：发送者或群组/频道管理员删除，所有人可见墓碑；ME：仅对自己隐藏
func (s *MessageService) DeleteMessage(ctx context.Context, userID uint, messageID int64, scope string) error {
	if scope != DeleteForMe && scope != DeleteForAll {
		return ErrInvalidDeleteType
	}
	msg, err := s.store().Messages.GetByID(ctx, messageID)
	if err != nil {
		return translate(err, ErrMessageNotFound)
	}
	conv, p, err := loadMembership(ctx, s.store(), msg.ConversationID, userID)
	if err != nil {
		return err
	}
	event := MessageDeletedEvent{ConversationID: conv.ID, MessageID: msg.ID, Type: scope}

	if scope == DeleteForMe {
		if err := s.store().Messages.Hide(ctx, msg.ID, userID); err != nil {
			return err
		}
		s.emit(ctx, []uint{userID}, events.MessageDeleted, event)
		return nil
	}

	if msg.SenderID != userID && (conv.IsDirect() || !p.IsAdmin()) {
		return ErrNotSender
	}
	if msg.IsTombstone() {
		return nil
	}
	err = s.store().Messages.Update(ctx, msg.ID, map[string]any{
		"content":            nil,
		"images":             nil,
		"is_pinned":          false,
		"deleted_for_all_at": s.now(),
	})
	if err != nil {
		return err
	}
	s.emitToConversation(ctx, conv.ID, events.MessageDeleted, event)
	return nil
}

// ForwardMessage 转发到多个会话，调用方无权发言的目标直接跳过，只返回实际创建的副本
func (s *MessageService) ForwardMessage(ctx context.Context, userID uint, messageID int64, targetIDs []uint) ([]*MessageDTO, error) {
	targetIDs = dedupe(targetIDs)
	if len(targetIDs) == 0 {
		return nil, ErrNoForwardTargets
	}
	if len(targetIDs) > s.cfg().MaxForwardTargets {
		return nil, ErrTooManyTargets
	}

	src, err := s.store().Messages.GetByID(ctx, messageID)
	if err != nil {
		return nil, translate(err, ErrMessageNotFound)
	}
	_, srcParticipant, err := loadMembership(ctx, s.store(), src.ConversationID, userID)
	if err != nil {
		return nil, err
	}
	visible, err := messageVisible(ctx, s.store(), src, srcParticipant)
	if err != nil {
		return nil, err
	}
	if !visible {
		return nil, ErrMessageNotFound
	}
	if src.IsTombstone() {
		return nil, ErrMessageDeleted
	}
	if src.Type == models.MessageSystem {
		return nil, ErrSystemMessage
	}

	origin := src.ID
	if src.ForwardedFromID != nil {
		origin = *src.ForwardedFromID
	}

	type target struct {
		conv *models.Conversation
		copy *models.Message
	}
	var targets []target
	err = s.store().Transaction(ctx, func(tx *repositories.Store) error {
		targets = targets[:0]
		for _, id := range targetIDs {
			conv, p, err := loadMembership(ctx, tx, id, userID)
			if err != nil {
				if isDomain(err) {
					continue
				}
				return err
			}
			// 频道只有管理员可以发言
			if conv.IsChannel() && !p.IsAdmin() {
				continue
			}
			msgID, err := s.deps.IDs.NextID()
			if err != nil {
				return err
			}
			msg := &models.Message{
				ID:              msgID,
				ConversationID:  conv.ID,
				SenderID:        userID,
				Type:            models.MessageRegular,
				Content:         src.Content,
				Images:          append([]string(nil), src.Images...),
				ForwardedFromID: &origin,
				CreatedAt:       s.now(),
			}
			if err := s.insertMessage(ctx, tx, p, msg); err != nil {
				return err
			}
			targets = append(targets, target{conv: conv, copy: msg})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	out := make([]*MessageDTO, 0, len(targets))
	for _, t := range targets {
		s.deps.Metrics.MessageSent(string(t.conv.Type), "forward")
		dto := toMessageDTO(t.copy)
		s.publishMessage(ctx, t.conv, dto)
		out = append(out, dto)
	}
	return out, nil
}

// IncrementMessageViews 频道消息浏览量，每个用户每条消息只计一次，失败只记录日志
func (s *MessageService) IncrementMessageViews(ctx context.Context, userID uint, messageIDs []int64) {
	messageIDs = dedupe(messageIDs)
	if len(messageIDs) == 0 {
		return
	}
	s.async(ctx, "views", func(ctx context.Context) error {
		msgs, err := s.store().Messages.GetByIDs(ctx, messageIDs)
		if err != nil {
			return err
		}
		convIDs := make([]uint, 0, len(msgs))
		for _, m := range msgs {
			convIDs = append(convIDs, m.ConversationID)
		}
		convs, err := s.store().Conversations.GetByIDs(ctx, dedupe(convIDs))
		if err != nil {
			return err
		}

		var counted []int64
		for _, id := range messageIDs {
			m, ok := msgs[id]
			if !ok || m.IsTombstone() {
				continue
			}
			if conv, ok := convs[m.ConversationID]; !ok || !conv.IsChannel() {
				continue
			}
			first := true
			if s.deps.Presence != nil {
				if first, err = s.deps.Presence.MarkViewed(ctx, id, userID); err != nil {
					return err
				}
			}
			if first {
				counted = append(counted, id)
			}
		}
		_, err = s.store().Messages.IncrementChannelViews(ctx, counted)
		return err
	})
}

// TogglePinMessage 置顶/取消置顶消息，群组和频道需要管理员
func (s *MessageService) TogglePinMessage(ctx context.Context, userID uint, messageID int64) (*MessageDTO, error) {
	msg, err := s.store().Messages.GetByID(ctx, messageID)
	if err != nil {
		return nil, translate(err, ErrMessageNotFound)
	}
	conv, _, err := loadAdmin(ctx, s.store(), msg.ConversationID, userID)
	if err != nil {
		return nil, err
	}
	if msg.IsTombstone() {
		return nil, ErrMessageDeleted
	}
	if msg.Type == models.MessageSystem {
		return nil, ErrSystemMessage
	}

	pinned := !msg.IsPinned
	action := models.ActionMessagePinned
	if !pinned {
		action = models.ActionMessageUnpinned
	}
	var sys *models.Message
	err = s.store().Transaction(ctx, func(tx *repositories.Store) error {
		if err := tx.Messages.Update(ctx, msg.ID, map[string]any{"is_pinned": pinned}); err != nil {
			return err
		}
		if conv.IsChannel() {
			return nil
		}
		sys, err = s.systemMessage(ctx, tx, conv, userID, action, strconv.FormatInt(msg.ID, 10))
		return err
	})
	if err != nil {
		return nil, err
	}
	msg.IsPinned = pinned

	dto, err := s.buildMessageDTO(ctx, msg, userID)
	if err != nil {
		return nil, err
	}
	s.emitToConversation(ctx, conv.ID, events.MessageUpdated, dto)
	s.publishSystem(ctx, conv, sys)
	return dto, nil
}

// buildMessageDTO 单条消息的完整表示（表情汇总与回复预览），MyReaction 相对于 viewerID
func (b *base) buildMessageDTO(ctx context.Context, msg *models.Message, viewerID uint) (*MessageDTO, error) {
	dtos, err := b.buildMessageDTOs(ctx, []models.Message{*msg}, viewerID)
	if err != nil {
		return nil, err
	}
	return dtos[0], nil
}

// buildMessageDTOs 批量组装消息，保持输入顺序
func (b *base) buildMessageDTOs(ctx context.Context, msgs []models.Message, viewerID uint) ([]*MessageDTO, error) {
	ids := make([]int64, 0, len(msgs))
	var replyIDs []int64
	for _, m := range msgs {
		ids = append(ids, m.ID)
		if m.ReplyToID != nil {
			replyIDs = append(replyIDs, *m.ReplyToID)
		}
	}

	summaries, err := b.store().Reactions.Summaries(ctx, ids)
	if err != nil {
		return nil, err
	}
	mine, err := b.store().Reactions.UserEmojis(ctx, ids, viewerID)
	if err != nil {
		return nil, err
	}
	replies, err := b.store().Messages.GetByIDs(ctx, dedupe(replyIDs))
	if err != nil {
		return nil, err
	}

	out := make([]*MessageDTO, 0, len(msgs))
	for i := range msgs {
		dto := toMessageDTO(&msgs[i])
		if summary, ok := summaries[dto.ID]; ok {
			dto.Reactions = summary
		}
		dto.MyReaction = mine[dto.ID]
		if dto.ReplyToID != nil {
			if reply, ok := replies[*dto.ReplyToID]; ok {
				dto.ReplyTo = toReplyPreview(&reply)
			}
		}
		out = append(out, dto)
	}
	return out, nil
}
