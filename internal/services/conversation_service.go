package services

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"gorm.io/gorm"

	"github.com/Gopher0727/ChatEngine/internal/events"
	"github.com/Gopher0727/ChatEngine/internal/models"
	"github.com/Gopher0727/ChatEngine/internal/repositories"
	"github.com/Gopher0727/ChatEngine/internal/utils"
)

func membersLockKey(conversationID uint) string {
	return "members:" + strconv.FormatUint(uint64(conversationID), 10)
}

// 删除范围
const (
	DeleteForMe  = "ME"
	DeleteForAll = "ALL"
)

// ConversationService 会话生命周期：创建、更新、加入、移除、退出、删除
type ConversationService struct {
	*base
}

// CreateGroupRequest 创建群组请求
type CreateGroupRequest struct {
	ParticipantIDs []uint `json:"participant_ids" binding:"required"`
	Title          string `json:"title" binding:"required"`
	AvatarURL      string `json:"avatar_url"`
}

// CreateChannelRequest 创建频道请求
type CreateChannelRequest struct {
	Title       string  `json:"title" binding:"required"`
	Slug        *string `json:"slug"`
	Description string  `json:"description"`
	AvatarURL   string  `json:"avatar_url"`
}

// UpdateConversationRequest 更新会话请求，nil 表示不修改，空 slug 表示清除
type UpdateConversationRequest struct {
	Title       *string `json:"title"`
	AvatarURL   *string `json:"avatar_url"`
	Description *string `json:"description"`
	Slug        *string `json:"slug"`
}

// CreateDirect 获取或创建与目标用户的私聊
func (s *ConversationService) CreateDirect(ctx context.Context, userID, targetID uint) (*models.Conversation, error) {
	if userID == targetID {
		return nil, ErrSelfConversation
	}
	exists, err := s.store().Users.Exists(ctx, targetID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, ErrUserNotFound
	}

	conv, created, err := s.findOrCreateDirect(ctx, userID, targetID)
	if err != nil {
		return nil, err
	}

	// 之前删除过（隐藏）的私聊重新出现在列表中
	p, err := s.store().Participants.Get(ctx, conv.ID, userID)
	if err != nil {
		return nil, err
	}
	if p.IsHidden {
		if err := s.store().Participants.Update(ctx, p.ID, map[string]any{"is_hidden": false}); err != nil {
			return nil, err
		}
	}

	if created {
		s.emit(ctx, []uint{userID, targetID}, events.ConversationUpdated, ConversationEvent{ConversationID: conv.ID, Conversation: conv})
	}
	return conv, nil
}

// findOrCreateDirect 私聊唯一性由 direct_key 唯一索引保证，并发插入失败的一方重新读取
func (s *ConversationService) findOrCreateDirect(ctx context.Context, userID, targetID uint) (*models.Conversation, bool, error) {
	key := models.DirectKeyFor(userID, targetID)
	conv, err := s.store().Conversations.GetByDirectKey(ctx, key)
	if err == nil {
		return conv, false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, err
	}

	now := s.now()
	conv = &models.Conversation{
		Type:      models.ConversationDirect,
		DirectKey: &key,
		CreatedBy: userID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	err = s.store().Transaction(ctx, func(tx *repositories.Store) error {
		if err := tx.Conversations.Create(ctx, conv); err != nil {
			return err
		}
		return tx.Participants.Create(ctx,
			&models.Participant{ConversationID: conv.ID, UserID: userID, Role: models.RoleMember, JoinedAt: now},
			&models.Participant{ConversationID: conv.ID, UserID: targetID, Role: models.RoleMember, JoinedAt: now},
		)
	})
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		conv, err = s.store().Conversations.GetByDirectKey(ctx, key)
		return conv, false, err
	}
	if err != nil {
		return nil, false, err
	}
	return conv, true, nil
}

// CreateGroup 创建群组，创建者为管理员
func (s *ConversationService) CreateGroup(ctx context.Context, userID uint, req *CreateGroupRequest) (*models.Conversation, error) {
	title := strings.TrimSpace(req.Title)
	if title == "" {
		return nil, ErrTitleRequired
	}
	others := dedupe(except(req.ParticipantIDs, userID))
	if len(others) < 2 {
		return nil, ErrNotEnoughParticipants
	}
	count, err := s.store().Users.CountExisting(ctx, others)
	if err != nil {
		return nil, err
	}
	if count != int64(len(others)) {
		return nil, ErrUserNotFound
	}

	now := s.now()
	conv := &models.Conversation{
		Type:      models.ConversationGroup,
		Title:     title,
		AvatarURL: req.AvatarURL,
		CreatedBy: userID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	var sys *models.Message
	err = s.store().Transaction(ctx, func(tx *repositories.Store) error {
		if err := tx.Conversations.Create(ctx, conv); err != nil {
			return err
		}
		participants := []*models.Participant{
			{ConversationID: conv.ID, UserID: userID, Role: models.RoleAdmin, JoinedAt: now},
		}
		for _, id := range others {
			participants = append(participants, &models.Participant{
				ConversationID: conv.ID, UserID: id, Role: models.RoleMember, JoinedAt: now,
			})
		}
		if err := tx.Participants.Create(ctx, participants...); err != nil {
			return err
		}
		sys, err = s.systemMessage(ctx, tx, conv, userID, models.ActionGroupCreated, title)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.emit(ctx, append([]uint{userID}, others...), events.ConversationUpdated, ConversationEvent{ConversationID: conv.ID, Conversation: conv})
	s.publishSystem(ctx, conv, sys)
	return conv, nil
}

// CreateChannel 创建频道，创建者为管理员；带 slug 的频道可以被搜索和直接加入
func (s *ConversationService) CreateChannel(ctx context.Context, userID uint, req *CreateChannelRequest) (*models.Conversation, error) {
	title := strings.TrimSpace(req.Title)
	if title == "" {
		return nil, ErrTitleRequired
	}
	var slug *string
	if req.Slug != nil && strings.TrimSpace(*req.Slug) != "" {
		normalized, err := s.checkSlug(ctx, *req.Slug, 0)
		if err != nil {
			return nil, err
		}
		slug = &normalized
	}

	now := s.now()
	conv := &models.Conversation{
		Type:        models.ConversationChannel,
		Title:       title,
		AvatarURL:   req.AvatarURL,
		Description: req.Description,
		Slug:        slug,
		CreatedBy:   userID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	err := s.store().Transaction(ctx, func(tx *repositories.Store) error {
		if err := tx.Conversations.Create(ctx, conv); err != nil {
			return err
		}
		return tx.Participants.Create(ctx, &models.Participant{
			ConversationID: conv.ID, UserID: userID, Role: models.RoleAdmin, JoinedAt: now,
		})
	})
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return nil, ErrSlugTaken
	}
	if err != nil {
		return nil, err
	}

	s.emit(ctx, []uint{userID}, events.ConversationUpdated, ConversationEvent{ConversationID: conv.ID, Conversation: conv})
	return conv, nil
}

// IsSlugAvailable slug 格式合法且未被占用
func (s *ConversationService) IsSlugAvailable(ctx context.Context, slug string) (bool, error) {
	normalized := utils.NormalizeSlug(slug)
	if !utils.ValidateSlug(normalized) {
		return false, ErrInvalidSlug
	}
	taken, err := s.store().Conversations.SlugTaken(ctx, normalized, 0)
	if err != nil {
		return false, err
	}
	return !taken, nil
}

// checkSlug 规范化、校验并检查占用，返回规范化后的 slug
func (s *ConversationService) checkSlug(ctx context.Context, raw string, excludeID uint) (string, error) {
	slug := utils.NormalizeSlug(raw)
	if !utils.ValidateSlug(slug) {
		return "", ErrInvalidSlug
	}
	taken, err := s.store().Conversations.SlugTaken(ctx, slug, excludeID)
	if err != nil {
		return "", err
	}
	if taken {
		return "", ErrSlugTaken
	}
	return slug, nil
}

// UpdateConversation 更新群组/频道资料
func (s *ConversationService) UpdateConversation(ctx context.Context, userID, conversationID uint, req *UpdateConversationRequest) (*models.Conversation, error) {
	conv, p, err := loadMembership(ctx, s.store(), conversationID, userID)
	if err != nil {
		return nil, err
	}
	if conv.IsDirect() {
		return nil, ErrDirectConversation
	}
	if !p.IsAdmin() {
		return nil, ErrAdminRequired
	}

	updates := make(map[string]any)
	titleChanged := false
	if req.Title != nil {
		title := strings.TrimSpace(*req.Title)
		if title == "" {
			return nil, ErrTitleRequired
		}
		if title != conv.Title {
			updates["title"] = title
			titleChanged = true
		}
	}
	if req.AvatarURL != nil {
		updates["avatar_url"] = *req.AvatarURL
	}
	if req.Description != nil {
		updates["description"] = *req.Description
	}
	if req.Slug != nil {
		if strings.TrimSpace(*req.Slug) == "" {
			updates["slug"] = nil
		} else {
			slug, err := s.checkSlug(ctx, *req.Slug, conv.ID)
			if err != nil {
				return nil, err
			}
			updates["slug"] = slug
		}
	}
	if len(updates) == 0 {
		return conv, nil
	}

	var sys *models.Message
	err = s.store().Transaction(ctx, func(tx *repositories.Store) error {
		if err := tx.Conversations.Update(ctx, conv.ID, updates); err != nil {
			return err
		}
		if titleChanged && conv.Type == models.ConversationGroup {
			sys, err = s.systemMessage(ctx, tx, conv, userID, models.ActionTitleChanged, updates["title"].(string))
			return err
		}
		return nil
	})
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return nil, ErrSlugTaken
	}
	if err != nil {
		return nil, err
	}

	conv, err = loadConversation(ctx, s.store(), conv.ID)
	if err != nil {
		return nil, err
	}
	s.emitToConversation(ctx, conv.ID, events.ConversationUpdated, ConversationEvent{ConversationID: conv.ID, Conversation: conv})
	s.publishSystem(ctx, conv, sys)
	return conv, nil
}

// JoinChannel 加入公开频道
func (s *ConversationService) JoinChannel(ctx context.Context, userID, conversationID uint) (*models.Conversation, error) {
	conv, err := loadConversation(ctx, s.store(), conversationID)
	if err != nil {
		return nil, err
	}
	switch {
	case conv.Type == models.ConversationGroup:
		return nil, ErrInviteRequired
	case conv.IsDirect():
		return nil, ErrNotChannel
	case !conv.Discoverable():
		return nil, ErrPrivateChannel
	}

	err = s.store().Transaction(ctx, func(tx *repositories.Store) error {
		return s.joinMember(ctx, tx, conv, userID)
	})
	if err != nil {
		return nil, err
	}
	s.emitToConversation(ctx, conv.ID, events.ConversationUpdated, ConversationEvent{ConversationID: conv.ID, Conversation: conv})
	return conv, nil
}

// joinMember 新建成员记录，或重新激活已离开的记录
func (b *base) joinMember(ctx context.Context, tx *repositories.Store, conv *models.Conversation, userID uint) error {
	now := b.now()
	existing, err := tx.Participants.Get(ctx, conv.ID, userID)
	switch {
	case err == nil && existing.Active():
		return ErrAlreadyMember
	case err == nil:
		return tx.Participants.Reactivate(ctx, existing.ID, models.RoleMember, now)
	case errors.Is(err, gorm.ErrRecordNotFound):
		err = tx.Participants.Create(ctx, &models.Participant{
			ConversationID: conv.ID, UserID: userID, Role: models.RoleMember, JoinedAt: now,
		})
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrAlreadyMember
		}
		return err
	default:
		return err
	}
}

// KickFromConversation 管理员移除成员
func (s *ConversationService) KickFromConversation(ctx context.Context, actorID, conversationID, targetID uint) error {
	conv, actor, err := loadMembership(ctx, s.store(), conversationID, actorID)
	if err != nil {
		return err
	}
	if conv.IsDirect() {
		return ErrDirectConversation
	}
	if !actor.IsAdmin() {
		return ErrAdminRequired
	}
	if targetID == actorID {
		return ErrCannotKickSelf
	}
	target, err := s.store().Participants.GetActive(ctx, conversationID, targetID)
	if err != nil {
		return translate(err, ErrParticipantNotFound)
	}
	if target.IsAdmin() {
		admins, err := s.store().Participants.CountActiveAdmins(ctx, conversationID)
		if err != nil {
			return err
		}
		if admins <= 1 {
			return ErrLastAdmin
		}
		return ErrCannotKickAdmin
	}

	var sys *models.Message
	err = s.store().Transaction(ctx, func(tx *repositories.Store) error {
		if err := tx.Participants.MarkLeft(ctx, target.ID, s.now()); err != nil {
			return err
		}
		if conv.Type == models.ConversationGroup {
			sys, err = s.systemMessage(ctx, tx, conv, actorID, models.ActionParticipantKicked, strconv.FormatUint(uint64(targetID), 10))
			return err
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.emitToConversation(ctx, conv.ID, events.ConversationUpdated, ConversationEvent{ConversationID: conv.ID, Conversation: conv})
	s.emit(ctx, []uint{targetID}, events.ConversationDeleted, ConversationEvent{ConversationID: conv.ID})
	s.publishSystem(ctx, conv, sys)
	return nil
}

// LeaveConversation 退出群组/频道
// 唯一的管理员退出且还有其他成员时，必须指定新的管理员，移交与退出在同一事务中完成
// 管理员数量在事务内锁定后重新统计，并发退出不会让会话失去管理员
func (s *ConversationService) LeaveConversation(ctx context.Context, userID, conversationID uint, newAdminID *uint) error {
	conv, err := loadConversation(ctx, s.store(), conversationID)
	if err != nil {
		return err
	}
	if conv.IsDirect() {
		return ErrDirectConversation
	}

	unlock, err := s.lock(ctx, membersLockKey(conversationID))
	if err != nil {
		return err
	}
	defer unlock()

	var msgs []*models.Message
	err = s.store().Transaction(ctx, func(tx *repositories.Store) error {
		p, err := tx.Participants.GetActive(ctx, conversationID, userID)
		if err != nil {
			return translate(err, ErrNotParticipant)
		}

		var successor *models.Participant
		if p.IsAdmin() {
			admins, err := tx.Participants.ActiveAdminsForUpdate(ctx, conversationID)
			if err != nil {
				return err
			}
			active, err := tx.Participants.CountActive(ctx, conversationID)
			if err != nil {
				return err
			}
			if len(admins) == 1 && active > 1 && newAdminID == nil {
				return ErrNewAdminRequired
			}
			if newAdminID != nil && active > 1 {
				if *newAdminID == userID {
					return ErrInvalidNewAdmin
				}
				successor, err = tx.Participants.GetActive(ctx, conversationID, *newAdminID)
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return ErrInvalidNewAdmin
				}
				if err != nil {
					return err
				}
			}
		}

		if successor != nil && !successor.IsAdmin() {
			if err := tx.Participants.Update(ctx, successor.ID, map[string]any{"role": models.RoleAdmin}); err != nil {
				return err
			}
			if conv.Type == models.ConversationGroup {
				sys, err := s.systemMessage(ctx, tx, conv, userID, models.ActionAdminTransferred, strconv.FormatUint(uint64(successor.UserID), 10))
				if err != nil {
					return err
				}
				msgs = append(msgs, sys)
			}
		}
		if err := tx.Participants.MarkLeft(ctx, p.ID, s.now()); err != nil {
			return err
		}
		if conv.Type == models.ConversationGroup {
			sys, err := s.systemMessage(ctx, tx, conv, userID, models.ActionParticipantLeft, "")
			if err != nil {
				return err
			}
			msgs = append(msgs, sys)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.emitToConversation(ctx, conv.ID, events.ConversationUpdated, ConversationEvent{ConversationID: conv.ID, Conversation: conv})
	s.emit(ctx, []uint{userID}, events.ConversationDeleted, ConversationEvent{ConversationID: conv.ID})
	for _, m := range msgs {
		s.publishSystem(ctx, conv, m)
	}
	return nil
}

// AddParticipantToConversation 管理员添加成员
func (s *ConversationService) AddParticipantToConversation(ctx context.Context, actorID, conversationID, userID uint) error {
	conv, _, err := loadAdmin(ctx, s.store(), conversationID, actorID)
	if err != nil {
		return err
	}
	if conv.IsDirect() {
		return ErrDirectConversation
	}
	exists, err := s.store().Users.Exists(ctx, userID)
	if err != nil {
		return err
	}
	if !exists {
		return ErrUserNotFound
	}

	var sys *models.Message
	err = s.store().Transaction(ctx, func(tx *repositories.Store) error {
		if err := s.joinMember(ctx, tx, conv, userID); err != nil {
			return err
		}
		if conv.Type == models.ConversationGroup {
			sys, err = s.systemMessage(ctx, tx, conv, actorID, models.ActionParticipantAdded, strconv.FormatUint(uint64(userID), 10))
			return err
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.emitToConversation(ctx, conv.ID, events.ConversationUpdated, ConversationEvent{ConversationID: conv.ID, Conversation: conv})
	s.publishSystem(ctx, conv, sys)
	return nil
}

// DeleteConversation ME：清空本人历史并从列表隐藏；ALL：删除会话及其全部数据
func (s *ConversationService) DeleteConversation(ctx context.Context, userID, conversationID uint, scope string) error {
	if scope != DeleteForMe && scope != DeleteForAll {
		return ErrInvalidDeleteType
	}
	conv, p, err := loadMembership(ctx, s.store(), conversationID, userID)
	if err != nil {
		return err
	}

	if scope == DeleteForMe {
		if !conv.IsDirect() && p.IsAdmin() {
			return ErrAdminCannotClear
		}
		latest, err := s.store().Messages.LatestID(ctx, conversationID)
		if err != nil {
			return err
		}
		updates := map[string]any{
			"is_hidden":          true,
			"cleared_before_id":  latest,
			"unread_count":       0,
			"is_manually_unread": false,
			"is_pinned":          false,
			"pin_order":          nil,
		}
		if latest > 0 {
			updates["last_read_message_id"] = latest
		}
		if err := s.store().Participants.Update(ctx, p.ID, updates); err != nil {
			return err
		}
		s.emit(ctx, []uint{userID}, events.ConversationDeleted, ConversationEvent{ConversationID: conversationID})
		return nil
	}

	if !conv.IsDirect() && !p.IsAdmin() {
		return ErrAdminRequired
	}
	members, err := s.store().Participants.ActiveUserIDs(ctx, conversationID)
	if err != nil {
		return err
	}
	err = s.store().Transaction(ctx, func(tx *repositories.Store) error {
		return tx.Conversations.DeleteCascade(ctx, conversationID)
	})
	if err != nil {
		return err
	}
	s.emit(ctx, members, events.ConversationDeleted, ConversationEvent{ConversationID: conversationID})
	return nil
}

// systemMessage 写入系统消息并刷新会话活动时间，不增加未读数
func (b *base) systemMessage(ctx context.Context, tx *repositories.Store, conv *models.Conversation, actorID uint, action, detail string) (*models.Message, error) {
	id, err := b.deps.IDs.NextID()
	if err != nil {
		return nil, err
	}
	now := b.now()
	msg := &models.Message{
		ID:             id,
		ConversationID: conv.ID,
		SenderID:       actorID,
		Type:           models.MessageSystem,
		SystemAction:   action,
		CreatedAt:      now,
	}
	if detail != "" {
		msg.Content = &detail
	}
	if err := tx.Messages.Create(ctx, msg); err != nil {
		return nil, err
	}
	if err := tx.Conversations.Touch(ctx, conv.ID, now); err != nil {
		return nil, err
	}
	return msg, nil
}

// publishSystem 提交后推送系统消息
func (b *base) publishSystem(ctx context.Context, conv *models.Conversation, msg *models.Message) {
	if msg == nil {
		return
	}
	b.deps.Metrics.MessageSent(string(conv.Type), "system")
	b.emitToConversation(ctx, conv.ID, events.MessageReceived, toMessageDTO(msg))
}
