package services

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"

	"github.com/Gopher0727/ChatEngine/internal/errs"
	"github.com/Gopher0727/ChatEngine/internal/events"
	"github.com/Gopher0727/ChatEngine/internal/models"
	"github.com/Gopher0727/ChatEngine/internal/repositories"
	"github.com/Gopher0727/ChatEngine/internal/utils"
)

// InviteService 邀请链接：创建、预览、加入、撤销
type InviteService struct {
	*base
	previews singleflight.Group
}

func newInviteService(b *base) *InviteService {
	return &InviteService{base: b}
}

// CreateInviteLinkRequest 创建邀请链接请求，nil 表示不限制
type CreateInviteLinkRequest struct {
	UsageLimit       *int `json:"usage_limit"`
	ExpiresInMinutes *int `json:"expires_in_minutes"`
}

// InvitePreview 未登录也可以查看的邀请预览
type InvitePreview struct {
	Code           string                  `json:"code"`
	ConversationID uint                    `json:"conversation_id"`
	Type           models.ConversationType `json:"type"`
	Title          string                  `json:"title"`
	AvatarURL      string                  `json:"avatar_url"`
	Description    string                  `json:"description"`
	MembersCount   int64                   `json:"members_count"`
	ExpiresAt      *time.Time              `json:"expires_at,omitempty"`
	Valid          bool                    `json:"valid"`
}

// CreateInviteLink 管理员为群组/频道创建邀请链接
func (s *InviteService) CreateInviteLink(ctx context.Context, userID, conversationID uint, req *CreateInviteLinkRequest) (*models.InviteLink, error) {
	if req.UsageLimit != nil && *req.UsageLimit < 1 {
		return nil, ErrInvalidUsageLimit
	}
	if req.ExpiresInMinutes != nil && *req.ExpiresInMinutes < 1 {
		return nil, ErrInvalidExpiry
	}
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

	now := s.now()
	invite := &models.InviteLink{
		ConversationID: conv.ID,
		UsageLimit:     req.UsageLimit,
		CreatedBy:      userID,
		CreatedAt:      now,
	}
	if req.ExpiresInMinutes != nil {
		expires := now.Add(time.Duration(*req.ExpiresInMinutes) * time.Minute)
		invite.ExpiresAt = &expires
	}

	// 随机码极小概率冲突，重试几次
	for attempt := 0; ; attempt++ {
		invite.ID = 0
		invite.Code, err = utils.GenerateInviteCode(s.cfg().InviteCodeLength)
		if err != nil {
			return nil, err
		}
		err = s.store().Invites.Create(ctx, invite)
		if errors.Is(err, gorm.ErrDuplicatedKey) && attempt < 3 {
			continue
		}
		if err != nil {
			return nil, err
		}
		return invite, nil
	}
}

// JoinViaInvite 通过邀请码加入
// 使用次数通过条件更新原子占用，与成员写入在同一事务中
func (s *InviteService) JoinViaInvite(ctx context.Context, userID uint, code string) (*models.Conversation, error) {
	var (
		conv *models.Conversation
		sys  *models.Message
	)
	err := s.store().Transaction(ctx, func(tx *repositories.Store) error {
		invite, err := tx.Invites.GetByCode(ctx, code)
		if err != nil {
			return translate(err, ErrInviteNotFound)
		}
		if invite.Revoked() {
			return ErrInviteRevoked
		}
		if invite.Expired(s.now()) {
			return ErrInviteExpired
		}
		conv, err = loadConversation(ctx, tx, invite.ConversationID)
		if err != nil {
			return err
		}
		_, err = tx.Participants.GetActive(ctx, conv.ID, userID)
		if err == nil {
			return ErrAlreadyMember
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		ok, err := tx.Invites.Redeem(ctx, invite.ID)
		if err != nil {
			return err
		}
		if !ok {
			return ErrInviteLimitReached
		}
		if err := s.joinMember(ctx, tx, conv, userID); err != nil {
			return err
		}
		if conv.Type == models.ConversationGroup {
			sys, err = s.systemMessage(ctx, tx, conv, userID, models.ActionParticipantJoined, "")
			return err
		}
		return nil
	})
	if err != nil {
		s.deps.Metrics.InviteRedeemed(errs.ReasonOf(err))
		return nil, err
	}
	s.deps.Metrics.InviteRedeemed("joined")

	s.emitToConversation(ctx, conv.ID, events.ConversationUpdated, ConversationEvent{ConversationID: conv.ID, Conversation: conv})
	s.publishSystem(ctx, conv, sys)
	return conv, nil
}

// GetConversationByInvite 邀请预览，相同邀请码的并发请求合并为一次查询
func (s *InviteService) GetConversationByInvite(ctx context.Context, code string) (*InvitePreview, error) {
	v, err, _ := s.previews.Do(code, func() (any, error) {
		return s.loadPreview(context.WithoutCancel(ctx), code)
	})
	if err != nil {
		return nil, err
	}
	preview := *v.(*InvitePreview)
	return &preview, nil
}

func (s *InviteService) loadPreview(ctx context.Context, code string) (*InvitePreview, error) {
	invite, err := s.store().Invites.GetByCode(ctx, code)
	if err != nil {
		return nil, translate(err, ErrInviteNotFound)
	}
	conv, err := loadConversation(ctx, s.store(), invite.ConversationID)
	if err != nil {
		return nil, err
	}
	members, err := s.store().Participants.CountActive(ctx, conv.ID)
	if err != nil {
		return nil, err
	}
	return &InvitePreview{
		Code:           invite.Code,
		ConversationID: conv.ID,
		Type:           conv.Type,
		Title:          conv.Title,
		AvatarURL:      conv.AvatarURL,
		Description:    conv.Description,
		MembersCount:   members,
		ExpiresAt:      invite.ExpiresAt,
		Valid:          invite.Usable(s.now()),
	}, nil
}

// RevokeInviteLink 撤销邀请链接，重复撤销无副作用
func (s *InviteService) RevokeInviteLink(ctx context.Context, userID, inviteID uint) error {
	invite, err := s.store().Invites.GetByID(ctx, inviteID)
	if err != nil {
		return translate(err, ErrInviteNotFound)
	}
	if _, _, err := loadAdmin(ctx, s.store(), invite.ConversationID, userID); err != nil {
		return err
	}
	return s.store().Invites.Revoke(ctx, invite.ID, s.now())
}

// ListConversationInvites 会话的全部邀请链接（仅管理员）
func (s *InviteService) ListConversationInvites(ctx context.Context, userID, conversationID uint) ([]models.InviteLink, error) {
	conv, _, err := loadAdmin(ctx, s.store(), conversationID, userID)
	if err != nil {
		return nil, err
	}
	if conv.IsDirect() {
		return nil, ErrDirectConversation
	}
	return s.store().Invites.ListByConversation(ctx, conv.ID)
}
