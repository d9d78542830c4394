package repositories

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/Gopher0727/ChatEngine/internal/models"
)

type InviteRepository struct {
	db *gorm.DB
}

func NewInviteRepository(db *gorm.DB) *InviteRepository {
	return &InviteRepository{db: db}
}

// Create 创建邀请链接
func (r *InviteRepository) Create(ctx context.Context, invite *models.InviteLink) error {
	return r.db.WithContext(ctx).Create(invite).Error
}

// GetByCode 根据邀请码查询
func (r *InviteRepository) GetByCode(ctx context.Context, code string) (*models.InviteLink, error) {
	var invite models.InviteLink
	if err := r.db.WithContext(ctx).Where("code = ?", code).First(&invite).Error; err != nil {
		return nil, err
	}
	return &invite, nil
}

func (r *InviteRepository) GetByID(ctx context.Context, id uint) (*models.InviteLink, error) {
	var invite models.InviteLink
	if err := r.db.WithContext(ctx).First(&invite, id).Error; err != nil {
		return nil, err
	}
	return &invite, nil
}

// ListByConversation 会话的全部邀请链接，新的在前
func (r *InviteRepository) ListByConversation(ctx context.Context, conversationID uint) ([]models.InviteLink, error) {
	var invites []models.InviteLink
	err := r.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("created_at DESC, id DESC").
		Find(&invites).Error
	return invites, err
}

// Redeem 原子地占用一次使用次数
// 条件更新只在未撤销且未达上限时生效，返回 false 表示没有占用成功
func (r *InviteRepository) Redeem(ctx context.Context, id uint) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.InviteLink{}).
		Where("id = ? AND revoked_at IS NULL", id).
		Where("(usage_limit IS NULL OR usage_count < usage_limit)").
		UpdateColumn("usage_count", gorm.Expr("usage_count + 1"))
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// Revoke 撤销邀请链接，已撤销的保持原撤销时间
func (r *InviteRepository) Revoke(ctx context.Context, id uint, now time.Time) error {
	return r.db.WithContext(ctx).Model(&models.InviteLink{}).
		Where("id = ? AND revoked_at IS NULL", id).
		UpdateColumn("revoked_at", now).Error
}
