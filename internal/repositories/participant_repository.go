package repositories

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/Gopher0727/ChatEngine/internal/models"
)

type ParticipantRepository struct {
	db *gorm.DB
}

func NewParticipantRepository(db *gorm.DB) *ParticipantRepository {
	return &ParticipantRepository{db: db}
}

// Create 批量创建成员记录
func (r *ParticipantRepository) Create(ctx context.Context, participants ...*models.Participant) error {
	if len(participants) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Create(participants).Error
}

// Get 获取成员记录（包含已离开的）
func (r *ParticipantRepository) Get(ctx context.Context, conversationID, userID uint) (*models.Participant, error) {
	var p models.Participant
	err := r.db.WithContext(ctx).
		Where("conversation_id = ? AND user_id = ?", conversationID, userID).
		First(&p).Error
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// GetActive 获取仍在会话中的成员记录，已离开返回 gorm.ErrRecordNotFound
func (r *ParticipantRepository) GetActive(ctx context.Context, conversationID, userID uint) (*models.Participant, error) {
	var p models.Participant
	err := r.db.WithContext(ctx).
		Where("conversation_id = ? AND user_id = ? AND left_at IS NULL", conversationID, userID).
		First(&p).Error
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// ListActive 会话的活跃成员，管理员在前，其余按加入时间排序
func (r *ParticipantRepository) ListActive(ctx context.Context, conversationID uint) ([]models.Participant, error) {
	var participants []models.Participant
	err := r.db.WithContext(ctx).
		Preload("User").
		Where("conversation_id = ? AND left_at IS NULL", conversationID).
		Order("CASE WHEN role = 'ADMIN' THEN 0 ELSE 1 END").
		Order("joined_at ASC, id ASC").
		Find(&participants).Error
	return participants, err
}

// ActiveUserIDs 会话活跃成员的用户 ID
func (r *ParticipantRepository) ActiveUserIDs(ctx context.Context, conversationID uint) ([]uint, error) {
	var ids []uint
	err := r.db.WithContext(ctx).Model(&models.Participant{}).
		Where("conversation_id = ? AND left_at IS NULL", conversationID).
		Order("user_id").
		Pluck("user_id", &ids).Error
	return ids, err
}

// CountActive 会话活跃成员数
func (r *ParticipantRepository) CountActive(ctx context.Context, conversationID uint) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Participant{}).
		Where("conversation_id = ? AND left_at IS NULL", conversationID).
		Count(&count).Error
	return count, err
}

// CountActiveAdmins 会话中仍在的管理员数
func (r *ParticipantRepository) CountActiveAdmins(ctx context.Context, conversationID uint) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Participant{}).
		Where("conversation_id = ? AND role = ? AND left_at IS NULL", conversationID, models.RoleAdmin).
		Count(&count).Error
	return count, err
}

// ActiveAdminsForUpdate 锁定会话中仍在的管理员行，需在事务中调用
func (r *ParticipantRepository) ActiveAdminsForUpdate(ctx context.Context, conversationID uint) ([]models.Participant, error) {
	var admins []models.Participant
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("conversation_id = ? AND role = ? AND left_at IS NULL", conversationID, models.RoleAdmin).
		Order("id").
		Find(&admins).Error
	return admins, err
}

// CountActiveByConversations 批量统计活跃成员数
func (r *ParticipantRepository) CountActiveByConversations(ctx context.Context, conversationIDs []uint) (map[uint]int64, error) {
	out := make(map[uint]int64, len(conversationIDs))
	if len(conversationIDs) == 0 {
		return out, nil
	}
	var rows []struct {
		ConversationID uint
		Count          int64
	}
	err := r.db.WithContext(ctx).Model(&models.Participant{}).
		Select("conversation_id, COUNT(*) AS count").
		Where("conversation_id IN ? AND left_at IS NULL", conversationIDs).
		Group("conversation_id").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		out[row.ConversationID] = row.Count
	}
	return out, nil
}

// Update 更新成员记录的指定字段
func (r *ParticipantRepository) Update(ctx context.Context, id uint, updates map[string]any) error {
	return r.db.WithContext(ctx).Model(&models.Participant{}).Where("id = ?", id).Updates(updates).Error
}

// Reactivate 离开后重新加入：复用原记录并重置为全新的活跃状态
func (r *ParticipantRepository) Reactivate(ctx context.Context, id uint, role models.Role, now time.Time) error {
	return r.Update(ctx, id, map[string]any{
		"role":                 role,
		"joined_at":            now,
		"left_at":              nil,
		"is_pinned":            false,
		"pin_order":            nil,
		"muted_until":          nil,
		"is_archived":          false,
		"is_manually_unread":   false,
		"is_hidden":            false,
		"unread_count":         0,
		"last_read_message_id": nil,
	})
}

// MarkLeft 标记成员离开，同时取消置顶
func (r *ParticipantRepository) MarkLeft(ctx context.Context, id uint, now time.Time) error {
	return r.Update(ctx, id, map[string]any{
		"left_at":   now,
		"is_pinned": false,
		"pin_order": nil,
	})
}

// IncrementUnread 其他活跃成员未读数加一，并取消隐藏
func (r *ParticipantRepository) IncrementUnread(ctx context.Context, conversationID, senderID uint) error {
	return r.db.WithContext(ctx).Model(&models.Participant{}).
		Where("conversation_id = ? AND user_id <> ? AND left_at IS NULL", conversationID, senderID).
		Updates(map[string]any{
			"unread_count": gorm.Expr("unread_count + 1"),
			"is_hidden":    false,
		}).Error
}

// ListForUser 用户的会话列表：置顶在前（按置顶顺序），其余按最后活动时间倒序
func (r *ParticipantRepository) ListForUser(ctx context.Context, userID uint, archived bool) ([]models.Participant, error) {
	var participants []models.Participant
	err := r.db.WithContext(ctx).
		Joins("JOIN conversations ON conversations.id = participants.conversation_id").
		Where("participants.user_id = ? AND participants.left_at IS NULL", userID).
		Where("participants.is_hidden = ? AND participants.is_archived = ?", false, archived).
		Order("participants.is_pinned DESC").
		Order("participants.pin_order ASC").
		Order("conversations.updated_at DESC").
		Find(&participants).Error
	return participants, err
}

// Pinned 用户当前置顶的会话，按置顶顺序
func (r *ParticipantRepository) Pinned(ctx context.Context, userID uint) ([]models.Participant, error) {
	var participants []models.Participant
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND is_pinned = ? AND left_at IS NULL", userID, true).
		Order("pin_order ASC, id ASC").
		Find(&participants).Error
	return participants, err
}

// MaxPinOrder 用户当前最大的置顶序号，没有置顶时为 0
func (r *ParticipantRepository) MaxPinOrder(ctx context.Context, userID uint) (int, error) {
	var maxOrder int
	err := r.db.WithContext(ctx).Model(&models.Participant{}).
		Where("user_id = ? AND is_pinned = ?", userID, true).
		Select("COALESCE(MAX(pin_order), 0)").
		Row().
		Scan(&maxOrder)
	return maxOrder, err
}

// UnreadCandidates 有未读或手动未读标记、未归档、未隐藏的活跃会话
// 静音过滤在服务层完成
func (r *ParticipantRepository) UnreadCandidates(ctx context.Context, userID uint) ([]models.Participant, error) {
	var participants []models.Participant
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND left_at IS NULL", userID).
		Where("is_archived = ? AND is_hidden = ?", false, false).
		Where("(unread_count > 0 OR is_manually_unread = ?)", true).
		Find(&participants).Error
	return participants, err
}

// Counterparts 私聊中对方的用户 ID，按会话 ID 建立索引
func (r *ParticipantRepository) Counterparts(ctx context.Context, conversationIDs []uint, userID uint) (map[uint]uint, error) {
	out := make(map[uint]uint, len(conversationIDs))
	if len(conversationIDs) == 0 {
		return out, nil
	}
	var rows []models.Participant
	err := r.db.WithContext(ctx).
		Select("conversation_id", "user_id").
		Where("conversation_id IN ? AND user_id <> ?", conversationIDs, userID).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		out[row.ConversationID] = row.UserID
	}
	return out, nil
}

// MemberOf 用户在给定会话中是否为活跃成员
func (r *ParticipantRepository) MemberOf(ctx context.Context, userID uint, conversationIDs []uint) (map[uint]bool, error) {
	out := make(map[uint]bool, len(conversationIDs))
	if len(conversationIDs) == 0 {
		return out, nil
	}
	var ids []uint
	err := r.db.WithContext(ctx).Model(&models.Participant{}).
		Where("user_id = ? AND conversation_id IN ? AND left_at IS NULL", userID, conversationIDs).
		Pluck("conversation_id", &ids).Error
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		out[id] = true
	}
	return out, nil
}
