package repositories

import (
	"context"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/Gopher0727/ChatEngine/internal/models"
)

type ConversationRepository struct {
	db *gorm.DB
}

func NewConversationRepository(db *gorm.DB) *ConversationRepository {
	return &ConversationRepository{db: db}
}

// Create 创建会话
func (r *ConversationRepository) Create(ctx context.Context, conv *models.Conversation) error {
	return r.db.WithContext(ctx).Create(conv).Error
}

// GetByID 根据 ID 获取会话
func (r *ConversationRepository) GetByID(ctx context.Context, id uint) (*models.Conversation, error) {
	var conv models.Conversation
	if err := r.db.WithContext(ctx).First(&conv, id).Error; err != nil {
		return nil, err
	}
	return &conv, nil
}

// GetByIDs 批量获取会话，按 ID 建立索引
func (r *ConversationRepository) GetByIDs(ctx context.Context, ids []uint) (map[uint]models.Conversation, error) {
	out := make(map[uint]models.Conversation, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var convs []models.Conversation
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&convs).Error; err != nil {
		return nil, err
	}
	for _, c := range convs {
		out[c.ID] = c
	}
	return out, nil
}

// GetByDirectKey 查找一对用户之间的私聊
func (r *ConversationRepository) GetByDirectKey(ctx context.Context, key string) (*models.Conversation, error) {
	var conv models.Conversation
	if err := r.db.WithContext(ctx).Where("direct_key = ?", key).First(&conv).Error; err != nil {
		return nil, err
	}
	return &conv, nil
}

// SlugTaken slug 是否已被其他会话占用（slug 统一存小写）
func (r *ConversationRepository) SlugTaken(ctx context.Context, slug string, excludeID uint) (bool, error) {
	var count int64
	q := r.db.WithContext(ctx).Model(&models.Conversation{}).Where("slug = ?", slug)
	if excludeID != 0 {
		q = q.Where("id <> ?", excludeID)
	}
	err := q.Count(&count).Error
	return count > 0, err
}

// Update 更新会话字段，同时刷新 updated_at
func (r *ConversationRepository) Update(ctx context.Context, id uint, updates map[string]any) error {
	return r.db.WithContext(ctx).Model(&models.Conversation{ID: id}).Updates(updates).Error
}

// Touch 刷新会话的最后活动时间，用于会话列表排序
func (r *ConversationRepository) Touch(ctx context.Context, id uint, at time.Time) error {
	return r.db.WithContext(ctx).Model(&models.Conversation{}).
		Where("id = ?", id).
		UpdateColumn("updated_at", at).Error
}

// SearchDiscoverable 按标题或 slug 模糊搜索可被发现的群组/频道
func (r *ConversationRepository) SearchDiscoverable(ctx context.Context, query string, limit int) ([]models.Conversation, error) {
	pattern := "%" + escapeLike(strings.ToLower(query)) + "%"
	var convs []models.Conversation
	err := r.db.WithContext(ctx).
		Where("type IN ?", []models.ConversationType{models.ConversationGroup, models.ConversationChannel}).
		Where("slug IS NOT NULL AND slug <> ''").
		Where("(LOWER(title) LIKE ? ESCAPE '\\' OR slug LIKE ? ESCAPE '\\')", pattern, pattern).
		Order("updated_at DESC").
		Limit(limit).
		Find(&convs).Error
	return convs, err
}

// DeleteCascade 删除会话及其全部消息、表情、邀请和成员记录，须在事务中调用
func (r *ConversationRepository) DeleteCascade(ctx context.Context, id uint) error {
	db := r.db.WithContext(ctx)
	messageIDs := db.Model(&models.Message{}).Select("id").Where("conversation_id = ?", id)

	if err := db.Where("message_id IN (?)", messageIDs).Delete(&models.Reaction{}).Error; err != nil {
		return err
	}
	if err := db.Where("message_id IN (?)", messageIDs).Delete(&models.HiddenMessage{}).Error; err != nil {
		return err
	}
	if err := db.Where("conversation_id = ?", id).Delete(&models.Message{}).Error; err != nil {
		return err
	}
	if err := db.Where("conversation_id = ?", id).Delete(&models.InviteLink{}).Error; err != nil {
		return err
	}
	if err := db.Where("conversation_id = ?", id).Delete(&models.Participant{}).Error; err != nil {
		return err
	}
	return db.Delete(&models.Conversation{}, id).Error
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
