package repositories

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/Gopher0727/ChatEngine/internal/models"
)

// MessageRepository 消息仓储
type MessageRepository struct {
	db *gorm.DB
}

// NewMessageRepository 创建消息仓储实例
func NewMessageRepository(db *gorm.DB) *MessageRepository {
	return &MessageRepository{db: db}
}

// Viewer 描述某个用户能看到的消息范围
type Viewer struct {
	UserID          uint
	ClearedBeforeID int64
}

// Create 创建消息
func (r *MessageRepository) Create(ctx context.Context, msg *models.Message) error {
	return r.db.WithContext(ctx).Create(msg).Error
}

// GetByID 根据ID获取消息
func (r *MessageRepository) GetByID(ctx context.Context, id int64) (*models.Message, error) {
	var msg models.Message
	if err := r.db.WithContext(ctx).First(&msg, id).Error; err != nil {
		return nil, err
	}
	return &msg, nil
}

// GetByIDs 批量获取消息，按 ID 建立索引
func (r *MessageRepository) GetByIDs(ctx context.Context, ids []int64) (map[int64]models.Message, error) {
	out := make(map[int64]models.Message, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var msgs []models.Message
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&msgs).Error; err != nil {
		return nil, err
	}
	for _, m := range msgs {
		out[m.ID] = m
	}
	return out, nil
}

// Update 更新消息字段
func (r *MessageRepository) Update(ctx context.Context, id int64, updates map[string]any) error {
	return r.db.WithContext(ctx).Model(&models.Message{}).Where("id = ?", id).Updates(updates).Error
}

// Hide "仅对我删除"，重复调用无副作用
func (r *MessageRepository) Hide(ctx context.Context, messageID int64, userID uint) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&models.HiddenMessage{MessageID: messageID, UserID: userID}).Error
}

// IsHidden 消息是否已被该用户隐藏
func (r *MessageRepository) IsHidden(ctx context.Context, messageID int64, userID uint) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.HiddenMessage{}).
		Where("message_id = ? AND user_id = ?", messageID, userID).
		Count(&count).Error
	return count > 0, err
}

// visible 对 viewer 可见的消息：排除清空历史之前的和被本人隐藏的
func (r *MessageRepository) visible(ctx context.Context, conversationID uint, v Viewer) *gorm.DB {
	return r.db.WithContext(ctx).
		Where("messages.conversation_id = ? AND messages.id > ?", conversationID, v.ClearedBeforeID).
		Where("NOT EXISTS (SELECT 1 FROM hidden_messages h WHERE h.message_id = messages.id AND h.user_id = ?)", v.UserID)
}

// ListVisible 游标分页，新消息在前，cursor 为上一页最后一条消息的 ID
func (r *MessageRepository) ListVisible(ctx context.Context, conversationID uint, v Viewer, cursor *int64, limit int) ([]models.Message, error) {
	q := r.visible(ctx, conversationID, v)
	if cursor != nil {
		q = q.Where("messages.id < ?", *cursor)
	}
	var msgs []models.Message
	err := q.Order("messages.id DESC").Limit(limit).Find(&msgs).Error
	return msgs, err
}

// LastVisible 会话中 viewer 能看到的最后一条消息
func (r *MessageRepository) LastVisible(ctx context.Context, conversationID uint, v Viewer) (*models.Message, error) {
	var msg models.Message
	if err := r.visible(ctx, conversationID, v).Order("messages.id DESC").First(&msg).Error; err != nil {
		return nil, err
	}
	return &msg, nil
}

// ListPinned 会话中 viewer 能看到的置顶消息
func (r *MessageRepository) ListPinned(ctx context.Context, conversationID uint, v Viewer) ([]models.Message, error) {
	var msgs []models.Message
	err := r.visible(ctx, conversationID, v).
		Where("messages.is_pinned = ?", true).
		Order("messages.id DESC").
		Find(&msgs).Error
	return msgs, err
}

// LatestID 会话最新消息的 ID，没有消息时为 0
func (r *MessageRepository) LatestID(ctx context.Context, conversationID uint) (int64, error) {
	var id int64
	err := r.db.WithContext(ctx).Model(&models.Message{}).
		Where("conversation_id = ?", conversationID).
		Select("COALESCE(MAX(id), 0)").
		Row().
		Scan(&id)
	return id, err
}

// IncrementChannelViews 浏览量加一，只对频道消息生效
func (r *MessageRepository) IncrementChannelViews(ctx context.Context, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	db := r.db.WithContext(ctx)
	channels := db.Model(&models.Conversation{}).Select("id").Where("type = ?", models.ConversationChannel)
	res := db.Model(&models.Message{}).
		Where("id IN ? AND deleted_for_all_at IS NULL", ids).
		Where("conversation_id IN (?)", channels).
		UpdateColumn("views_count", gorm.Expr("views_count + 1"))
	return res.RowsAffected, res.Error
}

// StatRow 统计用的精简消息行
type StatRow struct {
	SenderID  uint
	CreatedAt time.Time
}

// StatRows 会话中所有普通且未被全员删除的消息，按时间正序
func (r *MessageRepository) StatRows(ctx context.Context, conversationID uint) ([]StatRow, error) {
	var rows []StatRow
	err := r.db.WithContext(ctx).Model(&models.Message{}).
		Select("sender_id, created_at").
		Where("conversation_id = ? AND type = ? AND deleted_for_all_at IS NULL", conversationID, models.MessageRegular).
		Order("id ASC").
		Scan(&rows).Error
	return rows, err
}

// CountPinned 会话中置顶消息数
func (r *MessageRepository) CountPinned(ctx context.Context, conversationID uint) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Message{}).
		Where("conversation_id = ? AND is_pinned = ?", conversationID, true).
		Count(&count).Error
	return count, err
}
