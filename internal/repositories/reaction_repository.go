package repositories

import (
	"context"

	"gorm.io/gorm"

	"github.com/Gopher0727/ChatEngine/internal/models"
)

type ReactionRepository struct {
	db *gorm.DB
}

func NewReactionRepository(db *gorm.DB) *ReactionRepository {
	return &ReactionRepository{db: db}
}

// Get 用户对消息的表情，不存在返回 gorm.ErrRecordNotFound
func (r *ReactionRepository) Get(ctx context.Context, messageID int64, userID uint) (*models.Reaction, error) {
	var reaction models.Reaction
	err := r.db.WithContext(ctx).
		Where("message_id = ? AND user_id = ?", messageID, userID).
		First(&reaction).Error
	if err != nil {
		return nil, err
	}
	return &reaction, nil
}

func (r *ReactionRepository) Create(ctx context.Context, reaction *models.Reaction) error {
	return r.db.WithContext(ctx).Create(reaction).Error
}

func (r *ReactionRepository) UpdateEmoji(ctx context.Context, id uint, emoji string) error {
	return r.db.WithContext(ctx).Model(&models.Reaction{}).Where("id = ?", id).Update("emoji", emoji).Error
}

func (r *ReactionRepository) Delete(ctx context.Context, id uint) error {
	return r.db.WithContext(ctx).Delete(&models.Reaction{}, id).Error
}

// EmojiCount 某条消息上某个表情的数量
type EmojiCount struct {
	MessageID int64  `json:"-"`
	Emoji     string `json:"emoji"`
	Count     int64  `json:"count"`
}

// Summaries 批量统计消息的表情分布
func (r *ReactionRepository) Summaries(ctx context.Context, messageIDs []int64) (map[int64][]EmojiCount, error) {
	out := make(map[int64][]EmojiCount)
	if len(messageIDs) == 0 {
		return out, nil
	}
	var rows []EmojiCount
	err := r.db.WithContext(ctx).Model(&models.Reaction{}).
		Select("message_id, emoji, COUNT(*) AS count").
		Where("message_id IN ?", messageIDs).
		Group("message_id, emoji").
		Order("count DESC, emoji ASC").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		out[row.MessageID] = append(out[row.MessageID], row)
	}
	return out, nil
}

// UserEmojis 用户在给定消息上的表情
func (r *ReactionRepository) UserEmojis(ctx context.Context, messageIDs []int64, userID uint) (map[int64]string, error) {
	out := make(map[int64]string)
	if len(messageIDs) == 0 {
		return out, nil
	}
	var reactions []models.Reaction
	err := r.db.WithContext(ctx).
		Where("message_id IN ? AND user_id = ?", messageIDs, userID).
		Find(&reactions).Error
	if err != nil {
		return nil, err
	}
	for _, reaction := range reactions {
		out[reaction.MessageID] = reaction.Emoji
	}
	return out, nil
}

// ReactionStats 会话内表情统计（相对于某个用户）
type ReactionStats struct {
	Total    int64
	Sent     int64
	Received int64
}

// StatsForConversation 统计会话中普通且未删除消息上的表情：总数、本人发出的、本人消息收到的（不含自己）
func (r *ReactionRepository) StatsForConversation(ctx context.Context, conversationID, userID uint) (ReactionStats, error) {
	var stats ReactionStats
	err := r.db.WithContext(ctx).Model(&models.Reaction{}).
		Joins("JOIN messages ON messages.id = reactions.message_id").
		Where("messages.conversation_id = ? AND messages.type = ?", conversationID, models.MessageRegular).
		Where("messages.deleted_for_all_at IS NULL").
		Select(
			"COUNT(*) AS total, "+
				"COALESCE(SUM(CASE WHEN reactions.user_id = ? THEN 1 ELSE 0 END), 0) AS sent, "+
				"COALESCE(SUM(CASE WHEN messages.sender_id = ? AND reactions.user_id <> ? THEN 1 ELSE 0 END), 0) AS received",
			userID, userID, userID,
		).
		Scan(&stats).Error
	return stats, err
}
