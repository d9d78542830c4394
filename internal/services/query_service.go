package services

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"gorm.io/gorm"

	"github.com/Gopher0727/ChatEngine/internal/models"
	"github.com/Gopher0727/ChatEngine/internal/repositories"
)

// QueryService 只读查询：会话列表、消息分页、统计与搜索
type QueryService struct {
	*base
}

// ConversationEntry 会话列表中的一项，带上调用者自己的状态
type ConversationEntry struct {
	models.Conversation

	LastMessage       *MessageDTO  `json:"last_message"`
	UnreadCount       int          `json:"unread_count"`
	IsManuallyUnread  bool         `json:"is_manually_unread"`
	ParticipantsCount int64        `json:"participants_count"`
	MyRole            models.Role  `json:"my_role"`
	IsPinned          bool         `json:"is_pinned"`
	PinOrder          *int         `json:"pin_order"`
	MutedUntil        *time.Time   `json:"muted_until"`
	IsMuted           bool         `json:"is_muted"`
	IsArchived        bool         `json:"is_archived"`
	HasLeft           bool         `json:"has_left"`
	OtherUser         *models.User `json:"other_user,omitempty"`
}

// MessagePage 消息分页，NextCursor 为 nil 表示没有更多
type MessagePage struct {
	Messages   []*MessageDTO `json:"messages"`
	NextCursor *int64        `json:"next_cursor"`
}

// ParticipantDTO 成员列表项
type ParticipantDTO struct {
	UserID    uint        `json:"user_id"`
	Username  string      `json:"username"`
	AvatarURL string      `json:"avatar_url"`
	Role      models.Role `json:"role"`
	JoinedAt  time.Time   `json:"joined_at"`
}

// DailyStat 按天统计
type DailyStat struct {
	Date     string `json:"date"`
	Total    int64  `json:"total"`
	Sent     int64  `json:"sent"`
	Received int64  `json:"received"`
}

// ConversationStats 会话统计，只统计普通且未被全员删除的消息
type ConversationStats struct {
	ConversationID    uint        `json:"conversation_id"`
	TotalMessages     int64       `json:"total_messages"`
	SentMessages      int64       `json:"sent_messages"`
	ReceivedMessages  int64       `json:"received_messages"`
	TotalReactions    int64       `json:"total_reactions"`
	SentReactions     int64       `json:"sent_reactions"`
	ReceivedReactions int64       `json:"received_reactions"`
	PinnedMessages    int64       `json:"pinned_messages"`
	FirstMessageAt    *time.Time  `json:"first_message_at"`
	LastMessageAt     *time.Time  `json:"last_message_at"`
	MostActiveUserID  *uint       `json:"most_active_user_id"`
	MostActiveCount   int64       `json:"most_active_count"`
	Daily             []DailyStat `json:"daily"`
}

// SearchResult 搜索结果
type SearchResult struct {
	models.Conversation

	ParticipantsCount int64 `json:"participants_count"`
	IsMember          bool  `json:"is_member"`
}

// Conversations 用户的会话列表，archived 选择归档或未归档
func (s *QueryService) Conversations(ctx context.Context, userID uint, archived bool) ([]ConversationEntry, error) {
	parts, err := s.store().Participants.ListForUser(ctx, userID, archived)
	if err != nil {
		return nil, err
	}
	if len(parts) == 0 {
		return []ConversationEntry{}, nil
	}

	ids := make([]uint, 0, len(parts))
	var directIDs []uint
	for _, p := range parts {
		ids = append(ids, p.ConversationID)
	}
	convs, err := s.store().Conversations.GetByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		if c, ok := convs[id]; ok && c.IsDirect() {
			directIDs = append(directIDs, id)
		}
	}
	counts, err := s.store().Participants.CountActiveByConversations(ctx, ids)
	if err != nil {
		return nil, err
	}
	others, err := s.counterparts(ctx, directIDs, userID)
	if err != nil {
		return nil, err
	}

	out := make([]ConversationEntry, 0, len(parts))
	for i := range parts {
		conv, ok := convs[parts[i].ConversationID]
		if !ok {
			continue
		}
		entry, err := s.entry(ctx, &conv, &parts[i], counts[conv.ID])
		if err != nil {
			return nil, err
		}
		entry.OtherUser = others[conv.ID]
		out = append(out, *entry)
	}
	return out, nil
}

// Conversation 单个会话详情，已离开的成员也可以查看
func (s *QueryService) Conversation(ctx context.Context, userID, conversationID uint) (*ConversationEntry, error) {
	conv, err := loadConversation(ctx, s.store(), conversationID)
	if err != nil {
		return nil, err
	}
	p, err := s.store().Participants.Get(ctx, conversationID, userID)
	if err != nil {
		return nil, translate(err, ErrNotParticipant)
	}
	count, err := s.store().Participants.CountActive(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	entry, err := s.entry(ctx, conv, p, count)
	if err != nil {
		return nil, err
	}
	if conv.IsDirect() {
		others, err := s.counterparts(ctx, []uint{conv.ID}, userID)
		if err != nil {
			return nil, err
		}
		entry.OtherUser = others[conv.ID]
	}
	return entry, nil
}

func (s *QueryService) entry(ctx context.Context, conv *models.Conversation, p *models.Participant, count int64) (*ConversationEntry, error) {
	now := s.now()
	entry := &ConversationEntry{
		Conversation:      *conv,
		UnreadCount:       p.UnreadCount,
		IsManuallyUnread:  p.IsManuallyUnread,
		ParticipantsCount: count,
		MyRole:            p.Role,
		IsPinned:          p.IsPinned,
		PinOrder:          p.PinOrder,
		MutedUntil:        p.MutedUntil,
		IsMuted:           p.IsMuted(now),
		IsArchived:        p.IsArchived,
		HasLeft:           !p.Active(),
	}
	last, err := s.store().Messages.LastVisible(ctx, conv.ID, viewerOf(p))
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return entry, nil
	}
	if err != nil {
		return nil, err
	}
	entry.LastMessage, err = s.buildMessageDTO(ctx, last, p.UserID)
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// counterparts 私聊对方的资料
func (s *QueryService) counterparts(ctx context.Context, conversationIDs []uint, userID uint) (map[uint]*models.User, error) {
	out := make(map[uint]*models.User, len(conversationIDs))
	if len(conversationIDs) == 0 {
		return out, nil
	}
	userIDs, err := s.store().Participants.Counterparts(ctx, conversationIDs, userID)
	if err != nil {
		return nil, err
	}
	ids := make([]uint, 0, len(userIDs))
	for _, id := range userIDs {
		ids = append(ids, id)
	}
	users, err := s.store().Users.GetByIDs(ctx, dedupe(ids))
	if err != nil {
		return nil, err
	}
	for convID, uid := range userIDs {
		if u, ok := users[uid]; ok {
			out[convID] = &u
		}
	}
	return out, nil
}

// Messages 按 ID 倒序分页，cursor 为上一页最后一条消息的 ID
func (s *QueryService) Messages(ctx context.Context, userID, conversationID uint, cursor *int64, limit int) (*MessagePage, error) {
	_, p, err := loadMembership(ctx, s.store(), conversationID, userID)
	if err != nil {
		return nil, err
	}
	limit = s.pageSize(limit)

	msgs, err := s.store().Messages.ListVisible(ctx, conversationID, viewerOf(p), cursor, limit)
	if err != nil {
		return nil, err
	}
	dtos, err := s.buildMessageDTOs(ctx, msgs, userID)
	if err != nil {
		return nil, err
	}
	page := &MessagePage{Messages: dtos}
	if len(msgs) == limit {
		next := msgs[len(msgs)-1].ID
		page.NextCursor = &next
	}
	return page, nil
}

func (s *QueryService) pageSize(limit int) int {
	if limit <= 0 {
		return s.cfg().DefaultPageSize
	}
	if limit > s.cfg().MaxPageSize {
		return s.cfg().MaxPageSize
	}
	return limit
}

// PinnedMessages 会话中置顶的消息
func (s *QueryService) PinnedMessages(ctx context.Context, userID, conversationID uint) ([]*MessageDTO, error) {
	_, p, err := loadMembership(ctx, s.store(), conversationID, userID)
	if err != nil {
		return nil, err
	}
	msgs, err := s.store().Messages.ListPinned(ctx, conversationID, viewerOf(p))
	if err != nil {
		return nil, err
	}
	return s.buildMessageDTOs(ctx, msgs, userID)
}

// Participants 活跃成员，管理员在前，其余按加入时间
func (s *QueryService) Participants(ctx context.Context, userID, conversationID uint) ([]ParticipantDTO, error) {
	if _, _, err := loadMembership(ctx, s.store(), conversationID, userID); err != nil {
		return nil, err
	}
	parts, err := s.store().Participants.ListActive(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	out := make([]ParticipantDTO, 0, len(parts))
	for _, p := range parts {
		dto := ParticipantDTO{UserID: p.UserID, Role: p.Role, JoinedAt: p.JoinedAt}
		if p.User != nil {
			dto.Username, dto.AvatarURL = p.User.UserName, p.User.AvatarURL
		}
		out = append(out, dto)
	}
	return out, nil
}

// ConversationStats 会话统计，按天分组使用 UTC 日期
func (s *QueryService) ConversationStats(ctx context.Context, userID, conversationID uint) (*ConversationStats, error) {
	if _, _, err := loadMembership(ctx, s.store(), conversationID, userID); err != nil {
		return nil, err
	}
	rows, err := s.store().Messages.StatRows(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	reactions, err := s.store().Reactions.StatsForConversation(ctx, conversationID, userID)
	if err != nil {
		return nil, err
	}
	pinned, err := s.store().Messages.CountPinned(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	stats := summarize(rows, userID)
	stats.ConversationID = conversationID
	stats.TotalReactions = reactions.Total
	stats.SentReactions = reactions.Sent
	stats.ReceivedReactions = reactions.Received
	stats.PinnedMessages = pinned
	return stats, nil
}

// summarize rows 已按时间正序
func summarize(rows []repositories.StatRow, userID uint) *ConversationStats {
	stats := &ConversationStats{Daily: []DailyStat{}}
	if len(rows) == 0 {
		return stats
	}
	first, last := rows[0].CreatedAt.UTC(), rows[len(rows)-1].CreatedAt.UTC()
	stats.FirstMessageAt, stats.LastMessageAt = &first, &last

	perSender := make(map[uint]int64)
	dayIndex := make(map[string]int)
	for _, row := range rows {
		stats.TotalMessages++
		perSender[row.SenderID]++

		day := row.CreatedAt.UTC().Format(time.DateOnly)
		i, ok := dayIndex[day]
		if !ok {
			i = len(stats.Daily)
			dayIndex[day] = i
			stats.Daily = append(stats.Daily, DailyStat{Date: day})
		}
		stats.Daily[i].Total++
		if row.SenderID == userID {
			stats.SentMessages++
			stats.Daily[i].Sent++
		} else {
			stats.ReceivedMessages++
			stats.Daily[i].Received++
		}
	}
	sort.Slice(stats.Daily, func(i, j int) bool { return stats.Daily[i].Date < stats.Daily[j].Date })

	// 并列时取 ID 较小的用户
	for sender, n := range perSender {
		if n > stats.MostActiveCount || (n == stats.MostActiveCount && sender < *stats.MostActiveUserID) {
			id := sender
			stats.MostActiveUserID, stats.MostActiveCount = &id, n
		}
	}
	return stats
}

// UnreadConversationsCount 有未读的会话数，不含静音、归档和隐藏的会话
func (s *QueryService) UnreadConversationsCount(ctx context.Context, userID uint) (int, error) {
	parts, err := s.store().Participants.UnreadCandidates(ctx, userID)
	if err != nil {
		return 0, err
	}
	now := s.now()
	n := 0
	for i := range parts {
		if !parts[i].IsMuted(now) {
			n++
		}
	}
	return n, nil
}

// SearchConversations 按标题或 slug 搜索公开群组/频道
func (s *QueryService) SearchConversations(ctx context.Context, userID uint, query string) ([]SearchResult, error) {
	query = strings.TrimSpace(query)
	if utf8.RuneCountInString(query) < 2 {
		return nil, ErrQueryTooShort
	}
	convs, err := s.store().Conversations.SearchDiscoverable(ctx, query, s.cfg().SearchLimit)
	if err != nil {
		return nil, err
	}
	ids := make([]uint, 0, len(convs))
	for _, c := range convs {
		ids = append(ids, c.ID)
	}
	counts, err := s.store().Participants.CountActiveByConversations(ctx, ids)
	if err != nil {
		return nil, err
	}
	member, err := s.store().Participants.MemberOf(ctx, userID, ids)
	if err != nil {
		return nil, err
	}
	out := make([]SearchResult, 0, len(convs))
	for _, c := range convs {
		out = append(out, SearchResult{
			Conversation:      c,
			ParticipantsCount: counts[c.ID],
			IsMember:          member[c.ID],
		})
	}
	return out, nil
}
