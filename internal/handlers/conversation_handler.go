package handlers

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/Gopher0727/ChatEngine/internal/services"
	logger "github.com/Gopher0727/ChatEngine/middleware/log"
)

// ConversationHandler 会话生命周期与查询接口
type ConversationHandler struct {
	base
	conversations *services.ConversationService
	query         *services.QueryService
}

func NewConversationHandler(svc *services.Services, l *logger.Logger) *ConversationHandler {
	return &ConversationHandler{
		base:          newBase(l),
		conversations: svc.Conversations,
		query:         svc.Query,
	}
}

type createDirectRequest struct {
	TargetUserID uint `json:"target_user_id" binding:"required"`
}

type leaveRequest struct {
	NewAdminID *uint `json:"new_admin_id"`
}

type addParticipantRequest struct {
	UserID uint `json:"user_id" binding:"required"`
}

// ListConversations 会话列表，?archived=true 返回已归档
func (h *ConversationHandler) ListConversations(c *gin.Context) {
	archived, _ := strconv.ParseBool(c.Query("archived"))
	list, err := h.query.Conversations(c.Request.Context(), currentUser(c), archived)
	if err != nil {
		h.fail(c, "ListConversations", err)
		return
	}
	success(c, list)
}

// UnreadCount 有未读消息的会话数
func (h *ConversationHandler) UnreadCount(c *gin.Context) {
	n, err := h.query.UnreadConversationsCount(c.Request.Context(), currentUser(c))
	if err != nil {
		h.fail(c, "UnreadCount", err)
		return
	}
	success(c, gin.H{"count": n})
}

func (h *ConversationHandler) Search(c *gin.Context) {
	results, err := h.query.SearchConversations(c.Request.Context(), currentUser(c), c.Query("q"))
	if err != nil {
		h.fail(c, "Search", err)
		return
	}
	success(c, results)
}

func (h *ConversationHandler) SlugAvailable(c *gin.Context) {
	ok, err := h.conversations.IsSlugAvailable(c.Request.Context(), c.Query("slug"))
	if err != nil {
		h.fail(c, "SlugAvailable", err)
		return
	}
	success(c, gin.H{"available": ok})
}

// CreateDirect 获取或创建私聊
func (h *ConversationHandler) CreateDirect(c *gin.Context) {
	var req createDirectRequest
	if !bind(c, &req) {
		return
	}
	conv, err := h.conversations.CreateDirect(c.Request.Context(), currentUser(c), req.TargetUserID)
	if err != nil {
		h.fail(c, "CreateDirect", err)
		return
	}
	success(c, conv)
}

func (h *ConversationHandler) CreateGroup(c *gin.Context) {
	var req services.CreateGroupRequest
	if !bind(c, &req) {
		return
	}
	conv, err := h.conversations.CreateGroup(c.Request.Context(), currentUser(c), &req)
	if err != nil {
		h.fail(c, "CreateGroup", err)
		return
	}
	created(c, conv)
}

func (h *ConversationHandler) CreateChannel(c *gin.Context) {
	var req services.CreateChannelRequest
	if !bind(c, &req) {
		return
	}
	conv, err := h.conversations.CreateChannel(c.Request.Context(), currentUser(c), &req)
	if err != nil {
		h.fail(c, "CreateChannel", err)
		return
	}
	created(c, conv)
}

func (h *ConversationHandler) GetConversation(c *gin.Context) {
	id, ok := uintParam(c, "id")
	if !ok {
		return
	}
	entry, err := h.query.Conversation(c.Request.Context(), currentUser(c), id)
	if err != nil {
		h.fail(c, "GetConversation", err)
		return
	}
	success(c, entry)
}

func (h *ConversationHandler) UpdateConversation(c *gin.Context) {
	id, ok := uintParam(c, "id")
	if !ok {
		return
	}
	var req services.UpdateConversationRequest
	if !bind(c, &req) {
		return
	}
	conv, err := h.conversations.UpdateConversation(c.Request.Context(), currentUser(c), id, &req)
	if err != nil {
		h.fail(c, "UpdateConversation", err)
		return
	}
	success(c, conv)
}

// DeleteConversation ?type=ME 仅对自己清空，?type=ALL 管理员删除整个会话
func (h *ConversationHandler) DeleteConversation(c *gin.Context) {
	id, ok := uintParam(c, "id")
	if !ok {
		return
	}
	scope := c.DefaultQuery("type", services.DeleteForMe)
	if err := h.conversations.DeleteConversation(c.Request.Context(), currentUser(c), id, scope); err != nil {
		h.fail(c, "DeleteConversation", err)
		return
	}
	success(c, nil)
}

func (h *ConversationHandler) Join(c *gin.Context) {
	id, ok := uintParam(c, "id")
	if !ok {
		return
	}
	conv, err := h.conversations.JoinChannel(c.Request.Context(), currentUser(c), id)
	if err != nil {
		h.fail(c, "Join", err)
		return
	}
	success(c, conv)
}

// Leave 最后一名管理员退出时需要在请求体中指定 new_admin_id
func (h *ConversationHandler) Leave(c *gin.Context) {
	id, ok := uintParam(c, "id")
	if !ok {
		return
	}
	var req leaveRequest
	if c.Request.ContentLength > 0 && !bind(c, &req) {
		return
	}
	if err := h.conversations.LeaveConversation(c.Request.Context(), currentUser(c), id, req.NewAdminID); err != nil {
		h.fail(c, "Leave", err)
		return
	}
	success(c, nil)
}

func (h *ConversationHandler) Participants(c *gin.Context) {
	id, ok := uintParam(c, "id")
	if !ok {
		return
	}
	list, err := h.query.Participants(c.Request.Context(), currentUser(c), id)
	if err != nil {
		h.fail(c, "Participants", err)
		return
	}
	success(c, list)
}

func (h *ConversationHandler) AddParticipant(c *gin.Context) {
	id, ok := uintParam(c, "id")
	if !ok {
		return
	}
	var req addParticipantRequest
	if !bind(c, &req) {
		return
	}
	if err := h.conversations.AddParticipantToConversation(c.Request.Context(), currentUser(c), id, req.UserID); err != nil {
		h.fail(c, "AddParticipant", err)
		return
	}
	success(c, nil)
}

func (h *ConversationHandler) Kick(c *gin.Context) {
	id, ok := uintParam(c, "id")
	if !ok {
		return
	}
	target, ok := uintParam(c, "user_id")
	if !ok {
		return
	}
	if err := h.conversations.KickFromConversation(c.Request.Context(), currentUser(c), id, target); err != nil {
		h.fail(c, "Kick", err)
		return
	}
	success(c, nil)
}

// Messages 按 ID 倒序分页，?cursor= 为上一页的 next_cursor
func (h *ConversationHandler) Messages(c *gin.Context) {
	id, ok := uintParam(c, "id")
	if !ok {
		return
	}
	var cursor *int64
	if raw := c.Query("cursor"); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			badRequest(c, "invalid cursor")
			return
		}
		cursor = &v
	}
	limit, _ := strconv.Atoi(c.Query("limit"))

	page, err := h.query.Messages(c.Request.Context(), currentUser(c), id, cursor, limit)
	if err != nil {
		h.fail(c, "Messages", err)
		return
	}
	success(c, page)
}

func (h *ConversationHandler) PinnedMessages(c *gin.Context) {
	id, ok := uintParam(c, "id")
	if !ok {
		return
	}
	msgs, err := h.query.PinnedMessages(c.Request.Context(), currentUser(c), id)
	if err != nil {
		h.fail(c, "PinnedMessages", err)
		return
	}
	success(c, msgs)
}

func (h *ConversationHandler) Stats(c *gin.Context) {
	id, ok := uintParam(c, "id")
	if !ok {
		return
	}
	stats, err := h.query.ConversationStats(c.Request.Context(), currentUser(c), id)
	if err != nil {
		h.fail(c, "Stats", err)
		return
	}
	success(c, stats)
}
