package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Gopher0727/ChatEngine/internal/services"
	logger "github.com/Gopher0727/ChatEngine/middleware/log"
)

// MessageHandler 消息处理器
type MessageHandler struct {
	base
	messages  *services.MessageService
	reactions *services.ReactionService
}

// NewMessageHandler 创建消息处理器实例
func NewMessageHandler(svc *services.Services, l *logger.Logger) *MessageHandler {
	return &MessageHandler{
		base:      newBase(l),
		messages:  svc.Messages,
		reactions: svc.Reactions,
	}
}

type editMessageRequest struct {
	Content string `json:"content" binding:"required"`
}

type forwardRequest struct {
	ConversationIDs []uint `json:"conversation_ids" binding:"required"`
}

type reactionRequest struct {
	Emoji string `json:"emoji" binding:"required"`
}

type viewsRequest struct {
	MessageIDs []int64 `json:"message_ids" binding:"required"`
}

// SendMessage 发送消息，conversation_id 与 target_user_id 二选一
func (h *MessageHandler) SendMessage(c *gin.Context) {
	var req services.SendMessageRequest
	if !bind(c, &req) {
		return
	}
	msg, err := h.messages.SendMessage(c.Request.Context(), currentUser(c), &req)
	if err != nil {
		h.fail(c, "SendMessage", err)
		return
	}
	created(c, msg)
}

func (h *MessageHandler) EditMessage(c *gin.Context) {
	id, ok := int64Param(c, "id")
	if !ok {
		return
	}
	var req editMessageRequest
	if !bind(c, &req) {
		return
	}
	msg, err := h.messages.EditMessage(c.Request.Context(), currentUser(c), id, req.Content)
	if err != nil {
		h.fail(c, "EditMessage", err)
		return
	}
	success(c, msg)
}

// DeleteMessage ?type=ALL 对所有人撤回，?type=ME 仅对自己隐藏
func (h *MessageHandler) DeleteMessage(c *gin.Context) {
	id, ok := int64Param(c, "id")
	if !ok {
		return
	}
	scope := c.DefaultQuery("type", services.DeleteForMe)
	if err := h.messages.DeleteMessage(c.Request.Context(), currentUser(c), id, scope); err != nil {
		h.fail(c, "DeleteMessage", err)
		return
	}
	success(c, nil)
}

// ForwardMessage 转发到多个会话，任一目标无权限则全部失败
func (h *MessageHandler) ForwardMessage(c *gin.Context) {
	id, ok := int64Param(c, "id")
	if !ok {
		return
	}
	var req forwardRequest
	if !bind(c, &req) {
		return
	}
	msgs, err := h.messages.ForwardMessage(c.Request.Context(), currentUser(c), id, req.ConversationIDs)
	if err != nil {
		h.fail(c, "ForwardMessage", err)
		return
	}
	created(c, msgs)
}

func (h *MessageHandler) ToggleReaction(c *gin.Context) {
	id, ok := int64Param(c, "id")
	if !ok {
		return
	}
	var req reactionRequest
	if !bind(c, &req) {
		return
	}
	result, err := h.reactions.ToggleMessageReaction(c.Request.Context(), currentUser(c), id, req.Emoji)
	if err != nil {
		h.fail(c, "ToggleReaction", err)
		return
	}
	success(c, result)
}

func (h *MessageHandler) TogglePin(c *gin.Context) {
	id, ok := int64Param(c, "id")
	if !ok {
		return
	}
	msg, err := h.messages.TogglePinMessage(c.Request.Context(), currentUser(c), id)
	if err != nil {
		h.fail(c, "TogglePin", err)
		return
	}
	success(c, msg)
}

// IncrementViews 浏览量在后台累加，立即返回 202
func (h *MessageHandler) IncrementViews(c *gin.Context) {
	var req viewsRequest
	if !bind(c, &req) {
		return
	}
	h.messages.IncrementMessageViews(c.Request.Context(), currentUser(c), req.MessageIDs)
	c.JSON(http.StatusAccepted, gin.H{
		"code":    0,
		"message": "accepted",
	})
}
