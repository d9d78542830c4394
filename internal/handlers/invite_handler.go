package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/Gopher0727/ChatEngine/internal/services"
	logger "github.com/Gopher0727/ChatEngine/middleware/log"
)

// InviteHandler 邀请链接接口，预览不需要登录
type InviteHandler struct {
	base
	invites *services.InviteService
}

func NewInviteHandler(svc *services.Services, l *logger.Logger) *InviteHandler {
	return &InviteHandler{base: newBase(l), invites: svc.Invites}
}

func (h *InviteHandler) ListInvites(c *gin.Context) {
	id, ok := uintParam(c, "id")
	if !ok {
		return
	}
	links, err := h.invites.ListConversationInvites(c.Request.Context(), currentUser(c), id)
	if err != nil {
		h.fail(c, "ListInvites", err)
		return
	}
	success(c, links)
}

// CreateInvite 请求体可以为空，表示不限次数、永不过期
func (h *InviteHandler) CreateInvite(c *gin.Context) {
	id, ok := uintParam(c, "id")
	if !ok {
		return
	}
	var req services.CreateInviteLinkRequest
	if c.Request.ContentLength > 0 && !bind(c, &req) {
		return
	}
	link, err := h.invites.CreateInviteLink(c.Request.Context(), currentUser(c), id, &req)
	if err != nil {
		h.fail(c, "CreateInvite", err)
		return
	}
	created(c, link)
}

func (h *InviteHandler) RevokeInvite(c *gin.Context) {
	id, ok := uintParam(c, "invite_id")
	if !ok {
		return
	}
	if err := h.invites.RevokeInviteLink(c.Request.Context(), currentUser(c), id); err != nil {
		h.fail(c, "RevokeInvite", err)
		return
	}
	success(c, nil)
}

// Preview 公开接口，失效的链接也返回预览，valid 为 false
func (h *InviteHandler) Preview(c *gin.Context) {
	preview, err := h.invites.GetConversationByInvite(c.Request.Context(), c.Param("code"))
	if err != nil {
		h.fail(c, "Preview", err)
		return
	}
	success(c, preview)
}

func (h *InviteHandler) Join(c *gin.Context) {
	conv, err := h.invites.JoinViaInvite(c.Request.Context(), currentUser(c), c.Param("code"))
	if err != nil {
		h.fail(c, "JoinViaInvite", err)
		return
	}
	success(c, conv)
}
