package handlers

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/Gopher0727/ChatEngine/internal/services"
	logger "github.com/Gopher0727/ChatEngine/middleware/log"
	"github.com/Gopher0727/ChatEngine/pkg/ws"
)

// PresenceHandler 输入中与正在查看，HTTP 与 WebSocket 两个入口
type PresenceHandler struct {
	base
	presence *services.PresenceService
}

func NewPresenceHandler(svc *services.Services, l *logger.Logger) *PresenceHandler {
	return &PresenceHandler{base: newBase(l), presence: svc.Presence}
}

func (h *PresenceHandler) Typing(c *gin.Context) {
	id, ok := uintParam(c, "id")
	if !ok {
		return
	}
	if err := h.presence.SetTyping(c.Request.Context(), currentUser(c), id); err != nil {
		h.fail(c, "Typing", err)
		return
	}
	success(c, nil)
}

func (h *PresenceHandler) TypingUsers(c *gin.Context) {
	id, ok := uintParam(c, "id")
	if !ok {
		return
	}
	users, err := h.presence.TypingUsers(c.Request.Context(), currentUser(c), id)
	if err != nil {
		h.fail(c, "TypingUsers", err)
		return
	}
	success(c, gin.H{"user_ids": users})
}

func (h *PresenceHandler) SetViewing(c *gin.Context) {
	id, ok := uintParam(c, "id")
	if !ok {
		return
	}
	if err := h.presence.SetViewing(c.Request.Context(), currentUser(c), id); err != nil {
		h.fail(c, "SetViewing", err)
		return
	}
	success(c, nil)
}

func (h *PresenceHandler) ClearViewing(c *gin.Context) {
	id, ok := uintParam(c, "id")
	if !ok {
		return
	}
	if err := h.presence.ClearViewing(c.Request.Context(), currentUser(c), id); err != nil {
		h.fail(c, "ClearViewing", err)
		return
	}
	success(c, nil)
}

// HandleFrame 实现 ws.FrameHandler
func (h *PresenceHandler) HandleFrame(ctx context.Context, userID uint, frame ws.ClientFrame) error {
	switch frame.Type {
	case ws.FrameTyping:
		return h.presence.SetTyping(ctx, userID, frame.ConversationID)
	case ws.FrameViewing:
		return h.presence.SetViewing(ctx, userID, frame.ConversationID)
	case ws.FrameStopViewing:
		return h.presence.ClearViewing(ctx, userID, frame.ConversationID)
	default:
		return services.ErrUnknownFrame
	}
}
