package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/Gopher0727/ChatEngine/internal/services"
	logger "github.com/Gopher0727/ChatEngine/middleware/log"
)

// ReadStateHandler 已读、归档、免打扰与置顶
type ReadStateHandler struct {
	base
	readState *services.ReadStateService
}

func NewReadStateHandler(svc *services.Services, l *logger.Logger) *ReadStateHandler {
	return &ReadStateHandler{base: newBase(l), readState: svc.ReadState}
}

type pinOrderRequest struct {
	ConversationIDs []uint `json:"conversation_ids"`
}

func (h *ReadStateHandler) MarkRead(c *gin.Context) {
	id, ok := uintParam(c, "id")
	if !ok {
		return
	}
	if err := h.readState.MarkMessagesRead(c.Request.Context(), currentUser(c), id); err != nil {
		h.fail(c, "MarkRead", err)
		return
	}
	success(c, nil)
}

func (h *ReadStateHandler) MarkUnread(c *gin.Context) {
	id, ok := uintParam(c, "id")
	if !ok {
		return
	}
	if err := h.readState.MarkConversationAsUnread(c.Request.Context(), currentUser(c), id); err != nil {
		h.fail(c, "MarkUnread", err)
		return
	}
	success(c, nil)
}

func (h *ReadStateHandler) ToggleArchive(c *gin.Context) {
	id, ok := uintParam(c, "id")
	if !ok {
		return
	}
	archived, err := h.readState.ToggleArchiveConversation(c.Request.Context(), currentUser(c), id)
	if err != nil {
		h.fail(c, "ToggleArchive", err)
		return
	}
	success(c, gin.H{"conversation_id": id, "is_archived": archived})
}

// ToggleMute muted_until 为 null 表示已取消免打扰
func (h *ReadStateHandler) ToggleMute(c *gin.Context) {
	id, ok := uintParam(c, "id")
	if !ok {
		return
	}
	until, err := h.readState.ToggleMuteConversation(c.Request.Context(), currentUser(c), id)
	if err != nil {
		h.fail(c, "ToggleMute", err)
		return
	}
	success(c, gin.H{"conversation_id": id, "is_muted": until != nil, "muted_until": until})
}

func (h *ReadStateHandler) TogglePin(c *gin.Context) {
	id, ok := uintParam(c, "id")
	if !ok {
		return
	}
	state, err := h.readState.TogglePinConversation(c.Request.Context(), currentUser(c), id)
	if err != nil {
		h.fail(c, "TogglePin", err)
		return
	}
	success(c, state)
}

func (h *ReadStateHandler) UpdatePinOrder(c *gin.Context) {
	var req pinOrderRequest
	if !bind(c, &req) {
		return
	}
	states, err := h.readState.UpdatePinOrder(c.Request.Context(), currentUser(c), req.ConversationIDs)
	if err != nil {
		h.fail(c, "UpdatePinOrder", err)
		return
	}
	success(c, states)
}
