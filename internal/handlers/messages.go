package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"chat-sync/internal/chatsync"
	"chat-sync/internal/models"
)

// MessageHandler serves the active room's messages.
type MessageHandler struct {
	sessions SessionProvider
}

func NewMessageHandler(sessions SessionProvider) *MessageHandler {
	return &MessageHandler{sessions: sessions}
}

func (h *MessageHandler) session(c *gin.Context) SyncSession {
	return h.sessions.Session(c.GetString("userID"))
}

func (h *MessageHandler) ListMessages(c *gin.Context) {
	// one view so the messages and room id come from the same session
	v := h.session(c).View()
	if v.RoomID == "" {
		writeError(c, chatsync.ErrNotInRoom)
		return
	}
	c.JSON(http.StatusOK, gin.H{"room_id": v.RoomID, "messages": v.Messages, "degraded": v.Degraded})
}

func (h *MessageHandler) SendMessage(c *gin.Context) {
	var req struct {
		Content string             `json:"content" binding:"required"`
		Kind    models.MessageKind `json:"kind"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	msg, err := h.session(c).SendMessage(c.Request.Context(), req.Content, req.Kind)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": msg})
}

func (h *MessageHandler) DeleteMessage(c *gin.Context) {
	if err := h.session(c).DeleteMessage(c.Request.Context(), c.Param("message_id")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// React toggles the caller's emoji reaction.
func (h *MessageHandler) React(c *gin.Context) {
	var req struct {
		Emoji string `json:"emoji" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.session(c).ReactToMessage(c.Request.Context(), c.Param("message_id"), req.Emoji); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
