package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// RoomHandler serves the room list and the active-room intents.
type RoomHandler struct {
	sessions SessionProvider
}

func NewRoomHandler(sessions SessionProvider) *RoomHandler {
	return &RoomHandler{sessions: sessions}
}

func (h *RoomHandler) session(c *gin.Context) SyncSession {
	return h.sessions.Session(c.GetString("userID"))
}

// ListRooms refreshes and returns the caller's rooms.
func (h *RoomHandler) ListRooms(c *gin.Context) {
	sess := h.session(c)
	if err := sess.RefreshRooms(c.Request.Context()); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"rooms": sess.Rooms()})
}

// CreatePrivateRoom returns the private room with user_id, creating it if needed.
func (h *RoomHandler) CreatePrivateRoom(c *gin.Context) {
	var req struct {
		UserID string `json:"user_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	roomID, err := h.session(c).CreatePrivateRoom(c.Request.Context(), req.UserID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"room_id": roomID})
}

func (h *RoomHandler) SearchUsers(c *gin.Context) {
	users, err := h.session(c).SearchUsers(c.Request.Context(), c.Query("q"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"users": users})
}

// OpenRoom switches the caller's active room. Updates are streamed on /ws.
func (h *RoomHandler) OpenRoom(c *gin.Context) {
	var req struct {
		RoomID string `json:"room_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	feed, err := h.session(c).OpenRoom(c.Request.Context(), req.RoomID)
	if err != nil {
		writeError(c, err)
		return
	}
	feed.Close()
	c.JSON(http.StatusOK, gin.H{"room_id": req.RoomID})
}

func (h *RoomHandler) CloseRoom(c *gin.Context) {
	h.session(c).CloseRoom()
	c.Status(http.StatusNoContent)
}

func (h *RoomHandler) MarkRead(c *gin.Context) {
	if err := h.session(c).MarkRoomRead(c.Request.Context()); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *RoomHandler) Typing(c *gin.Context) {
	if err := h.session(c).SendTyping(c.Request.Context()); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}
