package handlers

import (
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"chat-sync/internal/chatsync"
	"chat-sync/internal/coach"
	"chat-sync/internal/repositories"
)

// writeError maps engine and coach errors onto HTTP responses.
func writeError(c *gin.Context, err error) {
	status, msg := http.StatusInternalServerError, "internal error"
	switch {
	case errors.Is(err, chatsync.ErrNotInRoom):
		status, msg = http.StatusConflict, "not in room"
	case errors.Is(err, chatsync.ErrInvalidMessage):
		status, msg = http.StatusBadRequest, "invalid message"
	case errors.Is(err, chatsync.ErrInvalidUser), errors.Is(err, repositories.ErrSelfRoom):
		status, msg = http.StatusBadRequest, "invalid user"
	case errors.Is(err, chatsync.ErrMessageNotFound):
		status, msg = http.StatusNotFound, "message not found"
	case errors.Is(err, chatsync.ErrRoomNotFound):
		status, msg = http.StatusNotFound, "room not found"
	case errors.Is(err, chatsync.ErrRemoteWriteFailed):
		status, msg = http.StatusBadGateway, "write failed"
	case errors.Is(err, chatsync.ErrRemoteFetchFailed):
		status, msg = http.StatusBadGateway, "fetch failed"
	case errors.Is(err, chatsync.ErrEngineClosed):
		status, msg = http.StatusServiceUnavailable, "session closed"
	case errors.Is(err, coach.ErrNotConfigured):
		status, msg = http.StatusServiceUnavailable, "coach not configured"
	case errors.Is(err, coach.ErrInvalidMode):
		status, msg = http.StatusBadRequest, "invalid mode"
	case errors.Is(err, coach.ErrNoHistory):
		status, msg = http.StatusUnprocessableEntity, "no messages to analyze"
	case errors.Is(err, coach.ErrBadResponse):
		status, msg = http.StatusBadGateway, "coach failed"
	}
	if status >= http.StatusInternalServerError {
		log.Printf("request failed method=%s path=%s status=%d err=%v", c.Request.Method, c.FullPath(), status, err)
	}
	c.JSON(status, gin.H{"error": msg})
}
