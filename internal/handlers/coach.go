package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"chat-sync/internal/coach"
)

type Analyzer interface {
	Analyze(ctx context.Context, req coach.Request) (coach.Insights, error)
}

// CoachHandler runs the coach over the active room's recent history.
type CoachHandler struct {
	sessions SessionProvider
	analyzer Analyzer
}

func NewCoachHandler(sessions SessionProvider, analyzer Analyzer) *CoachHandler {
	return &CoachHandler{sessions: sessions, analyzer: analyzer}
}

func (h *CoachHandler) Analyze(c *gin.Context) {
	var req struct {
		Mode        string `json:"mode"`
		Instruction string `json:"instruction"`
		Style       string `json:"style"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	mode, err := coach.ParseMode(req.Mode)
	if err != nil {
		writeError(c, err)
		return
	}

	sess := h.sessions.Session(c.GetString("userID"))
	history, err := sess.CoachHistory()
	if err != nil {
		writeError(c, err)
		return
	}
	room, err := sess.ActiveRoom()
	if err != nil {
		writeError(c, err)
		return
	}

	insights, err := h.analyzer.Analyze(c.Request.Context(), coach.Request{
		PartnerName: room.Name,
		Mode:        mode,
		Instruction: req.Instruction,
		Style:       req.Style,
		Messages:    history,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, insights)
}
