package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/rms-knowledge-service/services"
)

type SessionHandlers struct {
	conversationService services.ConversationService
}

func NewSessionHandlers(conversationService services.ConversationService) *SessionHandlers {
	return &SessionHandlers{conversationService: conversationService}
}

// List handles GET /sessions: the caller's sessions, most recent first.
func (h *SessionHandlers) List(c *gin.Context) {
	principal := principalFrom(c)
	resp, err := h.conversationService.ListSessions(c.Request.Context(), principal.UserID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Context handles GET /sessions/:session_id/context: remembered document and
// search context plus recent messages.
func (h *SessionHandlers) Context(c *gin.Context) {
	principal := principalFrom(c)
	resp, err := h.conversationService.SessionContext(c.Request.Context(), c.Param("session_id"), principal.UserID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Delete handles DELETE /sessions/:session_id.
func (h *SessionHandlers) Delete(c *gin.Context) {
	principal := principalFrom(c)
	sessionID := c.Param("session_id")
	if err := h.conversationService.DeleteSession(c.Request.Context(), sessionID, principal.UserID); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Сессия удалена", "session_id": sessionID})
}
