package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/rms-knowledge-service/models"
	"github.com/rms-knowledge-service/services"
)

type ChatHandlers struct {
	chatService      services.ChatService
	retrievalService services.RetrievalService
	accessService    services.AccessControlService
}

func NewChatHandlers(
	chatService services.ChatService,
	retrievalService services.RetrievalService,
	accessService services.AccessControlService,
) *ChatHandlers {
	return &ChatHandlers{
		chatService:      chatService,
		retrievalService: retrievalService,
		accessService:    accessService,
	}
}

// Chat handles POST /chat: one conversational turn.
func (h *ChatHandlers) Chat(c *gin.Context) {
	var req models.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		detail(c, http.StatusBadRequest, "Некорректное тело запроса: "+err.Error())
		return
	}
	if req.Section != nil && *req.Section != "" && !h.accessService.KnownSection(*req.Section) {
		respondError(c, services.ErrUnknownSection)
		return
	}

	resp, err := h.chatService.HandleTurn(c.Request.Context(), principalFrom(c), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Search handles POST /search: direct retrieval without generation.
func (h *ChatHandlers) Search(c *gin.Context) {
	var req models.SearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		detail(c, http.StatusBadRequest, "Некорректное тело запроса: "+err.Error())
		return
	}
	if req.Section != nil && *req.Section != "" && !h.accessService.KnownSection(*req.Section) {
		respondError(c, services.ErrUnknownSection)
		return
	}

	resp, err := h.retrievalService.Search(c.Request.Context(), principalFrom(c), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// SearchSection handles POST /search/section: retrieval pinned to one
// section, never widened to the principal's other sections.
func (h *ChatHandlers) SearchSection(c *gin.Context) {
	var req models.SearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		detail(c, http.StatusBadRequest, "Некорректное тело запроса: "+err.Error())
		return
	}
	if req.Section == nil || *req.Section == "" {
		detail(c, http.StatusBadRequest, "Не указан раздел для поиска")
		return
	}
	if !h.accessService.KnownSection(*req.Section) {
		respondError(c, services.ErrUnknownSection)
		return
	}
	req.StrictSectionSearch = true

	resp, err := h.retrievalService.Search(c.Request.Context(), principalFrom(c), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Sections handles GET /sections: the caller's access summary.
func (h *ChatHandlers) Sections(c *gin.Context) {
	principal := principalFrom(c)
	c.JSON(http.StatusOK, gin.H{
		"access_level": principal.AccessLevel,
		"sections":     principal.AllowedSections,
		"access":       h.accessService.AccessSummary(principal.AccessLevel),
	})
}
