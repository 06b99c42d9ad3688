package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/rms-knowledge-service/models"
	"github.com/rms-knowledge-service/services"
)

type DocumentHandlers struct {
	documentService services.DocumentService
}

func NewDocumentHandlers(documentService services.DocumentService) *DocumentHandlers {
	return &DocumentHandlers{documentService: documentService}
}

// Upload handles POST /documents/upload (multipart form).
func (h *DocumentHandlers) Upload(c *gin.Context) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		detail(c, http.StatusBadRequest, "Файл не передан")
		return
	}

	section := c.PostForm("section")
	if section == "" {
		detail(c, http.StatusBadRequest, "Не указан раздел")
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		detail(c, http.StatusBadRequest, "Не удалось прочитать файл")
		return
	}
	defer file.Close()

	resp, err := h.documentService.Upload(c.Request.Context(), principalFrom(c), services.UploadInput{
		Filename:    fileHeader.Filename,
		Size:        fileHeader.Size,
		ContentType: fileHeader.Header.Get("Content-Type"),
		Reader:      file,
		Title:       c.PostForm("title"),
		Description: c.PostForm("description"),
		Section:     section,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// List handles GET /documents with section/processed/page/size query params.
func (h *DocumentHandlers) List(c *gin.Context) {
	filter := models.DocumentListFilter{
		Page: queryInt(c, "page", 1),
		Size: queryInt(c, "size", 20),
	}
	if section := c.Query("section"); section != "" {
		filter.Section = &section
	}
	if raw := c.Query("processed"); raw != "" {
		processed := raw == "true" || raw == "1"
		filter.Processed = &processed
	}

	resp, err := h.documentService.List(c.Request.Context(), principalFrom(c), filter)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Get handles GET /documents/:id.
func (h *DocumentHandlers) Get(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	doc, err := h.documentService.Get(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, doc)
}

// Status handles GET /documents/:id/status.
func (h *DocumentHandlers) Status(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	status, err := h.documentService.Status(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

// Chunks handles GET /documents/:id/chunks.
func (h *DocumentHandlers) Chunks(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	chunks, err := h.documentService.Chunks(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, chunks)
}

// Reprocess handles POST /documents/:id/reprocess.
func (h *DocumentHandlers) Reprocess(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	if err := h.documentService.Reprocess(c.Request.Context(), principalFrom(c), id); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Документ поставлен в очередь на повторную обработку", "id": id})
}

// Delete handles DELETE /documents/:id.
func (h *DocumentHandlers) Delete(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	if err := h.documentService.Delete(c.Request.Context(), principalFrom(c), id); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Документ удалён", "id": id})
}

// UploadOptions handles GET /documents/upload/options.
func (h *DocumentHandlers) UploadOptions(c *gin.Context) {
	c.JSON(http.StatusOK, h.documentService.UploadOptions(principalFrom(c)))
}

func pathID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		detail(c, http.StatusBadRequest, "Некорректный идентификатор документа")
		return 0, false
	}
	return uint(id), true
}

func queryInt(c *gin.Context, name string, fallback int) int {
	raw := c.Query(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}
