package impl

import (
	"testing"
	"time"

	"github.com/qdrant/go-client/qdrant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rms-knowledge-service/models"
)

func TestPayloadRoundTrip(t *testing.T) {
	doc := &models.Document{
		ID:          12,
		Title:       "Нормы хранения",
		Section:     "standards",
		AccessLevel: "kitchen_management",
		FileType:    ".xlsx",
		HasImages:   false,
		UploadedAt:  time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
	}
	sheet := "Температуры"
	section := "Холодный цех"
	page := 2
	chunk := models.DocumentChunk{
		ID:            7,
		DocumentID:    12,
		ChunkIndex:    3,
		Content:       "Температура хранения рыбы: от -2 до 0 °C.",
		ContentLength: 41,
		ChunkType:     models.ChunkTypeTable,
		SectionName:   &section,
		SheetName:     &sheet,
		PageNumber:    &page,
	}

	payload := payloadMap(doc, chunk, "2026-03-01T10:05:00Z")
	assert.Equal(t, "Температуры", payload["sheet_name"])
	assert.Equal(t, "Холодный цех", payload["section_name"])

	result := resultFromPayload(qdrant.NewValueMap(payload), 0.83)
	assert.Equal(t, uint(12), result.DocumentID)
	assert.Equal(t, uint(7), result.ChunkID)
	assert.Equal(t, "standards", result.Section)
	assert.Equal(t, "Температуры", result.SheetName)
	assert.Equal(t, "Холодный цех", result.SectionName)
	require.NotNil(t, result.PageNumber)
	assert.Equal(t, 2, *result.PageNumber)
	assert.InDelta(t, 0.83, result.Score, 1e-9)
}

func TestPayloadOmitsEmptyOptionals(t *testing.T) {
	doc := &models.Document{ID: 3, Section: "procedures", AccessLevel: "restaurant_management", UploadedAt: time.Now()}
	chunk := models.DocumentChunk{ID: 1, DocumentID: 3, Content: "текст", ChunkType: models.ChunkTypeText}

	payload := payloadMap(doc, chunk, "2026-03-01T10:05:00Z")
	_, hasSheet := payload["sheet_name"]
	_, hasSection := payload["section_name"]
	_, hasPage := payload["page_number"]
	assert.False(t, hasSheet)
	assert.False(t, hasSection)
	assert.False(t, hasPage)
}
