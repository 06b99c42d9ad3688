package impl

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rms-knowledge-service/models"
)

func TestBuildCitations(t *testing.T) {
	longContent := strings.Repeat("содержательный фрагмент документа ", 10)

	t.Run("empty context yields no citations", func(t *testing.T) {
		citations := BuildCitations(nil, nil)
		assert.Empty(t, citations)
	})

	t.Run("high score admits a document", func(t *testing.T) {
		chunks := []models.SearchResult{chunkResult(1, 1, 0.85, "короткий но очень релевантный кусок")}
		citations := BuildCitations(chunks, nil)
		require.Len(t, citations, 1)
		assert.Equal(t, uint(1), citations[0].DocumentID)
		assert.False(t, citations[0].Usage.FallbackIncluded)
	})

	t.Run("mid score needs content volume and chunk count", func(t *testing.T) {
		admitted := []models.SearchResult{
			chunkResult(1, 1, 0.6, longContent),
			chunkResult(1, 2, 0.55, longContent),
		}
		citations := BuildCitations(admitted, nil)
		require.Len(t, citations, 1)
		assert.False(t, citations[0].Usage.FallbackIncluded)
		assert.Equal(t, 2, citations[0].Usage.ChunksUsed)

		// Same score but a single thin chunk does not pass on its own merits.
		thin := []models.SearchResult{chunkResult(2, 3, 0.6, "мало текста")}
		citations = BuildCitations(thin, nil)
		require.Len(t, citations, 1)
		assert.True(t, citations[0].Usage.FallbackIncluded)
	})

	t.Run("irrelevant documents are dropped next to a relevant one", func(t *testing.T) {
		chunks := []models.SearchResult{
			chunkResult(1, 1, 0.9, longContent),
			chunkResult(2, 2, 0.4, "слабый фрагмент"),
		}
		citations := BuildCitations(chunks, nil)
		require.Len(t, citations, 1)
		assert.Equal(t, uint(1), citations[0].DocumentID)
	})

	t.Run("fallback keeps the single best document", func(t *testing.T) {
		chunks := []models.SearchResult{
			chunkResult(1, 1, 0.3, "слабый фрагмент один"),
			chunkResult(2, 2, 0.45, "слабый фрагмент два"),
		}
		citations := BuildCitations(chunks, nil)
		require.Len(t, citations, 1)
		assert.Equal(t, uint(2), citations[0].DocumentID)
		assert.True(t, citations[0].Usage.FallbackIncluded)
	})

	t.Run("citations sort by max score", func(t *testing.T) {
		chunks := []models.SearchResult{
			chunkResult(1, 1, 0.75, longContent),
			chunkResult(2, 2, 0.95, longContent),
		}
		citations := BuildCitations(chunks, nil)
		require.Len(t, citations, 2)
		assert.Equal(t, uint(2), citations[0].DocumentID)
	})
}

func TestResolveTitle(t *testing.T) {
	t.Run("prefers the stored title", func(t *testing.T) {
		doc := &models.Document{Title: "Санитарные нормы", OriginalFilename: "norms.pdf"}
		assert.Equal(t, "Санитарные нормы", resolveTitle(doc, 1))
	})

	t.Run("falls back to the original filename without extension", func(t *testing.T) {
		doc := &models.Document{OriginalFilename: "нормы_2024.pdf", Filename: "ab12_normy.pdf"}
		assert.Equal(t, "нормы_2024", resolveTitle(doc, 1))
	})

	t.Run("skips the string placeholder", func(t *testing.T) {
		doc := &models.Document{Title: "string", OriginalFilename: "real_name.docx"}
		assert.Equal(t, "real_name", resolveTitle(doc, 1))
	})

	t.Run("unknown document gets a numbered title", func(t *testing.T) {
		assert.Equal(t, "Документ 7", resolveTitle(nil, 7))
		assert.Equal(t, "Документ 7", resolveTitle(&models.Document{}, 7))
	})
}

func TestDisplayHint(t *testing.T) {
	page := 3
	assert.Equal(t, "Лист: Смены", displayHint(models.SearchResult{SheetName: "Смены", PageNumber: &page}))
	assert.Equal(t, "Страница 3", displayHint(models.SearchResult{PageNumber: &page}))
	assert.Equal(t, "Введение", displayHint(models.SearchResult{SectionName: "Введение"}))
	assert.Equal(t, "", displayHint(models.SearchResult{}))
}

func TestViewerURL(t *testing.T) {
	cases := map[string]string{
		"pdf":  "/viewer/public/pdf/5",
		"xlsx": "/viewer/public/excel/5",
		"csv":  "/viewer/public/excel/5",
		"docx": "/viewer/public/word/5",
		"rtf":  "/viewer/public/word/5",
		"pptx": "/viewer/public/powerpoint/5",
		"webm": "/viewer/public/pdf/5",
	}
	for fileType, expected := range cases {
		assert.Equal(t, expected, viewerURL(5, fileType), fileType)
	}
}
