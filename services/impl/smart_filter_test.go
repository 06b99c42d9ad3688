package impl

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rms-knowledge-service/models"
)

func chunkResult(docID uint, chunkID uint, score float64, content string) models.SearchResult {
	return models.SearchResult{
		DocumentID:    docID,
		ChunkID:       chunkID,
		Content:       content,
		ContentLength: len([]rune(content)),
		Score:         score,
		ChunkType:     string(models.ChunkTypeText),
	}
}

func TestSmartFilterAndRank(t *testing.T) {
	goodContent := strings.Repeat("нормальный текст о работе кухни ", 5)

	t.Run("drops short chunks", func(t *testing.T) {
		results := []models.SearchResult{
			chunkResult(1, 1, 0.9, "коротко"),
			chunkResult(1, 2, 0.9, goodContent),
		}
		filtered := smartFilterAndRank(results, 10, 0.5)
		require.Len(t, filtered, 1)
		assert.Equal(t, uint(2), filtered[0].ChunkID)
	})

	t.Run("drops chunks below the softened threshold", func(t *testing.T) {
		results := []models.SearchResult{
			chunkResult(1, 1, 0.44, goodContent), // below 0.5 * 0.9
			chunkResult(1, 2, 0.46, goodContent),
		}
		filtered := smartFilterAndRank(results, 10, 0.5)
		require.Len(t, filtered, 1)
		assert.Equal(t, uint(2), filtered[0].ChunkID)
	})

	t.Run("drops noisy chunks", func(t *testing.T) {
		noise := strings.Repeat("@#$%^&*() ", 10)
		results := []models.SearchResult{
			chunkResult(1, 1, 0.9, noise),
			chunkResult(1, 2, 0.9, goodContent),
		}
		filtered := smartFilterAndRank(results, 10, 0.5)
		require.Len(t, filtered, 1)
		assert.Equal(t, uint(2), filtered[0].ChunkID)
	})

	t.Run("caps chunks per document", func(t *testing.T) {
		var results []models.SearchResult
		for i := uint(1); i <= 5; i++ {
			results = append(results, chunkResult(1, i, 0.9, goodContent))
		}
		results = append(results, chunkResult(2, 10, 0.9, goodContent))

		filtered := smartFilterAndRank(results, 10, 0.5)
		perDoc := map[uint]int{}
		for _, r := range filtered {
			perDoc[r.DocumentID]++
		}
		assert.Equal(t, maxChunksPerSourceDocument, perDoc[1])
		assert.Equal(t, 1, perDoc[2])
	})

	t.Run("honors the limit", func(t *testing.T) {
		var results []models.SearchResult
		for i := uint(1); i <= 6; i++ {
			results = append(results, chunkResult(i, i, 0.9, goodContent))
		}
		filtered := smartFilterAndRank(results, 3, 0.5)
		assert.Len(t, filtered, 3)
	})

	t.Run("empty input yields nil", func(t *testing.T) {
		assert.Nil(t, smartFilterAndRank(nil, 10, 0.5))
	})
}

func TestQualityScore(t *testing.T) {
	base := models.SearchResult{Score: 0.8, ChunkType: string(models.ChunkTypeTable)}

	t.Run("readable length earns a bonus", func(t *testing.T) {
		r := base
		r.ContentLength = 300
		assert.InDelta(t, 0.9, qualityScore(r), 1e-9)
	})

	t.Run("over-long content is penalized", func(t *testing.T) {
		r := base
		r.ContentLength = 800
		assert.InDelta(t, 0.75, qualityScore(r), 1e-9)
	})

	t.Run("text type and metadata add on top", func(t *testing.T) {
		r := base
		r.ContentLength = 300
		r.ChunkType = string(models.ChunkTypeText)
		r.Metadata = map[string]any{"source": "x"}
		assert.InDelta(t, 0.97, qualityScore(r), 1e-9)
	})

	t.Run("text chunks outrank tables at equal similarity", func(t *testing.T) {
		text := chunkResult(1, 1, 0.8, strings.Repeat("текст о стандартах кухни ", 8))
		table := text
		table.ChunkID = 2
		table.ChunkType = string(models.ChunkTypeTable)

		filtered := smartFilterAndRank([]models.SearchResult{table, text}, 10, 0.5)
		require.Len(t, filtered, 2)
		assert.Equal(t, uint(1), filtered[0].ChunkID)
	})
}

func TestSpecialCharRatio(t *testing.T) {
	assert.Equal(t, 0.0, specialCharRatio(""))
	assert.Equal(t, 0.0, specialCharRatio("обычный текст 123"))
	assert.Greater(t, specialCharRatio("@#$%^&*()"), maxSpecialCharRatio)
}
