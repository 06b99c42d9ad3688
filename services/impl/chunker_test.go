package impl

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rms-knowledge-service/models"
)

func TestCleanText(t *testing.T) {
	t.Run("collapses whitespace and drops blank lines", func(t *testing.T) {
		in := "первая   строка\t\tс табами\r\n\r\n\r\nвторая строка  "
		assert.Equal(t, "первая строка с табами\nвторая строка", CleanText(in, 0))
	})

	t.Run("strips control characters", func(t *testing.T) {
		assert.Equal(t, "текст без мусора", CleanText("текст\x00 без\x1f мусора", 0))
	})

	t.Run("truncates with a notice", func(t *testing.T) {
		out := CleanText(strings.Repeat("а", 100), 50)
		assert.True(t, strings.HasSuffix(out, truncationNotice))
		assert.Len(t, []rune(out), 50+len([]rune(truncationNotice)))
	})

	t.Run("empty input stays empty", func(t *testing.T) {
		assert.Equal(t, "", CleanText("", 100))
		assert.Equal(t, "", CleanText("   \n\n  ", 100))
	})
}

func TestChunker(t *testing.T) {
	t.Run("short block becomes one chunk", func(t *testing.T) {
		c := NewChunker(500, 50, 0, 200)
		chunks := c.Chunk([]models.ContentBlock{
			{Kind: models.ChunkTypeText, Content: "короткий блок текста"},
		})
		require.Len(t, chunks, 1)
		assert.Equal(t, 0, chunks[0].ChunkIndex)
		assert.Equal(t, models.ChunkTypeText, chunks[0].ChunkType)
		assert.Equal(t, len([]rune("короткий блок текста")), chunks[0].ContentLength)
	})

	t.Run("long block splits with overlap", func(t *testing.T) {
		c := NewChunker(100, 20, 0, 200)
		sentence := "Это предложение о работе ресторана и кухни. "
		chunks := c.Chunk([]models.ContentBlock{
			{Kind: models.ChunkTypeText, Content: strings.Repeat(sentence, 20)},
		})
		require.Greater(t, len(chunks), 1)
		for i, chunk := range chunks {
			assert.Equal(t, i, chunk.ChunkIndex)
			assert.LessOrEqual(t, chunk.ContentLength, 100)
		}
	})

	t.Run("split terminates at the tail without duplicates", func(t *testing.T) {
		var b strings.Builder
		for i := 0; i < 1050; i++ {
			b.WriteRune(rune('а' + i%29))
		}

		c := NewChunker(500, 50, 0, 200)
		chunks := c.Chunk([]models.ContentBlock{
			{Kind: models.ChunkTypeText, Content: b.String()},
		})
		// Windows: 0..500, 450..950, 900..1050.
		require.Len(t, chunks, 3)
		assert.Equal(t, 500, chunks[0].ContentLength)
		assert.Equal(t, 500, chunks[1].ContentLength)
		assert.Equal(t, 150, chunks[2].ContentLength)
		seen := map[string]bool{}
		for _, chunk := range chunks {
			assert.False(t, seen[chunk.Content], "chunk %d duplicates an earlier one", chunk.ChunkIndex)
			seen[chunk.Content] = true
		}
	})

	t.Run("chunk indexes stay dense across blocks", func(t *testing.T) {
		c := NewChunker(500, 50, 0, 200)
		chunks := c.Chunk([]models.ContentBlock{
			{Kind: models.ChunkTypeText, Content: "первый блок"},
			{Kind: models.ChunkTypeText, Content: ""},
			{Kind: models.ChunkTypeTable, Content: "второй блок"},
		})
		require.Len(t, chunks, 2)
		assert.Equal(t, 0, chunks[0].ChunkIndex)
		assert.Equal(t, 1, chunks[1].ChunkIndex)
		assert.Equal(t, models.ChunkTypeTable, chunks[1].ChunkType)
	})

	t.Run("document chunk limit is enforced", func(t *testing.T) {
		c := NewChunker(500, 50, 0, 3)
		var blocks []models.ContentBlock
		for i := 0; i < 10; i++ {
			blocks = append(blocks, models.ContentBlock{Kind: models.ChunkTypeText, Content: "блок с содержимым"})
		}
		assert.Len(t, c.Chunk(blocks), 3)
	})

	t.Run("sheet and section names carry through separately", func(t *testing.T) {
		c := NewChunker(500, 50, 0, 200)
		chunks := c.Chunk([]models.ContentBlock{
			{Kind: models.ChunkTypeTable, Content: "данные таблицы", SheetName: "Лист1"},
			{Kind: models.ChunkTypeText, Content: "текст с заголовком", SectionName: "Введение", SheetName: "Лист1"},
		})
		require.Len(t, chunks, 2)
		assert.Nil(t, chunks[0].SectionName)
		require.NotNil(t, chunks[0].SheetName)
		assert.Equal(t, "Лист1", *chunks[0].SheetName)
		require.NotNil(t, chunks[1].SectionName)
		assert.Equal(t, "Введение", *chunks[1].SectionName)
		require.NotNil(t, chunks[1].SheetName)
		assert.Equal(t, "Лист1", *chunks[1].SheetName)
	})

	t.Run("page numbers carry through", func(t *testing.T) {
		page := 4
		c := NewChunker(500, 50, 0, 200)
		chunks := c.Chunk([]models.ContentBlock{
			{Kind: models.ChunkTypeText, Content: "текст со страницы", Page: &page},
		})
		require.Len(t, chunks, 1)
		require.NotNil(t, chunks[0].PageNumber)
		assert.Equal(t, 4, *chunks[0].PageNumber)
	})
}
