package impl

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rms-knowledge-service/models"
)

func writeTempFile(t *testing.T, name string, content []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, content, 0o600))
	return path
}

func TestDetectKind(t *testing.T) {
	registry := &parserRegistry{}

	t.Run("declared type wins", func(t *testing.T) {
		path := writeTempFile(t, "report.bin", []byte("%PDF-1.7 payload"))
		kind, method := registry.detectKind(path, "xlsx", "report.bin")
		assert.Equal(t, kindXlsx, kind)
		assert.Equal(t, "declared", method)
	})

	t.Run("signature beats extension", func(t *testing.T) {
		path := writeTempFile(t, "menu.txt", []byte("%PDF-1.4 rest of file"))
		kind, method := registry.detectKind(path, "", "menu.txt")
		assert.Equal(t, kindPDF, kind)
		assert.Equal(t, "signature", method)
	})

	t.Run("zip container disambiguated by extension", func(t *testing.T) {
		path := writeTempFile(t, "standards.docx", []byte("PK\x03\x04rest"))
		kind, method := registry.detectKind(path, "", "standards.docx")
		assert.Equal(t, kindDocx, kind)
		assert.Equal(t, "signature", method)
	})

	t.Run("ole container disambiguated by extension", func(t *testing.T) {
		path := writeTempFile(t, "legacy.xls", []byte{0xD0, 0xCF, 0x11, 0xE0, 0x00})
		kind, method := registry.detectKind(path, "", "legacy.xls")
		assert.Equal(t, kindXls, kind)
		assert.Equal(t, "signature", method)
	})

	t.Run("plain text by content", func(t *testing.T) {
		path := writeTempFile(t, "notes.txt", []byte("plain operations notes"))
		kind, method := registry.detectKind(path, "", "notes.txt")
		assert.Equal(t, kindText, kind)
		assert.Equal(t, "signature", method)
	})

	t.Run("markdown extension refines text sniff", func(t *testing.T) {
		path := writeTempFile(t, "guide.md", []byte("# Регламент\n\nтекст"))
		kind, _ := registry.detectKind(path, "", "guide.md")
		assert.Equal(t, kindMarkdown, kind)
	})

	t.Run("unknown binary", func(t *testing.T) {
		path := writeTempFile(t, "image.webm", []byte{0x1A, 0x45, 0xDF, 0xA3})
		kind, method := registry.detectKind(path, "", "image.webm")
		assert.Equal(t, kindUnknown, kind)
		assert.Equal(t, "unknown", method)
	})
}

func TestParseUnknownFormat(t *testing.T) {
	p := NewDocumentParser(nil, []string{".pdf", ".txt"})
	path := writeTempFile(t, "blob.webm", []byte{0x1A, 0x45, 0xDF, 0xA3})

	outcome, err := p.Parse(context.Background(), path, "", "blob.webm")
	require.NoError(t, err)
	require.Len(t, outcome.Blocks, 1)
	assert.Equal(t, models.ChunkTypeError, outcome.Blocks[0].Kind)
	assert.Contains(t, outcome.Blocks[0].Content, "Неподдерживаемый формат")
	assert.False(t, outcome.HasUsableText())
}

func TestParseTextFile(t *testing.T) {
	p := NewDocumentParser(nil, []string{".txt"})
	path := writeTempFile(t, "sop.txt", []byte("Стандарт открытия смены.\n\nПроверить холодильники."))

	outcome, err := p.Parse(context.Background(), path, "", "sop.txt")
	require.NoError(t, err)
	assert.True(t, outcome.HasUsableText())
	assert.NotEmpty(t, outcome.Blocks)
	assert.NotEmpty(t, outcome.DetectionMethod)
}

func TestSupportedExtensionsCopy(t *testing.T) {
	exts := []string{".pdf", ".docx"}
	p := NewDocumentParser(nil, exts)

	got := p.SupportedExtensions()
	require.Equal(t, exts, got)
	got[0] = ".hacked"
	assert.Equal(t, ".pdf", p.SupportedExtensions()[0])
}
