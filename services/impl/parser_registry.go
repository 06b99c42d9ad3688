package impl

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/rms-knowledge-service/models"
	"github.com/rms-knowledge-service/services"
)

type fileKind string

const (
	kindPDF      fileKind = "pdf"
	kindDocx     fileKind = "docx"
	kindDoc      fileKind = "doc"
	kindXlsx     fileKind = "xlsx"
	kindXls      fileKind = "xls"
	kindPptx     fileKind = "pptx"
	kindPpt      fileKind = "ppt"
	kindText     fileKind = "text"
	kindMarkdown fileKind = "markdown"
	kindCSV      fileKind = "csv"
	kindRTF      fileKind = "rtf"
	kindUnknown  fileKind = ""
)

var extensionKinds = map[string]fileKind{
	".pdf":      kindPDF,
	".docx":     kindDocx,
	".doc":      kindDoc,
	".xlsx":     kindXlsx,
	".xls":      kindXls,
	".pptx":     kindPptx,
	".ppt":      kindPpt,
	".txt":      kindText,
	".md":       kindMarkdown,
	".markdown": kindMarkdown,
	".csv":      kindCSV,
	".rtf":      kindRTF,
}

// parserRegistry dispatches one file to the right format parser: first by
// the declared kind, then by magic bytes, then by extension.
type parserRegistry struct {
	imageAnalyzer       services.ImageAnalysisService
	supportedExtensions []string
}

// NewDocumentParser builds the parser registry. imageAnalyzer may be nil; the
// PDF parser then skips embedded image analysis.
func NewDocumentParser(imageAnalyzer services.ImageAnalysisService, supportedExtensions []string) services.DocumentParser {
	return &parserRegistry{
		imageAnalyzer:       imageAnalyzer,
		supportedExtensions: supportedExtensions,
	}
}

func (p *parserRegistry) SupportedExtensions() []string {
	out := make([]string, len(p.supportedExtensions))
	copy(out, p.supportedExtensions)
	return out
}

func (p *parserRegistry) Parse(ctx context.Context, filePath, declaredType, originalName string) (*models.ParseOutcome, error) {
	kind, method := p.detectKind(filePath, declaredType, originalName)
	log.Printf("[INFO] parsing %s: kind=%s method=%s", originalName, kind, method)

	if kind == kindUnknown {
		return errorOutcome(method, fmt.Sprintf("Неподдерживаемый формат файла: %s", originalName)), nil
	}

	outcome, err := p.dispatch(ctx, kind, filePath, originalName)
	if err != nil {
		log.Printf("[ERROR] parser %s failed for %s: %v", kind, originalName, err)
		return errorOutcome(method, fmt.Sprintf("Не удалось обработать документ: %v", err)), nil
	}

	outcome.DetectionMethod = method
	return outcome, nil
}

func (p *parserRegistry) dispatch(ctx context.Context, kind fileKind, filePath, originalName string) (*models.ParseOutcome, error) {
	switch kind {
	case kindPDF:
		return p.parsePDF(ctx, filePath)
	case kindDocx:
		return parseDocx(filePath)
	case kindPptx:
		return parsePptx(filePath)
	case kindXlsx:
		return parseExcel(filePath)
	case kindDoc, kindXls, kindPpt:
		return parseLegacyOffice(filePath, kind)
	case kindText:
		return parseText(filePath)
	case kindMarkdown:
		return parseMarkdown(filePath)
	case kindCSV:
		return parseCSV(filePath, originalName)
	case kindRTF:
		return parseRTF(filePath)
	default:
		return nil, fmt.Errorf("no parser for kind %q", kind)
	}
}

// detectKind picks the parser. The declared kind wins when it is one we know;
// otherwise the file signature decides, with the extension as last resort.
func (p *parserRegistry) detectKind(filePath, declaredType, originalName string) (fileKind, string) {
	declared := strings.ToLower(strings.TrimPrefix(declaredType, "."))
	if kind, ok := extensionKinds["."+declared]; ok && declared != "" {
		return kind, "declared"
	}

	ext := strings.ToLower(filepath.Ext(originalName))
	if ext == "" {
		ext = strings.ToLower(filepath.Ext(filePath))
	}

	if kind := sniffKind(filePath, ext); kind != kindUnknown {
		return kind, "signature"
	}

	if kind, ok := extensionKinds[ext]; ok {
		return kind, "extension"
	}

	return kindUnknown, "unknown"
}

// sniffKind inspects the first bytes of the file. Zip and OLE2 containers are
// ambiguous between office formats, so the extension breaks the tie.
func sniffKind(filePath, ext string) fileKind {
	f, err := os.Open(filePath)
	if err != nil {
		return kindUnknown
	}
	defer f.Close()

	header := make([]byte, 512)
	n, err := f.Read(header)
	if err != nil || n == 0 {
		return kindUnknown
	}
	header = header[:n]

	switch {
	case bytes.HasPrefix(header, []byte("%PDF")):
		return kindPDF
	case bytes.HasPrefix(header, []byte("PK\x03\x04")):
		switch ext {
		case ".docx":
			return kindDocx
		case ".xlsx":
			return kindXlsx
		case ".pptx":
			return kindPptx
		}
		return kindUnknown
	case bytes.HasPrefix(header, []byte{0xD0, 0xCF, 0x11, 0xE0}):
		switch ext {
		case ".doc":
			return kindDoc
		case ".xls":
			return kindXls
		case ".ppt":
			return kindPpt
		}
		return kindUnknown
	case looksLikeText(header):
		if ext == ".md" || ext == ".markdown" {
			return kindMarkdown
		}
		if ext == ".csv" {
			return kindCSV
		}
		if ext == ".rtf" || bytes.HasPrefix(header, []byte(`{\rtf`)) {
			return kindRTF
		}
		return kindText
	}

	return kindUnknown
}

func looksLikeText(header []byte) bool {
	if len(header) == 0 {
		return false
	}
	if header[0] == '#' {
		return true
	}
	limit := len(header)
	if limit > 100 {
		limit = 100
	}
	for _, b := range header[:limit] {
		if (b >= 'A' && b <= 'Z') || (b >= 'a' && b <= 'z') {
			return true
		}
	}
	return false
}

// errorOutcome wraps a user-facing failure into a single error block so the
// caller records it without aborting at the parser layer.
func errorOutcome(method, message string) *models.ParseOutcome {
	return &models.ParseOutcome{
		Blocks: []models.ContentBlock{{
			Kind:    models.ChunkTypeError,
			Content: message,
		}},
		ParserName:      "none",
		DetectionMethod: method,
	}
}
