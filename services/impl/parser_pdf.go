package impl

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/rms-knowledge-service/models"
)

const (
	// minImageTextLength is the smallest analysis output worth keeping.
	minImageTextLength = 10
	maxEmbeddedImages  = 5
	minEmbeddedImage   = 1 << 10 // skip icons and thumbnails
	maxEmbeddedImage   = 5 << 20
)

// parsePDF extracts text page by page. Embedded JPEG streams are salvaged
// from the raw bytes and, when an image analyzer is wired, turned into
// image-text blocks.
func (p *parserRegistry) parsePDF(ctx context.Context, filePath string) (*models.ParseOutcome, error) {
	outcome := &models.ParseOutcome{ParserName: "pdf"}

	raw, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	outcome.HasImages = bytes.Contains(raw, []byte("/Subtype /Image")) ||
		bytes.Contains(raw, []byte("/Subtype/Image"))

	blocks, pageErr := extractPDFPages(filePath)
	if pageErr != nil {
		log.Printf("[WARN] pdf text extraction failed, salvaging raw text: %v", pageErr)
		if salvaged := salvagePrintableRuns(raw); len(salvaged) > 0 {
			outcome.Blocks = salvaged
			outcome.ParserName = "pdf-salvage"
			outcome.Warnings = append(outcome.Warnings, fmt.Sprintf("primary extractor failed: %v", pageErr))
		} else {
			return nil, pageErr
		}
	} else {
		outcome.Blocks = blocks
	}

	if p.imageAnalyzer != nil && outcome.HasImages {
		outcome.Blocks = append(outcome.Blocks, p.analyzeEmbeddedImages(ctx, raw)...)
	}

	return outcome, nil
}

// extractPDFPages reads page text through the pdf reader. The reader panics
// on some malformed files, so the whole pass is guarded.
func extractPDFPages(filePath string) (blocks []models.ContentBlock, err error) {
	defer func() {
		if r := recover(); r != nil {
			blocks = nil
			err = fmt.Errorf("pdf reader panic: %v", r)
		}
	}()

	f, reader, err := pdf.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open pdf: %w", err)
	}
	defer f.Close()

	for pageNum := 1; pageNum <= reader.NumPage(); pageNum++ {
		page := reader.Page(pageNum)
		if page.V.IsNull() {
			continue
		}

		text, err := page.GetPlainText(nil)
		if err != nil {
			log.Printf("[WARN] failed to extract text from pdf page %d: %v", pageNum, err)
			continue
		}
		if strings.TrimSpace(text) == "" {
			continue
		}

		n := pageNum
		blocks = append(blocks, models.ContentBlock{
			Kind:        models.ChunkTypeText,
			Content:     strings.TrimSpace(text),
			SectionName: fmt.Sprintf("Page %d", n),
			Page:        &n,
		})
	}

	return blocks, nil
}

// analyzeEmbeddedImages runs the vision analyzer over salvaged JPEG streams
// and keeps only answers long enough to be plausible text.
func (p *parserRegistry) analyzeEmbeddedImages(ctx context.Context, raw []byte) []models.ContentBlock {
	var blocks []models.ContentBlock

	for i, img := range extractJPEGStreams(raw, maxEmbeddedImages) {
		text, err := p.imageAnalyzer.AnalyzeImageBytes(ctx, img, "image/jpeg", "document page image")
		if err != nil {
			log.Printf("[WARN] image analysis failed for embedded image %d: %v", i+1, err)
			continue
		}
		text = strings.TrimSpace(text)
		if len([]rune(text)) <= minImageTextLength {
			continue
		}

		idx := i + 1
		blocks = append(blocks, models.ContentBlock{
			Kind:        models.ChunkTypeImageText,
			Content:     fmt.Sprintf("[Изображение %d]: %s", idx, text),
			SectionName: fmt.Sprintf("Изображение %d", idx),
			SubIndex:    &idx,
		})
	}

	return blocks
}

// extractJPEGStreams finds SOI..EOI runs in the raw bytes. PDFs store JPEGs
// as DCTDecode streams verbatim, so a byte scan recovers them without
// decoding the object graph.
func extractJPEGStreams(raw []byte, limit int) [][]byte {
	var images [][]byte
	soi := []byte{0xFF, 0xD8, 0xFF}
	eoi := []byte{0xFF, 0xD9}

	offset := 0
	for len(images) < limit {
		start := bytes.Index(raw[offset:], soi)
		if start < 0 {
			break
		}
		start += offset

		end := bytes.Index(raw[start:], eoi)
		if end < 0 {
			break
		}
		end += start + len(eoi)

		size := end - start
		if size >= minEmbeddedImage && size <= maxEmbeddedImage {
			img := make([]byte, size)
			copy(img, raw[start:end])
			images = append(images, img)
		}
		offset = end
	}

	return images
}
