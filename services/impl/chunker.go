package impl

import (
	"log"
	"strings"
	"unicode/utf8"

	"github.com/rms-knowledge-service/models"
)

const (
	// maxChunksPerDocument bounds the whole document regardless of how many
	// blocks the parser produced.
	maxChunksPerDocument = 200
	// maxChunksPerBlock bounds one split call.
	maxChunksPerBlock = 100
	// maxSplitIterations bounds the split loop against pathological inputs.
	maxSplitIterations = 1000
	// sentenceLookback is how far back from the target boundary a sentence or
	// paragraph break is still preferred over a hard cut.
	sentenceLookback = 100
)

// Chunker slices cleaned content blocks into retrieval units.
type Chunker struct {
	chunkSize      int
	chunkOverlap   int
	maxBlockLength int
	maxChunks      int
}

func NewChunker(chunkSize, chunkOverlap, maxBlockLength, maxChunks int) *Chunker {
	if chunkSize <= 0 {
		chunkSize = 500
	}
	if chunkOverlap < 0 || chunkOverlap >= chunkSize {
		chunkOverlap = 50
	}
	if maxChunks <= 0 || maxChunks > maxChunksPerDocument {
		maxChunks = maxChunksPerDocument
	}
	return &Chunker{
		chunkSize:      chunkSize,
		chunkOverlap:   chunkOverlap,
		maxBlockLength: maxBlockLength,
		maxChunks:      maxChunks,
	}
}

// Chunk converts parsed blocks into chunk rows with a dense document-scoped
// index. Each block is cleaned here, exactly once; blocks that clean down to
// nothing are dropped.
func (c *Chunker) Chunk(blocks []models.ContentBlock) []models.DocumentChunk {
	chunks := make([]models.DocumentChunk, 0, len(blocks))

	for _, block := range blocks {
		cleaned := CleanText(block.Content, c.maxBlockLength)
		if cleaned == "" {
			continue
		}

		for _, piece := range c.splitText(cleaned) {
			if len(chunks) >= c.maxChunks {
				log.Printf("[WARN] chunk limit %d reached, dropping remaining content", c.maxChunks)
				return chunks
			}

			chunk := models.DocumentChunk{
				ChunkIndex:    len(chunks),
				Content:       piece,
				ContentLength: utf8.RuneCountInString(piece),
				ChunkType:     block.Kind,
				PageNumber:    block.Page,
			}
			if block.SectionName != "" {
				name := block.SectionName
				chunk.SectionName = &name
			}
			if block.SheetName != "" {
				sheet := block.SheetName
				chunk.SheetName = &sheet
			}
			chunks = append(chunks, chunk)
		}
	}

	return chunks
}

// splitText cuts one cleaned block into overlapping pieces, preferring
// sentence terminators, then line breaks, inside the lookback window.
func (c *Chunker) splitText(text string) []string {
	runes := []rune(text)
	if len(runes) <= c.chunkSize {
		return []string{text}
	}

	var pieces []string
	start := 0

	for iteration := 0; start < len(runes) && iteration < maxSplitIterations; iteration++ {
		end := start + c.chunkSize
		if end > len(runes) {
			end = len(runes)
		} else if end < len(runes) {
			end = c.findBreak(runes, start, end)
		}

		piece := trimRunes(runes[start:end])
		if piece != "" {
			pieces = append(pieces, piece)
		}
		if end == len(runes) {
			break
		}
		if len(pieces) >= maxChunksPerBlock {
			log.Printf("[WARN] block produced %d pieces, truncating", maxChunksPerBlock)
			break
		}

		start = end - c.chunkOverlap
		if start >= len(runes) || start <= 0 {
			break
		}
		// Minimal progress means the window is stuck near the beginning of a
		// pathologically large input.
		if len(pieces) > 0 && float64(start)/float64(len(runes)) < 0.01 {
			log.Printf("[WARN] minimal progress while splitting text, stopping after %d pieces", len(pieces))
			break
		}
	}

	return pieces
}

// findBreak scans backwards from end for a sentence terminator, then for a
// line break, within the lookback window. Returns the exclusive cut position.
func (c *Chunker) findBreak(runes []rune, start, end int) int {
	floor := end - sentenceLookback
	if floor < start {
		floor = start
	}

	for i := end; i > floor; i-- {
		switch runes[i-1] {
		case '.', '!', '?':
			return i
		}
	}
	for i := end; i > floor; i-- {
		if runes[i-1] == '\n' {
			return i
		}
	}
	return end
}

func trimRunes(runes []rune) string {
	return strings.TrimSpace(string(runes))
}
