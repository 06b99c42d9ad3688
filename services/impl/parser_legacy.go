package impl

import (
	"fmt"
	"os"
	"strings"
	"unicode"
	"unicode/utf16"

	"github.com/rms-knowledge-service/models"
)

const (
	// maxSalvagedBlocks bounds how many recovered runs one file may emit.
	maxSalvagedBlocks = 20
	// minSalvageRun is the shortest printable run worth keeping.
	minSalvageRun = 40
	// maxSalvageRun bounds one recovered run.
	maxSalvageRun = 4000
	// minLetterRatio is the salvage quality bar: below it a run is treated
	// as binary noise, not text.
	minLetterRatio = 0.3
)

// parseLegacyOffice handles binary .doc/.xls/.ppt files. There is no native
// reader for the OLE2 formats here, so the parser salvages text instead:
// first a UTF-16LE scan (how Word stores body text), then printable byte
// runs, each gated by the quality heuristic.
func parseLegacyOffice(filePath string, kind fileKind) (*models.ParseOutcome, error) {
	raw, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	outcome := &models.ParseOutcome{ParserName: "legacy-" + string(kind)}

	if blocks := salvageUTF16Runs(raw); len(blocks) > 0 {
		outcome.Blocks = blocks
		outcome.Warnings = append(outcome.Warnings, "legacy format: text recovered from UTF-16 scan")
		return outcome, nil
	}

	if blocks := salvagePrintableRuns(raw); len(blocks) > 0 {
		outcome.Blocks = blocks
		outcome.Warnings = append(outcome.Warnings, "legacy format: text recovered from printable-run scan")
		return outcome, nil
	}

	return nil, fmt.Errorf("no readable text recovered from legacy office file")
}

// salvageUTF16Runs scans for contiguous UTF-16LE sequences of letters,
// digits, punctuation and spaces.
func salvageUTF16Runs(raw []byte) []models.ContentBlock {
	var blocks []models.ContentBlock
	var run []uint16

	flush := func() {
		if len(run) >= minSalvageRun/2 {
			text := strings.TrimSpace(string(utf16.Decode(run)))
			if isPlausibleText(text) {
				blocks = append(blocks, salvageBlock(text, len(blocks)))
			}
		}
		run = run[:0]
	}

	for i := 0; i+1 < len(raw) && len(blocks) < maxSalvagedBlocks; i += 2 {
		u := uint16(raw[i]) | uint16(raw[i+1])<<8
		r := rune(u)
		if u >= 0xD800 && u <= 0xDFFF {
			flush()
			continue
		}
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsPunct(r) || r == ' ' {
			if len(run) < maxSalvageRun {
				run = append(run, u)
			}
			continue
		}
		flush()
	}
	flush()

	return blocks
}

// salvagePrintableRuns extracts contiguous printable byte runs. Shared with
// the PDF fallback path.
func salvagePrintableRuns(raw []byte) []models.ContentBlock {
	var blocks []models.ContentBlock
	var run []byte

	flush := func() {
		if len(run) >= minSalvageRun {
			text := strings.TrimSpace(string(run))
			if isPlausibleText(text) {
				blocks = append(blocks, salvageBlock(text, len(blocks)))
			}
		}
		run = run[:0]
	}

	for _, b := range raw {
		if len(blocks) >= maxSalvagedBlocks {
			break
		}
		if (b >= 0x20 && b < 0x7F) || b == '\n' {
			if len(run) < maxSalvageRun {
				run = append(run, b)
			}
			continue
		}
		flush()
	}
	flush()

	return blocks
}

func salvageBlock(text string, index int) models.ContentBlock {
	idx := index + 1
	return models.ContentBlock{
		Kind:     models.ChunkTypeText,
		Content:  text,
		SubIndex: &idx,
		Metadata: map[string]string{"extraction": "salvage"},
	}
}

// isPlausibleText is the salvage quality bar: mostly letters, more than one
// word, and mixed case (binary noise tends to be single-case runs).
func isPlausibleText(text string) bool {
	runes := []rune(text)
	if len(runes) == 0 {
		return false
	}

	letters, upper, lower := 0, 0, 0
	for _, r := range runes {
		if unicode.IsLetter(r) {
			letters++
			if unicode.IsUpper(r) {
				upper++
			}
			if unicode.IsLower(r) {
				lower++
			}
		}
	}

	if float64(letters)/float64(len(runes)) < minLetterRatio {
		return false
	}
	if len(strings.Fields(text)) < 2 {
		return false
	}
	return upper > 0 && lower > 0
}
