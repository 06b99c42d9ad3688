package impl

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/rms-knowledge-service/models"
)

// Destination groups whose content is formatting data, not document text.
var rtfSkipGroups = map[string]bool{
	"fonttbl":    true,
	"colortbl":   true,
	"stylesheet": true,
	"info":       true,
	"pict":       true,
	"header":     true,
	"footer":     true,
	"themedata":  true,
	"generator":  true,
}

// parseRTF strips RTF control words and yields the remaining plain text as a
// single block.
func parseRTF(filePath string) (*models.ParseOutcome, error) {
	raw, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	text := stripRTF(raw)
	if strings.TrimSpace(text) == "" {
		return &models.ParseOutcome{ParserName: "rtf"}, nil
	}

	return &models.ParseOutcome{
		Blocks: []models.ContentBlock{{
			Kind:        models.ChunkTypeText,
			Content:     text,
			SectionName: "Document Content",
		}},
		ParserName: "rtf",
	}, nil
}

// stripRTF is a small scanner over the RTF token stream. It tracks group
// nesting, skips formatting destinations entirely, translates \par and \tab,
// and decodes \'hh byte escapes and \uN unicode escapes.
func stripRTF(raw []byte) string {
	var out strings.Builder
	depth := 0
	skipUntil := -1 // group depth at which a skipped destination started

	i := 0
	for i < len(raw) {
		c := raw[i]
		switch c {
		case '{':
			depth++
			i++
		case '}':
			if skipUntil >= 0 && depth <= skipUntil {
				skipUntil = -1
			}
			depth--
			i++
		case '\\':
			word, param, next := readRTFControl(raw, i+1)
			i = next
			if skipUntil >= 0 {
				continue
			}
			switch word {
			case "par", "line":
				out.WriteByte('\n')
			case "tab":
				out.WriteByte('\t')
			case "'":
				if b, err := strconv.ParseUint(param, 16, 8); err == nil {
					out.WriteRune(rune(b))
				}
			case "u":
				if n, err := strconv.Atoi(param); err == nil {
					if n < 0 {
						n += 65536
					}
					out.WriteRune(rune(n))
					// The substitute character after \uN is for readers
					// without unicode support.
					if i < len(raw) && raw[i] != '\\' && raw[i] != '{' && raw[i] != '}' {
						i++
					}
				}
			case "*":
				// \* marks an ignorable destination.
				skipUntil = depth
			default:
				if rtfSkipGroups[word] {
					skipUntil = depth
				}
			}
		case '\r', '\n':
			i++
		default:
			if skipUntil < 0 {
				out.WriteByte(c)
			}
			i++
		}
	}

	return strings.TrimSpace(out.String())
}

// readRTFControl reads one control word or symbol starting right after the
// backslash. It returns the word, its parameter (digits, or hex for \'), and
// the index of the first byte after the control.
func readRTFControl(raw []byte, pos int) (string, string, int) {
	if pos >= len(raw) {
		return "", "", pos
	}

	c := raw[pos]
	// Control symbol: single non-letter character.
	if c == '\'' {
		end := pos + 3
		if end > len(raw) {
			end = len(raw)
		}
		return "'", string(raw[pos+1 : end]), end
	}
	if !isASCIILetter(c) {
		return string(c), "", pos + 1
	}

	start := pos
	for pos < len(raw) && isASCIILetter(raw[pos]) {
		pos++
	}
	word := string(raw[start:pos])

	paramStart := pos
	if pos < len(raw) && (raw[pos] == '-' || isASCIIDigit(raw[pos])) {
		pos++
		for pos < len(raw) && isASCIIDigit(raw[pos]) {
			pos++
		}
	}
	param := string(raw[paramStart:pos])

	// One space after a control word is part of the control.
	if pos < len(raw) && raw[pos] == ' ' {
		pos++
	}

	return word, param, pos
}

func isASCIILetter(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}

func isASCIIDigit(b byte) bool {
	return b >= '0' && b <= '9'
}
