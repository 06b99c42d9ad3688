package impl

import "strings"

// truncationNotice is appended when a block exceeds the configured bound.
const truncationNotice = "... [текст обрезан]"

// CleanText is the single canonical text cleaner. Every block passes through
// it exactly once, between parsing and chunking: control bytes are stripped,
// whitespace runs collapse, blank lines drop, and one block never exceeds
// maxLen runes.
func CleanText(text string, maxLen int) string {
	if text == "" {
		return ""
	}

	normalized := strings.NewReplacer("\r\n", "\n", "\r", "\n").Replace(text)

	var filtered strings.Builder
	filtered.Grow(len(normalized))
	for _, r := range normalized {
		switch {
		case r == '\n':
			filtered.WriteRune('\n')
		case r == '\t':
			filtered.WriteRune(' ')
		case r < 0x20 || (r >= 0x7F && r <= 0x9F):
			// Control characters carry no content.
		default:
			filtered.WriteRune(r)
		}
	}

	lines := strings.Split(filtered.String(), "\n")
	kept := lines[:0]
	for _, line := range lines {
		words := strings.Fields(line)
		if len(words) == 0 {
			continue
		}
		kept = append(kept, strings.Join(words, " "))
	}
	cleaned := strings.Join(kept, "\n")

	if maxLen > 0 {
		runes := []rune(cleaned)
		if len(runes) > maxLen {
			cleaned = string(runes[:maxLen]) + truncationNotice
		}
	}

	return cleaned
}
