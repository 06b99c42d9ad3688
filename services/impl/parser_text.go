package impl

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"os"
	"strings"
	"unicode"
	"unicode/utf16"
	"unicode/utf8"

	"github.com/yuin/goldmark"
	"golang.org/x/net/html"

	"github.com/rms-knowledge-service/models"
)

// parseText handles plain text files: encoding autodetection, then
// header-based sectioning.
func parseText(filePath string) (*models.ParseOutcome, error) {
	raw, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	text, encoding := decodeText(raw)
	outcome := &models.ParseOutcome{
		Blocks:     sectionPlainText(text),
		ParserName: "text",
	}
	if encoding != "utf-8" {
		outcome.Warnings = append(outcome.Warnings, fmt.Sprintf("decoded as %s", encoding))
	}
	return outcome, nil
}

// decodeText tries UTF-8 first, then BOM-marked UTF-16, then Latin-1 which
// accepts any byte sequence.
func decodeText(raw []byte) (string, string) {
	switch {
	case bytes.HasPrefix(raw, []byte{0xFF, 0xFE}):
		return decodeUTF16(raw[2:], false), "utf-16le"
	case bytes.HasPrefix(raw, []byte{0xFE, 0xFF}):
		return decodeUTF16(raw[2:], true), "utf-16be"
	case utf8.Valid(raw):
		return string(raw), "utf-8"
	default:
		runes := make([]rune, len(raw))
		for i, b := range raw {
			runes[i] = rune(b)
		}
		return string(runes), "latin-1"
	}
}

func decodeUTF16(raw []byte, bigEndian bool) string {
	if len(raw)%2 != 0 {
		raw = raw[:len(raw)-1]
	}
	units := make([]uint16, 0, len(raw)/2)
	for i := 0; i+1 < len(raw); i += 2 {
		if bigEndian {
			units = append(units, uint16(raw[i])<<8|uint16(raw[i+1]))
		} else {
			units = append(units, uint16(raw[i+1])<<8|uint16(raw[i]))
		}
	}
	return string(utf16.Decode(units))
}

// sectionPlainText groups lines under header lines. A header is a '#'-prefixed
// line or an all-caps line longer than 3 characters ending with ':'.
func sectionPlainText(text string) []models.ContentBlock {
	lines := strings.Split(text, "\n")

	var sections []string
	var current []string
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "#") || (isUpperLine(line) && len([]rune(line)) > 3 && strings.HasSuffix(line, ":")) {
			if len(current) > 0 {
				sections = append(sections, strings.Join(current, "\n"))
				current = nil
			}
			current = append(current, line)
		} else {
			current = append(current, line)
		}
	}
	if len(current) > 0 {
		sections = append(sections, strings.Join(current, "\n"))
	}

	if len(sections) > 1 {
		blocks := make([]models.ContentBlock, 0, len(sections))
		for i, section := range sections {
			if strings.TrimSpace(section) == "" {
				continue
			}
			name := "Header"
			if i > 0 {
				name = fmt.Sprintf("Section %d", i+1)
			}
			blocks = append(blocks, models.ContentBlock{
				Kind:        models.ChunkTypeText,
				Content:     strings.TrimSpace(section),
				SectionName: name,
			})
		}
		return blocks
	}

	if strings.TrimSpace(text) == "" {
		return nil
	}
	return []models.ContentBlock{{
		Kind:        models.ChunkTypeText,
		Content:     text,
		SectionName: "Document Content",
	}}
}

// isUpperLine mirrors a case check over cased runes only: true when the line
// has at least one letter and none of them is lowercase.
func isUpperLine(s string) bool {
	hasCased := false
	for _, r := range s {
		if unicode.IsLower(r) {
			return false
		}
		if unicode.IsUpper(r) {
			hasCased = true
		}
	}
	return hasCased
}

// parseMarkdown renders to HTML first, then extracts text; headings open new
// sections named after the heading itself.
func parseMarkdown(filePath string) (*models.ParseOutcome, error) {
	raw, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	var rendered bytes.Buffer
	if err := goldmark.Convert(raw, &rendered); err != nil {
		return nil, fmt.Errorf("failed to render markdown: %w", err)
	}

	doc, err := html.Parse(&rendered)
	if err != nil {
		return nil, fmt.Errorf("failed to parse rendered markdown: %w", err)
	}

	blocks := extractHTMLSections(doc)
	if len(blocks) == 0 {
		return &models.ParseOutcome{ParserName: "markdown"}, nil
	}
	return &models.ParseOutcome{Blocks: blocks, ParserName: "markdown"}, nil
}

type htmlSectionWalker struct {
	blocks  []models.ContentBlock
	name    string
	current strings.Builder
}

func extractHTMLSections(doc *html.Node) []models.ContentBlock {
	w := &htmlSectionWalker{name: "Document Content"}
	w.walk(doc)
	w.flush("")
	return w.blocks
}

func (w *htmlSectionWalker) walk(n *html.Node) {
	if n.Type == html.ElementNode {
		switch n.Data {
		case "h1", "h2", "h3", "h4", "h5", "h6":
			heading := strings.TrimSpace(nodeText(n))
			w.flush(heading)
			if heading != "" {
				w.current.WriteString(heading)
				w.current.WriteString("\n")
			}
			return
		case "p", "li", "tr", "pre", "blockquote":
			text := strings.TrimSpace(nodeText(n))
			if text != "" {
				w.current.WriteString(text)
				w.current.WriteString("\n")
			}
			return
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		w.walk(c)
	}
}

// flush closes the current section and starts a new one named nextName.
func (w *htmlSectionWalker) flush(nextName string) {
	if content := strings.TrimSpace(w.current.String()); content != "" {
		w.blocks = append(w.blocks, models.ContentBlock{
			Kind:        models.ChunkTypeText,
			Content:     content,
			SectionName: w.name,
		})
	}
	w.current.Reset()
	if nextName != "" {
		w.name = nextName
	}
}

func nodeText(n *html.Node) string {
	var b strings.Builder
	var visit func(*html.Node)
	visit = func(node *html.Node) {
		if node.Type == html.TextNode {
			b.WriteString(node.Data)
			b.WriteString(" ")
		}
		for c := node.FirstChild; c != nil; c = c.NextSibling {
			visit(c)
		}
	}
	visit(n)
	return strings.Join(strings.Fields(b.String()), " ")
}

const csvPreviewRows = 10

// parseCSV emits one table block: headers, the first rows, and a row count
// summary.
func parseCSV(filePath, originalName string) (*models.ParseOutcome, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read csv: %w", err)
	}
	if len(records) == 0 {
		return &models.ParseOutcome{ParserName: "csv"}, nil
	}

	headers := records[0]
	rows := records[1:]

	parts := []string{
		fmt.Sprintf("CSV File: %s", originalName),
		fmt.Sprintf("Rows: %d, Columns: %d", len(rows), len(headers)),
		"Columns: " + strings.Join(headers, " | "),
	}
	preview := rows
	if len(preview) > csvPreviewRows {
		preview = preview[:csvPreviewRows]
	}
	for _, row := range preview {
		parts = append(parts, strings.Join(row, " | "))
	}
	if len(rows) > csvPreviewRows {
		parts = append(parts, fmt.Sprintf("... and %d more rows", len(rows)-csvPreviewRows))
	}

	return &models.ParseOutcome{
		Blocks: []models.ContentBlock{{
			Kind:        models.ChunkTypeTable,
			Content:     strings.Join(parts, "\n"),
			SectionName: "CSV Data",
		}},
		ParserName: "csv",
	}, nil
}
