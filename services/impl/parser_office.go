package impl

import (
	"archive/zip"
	"encoding/xml"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/rms-knowledge-service/models"
)

// parseDocx reads word/document.xml and groups paragraphs into sections by
// the header heuristic: an all-caps paragraph, or a short one ending with ':'.
func parseDocx(filePath string) (*models.ParseOutcome, error) {
	zr, err := zip.OpenReader(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open docx container: %w", err)
	}
	defer zr.Close()

	doc := findZipEntry(&zr.Reader, "word/document.xml")
	if doc == nil {
		return nil, fmt.Errorf("docx container has no word/document.xml")
	}

	rc, err := doc.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open document part: %w", err)
	}
	defer rc.Close()

	paragraphs, err := wordParagraphs(rc)
	if err != nil {
		return nil, fmt.Errorf("failed to decode document part: %w", err)
	}
	if len(paragraphs) == 0 {
		return &models.ParseOutcome{ParserName: "docx"}, nil
	}

	return &models.ParseOutcome{
		Blocks:     groupParagraphSections(paragraphs),
		ParserName: "docx",
	}, nil
}

// wordParagraphs streams w:p / w:t elements out of the document part.
func wordParagraphs(r io.Reader) ([]string, error) {
	dec := xml.NewDecoder(r)
	var paragraphs []string
	var current strings.Builder
	inParagraph := false
	inText := false

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "p":
				inParagraph = true
				current.Reset()
			case "t":
				inText = inParagraph
			case "tab":
				if inParagraph {
					current.WriteByte('\t')
				}
			case "br":
				if inParagraph {
					current.WriteByte('\n')
				}
			}
		case xml.CharData:
			if inText {
				current.Write(t)
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				if s := strings.TrimSpace(current.String()); s != "" {
					paragraphs = append(paragraphs, s)
				}
				inParagraph = false
			}
		}
	}

	return paragraphs, nil
}

// groupParagraphSections splits a paragraph stream on header-looking lines.
func groupParagraphSections(paragraphs []string) []models.ContentBlock {
	var sections []string
	var current []string

	for _, para := range paragraphs {
		if isUpperLine(para) || (len([]rune(para)) < 100 && strings.HasSuffix(para, ":")) {
			if len(current) > 0 {
				sections = append(sections, strings.Join(current, "\n"))
				current = nil
			}
		}
		current = append(current, para)
	}
	if len(current) > 0 {
		sections = append(sections, strings.Join(current, "\n"))
	}

	if len(sections) == 1 {
		return []models.ContentBlock{{
			Kind:        models.ChunkTypeText,
			Content:     strings.Join(paragraphs, "\n\n"),
			SectionName: "Document Content",
		}}
	}

	blocks := make([]models.ContentBlock, 0, len(sections))
	for i, section := range sections {
		name := "Header"
		if i > 0 {
			name = fmt.Sprintf("Section %d", i+1)
		}
		blocks = append(blocks, models.ContentBlock{
			Kind:        models.ChunkTypeText,
			Content:     section,
			SectionName: name,
		})
	}
	return blocks
}

var (
	slidePattern = regexp.MustCompile(`^ppt/slides/slide(\d+)\.xml$`)
	notesPattern = regexp.MustCompile(`^ppt/notesSlides/notesSlide(\d+)\.xml$`)
)

// parsePptx emits one slide block per slide plus a notes block when present.
func parsePptx(filePath string) (*models.ParseOutcome, error) {
	zr, err := zip.OpenReader(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open pptx container: %w", err)
	}
	defer zr.Close()

	slides := map[int]*zip.File{}
	notes := map[int]*zip.File{}
	for _, f := range zr.File {
		if m := slidePattern.FindStringSubmatch(f.Name); m != nil {
			if n, err := strconv.Atoi(m[1]); err == nil {
				slides[n] = f
			}
		} else if m := notesPattern.FindStringSubmatch(f.Name); m != nil {
			if n, err := strconv.Atoi(m[1]); err == nil {
				notes[n] = f
			}
		}
	}
	if len(slides) == 0 {
		return nil, fmt.Errorf("pptx container has no slides")
	}

	numbers := make([]int, 0, len(slides))
	for n := range slides {
		numbers = append(numbers, n)
	}
	sort.Ints(numbers)

	outcome := &models.ParseOutcome{ParserName: "pptx"}
	for _, n := range numbers {
		texts, err := drawingTexts(slides[n])
		if err != nil {
			outcome.Warnings = append(outcome.Warnings, fmt.Sprintf("slide %d: %v", n, err))
			continue
		}
		if len(texts) > 0 {
			num := n
			outcome.Blocks = append(outcome.Blocks, models.ContentBlock{
				Kind:        models.ChunkTypeSlide,
				Content:     fmt.Sprintf("Slide %d:\n%s", n, strings.Join(texts, "\n")),
				SectionName: fmt.Sprintf("Slide %d", n),
				SubIndex:    &num,
			})
		}

		noteFile, ok := notes[n]
		if !ok {
			continue
		}
		noteTexts, err := drawingTexts(noteFile)
		if err != nil || len(noteTexts) == 0 {
			continue
		}
		num := n
		outcome.Blocks = append(outcome.Blocks, models.ContentBlock{
			Kind:        models.ChunkTypeNotes,
			Content:     fmt.Sprintf("Notes for Slide %d:\n%s", n, strings.Join(noteTexts, "\n")),
			SectionName: fmt.Sprintf("Notes Slide %d", n),
			SubIndex:    &num,
		})
	}

	return outcome, nil
}

// drawingTexts collects a:t runs grouped by a:p paragraphs from one slide or
// notes part.
func drawingTexts(f *zip.File) ([]string, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	dec := xml.NewDecoder(rc)
	var texts []string
	var current strings.Builder
	inText := false

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}

		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Local == "t" {
				inText = true
			}
		case xml.CharData:
			if inText {
				current.Write(t)
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				if s := strings.TrimSpace(current.String()); s != "" {
					texts = append(texts, s)
				}
				current.Reset()
			}
		}
	}
	if s := strings.TrimSpace(current.String()); s != "" {
		texts = append(texts, s)
	}

	return texts, nil
}

func findZipEntry(zr *zip.Reader, name string) *zip.File {
	for _, f := range zr.File {
		if f.Name == name {
			return f
		}
	}
	return nil
}
