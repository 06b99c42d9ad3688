package impl

import (
	"fmt"
	"log"
	"sort"
	"strings"

	"github.com/rms-knowledge-service/models"
)

const (
	// relevanceHighScore admits a document outright.
	relevanceHighScore = 0.7
	// relevanceMidScore admits a document when backed by enough content.
	relevanceMidScore     = 0.5
	relevanceMinContent   = 200
	relevanceMinChunks    = 2
	titlePlaceholderValue = "string"
)

// documentUsage aggregates how one document's chunks contributed to the
// answer context.
type documentUsage struct {
	documentID    uint
	maxScore      float64
	contentLength int
	chunksUsed    int
	best          models.SearchResult
}

// BuildCitations keeps only documents whose chunks materially grounded the
// answer and emits one citation per survivor. A non-empty context always
// yields at least one citation: when every document fails the relevance bar,
// the single best one is kept and flagged.
func BuildCitations(chunks []models.SearchResult, docs map[uint]*models.Document) []models.SourceCitation {
	if len(chunks) == 0 {
		return []models.SourceCitation{}
	}

	usage := make(map[uint]*documentUsage)
	var order []uint
	for _, chunk := range chunks {
		u, ok := usage[chunk.DocumentID]
		if !ok {
			u = &documentUsage{documentID: chunk.DocumentID, best: chunk}
			usage[chunk.DocumentID] = u
			order = append(order, chunk.DocumentID)
		}
		u.chunksUsed++
		u.contentLength += len([]rune(chunk.Content))
		if chunk.Score > u.maxScore {
			u.maxScore = chunk.Score
			u.best = chunk
		}
	}

	var citations []models.SourceCitation
	for _, id := range order {
		u := usage[id]
		if materiallyRelevant(u) {
			citations = append(citations, citationFor(u, docs[id], false))
		} else {
			log.Printf("[DEBUG] document %d excluded from sources (score %.2f, chunks %d)",
				id, u.maxScore, u.chunksUsed)
		}
	}

	// Fallback: never answer from context while citing nothing.
	if len(citations) == 0 {
		best := usage[order[0]]
		for _, id := range order[1:] {
			if usage[id].maxScore > best.maxScore {
				best = usage[id]
			}
		}
		citations = append(citations, citationFor(best, docs[best.documentID], true))
	}

	sort.SliceStable(citations, func(i, j int) bool {
		return citations[i].Usage.MaxScore > citations[j].Usage.MaxScore
	})
	return citations
}

func materiallyRelevant(u *documentUsage) bool {
	if u.maxScore > relevanceHighScore {
		return true
	}
	return u.maxScore > relevanceMidScore &&
		u.contentLength > relevanceMinContent &&
		u.chunksUsed >= relevanceMinChunks
}

func citationFor(u *documentUsage, doc *models.Document, fallback bool) models.SourceCitation {
	citation := models.SourceCitation{
		DocumentID: u.documentID,
		Section:    u.best.Section,
		Title:      resolveTitle(doc, u.documentID),
		Usage: models.SourceUsage{
			ChunksUsed:         u.chunksUsed,
			MaxScore:           u.maxScore,
			TotalContentLength: u.contentLength,
			FallbackIncluded:   fallback,
		},
	}

	citation.Page = u.best.PageNumber
	citation.Sheet = u.best.SheetName
	citation.DisplayHint = displayHint(u.best)

	fileType := u.best.FileType
	if doc != nil {
		fileType = doc.FileType
		if citation.Section == "" {
			citation.Section = doc.Section
		}
	}
	citation.ViewerURL = viewerURL(u.documentID, fileType)

	return citation
}

// resolveTitle prefers the stored title, then the original filename, then
// the stored filename, always stripping the extension. The literal
// placeholder "string" (an artifact of API consoles) never surfaces.
func resolveTitle(doc *models.Document, documentID uint) string {
	if doc != nil {
		for _, candidate := range []string{doc.Title, doc.OriginalFilename, doc.Filename} {
			candidate = strings.TrimSpace(candidate)
			if candidate == "" || candidate == titlePlaceholderValue {
				continue
			}
			return stripExtension(candidate)
		}
	}
	return fmt.Sprintf("Документ %d", documentID)
}

func stripExtension(name string) string {
	if idx := strings.LastIndex(name, "."); idx > 0 {
		return name[:idx]
	}
	return name
}

func displayHint(r models.SearchResult) string {
	switch {
	case r.SheetName != "":
		return fmt.Sprintf("Лист: %s", r.SheetName)
	case r.PageNumber != nil:
		return fmt.Sprintf("Страница %d", *r.PageNumber)
	case r.SectionName != "":
		return r.SectionName
	default:
		return ""
	}
}

// viewerURL routes the reader to the right in-browser viewer for the file
// kind.
func viewerURL(documentID uint, fileType string) string {
	var viewer string
	switch strings.ToLower(strings.TrimPrefix(fileType, ".")) {
	case "pdf":
		viewer = "pdf"
	case "xlsx", "xls", "csv":
		viewer = "excel"
	case "docx", "doc", "rtf", "txt", "md", "markdown":
		viewer = "word"
	case "pptx", "ppt":
		viewer = "powerpoint"
	default:
		viewer = "pdf"
	}
	return fmt.Sprintf("/viewer/public/%s/%d", viewer, documentID)
}
