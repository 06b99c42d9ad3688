package impl

import (
	"log"
	"sort"
	"unicode"

	"github.com/rms-knowledge-service/models"
)

const (
	// minChunkContentLength drops fragments too short to ground an answer.
	minChunkContentLength = 20
	// maxChunksPerSourceDocument caps how many chunks one document may
	// contribute to a result set. Applied here only; the source filter
	// groups but never re-trims.
	maxChunksPerSourceDocument = 3
	// maxSpecialCharRatio drops chunks dominated by markup or binary noise.
	maxSpecialCharRatio = 0.3
)

// smartFilterAndRank is the single post-search quality pass: short, noisy and
// low-score chunks are dropped, each document keeps its best chunks, and the
// survivors re-rank by a quality score layered over the raw similarity.
func smartFilterAndRank(results []models.SearchResult, limit int, scoreThreshold float64) []models.SearchResult {
	if len(results) == 0 {
		return nil
	}

	filtered := make([]models.SearchResult, 0, len(results))
	for _, r := range results {
		if len([]rune(r.Content)) < minChunkContentLength {
			continue
		}
		if r.Score < scoreThreshold*0.9 {
			continue
		}
		if specialCharRatio(r.Content) > maxSpecialCharRatio {
			continue
		}
		filtered = append(filtered, r)
	}

	byDocument := make(map[uint][]models.SearchResult)
	for _, r := range filtered {
		byDocument[r.DocumentID] = append(byDocument[r.DocumentID], r)
	}

	capped := make([]models.SearchResult, 0, len(filtered))
	for _, chunks := range byDocument {
		sort.Slice(chunks, func(i, j int) bool { return chunks[i].Score > chunks[j].Score })
		if len(chunks) > maxChunksPerSourceDocument {
			chunks = chunks[:maxChunksPerSourceDocument]
		}
		capped = append(capped, chunks...)
	}

	sort.SliceStable(capped, func(i, j int) bool {
		return qualityScore(capped[i]) > qualityScore(capped[j])
	})

	if limit > 0 && len(capped) > limit {
		capped = capped[:limit]
	}

	log.Printf("[DEBUG] smart filter: %d -> %d -> %d results", len(results), len(filtered), len(capped))
	return capped
}

// qualityScore layers content-quality bonuses over the raw similarity score:
// chunks of a readable length and plain text rank slightly above tables and
// over-long fragments with the same similarity.
func qualityScore(r models.SearchResult) float64 {
	score := r.Score

	length := r.ContentLength
	if length == 0 {
		length = len([]rune(r.Content))
	}
	switch {
	case length >= 100 && length <= 500:
		score += 0.1
	case length > 500:
		score -= 0.05
	}

	if r.ChunkType == string(models.ChunkTypeText) {
		score += 0.05
	}
	if len(r.Metadata) > 0 {
		score += 0.02
	}

	return score
}

func specialCharRatio(content string) float64 {
	runes := []rune(content)
	if len(runes) == 0 {
		return 0
	}
	special := 0
	for _, r := range runes {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && !unicode.IsSpace(r) {
			special++
		}
	}
	return float64(special) / float64(len(runes))
}
