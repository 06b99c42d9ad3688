package impl

import (
	"context"
	"fmt"
	"log"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/rms-knowledge-service/models"
	"github.com/rms-knowledge-service/services"
)

const (
	// similarityReuse and similarityHybrid are the cosine thresholds between
	// the new query and the previous one.
	similarityReuse  = 0.6
	similarityHybrid = 0.3
	// snapshotPreviewLength is how much chunk text a context snapshot keeps.
	snapshotPreviewLength = 200
	// dedupePrefixLength: two context entries with the same document and the
	// same leading content are the same entry.
	dedupePrefixLength = 100
	// sharedNounMinLength is the shortest word counted as a topic noun.
	sharedNounMinLength = 4
	// sharedNounScanLimit bounds how many prior-query nouns are checked.
	sharedNounScanLimit = 5
)

// clarifyingStarters open a follow-up turn that narrows the previous one.
var clarifyingStarters = []string{
	"а что", "а если", "а как", "а когда", "а где", "а почему",
	"а какая", "а какие", "а какой", "а какое", "а сколько",
	"что насчет", "что насчёт", "как насчет", "как насчёт",
	"расскажи подробнее", "объясни", "уточни",
	"что именно", "что конкретно", "что ты имеешь в виду",
	"а ", "но ", "однако", "также", "дополнительно", "еще", "ещё",
	"и что", "и как", "и когда", "и где", "и почему",
}

// clarifyingPronouns refer back to something already on the table.
var clarifyingPronouns = []string{
	"это", "то же", "эти", "те", "оно", "они", "их",
	"вышеупомянутое", "упомянутое", "предыдущее", "то же самое",
	"данный", "данная", "данное", "данные",
}

var interrogatives = []string{
	"что", "как", "почему", "когда", "где", "какой", "какая", "какое", "сколько",
}

// queryStopwords are excluded from the shared-noun check.
var queryStopwords = map[string]bool{
	"что": true, "когда": true, "где": true, "как": true, "почему": true,
	"какой": true, "какая": true, "какое": true, "какие": true,
	"расскажи": true, "объясни": true, "покажи": true, "нужно": true,
	"можно": true, "есть": true, "быть": true, "этот": true, "это": true,
}

// followUpPatterns pair a prior-query topic with a continuation phrasing of
// the same topic.
var followUpPatterns = []struct {
	previous *regexp.Regexp
	next     *regexp.Regexp
}{
	{regexp.MustCompile(`высота.*потолка`), regexp.MustCompile(`минимальная.*высота`)},
	{regexp.MustCompile(`высота.*потолка`), regexp.MustCompile(`требования.*помещени`)},
	{regexp.MustCompile(`гигиенические.*практики`), regexp.MustCompile(`безопасность.*продуктов`)},
	{regexp.MustCompile(`конкретные.*практики`), regexp.MustCompile(`стандарты`)},
	{regexp.MustCompile(`детальные.*шаги`), regexp.MustCompile(`процедуры`)},
	{regexp.MustCompile(`гигиенические.*меры`), regexp.MustCompile(`стандарты.*безопасности`)},
}

// sessionContextImpl decides how prior turns shape retrieval for the next
// one, and maintains the bounded context lists inside a conversation.
type sessionContextImpl struct {
	conversations  services.ConversationService
	embedder       services.EmbeddingService
	maxContextSize int
}

func NewSessionContextService(conversations services.ConversationService, embedder services.EmbeddingService, maxContextSize int) services.SessionContextService {
	if maxContextSize <= 0 {
		maxContextSize = 25
	}
	return &sessionContextImpl{
		conversations:  conversations,
		embedder:       embedder,
		maxContextSize: maxContextSize,
	}
}

// DecideStrategy yields context_reuse, hybrid_context or new_search for one
// turn. An explicit section change rewrites the session focus and always
// forces a new search.
func (s *sessionContextImpl) DecideStrategy(ctx context.Context, conv *models.Conversation, query string, explicitSection *string) (models.ContextStrategy, error) {
	if explicitSection != nil {
		if conv.CurrentSection == nil || *conv.CurrentSection != *explicitSection {
			log.Printf("[INFO] session %s: section focus -> %s, starting new search", conv.SessionID, *explicitSection)
			conv.DocumentContext = models.ContextSnapshotList{}
			return models.ContextStrategyNew, nil
		}
	}

	if len(conv.DocumentContext) == 0 {
		return models.ContextStrategyNew, nil
	}

	messages, err := s.conversations.GetRecentMessages(ctx, conv.ID, 10)
	if err != nil {
		log.Printf("[WARN] session %s: failed to load history, starting new search: %v", conv.SessionID, err)
		return models.ContextStrategyNew, nil
	}
	if len(messages) < 2 {
		return models.ContextStrategyNew, nil
	}

	previous := lastUserMessage(messages)
	if previous == "" {
		return models.ContextStrategyNew, nil
	}

	if isClarifyingQuestion(query, previous) {
		log.Printf("[INFO] session %s: clarifying question, reusing context", conv.SessionID)
		return models.ContextStrategyReuse, nil
	}

	similarity, err := s.querySimilarity(ctx, previous, query)
	if err != nil {
		// Similarity is advisory; its failure only costs the reuse shortcut.
		log.Printf("[WARN] session %s: similarity failed, starting new search: %v", conv.SessionID, err)
		return models.ContextStrategyNew, nil
	}
	log.Printf("[INFO] session %s: query similarity %.3f", conv.SessionID, similarity)

	switch {
	case similarity > similarityReuse:
		return models.ContextStrategyReuse, nil
	case similarity > similarityHybrid:
		return models.ContextStrategyHybrid, nil
	default:
		return models.ContextStrategyNew, nil
	}
}

// BuildContext produces the chunk set the generator sees for the chosen
// strategy, bounded to the context size.
func (s *sessionContextImpl) BuildContext(conv *models.Conversation, strategy models.ContextStrategy, fresh []models.SearchResult) []models.SearchResult {
	switch strategy {
	case models.ContextStrategyReuse:
		return capResults(snapshotResults(conv.DocumentContext), s.maxContextSize)
	case models.ContextStrategyHybrid:
		return s.mergeContexts(conv.DocumentContext, fresh)
	default:
		return capResults(fresh, s.maxContextSize)
	}
}

// mergeContexts unions remembered snapshots with fresh results, deduplicates
// by document and leading content, and keeps the best-scoring entries.
func (s *sessionContextImpl) mergeContexts(snapshots models.ContextSnapshotList, fresh []models.SearchResult) []models.SearchResult {
	type entry struct {
		result    models.SearchResult
		timestamp time.Time
	}

	now := time.Now()
	entries := make([]entry, 0, len(snapshots)+len(fresh))
	for _, snap := range snapshots {
		entries = append(entries, entry{result: snapshotResult(snap), timestamp: snap.Timestamp})
	}
	for _, r := range fresh {
		entries = append(entries, entry{result: r, timestamp: now})
	}

	seen := make(map[string]bool, len(entries))
	unique := entries[:0]
	for _, e := range entries {
		key := dedupeKey(e.result)
		if seen[key] {
			continue
		}
		seen[key] = true
		unique = append(unique, e)
	}

	sort.SliceStable(unique, func(i, j int) bool {
		if unique[i].result.Score != unique[j].result.Score {
			return unique[i].result.Score > unique[j].result.Score
		}
		return unique[i].timestamp.After(unique[j].timestamp)
	})

	if len(unique) > s.maxContextSize {
		unique = unique[:s.maxContextSize]
	}
	results := make([]models.SearchResult, len(unique))
	for i, e := range unique {
		results[i] = e.result
	}
	return results
}

// RecordTurn appends this turn's retrieval snapshots and query descriptor to
// the conversation, evicting the oldest entries FIFO past the bound.
func (s *sessionContextImpl) RecordTurn(conv *models.Conversation, query string, section *string, results []models.SearchResult) {
	now := time.Now()

	for _, r := range results {
		conv.DocumentContext = append(conv.DocumentContext, models.ContextSnapshot{
			DocumentID:     r.DocumentID,
			Section:        r.Section,
			ContentPreview: previewOf(r.Content),
			Query:          query,
			Score:          r.Score,
			Timestamp:      now,
		})
	}
	if overflow := len(conv.DocumentContext) - s.maxContextSize; overflow > 0 {
		conv.DocumentContext = conv.DocumentContext[overflow:]
	}

	topScore := 0.0
	if len(results) > 0 {
		topScore = results[0].Score
	}
	conv.SearchContext = append(conv.SearchContext, models.SearchContextEntry{
		Query:       query,
		Section:     section,
		ResultCount: len(results),
		TopScore:    topScore,
		Timestamp:   now,
	})
	if overflow := len(conv.SearchContext) - s.maxContextSize; overflow > 0 {
		conv.SearchContext = conv.SearchContext[overflow:]
	}

	if section != nil {
		conv.CurrentSection = section
	}
	if conv.Title == "" {
		conv.Title = previewOf(query)
	}
}

func (s *sessionContextImpl) querySimilarity(ctx context.Context, previous, current string) (float64, error) {
	prevVec, err := s.embedder.EmbedQuery(ctx, previous)
	if err != nil {
		return 0, err
	}
	currVec, err := s.embedder.EmbedQuery(ctx, current)
	if err != nil {
		return 0, err
	}
	return CosineSimilarity(prevVec, currVec), nil
}

// isClarifyingQuestion detects a follow-up turn that narrows the previous
// one. Any single rule triggers.
func isClarifyingQuestion(query, previous string) bool {
	q := strings.ToLower(strings.TrimSpace(query))
	prev := strings.ToLower(strings.TrimSpace(previous))
	if q == "" || prev == "" {
		return false
	}

	for _, starter := range clarifyingStarters {
		if strings.HasPrefix(q, starter) {
			return true
		}
	}

	for _, pronoun := range clarifyingPronouns {
		if containsWord(q, pronoun) {
			return true
		}
	}

	words := strings.Fields(q)
	if len(words) <= 3 {
		for _, w := range interrogatives {
			if containsWord(q, w) {
				return true
			}
		}
	}

	checked := 0
	for _, noun := range strings.Fields(prev) {
		noun = strings.Trim(noun, ".,!?;:«»\"'()")
		if len([]rune(noun)) < sharedNounMinLength || queryStopwords[noun] {
			continue
		}
		if checked++; checked > sharedNounScanLimit {
			break
		}
		if strings.Contains(q, noun) {
			return true
		}
	}

	for _, pair := range followUpPatterns {
		if pair.previous.MatchString(prev) && pair.next.MatchString(q) {
			return true
		}
	}

	return false
}

func containsWord(text, word string) bool {
	for _, w := range strings.Fields(text) {
		if strings.Trim(w, ".,!?;:«»\"'()") == word {
			return true
		}
	}
	return false
}

func lastUserMessage(messages []models.ConversationMessage) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == models.MessageRoleUser {
			return messages[i].Content
		}
	}
	return ""
}

func snapshotResults(snapshots models.ContextSnapshotList) []models.SearchResult {
	results := make([]models.SearchResult, len(snapshots))
	for i, snap := range snapshots {
		results[i] = snapshotResult(snap)
	}
	return results
}

func snapshotResult(snap models.ContextSnapshot) models.SearchResult {
	return models.SearchResult{
		DocumentID:    snap.DocumentID,
		Section:       snap.Section,
		Content:       snap.ContentPreview,
		ContentLength: len([]rune(snap.ContentPreview)),
		Score:         snap.Score,
		ChunkType:     string(models.ChunkTypeText),
	}
}

func dedupeKey(r models.SearchResult) string {
	runes := []rune(r.Content)
	if len(runes) > dedupePrefixLength {
		runes = runes[:dedupePrefixLength]
	}
	return fmt.Sprintf("%d:%s", r.DocumentID, string(runes))
}

func capResults(results []models.SearchResult, max int) []models.SearchResult {
	if len(results) > max {
		return results[:max]
	}
	return results
}

func previewOf(text string) string {
	runes := []rune(strings.TrimSpace(text))
	if len(runes) > snapshotPreviewLength {
		return string(runes[:snapshotPreviewLength]) + "..."
	}
	return string(runes)
}
