package impl

import (
	"context"
	"log"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/rms-knowledge-service/config"
	"github.com/rms-knowledge-service/models"
	"github.com/rms-knowledge-service/services"
)

const (
	// sectionPassFloor is the minimum threshold of the section-specific pass.
	// The configured threshold can raise it, never lower it.
	sectionPassFloor = 0.6
	// fallbackThresholdFactor softens the threshold when falling back across
	// all allowed sections.
	fallbackThresholdFactor = 0.6
	// qualityGateFactor: the section pass wins outright when it produced a
	// chunk above this share of the threshold.
	qualityGateFactor = 0.8
)

// passResult is the outcome of one retrieval pass. Pass failures are data,
// not control flow: the merger coerces them to empty result sets so no single
// pass can abort the overall retrieval.
type passResult struct {
	results []models.SearchResult
	err     error
}

func (p passResult) ok() []models.SearchResult {
	if p.err != nil {
		log.Printf("[WARN] retrieval pass failed, treating as empty: %v", p.err)
		return nil
	}
	return p.results
}

type retrievalServiceImpl struct {
	embedder services.EmbeddingService
	store    services.VectorStore
	cfg      *config.RetrievalConfig
}

func NewRetrievalService(embedder services.EmbeddingService, store services.VectorStore, cfg *config.RetrievalConfig) services.RetrievalService {
	return &retrievalServiceImpl{
		embedder: embedder,
		store:    store,
		cfg:      cfg,
	}
}

// Search routes one query through the section-specific and fallback passes
// per the section policy and strictness flag.
func (s *retrievalServiceImpl) Search(ctx context.Context, principal services.Principal, req models.SearchRequest) (*models.SearchResponse, error) {
	limit := req.Limit
	if limit <= 0 {
		limit = s.cfg.DefaultSearchLimit
	}
	threshold := req.ScoreThreshold
	if threshold <= 0 {
		threshold = s.cfg.DefaultScoreThreshold
	}

	vector, err := s.embedder.EmbedQuery(ctx, req.Query)
	if err != nil {
		return nil, err
	}

	targetSection := ""
	if req.Section != nil {
		targetSection = *req.Section
	}

	allowed := make(map[string]bool, len(principal.AllowedSections))
	for _, section := range principal.AllowedSections {
		allowed[section] = true
	}

	// Access check: a denied target section ends a strict search and merely
	// drops the target otherwise.
	if targetSection != "" && !allowed[targetSection] {
		log.Printf("[INFO] user %s has no access to section %q", principal.UserID, targetSection)
		if req.StrictSectionSearch {
			return emptyResponse(req.Query), nil
		}
		targetSection = ""
	}

	var sectionResults []models.SearchResult
	if targetSection != "" {
		pass := s.sectionPass(ctx, vector, targetSection, principal.AccessLevel, limit, threshold)
		sectionResults = pass.ok()

		if req.StrictSectionSearch {
			return response(req.Query, trim(sectionResults, limit), []string{targetSection}), nil
		}
		if passesQualityGate(sectionResults, threshold) {
			return response(req.Query, trim(sectionResults, limit), []string{targetSection}), nil
		}
		log.Printf("[INFO] section %q gave %d results below the quality gate, widening search",
			targetSection, len(sectionResults))
	}

	if req.StrictSectionSearch || len(principal.AllowedSections) == 0 {
		return emptyResponse(req.Query), nil
	}

	fallbackResults, sectionsUsed := s.fallbackPass(ctx, vector, principal, limit, threshold)
	merged := mergeResults(sectionResults, fallbackResults, limit)
	if targetSection != "" {
		sectionsUsed = append([]string{targetSection}, sectionsUsed...)
	}
	return response(req.Query, merged, sectionsUsed), nil
}

// sectionPass searches one section at a raised threshold, fetching twice the
// limit for headroom before the merge.
func (s *retrievalServiceImpl) sectionPass(ctx context.Context, vector []float32, section, accessLevel string, limit int, threshold float64) passResult {
	sectionThreshold := threshold
	if sectionThreshold < sectionPassFloor {
		sectionThreshold = sectionPassFloor
	}

	results, err := s.store.Search(ctx, vector, models.VectorFilter{
		Section:     section,
		AccessLevel: accessLevel,
	}, limit*2, sectionThreshold)
	return passResult{results: results, err: err}
}

// fallbackPass fans out one search per allowed section concurrently, dividing
// the limit across sections and softening the threshold.
func (s *retrievalServiceImpl) fallbackPass(ctx context.Context, vector []float32, principal services.Principal, limit int, threshold float64) ([]models.SearchResult, []string) {
	sections := principal.AllowedSections
	perSection := limit / len(sections)
	if perSection < 1 {
		perSection = 1
	}
	softened := threshold * fallbackThresholdFactor

	passes := make([]passResult, len(sections))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for i, section := range sections {
		i, section := i, section
		g.Go(func() error {
			results, err := s.store.Search(gctx, vector, models.VectorFilter{
				Section:     section,
				AccessLevel: principal.AccessLevel,
			}, perSection, softened)

			mu.Lock()
			passes[i] = passResult{results: results, err: err}
			mu.Unlock()
			// Pass errors are coerced to empty below, never propagated.
			return nil
		})
	}
	_ = g.Wait()

	var combined []models.SearchResult
	var sectionsUsed []string
	for i, pass := range passes {
		results := pass.ok()
		if len(results) > 0 {
			sectionsUsed = append(sectionsUsed, sections[i])
		}
		combined = append(combined, results...)
	}
	return combined, sectionsUsed
}

// passesQualityGate reports whether a section pass is good enough to answer
// without the cross-section fallback.
func passesQualityGate(results []models.SearchResult, threshold float64) bool {
	for _, r := range results {
		if r.Score > threshold*qualityGateFactor {
			return true
		}
	}
	return false
}

// mergeResults unions two passes, deduplicates by (document, chunk) keeping
// the best score, and sorts by score.
func mergeResults(a, b []models.SearchResult, limit int) []models.SearchResult {
	type key struct {
		documentID uint
		chunkID    uint
	}

	best := make(map[key]models.SearchResult, len(a)+len(b))
	for _, r := range append(append([]models.SearchResult{}, a...), b...) {
		k := key{r.DocumentID, r.ChunkID}
		if existing, ok := best[k]; !ok || r.Score > existing.Score {
			best[k] = r
		}
	}

	merged := make([]models.SearchResult, 0, len(best))
	for _, r := range best {
		merged = append(merged, r)
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].Score > merged[j].Score })
	return trim(merged, limit)
}

func trim(results []models.SearchResult, limit int) []models.SearchResult {
	if limit > 0 && len(results) > limit {
		return results[:limit]
	}
	return results
}

func response(query string, results []models.SearchResult, sectionsUsed []string) *models.SearchResponse {
	return &models.SearchResponse{
		Results:      results,
		Total:        len(results),
		Query:        query,
		SectionsUsed: sectionsUsed,
	}
}

func emptyResponse(query string) *models.SearchResponse {
	return &models.SearchResponse{Results: []models.SearchResult{}, Query: query}
}
