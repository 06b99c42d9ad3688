package impl

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rms-knowledge-service/config"
	"github.com/rms-knowledge-service/models"
	"github.com/rms-knowledge-service/services"
)

// stubVectorStore answers per-section canned results and records the filters
// it was asked for.
type stubVectorStore struct {
	mu         sync.Mutex
	bySection  map[string][]models.SearchResult
	failFor    map[string]bool
	calls      []models.VectorFilter
	thresholds []float64
}

func (s *stubVectorStore) EnsureCollection(context.Context, int) error { return nil }
func (s *stubVectorStore) AddChunks(context.Context, *models.Document, []models.DocumentChunk, [][]float32) ([]string, error) {
	return nil, fmt.Errorf("not implemented")
}
func (s *stubVectorStore) DeleteByDocument(context.Context, uint) error { return nil }
func (s *stubVectorStore) CollectionInfo(context.Context) (*models.CollectionInfo, error) {
	return nil, fmt.Errorf("not implemented")
}

func (s *stubVectorStore) Search(_ context.Context, _ []float32, filter models.VectorFilter, limit int, threshold float64) ([]models.SearchResult, error) {
	s.mu.Lock()
	s.calls = append(s.calls, filter)
	s.thresholds = append(s.thresholds, threshold)
	s.mu.Unlock()

	if s.failFor[filter.Section] {
		return nil, fmt.Errorf("store down for %s", filter.Section)
	}
	results := s.bySection[filter.Section]
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func retrievalFixture(store *stubVectorStore) services.RetrievalService {
	embedder := &stubEmbedder{vectors: map[string][]float32{
		"вопрос": {1, 0, 0},
	}}
	return NewRetrievalService(embedder, store, &config.RetrievalConfig{
		DefaultSearchLimit:    10,
		DefaultScoreThreshold: 0.7,
	})
}

func sectionResult(docID uint, section string, score float64) models.SearchResult {
	return models.SearchResult{
		DocumentID:    docID,
		ChunkID:       docID * 10,
		Section:       section,
		Score:         score,
		Content:       strings.Repeat("текст ", 10),
		ContentLength: 60,
	}
}

func principalFor(sections ...string) services.Principal {
	return services.Principal{UserID: "u-1", AccessLevel: "kitchen_management", AllowedSections: sections}
}

func TestRetrievalSearch(t *testing.T) {
	ctx := context.Background()

	t.Run("good section pass answers without fallback", func(t *testing.T) {
		store := &stubVectorStore{bySection: map[string][]models.SearchResult{
			"procedures": {sectionResult(1, "procedures", 0.9)},
		}}
		svc := retrievalFixture(store)
		section := "procedures"

		resp, err := svc.Search(ctx, principalFor("procedures", "standards"), models.SearchRequest{
			Query: "вопрос", Section: &section,
		})
		require.NoError(t, err)
		require.Len(t, resp.Results, 1)
		assert.Equal(t, []string{"procedures"}, resp.SectionsUsed)
		// Only the single section pass ran.
		assert.Len(t, store.calls, 1)
	})

	t.Run("weak section pass widens to all allowed sections", func(t *testing.T) {
		store := &stubVectorStore{bySection: map[string][]models.SearchResult{
			"procedures": {sectionResult(1, "procedures", 0.5)}, // below 0.7*0.8
			"standards":  {sectionResult(2, "standards", 0.8)},
		}}
		svc := retrievalFixture(store)
		section := "procedures"

		resp, err := svc.Search(ctx, principalFor("procedures", "standards"), models.SearchRequest{
			Query: "вопрос", Section: &section,
		})
		require.NoError(t, err)
		require.Len(t, resp.Results, 2)
		assert.Equal(t, uint(2), resp.Results[0].DocumentID)
		assert.Contains(t, resp.SectionsUsed, "procedures")
		assert.Contains(t, resp.SectionsUsed, "standards")
	})

	t.Run("strict search never leaves the section", func(t *testing.T) {
		store := &stubVectorStore{bySection: map[string][]models.SearchResult{
			"procedures": {sectionResult(1, "procedures", 0.5)},
			"standards":  {sectionResult(2, "standards", 0.9)},
		}}
		svc := retrievalFixture(store)
		section := "procedures"

		resp, err := svc.Search(ctx, principalFor("procedures", "standards"), models.SearchRequest{
			Query: "вопрос", Section: &section, StrictSectionSearch: true,
		})
		require.NoError(t, err)
		require.Len(t, resp.Results, 1)
		assert.Equal(t, uint(1), resp.Results[0].DocumentID)
		assert.Len(t, store.calls, 1)
	})

	t.Run("strict search on a denied section is empty", func(t *testing.T) {
		store := &stubVectorStore{bySection: map[string][]models.SearchResult{
			"restaurant_ops": {sectionResult(1, "restaurant_ops", 0.9)},
		}}
		svc := retrievalFixture(store)
		section := "restaurant_ops"

		resp, err := svc.Search(ctx, principalFor("procedures"), models.SearchRequest{
			Query: "вопрос", Section: &section, StrictSectionSearch: true,
		})
		require.NoError(t, err)
		assert.Empty(t, resp.Results)
		assert.Empty(t, store.calls)
	})

	t.Run("denied target degrades to the fallback pass", func(t *testing.T) {
		store := &stubVectorStore{bySection: map[string][]models.SearchResult{
			"procedures": {sectionResult(1, "procedures", 0.8)},
		}}
		svc := retrievalFixture(store)
		section := "restaurant_ops"

		resp, err := svc.Search(ctx, principalFor("procedures"), models.SearchRequest{
			Query: "вопрос", Section: &section,
		})
		require.NoError(t, err)
		require.Len(t, resp.Results, 1)
		assert.Equal(t, []string{"procedures"}, resp.SectionsUsed)
	})

	t.Run("one failing section cannot sink the fallback", func(t *testing.T) {
		store := &stubVectorStore{
			bySection: map[string][]models.SearchResult{
				"standards": {sectionResult(2, "standards", 0.8)},
			},
			failFor: map[string]bool{"procedures": true},
		}
		svc := retrievalFixture(store)

		resp, err := svc.Search(ctx, principalFor("procedures", "standards"), models.SearchRequest{Query: "вопрос"})
		require.NoError(t, err)
		require.Len(t, resp.Results, 1)
		assert.Equal(t, []string{"standards"}, resp.SectionsUsed)
	})

	t.Run("no allowed sections yields empty, not error", func(t *testing.T) {
		store := &stubVectorStore{}
		svc := retrievalFixture(store)

		resp, err := svc.Search(ctx, principalFor(), models.SearchRequest{Query: "вопрос"})
		require.NoError(t, err)
		assert.Empty(t, resp.Results)
	})

	t.Run("fallback softens the threshold", func(t *testing.T) {
		store := &stubVectorStore{bySection: map[string][]models.SearchResult{
			"standards": {sectionResult(2, "standards", 0.5)},
		}}
		svc := retrievalFixture(store)

		_, err := svc.Search(ctx, principalFor("standards"), models.SearchRequest{Query: "вопрос"})
		require.NoError(t, err)
		require.NotEmpty(t, store.thresholds)
		assert.InDelta(t, 0.7*fallbackThresholdFactor, store.thresholds[0], 1e-9)
	})
}

func TestMergeResults(t *testing.T) {
	a := []models.SearchResult{
		{DocumentID: 1, ChunkID: 1, Score: 0.8},
		{DocumentID: 1, ChunkID: 2, Score: 0.6},
	}
	b := []models.SearchResult{
		{DocumentID: 1, ChunkID: 1, Score: 0.9}, // same chunk, better score
		{DocumentID: 2, ChunkID: 3, Score: 0.7},
	}

	merged := mergeResults(a, b, 10)
	require.Len(t, merged, 3)
	assert.Equal(t, uint(1), merged[0].ChunkID)
	assert.InDelta(t, 0.9, merged[0].Score, 1e-9)

	t.Run("limit applies after the merge", func(t *testing.T) {
		assert.Len(t, mergeResults(a, b, 2), 2)
	})
}
