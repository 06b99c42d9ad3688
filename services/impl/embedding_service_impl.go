package impl

import (
	"context"
	"fmt"
	"log"
	"math"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/rms-knowledge-service/config"
	"github.com/rms-knowledge-service/services"
)

const (
	// embeddingBatchDelay smooths batch calls against provider rate limits.
	embeddingBatchDelay = 200 * time.Millisecond
	// maxEmbeddingInput truncates one input; the provider rejects oversized
	// texts and chunks never legitimately get this long.
	maxEmbeddingInput = 8000
)

// embedder is a subset of the OpenAI client, extracted so tests can stub the
// provider.
type embedder interface {
	CreateEmbeddings(ctx context.Context, req openai.EmbeddingRequestConverter) (openai.EmbeddingResponse, error)
}

type embeddingServiceImpl struct {
	client    embedder
	cache     services.EmbeddingCache
	model     string
	dimension int
	batchSize int
}

// NewEmbeddingService builds the OpenAI-backed embedder. cache may be nil.
func NewEmbeddingService(client *openai.Client, cfg *config.OpenAIConfig, cache services.EmbeddingCache) services.EmbeddingService {
	return newEmbeddingService(client, cfg, cache)
}

func newEmbeddingService(client embedder, cfg *config.OpenAIConfig, cache services.EmbeddingCache) *embeddingServiceImpl {
	batchSize := cfg.EmbeddingBatchSize
	if batchSize <= 0 {
		batchSize = 64
	}
	return &embeddingServiceImpl{
		client:    client,
		cache:     cache,
		model:     cfg.EmbeddingModel,
		dimension: cfg.EmbeddingDimension,
		batchSize: batchSize,
	}
}

func (s *embeddingServiceImpl) Dimension() int {
	return s.dimension
}

// EmbedTexts embeds one batch of chunk texts, preserving order. Batches
// beyond the configured size are split with a smoothing delay between calls.
func (s *embeddingServiceImpl) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	vectors := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += s.batchSize {
		end := start + s.batchSize
		if end > len(texts) {
			end = len(texts)
		}

		if start > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(embeddingBatchDelay):
			}
		}

		batch, err := s.embedBatch(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		vectors = append(vectors, batch...)
	}

	return vectors, nil
}

// EmbedQuery embeds one query text, consulting the query cache first.
func (s *embeddingServiceImpl) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("cannot embed empty query")
	}

	if s.cache != nil {
		if vector, ok := s.cache.Get(ctx, text); ok {
			return vector, nil
		}
	}

	vectors, err := s.embedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		s.cache.Set(ctx, text, vectors[0])
	}
	return vectors[0], nil
}

func (s *embeddingServiceImpl) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	inputs := make([]string, len(texts))
	for i, text := range texts {
		if runes := []rune(text); len(runes) > maxEmbeddingInput {
			text = string(runes[:maxEmbeddingInput])
		}
		inputs[i] = text
	}

	resp, err := s.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: inputs,
		Model: openai.EmbeddingModel(s.model),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create embeddings: %w", err)
	}
	if len(resp.Data) != len(inputs) {
		return nil, fmt.Errorf("embedding response size mismatch: got %d, want %d", len(resp.Data), len(inputs))
	}

	vectors := make([][]float32, len(resp.Data))
	for _, item := range resp.Data {
		if item.Index < 0 || item.Index >= len(vectors) {
			return nil, fmt.Errorf("embedding response has out-of-range index %d", item.Index)
		}
		if len(item.Embedding) != s.dimension {
			log.Printf("[WARN] embedding dimension %d differs from configured %d", len(item.Embedding), s.dimension)
		}
		vectors[item.Index] = item.Embedding
	}

	return vectors, nil
}

// CosineSimilarity compares two vectors; zero vectors compare as 0.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
