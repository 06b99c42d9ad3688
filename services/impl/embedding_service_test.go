package impl

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rms-knowledge-service/config"
)

// scriptedProvider fakes the OpenAI embeddings endpoint: each input is mapped
// to a deterministic vector so order can be asserted.
type scriptedProvider struct {
	calls int
	err   error
}

func (p *scriptedProvider) CreateEmbeddings(_ context.Context, req openai.EmbeddingRequestConverter) (openai.EmbeddingResponse, error) {
	p.calls++
	if p.err != nil {
		return openai.EmbeddingResponse{}, p.err
	}

	inputs := req.Convert().Input.([]string)
	resp := openai.EmbeddingResponse{Data: make([]openai.Embedding, len(inputs))}
	for i, text := range inputs {
		resp.Data[i] = openai.Embedding{
			Index:     i,
			Embedding: []float32{float32(len([]rune(text))), float32(i), 1},
		}
	}
	return resp, nil
}

func embeddingConfig(batchSize int) *config.OpenAIConfig {
	return &config.OpenAIConfig{
		EmbeddingModel:     "text-embedding-3-small",
		EmbeddingDimension: 3,
		EmbeddingBatchSize: batchSize,
	}
}

func TestEmbedTexts(t *testing.T) {
	t.Run("preserves input order", func(t *testing.T) {
		provider := &scriptedProvider{}
		svc := newEmbeddingService(provider, embeddingConfig(64), nil)

		vectors, err := svc.EmbedTexts(context.Background(), []string{"аб", "абвг"})
		require.NoError(t, err)
		require.Len(t, vectors, 2)
		assert.Equal(t, float32(2), vectors[0][0])
		assert.Equal(t, float32(4), vectors[1][0])
		assert.Equal(t, 1, provider.calls)
	})

	t.Run("splits into batches", func(t *testing.T) {
		provider := &scriptedProvider{}
		svc := newEmbeddingService(provider, embeddingConfig(2), nil)

		texts := []string{"а", "бб", "ввв", "гггг", "ддддд"}
		vectors, err := svc.EmbedTexts(context.Background(), texts)
		require.NoError(t, err)
		require.Len(t, vectors, 5)
		assert.Equal(t, 3, provider.calls)
		for i, text := range texts {
			assert.Equal(t, float32(len([]rune(text))), vectors[i][0], "vector %d", i)
		}
	})

	t.Run("empty input is a no-op", func(t *testing.T) {
		provider := &scriptedProvider{}
		svc := newEmbeddingService(provider, embeddingConfig(64), nil)

		vectors, err := svc.EmbedTexts(context.Background(), nil)
		require.NoError(t, err)
		assert.Nil(t, vectors)
		assert.Equal(t, 0, provider.calls)
	})

	t.Run("provider failure surfaces", func(t *testing.T) {
		provider := &scriptedProvider{err: fmt.Errorf("quota exceeded")}
		svc := newEmbeddingService(provider, embeddingConfig(64), nil)

		_, err := svc.EmbedTexts(context.Background(), []string{"текст"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to create embeddings")
	})
}

func TestEmbedQuery(t *testing.T) {
	t.Run("caches the vector", func(t *testing.T) {
		provider := &scriptedProvider{}
		cache := NewEmbeddingCache(nil)
		svc := newEmbeddingService(provider, embeddingConfig(64), cache)

		first, err := svc.EmbedQuery(context.Background(), "график работы кухни")
		require.NoError(t, err)
		second, err := svc.EmbedQuery(context.Background(), "график работы кухни")
		require.NoError(t, err)

		assert.Equal(t, first, second)
		assert.Equal(t, 1, provider.calls, "second call must be served from cache")
	})

	t.Run("rejects empty query", func(t *testing.T) {
		svc := newEmbeddingService(&scriptedProvider{}, embeddingConfig(64), nil)
		_, err := svc.EmbedQuery(context.Background(), "   ")
		assert.Error(t, err)
	})
}

func TestCosineSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, CosineSimilarity([]float32{1, 2, 3}, []float32{1, 2, 3}), 1e-9)
	assert.InDelta(t, 0.0, CosineSimilarity([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.InDelta(t, -1.0, CosineSimilarity([]float32{1, 0}, []float32{-1, 0}), 1e-9)
	assert.Equal(t, 0.0, CosineSimilarity(nil, nil))
	assert.Equal(t, 0.0, CosineSimilarity([]float32{1, 2}, []float32{1, 2, 3}))
	assert.Equal(t, 0.0, CosineSimilarity([]float32{0, 0}, []float32{1, 1}))
}

func TestEmbeddingCacheLocal(t *testing.T) {
	ctx := context.Background()
	cache := NewEmbeddingCache(nil)

	_, ok := cache.Get(ctx, "вопрос")
	assert.False(t, ok)

	cache.Set(ctx, "вопрос", []float32{0.1, 0.2})
	vector, ok := cache.Get(ctx, "вопрос")
	require.True(t, ok)
	assert.Equal(t, []float32{0.1, 0.2}, vector)

	// A different query must never collide.
	_, ok = cache.Get(ctx, "другой вопрос")
	assert.False(t, ok)

	// Empty vectors are not cached.
	cache.Set(ctx, "пустой", nil)
	_, ok = cache.Get(ctx, "пустой")
	assert.False(t, ok)
}

func TestEmbeddingCacheRedis(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	cache := NewEmbeddingCache(redis.NewClient(&redis.Options{Addr: mr.Addr()}))

	cache.Set(ctx, "режим работы", []float32{1, 2, 3})
	vector, ok := cache.Get(ctx, "режим работы")
	require.True(t, ok)
	assert.Equal(t, []float32{1, 2, 3}, vector)

	// Entries expire after the TTL.
	mr.FastForward(embeddingCacheTTL + time.Minute)
	_, ok = cache.Get(ctx, "режим работы")
	assert.False(t, ok)
}
