package services

import (
	"context"

	"github.com/rms-knowledge-service/models"
)

// EmbeddingService turns text into vectors in the configured embedding space.
type EmbeddingService interface {
	// EmbedTexts embeds a batch of chunk texts, preserving order.
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
	// EmbedQuery embeds a single query, consulting the query cache first.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	Dimension() int
}

// EmbeddingCache caches query embeddings so repeated or follow-up turns skip
// the provider round trip.
type EmbeddingCache interface {
	Get(ctx context.Context, text string) ([]float32, bool)
	Set(ctx context.Context, text string, vector []float32)
}

// VectorStore is the adapter over the vector database.
type VectorStore interface {
	// EnsureCollection creates the collection when missing and recreates it
	// when the existing dimension differs (destructive, logged). Payload
	// indexes on section, access level, document id and chunk type are
	// ensured on every call.
	EnsureCollection(ctx context.Context, dimension int) error
	// AddChunks upserts points for the given chunks and returns the assigned
	// point ids aligned with the input slice.
	AddChunks(ctx context.Context, doc *models.Document, chunks []models.DocumentChunk, vectors [][]float32) ([]string, error)
	// Search runs a filtered similarity query and applies the shared
	// post-search quality filter before returning.
	Search(ctx context.Context, vector []float32, filter models.VectorFilter, limit int, scoreThreshold float64) ([]models.SearchResult, error)
	DeleteByDocument(ctx context.Context, documentID uint) error
	CollectionInfo(ctx context.Context) (*models.CollectionInfo, error)
}

// RetrievalService turns a user query into a ranked chunk list obeying the
// principal's section rights and the strictness flag.
type RetrievalService interface {
	Search(ctx context.Context, principal Principal, req models.SearchRequest) (*models.SearchResponse, error)
}
