package impl

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"

	"github.com/rms-knowledge-service/config"
	"github.com/rms-knowledge-service/models"
	"github.com/rms-knowledge-service/services"
)

const (
	// upsertBatchSize bounds one upsert call to the vector store.
	upsertBatchSize = 100
	// maxChunksForVectorStore clamps how many chunks of one document are
	// indexed, independently of the chunker's own cap.
	maxChunksForVectorStore = 100
	// searchWidening over-fetches before the smart filter trims.
	searchWideningFactor = 3
	maxWidenedLimit      = 50
	scrollPageSize       = 1000
)

type qdrantStore struct {
	client     *qdrant.Client
	collection string
}

// NewVectorStore connects to Qdrant and returns the collection adapter.
func NewVectorStore(cfg *config.QdrantConfig) (services.VectorStore, error) {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to qdrant: %w", err)
	}

	return &qdrantStore{
		client:     client,
		collection: cfg.Collection,
	}, nil
}

// EnsureCollection creates the collection when missing. A pre-existing
// collection with a different vector dimension is recreated; that destroys
// its points, so it is logged loudly.
func (s *qdrantStore) EnsureCollection(ctx context.Context, dimension int) error {
	exists, err := s.client.CollectionExists(ctx, s.collection)
	if err != nil {
		return fmt.Errorf("failed to check collection: %w", err)
	}

	if exists {
		info, err := s.client.GetCollectionInfo(ctx, s.collection)
		if err != nil {
			return fmt.Errorf("failed to inspect collection: %w", err)
		}
		current := collectionDimension(info)
		if current == dimension {
			return s.ensurePayloadIndexes(ctx)
		}

		log.Printf("[WARN] collection %q has dimension %d, expected %d: recreating (destructive)",
			s.collection, current, dimension)
		if err := s.client.DeleteCollection(ctx, s.collection); err != nil {
			return fmt.Errorf("failed to delete mismatched collection: %w", err)
		}
	}

	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(dimension),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}
	log.Printf("[INFO] created collection %q with dimension %d", s.collection, dimension)

	return s.ensurePayloadIndexes(ctx)
}

// ensurePayloadIndexes keeps the filterable fields indexed. Creating an index
// that already exists is a no-op for the store, so this runs on every start.
func (s *qdrantStore) ensurePayloadIndexes(ctx context.Context) error {
	fields := []struct {
		name string
		kind qdrant.FieldType
	}{
		{"section", qdrant.FieldType_FieldTypeKeyword},
		{"access_level", qdrant.FieldType_FieldTypeKeyword},
		{"chunk_type", qdrant.FieldType_FieldTypeKeyword},
		{"document_id", qdrant.FieldType_FieldTypeInteger},
	}

	for _, field := range fields {
		_, err := s.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
			CollectionName: s.collection,
			FieldName:      field.name,
			FieldType:      field.kind.Enum(),
		})
		if err != nil {
			log.Printf("[WARN] failed to ensure payload index on %s: %v", field.name, err)
		}
	}
	return nil
}

// AddChunks upserts one document's chunks in sub-batches and returns the
// assigned point ids aligned with the input slice.
func (s *qdrantStore) AddChunks(ctx context.Context, doc *models.Document, chunks []models.DocumentChunk, vectors [][]float32) ([]string, error) {
	if len(chunks) != len(vectors) {
		return nil, fmt.Errorf("chunk/vector count mismatch: %d vs %d", len(chunks), len(vectors))
	}
	if len(chunks) > maxChunksForVectorStore {
		log.Printf("[WARN] document %d has %d chunks, indexing only the first %d",
			doc.ID, len(chunks), maxChunksForVectorStore)
		chunks = chunks[:maxChunksForVectorStore]
		vectors = vectors[:maxChunksForVectorStore]
	}

	indexedAt := time.Now().UTC().Format(time.RFC3339)
	ids := make([]string, len(chunks))
	points := make([]*qdrant.PointStruct, len(chunks))

	for i, chunk := range chunks {
		id := uuid.NewString()
		ids[i] = id
		points[i] = &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(id),
			Vectors: qdrant.NewVectors(vectors[i]...),
			Payload: qdrant.NewValueMap(payloadMap(doc, chunk, indexedAt)),
		}
	}

	for start := 0; start < len(points); start += upsertBatchSize {
		end := start + upsertBatchSize
		if end > len(points) {
			end = len(points)
		}
		_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: s.collection,
			Points:         points[start:end],
			Wait:           qdrant.PtrOf(true),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to upsert points %d..%d: %w", start, end, err)
		}
	}

	log.Printf("[INFO] indexed %d chunks for document %d", len(points), doc.ID)
	return ids, nil
}

// Search runs one filtered similarity query. The raw query is widened and run
// at a softened threshold; the smart filter then applies the real quality
// bars and trims to limit.
func (s *qdrantStore) Search(ctx context.Context, vector []float32, filter models.VectorFilter, limit int, scoreThreshold float64) ([]models.SearchResult, error) {
	widened := limit * searchWideningFactor
	if widened > maxWidenedLimit {
		widened = maxWidenedLimit
	}
	if widened < limit {
		widened = limit
	}

	points, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.collection,
		Query:          qdrant.NewQuery(vector...),
		Filter:         buildFilter(filter),
		Limit:          qdrant.PtrOf(uint64(widened)),
		ScoreThreshold: qdrant.PtrOf(float32(scoreThreshold * 0.8)),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query collection: %w", err)
	}

	results := make([]models.SearchResult, 0, len(points))
	for _, point := range points {
		results = append(results, resultFromPayload(point.Payload, float64(point.Score)))
	}

	return smartFilterAndRank(results, limit, scoreThreshold), nil
}

// DeleteByDocument removes every point of one document. Failure is logged
// and swallowed; document deletion must not hang on the vector store.
func (s *qdrantStore) DeleteByDocument(ctx context.Context, documentID uint) error {
	filter := &qdrant.Filter{
		Must: []*qdrant.Condition{
			qdrant.NewMatchInt("document_id", int64(documentID)),
		},
	}

	points, err := s.client.Scroll(ctx, &qdrant.ScrollPoints{
		CollectionName: s.collection,
		Filter:         filter,
		Limit:          qdrant.PtrOf(uint32(scrollPageSize)),
	})
	if err != nil {
		log.Printf("[WARN] failed to scroll points for document %d: %v", documentID, err)
	} else {
		log.Printf("[INFO] deleting %d vector points for document %d", len(points), documentID)
	}

	_, err = s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.collection,
		Points:         qdrant.NewPointsSelectorFilter(filter),
		Wait:           qdrant.PtrOf(true),
	})
	if err != nil {
		log.Printf("[WARN] failed to delete vectors for document %d: %v", documentID, err)
	}
	return nil
}

func (s *qdrantStore) CollectionInfo(ctx context.Context) (*models.CollectionInfo, error) {
	info, err := s.client.GetCollectionInfo(ctx, s.collection)
	if err != nil {
		return nil, fmt.Errorf("failed to get collection info: %w", err)
	}

	return &models.CollectionInfo{
		Name:        s.collection,
		PointsCount: info.GetPointsCount(),
		Dimension:   collectionDimension(info),
		Status:      info.GetStatus().String(),
	}, nil
}

func collectionDimension(info *qdrant.CollectionInfo) int {
	params := info.GetConfig().GetParams().GetVectorsConfig().GetParams()
	if params == nil {
		return 0
	}
	return int(params.GetSize())
}

func buildFilter(filter models.VectorFilter) *qdrant.Filter {
	var must []*qdrant.Condition
	if filter.Section != "" {
		must = append(must, qdrant.NewMatch("section", filter.Section))
	}
	if filter.AccessLevel != "" {
		must = append(must, qdrant.NewMatch("access_level", filter.AccessLevel))
	}
	if filter.DocumentID != nil {
		must = append(must, qdrant.NewMatchInt("document_id", int64(*filter.DocumentID)))
	}
	if filter.ChunkType != "" {
		must = append(must, qdrant.NewMatch("chunk_type", filter.ChunkType))
	}
	if len(must) == 0 {
		return nil
	}
	return &qdrant.Filter{Must: must}
}

// payloadMap lays out the closed payload schema. Writes go through
// models.VectorPayload only, so an unknown key cannot reach the store;
// resultFromPayload ignores anything extra it finds on read.
func payloadMap(doc *models.Document, chunk models.DocumentChunk, indexedAt string) map[string]any {
	p := models.VectorPayload{
		DocumentID:    doc.ID,
		ChunkID:       chunk.ID,
		Content:       chunk.Content,
		Section:       doc.Section,
		AccessLevel:   doc.AccessLevel,
		ChunkType:     string(chunk.ChunkType),
		PageNumber:    chunk.PageNumber,
		DocumentName:  doc.Title,
		FileType:      doc.FileType,
		ChunkIndex:    chunk.ChunkIndex,
		ContentLength: chunk.ContentLength,
		HasImages:     doc.HasImages,
		UploadedAt:    doc.UploadedAt.UTC().Format(time.RFC3339),
		IndexedAt:     indexedAt,
	}
	if chunk.SectionName != nil {
		p.SectionName = *chunk.SectionName
	}
	if chunk.SheetName != nil {
		p.SheetName = *chunk.SheetName
	}

	payload := map[string]any{
		"document_id":    int64(p.DocumentID),
		"chunk_id":       int64(p.ChunkID),
		"content":        p.Content,
		"section":        p.Section,
		"access_level":   p.AccessLevel,
		"chunk_type":     p.ChunkType,
		"document_name":  p.DocumentName,
		"file_type":      p.FileType,
		"chunk_index":    int64(p.ChunkIndex),
		"content_length": int64(p.ContentLength),
		"has_images":     p.HasImages,
		"uploaded_at":    p.UploadedAt,
		"indexed_at":     p.IndexedAt,
	}
	if p.PageNumber != nil {
		payload["page_number"] = int64(*p.PageNumber)
	}
	if p.SectionName != "" {
		payload["section_name"] = p.SectionName
	}
	if p.SheetName != "" {
		payload["sheet_name"] = p.SheetName
	}
	return payload
}

func resultFromPayload(payload map[string]*qdrant.Value, score float64) models.SearchResult {
	result := models.SearchResult{
		Score:         score,
		DocumentID:    uint(intValue(payload, "document_id")),
		ChunkID:       uint(intValue(payload, "chunk_id")),
		Content:       stringValue(payload, "content"),
		Section:       stringValue(payload, "section"),
		AccessLevel:   stringValue(payload, "access_level"),
		ChunkType:     stringValue(payload, "chunk_type"),
		SectionName:   stringValue(payload, "section_name"),
		SheetName:     stringValue(payload, "sheet_name"),
		DocumentName:  stringValue(payload, "document_name"),
		FileType:      stringValue(payload, "file_type"),
		ChunkIndex:    int(intValue(payload, "chunk_index")),
		ContentLength: int(intValue(payload, "content_length")),
	}
	if page, ok := payload["page_number"]; ok {
		p := int(page.GetIntegerValue())
		result.PageNumber = &p
	}
	if result.ContentLength == 0 {
		result.ContentLength = len([]rune(result.Content))
	}
	return result
}

func stringValue(payload map[string]*qdrant.Value, key string) string {
	if v, ok := payload[key]; ok {
		return v.GetStringValue()
	}
	return ""
}

func intValue(payload map[string]*qdrant.Value, key string) int64 {
	if v, ok := payload[key]; ok {
		return v.GetIntegerValue()
	}
	return 0
}
