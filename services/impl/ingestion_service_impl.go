package impl

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/rms-knowledge-service/config"
	"github.com/rms-knowledge-service/models"
	"github.com/rms-knowledge-service/services"
)

const (
	// textContentPreviewLength bounds the plain-text copy stored on the
	// document row; full text lives in the chunks.
	textContentPreviewLength = 10000

	cancelledError = "cancelled"
)

// ingestionImpl runs the parse -> chunk -> embed -> index pipeline. Each
// dispatched document gets its own goroutine and cancel func; Shutdown cancels
// everything in flight and waits.
type ingestionImpl struct {
	db       *gorm.DB
	blob     services.BlobStore
	parser   services.DocumentParser
	embedder services.EmbeddingService
	vectors  services.VectorStore
	chunker  *Chunker
	cfg      *config.PipelineConfig

	mu      sync.Mutex
	running map[uint]context.CancelFunc
	wg      sync.WaitGroup
}

func NewIngestionService(
	db *gorm.DB,
	blob services.BlobStore,
	parser services.DocumentParser,
	embedder services.EmbeddingService,
	vectors services.VectorStore,
	cfg *config.PipelineConfig,
) services.IngestionService {
	return &ingestionImpl{
		db:       db,
		blob:     blob,
		parser:   parser,
		embedder: embedder,
		vectors:  vectors,
		chunker:  NewChunker(cfg.ChunkSize, cfg.ChunkOverlap, cfg.MaxBlockLength, cfg.MaxChunksPerDocument),
		cfg:      cfg,
		running:  make(map[uint]context.CancelFunc),
	}
}

// Dispatch starts the pipeline for one document in the background. A document
// already in flight is not dispatched twice.
func (s *ingestionImpl) Dispatch(documentID uint) {
	s.mu.Lock()
	if _, busy := s.running[documentID]; busy {
		s.mu.Unlock()
		log.Printf("[WARN] Document %d is already being processed, dispatch ignored", documentID)
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.running[documentID] = cancel
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer func() {
			s.mu.Lock()
			delete(s.running, documentID)
			s.mu.Unlock()
			s.wg.Done()
		}()
		if err := s.Process(ctx, documentID); err != nil {
			log.Printf("[ERROR] Processing document %d failed: %v", documentID, err)
		}
	}()
}

// Cancel stops an in-flight pipeline. Returns false when the document is not
// being processed.
func (s *ingestionImpl) Cancel(documentID uint) bool {
	s.mu.Lock()
	cancel, ok := s.running[documentID]
	s.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// Shutdown cancels every in-flight pipeline and waits for the goroutines to
// finish marking their documents.
func (s *ingestionImpl) Shutdown() {
	s.mu.Lock()
	for id, cancel := range s.running {
		log.Printf("[INFO] Cancelling processing of document %d for shutdown", id)
		cancel()
	}
	s.mu.Unlock()
	s.wg.Wait()
}

// Process runs the full pipeline synchronously. State transitions are persisted
// at each stage so /status reflects progress; any failure (including
// cancellation) lands the document in the failed state with processing_error
// set, never stuck in an intermediate one.
func (s *ingestionImpl) Process(ctx context.Context, documentID uint) error {
	var doc models.Document
	if err := s.db.WithContext(ctx).First(&doc, documentID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return services.ErrDocumentNotFound
		}
		return fmt.Errorf("failed to load document %d: %w", documentID, err)
	}

	log.Printf("[INFO] Processing document %d (%s)", doc.ID, doc.OriginalFilename)
	started := time.Now()

	err := s.runPipeline(ctx, &doc)
	if err != nil {
		msg := err.Error()
		if ctx.Err() != nil {
			msg = cancelledError
		}
		s.markFailed(doc.ID, msg)
		return err
	}

	log.Printf("[INFO] Document %d processed in %s", doc.ID, time.Since(started).Round(time.Millisecond))
	return nil
}

func (s *ingestionImpl) runPipeline(ctx context.Context, doc *models.Document) error {
	if err := s.setState(ctx, doc.ID, models.ProcessingStateParsing); err != nil {
		return err
	}

	filePath, cleanup, err := s.blob.DownloadTemp(ctx, doc.FilePath)
	if err != nil {
		return fmt.Errorf("failed to stage file: %w", err)
	}
	defer cleanup()

	outcome, err := s.parser.Parse(ctx, filePath, doc.FileType, doc.OriginalFilename)
	if err != nil {
		return fmt.Errorf("failed to parse: %w", err)
	}
	for _, w := range outcome.Warnings {
		log.Printf("[WARN] Document %d parser warning: %s", doc.ID, w)
	}
	if !outcome.HasUsableText() {
		return fmt.Errorf("no usable text extracted (%s)", firstErrorMessage(outcome))
	}

	chunks := s.chunker.Chunk(outcome.Blocks)
	if len(chunks) == 0 {
		return fmt.Errorf("no chunks produced after cleaning")
	}
	for i := range chunks {
		chunks[i].DocumentID = doc.ID
	}
	log.Printf("[INFO] Document %d parsed by %s: %d blocks, %d chunks", doc.ID, outcome.ParserName, len(outcome.Blocks), len(chunks))

	if err := s.setState(ctx, doc.ID, models.ProcessingStateEmbedding); err != nil {
		return err
	}

	chunks, vectors, err := s.embedChunks(ctx, doc.ID, chunks)
	if err != nil {
		return err
	}

	if err := s.setState(ctx, doc.ID, models.ProcessingStateIndexing); err != nil {
		return err
	}

	// Reprocessing replaces the previous index entirely.
	if err := s.vectors.DeleteByDocument(ctx, doc.ID); err != nil {
		return fmt.Errorf("failed to clear old vectors: %w", err)
	}
	if err := s.db.WithContext(ctx).Where("document_id = ?", doc.ID).Delete(&models.DocumentChunk{}).Error; err != nil {
		return fmt.Errorf("failed to clear old chunks: %w", err)
	}

	pointIDs, err := s.vectors.AddChunks(ctx, doc, chunks, vectors)
	if err != nil {
		return fmt.Errorf("failed to index chunks: %w", err)
	}
	chunks = alignIndexedChunks(doc.ID, chunks, pointIDs)

	if err := s.db.WithContext(ctx).Create(&chunks).Error; err != nil {
		return fmt.Errorf("failed to save chunks: %w", err)
	}

	preview := buildTextPreview(chunks)
	now := time.Now()
	updates := map[string]interface{}{
		"state":            models.ProcessingStateProcessed,
		"is_processed":     true,
		"processing_error": nil,
		"has_images":       outcome.HasImages,
		"text_content":     preview,
		"processed_at":     &now,
	}
	if err := s.db.WithContext(ctx).Model(&models.Document{}).Where("id = ?", doc.ID).Updates(updates).Error; err != nil {
		return fmt.Errorf("failed to finalize document: %w", err)
	}
	return nil
}

// alignIndexedChunks pairs chunk rows with the point ids the vector store
// assigned and drops the rows it did not index. A processed document never
// carries a chunk without an embedding id.
func alignIndexedChunks(documentID uint, chunks []models.DocumentChunk, pointIDs []string) []models.DocumentChunk {
	if len(pointIDs) < len(chunks) {
		log.Printf("[WARN] Document %d: %d of %d chunks were not indexed, dropping their rows",
			documentID, len(chunks)-len(pointIDs), len(chunks))
		chunks = chunks[:len(pointIDs)]
	}
	for i := range chunks {
		if pointIDs[i] != "" {
			id := pointIDs[i]
			chunks[i].EmbeddingID = &id
		}
	}
	return chunks
}

// embedChunks embeds all chunk texts in one batch. When the batch fails, each
// chunk is retried individually and the ones that still fail are dropped, so a
// single poisoned chunk cannot sink the whole document.
func (s *ingestionImpl) embedChunks(ctx context.Context, documentID uint, chunks []models.DocumentChunk) ([]models.DocumentChunk, [][]float32, error) {
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}

	vectors, err := s.embedder.EmbedTexts(ctx, texts)
	if err == nil && len(vectors) == len(chunks) {
		return chunks, vectors, nil
	}
	if ctx.Err() != nil {
		return nil, nil, ctx.Err()
	}
	log.Printf("[WARN] Batch embedding for document %d failed, retrying per chunk: %v", documentID, err)

	kept := chunks[:0]
	var keptVectors [][]float32
	for i, c := range chunks {
		vec, err := s.embedder.EmbedTexts(ctx, []string{c.Content})
		if err != nil || len(vec) != 1 {
			if ctx.Err() != nil {
				return nil, nil, ctx.Err()
			}
			log.Printf("[WARN] Skipping chunk %d of document %d: embedding failed: %v", i, documentID, err)
			continue
		}
		kept = append(kept, c)
		keptVectors = append(keptVectors, vec[0])
	}
	if len(kept) == 0 {
		return nil, nil, fmt.Errorf("failed to embed any chunk")
	}
	// Re-densify chunk indexes after drops.
	for i := range kept {
		kept[i].ChunkIndex = i
	}
	return kept, keptVectors, nil
}

func (s *ingestionImpl) setState(ctx context.Context, documentID uint, state models.ProcessingState) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	err := s.db.WithContext(ctx).Model(&models.Document{}).
		Where("id = ?", documentID).
		Updates(map[string]interface{}{"state": state, "processing_error": nil}).Error
	if err != nil {
		return fmt.Errorf("failed to set state %s: %w", state, err)
	}
	return nil
}

// markFailed uses a fresh context so a cancelled pipeline can still record its
// outcome.
func (s *ingestionImpl) markFailed(documentID uint, message string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := s.db.WithContext(ctx).Model(&models.Document{}).
		Where("id = ?", documentID).
		Updates(map[string]interface{}{
			"state":            models.ProcessingStateFailed,
			"is_processed":     false,
			"processing_error": message,
		}).Error
	if err != nil {
		log.Printf("[ERROR] Failed to mark document %d as failed: %v", documentID, err)
	}
}

func firstErrorMessage(outcome *models.ParseOutcome) string {
	for _, b := range outcome.Blocks {
		if b.Kind == models.ChunkTypeError {
			return b.Content
		}
	}
	return "файл не содержит текста"
}

func buildTextPreview(chunks []models.DocumentChunk) *string {
	var sb strings.Builder
	for _, c := range chunks {
		if sb.Len() > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString(c.Content)
		if sb.Len() >= textContentPreviewLength {
			break
		}
	}
	text := sb.String()
	if len(text) > textContentPreviewLength {
		runes := []rune(text)
		if len(runes) > textContentPreviewLength {
			runes = runes[:textContentPreviewLength]
		}
		text = string(runes)
	}
	if text == "" {
		return nil
	}
	return &text
}
