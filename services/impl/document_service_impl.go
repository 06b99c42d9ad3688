package impl

import (
	"context"
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/rms-knowledge-service/config"
	"github.com/rms-knowledge-service/models"
	"github.com/rms-knowledge-service/services"
)

const (
	defaultListPageSize = 20
	maxListPageSize     = 100
)

type documentServiceImpl struct {
	db        *gorm.DB
	blob      services.BlobStore
	ingestion services.IngestionService
	access    services.AccessControlService
	vectors   services.VectorStore
	cfg       *config.PipelineConfig
}

func NewDocumentService(
	db *gorm.DB,
	blob services.BlobStore,
	ingestion services.IngestionService,
	access services.AccessControlService,
	vectors services.VectorStore,
	cfg *config.PipelineConfig,
) services.DocumentService {
	return &documentServiceImpl{
		db:        db,
		blob:      blob,
		ingestion: ingestion,
		access:    access,
		vectors:   vectors,
		cfg:       cfg,
	}
}

// Upload validates the file and the caller's rights, stores the original in
// the blob store, creates the document row and dispatches background
// processing. The response returns before processing finishes.
func (s *documentServiceImpl) Upload(ctx context.Context, principal services.Principal, input services.UploadInput) (*models.DocumentUploadResponse, error) {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(input.Filename), "."))
	if ext == "" || !s.extensionSupported(ext) {
		return nil, services.ErrUnsupportedFileType
	}
	if input.Size > s.cfg.MaxFileSize {
		return nil, services.ErrFileTooLarge
	}
	if !s.access.KnownSection(input.Section) {
		return nil, services.ErrUnknownSection
	}
	if !s.access.CanUpload(principal.AccessLevel, input.Section) {
		return nil, services.ErrAccessDenied
	}

	storedName := fmt.Sprintf("%s_%s", uuid.NewString()[:8], sanitizeFilename(input.Filename))
	objectPath := fmt.Sprintf("%s/%s", input.Section, storedName)

	if err := s.blob.Upload(ctx, objectPath, input.Reader, input.Size, input.ContentType); err != nil {
		return nil, fmt.Errorf("failed to store file: %w", err)
	}

	title := strings.TrimSpace(input.Title)
	if title == "" {
		title = strings.TrimSuffix(input.Filename, filepath.Ext(input.Filename))
	}

	doc := models.Document{
		Filename:         storedName,
		OriginalFilename: input.Filename,
		FilePath:         objectPath,
		FileSize:         input.Size,
		FileType:         ext,
		MimeType:         input.ContentType,
		Title:            title,
		Description:      strings.TrimSpace(input.Description),
		Section:          input.Section,
		AccessLevel:      principal.AccessLevel,
		State:            models.ProcessingStateUploaded,
		UploadedAt:       time.Now(),
	}
	if err := s.db.WithContext(ctx).Create(&doc).Error; err != nil {
		// Best effort: do not leave an orphaned blob behind.
		if delErr := s.blob.Delete(ctx, objectPath); delErr != nil {
			log.Printf("[WARN] Failed to remove orphaned blob %s: %v", objectPath, delErr)
		}
		return nil, fmt.Errorf("failed to create document: %w", err)
	}

	log.Printf("[INFO] User %s uploaded document %d (%s) to section %s", principal.UserID, doc.ID, doc.OriginalFilename, doc.Section)
	s.ingestion.Dispatch(doc.ID)

	return &models.DocumentUploadResponse{
		ID:       doc.ID,
		Filename: doc.OriginalFilename,
		Title:    doc.Title,
		Section:  doc.Section,
		State:    doc.State,
		Message:  "Документ загружен и поставлен в очередь на обработку",
	}, nil
}

func (s *documentServiceImpl) Get(ctx context.Context, id uint) (*models.Document, error) {
	var doc models.Document
	if err := s.db.WithContext(ctx).First(&doc, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, services.ErrDocumentNotFound
		}
		return nil, fmt.Errorf("failed to get document: %w", err)
	}
	return &doc, nil
}

// List returns documents visible to the principal, newest first. The section
// filter narrows within the allowed set; asking for a section the principal
// cannot read yields an empty page, not an error.
func (s *documentServiceImpl) List(ctx context.Context, principal services.Principal, filter models.DocumentListFilter) (*models.DocumentListResponse, error) {
	allowed := s.access.AllowedSections(principal.AccessLevel)
	if len(allowed) == 0 {
		return &models.DocumentListResponse{Documents: []models.Document{}, Page: normalizePage(filter.Page), Size: normalizeSize(filter.Size)}, nil
	}

	sections := allowed
	if filter.Section != nil && *filter.Section != "" {
		if !containsString(allowed, *filter.Section) {
			return &models.DocumentListResponse{Documents: []models.Document{}, Page: normalizePage(filter.Page), Size: normalizeSize(filter.Size)}, nil
		}
		sections = []string{*filter.Section}
	}

	query := s.db.WithContext(ctx).Model(&models.Document{}).Where("section IN ?", sections)
	if filter.Processed != nil {
		query = query.Where("is_processed = ?", *filter.Processed)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, fmt.Errorf("failed to count documents: %w", err)
	}

	page := normalizePage(filter.Page)
	size := normalizeSize(filter.Size)

	var docs []models.Document
	err := query.Order("uploaded_at DESC").
		Offset((page - 1) * size).
		Limit(size).
		Find(&docs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}

	return &models.DocumentListResponse{
		Documents: docs,
		Total:     total,
		Page:      page,
		Size:      size,
	}, nil
}

func (s *documentServiceImpl) Status(ctx context.Context, id uint) (*models.DocumentStatusResponse, error) {
	doc, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	var chunkCount int64
	if err := s.db.WithContext(ctx).Model(&models.DocumentChunk{}).Where("document_id = ?", id).Count(&chunkCount).Error; err != nil {
		return nil, fmt.Errorf("failed to count chunks: %w", err)
	}

	return &models.DocumentStatusResponse{
		ID:              doc.ID,
		State:           doc.State,
		IsProcessed:     doc.IsProcessed,
		ProcessingError: doc.ProcessingError,
		ChunkCount:      chunkCount,
		HasImages:       doc.HasImages,
		UploadedAt:      doc.UploadedAt,
		ProcessedAt:     doc.ProcessedAt,
	}, nil
}

func (s *documentServiceImpl) Chunks(ctx context.Context, id uint) (*models.ChunkListResponse, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}

	var chunks []models.DocumentChunk
	err := s.db.WithContext(ctx).
		Where("document_id = ?", id).
		Order("chunk_index ASC").
		Find(&chunks).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load chunks: %w", err)
	}

	return &models.ChunkListResponse{
		DocumentID: id,
		Chunks:     chunks,
		Total:      int64(len(chunks)),
	}, nil
}

// Reprocess sends a document through the pipeline again, e.g. after a
// transient provider failure. The previous error is cleared up front.
func (s *documentServiceImpl) Reprocess(ctx context.Context, principal services.Principal, id uint) error {
	doc, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if !s.access.CanUpload(principal.AccessLevel, doc.Section) {
		return services.ErrAccessDenied
	}

	err = s.db.WithContext(ctx).Model(&models.Document{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"state":            models.ProcessingStateUploaded,
			"is_processed":     false,
			"processing_error": nil,
			"processed_at":     nil,
		}).Error
	if err != nil {
		return fmt.Errorf("failed to reset document %d: %w", id, err)
	}

	log.Printf("[INFO] User %s requested reprocessing of document %d", principal.UserID, id)
	s.ingestion.Dispatch(id)
	return nil
}

// Delete removes a document everywhere: blob, vectors, chunk rows, then the
// document row. An in-flight pipeline is cancelled first. Blob and vector
// failures are logged but do not block removing the database rows.
func (s *documentServiceImpl) Delete(ctx context.Context, principal services.Principal, id uint) error {
	doc, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if !s.access.CanDelete(principal.AccessLevel, doc.Section) {
		return services.ErrAccessDenied
	}

	if s.ingestion.Cancel(id) {
		log.Printf("[INFO] Cancelled in-flight processing of document %d before delete", id)
	}

	if err := s.blob.Delete(ctx, doc.FilePath); err != nil {
		log.Printf("[WARN] Failed to delete blob %s: %v", doc.FilePath, err)
	}
	if err := s.vectors.DeleteByDocument(ctx, id); err != nil {
		log.Printf("[WARN] Failed to delete vectors of document %d: %v", id, err)
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("document_id = ?", id).Delete(&models.DocumentChunk{}).Error; err != nil {
			return err
		}
		return tx.Delete(&models.Document{}, id).Error
	})
	if err != nil {
		return fmt.Errorf("failed to delete document %d: %w", id, err)
	}

	log.Printf("[INFO] User %s deleted document %d (%s)", principal.UserID, id, doc.OriginalFilename)
	return nil
}

// UploadOptions describes what the principal may upload and where.
func (s *documentServiceImpl) UploadOptions(principal services.Principal) *models.UploadOptionsResponse {
	summary := s.access.AccessSummary(principal.AccessLevel)

	var sections []models.SectionOption
	for _, section := range principal.AllowedSections {
		sections = append(sections, models.SectionOption{
			Section:   section,
			Access:    summary[section],
			CanUpload: s.access.CanUpload(principal.AccessLevel, section),
			CanDelete: s.access.CanDelete(principal.AccessLevel, section),
		})
	}

	return &models.UploadOptionsResponse{
		Sections:            sections,
		SupportedExtensions: s.cfg.SupportedExtensions,
		MaxFileSize:         s.cfg.MaxFileSize,
	}
}

func (s *documentServiceImpl) extensionSupported(ext string) bool {
	return containsString(s.cfg.SupportedExtensions, ext)
}

func sanitizeFilename(name string) string {
	name = filepath.Base(name)
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.' || r == '-' || r == '_':
			return r
		default:
			return '_'
		}
	}, name)
}

func normalizePage(page int) int {
	if page < 1 {
		return 1
	}
	return page
}

func normalizeSize(size int) int {
	if size < 1 {
		return defaultListPageSize
	}
	if size > maxListPageSize {
		return maxListPageSize
	}
	return size
}

func containsString(list []string, target string) bool {
	for _, s := range list {
		if s == target {
			return true
		}
	}
	return false
}
