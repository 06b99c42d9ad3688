package services

import (
	"context"
	"io"

	"github.com/rms-knowledge-service/models"
)

// Principal is the authenticated caller as seen by the domain services.
type Principal struct {
	UserID          string
	AccessLevel     string
	AllowedSections []string
}

// UploadInput carries one incoming file plus its user-supplied attributes.
type UploadInput struct {
	Filename    string
	Size        int64
	ContentType string
	Reader      io.Reader
	Title       string
	Description string
	Section     string
}

type DocumentService interface {
	Upload(ctx context.Context, principal Principal, input UploadInput) (*models.DocumentUploadResponse, error)
	Get(ctx context.Context, id uint) (*models.Document, error)
	List(ctx context.Context, principal Principal, filter models.DocumentListFilter) (*models.DocumentListResponse, error)
	Status(ctx context.Context, id uint) (*models.DocumentStatusResponse, error)
	Chunks(ctx context.Context, id uint) (*models.ChunkListResponse, error)
	Reprocess(ctx context.Context, principal Principal, id uint) error
	Delete(ctx context.Context, principal Principal, id uint) error
	UploadOptions(principal Principal) *models.UploadOptionsResponse
}

// IngestionService runs the parse -> chunk -> embed -> index pipeline for one
// document. Dispatch returns immediately; the pipeline runs in the background
// and is cancellable per document.
type IngestionService interface {
	Process(ctx context.Context, documentID uint) error
	Dispatch(documentID uint)
	Cancel(documentID uint) bool
	Shutdown()
}

// DocumentParser converts one stored file into ordered content blocks.
// Implementations never panic on malformed input; total failure yields a
// single error block instead.
type DocumentParser interface {
	Parse(ctx context.Context, filePath string, declaredType string, originalName string) (*models.ParseOutcome, error)
	SupportedExtensions() []string
}

// BlobStore keeps the original uploaded files.
type BlobStore interface {
	EnsureBucket(ctx context.Context) error
	Upload(ctx context.Context, objectPath string, r io.Reader, size int64, contentType string) error
	// DownloadTemp fetches an object into a temp file and returns its path
	// with a cleanup func. Callers must always invoke cleanup.
	DownloadTemp(ctx context.Context, objectPath string) (string, func(), error)
	Delete(ctx context.Context, objectPath string) error
}
