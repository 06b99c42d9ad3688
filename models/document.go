package models

import (
	"time"

	"gorm.io/datatypes"
)

type ProcessingState string
type ChunkType string

const (
	ProcessingStateUploaded  ProcessingState = "uploaded"
	ProcessingStateParsing   ProcessingState = "parsing"
	ProcessingStateEmbedding ProcessingState = "embedding"
	ProcessingStateIndexing  ProcessingState = "indexing"
	ProcessingStateProcessed ProcessingState = "processed"
	ProcessingStateFailed    ProcessingState = "failed"

	ChunkTypeText      ChunkType = "text"
	ChunkTypeTable     ChunkType = "table"
	ChunkTypeSlide     ChunkType = "slide"
	ChunkTypeNotes     ChunkType = "notes"
	ChunkTypeImageText ChunkType = "image_text"
	ChunkTypeError     ChunkType = "error"
)

// Document is one uploaded file. Section and AccessLevel are fixed at upload
// time; IsProcessed is true only when State is processed.
type Document struct {
	ID               uint   `json:"id" gorm:"primaryKey;autoIncrement"`
	Filename         string `json:"filename" gorm:"type:varchar(512);not null"`
	OriginalFilename string `json:"original_filename" gorm:"type:varchar(512);not null"`
	FilePath         string `json:"file_path" gorm:"type:varchar(1024);not null"`
	FileSize         int64  `json:"file_size" gorm:"not null"`
	FileType         string `json:"file_type" gorm:"type:varchar(32);not null"`
	MimeType         string `json:"mime_type" gorm:"type:varchar(128)"`

	Title       string `json:"title" gorm:"type:varchar(512)"`
	Description string `json:"description" gorm:"type:text"`

	Section     string `json:"section" gorm:"type:varchar(128);not null;index"`
	AccessLevel string `json:"access_level" gorm:"type:varchar(128);not null;index"`

	IsProcessed     bool            `json:"is_processed" gorm:"default:false"`
	State           ProcessingState `json:"state" gorm:"type:varchar(32);not null;default:'uploaded'"`
	ProcessingError *string         `json:"processing_error,omitempty" gorm:"type:text"`

	HasImages         bool           `json:"has_images" gorm:"default:false"`
	TextContent       *string        `json:"text_content,omitempty" gorm:"type:text"`
	ExtractedMetadata datatypes.JSON `json:"extracted_metadata,omitempty" gorm:"type:jsonb"`

	UploadedAt  time.Time  `json:"uploaded_at" gorm:"not null;default:now()"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`
}

func (Document) TableName() string {
	return "knowledge.documents"
}

// DocumentChunk is one retrieval unit of a document. ChunkIndex is dense and
// 0-based per document; EmbeddingID is set once the chunk has a point in the
// vector store.
type DocumentChunk struct {
	ID            uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	DocumentID    uint      `json:"document_id" gorm:"not null;uniqueIndex:idx_document_chunk,priority:1"`
	ChunkIndex    int       `json:"chunk_index" gorm:"not null;uniqueIndex:idx_document_chunk,priority:2"`
	Content       string    `json:"content" gorm:"type:text;not null"`
	ContentLength int       `json:"content_length" gorm:"not null"`
	EmbeddingID   *string   `json:"embedding_id,omitempty" gorm:"type:varchar(64)"`
	PageNumber    *int      `json:"page_number,omitempty"`
	SectionName   *string   `json:"section_name,omitempty" gorm:"type:varchar(512)"`
	SheetName     *string   `json:"sheet_name,omitempty" gorm:"type:varchar(256)"`
	ChunkType     ChunkType `json:"chunk_type" gorm:"type:varchar(32);not null;default:'text'"`
	CreatedAt     time.Time `json:"created_at" gorm:"not null;default:now()"`
}

func (DocumentChunk) TableName() string {
	return "knowledge.document_chunks"
}

type DocumentUploadResponse struct {
	ID       uint            `json:"id"`
	Filename string          `json:"filename"`
	Title    string          `json:"title"`
	Section  string          `json:"section"`
	State    ProcessingState `json:"state"`
	Message  string          `json:"message"`
}

type DocumentStatusResponse struct {
	ID              uint            `json:"id"`
	State           ProcessingState `json:"state"`
	IsProcessed     bool            `json:"is_processed"`
	ProcessingError *string         `json:"processing_error,omitempty"`
	ChunkCount      int64           `json:"chunk_count"`
	HasImages       bool            `json:"has_images"`
	UploadedAt      time.Time       `json:"uploaded_at"`
	ProcessedAt     *time.Time      `json:"processed_at,omitempty"`
}

type DocumentListResponse struct {
	Documents []Document `json:"documents"`
	Total     int64      `json:"total"`
	Page      int        `json:"page"`
	Size      int        `json:"size"`
}

type DocumentListFilter struct {
	Section   *string `json:"section"`
	Processed *bool   `json:"processed"`
	Page      int     `json:"page"`
	Size      int     `json:"size"`
}

type ChunkListResponse struct {
	DocumentID uint            `json:"document_id"`
	Chunks     []DocumentChunk `json:"chunks"`
	Total      int64           `json:"total"`
}

// SectionOption describes one section a principal may see in the upload UI.
type SectionOption struct {
	Section   string `json:"section"`
	Access    string `json:"access"`
	CanUpload bool   `json:"can_upload"`
	CanDelete bool   `json:"can_delete"`
}

type UploadOptionsResponse struct {
	Sections            []SectionOption `json:"sections"`
	SupportedExtensions []string        `json:"supported_extensions"`
	MaxFileSize         int64           `json:"max_file_size"`
}
