package models

// SearchRequest is the wire contract for POST /search and the retrieval
// engine input. Limit and ScoreThreshold fall back to configured defaults
// when zero.
type SearchRequest struct {
	Query               string  `json:"query" binding:"required"`
	Section             *string `json:"section,omitempty"`
	Limit               int     `json:"limit"`
	ScoreThreshold      float64 `json:"score_threshold"`
	StrictSectionSearch bool    `json:"strict_section_search"`
}

// SearchResult is the single result shape used across retrieval, generation
// and source attribution. No other chunk-hit representation exists.
type SearchResult struct {
	DocumentID    uint           `json:"document_id"`
	ChunkID       uint           `json:"chunk_id"`
	Content       string         `json:"content"`
	Score         float64        `json:"score"`
	Section       string         `json:"section"`
	AccessLevel   string         `json:"access_level"`
	ChunkType     string         `json:"chunk_type,omitempty"`
	PageNumber    *int           `json:"page_number,omitempty"`
	SectionName   string         `json:"section_name,omitempty"`
	SheetName     string         `json:"sheet_name,omitempty"`
	DocumentName  string         `json:"document_name,omitempty"`
	FileType      string         `json:"file_type,omitempty"`
	ChunkIndex    int            `json:"chunk_index"`
	ContentLength int            `json:"content_length"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

type SearchResponse struct {
	Results      []SearchResult `json:"results"`
	Total        int            `json:"total"`
	Query        string         `json:"query"`
	SectionsUsed []string       `json:"sections_used"`
}

// VectorPayload is the closed schema stored with every point in the vector
// store. Writes go through this struct only, so unknown keys cannot be
// written; readers ignore any extra keys found in old points.
type VectorPayload struct {
	DocumentID    uint   `json:"document_id"`
	ChunkID       uint   `json:"chunk_id"`
	Content       string `json:"content"`
	Section       string `json:"section"`
	AccessLevel   string `json:"access_level"`
	ChunkType     string `json:"chunk_type"`
	PageNumber    *int   `json:"page_number,omitempty"`
	SectionName   string `json:"section_name,omitempty"`
	SheetName     string `json:"sheet_name,omitempty"`
	DocumentName  string `json:"document_name"`
	FileType      string `json:"file_type"`
	ChunkIndex    int    `json:"chunk_index"`
	ContentLength int    `json:"content_length"`
	HasImages     bool   `json:"has_images"`
	UploadedAt    string `json:"uploaded_at,omitempty"`
	IndexedAt     string `json:"indexed_at,omitempty"`
}

// VectorFilter is the conjunction of exact-match conditions supported by the
// vector store adapter.
type VectorFilter struct {
	Section     string `json:"section,omitempty"`
	AccessLevel string `json:"access_level,omitempty"`
	DocumentID  *uint  `json:"document_id,omitempty"`
	ChunkType   string `json:"chunk_type,omitempty"`
}

type CollectionInfo struct {
	Name        string `json:"name"`
	PointsCount uint64 `json:"points_count"`
	Dimension   int    `json:"dimension"`
	Status      string `json:"status"`
}
