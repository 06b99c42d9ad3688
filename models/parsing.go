package models

// ContentBlock is one unit of extracted document content before chunking.
// Kind reuses the chunk type vocabulary; an error kind carries a user-facing
// message instead of document text.
type ContentBlock struct {
	Kind        ChunkType         `json:"kind"`
	Content     string            `json:"content"`
	SectionName string            `json:"section_name,omitempty"`
	Page        *int              `json:"page,omitempty"`
	SheetName   string            `json:"sheet_name,omitempty"`
	SubIndex    *int              `json:"sub_index,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// ParseOutcome is everything a parser learned about one file.
type ParseOutcome struct {
	Blocks          []ContentBlock `json:"blocks"`
	HasImages       bool           `json:"has_images"`
	ParserName      string         `json:"parser_name"`
	DetectionMethod string         `json:"detection_method"`
	Warnings        []string       `json:"warnings,omitempty"`
}

// HasUsableText reports whether any non-error block carries content.
func (p ParseOutcome) HasUsableText() bool {
	for _, b := range p.Blocks {
		if b.Kind != ChunkTypeError && len(b.Content) > 0 {
			return true
		}
	}
	return false
}
