package models

import "time"

type ResponseStrategy string

const (
	StrategyDocumentHeavy ResponseStrategy = "document_heavy"
	StrategyHybrid        ResponseStrategy = "hybrid"
	StrategyGeneral       ResponseStrategy = "general"
)

// ContextStrategy names how session memory is combined with fresh retrieval
// on one turn.
type ContextStrategy string

const (
	ContextStrategyReuse  ContextStrategy = "context_reuse"
	ContextStrategyHybrid ContextStrategy = "hybrid_context"
	ContextStrategyNew    ContextStrategy = "new_search"
)

type ImageAttachment struct {
	DataB64     string  `json:"data_b64" binding:"required"`
	Mime        string  `json:"mime" binding:"required"`
	Description *string `json:"description,omitempty"`
}

type ChatRequest struct {
	Message   string            `json:"message" binding:"required"`
	SessionID *string           `json:"session_id,omitempty"`
	Section   *string           `json:"section,omitempty"`
	Context   *string           `json:"context,omitempty"`
	Images    []ImageAttachment `json:"images,omitempty"`
}

// QuestionAnalysis carries the signals the generator derived from the turn.
type QuestionAnalysis struct {
	IsClarifying    bool            `json:"is_clarifying"`
	IsPractical     bool            `json:"is_practical"`
	WantsFollowUp   bool            `json:"wants_follow_up"`
	HasChunks       bool            `json:"has_chunks"`
	ContextStrategy ContextStrategy `json:"context_strategy"`
}

// SourceUsage summarizes how much one cited document contributed to the answer.
type SourceUsage struct {
	ChunksUsed         int     `json:"chunks_used"`
	MaxScore           float64 `json:"max_score"`
	TotalContentLength int     `json:"total_content_length"`
	FallbackIncluded   bool    `json:"fallback_included"`
}

// SourceCitation points the reader back at one document that grounded the
// answer.
type SourceCitation struct {
	DocumentID  uint        `json:"document_id"`
	Title       string      `json:"title"`
	Section     string      `json:"section"`
	Page        *int        `json:"page,omitempty"`
	Sheet       string      `json:"sheet,omitempty"`
	DisplayHint string      `json:"display_hint"`
	ViewerURL   string      `json:"viewer_url"`
	Usage       SourceUsage `json:"usage"`
}

type ChatResponse struct {
	Response          string           `json:"response"`
	SessionID         string           `json:"session_id"`
	Sources           []SourceCitation `json:"sources"`
	ContextChunksUsed int              `json:"context_chunks_used"`
	Timestamp         time.Time        `json:"timestamp"`
	FollowUpQuestions []string         `json:"follow_up_questions"`
	ImageAnalysis     *string          `json:"image_analysis,omitempty"`
	ResponseStrategy  ResponseStrategy `json:"response_strategy"`
	QuestionAnalysis  QuestionAnalysis `json:"question_analysis"`
}
