package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

type MessageRole string

const (
	MessageRoleUser      MessageRole = "user"
	MessageRoleAssistant MessageRole = "assistant"
	MessageRoleSystem    MessageRole = "system"
)

// ContextSnapshot is one prior retrieval remembered inside a conversation:
// which document chunk answered which query, and how well.
type ContextSnapshot struct {
	DocumentID     uint      `json:"document_id"`
	Section        string    `json:"section"`
	ContentPreview string    `json:"content_preview"`
	Query          string    `json:"query"`
	Score          float64   `json:"score"`
	Timestamp      time.Time `json:"timestamp"`
}

type ContextSnapshotList []ContextSnapshot

func (l ContextSnapshotList) Value() (driver.Value, error) {
	if l == nil {
		l = ContextSnapshotList{}
	}
	return json.Marshal(l)
}

func (l *ContextSnapshotList) Scan(value interface{}) error {
	if value == nil {
		*l = ContextSnapshotList{}
		return nil
	}

	bytes, ok := value.([]byte)
	if !ok {
		return json.Unmarshal([]byte(value.(string)), l)
	}

	return json.Unmarshal(bytes, l)
}

// SearchContextEntry is one prior query descriptor kept for the memory policy.
type SearchContextEntry struct {
	Query       string    `json:"query"`
	Section     *string   `json:"section,omitempty"`
	ResultCount int       `json:"result_count"`
	TopScore    float64   `json:"top_score"`
	Timestamp   time.Time `json:"timestamp"`
}

type SearchContextList []SearchContextEntry

func (l SearchContextList) Value() (driver.Value, error) {
	if l == nil {
		l = SearchContextList{}
	}
	return json.Marshal(l)
}

func (l *SearchContextList) Scan(value interface{}) error {
	if value == nil {
		*l = SearchContextList{}
		return nil
	}

	bytes, ok := value.([]byte)
	if !ok {
		return json.Unmarshal([]byte(value.(string)), l)
	}

	return json.Unmarshal(bytes, l)
}

// Conversation is one chat session. DocumentContext and SearchContext are
// bounded FIFO lists; eviction happens in the session context service.
type Conversation struct {
	ID             uint                `json:"id" gorm:"primaryKey;autoIncrement"`
	SessionID      string              `json:"session_id" gorm:"type:varchar(128);not null;uniqueIndex"`
	UserID         string              `json:"user_id" gorm:"type:varchar(255);not null;index"`
	Title          string              `json:"title" gorm:"type:varchar(512)"`
	UserContext    *string             `json:"user_context,omitempty" gorm:"type:text"`
	CurrentSection *string             `json:"current_section,omitempty" gorm:"type:varchar(128)"`
	DocumentContext ContextSnapshotList `json:"document_context" gorm:"type:jsonb;default:'[]'"`
	SearchContext   SearchContextList   `json:"search_context" gorm:"type:jsonb;default:'[]'"`
	CreatedAt      time.Time           `json:"created_at" gorm:"not null;default:now()"`
	LastActivity   time.Time           `json:"last_activity" gorm:"not null;default:now();index"`
}

func (Conversation) TableName() string {
	return "knowledge.conversations"
}

type ConversationMessage struct {
	ID             uint        `json:"id" gorm:"primaryKey;autoIncrement"`
	ConversationID uint        `json:"conversation_id" gorm:"not null;index"`
	Role           MessageRole `json:"role" gorm:"type:varchar(16);not null"`
	Content        string      `json:"content" gorm:"type:text;not null"`

	SearchQuery           *string        `json:"search_query,omitempty" gorm:"type:text"`
	SearchResults         datatypes.JSON `json:"search_results,omitempty" gorm:"type:jsonb"`
	UsedSections          datatypes.JSON `json:"used_sections,omitempty" gorm:"type:jsonb"`
	ContextRelevanceScore *float64       `json:"context_relevance_score,omitempty"`
	SourceChunks          datatypes.JSON `json:"source_chunks,omitempty" gorm:"type:jsonb"`
	SourceDocuments       datatypes.JSON `json:"source_documents,omitempty" gorm:"type:jsonb"`

	TokensUsed     *int       `json:"tokens_used,omitempty"`
	ProcessingTime *float64   `json:"processing_time,omitempty"`
	CreatedAt      time.Time  `json:"created_at" gorm:"not null;default:now()"`
}

func (ConversationMessage) TableName() string {
	return "knowledge.conversation_messages"
}

type SessionSummary struct {
	SessionID    string    `json:"session_id"`
	Title        string    `json:"title"`
	MessageCount int64     `json:"message_count"`
	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
}

type SessionListResponse struct {
	Sessions []SessionSummary `json:"sessions"`
	Total    int64            `json:"total"`
}

type SessionContextResponse struct {
	SessionID       string                `json:"session_id"`
	CurrentSection  *string               `json:"current_section,omitempty"`
	DocumentContext []ContextSnapshot     `json:"document_context"`
	SearchContext   []SearchContextEntry  `json:"search_context"`
	RecentMessages  []ConversationMessage `json:"recent_messages"`
	LastActivity    time.Time             `json:"last_activity"`
}
