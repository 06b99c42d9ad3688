package services

import (
	"context"
	"time"

	"github.com/rms-knowledge-service/models"
)

// ChatService orchestrates one conversational turn end to end.
type ChatService interface {
	HandleTurn(ctx context.Context, principal Principal, req models.ChatRequest) (*models.ChatResponse, error)
}

// GenerationInput is everything the language model sees for one answer.
type GenerationInput struct {
	Query          string
	Chunks         []models.SearchResult
	RecentMessages []models.ConversationMessage
	Conversation   *models.Conversation
	UserContext    *string
	ImageAnalysis  *string
	Strategy       models.ResponseStrategy
	Analysis       models.QuestionAnalysis
}

type GenerationOutput struct {
	Text       string
	TokensUsed int
}

// GenerationService produces the assistant reply and follow-up prompts.
type GenerationService interface {
	Generate(ctx context.Context, in GenerationInput) (*GenerationOutput, error)
	FollowUps(ctx context.Context, query, answer string, hasChunks bool) []string
}

// SessionContextService implements the conversational memory policy: which
// strategy a turn uses and how remembered context merges with fresh results.
type SessionContextService interface {
	DecideStrategy(ctx context.Context, conv *models.Conversation, query string, explicitSection *string) (models.ContextStrategy, error)
	// BuildContext produces the chunk set the generator sees, honoring the
	// chosen strategy and the context size bound.
	BuildContext(conv *models.Conversation, strategy models.ContextStrategy, fresh []models.SearchResult) []models.SearchResult
	// RecordTurn appends retrieval snapshots and the query descriptor to the
	// conversation with FIFO eviction. The caller persists the conversation.
	RecordTurn(conv *models.Conversation, query string, section *string, results []models.SearchResult)
}

// ConversationService persists conversations and messages. All returned
// records are detached values.
type ConversationService interface {
	GetOrCreate(ctx context.Context, sessionID, userID string) (*models.Conversation, error)
	GetBySessionID(ctx context.Context, sessionID, userID string) (*models.Conversation, error)
	SaveContext(ctx context.Context, conv *models.Conversation) error
	AddMessage(ctx context.Context, msg *models.ConversationMessage) error
	GetRecentMessages(ctx context.Context, conversationID uint, limit int) ([]models.ConversationMessage, error)
	ListSessions(ctx context.Context, userID string) (*models.SessionListResponse, error)
	SessionContext(ctx context.Context, sessionID, userID string) (*models.SessionContextResponse, error)
	DeleteSession(ctx context.Context, sessionID, userID string) error
	// EnforceSessionLimit removes the user's oldest sessions beyond max.
	EnforceSessionLimit(ctx context.Context, userID string, max int) error
	CleanupInactive(ctx context.Context, inactiveFor time.Duration) (int64, error)
	CleanupOld(ctx context.Context, retention time.Duration) (int64, error)
}

// SessionLocker serializes turns within one session.
type SessionLocker interface {
	// Acquire takes the session lock and returns its release func, or
	// ErrSessionBusy when another turn holds it.
	Acquire(ctx context.Context, sessionID string) (func(), error)
}

// ImageAnalysisService extracts text and descriptions from images through the
// vision-capable model.
type ImageAnalysisService interface {
	AnalyzeImages(ctx context.Context, images []models.ImageAttachment) (string, error)
	AnalyzeImageBytes(ctx context.Context, data []byte, mime string, hint string) (string, error)
}
