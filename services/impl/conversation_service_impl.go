package impl

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"gorm.io/gorm"

	"github.com/rms-knowledge-service/models"
	"github.com/rms-knowledge-service/services"
)

const recentMessagesDefault = 5

// conversationServiceImpl persists conversations and messages. Every record
// it returns is a detached value copied out of the ORM session; callers never
// hold live database state.
type conversationServiceImpl struct {
	db *gorm.DB
}

func NewConversationService(db *gorm.DB) services.ConversationService {
	return &conversationServiceImpl{db: db}
}

func (s *conversationServiceImpl) GetOrCreate(ctx context.Context, sessionID, userID string) (*models.Conversation, error) {
	var conv models.Conversation
	err := s.db.WithContext(ctx).Where("session_id = ?", sessionID).First(&conv).Error

	if err == nil {
		if conv.UserID != userID {
			return nil, services.ErrAccessDenied
		}
		conv.LastActivity = time.Now()
		if err := s.db.WithContext(ctx).Model(&models.Conversation{}).
			Where("id = ?", conv.ID).
			Update("last_activity", conv.LastActivity).Error; err != nil {
			return nil, fmt.Errorf("failed to touch conversation: %w", err)
		}
		return &conv, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("failed to load conversation: %w", err)
	}

	conv = models.Conversation{
		SessionID:       sessionID,
		UserID:          userID,
		DocumentContext: models.ContextSnapshotList{},
		SearchContext:   models.SearchContextList{},
		CreatedAt:       time.Now(),
		LastActivity:    time.Now(),
	}
	if err := s.db.WithContext(ctx).Create(&conv).Error; err != nil {
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}
	log.Printf("[INFO] created conversation %d for session %s", conv.ID, sessionID)
	return &conv, nil
}

func (s *conversationServiceImpl) GetBySessionID(ctx context.Context, sessionID, userID string) (*models.Conversation, error) {
	var conv models.Conversation
	err := s.db.WithContext(ctx).
		Where("session_id = ? AND user_id = ?", sessionID, userID).
		First(&conv).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, services.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load conversation: %w", err)
	}
	return &conv, nil
}

// SaveContext persists the mutable conversation fields: title, section focus
// and the two bounded context lists.
func (s *conversationServiceImpl) SaveContext(ctx context.Context, conv *models.Conversation) error {
	err := s.db.WithContext(ctx).Model(&models.Conversation{}).
		Where("id = ?", conv.ID).
		Updates(map[string]any{
			"title":            conv.Title,
			"current_section":  conv.CurrentSection,
			"document_context": conv.DocumentContext,
			"search_context":   conv.SearchContext,
			"last_activity":    time.Now(),
		}).Error
	if err != nil {
		return fmt.Errorf("failed to save conversation context: %w", err)
	}
	return nil
}

func (s *conversationServiceImpl) AddMessage(ctx context.Context, msg *models.ConversationMessage) error {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	if err := s.db.WithContext(ctx).Create(msg).Error; err != nil {
		return fmt.Errorf("failed to add message: %w", err)
	}
	return nil
}

// GetRecentMessages returns the newest messages in chronological order.
func (s *conversationServiceImpl) GetRecentMessages(ctx context.Context, conversationID uint, limit int) ([]models.ConversationMessage, error) {
	if limit <= 0 {
		limit = recentMessagesDefault
	}

	var messages []models.ConversationMessage
	err := s.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("created_at DESC").
		Limit(limit).
		Find(&messages).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load messages: %w", err)
	}

	// Reverse into chronological order for prompt assembly.
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

func (s *conversationServiceImpl) ListSessions(ctx context.Context, userID string) (*models.SessionListResponse, error) {
	var conversations []models.Conversation
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("last_activity DESC").
		Find(&conversations).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}

	sessions := make([]models.SessionSummary, 0, len(conversations))
	for _, conv := range conversations {
		var count int64
		if err := s.db.WithContext(ctx).Model(&models.ConversationMessage{}).
			Where("conversation_id = ?", conv.ID).
			Count(&count).Error; err != nil {
			log.Printf("[WARN] failed to count messages for conversation %d: %v", conv.ID, err)
		}
		sessions = append(sessions, models.SessionSummary{
			SessionID:    conv.SessionID,
			Title:        conv.Title,
			MessageCount: count,
			CreatedAt:    conv.CreatedAt,
			LastActivity: conv.LastActivity,
		})
	}

	return &models.SessionListResponse{Sessions: sessions, Total: int64(len(sessions))}, nil
}

func (s *conversationServiceImpl) SessionContext(ctx context.Context, sessionID, userID string) (*models.SessionContextResponse, error) {
	conv, err := s.GetBySessionID(ctx, sessionID, userID)
	if err != nil {
		return nil, err
	}

	messages, err := s.GetRecentMessages(ctx, conv.ID, recentMessagesDefault)
	if err != nil {
		return nil, err
	}

	return &models.SessionContextResponse{
		SessionID:       conv.SessionID,
		CurrentSection:  conv.CurrentSection,
		DocumentContext: conv.DocumentContext,
		SearchContext:   conv.SearchContext,
		RecentMessages:  messages,
		LastActivity:    conv.LastActivity,
	}, nil
}

// DeleteSession removes the conversation and its messages.
func (s *conversationServiceImpl) DeleteSession(ctx context.Context, sessionID, userID string) error {
	conv, err := s.GetBySessionID(ctx, sessionID, userID)
	if err != nil {
		return err
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("conversation_id = ?", conv.ID).
			Delete(&models.ConversationMessage{}).Error; err != nil {
			return fmt.Errorf("failed to delete messages: %w", err)
		}
		if err := tx.Delete(&models.Conversation{}, conv.ID).Error; err != nil {
			return fmt.Errorf("failed to delete conversation: %w", err)
		}
		return nil
	})
}

// EnforceSessionLimit drops the user's least recently active sessions beyond
// the configured maximum.
func (s *conversationServiceImpl) EnforceSessionLimit(ctx context.Context, userID string, max int) error {
	if max <= 0 {
		return nil
	}

	var stale []models.Conversation
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("last_activity DESC").
		Offset(max).
		Find(&stale).Error
	if err != nil {
		return fmt.Errorf("failed to find stale sessions: %w", err)
	}

	for _, conv := range stale {
		if err := s.DeleteSession(ctx, conv.SessionID, userID); err != nil {
			log.Printf("[WARN] failed to drop stale session %s: %v", conv.SessionID, err)
		}
	}
	return nil
}

func (s *conversationServiceImpl) CleanupInactive(ctx context.Context, inactiveFor time.Duration) (int64, error) {
	return s.deleteBefore(ctx, "last_activity", time.Now().Add(-inactiveFor))
}

func (s *conversationServiceImpl) CleanupOld(ctx context.Context, retention time.Duration) (int64, error) {
	return s.deleteBefore(ctx, "created_at", time.Now().Add(-retention))
}

func (s *conversationServiceImpl) deleteBefore(ctx context.Context, column string, cutoff time.Time) (int64, error) {
	var expired []models.Conversation
	err := s.db.WithContext(ctx).
		Where(column+" < ?", cutoff).
		Find(&expired).Error
	if err != nil {
		return 0, fmt.Errorf("failed to find expired conversations: %w", err)
	}

	var removed int64
	for _, conv := range expired {
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := tx.Where("conversation_id = ?", conv.ID).
				Delete(&models.ConversationMessage{}).Error; err != nil {
				return err
			}
			return tx.Delete(&models.Conversation{}, conv.ID).Error
		})
		if err != nil {
			log.Printf("[WARN] failed to clean up conversation %d: %v", conv.ID, err)
			continue
		}
		removed++
	}
	return removed, nil
}
