package impl

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/rms-knowledge-service/config"
	"github.com/rms-knowledge-service/models"
	"github.com/rms-knowledge-service/services"
)

const recentMessagesForPrompt = 10

// chatServiceImpl orchestrates one conversational turn: session lock,
// memory strategy, retrieval, generation, attribution and persistence.
type chatServiceImpl struct {
	db             *gorm.DB
	locker         services.SessionLocker
	conversations  services.ConversationService
	sessionContext services.SessionContextService
	retrieval      services.RetrievalService
	generation     services.GenerationService
	images         services.ImageAnalysisService
	sessionCfg     *config.SessionConfig
	retrievalCfg   *config.RetrievalConfig
}

func NewChatService(
	db *gorm.DB,
	locker services.SessionLocker,
	conversations services.ConversationService,
	sessionContext services.SessionContextService,
	retrieval services.RetrievalService,
	generation services.GenerationService,
	images services.ImageAnalysisService,
	sessionCfg *config.SessionConfig,
	retrievalCfg *config.RetrievalConfig,
) services.ChatService {
	return &chatServiceImpl{
		db:             db,
		locker:         locker,
		conversations:  conversations,
		sessionContext: sessionContext,
		retrieval:      retrieval,
		generation:     generation,
		images:         images,
		sessionCfg:     sessionCfg,
		retrievalCfg:   retrievalCfg,
	}
}

func (s *chatServiceImpl) HandleTurn(ctx context.Context, principal services.Principal, req models.ChatRequest) (*models.ChatResponse, error) {
	started := time.Now()

	sessionID := uuid.NewString()
	if req.SessionID != nil && *req.SessionID != "" {
		sessionID = *req.SessionID
	}

	release, err := s.locker.Acquire(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	defer release()

	conv, err := s.conversations.GetOrCreate(ctx, sessionID, principal.UserID)
	if err != nil {
		return nil, err
	}
	if err := s.conversations.EnforceSessionLimit(ctx, principal.UserID, s.sessionCfg.MaxSessionsPerUser); err != nil {
		log.Printf("[WARN] Failed to enforce session limit for user %s: %v", principal.UserID, err)
	}
	if req.Context != nil && *req.Context != "" {
		conv.UserContext = req.Context
	}

	strategy, err := s.sessionContext.DecideStrategy(ctx, conv, req.Message, req.Section)
	if err != nil {
		log.Printf("[WARN] Strategy decision failed for session %s, using new search: %v", sessionID, err)
		strategy = models.ContextStrategyNew
	}

	// Reused context skips the vector round trip entirely.
	var fresh []models.SearchResult
	if strategy != models.ContextStrategyReuse {
		fresh = s.runSearch(ctx, principal, conv, req)
	}
	chunks := s.sessionContext.BuildContext(conv, strategy, fresh)

	var imageAnalysis *string
	if len(req.Images) > 0 {
		text, err := s.images.AnalyzeImages(ctx, req.Images)
		if err != nil {
			log.Printf("[WARN] Image analysis failed for session %s: %v", sessionID, err)
		} else if text != "" {
			imageAnalysis = &text
		}
	}

	analysis := AnalyzeQuestion(req.Message, len(chunks) > 0, strategy)
	responseStrategy := ChooseResponseStrategy(analysis)

	recent, err := s.conversations.GetRecentMessages(ctx, conv.ID, recentMessagesForPrompt)
	if err != nil {
		log.Printf("[WARN] Failed to load history for session %s: %v", sessionID, err)
	}

	out, err := s.generation.Generate(ctx, services.GenerationInput{
		Query:          req.Message,
		Chunks:         chunks,
		RecentMessages: recent,
		Conversation:   conv,
		UserContext:    conv.UserContext,
		ImageAnalysis:  imageAnalysis,
		Strategy:       responseStrategy,
		Analysis:       analysis,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate response: %w", err)
	}

	followUps := s.generation.FollowUps(ctx, req.Message, out.Text, len(chunks) > 0)

	citations := BuildCitations(chunks, s.loadDocuments(ctx, chunks))

	s.sessionContext.RecordTurn(conv, req.Message, req.Section, chunks)
	if err := s.conversations.SaveContext(ctx, conv); err != nil {
		log.Printf("[WARN] Failed to save context for session %s: %v", sessionID, err)
	}

	s.persistTurn(ctx, conv, req, out, chunks, citations, time.Since(started))

	return &models.ChatResponse{
		Response:          out.Text,
		SessionID:         sessionID,
		Sources:           citations,
		ContextChunksUsed: len(chunks),
		Timestamp:         time.Now(),
		FollowUpQuestions: followUps,
		ImageAnalysis:     imageAnalysis,
		ResponseStrategy:  responseStrategy,
		QuestionAnalysis:  analysis,
	}, nil
}

// runSearch performs the retrieval pass for one turn. Retrieval failures
// degrade to an empty chunk set; the answer still gets generated.
func (s *chatServiceImpl) runSearch(ctx context.Context, principal services.Principal, conv *models.Conversation, req models.ChatRequest) []models.SearchResult {
	section := req.Section
	if section == nil && conv.CurrentSection != nil {
		section = conv.CurrentSection
	}

	resp, err := s.retrieval.Search(ctx, principal, models.SearchRequest{
		Query:   req.Message,
		Section: section,
		Limit:   s.retrievalCfg.DefaultSearchLimit,
	})
	if err != nil {
		log.Printf("[WARN] Retrieval failed for session %s: %v", conv.SessionID, err)
		return nil
	}
	return resp.Results
}

func (s *chatServiceImpl) loadDocuments(ctx context.Context, chunks []models.SearchResult) map[uint]*models.Document {
	docs := make(map[uint]*models.Document)
	if len(chunks) == 0 {
		return docs
	}

	seen := make(map[uint]bool)
	var ids []uint
	for _, c := range chunks {
		if !seen[c.DocumentID] {
			seen[c.DocumentID] = true
			ids = append(ids, c.DocumentID)
		}
	}

	var rows []models.Document
	if err := s.db.WithContext(ctx).Where("id IN ?", ids).Find(&rows).Error; err != nil {
		log.Printf("[WARN] Failed to load cited documents: %v", err)
		return docs
	}
	for i := range rows {
		docs[rows[i].ID] = &rows[i]
	}
	return docs
}

// persistTurn writes the user and assistant messages. Persistence failures are
// logged, not surfaced: the user already has the answer.
func (s *chatServiceImpl) persistTurn(
	ctx context.Context,
	conv *models.Conversation,
	req models.ChatRequest,
	out *services.GenerationOutput,
	chunks []models.SearchResult,
	citations []models.SourceCitation,
	elapsed time.Duration,
) {
	userMsg := models.ConversationMessage{
		ConversationID: conv.ID,
		Role:           models.MessageRoleUser,
		Content:        req.Message,
		SearchQuery:    &req.Message,
	}
	if err := s.conversations.AddMessage(ctx, &userMsg); err != nil {
		log.Printf("[WARN] Failed to save user message for session %s: %v", conv.SessionID, err)
	}

	var topScore *float64
	sections := make(map[string]bool)
	for _, c := range chunks {
		sections[c.Section] = true
		if topScore == nil || c.Score > *topScore {
			score := c.Score
			topScore = &score
		}
	}
	var usedSections []string
	for section := range sections {
		usedSections = append(usedSections, section)
	}

	processingSeconds := elapsed.Seconds()
	assistantMsg := models.ConversationMessage{
		ConversationID:        conv.ID,
		Role:                  models.MessageRoleAssistant,
		Content:               out.Text,
		SearchQuery:           &req.Message,
		ContextRelevanceScore: topScore,
		TokensUsed:            &out.TokensUsed,
		ProcessingTime:        &processingSeconds,
	}
	if data, err := models.ConvertToJSON(chunks); err == nil {
		assistantMsg.SourceChunks = data
	}
	if data, err := models.ConvertToJSON(citations); err == nil {
		assistantMsg.SourceDocuments = data
	}
	if data, err := models.ConvertToJSON(usedSections); err == nil {
		assistantMsg.UsedSections = data
	}
	if err := s.conversations.AddMessage(ctx, &assistantMsg); err != nil {
		log.Printf("[WARN] Failed to save assistant message for session %s: %v", conv.SessionID, err)
	}
}
