package impl

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rms-knowledge-service/config"
	"github.com/rms-knowledge-service/models"
	"github.com/rms-knowledge-service/services"
)

// stubCompleter scripts the model: a queue of responses and errors.
type stubCompleter struct {
	responses []openai.ChatCompletionResponse
	errs      []error
	calls     int
	requests  []openai.ChatCompletionRequest
}

func (s *stubCompleter) CreateChatCompletion(_ context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	s.requests = append(s.requests, req)
	i := s.calls
	s.calls++
	var resp openai.ChatCompletionResponse
	var err error
	if i < len(s.responses) {
		resp = s.responses[i]
	}
	if i < len(s.errs) {
		err = s.errs[i]
	}
	return resp, err
}

func textResponse(content string, tokens int) openai.ChatCompletionResponse {
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Content: content}},
		},
		Usage: openai.Usage{TotalTokens: tokens},
	}
}

func testOpenAIConfig() *config.OpenAIConfig {
	return &config.OpenAIConfig{Model: "gpt-3.5-turbo", Temperature: 0.7, MaxTokens: 1000}
}

func TestAnalyzeQuestion(t *testing.T) {
	t.Run("practical lexeme", func(t *testing.T) {
		a := AnalyzeQuestion("Как приготовить соус бешамель?", true, models.ContextStrategyNew)
		assert.True(t, a.IsPractical)
		assert.False(t, a.IsClarifying)
		assert.True(t, a.HasChunks)
	})

	t.Run("follow-up lexeme", func(t *testing.T) {
		a := AnalyzeQuestion("а что насчет десертов", false, models.ContextStrategyNew)
		assert.True(t, a.WantsFollowUp)
	})

	t.Run("reuse strategy marks the turn clarifying", func(t *testing.T) {
		a := AnalyzeQuestion("и это всё?", true, models.ContextStrategyReuse)
		assert.True(t, a.IsClarifying)
		assert.Equal(t, models.ContextStrategyReuse, a.ContextStrategy)
	})
}

func TestChooseResponseStrategy(t *testing.T) {
	assert.Equal(t, models.StrategyGeneral,
		ChooseResponseStrategy(models.QuestionAnalysis{HasChunks: false, IsPractical: true}))
	assert.Equal(t, models.StrategyDocumentHeavy,
		ChooseResponseStrategy(models.QuestionAnalysis{HasChunks: true, IsPractical: true}))
	assert.Equal(t, models.StrategyHybrid,
		ChooseResponseStrategy(models.QuestionAnalysis{HasChunks: true}))
}

func TestGenerate(t *testing.T) {
	ctx := context.Background()

	t.Run("returns the model answer", func(t *testing.T) {
		client := &stubCompleter{responses: []openai.ChatCompletionResponse{textResponse("  Ответ модели  ", 42)}}
		svc := newGenerationService(client, testOpenAIConfig())

		out, err := svc.Generate(ctx, services.GenerationInput{Query: "вопрос"})
		require.NoError(t, err)
		assert.Equal(t, "Ответ модели", out.Text)
		assert.Equal(t, 42, out.TokensUsed)
		assert.Equal(t, 1, client.calls)
	})

	t.Run("retries once then succeeds", func(t *testing.T) {
		client := &stubCompleter{
			responses: []openai.ChatCompletionResponse{{}, textResponse("со второй попытки", 10)},
			errs:      []error{fmt.Errorf("temporary"), nil},
		}
		svc := newGenerationService(client, testOpenAIConfig())

		out, err := svc.Generate(ctx, services.GenerationInput{Query: "вопрос"})
		require.NoError(t, err)
		assert.Equal(t, "со второй попытки", out.Text)
		assert.Equal(t, 2, client.calls)
	})

	t.Run("two failures degrade to the fallback answer", func(t *testing.T) {
		client := &stubCompleter{errs: []error{fmt.Errorf("down"), fmt.Errorf("still down")}}
		svc := newGenerationService(client, testOpenAIConfig())

		out, err := svc.Generate(ctx, services.GenerationInput{Query: "вопрос"})
		require.NoError(t, err)
		assert.Equal(t, generationFallback, out.Text)
	})

	t.Run("cancelled context is an error, not a fallback", func(t *testing.T) {
		cancelled, cancel := context.WithCancel(context.Background())
		cancel()
		client := &stubCompleter{errs: []error{fmt.Errorf("ctx"), fmt.Errorf("ctx")}}
		svc := newGenerationService(client, testOpenAIConfig())

		_, err := svc.Generate(cancelled, services.GenerationInput{Query: "вопрос"})
		assert.Error(t, err)
	})
}

func TestBuildPrompt(t *testing.T) {
	svc := newGenerationService(&stubCompleter{}, testOpenAIConfig())
	section := "restaurant_ops"

	in := services.GenerationInput{
		Query: "как хранить продукты",
		Chunks: []models.SearchResult{
			chunkResult(3, 1, 0.88, "мясо хранится при температуре не выше +4 градусов"),
		},
		RecentMessages: []models.ConversationMessage{
			{Role: models.MessageRoleUser, Content: "первый вопрос"},
			{Role: models.MessageRoleAssistant, Content: "первый ответ"},
		},
		Conversation: &models.Conversation{
			CurrentSection: &section,
			DocumentContext: models.ContextSnapshotList{
				{DocumentID: 3, Section: section, Query: "прошлый запрос"},
			},
		},
		Strategy: models.StrategyDocumentHeavy,
		Analysis: models.QuestionAnalysis{IsPractical: true},
	}

	prompt := svc.buildPrompt(in)
	assert.Contains(t, prompt, "как хранить продукты")
	assert.Contains(t, prompt, "Документ 3")
	assert.Contains(t, prompt, "ТЕКУЩИЙ ФОКУС РАЗДЕЛА: restaurant_ops")
	assert.Contains(t, prompt, "Пользователь: первый вопрос")
	assert.Contains(t, prompt, "мясо хранится")
	assert.Contains(t, prompt, "Релевантность: 0.88")
	assert.Contains(t, prompt, "ПРАКТИЧЕСКОГО ВОПРОСА")

	t.Run("no chunks switches the context note", func(t *testing.T) {
		prompt := svc.buildPrompt(services.GenerationInput{Query: "вопрос", Strategy: models.StrategyGeneral})
		assert.Contains(t, prompt, "нет найденных документов")
	})
}

func TestFollowUps(t *testing.T) {
	ctx := context.Background()

	t.Run("parses the model list", func(t *testing.T) {
		client := &stubCompleter{responses: []openai.ChatCompletionResponse{
			textResponse("1. Первый вопрос?\n- Второй вопрос?\n\nТретий вопрос?", 0),
		}}
		svc := newGenerationService(client, testOpenAIConfig())

		questions := svc.FollowUps(ctx, "вопрос", "ответ", true)
		require.Len(t, questions, 3)
		assert.Equal(t, "Первый вопрос?", questions[0])
		assert.Equal(t, "Второй вопрос?", questions[1])
	})

	t.Run("failure falls back to defaults", func(t *testing.T) {
		client := &stubCompleter{errs: []error{fmt.Errorf("down")}}
		svc := newGenerationService(client, testOpenAIConfig())
		assert.Equal(t, defaultFollowUps, svc.FollowUps(ctx, "вопрос", "ответ", true))
	})

	t.Run("blank output falls back to defaults", func(t *testing.T) {
		client := &stubCompleter{responses: []openai.ChatCompletionResponse{textResponse("\n\n", 0)}}
		svc := newGenerationService(client, testOpenAIConfig())
		assert.Equal(t, defaultFollowUps, svc.FollowUps(ctx, "вопрос", "ответ", true))
	})
}

func TestParseFollowUps(t *testing.T) {
	questions := parseFollowUps("• Раз?\n2) Два?\nТри?\nЧетыре?\nПять?\nШесть?")
	require.Len(t, questions, maxFollowUps)
	assert.Equal(t, "Раз?", questions[0])
	assert.False(t, strings.HasPrefix(questions[1], "2"))
}
