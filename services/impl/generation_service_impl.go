package impl

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/rms-knowledge-service/config"
	"github.com/rms-knowledge-service/models"
	"github.com/rms-knowledge-service/services"
)

const (
	// maxPromptChunks bounds how many chunk snippets reach the prompt.
	maxPromptChunks = 25
	// maxHistoryMessages is the conversation tail included in the prompt.
	maxHistoryMessages = 5
	// maxSessionDocuments caps the session memory summary.
	maxSessionDocuments = 5
	maxFollowUps        = 5
)

const systemPrompt = `Ты - эксперт по кулинарным вопросам и ресторанному менеджменту. Твоя задача - вести естественный диалог с пользователями.

ПРАВИЛА ОТВЕТОВ:
1. Отвечай ТОЛЬКО на русском языке, независимо от языка вопроса.
2. Если есть найденные документы - опирайся на них и ссылайся на конкретные источники.
3. Если документов нет - используй общие профессиональные знания и скажи об этом честно.
4. Поддерживай связность диалога: учитывай предыдущие сообщения сессии.
5. Давай практичные, применимые ответы.`

// generationFallback is returned when the model fails twice in a row.
const generationFallback = "Извините, сейчас не получилось подготовить полный ответ. " +
	"Попробуйте переформулировать вопрос или повторить запрос чуть позже."

var defaultFollowUps = []string{
	"Хотели бы вы узнать больше деталей по этой теме?",
	"Есть ли у вас конкретные вопросы по практическому применению?",
	"Какие аспекты вас интересуют больше всего?",
	"Могу ли я помочь с чем-то еще по этой теме?",
}

var practicalLexemes = []string{
	"как сделать", "как приготовить", "как организовать", "пошагово", "инструкция", "рецепт",
}

var followUpLexemes = []string{
	"а что насчет", "а что насчёт", "а как же", "а если", "а можно ли", "а что если",
	"расскажи подробнее", "объясни детальнее",
}

// chatCompleter is the slice of the OpenAI client the generator needs;
// extracted so tests can stub the model.
type chatCompleter interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

type generationServiceImpl struct {
	client      chatCompleter
	model       string
	temperature float32
	maxTokens   int
}

func NewGenerationService(client *openai.Client, cfg *config.OpenAIConfig) services.GenerationService {
	return newGenerationService(client, cfg)
}

func newGenerationService(client chatCompleter, cfg *config.OpenAIConfig) *generationServiceImpl {
	return &generationServiceImpl{
		client:      client,
		model:       cfg.Model,
		temperature: float32(cfg.Temperature),
		maxTokens:   cfg.MaxTokens,
	}
}

// AnalyzeQuestion derives the generator's signals from one turn.
func AnalyzeQuestion(query string, hasChunks bool, strategy models.ContextStrategy) models.QuestionAnalysis {
	q := strings.ToLower(query)

	analysis := models.QuestionAnalysis{
		HasChunks:       hasChunks,
		ContextStrategy: strategy,
	}
	for _, lexeme := range practicalLexemes {
		if strings.Contains(q, lexeme) {
			analysis.IsPractical = true
			break
		}
	}
	for _, lexeme := range followUpLexemes {
		if strings.Contains(q, lexeme) {
			analysis.WantsFollowUp = true
			break
		}
	}
	analysis.IsClarifying = strategy == models.ContextStrategyReuse
	return analysis
}

// ChooseResponseStrategy picks document_heavy, hybrid or general from the
// question signals.
func ChooseResponseStrategy(analysis models.QuestionAnalysis) models.ResponseStrategy {
	switch {
	case !analysis.HasChunks:
		return models.StrategyGeneral
	case analysis.IsPractical:
		return models.StrategyDocumentHeavy
	default:
		return models.StrategyHybrid
	}
}

// Generate produces the assistant reply. The model gets one retry; a second
// failure degrades to a fixed apology rather than an error, so the turn
// still completes.
func (s *generationServiceImpl) Generate(ctx context.Context, in services.GenerationInput) (*services.GenerationOutput, error) {
	prompt := s.buildPrompt(in)

	req := openai.ChatCompletionRequest{
		Model:       s.model,
		Temperature: s.temperature,
		MaxTokens:   s.maxTokens,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: prompt},
		},
	}

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		resp, err := s.client.CreateChatCompletion(ctx, req)
		if err == nil && len(resp.Choices) > 0 {
			return &services.GenerationOutput{
				Text:       strings.TrimSpace(resp.Choices[0].Message.Content),
				TokensUsed: resp.Usage.TotalTokens,
			}, nil
		}
		if err == nil {
			err = fmt.Errorf("model returned no choices")
		}
		lastErr = err
		log.Printf("[WARN] generation attempt %d failed: %v", attempt+1, err)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}

	log.Printf("[ERROR] generation failed twice, using fallback answer: %v", lastErr)
	return &services.GenerationOutput{Text: generationFallback}, nil
}

// FollowUps asks the model for 3-5 continuation prompts. Any failure falls
// back to the fixed default list; the main answer is never at risk here.
func (s *generationServiceImpl) FollowUps(ctx context.Context, query, answer string, hasChunks bool) []string {
	prompt := fmt.Sprintf(`На основе вопроса пользователя и твоего ответа сгенерируй 3-5 естественных follow-up вопросов для продолжения диалога.

ВОПРОС ПОЛЬЗОВАТЕЛЯ: %s
ТВОЙ ОТВЕТ: %s

ПРАВИЛА:
1. Вопросы должны быть логичными продолжениями разговора.
2. Предлагай связанные темы и практические рекомендации.
3. Задавай уточняющие вопросы для лучшего понимания потребностей.

ФОРМАТ: просто список вопросов, каждый с новой строки, без нумерации.`, query, answer)

	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       s.model,
		Temperature: s.temperature,
		MaxTokens:   500,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: "Ты - эксперт по генерации follow-up вопросов. Отвечай ТОЛЬКО на русском языке."},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil || len(resp.Choices) == 0 {
		log.Printf("[WARN] follow-up generation failed, using defaults: %v", err)
		return defaultFollowUps
	}

	questions := parseFollowUps(resp.Choices[0].Message.Content)
	if len(questions) == 0 {
		return defaultFollowUps
	}
	return questions
}

func parseFollowUps(text string) []string {
	var questions []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		line = strings.TrimLeft(line, "-•*0123456789. )")
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		questions = append(questions, line)
		if len(questions) >= maxFollowUps {
			break
		}
	}
	return questions
}

// buildPrompt assembles the full system prompt: instructions, session memory
// summary, conversation tail, chunk snippets with provenance, the query and
// the strategy guidance.
func (s *generationServiceImpl) buildPrompt(in services.GenerationInput) string {
	var b strings.Builder
	b.WriteString(systemPrompt)

	if in.UserContext != nil && *in.UserContext != "" {
		b.WriteString("\n\nКОНТЕКСТ ПОЛЬЗОВАТЕЛЯ:\n")
		b.WriteString(*in.UserContext)
	}

	if in.Conversation != nil && len(in.Conversation.DocumentContext) > 0 {
		b.WriteString("\n\nПРЕДЫДУЩИЙ КОНТЕКСТ СЕССИИ:\nВ этой сессии уже обсуждались следующие документы:\n")
		seen := make(map[uint]bool)
		count := 0
		for i := len(in.Conversation.DocumentContext) - 1; i >= 0 && count < maxSessionDocuments; i-- {
			snap := in.Conversation.DocumentContext[i]
			if seen[snap.DocumentID] {
				continue
			}
			seen[snap.DocumentID] = true
			count++
			fmt.Fprintf(&b, "%d. Документ %d (раздел: %s) - найден по запросу: «%s»\n",
				count, snap.DocumentID, snap.Section, snap.Query)
		}
		if in.Conversation.CurrentSection != nil {
			fmt.Fprintf(&b, "\nТЕКУЩИЙ ФОКУС РАЗДЕЛА: %s\n", *in.Conversation.CurrentSection)
		}
	}

	if len(in.RecentMessages) > 0 {
		history := in.RecentMessages
		if len(history) > maxHistoryMessages {
			history = history[len(history)-maxHistoryMessages:]
		}
		fmt.Fprintf(&b, "\n\nИСТОРИЯ ДИАЛОГА (последние %d сообщений):\n", len(history))
		for _, msg := range history {
			switch msg.Role {
			case models.MessageRoleUser:
				fmt.Fprintf(&b, "Пользователь: %s\n", msg.Content)
			case models.MessageRoleAssistant:
				fmt.Fprintf(&b, "Предыдущий ответ: %s\n", msg.Content)
			}
		}
	}

	if in.ImageAnalysis != nil && *in.ImageAnalysis != "" {
		b.WriteString("\n\nАНАЛИЗ ПРИЛОЖЕННЫХ ИЗОБРАЖЕНИЙ:\n")
		b.WriteString(*in.ImageAnalysis)
	}

	if len(in.Chunks) > 0 {
		chunks := in.Chunks
		if len(chunks) > maxPromptChunks {
			chunks = chunks[:maxPromptChunks]
		}
		b.WriteString("\n\nТЕКУЩИЙ КОНТЕКСТ ДОКУМЕНТОВ:\n")
		b.WriteString("Вот найденные релевантные фрагменты документов (используй их как основу, но не ограничивайся только ими):\n\n")
		for i, chunk := range chunks {
			fmt.Fprintf(&b, "Фрагмент %d:\nСодержание: %s\n", i+1, chunk.Content)
			fmt.Fprintf(&b, "Источник: Документ %d, Раздел: %s\nРелевантность: %.2f\n\n",
				chunk.DocumentID, chunk.Section, chunk.Score)
		}
	} else {
		b.WriteString("\n\nКОНТЕКСТ: В данный момент нет найденных документов по запросу. ")
		b.WriteString("Используй общие знания для ответа и предложи, какие документы могут быть полезны.")
	}

	fmt.Fprintf(&b, "\n\nВОПРОС ПОЛЬЗОВАТЕЛЯ:\n%s\n", in.Query)

	switch in.Strategy {
	case models.StrategyDocumentHeavy:
		b.WriteString("\nСТРАТЕГИЯ ОТВЕТА: У тебя есть релевантные документы. Сделай акцент на них, но можешь дополнить общими знаниями для более полного ответа.")
	case models.StrategyGeneral:
		b.WriteString("\nСТРАТЕГИЯ ОТВЕТА: Документов не найдено. Используй общие знания и предложи, как можно найти нужную информацию.")
	default:
		b.WriteString("\nСТРАТЕГИЯ ОТВЕТА: У тебя есть релевантные документы. Начни с них, но можешь дополнить общими знаниями для более полного ответа.")
	}

	if in.Analysis.IsClarifying {
		b.WriteString("\n\nОСОБЫЕ ИНСТРУКЦИИ ДЛЯ УТОЧНЯЮЩЕГО ВОПРОСА:\n")
		b.WriteString("- Это продолжение диалога, учитывай предыдущий контекст\n")
		b.WriteString("- Объясняй простыми и понятными словами, используй примеры")
	}
	if in.Analysis.IsPractical {
		b.WriteString("\n\nОСОБЫЕ ИНСТРУКЦИИ ДЛЯ ПРАКТИЧЕСКОГО ВОПРОСА:\n")
		b.WriteString("- Давай пошаговые инструкции\n")
		b.WriteString("- Указывай важные детали и предупреждай о возможных проблемах")
	}

	b.WriteString("\n\nОТВЕТ (обязательно на русском языке, поддерживай диалог):")
	return b.String()
}
