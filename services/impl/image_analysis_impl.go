package impl

import (
	"context"
	"encoding/base64"
	"fmt"
	"log"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/rms-knowledge-service/config"
	"github.com/rms-knowledge-service/models"
	"github.com/rms-knowledge-service/services"
)

const (
	// maxImagesPerRequest bounds one chat turn's attachments.
	maxImagesPerRequest = 5
	imageAnalysisPrompt = "Опиши, что изображено, и дословно выпиши весь читаемый текст с изображения. Отвечай на русском языке."
)

// imageAnalysisImpl extracts text and descriptions from images through the
// vision-capable chat model. Failures degrade to "no analysis"; an image that
// cannot be read never fails the chat turn or the ingestion pipeline.
type imageAnalysisImpl struct {
	client chatCompleter
	model  string
}

func NewImageAnalysisService(client *openai.Client, cfg *config.OpenAIConfig) services.ImageAnalysisService {
	return &imageAnalysisImpl{
		client: client,
		model:  cfg.Model,
	}
}

// AnalyzeImages runs every attachment through the vision model and joins the
// per-image summaries.
func (s *imageAnalysisImpl) AnalyzeImages(ctx context.Context, images []models.ImageAttachment) (string, error) {
	if len(images) == 0 {
		return "", nil
	}
	if len(images) > maxImagesPerRequest {
		images = images[:maxImagesPerRequest]
	}

	var parts []string
	for i, img := range images {
		hint := ""
		if img.Description != nil {
			hint = *img.Description
		}

		data, err := base64.StdEncoding.DecodeString(img.DataB64)
		if err != nil {
			log.Printf("[WARN] image %d has invalid base64 payload: %v", i+1, err)
			continue
		}

		text, err := s.AnalyzeImageBytes(ctx, data, img.Mime, hint)
		if err != nil {
			log.Printf("[WARN] image %d analysis failed: %v", i+1, err)
			continue
		}
		if text != "" {
			parts = append(parts, fmt.Sprintf("Изображение %d: %s", i+1, text))
		}
	}

	return strings.Join(parts, "\n\n"), nil
}

func (s *imageAnalysisImpl) AnalyzeImageBytes(ctx context.Context, data []byte, mime, hint string) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("empty image payload")
	}
	if mime == "" {
		mime = "image/jpeg"
	}

	prompt := imageAnalysisPrompt
	if hint != "" {
		prompt = fmt.Sprintf("%s Подсказка пользователя: %s", imageAnalysisPrompt, hint)
	}

	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     s.model,
		MaxTokens: 500,
		Messages: []openai.ChatCompletionMessage{
			{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{Type: openai.ChatMessagePartTypeText, Text: prompt},
					{
						Type: openai.ChatMessagePartTypeImageURL,
						ImageURL: &openai.ChatMessageImageURL{
							URL:    fmt.Sprintf("data:%s;base64,%s", mime, base64.StdEncoding.EncodeToString(data)),
							Detail: openai.ImageURLDetailAuto,
						},
					},
				},
			},
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to analyze image: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("vision model returned no choices")
	}

	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
