package provider

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

const visionPrompt = `Analise esta imagem detalhadamente e descreva o que você vê.
Seja específico e objetivo. Inclua:
- O que está sendo mostrado na imagem
- Contexto e ambiente
- Detalhes relevantes
- Se houver texto na imagem, transcreva-o
Responda em português de forma clara e direta.`

const visionCaptionPrompt = `O usuário enviou uma imagem com a seguinte mensagem: "%s"
Analise a imagem detalhadamente e responda considerando a mensagem do usuário.
Seja específico e objetivo. Inclua:
- O que está sendo mostrado na imagem
- Contexto e ambiente
- Detalhes relevantes
- Se houver texto na imagem, transcreva-o
Responda em português de forma clara e direta.`

type VisionConfig struct {
	Model     string
	MaxTokens int
	Logger    *slog.Logger
}

// Vision describes images with a multimodal chat model. It implements
// domain.ImageDescriber and shares transport, limiter and retries with chat.
type Vision struct {
	chat      *OpenAI
	model     string
	maxTokens int
	logger    *slog.Logger
}

func NewVision(chat *OpenAI, cfg VisionConfig) *Vision {
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 500
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Vision{chat: chat, model: cfg.Model, maxTokens: cfg.MaxTokens, logger: cfg.Logger}
}

// Describe returns a textual description of image. A non-empty caption steers
// the analysis toward what the sender asked.
func (v *Vision) Describe(ctx context.Context, image []byte, mimeType, caption string) (string, error) {
	if len(image) == 0 {
		return "", errors.New("empty image payload")
	}
	if mimeType == "" {
		mimeType = "image/jpeg"
	}

	prompt := visionPrompt
	if c := strings.TrimSpace(caption); c != "" {
		prompt = fmt.Sprintf(visionCaptionPrompt, c)
	}
	dataURI := "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(image)

	temperature := 0.7
	resp, _, err := v.chat.complete(ctx, oaiRequest{
		Model: v.model,
		Messages: []oaiMessage{{
			Role: "user",
			Content: []oaiContentPart{
				{Type: "text", Text: prompt},
				{Type: "image_url", ImageURL: &oaiImageURL{URL: dataURI, Detail: "auto"}},
			},
		}},
		MaxTokens:   v.maxTokens,
		Temperature: &temperature,
	})
	if err != nil {
		return "", fmt.Errorf("vision request: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("vision: no choices returned")
	}
	desc := strings.TrimSpace(resp.Choices[0].Message.Content)
	if desc == "" {
		return "", errors.New("vision: empty description")
	}

	v.logger.Info("image analysis complete", "mime", mimeType, "desc_len", len(desc))
	return desc, nil
}
