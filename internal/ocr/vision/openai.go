package vision

import (
	"context"
	"fmt"
	"image"

	openai "github.com/sashabaranov/go-openai"

	"github.com/nikhilbhutani/noteuploader/internal/ocr"
)

type OpenAIEngine struct {
	client *openai.Client
	model  string
}

func NewOpenAIEngine(apiKey, baseURL, model string) *OpenAIEngine {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if model == "" {
		model = "gpt-4o"
	}
	return &OpenAIEngine{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
	}
}

func (e *OpenAIEngine) Name() string { return "openai" }

func (e *OpenAIEngine) Recognize(ctx context.Context, img image.Image, cfg ocr.Config) ([]ocr.Observation, error) {
	b64, err := encodeImage(img, cfg)
	if err != nil {
		return nil, err
	}

	detail := openai.ImageURLDetailHigh
	if cfg.Level == ocr.LevelFast {
		detail = openai.ImageURLDetailLow
	}

	resp, err := e.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: e.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{Type: openai.ChatMessagePartTypeText, Text: userPrompt(cfg)},
					{
						Type: openai.ChatMessagePartTypeImageURL,
						ImageURL: &openai.ChatMessageImageURL{
							URL:    "data:image/png;base64," + b64,
							Detail: detail,
						},
					},
				},
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: openai: %v", ocr.ErrRecognition, err)
	}
	if len(resp.Choices) == 0 {
		return nil, nil
	}
	return linesToObservations(resp.Choices[0].Message.Content), nil
}
