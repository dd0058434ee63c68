package vision

import (
	"context"
	"fmt"
	"image"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/nikhilbhutani/noteuploader/internal/ocr"
)

type AnthropicEngine struct {
	client anthropic.Client
	model  string
}

func NewAnthropicEngine(apiKey, baseURL, model string) *AnthropicEngine {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if model == "" {
		model = "claude-sonnet-4-20250514"
	}
	return &AnthropicEngine{
		client: anthropic.NewClient(opts...),
		model:  model,
	}
}

func (e *AnthropicEngine) Name() string { return "anthropic" }

func (e *AnthropicEngine) Recognize(ctx context.Context, img image.Image, cfg ocr.Config) ([]ocr.Observation, error) {
	b64, err := encodeImage(img, cfg)
	if err != nil {
		return nil, err
	}

	resp, err := e.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(e.model),
		MaxTokens: 4096,
		System:    []anthropic.TextBlockParam{{Text: systemPrompt}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(
				anthropic.NewImageBlockBase64("image/png", b64),
				anthropic.NewTextBlock(userPrompt(cfg)),
			),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: anthropic: %v", ocr.ErrRecognition, err)
	}

	content := ""
	for _, block := range resp.Content {
		if block.Type == "text" {
			content += block.Text
		}
	}
	return linesToObservations(content), nil
}
