// Package vision registers recognition engines backed by vision-capable chat
// models. The model is asked for a line-by-line transcription and each
// returned line is treated as one detected region.
package vision

import (
	"encoding/base64"
	"fmt"
	"image"
	"strings"

	"github.com/nikhilbhutani/noteuploader/internal/ocr"
	"github.com/nikhilbhutani/noteuploader/pkg/imageio"
)

func init() {
	ocr.Register("openai", func(opts ocr.Options) (ocr.Engine, error) {
		if opts.APIKey == "" {
			return nil, fmt.Errorf("openai engine: api key required")
		}
		return NewOpenAIEngine(opts.APIKey, opts.BaseURL, opts.Model), nil
	})
	ocr.Register("anthropic", func(opts ocr.Options) (ocr.Engine, error) {
		if opts.APIKey == "" {
			return nil, fmt.Errorf("anthropic engine: api key required")
		}
		return NewAnthropicEngine(opts.APIKey, opts.BaseURL, opts.Model), nil
	})
}

const systemPrompt = "You are an OCR engine. Transcribe every piece of text visible in the image. " +
	"Write one output line per line of text, top to bottom, left to right. " +
	"Output only the transcription, with no commentary and no markdown."

func userPrompt(cfg ocr.Config) string {
	var b strings.Builder
	b.WriteString("Transcribe this image.")
	if len(cfg.Languages) > 0 {
		fmt.Fprintf(&b, " The text is written in: %s.", strings.Join(cfg.Languages, ", "))
	}
	if cfg.LanguageCorrection {
		b.WriteString(" Correct characters that are obviously misread.")
	} else {
		b.WriteString(" Copy characters exactly; do not correct spelling or grammar.")
	}
	return b.String()
}

func encodeImage(img image.Image, cfg ocr.Config) (string, error) {
	if img == nil {
		return "", ocr.ErrImageConversion
	}
	data, err := imageio.EncodePNG(ocr.Prepare(img, cfg))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ocr.ErrImageConversion, err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// linesToObservations turns a transcription into one observation per
// non-blank line. Models sometimes wrap output in a code fence; fence lines
// are dropped.
func linesToObservations(text string) []ocr.Observation {
	var obs []ocr.Observation
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "```") {
			continue
		}
		obs = append(obs, ocr.Observation{Candidates: []ocr.Candidate{{Text: line, Confidence: 1}}})
	}
	return obs
}
