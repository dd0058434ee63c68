//go:build ocr

package gosseract

import (
	"context"
	"fmt"
	"image"
	"strings"

	tess "github.com/otiai10/gosseract/v2"

	"github.com/nikhilbhutani/noteuploader/internal/ocr"
	"github.com/nikhilbhutani/noteuploader/pkg/imageio"
)

func init() {
	ocr.Register("gosseract", func(ocr.Options) (ocr.Engine, error) {
		return New(), nil
	})
}

// Engine implements ocr.Engine with one gosseract client per request.
type Engine struct {
	clientFactory func() *tess.Client
}

func New() *Engine {
	return &Engine{clientFactory: tess.NewClient}
}

func (e *Engine) Name() string { return "gosseract" }

func (e *Engine) Recognize(ctx context.Context, img image.Image, cfg ocr.Config) ([]ocr.Observation, error) {
	if img == nil {
		return nil, ocr.ErrImageConversion
	}
	data, err := imageio.EncodePNG(ocr.Prepare(img, cfg))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ocr.ErrImageConversion, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c := e.clientFactory()
	defer c.Close()

	if len(cfg.Languages) > 0 {
		if err := c.SetLanguage(cfg.Languages...); err != nil {
			return nil, fmt.Errorf("set languages: %w", err)
		}
	}
	if !cfg.LanguageCorrection {
		for _, v := range []string{"load_system_dawg", "load_freq_dawg"} {
			if err := c.SetVariable(tess.SettableVariable(v), "F"); err != nil {
				return nil, fmt.Errorf("set variable %s: %w", v, err)
			}
		}
	}
	if err := c.SetPageSegMode(tess.PSM_AUTO); err != nil {
		return nil, fmt.Errorf("set page segmentation: %w", err)
	}
	if err := c.SetImageFromBytes(data); err != nil {
		return nil, fmt.Errorf("%w: set image: %v", ocr.ErrImageConversion, err)
	}

	boxes, err := c.GetBoundingBoxes(tess.RIL_TEXTLINE)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ocr.ErrRecognition, err)
	}
	obs := make([]ocr.Observation, 0, len(boxes))
	for _, b := range boxes {
		text := strings.TrimSpace(b.Word)
		if text == "" {
			continue
		}
		obs = append(obs, ocr.Observation{
			Bounds:     b.Box,
			Candidates: []ocr.Candidate{{Text: text, Confidence: b.Confidence / 100}},
		})
	}
	return obs, nil
}
