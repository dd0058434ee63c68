// Package preprocess prepares photographed pages for text recognition with a
// fixed contrast, sharpen and clamp chain.
package preprocess

import (
	"fmt"
	"image"
	"log/slog"

	"github.com/disintegration/imaging"
)

// Pipeline runs its stages in order. A stage that fails hands its input to the
// next one unchanged, so some image always reaches the recognizer.
type Pipeline struct {
	stages []Stage
}

// NewPipeline builds a pipeline from the given stages. A nil entry models a
// filter that is missing on this host and is skipped.
func NewPipeline(stages ...Stage) *Pipeline {
	return &Pipeline{stages: stages}
}

// Default returns the contrast, sharpen, clamp chain.
func Default() *Pipeline {
	return NewPipeline(ContrastStage{}, SharpenStage{}, ClampStage{})
}

// Stages lists the stage names in order; missing stages are reported as "-".
func (p *Pipeline) Stages() []string {
	names := make([]string, len(p.stages))
	for i, s := range p.stages {
		if s == nil {
			names[i] = "-"
			continue
		}
		names[i] = s.Name()
	}
	return names
}

// Apply transforms src with params and never fails: if the final render does
// not produce a bitmap of the same size, src itself is returned.
func (p *Pipeline) Apply(src image.Image, params Params) image.Image {
	if src == nil {
		return nil
	}
	params = params.Clamp()

	cur := src
	for _, s := range p.stages {
		if s == nil {
			continue
		}
		out, err := runStage(s, cur, params)
		if err != nil {
			slog.Debug("preprocess stage skipped", "stage", s.Name(), "error", err)
			continue
		}
		cur = out
	}

	rendered, err := render(cur)
	if err != nil || !sameExtent(rendered.Bounds(), src.Bounds()) {
		slog.Debug("preprocess render failed, using original", "error", err)
		return src
	}
	return rendered
}

func runStage(s Stage, src image.Image, params Params) (out image.Image, err error) {
	defer func() {
		if r := recover(); r != nil {
			out, err = nil, fmt.Errorf("stage %s panicked: %v", s.Name(), r)
		}
	}()
	out, err = s.Apply(src, params)
	if err == nil && out == nil {
		err = ErrStageUnavailable
	}
	return out, err
}

func render(img image.Image) (out *image.NRGBA, err error) {
	defer func() {
		if r := recover(); r != nil {
			out, err = nil, fmt.Errorf("render panicked: %v", r)
		}
	}()
	out = imaging.Clone(img)
	if out == nil || out.Bounds().Empty() {
		return nil, fmt.Errorf("render produced no pixels")
	}
	return out, nil
}

func sameExtent(a, b image.Rectangle) bool {
	return a.Dx() == b.Dx() && a.Dy() == b.Dy()
}
