package preprocess

import (
	"errors"
	"image"
	"image/color"
	"math"

	"github.com/disintegration/imaging"
)

// ErrStageUnavailable is returned by a stage whose filter cannot run.
var ErrStageUnavailable = errors.New("filter stage unavailable")

// Stage is one step of the filter chain. Implementations must not modify src.
type Stage interface {
	Name() string
	Apply(src image.Image, p Params) (image.Image, error)
}

// ContrastStage scales every channel around mid-grey by the contrast
// multiplier after dropping saturation to zero.
type ContrastStage struct{}

func (ContrastStage) Name() string { return "contrast" }

func (ContrastStage) Apply(src image.Image, p Params) (image.Image, error) {
	if src == nil {
		return nil, ErrStageUnavailable
	}
	var lut [256]uint8
	for i := range lut {
		v := (float64(i)/255-0.5)*p.Contrast + 0.5
		lut[i] = toByte(v)
	}
	gray := imaging.Grayscale(src)
	return imaging.AdjustFunc(gray, func(c color.NRGBA) color.NRGBA {
		return color.NRGBA{R: lut[c.R], G: lut[c.G], B: lut[c.B], A: c.A}
	}), nil
}

// SharpenStage applies an unsharp mask whose strength follows the sharpness
// value. After ContrastStage the image is grey, so this sharpens luminance only.
type SharpenStage struct{}

func (SharpenStage) Name() string { return "sharpen" }

func (SharpenStage) Apply(src image.Image, p Params) (image.Image, error) {
	if src == nil {
		return nil, ErrStageUnavailable
	}
	return imaging.Sharpen(src, p.Sharpness), nil
}

// ClampStage limits R, G and B to [0, threshold]; alpha keeps [0, 1].
type ClampStage struct{}

func (ClampStage) Name() string { return "clamp" }

func (ClampStage) Apply(src image.Image, p Params) (image.Image, error) {
	if src == nil {
		return nil, ErrStageUnavailable
	}
	hi := toByte(p.Threshold)
	return imaging.AdjustFunc(src, func(c color.NRGBA) color.NRGBA {
		return color.NRGBA{R: min(c.R, hi), G: min(c.G, hi), B: min(c.B, hi), A: c.A}
	}), nil
}

func toByte(v float64) uint8 {
	v = math.Round(v * 255)
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v)
}
