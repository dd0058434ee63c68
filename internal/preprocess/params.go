package preprocess

import (
	"errors"
	"fmt"
	"math"
)

const (
	MinContrast  = 0.5
	MaxContrast  = 3.0
	MinSharpness = 0.0
	MaxSharpness = 2.0
	MinThreshold = 0.0
	MaxThreshold = 1.0

	DefaultContrast  = 1.5
	DefaultSharpness = 0.98
	DefaultThreshold = 1.0
)

var ErrOutOfRange = errors.New("parameter out of range")

// Params drives the three filter stages. The zero value is not meaningful;
// start from DefaultParams.
type Params struct {
	Contrast  float64 `json:"contrast"`
	Sharpness float64 `json:"sharpness"`
	Threshold float64 `json:"threshold"`
}

func DefaultParams() Params {
	return Params{
		Contrast:  DefaultContrast,
		Sharpness: DefaultSharpness,
		Threshold: DefaultThreshold,
	}
}

// Reset restores the defaults regardless of the current values.
func (p *Params) Reset() {
	*p = DefaultParams()
}

func (p Params) Validate() error {
	if err := checkRange("contrast", p.Contrast, MinContrast, MaxContrast); err != nil {
		return err
	}
	if err := checkRange("sharpness", p.Sharpness, MinSharpness, MaxSharpness); err != nil {
		return err
	}
	return checkRange("threshold", p.Threshold, MinThreshold, MaxThreshold)
}

// Clamp pulls every value into its declared bounds. NaN falls back to the default.
func (p Params) Clamp() Params {
	return Params{
		Contrast:  clampValue(p.Contrast, MinContrast, MaxContrast, DefaultContrast),
		Sharpness: clampValue(p.Sharpness, MinSharpness, MaxSharpness, DefaultSharpness),
		Threshold: clampValue(p.Threshold, MinThreshold, MaxThreshold, DefaultThreshold),
	}
}

func checkRange(name string, v, lo, hi float64) error {
	if math.IsNaN(v) || v < lo || v > hi {
		return fmt.Errorf("%s %v not in [%v, %v]: %w", name, v, lo, hi, ErrOutOfRange)
	}
	return nil
}

func clampValue(v, lo, hi, fallback float64) float64 {
	switch {
	case math.IsNaN(v):
		return fallback
	case v < lo:
		return lo
	case v > hi:
		return hi
	}
	return v
}
