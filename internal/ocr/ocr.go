// Package ocr defines the recognition engine contract used by the extraction
// dispatcher and the engines that implement it.
package ocr

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sort"
	"strings"
	"sync"

	"github.com/disintegration/imaging"
)

var (
	ErrUnknownEngine   = errors.New("unknown recognition engine")
	ErrImageConversion = errors.New("convert image for recognition")
	ErrRecognition     = errors.New("recognition request failed")
)

// Level trades recognition accuracy for speed.
type Level string

const (
	LevelAccurate Level = "accurate"
	LevelFast     Level = "fast"
)

// fastMaxSide bounds the longest side of an image recognized at LevelFast.
const fastMaxSide = 1600

type Config struct {
	Level              Level    `json:"level"`
	Languages          []string `json:"languages"`
	LanguageCorrection bool     `json:"language_correction"`
}

// DefaultConfig is the most accurate mode, English only, with correction on.
func DefaultConfig() Config {
	return Config{
		Level:              LevelAccurate,
		Languages:          []string{"eng"},
		LanguageCorrection: true,
	}
}

// Key renders the config as a stable string for cache keys.
func (c Config) Key() string {
	return fmt.Sprintf("%s|%s|%t", c.Level, strings.Join(c.Languages, "+"), c.LanguageCorrection)
}

// Candidate is one proposed reading of a region.
type Candidate struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

// Observation is a detected text region with candidates ranked best first.
type Observation struct {
	Bounds     image.Rectangle `json:"bounds"`
	Candidates []Candidate     `json:"candidates"`
}

// Top returns the best ranked candidate.
func (o Observation) Top() (Candidate, bool) {
	if len(o.Candidates) == 0 {
		return Candidate{}, false
	}
	return o.Candidates[0], true
}

// JoinTop joins the top candidate of every observation with newlines, in the
// order the engine returned them. Lower ranked alternatives are dropped.
func JoinTop(obs []Observation) string {
	lines := make([]string, 0, len(obs))
	for _, o := range obs {
		if c, ok := o.Top(); ok {
			lines = append(lines, c.Text)
		}
	}
	return strings.Join(lines, "\n")
}

// Engine recognizes text in a bitmap.
type Engine interface {
	Name() string
	Recognize(ctx context.Context, img image.Image, cfg Config) ([]Observation, error)
}

// Prepare applies the level policy: fast recognition runs on a downscaled copy.
func Prepare(img image.Image, cfg Config) image.Image {
	if cfg.Level != LevelFast {
		return img
	}
	b := img.Bounds()
	if b.Dx() <= fastMaxSide && b.Dy() <= fastMaxSide {
		return img
	}
	return imaging.Fit(img, fastMaxSide, fastMaxSide, imaging.Linear)
}

// Options configure an engine at construction time.
type Options struct {
	BinaryPath string
	APIKey     string
	BaseURL    string
	Model      string
}

// Factory builds an engine from options.
type Factory func(opts Options) (Engine, error)

var (
	registryMu sync.RWMutex
	factories  = map[string]Factory{}
)

// Register makes an engine available under name. Engines register from init.
func Register(name string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	factories[name] = f
}

// New builds the engine registered under name.
func New(name string, opts Options) (Engine, error) {
	registryMu.RLock()
	f, ok := factories[name]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q (have %s)", ErrUnknownEngine, name, strings.Join(Engines(), ", "))
	}
	return f(opts)
}

// Engines lists registered engine names.
func Engines() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(factories))
	for n := range factories {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func init() {
	Register("noop", func(Options) (Engine, error) { return NoopEngine{}, nil })
	Register("tesseract", func(opts Options) (Engine, error) { return NewTesseractEngine(opts.BinaryPath), nil })
}

// NoopEngine detects nothing.
type NoopEngine struct{}

func (NoopEngine) Name() string { return "noop" }

func (NoopEngine) Recognize(ctx context.Context, img image.Image, cfg Config) ([]Observation, error) {
	return nil, ctx.Err()
}
