// Package extract turns a stored document or an image into text.
package extract

import (
	"bytes"
	"context"
	"errors"
	"image"
	"log/slog"
	"os"
	"time"

	"github.com/nikhilbhutani/noteuploader/internal/cache"
	"github.com/nikhilbhutani/noteuploader/internal/models"
	"github.com/nikhilbhutani/noteuploader/internal/ocr"
	"github.com/nikhilbhutani/noteuploader/internal/preprocess"
	"github.com/nikhilbhutani/noteuploader/pkg/imageio"
	"github.com/nikhilbhutani/noteuploader/pkg/textextract"
)

// ResultCache is the subset of cache.Cache the dispatcher needs.
type ResultCache interface {
	Get(ctx context.Context, key string, dest any) error
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
}

// ImageRequest carries everything the OCR path needs. Params are always
// passed in; the dispatcher keeps no parameter state of its own.
type ImageRequest struct {
	Image      image.Image
	Params     preprocess.Params
	Preprocess bool
}

type Dispatcher struct {
	engine   ocr.Engine
	config   ocr.Config
	pipeline *preprocess.Pipeline
	cache    ResultCache
	logger   *slog.Logger
}

type Option func(*Dispatcher)

func WithPipeline(p *preprocess.Pipeline) Option {
	return func(d *Dispatcher) { d.pipeline = p }
}

func WithCache(c ResultCache) Option {
	return func(d *Dispatcher) { d.cache = c }
}

func NewDispatcher(engine ocr.Engine, cfg ocr.Config, opts ...Option) *Dispatcher {
	if engine == nil {
		engine = ocr.NoopEngine{}
	}
	d := &Dispatcher{
		engine:   engine,
		config:   cfg,
		pipeline: preprocess.Default(),
		logger:   slog.With("component", "extract", "engine", engine.Name()),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Dispatcher) Engine() string { return d.engine.Name() }

func (d *Dispatcher) Config() ocr.Config { return d.config }

// Preview runs only the preprocessing chain.
func (d *Dispatcher) Preview(img image.Image, params preprocess.Params) image.Image {
	return d.pipeline.Apply(img, params)
}

// PDF extracts the text layer of every page of a stored document. A document
// that cannot be opened or parsed yields a failed result with no text.
func (d *Dispatcher) PDF(ctx context.Context, ref models.DocumentRef) Result {
	start := time.Now()

	data, err := os.ReadFile(ref.Path)
	if err != nil {
		d.logger.Warn("open document failed", "name", ref.Name, "error", err)
		return failed(KindPDF, ReasonOpenDocument)
	}

	key := cache.Key(string(KindPDF), cache.Digest(data))
	if res, ok := d.cached(ctx, key); ok {
		return res
	}

	if err := ctx.Err(); err != nil {
		return failed(KindPDF, ReasonCanceled)
	}

	text, err := textextract.Extract(bytes.NewReader(data), int64(len(data)), ".pdf")
	if err != nil {
		d.logger.Warn("parse document failed", "name", ref.Name, "error", err)
		return failed(KindPDF, ReasonOpenDocument)
	}

	res := Result{
		Kind:    KindPDF,
		Status:  StatusOK,
		Text:    text.Content,
		Pages:   text.Pages,
		Elapsed: time.Since(start),
	}
	d.store(ctx, key, res)
	d.logger.Info("extracted document", "name", ref.Name, "pages", res.Pages, "chars", len(res.Text))
	return res
}

// Image optionally preprocesses the image, then recognises it. Each detected
// region contributes its top candidate as one line.
func (d *Dispatcher) Image(ctx context.Context, req ImageRequest) Result {
	start := time.Now()

	if req.Image == nil || req.Image.Bounds().Empty() {
		return failed(KindImage, ReasonImageConversion)
	}

	img := req.Image
	if req.Preprocess {
		img = d.pipeline.Apply(img, req.Params)
	}

	var key string
	if d.cache != nil {
		png, err := imageio.EncodePNG(img)
		if err != nil {
			return failed(KindImage, ReasonImageConversion)
		}
		key = cache.Key(string(KindImage), cache.Digest(png), d.engine.Name(), d.config.Key())
		if res, ok := d.cached(ctx, key); ok {
			return res
		}
	}

	obs, err := d.engine.Recognize(ctx, img, d.config)
	if err != nil {
		return d.recognitionFailed(ctx, err)
	}

	res := Result{
		Kind:    KindImage,
		Status:  StatusOK,
		Text:    ocr.JoinTop(obs),
		Regions: len(obs),
		Elapsed: time.Since(start),
	}
	if key != "" {
		d.store(ctx, key, res)
	}
	d.logger.Info("recognized image", "regions", res.Regions, "elapsed", res.Elapsed)
	return res
}

func (d *Dispatcher) recognitionFailed(ctx context.Context, err error) Result {
	switch {
	case ctx.Err() != nil || errors.Is(err, context.Canceled):
		return failed(KindImage, ReasonCanceled)
	case errors.Is(err, ocr.ErrImageConversion):
		d.logger.Warn("image conversion failed", "error", err)
		return failed(KindImage, ReasonImageConversion)
	default:
		d.logger.Warn("recognition failed", "error", err)
		return failed(KindImage, ReasonRecognition)
	}
}

func (d *Dispatcher) cached(ctx context.Context, key string) (Result, bool) {
	if d.cache == nil {
		return Result{}, false
	}
	var res Result
	if err := d.cache.Get(ctx, key, &res); err != nil {
		if !errors.Is(err, cache.ErrMiss) {
			d.logger.Debug("cache lookup failed", "error", err)
		}
		return Result{}, false
	}
	res.Cached = true
	return res, true
}

func (d *Dispatcher) store(ctx context.Context, key string, res Result) {
	if d.cache == nil {
		return
	}
	if err := d.cache.Set(ctx, key, res, 0); err != nil {
		d.logger.Debug("cache store failed", "error", err)
	}
}
