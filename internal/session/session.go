// Package session holds per-user capture state. Every field is owned by one
// goroutine; callers talk to it through commands and extraction workers report
// back through completion messages.
package session

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/nikhilbhutani/noteuploader/internal/extract"
	"github.com/nikhilbhutani/noteuploader/internal/models"
	"github.com/nikhilbhutani/noteuploader/internal/preprocess"
)

var (
	ErrClosed            = errors.New("session closed")
	ErrSuperseded        = errors.New("extraction superseded by a newer request")
	ErrNoSource          = errors.New("no document or image selected")
	ErrUnknownDocument   = errors.New("document not in session")
	ErrUnknownGeneration = errors.New("unknown extraction generation")
)

// Extractor is what a session needs from the extraction dispatcher.
type Extractor interface {
	PDF(ctx context.Context, ref models.DocumentRef) extract.Result
	Image(ctx context.Context, req extract.ImageRequest) extract.Result
	Preview(img image.Image, params preprocess.Params) image.Image
}

// Snapshot is a read-only copy of session state.
type Snapshot struct {
	ID               string               `json:"id"`
	Documents        []models.DocumentRef `json:"documents"`
	Selected         *models.DocumentRef  `json:"selected,omitempty"`
	HasImage         bool                 `json:"has_image"`
	ImageWidth       int                  `json:"image_width,omitempty"`
	ImageHeight      int                  `json:"image_height,omitempty"`
	Params           preprocess.Params    `json:"params"`
	Preprocess       bool                 `json:"preprocess"`
	Generation       uint64               `json:"generation"`
	InFlight         bool                 `json:"in_flight"`
	Result           *extract.Result      `json:"result,omitempty"`
	ShowText         bool                 `json:"show_text"`
	StaleCompletions int                  `json:"stale_completions"`
	UpdatedAt        time.Time            `json:"updated_at"`
}

type completion struct {
	gen uint64
	res extract.Result
}

type waitResult struct {
	res extract.Result
	err error
}

type state struct {
	documents  []models.DocumentRef
	selected   int // index into documents, -1 when none
	img        image.Image
	params     preprocess.Params
	preprocess bool

	gen      uint64
	inFlight bool
	cancel   context.CancelFunc
	result   *extract.Result
	text     string
	showText bool
	stale    int
	waiters  map[uint64][]chan waitResult
	updated  time.Time
}

type Session struct {
	id        string
	extractor Extractor
	logger    *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	cmds        chan func(*state)
	completions chan completion
	quit        chan struct{}
	done        chan struct{}
	closeOnce   sync.Once

	lastActive atomic.Int64
}

func New(extractor Extractor) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		id:          uuid.NewString(),
		extractor:   extractor,
		ctx:         ctx,
		cancel:      cancel,
		cmds:        make(chan func(*state)),
		completions: make(chan completion),
		quit:        make(chan struct{}),
		done:        make(chan struct{}),
	}
	s.logger = slog.With("session", s.id)
	s.touch()
	go s.run()
	return s
}

func (s *Session) ID() string { return s.id }

func (s *Session) LastActive() time.Time {
	return time.Unix(0, s.lastActive.Load())
}

func (s *Session) touch() { s.lastActive.Store(time.Now().UnixNano()) }

func (s *Session) run() {
	defer close(s.done)

	st := &state{
		selected:   -1,
		params:     preprocess.DefaultParams(),
		preprocess: true,
		waiters:    make(map[uint64][]chan waitResult),
		updated:    time.Now().UTC(),
	}
	for {
		select {
		case cmd := <-s.cmds:
			cmd(st)
		case c := <-s.completions:
			s.complete(st, c)
		case <-s.quit:
			if st.cancel != nil {
				st.cancel()
			}
			for gen, ws := range st.waiters {
				for _, w := range ws {
					w <- waitResult{err: ErrClosed}
				}
				delete(st.waiters, gen)
			}
			return
		}
	}
}

// do runs fn on the session goroutine and waits for it to finish.
func (s *Session) do(ctx context.Context, fn func(*state)) error {
	finished := make(chan struct{})
	cmd := func(st *state) {
		fn(st)
		close(finished)
	}
	select {
	case s.cmds <- cmd:
	case <-s.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	<-finished
	s.touch()
	return nil
}

func (s *Session) complete(st *state, c completion) {
	if c.gen != st.gen {
		st.stale++
		s.logger.Debug("discarding stale completion", "generation", c.gen, "latest", st.gen)
		return
	}
	res := c.res
	res.Generation = c.gen
	st.inFlight = false
	st.cancel = nil
	st.updated = time.Now().UTC()

	// A failed extraction leaves the presented text untouched.
	st.result = &res
	if res.OK() {
		st.text = res.Text
		st.showText = true
	}

	for _, w := range st.waiters[c.gen] {
		w <- waitResult{res: res}
	}
	delete(st.waiters, c.gen)
	s.logger.Info("extraction finished", "generation", c.gen, "status", res.Status, "reason", res.Reason)
}

// supersede invalidates whatever is in flight. Waiters on older generations
// are released with ErrSuperseded.
func (s *Session) supersede(st *state) {
	if st.cancel != nil {
		st.cancel()
		st.cancel = nil
	}
	st.gen++
	st.inFlight = false
	for gen, ws := range st.waiters {
		if gen >= st.gen {
			continue
		}
		for _, w := range ws {
			w <- waitResult{err: ErrSuperseded}
		}
		delete(st.waiters, gen)
	}
}

// SetDocuments replaces the picked document list, keeping the last ref for a
// repeated name. A selected document that is still listed stays selected;
// otherwise the selection and its text are dropped.
func (s *Session) SetDocuments(ctx context.Context, refs []models.DocumentRef) error {
	return s.do(ctx, func(st *state) {
		var current string
		if st.selected >= 0 {
			current = st.documents[st.selected].Name
		}

		docs := make([]models.DocumentRef, 0, len(refs))
		index := make(map[string]int, len(refs))
		for _, r := range refs {
			if i, ok := index[r.Name]; ok {
				docs[i] = r
				continue
			}
			index[r.Name] = len(docs)
			docs = append(docs, r)
		}
		st.documents = docs

		st.selected = -1
		if i, ok := index[current]; ok && current != "" {
			st.selected = i
		} else if current != "" {
			s.supersede(st)
			st.result = nil
			st.text = ""
			st.showText = false
		}
		st.updated = time.Now().UTC()
	})
}

// SelectDocument makes a listed document the active source and drops any
// image. The previous text is hidden.
func (s *Session) SelectDocument(ctx context.Context, name string) error {
	var err error
	doErr := s.do(ctx, func(st *state) {
		for i, d := range st.documents {
			if d.Name == name {
				s.supersede(st)
				st.selected = i
				st.img = nil
				st.result = nil
				st.text = ""
				st.showText = false
				st.updated = time.Now().UTC()
				return
			}
		}
		err = fmt.Errorf("%w: %s", ErrUnknownDocument, name)
	})
	if doErr != nil {
		return doErr
	}
	return err
}

// SetImage makes img the active source, replacing any earlier image or
// selected document.
func (s *Session) SetImage(ctx context.Context, img image.Image) error {
	return s.do(ctx, func(st *state) {
		s.supersede(st)
		st.img = img
		st.selected = -1
		st.result = nil
		st.text = ""
		st.showText = false
		st.updated = time.Now().UTC()
	})
}

func (s *Session) SetParams(ctx context.Context, p preprocess.Params) error {
	if err := p.Validate(); err != nil {
		return err
	}
	return s.do(ctx, func(st *state) {
		st.params = p
		st.updated = time.Now().UTC()
	})
}

func (s *Session) ResetParams(ctx context.Context) (preprocess.Params, error) {
	var p preprocess.Params
	err := s.do(ctx, func(st *state) {
		st.params.Reset()
		st.updated = time.Now().UTC()
		p = st.params
	})
	return p, err
}

func (s *Session) Params(ctx context.Context) (preprocess.Params, error) {
	var p preprocess.Params
	err := s.do(ctx, func(st *state) { p = st.params })
	return p, err
}

// ParamsPatch names the settings to change; nil fields keep their value.
type ParamsPatch struct {
	Contrast   *float64
	Sharpness  *float64
	Threshold  *float64
	Preprocess *bool
}

// PatchParams merges patch into the current settings in one step and returns
// the resulting parameters. Nothing changes if the merged parameters are out
// of bounds.
func (s *Session) PatchParams(ctx context.Context, patch ParamsPatch) (preprocess.Params, error) {
	var (
		p   preprocess.Params
		err error
	)
	doErr := s.do(ctx, func(st *state) {
		p = st.params
		if patch.Contrast != nil {
			p.Contrast = *patch.Contrast
		}
		if patch.Sharpness != nil {
			p.Sharpness = *patch.Sharpness
		}
		if patch.Threshold != nil {
			p.Threshold = *patch.Threshold
		}
		if err = p.Validate(); err != nil {
			p = st.params
			return
		}
		st.params = p
		if patch.Preprocess != nil {
			st.preprocess = *patch.Preprocess
		}
		st.updated = time.Now().UTC()
	})
	if doErr != nil {
		return preprocess.Params{}, doErr
	}
	return p, err
}

// ProcessedImage renders the current image through the preprocessing chain
// with the current parameters. The chain runs on the caller's goroutine; the
// stored image is never modified.
func (s *Session) ProcessedImage(ctx context.Context) (image.Image, error) {
	var (
		img    image.Image
		params preprocess.Params
	)
	if err := s.do(ctx, func(st *state) {
		img = st.img
		params = st.params
	}); err != nil {
		return nil, err
	}
	if img == nil {
		return nil, ErrNoSource
	}
	return s.extractor.Preview(img, params), nil
}

// Extract starts an extraction of the active source and returns its
// generation. Any extraction still running is canceled and its result will
// be ignored.
func (s *Session) Extract(ctx context.Context) (uint64, error) {
	var (
		gen uint64
		err error
	)
	doErr := s.do(ctx, func(st *state) {
		var job func(context.Context) extract.Result
		switch {
		case st.img != nil:
			req := extract.ImageRequest{Image: st.img, Params: st.params, Preprocess: st.preprocess}
			job = func(ctx context.Context) extract.Result { return s.extractor.Image(ctx, req) }
		case st.selected >= 0:
			ref := st.documents[st.selected]
			job = func(ctx context.Context) extract.Result { return s.extractor.PDF(ctx, ref) }
		default:
			err = ErrNoSource
			return
		}

		s.supersede(st)
		gen = st.gen
		jobCtx, cancel := context.WithCancel(s.ctx)
		st.cancel = cancel
		st.inFlight = true
		st.updated = time.Now().UTC()

		go s.work(jobCtx, gen, job)
		s.logger.Info("extraction started", "generation", gen)
	})
	if doErr != nil {
		return 0, doErr
	}
	return gen, err
}

func (s *Session) work(ctx context.Context, gen uint64, job func(context.Context) extract.Result) {
	res := job(ctx)
	select {
	case s.completions <- completion{gen: gen, res: res}:
	case <-s.done:
	}
}

// Wait blocks until the given generation completes. It returns ErrSuperseded
// if a newer extraction or source change replaced it first.
func (s *Session) Wait(ctx context.Context, gen uint64) (extract.Result, error) {
	ch := make(chan waitResult, 1)
	err := s.do(ctx, func(st *state) {
		switch {
		case gen > st.gen || gen == 0:
			ch <- waitResult{err: fmt.Errorf("%w: %d", ErrUnknownGeneration, gen)}
		case gen < st.gen:
			ch <- waitResult{err: ErrSuperseded}
		case !st.inFlight && st.result != nil && st.result.Generation == gen:
			ch <- waitResult{res: *st.result}
		case !st.inFlight:
			ch <- waitResult{err: ErrSuperseded}
		default:
			st.waiters[gen] = append(st.waiters[gen], ch)
		}
	})
	if err != nil {
		return extract.Result{}, err
	}

	select {
	case r := <-ch:
		return r.res, r.err
	case <-ctx.Done():
		return extract.Result{}, ctx.Err()
	}
}

// Text returns the latest extracted text and whether it should be shown.
func (s *Session) Text(ctx context.Context) (string, bool, error) {
	var (
		text string
		show bool
	)
	err := s.do(ctx, func(st *state) {
		text = st.text
		show = st.showText
	})
	return text, show, err
}

func (s *Session) Snapshot(ctx context.Context) (Snapshot, error) {
	var snap Snapshot
	err := s.do(ctx, func(st *state) {
		snap = Snapshot{
			ID:               s.id,
			Documents:        append([]models.DocumentRef(nil), st.documents...),
			Params:           st.params,
			Preprocess:       st.preprocess,
			Generation:       st.gen,
			InFlight:         st.inFlight,
			ShowText:         st.showText,
			StaleCompletions: st.stale,
			UpdatedAt:        st.updated,
		}
		if st.selected >= 0 {
			ref := st.documents[st.selected]
			snap.Selected = &ref
		}
		if st.img != nil {
			b := st.img.Bounds()
			snap.HasImage = true
			snap.ImageWidth = b.Dx()
			snap.ImageHeight = b.Dy()
		}
		if st.result != nil {
			res := *st.result
			snap.Result = &res
		}
	})
	return snap, err
}

// Close cancels any running extraction and stops the session goroutine.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.cancel()
		close(s.quit)
	})
	<-s.done
}
