// Package watcher imports documents dropped into an inbox directory.
package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/nikhilbhutani/noteuploader/internal/document"
	"github.com/nikhilbhutani/noteuploader/internal/models"
)

type Importer interface {
	Import(ctx context.Context, sources []document.Source) []models.DocumentRef
}

// Inbox watches a directory and imports matching files once they have been
// quiet for the settle period, so partially written files are not copied.
type Inbox struct {
	dir        string
	extensions map[string]bool
	settle     time.Duration
	importer   Importer
	logger     *slog.Logger
}

func NewInbox(dir string, extensions []string, settle time.Duration, importer Importer) *Inbox {
	if settle <= 0 {
		settle = 500 * time.Millisecond
	}
	return &Inbox{
		dir:        dir,
		extensions: document.ExtensionSet(extensions),
		settle:     settle,
		importer:   importer,
		logger:     slog.With("component", "inbox", "dir", dir),
	}
}

func (in *Inbox) watched(path string) bool {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") {
		return false
	}
	return in.extensions[strings.ToLower(filepath.Ext(base))]
}

// Run imports files already present, then watches for new ones until ctx is
// done.
func (in *Inbox) Run(ctx context.Context) error {
	if err := os.MkdirAll(in.dir, 0o755); err != nil {
		return fmt.Errorf("create inbox: %w", err)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer w.Close()

	if err := w.Add(in.dir); err != nil {
		return fmt.Errorf("watch inbox: %w", err)
	}
	in.logger.Info("watching inbox")

	if existing := in.scan(); len(existing) > 0 {
		in.flush(ctx, existing)
	}

	pending := make(map[string]time.Time)
	ticker := time.NewTicker(in.settle / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-w.Events:
			if !ok {
				return nil
			}
			if !in.watched(event.Name) {
				continue
			}
			switch {
			case event.Has(fsnotify.Create), event.Has(fsnotify.Write):
				pending[event.Name] = time.Now()
			case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
				delete(pending, event.Name)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			in.logger.Warn("watcher error", "error", err)
		case now := <-ticker.C:
			var ready []string
			for path, last := range pending {
				if now.Sub(last) >= in.settle {
					ready = append(ready, path)
					delete(pending, path)
				}
			}
			if len(ready) > 0 {
				sort.Strings(ready)
				in.flush(ctx, ready)
			}
		}
	}
}

func (in *Inbox) scan() []string {
	entries, err := os.ReadDir(in.dir)
	if err != nil {
		in.logger.Warn("scan inbox failed", "error", err)
		return nil
	}
	var paths []string
	for _, e := range entries {
		if !e.IsDir() && in.watched(e.Name()) {
			paths = append(paths, filepath.Join(in.dir, e.Name()))
		}
	}
	return paths
}

func (in *Inbox) flush(ctx context.Context, paths []string) {
	sources := make([]document.Source, 0, len(paths))
	for _, p := range paths {
		sources = append(sources, document.FileSource{Path: p})
	}
	refs := in.importer.Import(ctx, sources)
	in.logger.Info("inbox import", "files", len(paths), "imported", len(refs))
}
