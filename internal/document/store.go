package document

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"golang.org/x/sync/errgroup"

	"github.com/nikhilbhutani/noteuploader/internal/models"
)

var (
	ErrNotFound        = errors.New("document not found")
	ErrInvalidName     = errors.New("invalid document name")
	ErrUnsupportedType = errors.New("unsupported document type")
)

const tempPrefix = ".import-"

type Config struct {
	Dir          string
	AllowedTypes []string
	CopyWorkers  int
}

// Store is the application's private document directory. Files are keyed by
// their base name only; importing a name that already exists replaces it.
type Store struct {
	dir     string
	allowed map[string]bool
	workers int
	catalog Catalog
	logger  *slog.Logger
}

func NewStore(cfg Config, catalog Catalog) (*Store, error) {
	if cfg.Dir == "" {
		return nil, errors.New("document store directory is required")
	}
	dir, err := filepath.Abs(cfg.Dir)
	if err != nil {
		return nil, fmt.Errorf("resolve store dir: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}

	workers := cfg.CopyWorkers
	if workers < 1 {
		workers = 1
	}

	return &Store{
		dir:     dir,
		allowed: ExtensionSet(cfg.AllowedTypes),
		workers: workers,
		catalog: catalog,
		logger:  slog.With("component", "document_store"),
	}, nil
}

// ExtensionSet normalises file types such as "PDF", "pdf" or ".pdf" to
// lowercase dotted extensions. An empty list means ".pdf".
func ExtensionSet(types []string) map[string]bool {
	set := make(map[string]bool)
	for _, t := range types {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" || t == "." {
			continue
		}
		if !strings.HasPrefix(t, ".") {
			t = "." + t
		}
		set[t] = true
	}
	if len(set) == 0 {
		set[".pdf"] = true
	}
	return set
}

func (s *Store) Dir() string { return s.dir }

// Import copies every source into the store and returns references for the
// ones that made it, in input order. Sources that cannot be opened or copied
// are logged and left out. Sources sharing a name are copied one after the
// other so the later one wins.
func (s *Store) Import(ctx context.Context, sources []Source) []models.DocumentRef {
	results := make([]*models.DocumentRef, len(sources))

	groups := make(map[string][]int)
	var order []string
	for i, src := range sources {
		name, _ := cleanName(src.Name())
		if _, ok := groups[name]; !ok {
			order = append(order, name)
		}
		groups[name] = append(groups[name], i)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for _, name := range order {
		idx := groups[name]
		g.Go(func() error {
			for _, i := range idx {
				if err := gctx.Err(); err != nil {
					return err
				}
				ref, err := s.importOne(gctx, sources[i])
				if err != nil {
					continue
				}
				results[i] = ref
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		s.logger.Warn("import interrupted", "error", err)
	}

	refs := make([]models.DocumentRef, 0, len(sources))
	for _, r := range results {
		if r != nil {
			refs = append(refs, *r)
		}
	}
	return refs
}

func (s *Store) importOne(ctx context.Context, src Source) (*models.DocumentRef, error) {
	name, err := cleanName(src.Name())
	if err != nil {
		s.logger.Warn("rejected source", "name", src.Name(), "error", err)
		return nil, err
	}
	ext := strings.ToLower(filepath.Ext(name))
	if !s.allowed[ext] {
		s.logger.Warn("rejected source", "name", name, "error", ErrUnsupportedType)
		return nil, ErrUnsupportedType
	}

	rc, err := src.Open()
	if err != nil {
		s.logger.Error("could not access source", "name", name, "error", err)
		return nil, err
	}
	defer rc.Close()

	dest := filepath.Join(s.dir, name)
	size, sum, err := s.copyInto(dest, rc)
	if err != nil {
		s.logger.Error("error copying file", "name", name, "error", err)
		return nil, err
	}

	doc := models.Document{
		ID:         uuid.New(),
		Name:       name,
		Path:       dest,
		FileType:   ext,
		SizeBytes:  size,
		SHA256:     sum,
		Pages:      pageCount(dest, ext),
		ImportedAt: time.Now().UTC(),
	}
	if s.catalog != nil {
		if err := s.catalog.Upsert(ctx, doc); err != nil {
			s.logger.Warn("catalog upsert failed", "name", name, "error", err)
		}
	}

	s.logger.Info("imported document", "name", name, "size_bytes", size, "pages", doc.Pages)
	ref := doc.Ref()
	return &ref, nil
}

// copyInto streams r into a temp file beside dest, then replaces dest.
func (s *Store) copyInto(dest string, r io.Reader) (int64, string, error) {
	tmp, err := os.CreateTemp(s.dir, tempPrefix+"*")
	if err != nil {
		return 0, "", fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	h := sha256.New()
	n, err := io.Copy(io.MultiWriter(tmp, h), r)
	if err != nil {
		tmp.Close()
		return 0, "", fmt.Errorf("copy data: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return 0, "", fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Remove(dest); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return 0, "", fmt.Errorf("remove existing file: %w", err)
	}
	if err := os.Rename(tmpName, dest); err != nil {
		return 0, "", fmt.Errorf("move into place: %w", err)
	}
	return n, hex.EncodeToString(h.Sum(nil)), nil
}

func pageCount(path, ext string) int {
	if ext != ".pdf" {
		return 0
	}
	n, err := api.PageCountFile(path)
	if err != nil {
		slog.Debug("page count unavailable", "path", path, "error", err)
		return 0
	}
	return n
}

func (s *Store) List() ([]models.DocumentRef, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read store dir: %w", err)
	}
	refs := make([]models.DocumentRef, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), tempPrefix) {
			continue
		}
		if !s.allowed[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		refs = append(refs, models.DocumentRef{Name: e.Name(), Path: filepath.Join(s.dir, e.Name())})
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].Name < refs[j].Name })
	return refs, nil
}

func (s *Store) Get(name string) (models.DocumentRef, error) {
	name, err := cleanName(name)
	if err != nil {
		return models.DocumentRef{}, err
	}
	p := filepath.Join(s.dir, name)
	info, err := os.Stat(p)
	if err != nil || info.IsDir() {
		return models.DocumentRef{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return models.DocumentRef{Name: name, Path: p}, nil
}

func (s *Store) Remove(ctx context.Context, name string) error {
	ref, err := s.Get(name)
	if err != nil {
		return err
	}
	if err := os.Remove(ref.Path); err != nil {
		return fmt.Errorf("remove document: %w", err)
	}
	if s.catalog != nil {
		if err := s.catalog.Delete(ctx, ref.Name); err != nil {
			s.logger.Warn("catalog delete failed", "name", ref.Name, "error", err)
		}
	}
	return nil
}

func cleanName(name string) (string, error) {
	base := filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	switch base {
	case "", ".", "..", "/":
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	if strings.HasPrefix(base, tempPrefix) {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return base, nil
}
