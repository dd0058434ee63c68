package document

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/go-pdf/fpdf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nikhilbhutani/noteuploader/internal/models"
)

type memSource struct {
	name    string
	data    string
	openErr error
	readErr error
}

func (m memSource) Name() string { return m.name }

func (m memSource) Open() (io.ReadCloser, error) {
	if m.openErr != nil {
		return nil, m.openErr
	}
	if m.readErr != nil {
		return io.NopCloser(&failingReader{err: m.readErr}), nil
	}
	return io.NopCloser(strings.NewReader(m.data)), nil
}

type failingReader struct{ err error }

func (f *failingReader) Read([]byte) (int, error) { return 0, f.err }

type fakeCatalog struct {
	mu      sync.Mutex
	docs    map[string]models.Document
	deleted []string
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{docs: make(map[string]models.Document)}
}

func (c *fakeCatalog) Upsert(_ context.Context, doc models.Document) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.docs[doc.Name] = doc
	return nil
}

func (c *fakeCatalog) Delete(_ context.Context, name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.docs, name)
	c.deleted = append(c.deleted, name)
	return nil
}

func newStore(t *testing.T, catalog Catalog) *Store {
	t.Helper()
	s, err := NewStore(Config{Dir: t.TempDir(), CopyWorkers: 4}, catalog)
	require.NoError(t, err)
	return s
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func TestImportPreservesOrder(t *testing.T) {
	s := newStore(t, nil)

	refs := s.Import(context.Background(), []Source{
		memSource{name: "c.pdf", data: "C"},
		memSource{name: "a.pdf", data: "A"},
		memSource{name: "b.pdf", data: "B"},
	})

	require.Len(t, refs, 3)
	assert.Equal(t, "c.pdf", refs[0].Name)
	assert.Equal(t, "a.pdf", refs[1].Name)
	assert.Equal(t, "b.pdf", refs[2].Name)
	for _, r := range refs {
		assert.Equal(t, filepath.Join(s.Dir(), r.Name), r.Path)
	}
	assert.Equal(t, "A", readFile(t, refs[1].Path))
}

func TestImportOmitsFailures(t *testing.T) {
	s := newStore(t, nil)

	refs := s.Import(context.Background(), []Source{
		memSource{name: "ok.pdf", data: "fine"},
		memSource{name: "denied.pdf", openErr: os.ErrPermission},
		memSource{name: "broken.pdf", readErr: errors.New("device gone")},
		memSource{name: "notes.txt", data: "wrong type"},
	})

	require.Len(t, refs, 1)
	assert.Equal(t, "ok.pdf", refs[0].Name)

	_, err := os.Stat(filepath.Join(s.Dir(), "denied.pdf"))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(s.Dir(), "broken.pdf"))
	assert.True(t, os.IsNotExist(err))

	listed, err := s.List()
	require.NoError(t, err)
	assert.Equal(t, []models.DocumentRef{refs[0]}, listed)
}

func TestImportOverwritesOnCollision(t *testing.T) {
	s := newStore(t, nil)
	ctx := context.Background()

	first := s.Import(ctx, []Source{memSource{name: "report.pdf", data: "first version"}})
	second := s.Import(ctx, []Source{memSource{name: "report.pdf", data: "second"}})
	require.Len(t, first, 1)
	require.Len(t, second, 1)
	assert.Equal(t, first[0].Path, second[0].Path)

	listed, err := s.List()
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, "second", readFile(t, listed[0].Path))
}

func TestImportSameNameInOneBatchLastWins(t *testing.T) {
	s := newStore(t, nil)

	refs := s.Import(context.Background(), []Source{
		memSource{name: "dir1/scan.pdf", data: "one"},
		memSource{name: "other.pdf", data: "x"},
		memSource{name: "dir2/scan.pdf", data: "two"},
	})
	require.Len(t, refs, 3)
	assert.Equal(t, refs[0].Path, refs[2].Path)
	assert.Equal(t, "two", readFile(t, refs[2].Path))
}

func TestImportFileSource(t *testing.T) {
	src := filepath.Join(t.TempDir(), "outside.pdf")
	require.NoError(t, os.WriteFile(src, []byte("outside"), 0o644))

	s := newStore(t, nil)
	refs := s.Import(context.Background(), []Source{
		FileSource{Path: src},
		FileSource{Path: filepath.Join(t.TempDir(), "missing.pdf")},
	})
	require.Len(t, refs, 1)
	assert.Equal(t, "outside", readFile(t, refs[0].Path))
}

func TestImportRecordsCatalog(t *testing.T) {
	doc := fpdf.New("P", "mm", "A4", "")
	doc.SetFont("Helvetica", "", 12)
	doc.AddPage()
	doc.Cell(40, 10, "one")
	doc.AddPage()
	var buf bytes.Buffer
	require.NoError(t, doc.Output(&buf))

	catalog := newFakeCatalog()
	s := newStore(t, catalog)
	refs := s.Import(context.Background(), []Source{memSource{name: "two-pages.pdf", data: buf.String()}})
	require.Len(t, refs, 1)

	rec, ok := catalog.docs["two-pages.pdf"]
	require.True(t, ok)
	assert.Equal(t, 2, rec.Pages)
	assert.Equal(t, int64(buf.Len()), rec.SizeBytes)
	assert.Len(t, rec.SHA256, 64)
	assert.Equal(t, ".pdf", rec.FileType)

	require.NoError(t, s.Remove(context.Background(), "two-pages.pdf"))
	assert.Equal(t, []string{"two-pages.pdf"}, catalog.deleted)
	_, err := s.Get("two-pages.pdf")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestImportCanceledContext(t *testing.T) {
	s := newStore(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	refs := s.Import(ctx, []Source{memSource{name: "late.pdf", data: "x"}})
	assert.Empty(t, refs)
}

func TestGetRejectsTraversal(t *testing.T) {
	s := newStore(t, nil)
	_, err := s.Get("..")
	assert.ErrorIs(t, err, ErrInvalidName)

	s.Import(context.Background(), []Source{memSource{name: "safe.pdf", data: "x"}})
	ref, err := s.Get("../../safe.pdf")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(s.Dir(), "safe.pdf"), ref.Path)
}

func TestAllowedTypes(t *testing.T) {
	s, err := NewStore(Config{Dir: t.TempDir(), AllowedTypes: []string{"PDF", ".png"}}, nil)
	require.NoError(t, err)

	refs := s.Import(context.Background(), []Source{
		memSource{name: "a.PNG", data: "p"},
		memSource{name: "b.pdf", data: "d"},
		memSource{name: "c.gif", data: "g"},
	})
	assert.Len(t, refs, 2)
}

func TestExtensionSet(t *testing.T) {
	assert.Equal(t, map[string]bool{".pdf": true, ".png": true}, ExtensionSet([]string{"PDF", ".png", " ", "."}))
	assert.Equal(t, map[string]bool{".pdf": true}, ExtensionSet(nil))
}
