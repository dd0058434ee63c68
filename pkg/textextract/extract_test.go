package textextract

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-pdf/fpdf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePages []string

func (f fakePages) NumPage() int { return len(f) }

func (f fakePages) PageText(i int) (string, bool) {
	t := f[i-1]
	return t, t != ""
}

func TestJoinPagesKeepsEmptySegments(t *testing.T) {
	content, textPages := JoinPages(fakePages{"first page", "", "third page"})
	assert.Equal(t, "first page\n\nthird page\n", content)
	assert.Equal(t, 2, textPages)
}

func TestJoinPagesSegmentsPerPage(t *testing.T) {
	pages := fakePages{"a", "b", "", "d", ""}
	content, _ := JoinPages(pages)
	segments := strings.Split(strings.TrimSuffix(content, "\n"), "\n")
	require.Len(t, segments, len(pages))
	for i, s := range segments {
		assert.Equal(t, pages[i], s)
	}
}

func TestJoinPagesEmptyDocument(t *testing.T) {
	content, textPages := JoinPages(fakePages{})
	assert.Empty(t, content)
	assert.Zero(t, textPages)
}

// newTestPDF renders one page per entry; an empty entry yields a page with no
// text drawn on it.
func newTestPDF(t *testing.T, pages ...string) []byte {
	t.Helper()

	doc := fpdf.New("P", "mm", "A4", "")
	doc.SetFont("Helvetica", "", 12)
	for _, text := range pages {
		doc.AddPage()
		if text != "" {
			doc.Cell(40, 10, text)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, doc.Output(&buf))
	return buf.Bytes()
}

func writeTemp(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestPDFFilePageOrder(t *testing.T) {
	path := writeTemp(t, "three.pdf", newTestPDF(t, "Alpha page", "", "Omega page"))

	res, err := PDFFile(path)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Pages)
	assert.Equal(t, "pdf", res.Metadata["type"])
	assert.Equal(t, "2", res.Metadata["text_pages"])

	assert.Equal(t, "Alpha page\n\nOmega page\n", res.Content)
}

func TestPDFFileBlankPages(t *testing.T) {
	path := writeTemp(t, "blank.pdf", newTestPDF(t, "", ""))

	res, err := PDFFile(path)
	require.NoError(t, err)
	assert.Equal(t, "\n\n", res.Content)
	assert.Equal(t, "0", res.Metadata["text_pages"])
}

func TestPDFTextIdempotent(t *testing.T) {
	path := writeTemp(t, "doc.pdf", newTestPDF(t, "Hello World"))
	first := PDFText(path)
	assert.Equal(t, "Hello World\n", first)
	assert.Equal(t, first, PDFText(path))
}

func TestPDFTextMissingOrCorrupt(t *testing.T) {
	assert.Equal(t, "", PDFText(filepath.Join(t.TempDir(), "missing.pdf")))

	corrupt := writeTemp(t, "bad.pdf", []byte("%PDF-1.4 this is not really a pdf"))
	assert.Equal(t, "", PDFText(corrupt))

	_, err := PDFFile(corrupt)
	assert.Error(t, err)
}

func TestExtractFromBytes(t *testing.T) {
	data := newTestPDF(t, "In memory")
	res, err := Extract(bytes.NewReader(data), int64(len(data)), "application/pdf")
	require.NoError(t, err)
	assert.Contains(t, res.Content, "In memory")

	_, err = Extract(bytes.NewReader(data), int64(len(data)), ".docx")
	assert.Error(t, err)
}
