package textextract

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/ledongthuc/pdf"
)

type ExtractedText struct {
	Content  string
	Pages    int
	Metadata map[string]string
}

// PageSource exposes the text layer of a paginated document. Pages are
// numbered from 1. ok is false when a page carries no text layer.
type PageSource interface {
	NumPage() int
	PageText(page int) (text string, ok bool)
}

func Extract(data io.ReaderAt, size int64, fileType string) (*ExtractedText, error) {
	switch strings.ToLower(fileType) {
	case ".pdf", "pdf", "application/pdf":
		return extractPDF(data, size)
	default:
		return nil, fmt.Errorf("unsupported file type: %s", fileType)
	}
}

// PDFFile extracts the text layer of every page of the PDF at path.
func PDFFile(path string) (*ExtractedText, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open PDF: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat PDF: %w", err)
	}
	return extractPDF(f, info.Size())
}

// PDFText is PDFFile without an error: a document that cannot be opened
// yields "".
func PDFText(path string) string {
	res, err := PDFFile(path)
	if err != nil {
		return ""
	}
	return res.Content
}

// JoinPages concatenates page texts in ascending page order, each followed by
// a newline. A page without a text layer contributes an empty line.
func JoinPages(src PageSource) (content string, textPages int) {
	var buf strings.Builder
	for i := 1; i <= src.NumPage(); i++ {
		text, ok := src.PageText(i)
		if ok {
			textPages++
		}
		buf.WriteString(text)
		buf.WriteString("\n")
	}
	return buf.String(), textPages
}

func extractPDF(data io.ReaderAt, size int64) (res *ExtractedText, err error) {
	// ledongthuc/pdf panics on some malformed cross-reference tables.
	defer func() {
		if r := recover(); r != nil {
			res, err = nil, fmt.Errorf("open PDF: %v", r)
		}
	}()

	reader, err := pdf.NewReader(data, size)
	if err != nil {
		return nil, fmt.Errorf("open PDF: %w", err)
	}

	src := pdfPages{r: reader}
	content, textPages := JoinPages(src)

	return &ExtractedText{
		Content: content,
		Pages:   src.NumPage(),
		Metadata: map[string]string{
			"type":       "pdf",
			"text_pages": strconv.Itoa(textPages),
		},
	}, nil
}

type pdfPages struct {
	r *pdf.Reader
}

func (p pdfPages) NumPage() int { return p.r.NumPage() }

func (p pdfPages) PageText(i int) (text string, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			text, ok = "", false
		}
	}()
	page := p.r.Page(i)
	if page.V.IsNull() {
		return "", false
	}
	text, err := page.GetPlainText(nil)
	if err != nil {
		return "", false
	}
	// The reader pads pages with line breaks, so a page with no drawn text
	// still yields whitespace.
	text = strings.TrimSpace(text)
	return text, text != ""
}
