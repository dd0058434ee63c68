package document

import (
	"io"
	"mime/multipart"
	"os"
	"path/filepath"
)

// Source is an externally granted file. Open may fail when the grant has
// lapsed or was never given.
type Source interface {
	Name() string
	Open() (io.ReadCloser, error)
}

type FileSource struct {
	Path string
}

func (f FileSource) Name() string { return filepath.Base(f.Path) }

func (f FileSource) Open() (io.ReadCloser, error) { return os.Open(f.Path) }

type UploadSource struct {
	Header *multipart.FileHeader
}

func (u UploadSource) Name() string { return u.Header.Filename }

func (u UploadSource) Open() (io.ReadCloser, error) { return u.Header.Open() }

func UploadSources(headers []*multipart.FileHeader) []Source {
	out := make([]Source, 0, len(headers))
	for _, h := range headers {
		out = append(out, UploadSource{Header: h})
	}
	return out
}
