package models

import (
	"time"

	"github.com/google/uuid"
)

// DocumentRef points at a file copied into the local document store.
// Name is the original base file name and the key inside the store.
type DocumentRef struct {
	Name string `json:"name"`
	Path string `json:"path"`
}

type Document struct {
	ID         uuid.UUID `json:"id" db:"id"`
	Name       string    `json:"name" db:"name"`
	Path       string    `json:"path" db:"path"`
	FileType   string    `json:"file_type" db:"file_type"`
	SizeBytes  int64     `json:"size_bytes" db:"size_bytes"`
	SHA256     string    `json:"sha256" db:"sha256"`
	Pages      int       `json:"pages" db:"pages"`
	ImportedAt time.Time `json:"imported_at" db:"imported_at"`
}

func (d Document) Ref() DocumentRef {
	return DocumentRef{Name: d.Name, Path: d.Path}
}
