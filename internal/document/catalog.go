package document

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nikhilbhutani/noteuploader/internal/models"
)

// Catalog records imported documents outside the file system.
type Catalog interface {
	Upsert(ctx context.Context, doc models.Document) error
	Delete(ctx context.Context, name string) error
}

type PGCatalog struct {
	db *pgxpool.Pool
}

func NewPGCatalog(db *pgxpool.Pool) *PGCatalog {
	return &PGCatalog{db: db}
}

func (c *PGCatalog) Upsert(ctx context.Context, doc models.Document) error {
	_, err := c.db.Exec(ctx,
		`INSERT INTO documents (id, name, path, file_type, size_bytes, sha256, pages, imported_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (name) DO UPDATE SET
		   path = EXCLUDED.path,
		   file_type = EXCLUDED.file_type,
		   size_bytes = EXCLUDED.size_bytes,
		   sha256 = EXCLUDED.sha256,
		   pages = EXCLUDED.pages,
		   imported_at = EXCLUDED.imported_at`,
		doc.ID, doc.Name, doc.Path, doc.FileType, doc.SizeBytes, doc.SHA256, doc.Pages, doc.ImportedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert document: %w", err)
	}
	return nil
}

func (c *PGCatalog) Get(ctx context.Context, name string) (*models.Document, error) {
	var d models.Document
	err := c.db.QueryRow(ctx,
		`SELECT id, name, path, file_type, size_bytes, sha256, pages, imported_at
		 FROM documents WHERE name = $1`, name,
	).Scan(&d.ID, &d.Name, &d.Path, &d.FileType, &d.SizeBytes, &d.SHA256, &d.Pages, &d.ImportedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get document: %w", err)
	}
	return &d, nil
}

func (c *PGCatalog) List(ctx context.Context, limit, offset int) ([]models.Document, error) {
	rows, err := c.db.Query(ctx,
		`SELECT id, name, path, file_type, size_bytes, sha256, pages, imported_at
		 FROM documents ORDER BY imported_at DESC LIMIT $1 OFFSET $2`,
		limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	var docs []models.Document
	for rows.Next() {
		var d models.Document
		if err := rows.Scan(&d.ID, &d.Name, &d.Path, &d.FileType, &d.SizeBytes, &d.SHA256, &d.Pages, &d.ImportedAt); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

func (c *PGCatalog) Delete(ctx context.Context, name string) error {
	if _, err := c.db.Exec(ctx, "DELETE FROM documents WHERE name = $1", name); err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	return nil
}
