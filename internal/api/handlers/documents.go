package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/nikhilbhutani/noteuploader/internal/cache"
	"github.com/nikhilbhutani/noteuploader/internal/document"
	"github.com/nikhilbhutani/noteuploader/internal/extract"
	"github.com/nikhilbhutani/noteuploader/internal/models"
	"github.com/nikhilbhutani/noteuploader/internal/queue"
)

type Enqueuer interface {
	EnqueueDocumentExtract(ctx context.Context, name string) (string, error)
}

type JobReader interface {
	Get(ctx context.Context, key string, dest any) error
}

type PDFExtractor interface {
	PDF(ctx context.Context, ref models.DocumentRef) extract.Result
}

// CatalogReader serves the metadata recorded for imported documents.
type CatalogReader interface {
	Get(ctx context.Context, name string) (*models.Document, error)
	List(ctx context.Context, limit, offset int) ([]models.Document, error)
}

type DocumentHandler struct {
	store     *document.Store
	extractor PDFExtractor
	queue     Enqueuer
	jobs      JobReader
	catalog   CatalogReader
	maxUpload int64
}

type documentEntry struct {
	models.DocumentRef
	Catalog *models.Document `json:"catalog,omitempty"`
}

const defaultMaxUpload = 64 << 20

func NewDocumentHandler(store *document.Store, extractor PDFExtractor, q Enqueuer, jobs JobReader, maxUpload int64) *DocumentHandler {
	if maxUpload <= 0 {
		maxUpload = defaultMaxUpload
	}
	return &DocumentHandler{store: store, extractor: extractor, queue: q, jobs: jobs, maxUpload: maxUpload}
}

func (h *DocumentHandler) WithCatalog(c CatalogReader) *DocumentHandler {
	h.catalog = c
	return h
}

// Upload imports every file in the multipart "files" field. Files that fail
// to import are left out of the response.
func (h *DocumentHandler) Upload(w http.ResponseWriter, r *http.Request) {
	refs, ok := importUploads(w, r, h.store, h.maxUpload)
	if !ok {
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"documents": refs, "count": len(refs)})
}

func importUploads(w http.ResponseWriter, r *http.Request, store *document.Store, maxUpload int64) ([]models.DocumentRef, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUpload)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return nil, false
	}
	defer r.MultipartForm.RemoveAll()

	headers := r.MultipartForm.File["files"]
	if len(headers) == 0 {
		writeError(w, http.StatusBadRequest, "files required")
		return nil, false
	}
	return store.Import(r.Context(), document.UploadSources(headers)), true
}

// List returns the stored documents. With a catalog configured each entry
// carries its recorded metadata; catalog failures only drop the metadata.
func (h *DocumentHandler) List(w http.ResponseWriter, r *http.Request) {
	refs, err := h.store.List()
	if err != nil {
		writeErr(w, err)
		return
	}

	byName := map[string]*models.Document{}
	if h.catalog != nil && len(refs) > 0 {
		docs, err := h.catalog.List(r.Context(), len(refs), 0)
		if err != nil {
			slog.Warn("catalog list failed", "error", err)
		}
		for i := range docs {
			byName[docs[i].Name] = &docs[i]
		}
	}

	entries := make([]documentEntry, 0, len(refs))
	for _, ref := range refs {
		entries = append(entries, documentEntry{DocumentRef: ref, Catalog: byName[ref.Name]})
	}
	writeJSON(w, http.StatusOK, map[string]any{"documents": entries, "count": len(entries)})
}

func (h *DocumentHandler) Get(w http.ResponseWriter, r *http.Request) {
	ref, err := h.store.Get(chi.URLParam(r, "name"))
	if err != nil {
		writeErr(w, err)
		return
	}
	entry := documentEntry{DocumentRef: ref}
	if h.catalog != nil {
		doc, err := h.catalog.Get(r.Context(), ref.Name)
		switch {
		case err == nil:
			entry.Catalog = doc
		case !errors.Is(err, document.ErrNotFound):
			slog.Warn("catalog lookup failed", "name", ref.Name, "error", err)
		}
	}
	writeJSON(w, http.StatusOK, entry)
}

func (h *DocumentHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Remove(r.Context(), chi.URLParam(r, "name")); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Extract returns the text layer of a stored PDF, or with ?async=true queues
// the work and returns a job id.
func (h *DocumentHandler) Extract(w http.ResponseWriter, r *http.Request) {
	ref, err := h.store.Get(chi.URLParam(r, "name"))
	if err != nil {
		writeErr(w, err)
		return
	}

	if async, _ := strconv.ParseBool(r.URL.Query().Get("async")); async {
		if h.queue == nil {
			writeError(w, http.StatusServiceUnavailable, "background extraction not configured")
			return
		}
		jobID, err := h.queue.EnqueueDocumentExtract(r.Context(), ref.Name)
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID, "name": ref.Name})
		return
	}

	res := h.extractor.PDF(r.Context(), ref)
	status := http.StatusOK
	if !res.OK() {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, res)
}

func (h *DocumentHandler) Job(w http.ResponseWriter, r *http.Request) {
	if h.jobs == nil {
		writeError(w, http.StatusServiceUnavailable, "background extraction not configured")
		return
	}
	var out queue.JobResult
	err := h.jobs.Get(r.Context(), queue.JobKey(chi.URLParam(r, "id")), &out)
	if errors.Is(err, cache.ErrMiss) {
		writeError(w, http.StatusNotFound, "job result not available")
		return
	}
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}
