package api

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-pdf/fpdf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nikhilbhutani/noteuploader/internal/api/handlers"
	"github.com/nikhilbhutani/noteuploader/internal/auth"
	"github.com/nikhilbhutani/noteuploader/internal/cache"
	"github.com/nikhilbhutani/noteuploader/internal/config"
	"github.com/nikhilbhutani/noteuploader/internal/document"
	"github.com/nikhilbhutani/noteuploader/internal/extract"
	"github.com/nikhilbhutani/noteuploader/internal/models"
	"github.com/nikhilbhutani/noteuploader/internal/ocr"
	"github.com/nikhilbhutani/noteuploader/internal/queue"
	"github.com/nikhilbhutani/noteuploader/internal/session"
)

type lineEngine struct{ lines []string }

func (e lineEngine) Name() string { return "lines" }

func (e lineEngine) Recognize(context.Context, image.Image, ocr.Config) ([]ocr.Observation, error) {
	var obs []ocr.Observation
	for _, l := range e.lines {
		obs = append(obs, ocr.Observation{Candidates: []ocr.Candidate{{Text: l, Confidence: 0.9}, {Text: "alt", Confidence: 0.1}}})
	}
	return obs, nil
}

type fakeQueue struct{ names []string }

func (q *fakeQueue) EnqueueDocumentExtract(_ context.Context, name string) (string, error) {
	q.names = append(q.names, name)
	return "job-42", nil
}

type fakeJobs map[string]queue.JobResult

func (f fakeJobs) Get(_ context.Context, key string, dest any) error {
	res, ok := f[key]
	if !ok {
		return cache.ErrMiss
	}
	*dest.(*queue.JobResult) = res
	return nil
}

type memCatalog struct {
	mu   sync.Mutex
	docs map[string]models.Document
}

func newMemCatalog() *memCatalog { return &memCatalog{docs: map[string]models.Document{}} }

func (m *memCatalog) Upsert(_ context.Context, doc models.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[doc.Name] = doc
	return nil
}

func (m *memCatalog) Delete(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.docs, name)
	return nil
}

func (m *memCatalog) Get(_ context.Context, name string) (*models.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.docs[name]
	if !ok {
		return nil, document.ErrNotFound
	}
	return &d, nil
}

func (m *memCatalog) List(_ context.Context, limit, _ int) ([]models.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Document
	for _, d := range m.docs {
		if len(out) == limit {
			break
		}
		out = append(out, d)
	}
	return out, nil
}

type server struct {
	*httptest.Server
	store *document.Store
	queue *fakeQueue
}

func newServer(t *testing.T, secret string) *server {
	t.Helper()
	return newCatalogServer(t, secret, nil)
}

// newCatalogServer wires cat as both the store's catalog and the API's
// catalog reader when it is not nil.
func newCatalogServer(t *testing.T, secret string, cat *memCatalog) *server {
	t.Helper()
	cfg := &config.Config{
		Server: config.ServerConfig{
			CORSOrigins:    []string{"*"},
			RateLimitRPS:   1000,
			RateLimitBurst: 1000,
			MaxUploadBytes: 8 << 20,
		},
		Auth: config.AuthConfig{JWTSecret: secret},
	}

	var (
		storeCatalog document.Catalog
		reader       handlers.CatalogReader
	)
	if cat != nil {
		storeCatalog, reader = cat, cat
	}
	store, err := document.NewStore(document.Config{Dir: t.TempDir()}, storeCatalog)
	require.NoError(t, err)
	dispatcher := extract.NewDispatcher(lineEngine{lines: []string{"Line one", "Line two"}}, ocr.DefaultConfig())
	sessions := session.NewManager(dispatcher, time.Hour)
	q := &fakeQueue{}

	ctx, cancel := context.WithCancel(context.Background())
	handler := NewRouter(Deps{
		Config:     cfg,
		Store:      store,
		Dispatcher: dispatcher,
		Sessions:   sessions,
		Queue:      q,
		Catalog:    reader,
		Jobs: fakeJobs{queue.JobKey("job-42"): {
			JobID:  "job-42",
			Name:   "a.pdf",
			Result: extract.Result{Kind: extract.KindPDF, Status: extract.StatusOK, Text: "done\n"},
		}},
	}).Setup(ctx)

	srv := httptest.NewServer(handler)
	t.Cleanup(func() {
		srv.Close()
		cancel()
		sessions.EvictIdle(time.Now().Add(2 * time.Hour))
	})
	return &server{Server: srv, store: store, queue: q}
}

func pdfBytes(t *testing.T, pages ...string) []byte {
	t.Helper()
	doc := fpdf.New("P", "mm", "A4", "")
	doc.SetFont("Helvetica", "", 12)
	for _, p := range pages {
		doc.AddPage()
		if p != "" {
			doc.Cell(40, 10, p)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, doc.Output(&buf))
	return buf.Bytes()
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 20, 10))
	for x := 0; x < 20; x++ {
		img.Set(x, 5, color.NRGBA{A: 255})
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

type upload struct {
	field, name string
	data        []byte
}

func multipartBody(t *testing.T, files ...upload) (io.Reader, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, f := range files {
		fw, err := mw.CreateFormFile(f.field, f.name)
		require.NoError(t, err)
		_, err = fw.Write(f.data)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func (s *server) do(t *testing.T, method, path string, body io.Reader, contentType string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, s.URL+path, body)
	require.NoError(t, err)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := s.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func (s *server) json(t *testing.T, method, path string, in any) (*http.Response, map[string]any) {
	t.Helper()
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		require.NoError(t, err)
		body = bytes.NewReader(data)
	}
	resp, data := s.do(t, method, path, body, "application/json")
	out := map[string]any{}
	if len(data) > 0 && strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(data, &out), string(data))
	}
	return resp, out
}

func TestHealth(t *testing.T) {
	s := newServer(t, "")
	resp, body := s.json(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])

	resp, body = s.json(t, http.MethodGet, "/readyz", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "lines", body["ocr_engine"])
}

func TestDocumentsFlow(t *testing.T) {
	s := newServer(t, "")

	body, ct := multipartBody(t,
		upload{"files", "a.pdf", pdfBytes(t, "Alpha", "", "Gamma")},
		upload{"files", "b.pdf", pdfBytes(t, "Beta")},
		upload{"files", "c.txt", []byte("rejected")},
	)
	resp, data := s.do(t, http.MethodPost, "/api/v1/documents/", body, ct)
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(data))
	assert.Contains(t, string(data), `"count":2`)

	resp, list := s.json(t, http.MethodGet, "/api/v1/documents/", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 2, list["count"])

	resp, res := s.json(t, http.MethodPost, "/api/v1/documents/a.pdf/extract", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", res["status"])
	assert.EqualValues(t, 3, res["pages"])
	assert.Equal(t, "Alpha\n\nGamma\n", res["text"])

	resp, res = s.json(t, http.MethodPost, "/api/v1/documents/a.pdf/extract?async=true", nil)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, "job-42", res["job_id"])
	assert.Equal(t, []string{"a.pdf"}, s.queue.names)

	resp, res = s.json(t, http.MethodGet, "/api/v1/jobs/job-42", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "a.pdf", res["name"])

	resp, _ = s.json(t, http.MethodGet, "/api/v1/jobs/unknown", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = s.json(t, http.MethodDelete, "/api/v1/documents/b.pdf", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp, _ = s.json(t, http.MethodPost, "/api/v1/documents/b.pdf/extract", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestDocumentsWithCatalog(t *testing.T) {
	cat := newMemCatalog()
	s := newCatalogServer(t, "", cat)

	body, ct := multipartBody(t, upload{"files", "a.pdf", pdfBytes(t, "Alpha", "Beta")})
	resp, data := s.do(t, http.MethodPost, "/api/v1/documents/", body, ct)
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(data))

	resp, list := s.json(t, http.MethodGet, "/api/v1/documents/", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	docs := list["documents"].([]any)
	require.Len(t, docs, 1)
	entry := docs[0].(map[string]any)
	assert.Equal(t, "a.pdf", entry["name"])
	meta := entry["catalog"].(map[string]any)
	assert.EqualValues(t, 2, meta["pages"])
	assert.Equal(t, ".pdf", meta["file_type"])

	resp, one := s.json(t, http.MethodGet, "/api/v1/documents/a.pdf", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotNil(t, one["catalog"])

	require.NoError(t, cat.Delete(context.Background(), "a.pdf"))
	resp, one = s.json(t, http.MethodGet, "/api/v1/documents/a.pdf", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotContains(t, one, "catalog")

	resp, _ = s.json(t, http.MethodGet, "/api/v1/documents/missing.pdf", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestDocumentsWithoutCatalog(t *testing.T) {
	s := newServer(t, "")
	body, ct := multipartBody(t, upload{"files", "a.pdf", pdfBytes(t, "Alpha")})
	resp, _ := s.do(t, http.MethodPost, "/api/v1/documents/", body, ct)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, one := s.json(t, http.MethodGet, "/api/v1/documents/a.pdf", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "a.pdf", one["name"])
	assert.NotContains(t, one, "catalog")
}

func TestUploadRequiresFiles(t *testing.T) {
	s := newServer(t, "")
	body, ct := multipartBody(t, upload{"other", "a.pdf", []byte("x")})
	resp, _ := s.do(t, http.MethodPost, "/api/v1/documents/", body, ct)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestImageUploadRejectsOtherTypes(t *testing.T) {
	s := newServer(t, "")
	_, created := s.json(t, http.MethodPost, "/api/v1/sessions/", nil)
	base := "/api/v1/sessions/" + created["id"].(string)

	body, ct := multipartBody(t, upload{"image", "notes.pdf", pngBytes(t)})
	resp, _ := s.do(t, http.MethodPost, base+"/image", body, ct)
	assert.Equal(t, http.StatusUnsupportedMediaType, resp.StatusCode)

	body, ct = multipartBody(t, upload{"image", "capture", pngBytes(t)})
	resp, data := s.do(t, http.MethodPost, base+"/image", body, ct)
	assert.Equal(t, http.StatusOK, resp.StatusCode, string(data))
}

func TestImageSessionFlow(t *testing.T) {
	s := newServer(t, "")

	resp, created := s.json(t, http.MethodPost, "/api/v1/sessions/", nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	id := created["id"].(string)
	base := "/api/v1/sessions/" + id

	resp, _ = s.json(t, http.MethodPost, base+"/extract", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	body, ct := multipartBody(t, upload{"image", "photo.png", pngBytes(t)})
	resp, data := s.do(t, http.MethodPost, base+"/image", body, ct)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(data))
	assert.Contains(t, string(data), `"has_image":true`)

	resp, params := s.json(t, http.MethodGet, base+"/params", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1.5, params["contrast"])
	assert.Equal(t, 0.98, params["sharpness"])
	assert.Equal(t, 1.0, params["threshold"])

	resp, _ = s.json(t, http.MethodPut, base+"/params", map[string]any{"contrast": 5})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	resp, params = s.json(t, http.MethodPut, base+"/params", map[string]any{"contrast": 2.0, "threshold": 0.5})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 2.0, params["contrast"])
	assert.Equal(t, 0.98, params["sharpness"])

	resp, params = s.json(t, http.MethodPost, base+"/params/reset", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1.5, params["contrast"])
	assert.Equal(t, 1.0, params["threshold"])

	resp, data = s.do(t, http.MethodGet, base+"/image/processed", nil, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))
	processed, err := png.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 20, 10), processed.Bounds())

	resp, res := s.json(t, http.MethodPost, base+"/extract?wait=true", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Line one\nLine two", res["text"])
	assert.EqualValues(t, 2, res["regions"])

	resp, text := s.json(t, http.MethodGet, base+"/text", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, text["show_text"])
	assert.Equal(t, "Line one\nLine two", text["text"])

	resp, _ = s.json(t, http.MethodDelete, base, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp, _ = s.json(t, http.MethodGet, base, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestDocumentSessionFlow(t *testing.T) {
	s := newServer(t, "")

	_, created := s.json(t, http.MethodPost, "/api/v1/sessions/", nil)
	base := "/api/v1/sessions/" + created["id"].(string)

	body, ct := multipartBody(t, upload{"files", "notes.pdf", pdfBytes(t, "First", "", "Third")})
	resp, data := s.do(t, http.MethodPost, base+"/documents", body, ct)
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(data))

	resp, _ = s.json(t, http.MethodPut, base+"/document", map[string]string{"name": "missing.pdf"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, snap := s.json(t, http.MethodPut, base+"/document", map[string]string{"name": "notes.pdf"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotNil(t, snap["selected"])

	resp, accepted := s.json(t, http.MethodPost, base+"/extract", nil)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.EqualValues(t, 2, accepted["generation"])

	resp, res := s.json(t, http.MethodPost, base+"/extract?wait=true", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "pdf", res["kind"])
	assert.Contains(t, res["text"], "First")
	assert.Contains(t, res["text"], "Third")
}

func TestJWTProtectsAPI(t *testing.T) {
	s := newServer(t, "top-secret")

	resp, _ := s.json(t, http.MethodGet, "/api/v1/documents/", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = s.json(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	token, err := auth.IssueToken("top-secret", "tester", time.Minute)
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodGet, s.URL+"/api/v1/documents/", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	r, err := s.Client().Do(req)
	require.NoError(t, err)
	r.Body.Close()
	assert.Equal(t, http.StatusOK, r.StatusCode)
}
