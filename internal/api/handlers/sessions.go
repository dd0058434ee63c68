package handlers

import (
	"net/http"
	"path/filepath"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/nikhilbhutani/noteuploader/internal/document"
	"github.com/nikhilbhutani/noteuploader/internal/preprocess"
	"github.com/nikhilbhutani/noteuploader/internal/session"
	"github.com/nikhilbhutani/noteuploader/pkg/imageio"
)

type SessionHandler struct {
	sessions  *session.Manager
	store     *document.Store
	maxUpload int64
}

func NewSessionHandler(sessions *session.Manager, store *document.Store, maxUpload int64) *SessionHandler {
	if maxUpload <= 0 {
		maxUpload = defaultMaxUpload
	}
	return &SessionHandler{sessions: sessions, store: store, maxUpload: maxUpload}
}

func (h *SessionHandler) session(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	s, err := h.sessions.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, err)
		return nil, false
	}
	return s, true
}

func (h *SessionHandler) Create(w http.ResponseWriter, r *http.Request) {
	s := h.sessions.Create()
	snap, err := s.Snapshot(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, snap)
}

func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	snap, err := s.Snapshot(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (h *SessionHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.Close(chi.URLParam(r, "id")); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ImportDocuments copies uploaded PDFs into the store and makes them the
// session's document list.
func (h *SessionHandler) ImportDocuments(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	refs, ok := importUploads(w, r, h.store, h.maxUpload)
	if !ok {
		return
	}
	if err := s.SetDocuments(r.Context(), refs); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"documents": refs, "count": len(refs)})
}

type selectRequest struct {
	Name string `json:"name"`
}

func (h *SessionHandler) SelectDocument(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	var req selectRequest
	if err := decodeJSON(r, &req); err != nil || req.Name == "" {
		writeError(w, http.StatusBadRequest, "name required")
		return
	}
	if err := s.SelectDocument(r.Context(), req.Name); err != nil {
		writeErr(w, err)
		return
	}
	h.writeSnapshot(w, r, s)
}

// UploadImage decodes the multipart "image" field and makes it the active
// source.
func (h *SessionHandler) UploadImage(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)
	file, header, err := r.FormFile("image")
	if err != nil {
		writeError(w, http.StatusBadRequest, "image required")
		return
	}
	defer file.Close()
	// Camera captures often arrive without an extension; only a wrong one is rejected.
	if filepath.Ext(header.Filename) != "" && !imageio.IsImageName(header.Filename) {
		writeError(w, http.StatusUnsupportedMediaType, "unsupported image type")
		return
	}

	img, err := imageio.Decode(file)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	if err := s.SetImage(r.Context(), img); err != nil {
		writeErr(w, err)
		return
	}
	h.writeSnapshot(w, r, s)
}

type paramsResponse struct {
	preprocess.Params
	Bounds map[string][2]float64 `json:"bounds"`
}

func paramsBody(p preprocess.Params) paramsResponse {
	return paramsResponse{
		Params: p,
		Bounds: map[string][2]float64{
			"contrast":  {preprocess.MinContrast, preprocess.MaxContrast},
			"sharpness": {preprocess.MinSharpness, preprocess.MaxSharpness},
			"threshold": {preprocess.MinThreshold, preprocess.MaxThreshold},
		},
	}
}

func (h *SessionHandler) GetParams(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	p, err := s.Params(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, paramsBody(p))
}

type paramsRequest struct {
	Contrast   *float64 `json:"contrast"`
	Sharpness  *float64 `json:"sharpness"`
	Threshold  *float64 `json:"threshold"`
	Preprocess *bool    `json:"preprocess"`
}

// PutParams updates any subset of the parameters. Values outside their
// bounds are rejected, not clamped.
func (h *SessionHandler) PutParams(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	var req paramsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	p, err := s.PatchParams(r.Context(), session.ParamsPatch{
		Contrast:   req.Contrast,
		Sharpness:  req.Sharpness,
		Threshold:  req.Threshold,
		Preprocess: req.Preprocess,
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, paramsBody(p))
}

func (h *SessionHandler) ResetParams(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	p, err := s.ResetParams(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, paramsBody(p))
}

func (h *SessionHandler) ProcessedImage(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	img, err := s.ProcessedImage(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	data, err := imageio.EncodePNG(img)
	if err != nil {
		writeErr(w, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// Extract starts extraction of the active source. With ?wait=true the
// response carries the result; otherwise only the generation is returned.
func (h *SessionHandler) Extract(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	gen, err := s.Extract(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}

	if wait, _ := strconv.ParseBool(r.URL.Query().Get("wait")); !wait {
		writeJSON(w, http.StatusAccepted, map[string]uint64{"generation": gen})
		return
	}

	res, err := s.Wait(r.Context(), gen)
	if err != nil {
		writeErr(w, err)
		return
	}
	status := http.StatusOK
	if !res.OK() {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, res)
}

func (h *SessionHandler) Text(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	text, show, err := s.Text(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"text": text, "show_text": show})
}

func (h *SessionHandler) writeSnapshot(w http.ResponseWriter, r *http.Request, s *session.Session) {
	snap, err := s.Snapshot(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}
