package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nikhilbhutani/noteuploader/internal/document"
	"github.com/nikhilbhutani/noteuploader/internal/preprocess"
	"github.com/nikhilbhutani/noteuploader/internal/session"
)

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeErr maps package errors onto HTTP status codes.
func writeErr(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, session.ErrNotFound),
		errors.Is(err, session.ErrUnknownDocument),
		errors.Is(err, session.ErrUnknownGeneration),
		errors.Is(err, document.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, session.ErrClosed):
		status = http.StatusGone
	case errors.Is(err, session.ErrNoSource),
		errors.Is(err, session.ErrSuperseded):
		status = http.StatusConflict
	case errors.Is(err, preprocess.ErrOutOfRange):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, document.ErrInvalidName),
		errors.Is(err, document.ErrUnsupportedType):
		status = http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	}
	writeError(w, status, err.Error())
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}
