package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/nikhilbhutani/noteuploader/internal/auth"
)

type requestAttrsKey struct{}

// requestAttrs collects fields that inner middleware learns about a request
// and the outer Logging middleware writes once the request completes.
type requestAttrs struct {
	subject string
}

// Logging writes one structured line per request once it completes.
func Logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		attrs := &requestAttrs{}
		r = r.WithContext(context.WithValue(r.Context(), requestAttrsKey{}, attrs))

		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		level := slog.LevelInfo
		if status >= http.StatusInternalServerError {
			level = slog.LevelError
		}
		args := []any{
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"bytes", ww.BytesWritten(),
			"duration_ms", time.Since(start).Milliseconds(),
			"remote", r.RemoteAddr,
			"request_id", chimiddleware.GetReqID(r.Context()),
		}
		if attrs.subject != "" {
			args = append(args, "subject", attrs.subject)
		}
		slog.Log(r.Context(), level, "http request", args...)
	})
}

// LogSubject adds the authenticated subject to the request's log line. It
// has to run after authentication.
func LogSubject(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attrs, ok := r.Context().Value(requestAttrsKey{}).(*requestAttrs); ok {
			attrs.subject = auth.Subject(r.Context())
		}
		next.ServeHTTP(w, r)
	})
}
