package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/nikhilbhutani/noteuploader/internal/api/handlers"
	"github.com/nikhilbhutani/noteuploader/internal/api/middleware"
	"github.com/nikhilbhutani/noteuploader/internal/auth"
	"github.com/nikhilbhutani/noteuploader/internal/config"
	"github.com/nikhilbhutani/noteuploader/internal/document"
	"github.com/nikhilbhutani/noteuploader/internal/extract"
	"github.com/nikhilbhutani/noteuploader/internal/session"
)

// Deps are the services the HTTP surface is wired to. Queue, Jobs, Catalog
// and Checks may be nil or empty.
type Deps struct {
	Config     *config.Config
	Store      *document.Store
	Dispatcher *extract.Dispatcher
	Sessions   *session.Manager
	Queue      handlers.Enqueuer
	Jobs       handlers.JobReader
	Catalog    handlers.CatalogReader
	Checks     map[string]handlers.Pinger
}

type Router struct {
	mux  *chi.Mux
	deps Deps
	jwt  *auth.JWTMiddleware
}

func NewRouter(deps Deps) *Router {
	return &Router{
		mux:  chi.NewRouter(),
		deps: deps,
		jwt:  auth.NewJWTMiddleware(deps.Config.Auth.JWTSecret),
	}
}

// Setup builds the handler tree. ctx bounds background work owned by the
// middleware.
func (rt *Router) Setup(ctx context.Context) http.Handler {
	r := rt.mux
	cfg := rt.deps.Config

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(cfg.Server.CORSOrigins))

	rl := middleware.NewRateLimiter(ctx, cfg.Server.RateLimitRPS, cfg.Server.RateLimitBurst)
	r.Use(rl.Limit)

	health := handlers.NewHealthHandler(rt.deps.Checks, rt.deps.Dispatcher.Engine())
	r.Get("/healthz", health.Healthz)
	r.Get("/readyz", health.Readyz)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(rt.jwt.Authenticate)
		r.Use(middleware.LogSubject)

		docH := handlers.NewDocumentHandler(rt.deps.Store, rt.deps.Dispatcher, rt.deps.Queue, rt.deps.Jobs, cfg.Server.MaxUploadBytes)
		if rt.deps.Catalog != nil {
			docH.WithCatalog(rt.deps.Catalog)
		}
		r.Route("/documents", func(r chi.Router) {
			r.Post("/", docH.Upload)
			r.Get("/", docH.List)
			r.Get("/{name}", docH.Get)
			r.Delete("/{name}", docH.Delete)
			r.Post("/{name}/extract", docH.Extract)
		})
		r.Get("/jobs/{id}", docH.Job)

		sessH := handlers.NewSessionHandler(rt.deps.Sessions, rt.deps.Store, cfg.Server.MaxUploadBytes)
		r.Route("/sessions", func(r chi.Router) {
			r.Post("/", sessH.Create)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", sessH.Get)
				r.Delete("/", sessH.Delete)
				r.Post("/documents", sessH.ImportDocuments)
				r.Put("/document", sessH.SelectDocument)
				r.Post("/image", sessH.UploadImage)
				r.Get("/image/processed", sessH.ProcessedImage)
				r.Get("/params", sessH.GetParams)
				r.Put("/params", sessH.PutParams)
				r.Post("/params/reset", sessH.ResetParams)
				r.Post("/extract", sessH.Extract)
				r.Get("/text", sessH.Text)
			})
		})
	})

	return r
}
