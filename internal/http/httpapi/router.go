// Package httpapi assembles the chi router for the API surface.
package httpapi

import (
	stdhttp "net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"storyreel/internal/http/handlers"
	"storyreel/internal/infra"
	"storyreel/internal/middleware"
)

// Options carries the router's cross-cutting configuration.
type Options struct {
	JWTSecret      string
	AllowedOrigins []string
	Logger         infra.Logger
}

// NewRouter wires middleware and routes around the handler set.
func NewRouter(app *handlers.App, opts Options) stdhttp.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, chimw.RealIP, chimw.Recoverer)
	r.Use(middleware.Logger(opts.Logger))
	if len(opts.AllowedOrigins) > 0 {
		r.Use(middleware.CORS(opts.AllowedOrigins))
	}

	r.Get("/v1/healthz", app.Health)

	r.Group(func(r chi.Router) {
		r.Use(middleware.AuthJWT(opts.JWTSecret))

		r.Route("/v1/jobs", func(r chi.Router) {
			r.Post("/", app.EnqueueJob)
			r.Get("/{job_id}", app.JobStatus)
			r.Post("/{job_id}/cancel", app.CancelJob)
		})

		r.Route("/v1/projects/{project_id}", func(r chi.Router) {
			r.Get("/jobs", app.ProjectJobs)
			r.Post("/compose", app.ComposeProject)
			r.Post("/script", app.GenerateScript)
			r.Get("/assets/archive", app.ProjectArchive)
		})

		r.Route("/v1/queue", func(r chi.Router) {
			r.Get("/stats", app.QueueStats)
			r.Post("/pause", app.PauseQueue)
			r.Post("/resume", app.ResumeQueue)
		})

		r.Get("/v1/providers", app.Providers)

		r.Route("/v1/credentials", func(r chi.Router) {
			r.Get("/", app.ListCredentials)
			r.Put("/{provider}", app.SaveCredential)
			r.Get("/{provider}", app.CredentialInfo)
			r.Delete("/{provider}", app.DeleteCredential)
			r.Get("/{provider}/oauth/start", app.StartOAuth)
		})

		r.Get("/v1/oauth/callback", app.OAuthCallback)
	})

	return r
}
