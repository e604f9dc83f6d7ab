package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// buildRouter constructs the chi router with all routes and middleware.
func (s *server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chimw.Recoverer)
	r.Use(s.requestLogger)
	r.Use(s.corsMiddleware())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		// Ingestion endpoints: API key required, write tier limits.
		r.Group(func(r chi.Router) {
			r.Use(s.requireAPIKey)

			if s.cfg.Server.RateLimit.Enabled {
				r.Use(s.rateLimitMiddleware(
					s.cfg.Server.RateLimit.Ingest,
				))
			}

			r.Post("/runs", s.handleCreateRun)
			r.Put("/runs/{runID}/files/{name}", s.handleUploadFile)
			r.Post("/runs/{runID}/results", s.handleRecordResults)
			r.Put("/runs/{runID}/tags/{key}", s.handleSetTag)
			r.Delete("/runs/{runID}", s.handleDeleteRun)

			r.Post("/projects/{projectID}/api-key", s.handleRotateAPIKey)
			r.Put("/projects/{projectID}/retention", s.handleSetRetention)
		})

		// Read endpoints: API key or public run access.
		r.Group(func(r chi.Router) {
			r.Use(s.optionalAPIKey)

			if s.cfg.Server.RateLimit.Enabled {
				r.Use(s.rateLimitMiddleware(
					s.cfg.Server.RateLimit.Read,
				))
			}

			r.Get("/runs/{runID}", s.handleGetRun)
			r.Get("/runs/{runID}/files", s.handleListFiles)
			r.Get("/runs/{runID}/files/{name}", s.handleDownloadFile)
			r.Get("/runs/{runID}/tags", s.handleListTags)
			r.Get("/runs/{runID}/stats", s.handleRunStats)

			r.Get("/projects/{projectID}", s.handleGetProject)
			r.Get("/projects/{projectID}/runs", s.handleListRuns)
			r.Get("/projects/{projectID}/tags", s.handleTagSummary)
		})
	})

	return r
}

// corsMiddleware returns a CORS handler configured from the server config.
func (s *server) corsMiddleware() func(http.Handler) http.Handler {
	opts := cors.Options{
		AllowedMethods:   []string{"GET", "HEAD", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization", "X-API-Key"},
		AllowCredentials: true,
		MaxAge:           300,
	}

	origins := s.cfg.Server.CORSOrigins

	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		// Reflect the requesting origin so credentials work from any origin.
		opts.AllowOriginFunc = func(_ *http.Request, _ string) bool {
			return true
		}
	} else {
		opts.AllowedOrigins = origins
	}

	return cors.Handler(opts)
}
