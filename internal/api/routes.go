package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// SetupRoutes configures the operational API routes.
func SetupRoutes(h *Handlers) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", h.HealthCheck)

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", h.Status)
		r.Get("/status/stream", h.StatusStream)
		r.Get("/duplicates/count", h.DuplicateCount)
		r.Post("/ingest/run", h.TriggerIngest)
		r.Post("/supervisor/pause", h.PauseSupervisor)
		r.Post("/supervisor/resume", h.ResumeSupervisor)
		r.Put("/scheduler/interval", h.SetSchedulerInterval)
		r.Post("/routing/reload", h.ReloadRouting)
	})

	return r
}
