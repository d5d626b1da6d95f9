// Package api serves the engine over HTTP.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/rcliao/adaptive-memory/internal/engine"
	"github.com/rcliao/adaptive-memory/internal/logger"
)

// NewRouter builds the chi router with middleware and routes.
func NewRouter(e *engine.Engine, log logger.Logger) chi.Router {
	log = logger.OrNop(log)
	cfg := e.Config()
	h := newHandler(e, log)

	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(Observe(log, e.Metrics()))
	r.Use(Recovery(log))

	r.Get("/health", h.health)
	if e.Metrics().Enabled() && cfg.Metrics.Addr == "" {
		r.Method(http.MethodGet, cfg.Metrics.Path, e.Metrics().Handler())
	}

	r.Route("/api/v1/users/{userID}", func(r chi.Router) {
		if cfg.Server.RateLimit > 0 {
			r.Use(NewRateLimiter(cfg.Server.RateLimit, cfg.Server.RateBurst).Middleware)
		}

		r.Post("/memories", h.storeMemory)
		r.Get("/memories/search", h.searchMemories)
		r.Post("/memories/consolidate", h.consolidate)
		r.Post("/memories/forget", h.forget)
		r.Post("/context", h.assembleContext)

		r.Post("/preferences", h.addPreference)
		r.Get("/preferences", h.listPreferences)
		r.Get("/preferences/relevant", h.relevantPreferences)
		r.Post("/discomfort", h.discomfort)

		r.Post("/feedback", h.submitFeedback)
		r.Post("/interactions", h.submitInteraction)
		r.Post("/rehearsals", h.rehearse)

		r.Get("/stats", h.stats)
		r.Get("/updates", h.updates)
	})
	return r
}
