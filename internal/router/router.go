package router

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/prof-schacht/academic-citation-assistant-sub000/internal/handler"
	"github.com/prof-schacht/academic-citation-assistant-sub000/internal/middleware"
	"github.com/prof-schacht/academic-citation-assistant-sub000/internal/ws"
)

// Dependencies holds all injected services needed by the router.
type Dependencies struct {
	DB         handler.DBPinger
	Version    string
	Metrics    *middleware.Metrics
	MetricsReg *prometheus.Registry

	Papers handler.PaperDeps

	// Sessions upgrades the streaming suggest channel (spec §4.7, §6).
	Sessions *ws.Manager

	// GeneralRateLimiter is nil to disable REST rate limiting.
	GeneralRateLimiter *middleware.RateLimiter
}

// New creates and configures the Chi router with all routes.
func New(deps *Dependencies) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.Logging)
	if deps.Metrics != nil {
		r.Use(middleware.Monitoring(deps.Metrics))
	}

	r.Get("/api/health", handler.Health(deps.DB, deps.Version))
	if deps.MetricsReg != nil {
		r.Handle("/metrics", middleware.MetricsHandler(deps.MetricsReg))
	}

	if deps.Sessions != nil {
		r.Get("/api/suggest/session", deps.Sessions.ServeHTTP)
	}

	r.Group(func(r chi.Router) {
		if deps.GeneralRateLimiter != nil {
			r.Use(middleware.RateLimit(deps.GeneralRateLimiter))
		}
		timeout30s := middleware.Timeout(30 * time.Second)

		r.With(timeout30s).Post("/api/papers", handler.CreatePaper(deps.Papers))
		r.With(timeout30s).Get("/api/papers", handler.ListPapers(deps.Papers))
		r.With(timeout30s).Get("/api/papers/{id}", handler.GetPaper(deps.Papers))
		r.With(timeout30s).Delete("/api/papers/{id}", handler.DeletePaper(deps.Papers))
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"success": false,
			"error":   "route not found",
		})
	})

	return r
}
