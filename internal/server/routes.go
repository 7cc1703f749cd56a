package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/gleaner/internal/handlers"
)

// Handlers groups the HTTP handlers the router mounts.
// Scheduler and WebSocket may be nil when those features are off.
type Handlers struct {
	Control   *handlers.ControlHandler
	Records   *handlers.RecordsHandler
	Scheduler *handlers.SchedulerHandler
	WebSocket *handlers.WebSocketHandler
}

// NewRouter builds the control API
func NewRouter(h Handlers, logger arbor.ILogger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(recoveryMiddleware(logger))
	r.Use(corsMiddleware)

	if h.WebSocket != nil {
		// Registered before the logging group: upgrades need the raw writer
		r.Get("/ws", h.WebSocket.HandleWebSocket)
	}

	r.Group(func(r chi.Router) {
		r.Use(loggingMiddleware(logger))

		r.Get("/health", handlers.HealthHandler)

		r.Route("/api", func(r chi.Router) {
			r.Route("/service", func(r chi.Router) {
				r.Get("/status", h.Control.ServiceStatusHandler)
				r.Post("/pause", h.Control.PauseServiceHandler)
				r.Post("/start", h.Control.StartServiceHandler)
			})

			r.Get("/scrapers", h.Control.ListScrapersHandler)
			r.Route("/scraper/{name}", func(r chi.Router) {
				r.Get("/status", h.Control.ScraperStatusHandler)
				r.Post("/pause", h.Control.PauseScraperHandler)
				r.Post("/start", h.Control.StartScraperHandler)
			})

			r.Get("/records", h.Records.ListHandler)
			r.Get("/records/stats", h.Records.StatsHandler)

			if h.Scheduler != nil {
				r.Get("/scheduler/jobs", h.Scheduler.ListJobsHandler)
				r.Post("/scheduler/jobs/{name}/trigger", h.Scheduler.TriggerJobHandler)
			}
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		handlers.WriteError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		handlers.WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	return r
}
