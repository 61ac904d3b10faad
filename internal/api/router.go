package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter creates and returns the main HTTP router. A nil metrics
// handler serves the default Prometheus registry. Without a host the
// stream control routes are not mounted.
func NewRouter(rm ResourceManager, bus EventBus, host *StreamHost, metrics http.Handler, info Info) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(corsMiddleware)
	r.Use(middleware.CleanPath)

	h := &Handlers{rm: rm, events: bus, host: host, info: info}

	if metrics == nil {
		metrics = promhttp.Handler()
	}
	r.Method(http.MethodGet, "/metrics", metrics)

	r.Route("/api", func(r chi.Router) {
		r.Get("/info", h.getInfo)

		// Sound card state and SSR injection
		r.Get("/card", h.getCard)
		r.Post("/card", h.setCard)

		// Streams
		r.Get("/streams", h.getStreams)
		r.Get("/streams/{sid}", h.getStream)
		if host != nil {
			r.Post("/streams", h.createStream)
			r.Post("/streams/{sid}/{cmd}", h.streamCommand)
			r.Delete("/streams/{sid}", h.deleteStream)
		}

		// SSE
		r.Get("/subscribe", h.sseEvents)
	})

	return r
}

// corsMiddleware adds permissive CORS headers for local network access.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
