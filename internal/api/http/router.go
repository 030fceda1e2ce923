// Package httpapi exposes the service's HTTP surface: multipart upload,
// record retrieval, tag override, and the websocket progress channel.
package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"call-insights-service/internal/observability"
)

// NewRouter constructs the HTTP router for the service.
func NewRouter(h *Handler) http.Handler {
	r := chi.NewRouter()

	// Basic middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(observability.RequestLogger)

	// Health endpoints
	r.Get("/v1/liveness", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/v1/readiness", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	// API routes
	r.Route("/v1", func(r chi.Router) {
		r.Post("/calls", h.UploadCall)
		r.Get("/calls", h.ListCalls)
		r.Get("/calls/stats", h.CallStats)
		r.Get("/calls/{id}", h.GetCall)
		r.Delete("/calls/{id}", h.DeleteCall)
		r.Put("/calls/{id}/tags", h.OverrideTags)
		r.Get("/progress", h.Progress)
	})

	return r
}
