package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/assistenze/internal/models"
)

// NewRouter creates a chi router with all API routes, to be mounted at /api.
// sseHandler, if non-nil, is mounted at GET /events.
func NewRouter(h *Handler, sseHandler http.Handler) chi.Router {
	r := chi.NewRouter()

	// Records.
	r.Post("/submit", h.Submit)
	r.Get("/records", h.ListRecords)
	r.Get("/records/{id}", h.GetRecord)
	r.Group(func(r chi.Router) {
		if h.protectUpdates {
			r.Use(RequireAuth(h.auth))
		}
		r.Put("/records/{id}", h.UpdateRecord)
	})

	// Export (admin only).
	r.With(RequireAuth(h.auth), RequireRole(models.RoleAdmin)).Get("/export", h.Export)

	// Accounts.
	r.Post("/register", h.Register)
	r.Post("/login", h.Login)

	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}
