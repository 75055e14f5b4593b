package handlers

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers all dividend routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/dividends", func(r chi.Router) {
		r.Get("/unresolved", h.HandleListUnresolved)
		r.Post("/{id}/resolve", h.HandleResolve)
	})
}
