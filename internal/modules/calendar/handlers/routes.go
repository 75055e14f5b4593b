package handlers

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers all calendar routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/calendar", func(r chi.Router) {
		r.Get("/holidays", h.HandleList)
		r.Post("/holidays", h.HandleAdd)
		r.Post("/holidays/import", h.HandleImport)
		r.Delete("/holidays/{day}", h.HandleDelete)
		r.Get("/check/{day}", h.HandleCheck) // Weekends included when configured
	})
}
