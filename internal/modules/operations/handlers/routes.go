package handlers

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers all operation routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/operations", func(r chi.Router) {
		r.Get("/", h.HandleList)    // Filtered listing
		r.Post("/", h.HandleCreate) // Manual entry

		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.HandleGet)
			r.Put("/", h.HandleUpdate)
			r.Delete("/", h.HandleDelete)
			r.Post("/confirm", h.HandleConfirm)
			r.Post("/cancel", h.HandleCancel)
		})
	})
}
