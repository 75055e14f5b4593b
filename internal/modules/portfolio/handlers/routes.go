package handlers

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers all portfolio routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/portfolio", func(r chi.Router) {
		r.Get("/positions", h.HandleListPositions)       // Open positions (?include_closed=true for all)
		r.Get("/positions/{asset}", h.HandleGetPosition) // Single asset
		r.Get("/summary", h.HandleGetSummary)            // Aggregate totals
	})
}
