package handlers

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers all DCA routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/dca", func(r chi.Router) {
		r.Post("/execute-all", h.HandleExecuteAll) // Run every active plan

		r.Route("/plans", func(r chi.Router) {
			r.Get("/", h.HandleList)
			r.Post("/", h.HandleCreate)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.HandleGet)
				r.Put("/", h.HandleUpdate)
				r.Delete("/", h.HandleDelete) // ?delete_operations=true

				// Lifecycle
				r.Post("/pause", h.HandlePause)
				r.Post("/resume", h.HandleResume)
				r.Post("/stop", h.HandleStop)

				// Execution
				r.Post("/execute", h.HandleExecute)
				r.Post("/backfill", h.HandleBackfill)
				r.Post("/regenerate", h.HandleRegenerate)
				r.Post("/recompute", h.HandleRecompute)
				r.Delete("/operations", h.HandleDeleteOperations)

				r.Get("/statistics", h.HandleStatistics)
				r.Get("/executions", h.HandleExecutions)
			})
		})
	})
}
