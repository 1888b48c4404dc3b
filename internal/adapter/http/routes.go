package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// MountRoutes registers all API routes on the given chi router. ws may be
// nil to disable the live feed (tests).
func MountRoutes(r chi.Router, h *Handlers, ws http.HandlerFunc, adminToken string) {
	r.Get("/healthz", h.Health)
	if ws != nil {
		r.Get("/ws", ws)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(RequireToken(adminToken))

		// Tasks
		r.Post("/tasks", h.CreateTask)
		r.Get("/tasks", h.ListTasks)
		r.Get("/tasks/{id}", h.GetTask)
		r.Patch("/tasks/{id}", h.UpdateTask)
		r.Post("/tasks/{id}/kill", h.KillTask)
		r.Post("/tasks/{id}/retry", h.RetryTask)

		// Trees
		r.Get("/trees", h.ListTrees)
		r.Get("/trees/{id}", h.GetTree)

		// Cards
		r.Post("/cards", h.CreateCard)
		r.Get("/cards", h.ListCards)
		r.Get("/cards/{id}", h.GetCard)
		r.Patch("/cards/{id}", h.UpdateCard)
		r.Delete("/cards/{id}", h.DeleteCard)
		r.Post("/cards/{id}/links", h.AddCardLink)
		r.Delete("/cards/{id}/links", h.RemoveCardLink)

		// Workers
		r.Post("/workers", h.RegisterWorker)
		r.Get("/workers", h.ListWorkers)
	})
}
