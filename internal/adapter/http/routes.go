package http

import (
	"github.com/go-chi/chi/v5"
)

// MountRoutes registers the health check and all API routes on r.
func MountRoutes(r chi.Router, h *Handlers) {
	r.Get("/health", h.Health)

	r.Route("/api/v1", func(r chi.Router) {
		// Tasks
		r.Post("/tasks", h.CreateTask)
		r.Get("/tasks", h.ListTasks)
		r.Get("/tasks/{id}", h.GetTask)
		r.Post("/tasks/{id}/stop", h.StopTask)

		// Chains
		r.Post("/chains", h.CreateChain)

		// Downloads
		r.Post("/downloads", h.CreateDownload)
		r.Get("/downloads", h.ListDownloads)

		// Toolchain
		r.Get("/tools", h.ListTools)
		r.Post("/tools/{tool}", h.RunTool)
	})
}
