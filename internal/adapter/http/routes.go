package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// MountRoutes registers the API on r. turnMW wraps POST /api/v1/turns only
// (rate limiting, idempotency). ws serves /ws when non-nil.
func MountRoutes(r chi.Router, h *Handlers, ws http.HandlerFunc, turnMW ...func(http.Handler) http.Handler) {
	r.Get("/health", h.Health)
	if ws != nil {
		r.Get("/ws", ws)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"version": h.Version})
		})

		// Turns
		r.With(turnMW...).Post("/turns", h.SubmitTurn)
		r.Get("/turns", h.ListTurns)
		r.Delete("/turns", h.ClearTurns)
		r.Post("/turns/stop", h.StopTurn)
		r.Get("/turns/stats", h.TurnStats)

		// Events
		r.Get("/events", h.ListEvents)
		r.Get("/events/stats", h.EventStats)

		// Progress
		r.Get("/progress", h.ListProgress)
		r.Get("/progress/{id}", h.GetProgress)

		// Safety
		r.Get("/safety/rules", h.ListRules)
		r.Post("/safety/rules", h.AddRule)
		r.Delete("/safety/rules/{id}", h.DeleteRule)
		r.Get("/safety/violations", h.ListViolations)
		r.Post("/safety/validate", h.ValidateOperation)

		// Memory
		r.Get("/memory/stats", h.MemoryStats)
		r.Get("/memory/tasks", h.ListTasks)
		r.Get("/memory/files", h.FileHistory)
		r.Get("/memory/recent", h.RecentModifications)
		r.Post("/memory/redundancy", h.CheckRedundancy)

		// Tools
		r.Get("/tools", h.ListTools)
		r.Post("/tools/{name}", h.ExecuteTool)
	})
}
