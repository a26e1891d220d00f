/*
server.go - HTTP router and middleware configuration

PURPOSE:

	Configures the HTTP router (chi), middleware stack, and route definitions.
	This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
 1. RequestID:  Unique ID per request for tracing
 2. Logger:     Request logging
 3. Recoverer:  Panic recovery (500 instead of crash)
 4. CORS:       Cross-origin requests for the storefront frontend

ROUTE GROUPS:

	/api/customers/*  Balance, debts, history, audit, allocations
	/api/advances/*   Advance registration and guarded edit/delete
	/api/sales        Sale registration

SECURITY NOTE:

	No authentication middleware; session bootstrap is handled outside this
	subsystem.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Route("/customers/{id}", func(r chi.Router) {
			r.Get("/balance", h.GetBalance)
			r.Get("/debts", h.ListDebts)
			r.Get("/history", h.GetHistory)
			r.Get("/audit", h.ListAudit)
			r.Post("/allocations", h.ApplyAllocation)
		})

		r.Route("/advances", func(r chi.Router) {
			r.Post("/", h.CreateAdvance)
			r.Get("/{id}/usage", h.GetAdvanceUsage)
			r.Patch("/{id}", h.UpdateAdvance)
			r.Delete("/{id}", h.DeleteAdvance)
		})

		r.Post("/sales", h.CreateSale)
	})

	return r
}
