/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for the timesheet frontend

ROUTE GROUPS:
  /api/staff/*          Staff and their payment history
  /api/projects/*       Projects and reporting periods
  /api/entries          Monthly timesheets
  /api/rates            ECB EUR/SEK reference rates
  /api/payments         Recorded payments
  /api/calculate/*      Payment calculation
  /api/eligible-days    Eligible working days per month
  /api/seed             Demo dataset (dev only)

SECURITY NOTE:
  No authentication middleware currently. All endpoints are public.

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

// DefaultAllowedOrigins are the dev-server origins accepted when none are configured.
var DefaultAllowedOrigins = []string{"http://localhost:3000", "http://localhost:5173"}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, allowedOrigins []string) *chi.Mux {
	if len(allowedOrigins) == 0 {
		allowedOrigins = DefaultAllowedOrigins
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Route("/staff", func(r chi.Router) {
			r.Get("/", h.ListStaff)
			r.Post("/", h.CreateStaff)
			r.Get("/{id}", h.GetStaff)
			r.Put("/{id}", h.UpdateStaff)
			r.Delete("/{id}", h.DeleteStaff)
			r.Get("/{id}/payments", h.StaffPayments)
		})

		r.Route("/projects", func(r chi.Router) {
			r.Get("/", h.ListProjects)
			r.Post("/", h.CreateProject)
			r.Get("/{id}", h.GetProject)
			r.Put("/{id}", h.UpdateProject)
			r.Delete("/{id}", h.DeleteProject)
		})

		r.Get("/entries", h.ListEntries)
		r.Post("/entries", h.SaveEntry)

		r.Get("/rates", h.ListRates)
		r.Post("/rates", h.UpsertRates)

		r.Get("/payments", h.ListPayments)

		r.Route("/calculate", func(r chi.Router) {
			r.Post("/", h.Calculate)
			r.Post("/preview", h.PreviewCalculation)
		})

		r.Get("/eligible-days", h.EligibleDays)
		r.Post("/seed", h.Seed)
	})

	return r
}
