/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for the admin frontend

ROUTE GROUPS:
  /api/payslips/*       Single and batch calculation
  /api/employees/*      Effective rubriques
  /api/formulas/*       Formula dry-run
  /api/parameters/*     Versioned payroll parameters
  /api/tax-brackets     Versioned IRG scale
  /api/tax              Tax on an amount
  /api/catalog          Catalog upload
  /api/scenarios/*      Demo data (dev only)
  /healthz              Liveness
  /metrics              Prometheus, when a metrics handler is given

SECURITY NOTE:
  No authentication middleware. All endpoints are public.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/paie/main.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new router with all routes configured. metrics may
// be nil.
func NewRouter(h *Handler, metrics http.Handler) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if metrics != nil {
		r.Handle("/metrics", metrics)
	}

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Route("/payslips", func(r chi.Router) {
			r.Post("/calculate", h.CalculatePayslip)
			r.Post("/batch", h.CalculateBatch)
		})

		r.Get("/employees/{id}/rubriques", h.GetEmployeeRubriques)
		r.Post("/formulas/validate", h.ValidateFormula)

		r.Route("/parameters", func(r chi.Router) {
			r.Get("/", h.ListParameters)
			r.Post("/", h.UpsertParameter)
			r.Get("/{code}", h.GetParameter)
		})

		r.Route("/tax-brackets", func(r chi.Router) {
			r.Get("/", h.ListTaxBrackets)
			r.Post("/", h.ReplaceTaxBrackets)
		})
		r.Get("/tax", h.CalculateTax)

		r.Post("/catalog", h.ApplyCatalog)

		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Post("/load", h.LoadScenario)
		})
	})

	return r
}
