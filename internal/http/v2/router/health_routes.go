package router

import (
	"github.com/go-chi/chi/v5"
)

// registerHealthRoutes registra /readyz, /healthz y /metrics.
// Sin logging por request: son muy frecuentes.
func registerHealthRoutes(r chi.Router, d Deps) {
	if d.Health != nil {
		r.Get("/readyz", d.Health.Readyz)
		r.Get("/healthz", d.Health.Healthz)
	}
	r.Handle("/metrics", metricsHandler(d.Gatherer))
}
