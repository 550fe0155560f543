package router

import (
	"github.com/go-chi/chi/v5"

	healthctrl "github.com/dropDatabas3/vaultcore/internal/http/controllers/health"
)

func registerHealthRoutes(r chi.Router, d Deps) {
	if c := d.Controllers.Health; c != nil {
		r.Get("/healthz", c.Healthz)
	}
	if d.JWKS != nil {
		r.Get("/.well-known/jwks.json", healthctrl.JWKS(d.JWKS))
	}
	r.Method("GET", "/metrics", metricsHandler(d.Gatherer))
}
