package router

import (
	"github.com/go-chi/chi/v5"

	mw "github.com/dropDatabas3/vaultcore/internal/http/middlewares"
)

// /v1/devices: gestión con sesión completa. /sync usa el trust token del
// propio dispositivo.
func registerDeviceRoutes(r chi.Router, d Deps) {
	c := d.Controllers.Device
	if c == nil {
		return
	}
	r.Route("/devices", func(r chi.Router) {
		r.Post("/{id}/sync", c.Sync)

		r.Group(func(r chi.Router) {
			r.Use(authenticated(d), mw.RequireFullAccess())
			r.Use(mw.WithIdempotency(d.Idempotency, d.IdempotencyTTL))
			r.Get("/", c.List)
			r.Post("/pair", c.Pair)
			r.Post("/{id}/finalize", c.Finalize)
			r.Post("/{id}/reenroll", c.Reenroll)
			r.Delete("/{id}", c.Revoke)
		})
	})
}
