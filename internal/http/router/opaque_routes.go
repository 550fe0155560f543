package router

import "github.com/go-chi/chi/v5"

// /v1/opaque: registro y login OPAQUE. Públicas, con rate limit e idempotencia.
func registerOpaqueRoutes(r chi.Router, d Deps) {
	c := d.Controllers.Opaque
	if c == nil {
		return
	}
	r.Route("/opaque", func(r chi.Router) {
		r.Use(publicChain(d)...)
		r.Post("/register/start", c.RegisterStart)
		r.Post("/register/finish", c.RegisterFinish)
		r.Post("/login/start", c.LoginStart)
		r.Post("/login/finish", c.LoginFinish)
	})
}
