package router

import (
	"github.com/go-chi/chi/v5"

	mw "github.com/dropDatabas3/vaultcore/internal/http/middlewares"
)

// /v1/passkeys: alta con sesión completa, login público.
func registerPasskeyRoutes(r chi.Router, d Deps) {
	c := d.Controllers.Passkey
	if c == nil {
		return
	}
	r.Route("/passkeys", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(authenticated(d), mw.RequireFullAccess())
			r.Post("/register/start", c.RegisterStart)
			r.Post("/register/finish", c.RegisterFinish)
		})
		r.Group(func(r chi.Router) {
			r.Use(publicChain(d)...)
			r.Post("/login/start", c.LoginStart)
			r.Post("/login/finish", c.LoginFinish)
		})
	})
}
