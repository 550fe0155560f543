package router

import (
	"github.com/go-chi/chi/v5"

	mw "github.com/dropDatabas3/vaultcore/internal/http/middlewares"
)

func registerSessionRoutes(r chi.Router, d Deps) {
	c := d.Controllers.Session
	if c == nil {
		return
	}
	// validate lo usan otras instancias como fallback
	r.With(mw.RequireServiceToken(d.ServiceToken)).Post("/sessions/validate", c.Validate)

	r.Group(func(r chi.Router) {
		r.Use(authenticated(d))
		r.Post("/sessions/{id}/extend", c.Extend)
		r.Delete("/sessions/{id}", c.Revoke)
		r.With(mw.RequireSameUser("userID")).Delete("/users/{userID}/sessions", c.RevokeAll)
	})
}
