package router

import (
	"github.com/go-chi/chi/v5"

	mw "github.com/dropDatabas3/vaultcore/internal/http/middlewares"
)

func registerAuditRoutes(r chi.Router, d Deps) {
	c := d.Controllers.Audit
	if c == nil {
		return
	}
	r.With(authenticated(d), mw.RequireSameUser("userID")).Get("/audit/{userID}/verify", c.Verify)
}
