package router

import (
	"github.com/go-chi/chi/v5"

	mw "github.com/dropDatabas3/vaultcore/internal/http/middlewares"
)

func registerRecoveryRoutes(r chi.Router, d Deps) {
	c := d.Controllers.Recovery
	if c == nil {
		return
	}
	r.Route("/recovery", func(r chi.Router) {
		// uso: públicas, el throttling por cuenta vive en el servicio
		r.Group(func(r chi.Router) {
			r.Use(publicChain(d)...)
			r.Post("/mnemonic", c.Mnemonic)
			r.Post("/shares", c.Shares)
			r.Post("/emergency", c.Emergency)
		})

		r.Group(func(r chi.Router) {
			r.Use(authenticated(d))
			r.Get("/status", c.Status)
			r.Post("/rollback/check", c.CheckRollback)

			r.Group(func(r chi.Router) {
				r.Use(mw.RequireFullAccess())
				r.Post("/setup", c.Setup)
				r.Put("/level", c.SetLevel)
				r.Post("/emergency/issue", c.IssueEmergency)
				r.Get("/backups", c.ListBackups)
				r.Post("/backups", c.CreateBackup)
				r.Delete("/backups/{backupID}", c.RemoveBackup)
			})
		})
	})
}
