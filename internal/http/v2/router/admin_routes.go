package router

import (
	"github.com/go-chi/chi/v5"

	mw "github.com/dropDatabas3/grantengine/internal/http/v2/middlewares"
)

// registerAdminRoutes registra los endpoints internos que llaman el canal de
// autenticación y el frontend de login. Todos piden el admin token.
func registerAdminRoutes(r chi.Router, d Deps) {
	c := d.OAuth
	if c == nil {
		return
	}
	r.Group(func(r chi.Router) {
		r.Use(mw.RequireAdminToken(d.AdminToken))
		r.Post("/ciba/resolve", c.Backchannel.Resolve)
		r.Post("/authorize/code", c.Authorize.IssueCode)
		r.Post("/device/verify", c.Device.Verify)
		r.With(mw.WithNoStore()).Post("/session/revoke", c.Revoke.RevokeGrant)
	})
}
