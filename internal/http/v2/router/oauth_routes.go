package router

import (
	"github.com/go-chi/chi/v5"

	"github.com/dropDatabas3/grantengine/internal/http/v2/helpers"
	mw "github.com/dropDatabas3/grantengine/internal/http/v2/middlewares"
	"github.com/dropDatabas3/grantengine/internal/rate"
)

// registerOAuthRoutes registra los endpoints públicos del protocolo.
func registerOAuthRoutes(r chi.Router, d Deps) {
	c := d.OAuth
	if c == nil {
		return
	}

	// cliente autenticado por form/basic/assertion/mTLS
	r.Group(func(r chi.Router) {
		r.Use(mw.WithNoStore(), mw.RequireClient(d.ClientAuth, helpers.MaxFormBody))
		r.Post("/token", c.Token.Token)
		r.Post("/introspect", c.Introspect.Introspect)
		r.Post("/bc-authorize", c.Backchannel.Authorize)
		r.Post("/device_authorization", c.Device.Authorize)
	})

	// /revoke autentica por su cuenta: siempre 200
	r.With(mw.WithNoStore()).Post("/revoke", c.Revoke.Revoke)

	r.With(mw.WithRateLimit(d.Limiter, rate.ActionRegister, mw.IPRateKey)).Post("/register", c.Register.Register)
	r.Post("/uma/perm", c.UMA.Permission)

	if d.JWKS != nil {
		r.Get("/jwks.json", d.JWKS.Get)
		r.Head("/jwks.json", d.JWKS.Get)
	}
	if d.Discovery != nil {
		r.Get("/.well-known/openid-configuration", d.Discovery.Get)
		r.Get("/.well-known/uma2-configuration", d.Discovery.Get)
	}
}
