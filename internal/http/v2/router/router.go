// Package router contains the V2 route aggregator.
package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	healthctrl "github.com/dropDatabas3/grantengine/internal/http/v2/controllers/health"
	oauthctrl "github.com/dropDatabas3/grantengine/internal/http/v2/controllers/oauth"
	oidcctrl "github.com/dropDatabas3/grantengine/internal/http/v2/controllers/oidc"
	httperrors "github.com/dropDatabas3/grantengine/internal/http/v2/errors"
	mw "github.com/dropDatabas3/grantengine/internal/http/v2/middlewares"
	"github.com/dropDatabas3/grantengine/internal/rate"
)

// Deps contains all dependencies for the router.
type Deps struct {
	OAuth     *oauthctrl.Controllers
	Health    *healthctrl.HealthController
	JWKS      *oidcctrl.JWKSController
	Discovery *oidcctrl.DiscoveryController

	ClientAuth mw.ClientAuthenticator
	Limiter    *rate.Governor
	// AdminToken protege /ciba/resolve, /authorize/code, /session/revoke y /device/verify.
	AdminToken string
	// Gatherer para /metrics (default: prometheus.DefaultGatherer).
	Gatherer prometheus.Gatherer
}

// New arma el handler completo.
func New(d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(
		mw.WithRecover(),
		mw.WithRequestID(),
		mw.WithSecurityHeaders(),
		mw.WithMetrics(),
	)

	registerHealthRoutes(r, d)

	r.Group(func(r chi.Router) {
		r.Use(mw.WithLogging())
		registerOAuthRoutes(r, d)
		registerAdminRoutes(r, d)
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		httperrors.WriteError(w, httperrors.ErrNotFound)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		httperrors.WriteError(w, httperrors.ErrMethodNotAllowed)
	})
	return r
}

func metricsHandler(g prometheus.Gatherer) http.Handler {
	if g == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
