package middlewares

import (
	"crypto/subtle"
	"net/http"

	"github.com/dropDatabas3/grantengine/internal/http/v2/errors"
	"github.com/dropDatabas3/grantengine/internal/http/v2/helpers"
	"github.com/dropDatabas3/grantengine/internal/observability/logger"
)

// RequireAdminToken protege los endpoints internos (/ciba/resolve,
// /authorize/code, /session/revoke) con un bearer estático. Sin token
// configurado los endpoints quedan cerrados.
func RequireAdminToken(token string) Middleware {
	want := []byte(token)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := helpers.BearerToken(r)
			if len(want) == 0 || got == "" || subtle.ConstantTimeCompare([]byte(got), want) != 1 {
				logger.From(r.Context()).Warn("admin token rejected",
					logger.Layer("middleware"), logger.ClientIP(clientIP(r)))
				w.Header().Set("WWW-Authenticate", `Bearer realm="admin"`)
				errors.WriteError(w, errors.ErrUnauthorized.WithDetail("admin token required"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
