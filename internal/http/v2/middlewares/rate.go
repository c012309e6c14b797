package middlewares

import (
	"net"
	"net/http"
	"strings"

	"github.com/dropDatabas3/grantengine/internal/http/v2/errors"
	"github.com/dropDatabas3/grantengine/internal/rate"
)

// clientIP extrae la IP del cliente, considerando proxies.
func clientIP(r *http.Request) string {
	if xf := r.Header.Get("X-Forwarded-For"); xf != "" {
		parts := strings.Split(xf, ",")
		return strings.TrimSpace(parts[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil {
		return host
	}
	return r.RemoteAddr
}

// RateKeyFunc define cómo generar la clave de rate limiting.
type RateKeyFunc func(r *http.Request) string

// IPRateKey usa solo la IP. Sirve para endpoints sin cliente autenticado
// (ej: /register).
func IPRateKey(r *http.Request) string {
	return "ip|" + clientIP(r)
}

// WithRateLimit aplica la regla de action del governor. Si el backend falla
// el request pasa.
func WithRateLimit(gov *rate.Governor, action string, key RateKeyFunc) Middleware {
	if gov == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	if key == nil {
		key = IPRateKey
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := gov.Enforce(r.Context(), key(r), action); err != nil {
				errors.WriteError(w, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
