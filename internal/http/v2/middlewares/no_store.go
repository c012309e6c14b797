package middlewares

import "net/http"

// WithNoStore marca la respuesta como no cacheable (RFC 6749 §5.1).
// Va en todo endpoint que devuelva tokens o metadata de tokens.
func WithNoStore() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Cache-Control", "no-store")
			w.Header().Set("Pragma", "no-cache")
			next.ServeHTTP(w, r)
		})
	}
}
