package middlewares

import (
	"context"
	"net/http"

	"github.com/dropDatabas3/grantengine/internal/client"
	"github.com/dropDatabas3/grantengine/internal/domain/repository"
	"github.com/dropDatabas3/grantengine/internal/http/v2/errors"
	"github.com/dropDatabas3/grantengine/internal/http/v2/helpers"
	"github.com/dropDatabas3/grantengine/internal/observability/logger"
)

// ClientAuthenticator es lo que RequireClient necesita de client.Authenticator.
type ClientAuthenticator interface {
	Authenticate(ctx context.Context, cr client.Credentials) (*repository.Client, error)
}

// RequireClient parsea el form (hasta limit bytes) y autentica al cliente con
// cualquiera de los métodos soportados. El cliente queda en el contexto.
func RequireClient(auth ClientAuthenticator, limit int64) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost {
				w.Header().Set("Allow", http.MethodPost)
				errors.WriteError(w, errors.ErrMethodNotAllowed)
				return
			}
			if !helpers.ParseForm(w, r, limit) {
				return
			}
			c, err := auth.Authenticate(r.Context(), client.FromRequest(r))
			if err != nil {
				logger.From(r.Context()).Info("client authentication failed",
					logger.Layer("middleware"), logger.Err(err))
				errors.WriteError(w, err)
				return
			}
			log := logger.From(r.Context()).With(logger.ClientID(c.ID))
			ctx := logger.ToContext(WithClient(r.Context(), c), log)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
