package oauth

import (
	"encoding/json"
	"net/http"

	"github.com/dropDatabas3/grantengine/internal/client"
	dto "github.com/dropDatabas3/grantengine/internal/http/v2/dto/oauth"
	httperrors "github.com/dropDatabas3/grantengine/internal/http/v2/errors"
	"github.com/dropDatabas3/grantengine/internal/http/v2/helpers"
	"github.com/dropDatabas3/grantengine/internal/http/v2/middlewares"
	svc "github.com/dropDatabas3/grantengine/internal/http/v2/services/oauth"
	"github.com/dropDatabas3/grantengine/internal/observability/logger"
)

// MaxRevokeBody limita el body de /revoke (32KB).
const MaxRevokeBody = 32 << 10

// RevokeController handles POST /revoke and POST /session/revoke.
type RevokeController struct {
	service svc.RevokeService
	auth    middlewares.ClientAuthenticator
}

// NewRevokeController creates the controller.
func NewRevokeController(s svc.RevokeService, auth middlewares.ClientAuthenticator) *RevokeController {
	return &RevokeController{service: s, auth: auth}
}

// Revoke implementa RFC 7009. Salvo un método incorrecto, la respuesta es
// siempre 200 vacío: ni el resultado de la autenticación ni la existencia del
// token se revelan. Los fallos quedan en el log.
func (c *RevokeController) Revoke(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.From(ctx).With(logger.Layer("controller"), logger.Op("RevokeController.Revoke"))

	if !requirePost(w, r) {
		return
	}
	defer writeRevoked(w)

	r.Body = http.MaxBytesReader(w, r.Body, MaxRevokeBody)
	if err := r.ParseForm(); err != nil {
		log.Info("revoke body rejected", logger.Err(err))
		return
	}
	req := dto.RevokeRequest{
		Token:         helpers.FormValue(r, "token"),
		TokenTypeHint: helpers.FormValue(r, "token_type_hint"),
	}
	if req.Token == "" {
		log.Debug("revoke without token")
		return
	}
	if c.auth == nil {
		log.Error("revoke called without client authenticator")
		return
	}
	cl, err := c.auth.Authenticate(ctx, client.FromRequest(r))
	if err != nil {
		log.Info("revoke client authentication failed", logger.Err(err))
		return
	}
	if err := c.service.Revoke(ctx, cl, req.Token, req.TokenTypeHint); err != nil {
		log.Error("revoke failed", logger.ClientID(cl.ID), logger.Err(err))
	}
}

func writeRevoked(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
	w.WriteHeader(http.StatusOK)
}

// RevokeGrant handles POST /session/revoke (admin): revoca el grant completo.
func (c *RevokeController) RevokeGrant(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.From(ctx).With(logger.Layer("controller"), logger.Op("RevokeController.RevokeGrant"))

	if !requirePost(w, r) {
		return
	}
	var req dto.SessionRevokeRequest
	if !helpers.ReadJSON(w, r, &req) {
		return
	}
	if err := c.service.RevokeGrant(ctx, req.GrantID); err != nil {
		httperrors.WriteError(w, err)
		return
	}
	log.Info("grant revoked", logger.GrantID(req.GrantID))
	helpers.WriteJSON(w, http.StatusOK, json.RawMessage(`{"revoked":true}`))
}
