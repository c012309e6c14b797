package oauth

import (
	"net/http"

	dto "github.com/dropDatabas3/grantengine/internal/http/v2/dto/oauth"
	httperrors "github.com/dropDatabas3/grantengine/internal/http/v2/errors"
	"github.com/dropDatabas3/grantengine/internal/http/v2/helpers"
	"github.com/dropDatabas3/grantengine/internal/http/v2/middlewares"
	svc "github.com/dropDatabas3/grantengine/internal/http/v2/services/oauth"
	"github.com/dropDatabas3/grantengine/internal/observability/logger"
)

// TokenController handles POST /token.
type TokenController struct {
	service svc.TokenService
}

// NewTokenController creates the controller.
func NewTokenController(s svc.TokenService) *TokenController {
	return &TokenController{service: s}
}

// Token espera el form ya parseado y el cliente autenticado (RequireClient).
func (c *TokenController) Token(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.From(ctx).With(logger.Layer("controller"), logger.Op("TokenController.Token"))

	if !requirePost(w, r) {
		return
	}
	cl := middlewares.GetClient(ctx)
	if cl == nil {
		httperrors.WriteError(w, httperrors.ErrInvalidClient)
		return
	}

	req := dto.TokenRequest{
		GrantType:    helpers.FormValue(r, "grant_type"),
		Scope:        helpers.FormValue(r, "scope"),
		Code:         helpers.FormValue(r, "code"),
		RedirectURI:  helpers.FormValue(r, "redirect_uri"),
		CodeVerifier: helpers.FormValue(r, "code_verifier"),
		RefreshToken: helpers.FormValue(r, "refresh_token"),
		DeviceCode:   helpers.FormValue(r, "device_code"),
		AuthReqID:    helpers.FormValue(r, "auth_req_id"),
		Ticket:       helpers.FormValue(r, "ticket"),
	}
	if req.GrantType == "" {
		httperrors.WriteError(w, httperrors.ErrInvalidRequest.WithDetail("grant_type is required"))
		return
	}

	set, err := c.service.Exchange(ctx, cl, req)
	if err != nil {
		httperrors.WriteError(w, err)
		return
	}

	log.Debug("token issued", logger.GrantType(req.GrantType))
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
	helpers.WriteJSON(w, http.StatusOK, dto.TokenResponse{
		AccessToken:  set.AccessToken,
		TokenType:    set.TokenType,
		ExpiresIn:    set.ExpiresIn,
		RefreshToken: set.RefreshToken,
		IDToken:      set.IDToken,
		Scope:        set.Scope,
		Upgraded:     set.Upgraded,
	})
}
