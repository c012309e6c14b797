// Package oauth - AuthorizeController handles POST /authorize/code
package oauth

import (
	"net/http"

	dto "github.com/dropDatabas3/grantengine/internal/http/v2/dto/oauth"
	httperrors "github.com/dropDatabas3/grantengine/internal/http/v2/errors"
	"github.com/dropDatabas3/grantengine/internal/http/v2/helpers"
	svc "github.com/dropDatabas3/grantengine/internal/http/v2/services/oauth"
	"github.com/dropDatabas3/grantengine/internal/observability/logger"
)

// AuthorizeController emite authorization codes para un usuario que ya se
// autenticó en otro lado (la UI de login no vive en el engine).
type AuthorizeController struct {
	service svc.AuthorizeService
}

// NewAuthorizeController creates the controller.
func NewAuthorizeController(s svc.AuthorizeService) *AuthorizeController {
	return &AuthorizeController{service: s}
}

// IssueCode handles POST /authorize/code (admin).
func (c *AuthorizeController) IssueCode(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.From(ctx).With(logger.Layer("controller"), logger.Op("AuthorizeController.IssueCode"))

	if !requirePost(w, r) {
		return
	}
	var req dto.CodeRequest
	if !helpers.ReadJSON(w, r, &req) {
		return
	}

	log.Debug("code request",
		logger.ClientID(req.ClientID),
		logger.String("scope", req.Scope))

	resp, err := c.service.IssueCode(ctx, req)
	if err != nil {
		httperrors.WriteError(w, err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	helpers.WriteJSON(w, http.StatusOK, resp)
}
