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

// IntrospectController handles POST /introspect (RFC 7662).
type IntrospectController struct {
	service svc.IntrospectService
}

// NewIntrospectController creates the controller.
func NewIntrospectController(s svc.IntrospectService) *IntrospectController {
	return &IntrospectController{service: s}
}

// Introspect es de solo lectura: nunca cambia el estado del token.
func (c *IntrospectController) Introspect(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.From(ctx).With(logger.Layer("controller"), logger.Op("IntrospectController.Introspect"))

	if !requirePost(w, r) {
		return
	}
	cl := middlewares.GetClient(ctx)
	if cl == nil {
		httperrors.WriteError(w, httperrors.ErrInvalidClient)
		return
	}

	req := dto.IntrospectRequest{
		Token:         helpers.FormValue(r, "token"),
		TokenTypeHint: helpers.FormValue(r, "token_type_hint"),
	}
	if req.Token == "" {
		httperrors.WriteError(w, httperrors.ErrInvalidRequest.WithDetail("token is required"))
		return
	}

	resp, err := c.service.Introspect(ctx, cl, req)
	if err != nil {
		log.Error("introspection failed", logger.Err(err))
		httperrors.WriteError(w, err)
		return
	}
	helpers.WriteJSON(w, http.StatusOK, resp)
}
