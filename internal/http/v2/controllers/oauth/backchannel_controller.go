package oauth

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/dropDatabas3/grantengine/internal/ciba"
	dto "github.com/dropDatabas3/grantengine/internal/http/v2/dto/oauth"
	httperrors "github.com/dropDatabas3/grantengine/internal/http/v2/errors"
	"github.com/dropDatabas3/grantengine/internal/http/v2/helpers"
	"github.com/dropDatabas3/grantengine/internal/http/v2/middlewares"
	svc "github.com/dropDatabas3/grantengine/internal/http/v2/services/oauth"
	"github.com/dropDatabas3/grantengine/internal/observability/logger"
)

// BackchannelController handles the CIBA endpoints.
type BackchannelController struct {
	service svc.BackchannelService
}

// NewBackchannelController creates the controller.
func NewBackchannelController(s svc.BackchannelService) *BackchannelController {
	return &BackchannelController{service: s}
}

// Authorize handles POST /bc-authorize (cliente autenticado).
func (c *BackchannelController) Authorize(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.From(ctx).With(logger.Layer("controller"), logger.Op("BackchannelController.Authorize"))

	if !requirePost(w, r) {
		return
	}
	cl := middlewares.GetClient(ctx)
	if cl == nil {
		httperrors.WriteError(w, httperrors.ErrInvalidClient)
		return
	}

	req := dto.BackchannelRequest{
		Scope:                   helpers.FormValue(r, "scope"),
		LoginHint:               helpers.FormValue(r, "login_hint"),
		BindingMessage:          helpers.FormValue(r, "binding_message"),
		ACRValues:               helpers.FormValue(r, "acr_values"),
		UserCode:                helpers.FormValue(r, "user_code"),
		ClientNotificationToken: helpers.FormValue(r, "client_notification_token"),
	}
	if v := helpers.FormValue(r, "requested_expiry"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n <= 0 {
			httperrors.WriteError(w, httperrors.ErrInvalidRequest.WithDetail("requested_expiry must be a positive integer"))
			return
		}
		req.RequestedExpiry = n
	}

	resp, err := c.service.Authorize(ctx, cl, req)
	if err != nil {
		httperrors.WriteError(w, err)
		return
	}
	log.Info("backchannel authentication started", logger.AuthReqID(resp.AuthReqID))
	w.Header().Set("Cache-Control", "no-store")
	helpers.WriteJSON(w, http.StatusOK, resp)
}

// Resolve handles POST /ciba/resolve: el canal de autenticación informa la
// decisión del usuario. Protegido con el admin token.
func (c *BackchannelController) Resolve(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if !requirePost(w, r) {
		return
	}
	var req dto.BackchannelResolveRequest
	if !helpers.ReadJSON(w, r, &req) {
		return
	}
	if req.AuthReqID == "" {
		httperrors.WriteError(w, httperrors.ErrInvalidRequest.WithDetail("auth_req_id is required"))
		return
	}
	if err := c.service.Resolve(ctx, req); err != nil {
		if errors.Is(err, ciba.ErrNotifyFailed) {
			logger.From(ctx).Warn("backchannel granted but notification failed",
				logger.Layer("controller"), logger.AuthReqID(req.AuthReqID), logger.Err(err))
			httperrors.WriteError(w, httperrors.ErrNotificationFailed)
			return
		}
		httperrors.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
