package oauth

import (
	"net/http"

	dto "github.com/dropDatabas3/grantengine/internal/http/v2/dto/oauth"
	httperrors "github.com/dropDatabas3/grantengine/internal/http/v2/errors"
	"github.com/dropDatabas3/grantengine/internal/http/v2/helpers"
	svc "github.com/dropDatabas3/grantengine/internal/http/v2/services/oauth"
	"github.com/dropDatabas3/grantengine/internal/observability/logger"
)

// UMAController handles POST /uma/perm.
type UMAController struct {
	service svc.UMAService
}

// NewUMAController creates the controller.
func NewUMAController(s svc.UMAService) *UMAController {
	return &UMAController{service: s}
}

// Permission registra un permission ticket. El resource server se autentica
// con su PAT como bearer.
func (c *UMAController) Permission(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.From(ctx).With(logger.Layer("controller"), logger.Op("UMAController.Permission"))

	if !requirePost(w, r) {
		return
	}
	pat := helpers.BearerToken(r)
	if pat == "" {
		w.Header().Set("WWW-Authenticate", `Bearer realm="uma"`)
		httperrors.WriteError(w, httperrors.ErrInvalidToken.WithDetail("protection API token required"))
		return
	}
	var req dto.PermissionRequest
	if !helpers.ReadJSON(w, r, &req) {
		return
	}
	if req.ResourceID == "" {
		httperrors.WriteError(w, httperrors.ErrInvalidRequest.WithDetail("resource_id is required"))
		return
	}

	resp, err := c.service.RegisterPermission(ctx, pat, req)
	if err != nil {
		httperrors.WriteError(w, err)
		return
	}
	log.Debug("permission ticket registered", logger.String("resource_id", req.ResourceID))
	helpers.WriteJSON(w, http.StatusCreated, resp)
}
