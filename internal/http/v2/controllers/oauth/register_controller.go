package oauth

import (
	"net/http"

	dto "github.com/dropDatabas3/grantengine/internal/http/v2/dto/oauth"
	httperrors "github.com/dropDatabas3/grantengine/internal/http/v2/errors"
	"github.com/dropDatabas3/grantengine/internal/http/v2/helpers"
	svc "github.com/dropDatabas3/grantengine/internal/http/v2/services/oauth"
	"github.com/dropDatabas3/grantengine/internal/observability/logger"
)

// RegisterController handles POST /register (RFC 7591).
type RegisterController struct {
	service svc.RegisterService
}

// NewRegisterController creates the controller.
func NewRegisterController(s svc.RegisterService) *RegisterController {
	return &RegisterController{service: s}
}

// Register crea el cliente. El rate limit por IP lo aplica el router.
func (c *RegisterController) Register(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.From(ctx).With(logger.Layer("controller"), logger.Op("RegisterController.Register"))

	if !requirePost(w, r) {
		return
	}
	var req dto.RegisterRequest
	if !helpers.ReadJSON(w, r, &req) {
		return
	}
	resp, err := c.service.Register(ctx, req)
	if err != nil {
		httperrors.WriteError(w, err)
		return
	}
	log.Info("client registered", logger.ClientID(resp.ClientID))
	w.Header().Set("Cache-Control", "no-store")
	helpers.WriteJSON(w, http.StatusCreated, resp)
}
