package oauth

import (
	"net/http"

	dto "github.com/dropDatabas3/grantengine/internal/http/v2/dto/oauth"
	httperrors "github.com/dropDatabas3/grantengine/internal/http/v2/errors"
	"github.com/dropDatabas3/grantengine/internal/http/v2/helpers"
	"github.com/dropDatabas3/grantengine/internal/http/v2/middlewares"
	svc "github.com/dropDatabas3/grantengine/internal/http/v2/services/oauth"
)

// DeviceController handles the device authorization grant (RFC 8628).
type DeviceController struct {
	service svc.DeviceService
}

// NewDeviceController creates the controller.
func NewDeviceController(s svc.DeviceService) *DeviceController {
	return &DeviceController{service: s}
}

// Authorize handles POST /device_authorization.
func (c *DeviceController) Authorize(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	cl := middlewares.GetClient(r.Context())
	if cl == nil {
		httperrors.WriteError(w, httperrors.ErrInvalidClient)
		return
	}
	resp, err := c.service.Start(r.Context(), cl, helpers.FormValue(r, "scope"))
	if err != nil {
		httperrors.WriteError(w, err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	helpers.WriteJSON(w, http.StatusOK, resp)
}

// Verify handles POST /device/verify.
func (c *DeviceController) Verify(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	var req dto.DeviceVerifyRequest
	if !helpers.ReadJSON(w, r, &req) {
		return
	}
	if req.UserCode == "" {
		httperrors.WriteError(w, httperrors.ErrInvalidRequest.WithDetail("user_code is required"))
		return
	}
	if err := c.service.Verify(r.Context(), req); err != nil {
		httperrors.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
