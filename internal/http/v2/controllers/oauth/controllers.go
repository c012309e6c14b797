// Package oauth contains controllers for OAuth2/OIDC endpoints.
package oauth

import (
	"net/http"

	httperrors "github.com/dropDatabas3/grantengine/internal/http/v2/errors"
	"github.com/dropDatabas3/grantengine/internal/http/v2/middlewares"
	svc "github.com/dropDatabas3/grantengine/internal/http/v2/services/oauth"
)

// ControllerDeps contains additional dependencies for controllers.
type ControllerDeps struct {
	// ClientAuth autentica al cliente en /revoke, que no usa el middleware
	// porque tiene que responder 200 aunque la autenticación falle.
	ClientAuth middlewares.ClientAuthenticator
}

// Controllers agrupa todos los controllers del dominio OAuth.
type Controllers struct {
	Token       *TokenController
	Revoke      *RevokeController
	Introspect  *IntrospectController
	Backchannel *BackchannelController
	Device      *DeviceController
	UMA         *UMAController
	Authorize   *AuthorizeController
	Register    *RegisterController
}

// NewControllers creates the OAuth controllers aggregator.
func NewControllers(s svc.Services, deps ControllerDeps) *Controllers {
	return &Controllers{
		Token:       NewTokenController(s.Token),
		Revoke:      NewRevokeController(s.Revoke, deps.ClientAuth),
		Introspect:  NewIntrospectController(s.Introspect),
		Backchannel: NewBackchannelController(s.Backchannel),
		Device:      NewDeviceController(s.Device),
		UMA:         NewUMAController(s.UMA),
		Authorize:   NewAuthorizeController(s.Authorize),
		Register:    NewRegisterController(s.Register),
	}
}

// requirePost escribe 405 si el método no es POST.
func requirePost(w http.ResponseWriter, r *http.Request) bool {
	if r.Method == http.MethodPost {
		return true
	}
	w.Header().Set("Allow", http.MethodPost)
	httperrors.WriteError(w, httperrors.ErrMethodNotAllowed)
	return false
}
