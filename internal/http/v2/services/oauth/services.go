// Package oauth contains services for OAuth2/OIDC endpoints.
package oauth

import (
	"github.com/dropDatabas3/grantengine/internal/ciba"
	"github.com/dropDatabas3/grantengine/internal/client"
	"github.com/dropDatabas3/grantengine/internal/clock"
	"github.com/dropDatabas3/grantengine/internal/grant"
	"github.com/dropDatabas3/grantengine/internal/rate"
	"github.com/dropDatabas3/grantengine/internal/revocation"
)

// Deps contiene las dependencias del dominio oauth.
type Deps struct {
	Grants  *grant.Registry
	Cascade *revocation.Cascade
	CIBA    *ciba.Coordinator
	Clients *client.Registry
	Limiter *rate.Governor
	Clock   clock.Clock

	// Issuer es el "iss" reportado por introspección.
	Issuer string
	// RotateRefresh desactiva el refresh token anterior tras un refresh exitoso.
	RotateRefresh bool
	// VerificationURI para device authorization (opcional).
	VerificationURI string
}

// Services agrupa los services del dominio oauth.
type Services struct {
	Token       TokenService
	Revoke      RevokeService
	Introspect  IntrospectService
	Backchannel BackchannelService
	Device      DeviceService
	UMA         UMAService
	Authorize   AuthorizeService
	Register    RegisterService
}

// NewServices crea el aggregator del dominio oauth.
func NewServices(d Deps) Services {
	return Services{
		Token:       NewTokenService(d),
		Revoke:      NewRevokeService(d.Grants, d.Cascade),
		Introspect:  NewIntrospectService(d.Grants, d.Issuer),
		Backchannel: NewBackchannelService(d.CIBA),
		Device:      NewDeviceService(d.Grants, d.Limiter, d.VerificationURI),
		UMA:         NewUMAService(d.Grants, d.Clock),
		Authorize:   NewAuthorizeService(d.Grants, d.Clock),
		Register:    NewRegisterService(d.Clients),
	}
}
