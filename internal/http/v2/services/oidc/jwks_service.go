// Package oidc contiene los services para endpoints OIDC/Discovery.
package oidc

import (
	"context"
	"encoding/json"
	"strings"

	jwtx "github.com/dropDatabas3/grantengine/internal/jwt"
	"github.com/dropDatabas3/grantengine/internal/observability/logger"
)

// JWKSService define las operaciones para obtener JWKS.
type JWKSService interface {
	GetJWKS(ctx context.Context) (json.RawMessage, error)
}

type jwksService struct {
	keys *jwtx.Keystore
}

// NewJWKSService crea un nuevo servicio JWKS sobre el keystore.
func NewJWKSService(keys *jwtx.Keystore) JWKSService {
	return &jwksService{keys: keys}
}

const componentJWKS = "oidc.jwks"

// GetJWKS publica las claves active y retiring.
func (s *jwksService) GetJWKS(ctx context.Context) (json.RawMessage, error) {
	data, err := s.keys.JWKSJSON(ctx)
	if err != nil {
		logger.From(ctx).Error("failed to build JWKS",
			logger.Layer("service"), logger.Component(componentJWKS), logger.Op("GetJWKS"), logger.Err(err))
		return nil, err
	}
	return data, nil
}

// Discovery es el subconjunto de OIDC/UMA discovery que el engine anuncia.
type Discovery struct {
	Issuer                               string   `json:"issuer"`
	TokenEndpoint                        string   `json:"token_endpoint"`
	RevocationEndpoint                   string   `json:"revocation_endpoint"`
	IntrospectionEndpoint                string   `json:"introspection_endpoint"`
	RegistrationEndpoint                 string   `json:"registration_endpoint"`
	DeviceAuthorizationEndpoint          string   `json:"device_authorization_endpoint"`
	BackchannelAuthenticationEndpoint    string   `json:"backchannel_authentication_endpoint"`
	PermissionEndpoint                   string   `json:"permission_endpoint"`
	JWKSURI                              string   `json:"jwks_uri"`
	GrantTypesSupported                  []string `json:"grant_types_supported"`
	TokenEndpointAuthMethodsSupported    []string `json:"token_endpoint_auth_methods_supported"`
	BackchannelTokenDeliveryModes        []string `json:"backchannel_token_delivery_modes_supported"`
	BackchannelUserCodeParameterSupport  bool     `json:"backchannel_user_code_parameter_supported"`
	IDTokenSigningAlgValuesSupported     []string `json:"id_token_signing_alg_values_supported"`
	TokenEndpointAuthSigningAlgSupported []string `json:"token_endpoint_auth_signing_alg_values_supported"`
}

// BuildDiscovery arma el documento para issuer.
func BuildDiscovery(issuer string) Discovery {
	base := strings.TrimRight(issuer, "/")
	return Discovery{
		Issuer:                            issuer,
		TokenEndpoint:                     base + "/token",
		RevocationEndpoint:                base + "/revoke",
		IntrospectionEndpoint:             base + "/introspect",
		RegistrationEndpoint:              base + "/register",
		DeviceAuthorizationEndpoint:       base + "/device_authorization",
		BackchannelAuthenticationEndpoint: base + "/bc-authorize",
		PermissionEndpoint:                base + "/uma/perm",
		JWKSURI:                           base + "/jwks.json",
		GrantTypesSupported: []string{
			"authorization_code", "refresh_token", "client_credentials",
			"urn:ietf:params:oauth:grant-type:device_code",
			"urn:openid:params:grant-type:ciba",
			"urn:ietf:params:oauth:grant-type:uma-ticket",
		},
		TokenEndpointAuthMethodsSupported: []string{
			"client_secret_basic", "client_secret_post", "client_secret_jwt",
			"private_key_jwt", "tls_client_auth", "self_signed_tls_client_auth", "none",
		},
		BackchannelTokenDeliveryModes:        []string{"poll", "ping", "push"},
		BackchannelUserCodeParameterSupport:  true,
		IDTokenSigningAlgValuesSupported:     []string{jwtx.AlgEdDSA},
		TokenEndpointAuthSigningAlgSupported: []string{"HS256", "RS256", "ES256", jwtx.AlgEdDSA},
	}
}
