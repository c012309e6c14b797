package repository

import (
	"encoding/json"
	"slices"
	"time"
)

const (
	ClientTypePublic       = "public"
	ClientTypeConfidential = "confidential"
)

// AuthMethod es el token_endpoint_auth_method del cliente.
type AuthMethod string

const (
	AuthSecretBasic   AuthMethod = "client_secret_basic"
	AuthSecretPost    AuthMethod = "client_secret_post"
	AuthSecretJWT     AuthMethod = "client_secret_jwt"
	AuthPrivateKeyJWT AuthMethod = "private_key_jwt"
	AuthTLSClient     AuthMethod = "tls_client_auth"
	AuthSelfSignedTLS AuthMethod = "self_signed_tls_client_auth"
	AuthNone          AuthMethod = "none"
)

// Client es un cliente OAuth registrado.
type Client struct {
	ID   string `json:"client_id" yaml:"client_id"`
	Name string `json:"client_name,omitempty" yaml:"client_name"`
	Type string `json:"client_type" yaml:"client_type"`

	// SecretHash es un PHC argon2id del secret (basic/post).
	SecretHash string `json:"secret_hash,omitempty" yaml:"-"`
	// SecretEnc es el secret cifrado con secretbox; necesario para client_secret_jwt (HMAC).
	SecretEnc string `json:"secret_enc,omitempty" yaml:"-"`

	AuthMethod            AuthMethod   `json:"token_endpoint_auth_method" yaml:"token_endpoint_auth_method"`
	AdditionalAuthMethods []AuthMethod `json:"additional_token_endpoint_auth_methods,omitempty" yaml:"additional_token_endpoint_auth_methods"`

	GrantTypes   []GrantType `json:"grant_types" yaml:"grant_types"`
	Scopes       []string    `json:"scopes" yaml:"scopes"`
	RedirectURIs []string    `json:"redirect_uris,omitempty" yaml:"redirect_uris"`

	// JWKS (JSON) para private_key_jwt.
	JWKS json.RawMessage `json:"jwks,omitempty" yaml:"-"`
	// JWKSURI alternativo a JWKS; se descarga y cachea.
	JWKSURI string `json:"jwks_uri,omitempty" yaml:"jwks_uri"`
	// TLSSubjectDN para tls_client_auth.
	TLSSubjectDN string `json:"tls_client_auth_subject_dn,omitempty" yaml:"tls_client_auth_subject_dn"`
	// TLSThumbprints (SHA-256 base64url del DER) para self_signed_tls_client_auth.
	TLSThumbprints []string `json:"tls_thumbprints,omitempty" yaml:"tls_thumbprints"`

	AccessTokenAsJWT bool `json:"access_token_as_jwt,omitempty" yaml:"access_token_as_jwt"`
	RPTAsJWT         bool `json:"rpt_as_jwt,omitempty" yaml:"rpt_as_jwt"`

	// Overrides de lifetime en segundos; nil = usar la política global.
	AccessTokenLifetime  *int64 `json:"access_token_lifetime,omitempty" yaml:"access_token_lifetime"`
	RefreshTokenLifetime *int64 `json:"refresh_token_lifetime,omitempty" yaml:"refresh_token_lifetime"`
	IDTokenLifetime      *int64 `json:"id_token_lifetime,omitempty" yaml:"id_token_lifetime"`

	BackchannelDeliveryMode         DeliveryMode `json:"backchannel_token_delivery_mode,omitempty" yaml:"backchannel_token_delivery_mode"`
	BackchannelNotificationEndpoint string       `json:"backchannel_client_notification_endpoint,omitempty" yaml:"backchannel_client_notification_endpoint"`
	BackchannelUserCodeParameter    bool         `json:"backchannel_user_code_parameter,omitempty" yaml:"backchannel_user_code_parameter"`

	CreatedAt time.Time `json:"created_at" yaml:"-"`
}

// AllowsGrant reporta si el cliente puede usar el grant type.
func (c *Client) AllowsGrant(t GrantType) bool { return slices.Contains(c.GrantTypes, t) }

// AllowsScope reporta si el scope está registrado para el cliente.
func (c *Client) AllowsScope(s string) bool { return slices.Contains(c.Scopes, s) }

// AcceptsAuthMethod chequea el método primario y luego los adicionales.
func (c *Client) AcceptsAuthMethod(m AuthMethod) bool {
	if c.AuthMethod == m {
		return true
	}
	return slices.Contains(c.AdditionalAuthMethods, m)
}

func (c *Client) IsPublic() bool { return c.Type == ClientTypePublic }
