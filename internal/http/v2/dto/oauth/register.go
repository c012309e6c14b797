package oauth

import "encoding/json"

// RegisterRequest is the client metadata accepted by POST /register (RFC 7591 subset).
type RegisterRequest struct {
	ClientName                      string          `json:"client_name,omitempty"`
	ClientType                      string          `json:"client_type,omitempty"`
	TokenEndpointAuthMethod         string          `json:"token_endpoint_auth_method,omitempty"`
	GrantTypes                      []string        `json:"grant_types,omitempty"`
	Scope                           string          `json:"scope,omitempty"`
	RedirectURIs                    []string        `json:"redirect_uris,omitempty"`
	JWKS                            json.RawMessage `json:"jwks,omitempty"`
	JWKSURI                         string          `json:"jwks_uri,omitempty"`
	TLSClientAuthSubjectDN          string          `json:"tls_client_auth_subject_dn,omitempty"`
	AccessTokenAsJWT                bool            `json:"access_token_as_jwt,omitempty"`
	BackchannelTokenDeliveryMode    string          `json:"backchannel_token_delivery_mode,omitempty"`
	BackchannelNotificationEndpoint string          `json:"backchannel_client_notification_endpoint,omitempty"`
	BackchannelUserCodeParameter    bool            `json:"backchannel_user_code_parameter,omitempty"`
}

// RegisterResponse echoes the stored metadata plus the generated credentials.
type RegisterResponse struct {
	ClientID                string   `json:"client_id"`
	ClientSecret            string   `json:"client_secret,omitempty"`
	ClientIDIssuedAt        int64    `json:"client_id_issued_at"`
	ClientSecretExpiresAt   int64    `json:"client_secret_expires_at"`
	ClientName              string   `json:"client_name,omitempty"`
	TokenEndpointAuthMethod string   `json:"token_endpoint_auth_method"`
	GrantTypes              []string `json:"grant_types"`
	Scope                   string   `json:"scope,omitempty"`
	RedirectURIs            []string `json:"redirect_uris,omitempty"`
	BackchannelDeliveryMode string   `json:"backchannel_token_delivery_mode,omitempty"`
}
