package repository

import (
	"slices"
	"time"
)

// GrantType es el grant_type OAuth2 que originó el grant.
type GrantType string

const (
	GrantTypeAuthorizationCode GrantType = "authorization_code"
	GrantTypeRefreshToken      GrantType = "refresh_token"
	GrantTypeClientCredentials GrantType = "client_credentials"
	GrantTypeDeviceCode        GrantType = "urn:ietf:params:oauth:grant-type:device_code"
	GrantTypeCIBA              GrantType = "urn:openid:params:grant-type:ciba"
	GrantTypeUMATicket         GrantType = "urn:ietf:params:oauth:grant-type:uma-ticket"
)

// Valid reporta si el tipo es uno de los soportados.
func (t GrantType) Valid() bool {
	switch t {
	case GrantTypeAuthorizationCode, GrantTypeRefreshToken, GrantTypeClientCredentials,
		GrantTypeDeviceCode, GrantTypeCIBA, GrantTypeUMATicket:
		return true
	}
	return false
}

type GrantStatus string

const (
	GrantActive  GrantStatus = "ACTIVE"
	GrantRevoked GrantStatus = "REVOKED"
)

// Grant representa una transacción de autorización.
type Grant struct {
	ID       string    `json:"id"`
	Type     GrantType `json:"type"`
	ClientID string    `json:"client_id"`
	// OwnerID es vacío para client_credentials.
	OwnerID   string      `json:"owner_id,omitempty"`
	Scopes    []string    `json:"scopes"`
	AuthTime  time.Time   `json:"auth_time"`
	CreatedAt time.Time   `json:"created_at"`
	ExpiresAt time.Time   `json:"expires_at"`
	Nonce     string      `json:"nonce,omitempty"`
	ACR       string      `json:"acr,omitempty"`
	Status    GrantStatus `json:"status"`

	Version int64 `json:"-"`
}

func (g *Grant) Revoked() bool { return g.Status == GrantRevoked }

// HasScope reporta si el grant incluye el scope.
func (g *Grant) HasScope(s string) bool { return slices.Contains(g.Scopes, s) }
