package repository

import "time"

// AuthorizationCode es un code de un solo uso emitido tras el login del usuario.
// Se persiste bajo codes/<hash>.
type AuthorizationCode struct {
	Hash                string    `json:"hash"`
	ClientID            string    `json:"client_id"`
	OwnerID             string    `json:"owner_id"`
	Scopes              []string  `json:"scopes"`
	RedirectURI         string    `json:"redirect_uri,omitempty"`
	CodeChallenge       string    `json:"code_challenge,omitempty"`
	CodeChallengeMethod string    `json:"code_challenge_method,omitempty"`
	Nonce               string    `json:"nonce,omitempty"`
	ACR                 string    `json:"acr,omitempty"`
	AuthTime            time.Time `json:"auth_time"`
	ExpiresAt           time.Time `json:"expires_at"`
	// GrantID se completa al canjear; un segundo canje revoca ese grant.
	GrantID string `json:"grant_id,omitempty"`

	Version int64 `json:"-"`
}

// DeviceState es el estado de una device authorization (RFC 8628).
type DeviceState string

const (
	DevicePending   DeviceState = "PENDING"
	DeviceApproved  DeviceState = "APPROVED"
	DeviceDenied    DeviceState = "DENIED"
	DeviceDelivered DeviceState = "DELIVERED"
)

// DeviceAuthorization se persiste bajo device/<hash(device_code)>; el user_code
// apunta a ella vía usercodes/<user_code>.
type DeviceAuthorization struct {
	DeviceCodeHash string      `json:"device_code_hash"`
	UserCode       string      `json:"user_code"`
	ClientID       string      `json:"client_id"`
	Scopes         []string    `json:"scopes"`
	OwnerID        string      `json:"owner_id,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
	ExpiresAt      time.Time   `json:"expires_at"`
	Interval       int64       `json:"interval"`
	LastPolledAt   *time.Time  `json:"last_polled_at,omitempty"`
	State          DeviceState `json:"state"`

	Version int64 `json:"-"`
}

// PermissionTicket es un ticket UMA registrado por un resource server con su PAT.
type PermissionTicket struct {
	Hash       string    `json:"hash"`
	ResourceID string    `json:"resource_id"`
	Scopes     []string  `json:"scopes"`
	PATGrantID string    `json:"pat_grant_id"`
	ExpiresAt  time.Time `json:"expires_at"`
	// Consumed se marca con CAS al canjearlo por un RPT.
	Consumed bool `json:"consumed,omitempty"`

	Version int64 `json:"-"`
}
