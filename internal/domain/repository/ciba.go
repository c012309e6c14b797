package repository

import "time"

// CibaState es el estado de una sesión de backchannel authentication.
type CibaState string

const (
	CibaRequested CibaState = "REQUESTED"
	CibaPending   CibaState = "PENDING"
	CibaGranted   CibaState = "GRANTED"
	CibaDenied    CibaState = "DENIED"
	CibaExpired   CibaState = "EXPIRED"
	// CibaDelivered es el sub-estado terminal de GRANTED una vez entregados los tokens.
	CibaDelivered CibaState = "DELIVERED"
)

// Terminal reporta si el estado no admite más transiciones.
func (s CibaState) Terminal() bool {
	switch s {
	case CibaDenied, CibaExpired, CibaDelivered:
		return true
	}
	return false
}

type DeliveryMode string

const (
	DeliveryPoll DeliveryMode = "poll"
	DeliveryPing DeliveryMode = "ping"
	DeliveryPush DeliveryMode = "push"
)

func (m DeliveryMode) Valid() bool {
	return m == DeliveryPoll || m == DeliveryPing || m == DeliveryPush
}

// CibaSession es el estado transitorio de un intento CIBA.
type CibaSession struct {
	AuthReqID            string       `json:"auth_req_id"`
	ClientID             string       `json:"client_id"`
	OwnerID              string       `json:"owner_id"`
	Scopes               []string     `json:"scopes"`
	ACR                  string       `json:"acr,omitempty"`
	BindingMessage       string       `json:"binding_message,omitempty"`
	Mode                 DeliveryMode `json:"mode"`
	NotificationToken    string       `json:"notification_token,omitempty"`
	NotificationEndpoint string       `json:"notification_endpoint,omitempty"`
	CreatedAt            time.Time    `json:"created_at"`
	ExpiresAt            time.Time    `json:"expires_at"`
	// Interval mínimo entre polls, en segundos.
	Interval     int64      `json:"interval"`
	LastPolledAt *time.Time `json:"last_polled_at,omitempty"`
	State        CibaState  `json:"state"`
	GrantID      string     `json:"grant_id,omitempty"`
	// Tokens emitidos al pasar a GRANTED; se descartan al entregar.
	Tokens *TokenSet `json:"tokens,omitempty"`

	Version int64 `json:"-"`
}

// ExpiredAt reporta si la sesión venció en now (comparación en segundos).
func (s *CibaSession) ExpiredAt(now time.Time) bool {
	return now.Unix() > s.ExpiresAt.Unix()
}
