package repository

import "time"

// TokenKind clasifica los tokens emitidos.
type TokenKind string

const (
	TokenAccess  TokenKind = "access"
	TokenRefresh TokenKind = "refresh"
	TokenID      TokenKind = "id"
	TokenRPT     TokenKind = "rpt"
	TokenPAT     TokenKind = "pat"
)

// Valid reporta si el kind es conocido.
func (k TokenKind) Valid() bool {
	switch k {
	case TokenAccess, TokenRefresh, TokenID, TokenRPT, TokenPAT:
		return true
	}
	return false
}

type TokenStatus string

const (
	TokenActive   TokenStatus = "ACTIVE"
	TokenInactive TokenStatus = "INACTIVE"
)

type TokenFormat string

const (
	FormatOpaque TokenFormat = "opaque"
	FormatJWT    TokenFormat = "jwt"
)

// Token es una credencial emitida. Se persiste bajo tokens/<Hash>; el valor
// en claro nunca se persiste.
type Token struct {
	Hash      string      `json:"hash"`
	Kind      TokenKind   `json:"kind"`
	Format    TokenFormat `json:"format"`
	GrantID   string      `json:"grant_id"`
	ClientID  string      `json:"client_id"`
	OwnerID   string      `json:"owner_id,omitempty"`
	Scopes    []string    `json:"scopes,omitempty"`
	IssuedAt  time.Time   `json:"issued_at"`
	ExpiresAt time.Time   `json:"expires_at"`
	Status    TokenStatus `json:"status"`
	// MintedBy es el hash del refresh token que emitió este access token.
	MintedBy string `json:"minted_by,omitempty"`
	// JTI solo para formato JWT.
	JTI string `json:"jti,omitempty"`

	// Value es el valor en claro; solo existe en memoria al emitir.
	Value   string `json:"-"`
	Version int64  `json:"-"`
}

// ExpiredAt reporta si el token está vencido en el instante now (segundos enteros).
func (t *Token) ExpiredAt(now time.Time) bool {
	return now.Unix() > t.ExpiresAt.Unix()
}

// ExpiresIn retorna los segundos restantes (>= 0).
func (t *Token) ExpiresIn(now time.Time) int64 {
	d := t.ExpiresAt.Unix() - now.Unix()
	if d < 0 {
		return 0
	}
	return d
}

// TokenSet es lo que se entrega al cliente en /token o en un callback push.
type TokenSet struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`
	IDToken      string `json:"id_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
	// Upgraded solo aplica a RPT (UMA).
	Upgraded bool `json:"upgraded,omitempty"`
}
