package grant

import "github.com/dropDatabas3/grantengine/internal/domain/oautherr"

// Resultados de lookup. Todos son invalid_grant en el borde; la introspección
// los reporta como active=false.
var (
	ErrUnknownToken = oautherr.New(oautherr.InvalidGrant, "unknown token")
	ErrExpired      = oautherr.New(oautherr.InvalidGrant, "token expired")
	ErrRevoked      = oautherr.New(oautherr.InvalidGrant, "token revoked")
	ErrGrantRevoked = oautherr.New(oautherr.InvalidGrant, "grant revoked")
)

// CodeReusedError indica un segundo canje de un authorization code; GrantID
// es el grant que emitió el primero y debe revocarse.
type CodeReusedError struct {
	GrantID string
}

func (e *CodeReusedError) Error() string { return "authorization code reused" }
