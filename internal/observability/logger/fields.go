package logger

import (
	"time"

	"go.uber.org/zap"
)

// ─── HTTP ───

func RequestID(v string) zap.Field       { return zap.String("request_id", v) }
func Method(v string) zap.Field          { return zap.String("method", v) }
func Path(v string) zap.Field            { return zap.String("path", v) }
func Status(v int) zap.Field             { return zap.Int("status", v) }
func Duration(v time.Duration) zap.Field { return zap.Duration("duration", v) }
func ClientIP(v string) zap.Field        { return zap.String("client_ip", v) }

// ─── Dominio ───

// ClientID identifica al cliente OAuth.
func ClientID(v string) zap.Field { return zap.String("client_id", v) }

// OwnerID identifica al resource owner (puede ser vacío en client_credentials).
func OwnerID(v string) zap.Field { return zap.String("owner_id", v) }

func GrantID(v string) zap.Field   { return zap.String("grant_id", v) }
func GrantType(v string) zap.Field { return zap.String("grant_type", v) }
func TokenKind(v string) zap.Field { return zap.String("token_kind", v) }

// TokenHash loguea el hash de lookup, nunca el valor del token.
func TokenHash(v string) zap.Field { return zap.String("token_hash", v) }

func AuthReqID(v string) zap.Field { return zap.String("auth_req_id", v) }
func State(v string) zap.Field     { return zap.String("state", v) }
func Action(v string) zap.Field    { return zap.String("action", v) }

// ─── Sistema ───

// Component crea un campo para el componente/módulo.
func Component(v string) zap.Field { return zap.String("component", v) }

// Op crea un campo para la operación actual.
func Op(v string) zap.Field { return zap.String("op", v) }

// Layer crea un campo para la capa (handler, service, store).
func Layer(v string) zap.Field { return zap.String("layer", v) }

func Err(err error) zap.Field { return zap.Error(err) }

// ─── Genéricos ───

func Count(v int) zap.Field             { return zap.Int("count", v) }
func Key(v string) zap.Field            { return zap.String("key", v) }
func Any(key string, v any) zap.Field   { return zap.Any(key, v) }
func String(key, v string) zap.Field    { return zap.String(key, v) }
func Int(key string, v int) zap.Field   { return zap.Int(key, v) }
func Bool(key string, v bool) zap.Field { return zap.Bool(key, v) }
