package jwt

import (
	"context"
	"crypto/ed25519"
	"errors"
	"time"

	jwtv5 "github.com/golang-jwt/jwt/v5"

	"github.com/dropDatabas3/grantengine/internal/clock"
)

// Headers typ usados por el servidor.
const (
	TypJWT      = "JWT"
	TypAccessAT = "at+jwt"
)

var (
	ErrInvalidJWT    = errors.New("invalid_jwt")
	ErrInvalidIssuer = errors.New("invalid_issuer")
)

// Issuer firma y verifica JWTs con la clave activa del keystore. No guarda
// estado propio: dado el keystore, es reproducible.
type Issuer struct {
	Iss    string
	Keys   *Keystore
	Clock  clock.Clock
	Leeway time.Duration
}

func NewIssuer(iss string, ks *Keystore, clk clock.Clock) *Issuer {
	return &Issuer{Iss: iss, Keys: ks, Clock: clk, Leeway: 30 * time.Second}
}

// ActiveKID devuelve el KID activo actual.
func (i *Issuer) ActiveKID(ctx context.Context) (string, error) {
	kid, _, err := i.Keys.Active(ctx)
	return kid, err
}

// Keyfunc elige la pubkey por 'kid' del token (active/retiring).
func (i *Issuer) Keyfunc(ctx context.Context) jwtv5.Keyfunc {
	return func(t *jwtv5.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		if kid != "" {
			return i.Keys.PublicKeyByKID(ctx, kid)
		}
		// Fallback: usar la activa
		_, priv, err := i.Keys.Active(ctx)
		if err != nil {
			return nil, err
		}
		return priv.Public().(ed25519.PublicKey), nil
	}
}

// SignRaw firma un MapClaims arbitrario con typ "JWT". Devuelve el JWT y el kid.
func (i *Issuer) SignRaw(ctx context.Context, claims jwtv5.MapClaims) (string, string, error) {
	return i.Sign(ctx, TypJWT, claims)
}

// Sign firma claims seteando header kid/typ.
func (i *Issuer) Sign(ctx context.Context, typ string, claims jwtv5.MapClaims) (string, string, error) {
	kid, priv, err := i.Keys.Active(ctx)
	if err != nil {
		return "", "", err
	}
	tk := jwtv5.NewWithClaims(jwtv5.SigningMethodEdDSA, claims)
	tk.Header["kid"] = kid
	tk.Header["typ"] = typ
	signed, err := tk.SignedString(priv)
	if err != nil {
		return "", "", err
	}
	return signed, kid, nil
}

// Parse valida firma EdDSA, iss y exp/nbf con tolerancia Leeway.
func (i *Issuer) Parse(ctx context.Context, token string) (jwtv5.MapClaims, error) {
	opts := []jwtv5.ParserOption{
		jwtv5.WithValidMethods([]string{AlgEdDSA}),
		jwtv5.WithLeeway(i.Leeway),
		jwtv5.WithExpirationRequired(),
	}
	if i.Clock != nil {
		opts = append(opts, jwtv5.WithTimeFunc(i.Clock.Now))
	}
	tok, err := jwtv5.Parse(token, i.Keyfunc(ctx), opts...)
	if err != nil || !tok.Valid {
		return nil, ErrInvalidJWT
	}
	claims, ok := tok.Claims.(jwtv5.MapClaims)
	if !ok {
		return nil, ErrInvalidJWT
	}
	if i.Iss != "" {
		if iss, _ := claims["iss"].(string); iss != i.Iss {
			return nil, ErrInvalidIssuer
		}
	}
	return claims, nil
}
