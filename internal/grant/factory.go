// Package grant es el índice autoritativo de grants y de los tokens que
// emiten: creación, lookup por token, emisión, revocación (CAS) y los
// registros de soporte de un solo uso (codes, device codes, tickets UMA).
package grant

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"strings"
	"time"

	jwtv5 "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/dropDatabas3/grantengine/internal/clock"
	"github.com/dropDatabas3/grantengine/internal/domain/oautherr"
	"github.com/dropDatabas3/grantengine/internal/domain/repository"
	"github.com/dropDatabas3/grantengine/internal/jwt"
	"github.com/dropDatabas3/grantengine/internal/observability/logger"
	tokens "github.com/dropDatabas3/grantengine/internal/security/token"
)

// Lifetimes son los lifetimes por defecto en segundos, por kind.
type Lifetimes struct {
	Access  int64 `yaml:"access"`
	Refresh int64 `yaml:"refresh"`
	ID      int64 `yaml:"id"`
	RPT     int64 `yaml:"rpt"`
	PAT     int64 `yaml:"pat"`
}

var DefaultLifetimes = Lifetimes{
	Access:  3600,
	Refresh: 2592000,
	ID:      3600,
	RPT:     3600,
	PAT:     3600,
}

// MintOptions ajusta un mint puntual.
type MintOptions struct {
	// MintedBy es el hash del refresh token que origina un access token.
	MintedBy string
	// Scopes reemplaza los del grant (refresh con scope reducido).
	Scopes []string
	// AccessToken se usa para el at_hash del id_token.
	AccessToken string
	// Claims extra para tokens JWT (p.ej. permissions de un RPT).
	Claims map[string]any
}

// Factory mintea tokens con lifetimes de política y claims por kind.
type Factory struct {
	signer   *jwt.Issuer
	clk      clock.Clock
	policy   Lifetimes
	issuerID string
}

func NewFactory(signer *jwt.Issuer, clk clock.Clock, policy Lifetimes) *Factory {
	iss := ""
	if signer != nil {
		iss = signer.Iss
	}
	return &Factory{signer: signer, clk: clk, policy: policy, issuerID: iss}
}

// Lifetime resuelve el lifetime en segundos: override del cliente o política.
func (f *Factory) Lifetime(kind repository.TokenKind, c *repository.Client) int64 {
	var override *int64
	var def int64
	switch kind {
	case repository.TokenAccess:
		def = f.policy.Access
		if c != nil {
			override = c.AccessTokenLifetime
		}
	case repository.TokenRefresh:
		def = f.policy.Refresh
		if c != nil {
			override = c.RefreshTokenLifetime
		}
	case repository.TokenID:
		def = f.policy.ID
		if c != nil {
			override = c.IDTokenLifetime
		}
	case repository.TokenRPT:
		def = f.policy.RPT
	case repository.TokenPAT:
		def = f.policy.PAT
	}
	if override != nil {
		return *override
	}
	return def
}

// Mint crea el token en memoria; no persiste. Falla con InvalidLifetime si el
// lifetime calculado es <= 0.
func (f *Factory) Mint(ctx context.Context, g *repository.Grant, kind repository.TokenKind, c *repository.Client, opts MintOptions) (*repository.Token, error) {
	log := logger.From(ctx).With(
		logger.Layer("service"),
		logger.Component("grant.factory"),
		logger.GrantID(g.ID),
		logger.TokenKind(string(kind)),
	)
	if !kind.Valid() {
		return nil, oautherr.Newf(oautherr.ServerError, "unknown token kind %q", kind)
	}
	lifetime := f.Lifetime(kind, c)
	if lifetime <= 0 {
		log.Error("invalid token lifetime (configuration error)", logger.Any("lifetime", lifetime))
		return nil, oautherr.Newf(oautherr.InvalidLifetime, "%s token lifetime must be positive, got %d", kind, lifetime)
	}

	now := f.clk.Now().Truncate(time.Second)
	t := &repository.Token{
		Kind:      kind,
		Format:    repository.FormatOpaque,
		GrantID:   g.ID,
		ClientID:  g.ClientID,
		OwnerID:   g.OwnerID,
		Scopes:    g.Scopes,
		IssuedAt:  now,
		ExpiresAt: now.Add(time.Duration(lifetime) * time.Second),
		Status:    repository.TokenActive,
		MintedBy:  opts.MintedBy,
	}
	if opts.Scopes != nil {
		t.Scopes = opts.Scopes
	}

	var err error
	switch {
	case kind == repository.TokenID:
		err = f.signID(ctx, t, g, opts)
	case kind == repository.TokenAccess && c != nil && c.AccessTokenAsJWT,
		kind == repository.TokenRPT && c != nil && c.RPTAsJWT:
		err = f.signAccess(ctx, t, opts)
	default:
		t.Value, err = tokens.GenerateOpaqueToken(tokens.OpaqueBytes)
	}
	if err != nil {
		log.Error("mint failed", logger.Err(err))
		return nil, oautherr.Wrap(err, oautherr.ServerError, "token minting failed")
	}
	t.Hash = tokens.SHA256Base64URL(t.Value)
	return t, nil
}

func (f *Factory) signAccess(ctx context.Context, t *repository.Token, opts MintOptions) error {
	t.Format = repository.FormatJWT
	t.JTI = uuid.NewString()
	sub := t.OwnerID
	if sub == "" {
		sub = t.ClientID
	}
	claims := jwtv5.MapClaims{
		"iss":       f.issuerID,
		"sub":       sub,
		"aud":       t.ClientID,
		"client_id": t.ClientID,
		"iat":       t.IssuedAt.Unix(),
		"nbf":       t.IssuedAt.Unix(),
		"exp":       t.ExpiresAt.Unix(),
		"jti":       t.JTI,
		"token_use": string(t.Kind),
	}
	if len(t.Scopes) > 0 {
		claims["scope"] = strings.Join(t.Scopes, " ")
	}
	for k, v := range opts.Claims {
		claims[k] = v
	}
	signed, _, err := f.signer.Sign(ctx, jwt.TypAccessAT, claims)
	if err != nil {
		return err
	}
	t.Value = signed
	return nil
}

func (f *Factory) signID(ctx context.Context, t *repository.Token, g *repository.Grant, opts MintOptions) error {
	t.Format = repository.FormatJWT
	t.JTI = uuid.NewString()
	claims := jwtv5.MapClaims{
		"iss": f.issuerID,
		"sub": g.OwnerID,
		"aud": g.ClientID,
		"iat": t.IssuedAt.Unix(),
		"exp": t.ExpiresAt.Unix(),
		"jti": t.JTI,
	}
	if !g.AuthTime.IsZero() {
		claims["auth_time"] = g.AuthTime.Unix()
	}
	if g.Nonce != "" {
		claims["nonce"] = g.Nonce
	}
	if g.ACR != "" {
		claims["acr"] = g.ACR
	}
	if opts.AccessToken != "" {
		claims["at_hash"] = HalfHash(opts.AccessToken)
	}
	for k, v := range opts.Claims {
		claims[k] = v
	}
	signed, _, err := f.signer.SignRaw(ctx, claims)
	if err != nil {
		return err
	}
	t.Value = signed
	return nil
}

// HalfHash calcula el at_hash: base64url de la mitad izquierda del SHA-256.
func HalfHash(v string) string {
	sum := sha256.Sum256([]byte(v))
	return base64.RawURLEncoding.EncodeToString(sum[:len(sum)/2])
}
