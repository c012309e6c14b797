package grant

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/dropDatabas3/grantengine/internal/domain/oautherr"
	"github.com/dropDatabas3/grantengine/internal/domain/repository"
	"github.com/dropDatabas3/grantengine/internal/observability/logger"
	tokens "github.com/dropDatabas3/grantengine/internal/security/token"
	"github.com/dropDatabas3/grantengine/internal/store"
)

// PKCE methods.
const (
	PKCES256  = "S256"
	PKCEPlain = "plain"
)

// CodeRequest es el resultado de un login ya autenticado que pide un code.
type CodeRequest struct {
	ClientID            string
	OwnerID             string
	Scopes              []string
	RedirectURI         string
	CodeChallenge       string
	CodeChallengeMethod string
	Nonce               string
	ACR                 string
	AuthTime            time.Time
}

// CreateAuthorizationCode persiste un code de un solo uso (codes/<hash>).
func (r *Registry) CreateAuthorizationCode(ctx context.Context, req CodeRequest) (string, error) {
	c, err := r.clients.Get(ctx, req.ClientID)
	if err != nil {
		if repository.IsNotFound(err) {
			return "", oautherr.New(oautherr.InvalidClient, "unknown client")
		}
		return "", err
	}
	if !c.AllowsGrant(repository.GrantTypeAuthorizationCode) {
		return "", oautherr.New(oautherr.UnauthorizedClient, "client is not allowed to use authorization_code")
	}
	if req.OwnerID == "" {
		return "", oautherr.New(oautherr.InvalidRequest, "owner is required")
	}
	if !slices.Contains(c.RedirectURIs, req.RedirectURI) {
		return "", oautherr.New(oautherr.InvalidRequest, "redirect_uri not registered")
	}
	scopes, err := ResolveScopes(c, req.Scopes)
	if err != nil {
		return "", err
	}
	switch req.CodeChallengeMethod {
	case "":
		if req.CodeChallenge != "" {
			req.CodeChallengeMethod = PKCEPlain
		}
	case PKCES256, PKCEPlain:
		if req.CodeChallenge == "" {
			return "", oautherr.New(oautherr.InvalidRequest, "code_challenge required")
		}
	default:
		return "", oautherr.New(oautherr.InvalidRequest, "unsupported code_challenge_method")
	}
	if c.IsPublic() && req.CodeChallenge == "" {
		return "", oautherr.New(oautherr.InvalidRequest, "PKCE required for public clients")
	}

	code, err := tokens.GenerateOpaqueToken(tokens.OpaqueBytes)
	if err != nil {
		return "", err
	}
	now := r.clk.Now()
	if req.AuthTime.IsZero() {
		req.AuthTime = now
	}
	rec := &repository.AuthorizationCode{
		Hash:                tokens.SHA256Base64URL(code),
		ClientID:            c.ID,
		OwnerID:             req.OwnerID,
		Scopes:              scopes,
		RedirectURI:         req.RedirectURI,
		CodeChallenge:       req.CodeChallenge,
		CodeChallengeMethod: req.CodeChallengeMethod,
		Nonce:               req.Nonce,
		ACR:                 req.ACR,
		AuthTime:            req.AuthTime,
		ExpiresAt:           now.Add(r.codeTTL),
	}
	if _, ok, err := store.CASJSON(ctx, r.store, 0, codeRecord(rec)); err != nil {
		return "", err
	} else if !ok {
		return "", oautherr.New(oautherr.ServerError, "code collision")
	}
	return code, nil
}

// RedeemAuthorizationCode canjea el code por un grant nuevo. El canje se
// marca con CAS antes de crear el grant: un segundo canje devuelve
// invalid_grant envolviendo *CodeReusedError con el grant a revocar.
func (r *Registry) RedeemAuthorizationCode(ctx context.Context, c *repository.Client, code, redirectURI, verifier string) (*repository.Grant, error) {
	log := logger.From(ctx).With(
		logger.Layer("service"),
		logger.Component("grant.registry"),
		logger.Op("RedeemAuthorizationCode"),
		logger.ClientID(c.ID),
	)
	invalid := oautherr.New(oautherr.InvalidGrant, "invalid authorization code")

	key := repository.Key(repository.NSCodes, tokens.SHA256Base64URL(code))
	var rec repository.AuthorizationCode
	ver, err := store.GetJSON(ctx, r.store, key, &rec)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, invalid
		}
		return nil, err
	}
	if rec.ClientID != c.ID {
		return nil, invalid
	}
	if rec.GrantID != "" {
		log.Warn("authorization code reuse detected", logger.GrantID(rec.GrantID))
		return nil, oautherr.Wrap(&CodeReusedError{GrantID: rec.GrantID}, oautherr.InvalidGrant, "authorization code already used")
	}
	if r.clk.Now().After(rec.ExpiresAt) {
		return nil, oautherr.New(oautherr.InvalidGrant, "authorization code expired")
	}
	if rec.RedirectURI != "" && rec.RedirectURI != redirectURI {
		return nil, oautherr.New(oautherr.InvalidGrant, "redirect_uri mismatch")
	}
	if err := VerifyPKCE(rec.CodeChallengeMethod, rec.CodeChallenge, verifier); err != nil {
		return nil, err
	}

	rec.GrantID = uuid.NewString()
	_, ok, err := store.CASJSON(ctx, r.store, ver, codeRecord(&rec))
	if err != nil {
		return nil, err
	}
	if !ok {
		// otro canje ganó: la segunda presentación es reuse
		var winner repository.AuthorizationCode
		if _, err := store.GetJSON(ctx, r.store, key, &winner); err == nil && winner.GrantID != "" {
			return nil, oautherr.Wrap(&CodeReusedError{GrantID: winner.GrantID}, oautherr.InvalidGrant, "authorization code already used")
		}
		return nil, invalid
	}

	return r.Create(ctx, CreateRequest{
		ID:        rec.GrantID,
		GrantType: repository.GrantTypeAuthorizationCode,
		ClientID:  c.ID,
		OwnerID:   rec.OwnerID,
		Scopes:    rec.Scopes,
		AuthTime:  rec.AuthTime,
		Nonce:     rec.Nonce,
		ACR:       rec.ACR,
	})
}

// VerifyPKCE valida code_verifier contra el challenge guardado.
func VerifyPKCE(method, challenge, verifier string) error {
	if challenge == "" {
		return nil
	}
	if verifier == "" {
		return oautherr.New(oautherr.InvalidGrant, "code_verifier required")
	}
	var computed string
	switch method {
	case PKCES256:
		sum := sha256.Sum256([]byte(verifier))
		computed = base64.RawURLEncoding.EncodeToString(sum[:])
	case PKCEPlain, "":
		computed = verifier
	default:
		return oautherr.New(oautherr.InvalidGrant, "unsupported code_challenge_method")
	}
	if subtle.ConstantTimeCompare([]byte(computed), []byte(challenge)) != 1 {
		return oautherr.New(oautherr.InvalidGrant, "code_verifier mismatch")
	}
	return nil
}

// ReusedGrant extrae el grant a revocar de un error de reuse.
func ReusedGrant(err error) (string, bool) {
	var cr *CodeReusedError
	if errors.As(err, &cr) {
		return cr.GrantID, true
	}
	return "", false
}

func codeRecord(c *repository.AuthorizationCode) store.Record {
	attrs := map[string]string{repository.AttrClientID: c.ClientID}
	if c.GrantID != "" {
		attrs[repository.AttrGrantID] = c.GrantID
	}
	return store.Record{
		Key:       repository.Key(repository.NSCodes, c.Hash),
		Attrs:     attrs,
		Value:     c,
		ExpiresAt: c.ExpiresAt,
	}
}
