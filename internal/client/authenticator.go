package client

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	jwtv5 "github.com/golang-jwt/jwt/v5"

	"github.com/dropDatabas3/grantengine/internal/clock"
	"github.com/dropDatabas3/grantengine/internal/domain/oautherr"
	"github.com/dropDatabas3/grantengine/internal/domain/repository"
	"github.com/dropDatabas3/grantengine/internal/jwt"
	"github.com/dropDatabas3/grantengine/internal/observability/logger"
	"github.com/dropDatabas3/grantengine/internal/security/secrethash"
	tokens "github.com/dropDatabas3/grantengine/internal/security/token"
	"github.com/dropDatabas3/grantengine/internal/store"
)

var (
	hmacMethods       = []string{"HS256", "HS384", "HS512"}
	asymmetricMethods = []string{"RS256", "RS384", "RS512", "PS256", "PS384", "PS512", "ES256", "ES384", "ES512", "EdDSA"}
)

// errAuthFailed es la única respuesta al cliente: no revela qué chequeo falló.
var errAuthFailed = oautherr.New(oautherr.InvalidClient, "client authentication failed")

// Authenticator valida credenciales según el método declarado del cliente.
type Authenticator struct {
	clients *Registry
	store   repository.Store
	clk     clock.Clock
	jwks    *jwt.JWKSCache
	// audiences aceptadas en client assertions (issuer y URL del token endpoint).
	audiences []string
	leeway    time.Duration
}

func NewAuthenticator(clients *Registry, s repository.Store, clk clock.Clock, jwks *jwt.JWKSCache, audiences ...string) *Authenticator {
	return &Authenticator{
		clients:   clients,
		store:     s,
		clk:       clk,
		jwks:      jwks,
		audiences: audiences,
		leeway:    30 * time.Second,
	}
}

// Authenticate detecta el método presentado, lo compara contra el primario y
// los adicionales del cliente, y recién entonces verifica.
func (a *Authenticator) Authenticate(ctx context.Context, cr Credentials) (*repository.Client, error) {
	log := logger.From(ctx).With(
		logger.Layer("service"),
		logger.Component("client.authenticator"),
		logger.Op("Authenticate"),
	)

	method, clientID, err := presented(cr)
	if err != nil {
		log.Debug("client auth rejected", logger.Err(err))
		return nil, errAuthFailed
	}
	log = log.With(logger.ClientID(clientID), logger.String("auth_method", string(method)))

	c, err := a.clients.Get(ctx, clientID)
	if err != nil {
		if repository.IsNotFound(err) {
			log.Debug("unknown client")
			return nil, errAuthFailed
		}
		return nil, err
	}

	// el certificado no dice por sí solo cuál de los dos métodos mTLS se usa
	if method == repository.AuthTLSClient && !c.AcceptsAuthMethod(method) {
		method = repository.AuthSelfSignedTLS
	}
	if !c.AcceptsAuthMethod(method) {
		log.Debug("auth method not accepted for client")
		return nil, errAuthFailed
	}

	switch method {
	case repository.AuthSecretBasic:
		err = a.verifySecret(c, cr.BasicSecret)
	case repository.AuthSecretPost:
		err = a.verifySecret(c, cr.PostSecret)
	case repository.AuthSecretJWT, repository.AuthPrivateKeyJWT:
		err = a.verifyAssertion(ctx, c, method, cr.Assertion)
	case repository.AuthTLSClient:
		err = verifySubjectDN(c, cr)
	case repository.AuthSelfSignedTLS:
		err = verifyThumbprint(c, cr)
	case repository.AuthNone:
		if !c.IsPublic() {
			err = errors.New("confidential client without credentials")
		}
	default:
		err = fmt.Errorf("unsupported method %s", method)
	}
	if err != nil {
		if repository.IsUnavailable(err) {
			return nil, err
		}
		log.Info("client authentication failed", logger.Err(err))
		return nil, errAuthFailed
	}
	return c, nil
}

// presented infiere el método a partir de la forma del request.
func presented(cr Credentials) (repository.AuthMethod, string, error) {
	formID := cr.ClientID
	sameID := func(id string) (string, error) {
		if id == "" {
			return "", errors.New("missing client_id")
		}
		if formID != "" && formID != id {
			return "", errors.New("client_id mismatch")
		}
		return id, nil
	}

	n := 0
	for _, present := range []bool{cr.HasBasic, cr.PostSecret != "", cr.Assertion != ""} {
		if present {
			n++
		}
	}
	if n > 1 {
		return "", "", errors.New("multiple client authentication methods")
	}

	switch {
	case cr.Assertion != "":
		if cr.AssertionType != AssertionTypeJWTBearer {
			return "", "", errors.New("unsupported client_assertion_type")
		}
		tok, _, err := jwtv5.NewParser().ParseUnverified(cr.Assertion, jwtv5.MapClaims{})
		if err != nil {
			return "", "", fmt.Errorf("malformed assertion: %w", err)
		}
		sub, _ := tok.Claims.GetSubject()
		id, err := sameID(sub)
		if err != nil {
			return "", "", err
		}
		if slices.Contains(hmacMethods, tok.Method.Alg()) {
			return repository.AuthSecretJWT, id, nil
		}
		return repository.AuthPrivateKeyJWT, id, nil
	case cr.HasBasic:
		id, err := sameID(cr.BasicID)
		return repository.AuthSecretBasic, id, err
	case cr.PostSecret != "":
		id, err := sameID(formID)
		return repository.AuthSecretPost, id, err
	case cr.PeerCert != nil:
		id, err := sameID(formID)
		return repository.AuthTLSClient, id, err
	default:
		id, err := sameID(formID)
		return repository.AuthNone, id, err
	}
}

func (a *Authenticator) verifySecret(c *repository.Client, presented string) error {
	if presented == "" {
		return errors.New("empty secret")
	}
	if c.SecretHash != "" {
		if !secrethash.Verify(presented, c.SecretHash) {
			return errors.New("secret mismatch")
		}
		return nil
	}
	stored, err := a.clients.Secret(c)
	if err != nil {
		return err
	}
	if subtle.ConstantTimeCompare([]byte(stored), []byte(presented)) != 1 {
		return errors.New("secret mismatch")
	}
	return nil
}

func (a *Authenticator) verifyAssertion(ctx context.Context, c *repository.Client, method repository.AuthMethod, assertion string) error {
	var (
		keyfunc jwtv5.Keyfunc
		methods []string
	)
	if method == repository.AuthSecretJWT {
		secret, err := a.clients.Secret(c)
		if err != nil {
			return err
		}
		methods = hmacMethods
		keyfunc = func(*jwtv5.Token) (any, error) { return []byte(secret), nil }
	} else {
		set, err := a.clientKeys(ctx, c)
		if err != nil {
			return err
		}
		methods = asymmetricMethods
		keyfunc = func(t *jwtv5.Token) (any, error) { return pickKey(set, t) }
	}

	tok, err := jwtv5.Parse(assertion, keyfunc,
		jwtv5.WithValidMethods(methods),
		jwtv5.WithTimeFunc(a.clk.Now),
		jwtv5.WithLeeway(a.leeway),
		jwtv5.WithExpirationRequired(),
		jwtv5.WithIssuer(c.ID),
		jwtv5.WithSubject(c.ID),
	)
	if err != nil {
		return fmt.Errorf("assertion: %w", err)
	}
	claims := tok.Claims.(jwtv5.MapClaims)

	aud, _ := claims.GetAudience()
	if !slices.ContainsFunc(aud, func(s string) bool { return slices.Contains(a.audiences, s) }) {
		return errors.New("assertion audience mismatch")
	}
	jti, _ := claims["jti"].(string)
	if jti == "" {
		return errors.New("assertion without jti")
	}
	exp, _ := claims.GetExpirationTime()
	return a.consumeJTI(ctx, c.ID, jti, exp.Time)
}

// consumeJTI registra el jti con un CAS de creación: un segundo uso pierde.
func (a *Authenticator) consumeJTI(ctx context.Context, clientID, jti string, exp time.Time) error {
	key := repository.Key(repository.NSJTI, tokens.SHA256Base64URL(clientID+":"+jti))
	_, ok, err := store.CASJSON(ctx, a.store, 0, store.Record{
		Key:       key,
		Attrs:     map[string]string{repository.AttrClientID: clientID},
		Value:     map[string]any{"client_id": clientID, "exp": exp.Unix()},
		ExpiresAt: exp,
	})
	if err != nil {
		return err
	}
	if !ok {
		return errors.New("assertion replay")
	}
	return nil
}

func (a *Authenticator) clientKeys(ctx context.Context, c *repository.Client) (*jose.JSONWebKeySet, error) {
	if len(c.JWKS) > 0 {
		return jwt.ParseJWKS(c.JWKS)
	}
	if c.JWKSURI != "" && a.jwks != nil {
		return a.jwks.Get(ctx, c.JWKSURI)
	}
	return nil, errors.New("client has no keys")
}

// pickKey elige la clave por kid, o la única clave de firma si no hay kid.
func pickKey(set *jose.JSONWebKeySet, t *jwtv5.Token) (any, error) {
	if kid, _ := t.Header["kid"].(string); kid != "" {
		for _, k := range set.Key(kid) {
			if k.Use == "" || k.Use == "sig" {
				return k.Key, nil
			}
		}
		return nil, fmt.Errorf("kid %q not found", kid)
	}
	var found []jose.JSONWebKey
	for _, k := range set.Keys {
		if k.Use == "" || k.Use == "sig" {
			found = append(found, k)
		}
	}
	if len(found) != 1 {
		return nil, errors.New("assertion without kid and ambiguous jwks")
	}
	return found[0].Key, nil
}

func verifySubjectDN(c *repository.Client, cr Credentials) error {
	if cr.PeerCert == nil || c.TLSSubjectDN == "" {
		return errors.New("no client certificate")
	}
	if !strings.EqualFold(strings.TrimSpace(cr.PeerCert.Subject.String()), strings.TrimSpace(c.TLSSubjectDN)) {
		return errors.New("subject dn mismatch")
	}
	return nil
}

// Thumbprint es el SHA-256 base64url del DER del certificado.
func Thumbprint(der []byte) string {
	sum := sha256.Sum256(der)
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

func verifyThumbprint(c *repository.Client, cr Credentials) error {
	if cr.PeerCert == nil {
		return errors.New("no client certificate")
	}
	got := []byte(Thumbprint(cr.PeerCert.Raw))
	match := 0
	for _, tp := range c.TLSThumbprints {
		match |= subtle.ConstantTimeCompare(got, []byte(tp))
	}
	if match != 1 {
		return errors.New("certificate thumbprint mismatch")
	}
	return nil
}
