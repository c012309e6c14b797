// Package client mantiene los clientes OAuth registrados y autentica sus
// credenciales en el token endpoint.
package client

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"

	"github.com/dropDatabas3/grantengine/internal/clock"
	"github.com/dropDatabas3/grantengine/internal/domain/oautherr"
	"github.com/dropDatabas3/grantengine/internal/domain/repository"
	"github.com/dropDatabas3/grantengine/internal/jwt"
	"github.com/dropDatabas3/grantengine/internal/observability/logger"
	"github.com/dropDatabas3/grantengine/internal/security/secretbox"
	"github.com/dropDatabas3/grantengine/internal/security/secrethash"
	tokens "github.com/dropDatabas3/grantengine/internal/security/token"
	"github.com/dropDatabas3/grantengine/internal/store"
)

// Registry persiste clientes en clients/<id>. Las lecturas se cachean con
// TTL corto y se deduplican con singleflight.
type Registry struct {
	store repository.Store
	box   *secretbox.Box
	clk   clock.Clock

	cache *gocache.Cache
	group singleflight.Group
}

func NewRegistry(s repository.Store, box *secretbox.Box, clk clock.Clock, cacheTTL time.Duration) *Registry {
	if cacheTTL <= 0 {
		cacheTTL = 30 * time.Second
	}
	return &Registry{
		store: s,
		box:   box,
		clk:   clk,
		cache: gocache.New(cacheTTL, 2*cacheTTL),
	}
}

// Get devuelve el cliente o repository.ErrNotFound. El resultado es una copia.
func (r *Registry) Get(ctx context.Context, id string) (*repository.Client, error) {
	if id == "" {
		return nil, repository.ErrNotFound
	}
	if v, ok := r.cache.Get(id); ok {
		c := *v.(*repository.Client)
		return &c, nil
	}
	v, err, _ := r.group.Do(id, func() (any, error) {
		var c repository.Client
		if _, err := store.GetJSON(ctx, r.store, repository.Key(repository.NSClients, id), &c); err != nil {
			return nil, err
		}
		r.cache.SetDefault(id, &c)
		return &c, nil
	})
	if err != nil {
		return nil, err
	}
	c := *v.(*repository.Client)
	return &c, nil
}

// Invalidate descarta el cliente del cache local.
func (r *Registry) Invalidate(id string) { r.cache.Delete(id) }

// RegisterRequest es el alta de un cliente. Secret vacío en un cliente con
// método basado en secret hace que se genere uno.
type RegisterRequest struct {
	Client repository.Client
	Secret string
}

// Register valida la metadata, hashea/cifra el secret y persiste el cliente.
// Retorna el cliente y el secret en claro (única vez que se expone).
func (r *Registry) Register(ctx context.Context, req RegisterRequest) (*repository.Client, string, error) {
	log := logger.From(ctx).With(
		logger.Layer("service"),
		logger.Component("client.registry"),
		logger.Op("Register"),
	)

	c := req.Client
	if err := normalize(&c); err != nil {
		return nil, "", err
	}

	secret := req.Secret
	if usesSecret(&c) {
		if secret == "" {
			var err error
			if secret, err = tokens.GenerateOpaqueToken(tokens.OpaqueBytes); err != nil {
				return nil, "", err
			}
		}
		hash, err := secrethash.Hash(secrethash.Generated, secret)
		if err != nil {
			return nil, "", fmt.Errorf("hash client secret: %w", err)
		}
		enc, err := r.box.Encrypt(secret)
		if err != nil {
			return nil, "", fmt.Errorf("encrypt client secret: %w", err)
		}
		c.SecretHash, c.SecretEnc = hash, enc
	} else {
		secret = ""
		c.SecretHash, c.SecretEnc = "", ""
	}
	c.CreatedAt = r.clk.Now()

	_, ok, err := store.CASJSON(ctx, r.store, 0, store.Record{
		Key:   repository.Key(repository.NSClients, c.ID),
		Attrs: map[string]string{repository.AttrClientID: c.ID},
		Value: &c,
	})
	if err != nil {
		log.Error("persist client failed", logger.ClientID(c.ID), logger.Err(err))
		return nil, "", err
	}
	if !ok {
		return nil, "", oautherr.Newf(oautherr.InvalidRequest, "client_id %q already registered", c.ID)
	}
	r.cache.Delete(c.ID)

	log.Info("client registered", logger.ClientID(c.ID), logger.String("auth_method", string(c.AuthMethod)))
	return &c, secret, nil
}

// Secret descifra el secret de un cliente (client_secret_jwt).
func (r *Registry) Secret(c *repository.Client) (string, error) {
	if c.SecretEnc == "" {
		return "", errors.New("client has no secret")
	}
	return r.box.Decrypt(c.SecretEnc)
}

func usesSecret(c *repository.Client) bool {
	for _, m := range append([]repository.AuthMethod{c.AuthMethod}, c.AdditionalAuthMethods...) {
		switch m {
		case repository.AuthSecretBasic, repository.AuthSecretPost, repository.AuthSecretJWT:
			return true
		}
	}
	return false
}

func invalidMetadata(format string, args ...any) error {
	return oautherr.Newf(oautherr.InvalidRequest, format, args...)
}

// normalize completa defaults y valida la metadata de registro.
func normalize(c *repository.Client) error {
	c.ID = strings.TrimSpace(c.ID)
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if strings.ContainsAny(c.ID, "/ ") {
		return invalidMetadata("client_id must not contain '/' or spaces")
	}
	switch c.Type {
	case "":
		c.Type = repository.ClientTypeConfidential
		if c.AuthMethod == repository.AuthNone {
			c.Type = repository.ClientTypePublic
		}
	case repository.ClientTypePublic, repository.ClientTypeConfidential:
	default:
		return invalidMetadata("unknown client_type %q", c.Type)
	}
	if c.AuthMethod == "" {
		c.AuthMethod = repository.AuthSecretBasic
		if c.IsPublic() {
			c.AuthMethod = repository.AuthNone
		}
	}
	if c.IsPublic() && (c.AuthMethod != repository.AuthNone || len(c.AdditionalAuthMethods) > 0) {
		return invalidMetadata("public clients must use token_endpoint_auth_method none")
	}
	if !c.IsPublic() && c.AuthMethod == repository.AuthNone {
		return invalidMetadata("confidential clients must authenticate")
	}
	for _, m := range append([]repository.AuthMethod{c.AuthMethod}, c.AdditionalAuthMethods...) {
		switch m {
		case repository.AuthSecretBasic, repository.AuthSecretPost, repository.AuthSecretJWT, repository.AuthNone:
		case repository.AuthPrivateKeyJWT:
			if len(c.JWKS) == 0 && c.JWKSURI == "" {
				return invalidMetadata("private_key_jwt requires jwks or jwks_uri")
			}
			if len(c.JWKS) > 0 {
				if _, err := jwt.ParseJWKS(c.JWKS); err != nil {
					return invalidMetadata("invalid jwks")
				}
			}
		case repository.AuthTLSClient:
			if c.TLSSubjectDN == "" {
				return invalidMetadata("tls_client_auth requires tls_client_auth_subject_dn")
			}
		case repository.AuthSelfSignedTLS:
			if len(c.TLSThumbprints) == 0 {
				return invalidMetadata("self_signed_tls_client_auth requires tls_thumbprints")
			}
		default:
			return invalidMetadata("unsupported token_endpoint_auth_method %q", m)
		}
	}

	if len(c.GrantTypes) == 0 {
		c.GrantTypes = []repository.GrantType{repository.GrantTypeAuthorizationCode}
	}
	for _, g := range c.GrantTypes {
		if !g.Valid() {
			return invalidMetadata("unsupported grant_type %q", g)
		}
	}
	if c.IsPublic() && slices.Contains(c.GrantTypes, repository.GrantTypeClientCredentials) {
		return invalidMetadata("public clients cannot use client_credentials")
	}
	for _, u := range c.RedirectURIs {
		if pu, err := url.Parse(u); err != nil || !pu.IsAbs() || pu.Fragment != "" {
			return invalidMetadata("invalid redirect_uri %q", u)
		}
	}
	if c.AllowsGrant(repository.GrantTypeAuthorizationCode) && len(c.RedirectURIs) == 0 {
		return invalidMetadata("authorization_code requires redirect_uris")
	}
	if c.AllowsGrant(repository.GrantTypeCIBA) {
		if c.BackchannelDeliveryMode == "" {
			c.BackchannelDeliveryMode = repository.DeliveryPoll
		}
		if !c.BackchannelDeliveryMode.Valid() {
			return invalidMetadata("unknown backchannel_token_delivery_mode %q", c.BackchannelDeliveryMode)
		}
		if c.BackchannelDeliveryMode != repository.DeliveryPoll {
			if pu, err := url.Parse(c.BackchannelNotificationEndpoint); err != nil || pu.Scheme != "https" && pu.Scheme != "http" || pu.Host == "" {
				return invalidMetadata("ping/push require backchannel_client_notification_endpoint")
			}
		}
	}
	return nil
}
