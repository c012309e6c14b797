package grant

import (
	"context"
	"encoding/base64"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/grantengine/internal/clock"
	"github.com/dropDatabas3/grantengine/internal/domain/repository"
	"github.com/dropDatabas3/grantengine/internal/jwt"
	"github.com/dropDatabas3/grantengine/internal/security/secretbox"
	"github.com/dropDatabas3/grantengine/internal/store/adapters/memory"
)

type clientMap map[string]*repository.Client

func (m clientMap) Get(_ context.Context, id string) (*repository.Client, error) {
	c, ok := m[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

type fixture struct {
	reg     *Registry
	clk     *clock.Fake
	store   *memory.Store
	issuer  *jwt.Issuer
	clients clientMap
}

func newFixture(t *testing.T, policy Lifetimes) *fixture {
	t.Helper()
	box, err := secretbox.New(base64.StdEncoding.EncodeToString(make([]byte, 32)))
	require.NoError(t, err)
	clk := clock.NewFake(time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC))
	s := memory.New()
	ks := jwt.NewKeystore(s, box, clk)
	require.NoError(t, ks.EnsureBootstrap(context.Background()))
	iss := jwt.NewIssuer("https://as.test", ks, clk)

	clients := clientMap{
		"c1": {
			ID:         "c1",
			Type:       repository.ClientTypeConfidential,
			AuthMethod: repository.AuthSecretBasic,
			GrantTypes: []repository.GrantType{
				repository.GrantTypeClientCredentials,
				repository.GrantTypeRefreshToken,
				repository.GrantTypeAuthorizationCode,
				repository.GrantTypeDeviceCode,
				repository.GrantTypeUMATicket,
			},
			Scopes:       []string{"openid", "read", "write", ScopeUMAProtection},
			RedirectURIs: []string{"https://app.test/cb"},
		},
		"cc-only": {
			ID:         "cc-only",
			Type:       repository.ClientTypeConfidential,
			GrantTypes: []repository.GrantType{repository.GrantTypeClientCredentials},
			Scopes:     []string{"read"},
		},
		"spa": {
			ID:           "spa",
			Type:         repository.ClientTypePublic,
			AuthMethod:   repository.AuthNone,
			GrantTypes:   []repository.GrantType{repository.GrantTypeAuthorizationCode},
			Scopes:       []string{"openid"},
			RedirectURIs: []string{"https://spa.test/cb"},
		},
	}
	reg := NewRegistry(s, NewFactory(iss, clk, policy), clients, clk, Options{})
	return &fixture{reg: reg, clk: clk, store: s, issuer: iss, clients: clients}
}

func (f *fixture) grant(t *testing.T, gt repository.GrantType, owner string, scopes ...string) *repository.Grant {
	t.Helper()
	g, err := f.reg.Create(context.Background(), CreateRequest{GrantType: gt, ClientID: "c1", OwnerID: owner, Scopes: scopes})
	require.NoError(t, err)
	return g
}
