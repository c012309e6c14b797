package grant

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/grantengine/internal/domain/oautherr"
	"github.com/dropDatabas3/grantengine/internal/domain/repository"
)

func TestFactory_DefaultLifetimes(t *testing.T) {
	f := newFixture(t, DefaultLifetimes)
	g := f.grant(t, repository.GrantTypeClientCredentials, "")
	c := f.clients["c1"]

	access, err := f.reg.factory.Mint(context.Background(), g, repository.TokenAccess, c, MintOptions{})
	require.NoError(t, err)
	assert.Equal(t, int64(3600), access.ExpiresAt.Unix()-access.IssuedAt.Unix())
	assert.Equal(t, repository.FormatOpaque, access.Format)
	assert.Len(t, access.Value, 43)

	refresh, err := f.reg.factory.Mint(context.Background(), g, repository.TokenRefresh, c, MintOptions{})
	require.NoError(t, err)
	assert.Equal(t, int64(2592000), refresh.ExpiresAt.Unix()-refresh.IssuedAt.Unix())
	assert.NotEqual(t, access.Hash, refresh.Hash)
}

func TestFactory_ClientOverride(t *testing.T) {
	f := newFixture(t, DefaultLifetimes)
	g := f.grant(t, repository.GrantTypeClientCredentials, "")
	c := f.clients["c1"]
	ttl := int64(120)
	c.AccessTokenLifetime = &ttl

	tok, err := f.reg.factory.Mint(context.Background(), g, repository.TokenAccess, c, MintOptions{})
	require.NoError(t, err)
	assert.Equal(t, int64(120), tok.ExpiresIn(f.clk.Now()))
}

func TestFactory_LifetimeFloor(t *testing.T) {
	for _, lifetime := range []int64{0, -1, -3600} {
		policy := DefaultLifetimes
		policy.Access = lifetime
		f := newFixture(t, policy)
		g := f.grant(t, repository.GrantTypeClientCredentials, "")

		_, err := f.reg.factory.Mint(context.Background(), g, repository.TokenAccess, f.clients["c1"], MintOptions{})
		require.Error(t, err)
		assert.Equal(t, oautherr.InvalidLifetime, oautherr.KindOf(err), "lifetime %d", lifetime)
	}

	f := newFixture(t, DefaultLifetimes)
	g := f.grant(t, repository.GrantTypeClientCredentials, "")
	c := f.clients["c1"]
	zero := int64(0)
	c.IDTokenLifetime = &zero
	_, err := f.reg.factory.Mint(context.Background(), g, repository.TokenID, c, MintOptions{})
	assert.Equal(t, oautherr.InvalidLifetime, oautherr.KindOf(err))
}

func TestFactory_JWTAccessAndIDToken(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, DefaultLifetimes)
	c := f.clients["c1"]
	c.AccessTokenAsJWT = true

	g, err := f.reg.Create(ctx, CreateRequest{
		GrantType: repository.GrantTypeAuthorizationCode,
		ClientID:  "c1",
		OwnerID:   "alice",
		Scopes:    []string{"openid", "read"},
		AuthTime:  f.clk.Now().Add(-time.Minute),
		Nonce:     "n-0S6",
		ACR:       "urn:acr:pwd",
	})
	require.NoError(t, err)

	access, err := f.reg.factory.Mint(ctx, g, repository.TokenAccess, c, MintOptions{})
	require.NoError(t, err)
	assert.Equal(t, repository.FormatJWT, access.Format)
	claims, err := f.issuer.Parse(ctx, access.Value)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims["sub"])
	assert.Equal(t, "openid read", claims["scope"])
	assert.Equal(t, access.JTI, claims["jti"])

	id, err := f.reg.factory.Mint(ctx, g, repository.TokenID, c, MintOptions{AccessToken: access.Value})
	require.NoError(t, err)
	claims, err = f.issuer.Parse(ctx, id.Value)
	require.NoError(t, err)
	assert.Equal(t, "n-0S6", claims["nonce"])
	assert.Equal(t, "urn:acr:pwd", claims["acr"])
	assert.Equal(t, "c1", claims["aud"])
	assert.Equal(t, float64(g.AuthTime.Unix()), claims["auth_time"])
	assert.Equal(t, HalfHash(access.Value), claims["at_hash"])
}
