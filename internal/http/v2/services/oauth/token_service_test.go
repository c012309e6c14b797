package oauth

import (
	"context"
	"encoding/base64"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/grantengine/internal/client"
	"github.com/dropDatabas3/grantengine/internal/clock"
	"github.com/dropDatabas3/grantengine/internal/domain/oautherr"
	"github.com/dropDatabas3/grantengine/internal/domain/repository"
	"github.com/dropDatabas3/grantengine/internal/grant"
	dto "github.com/dropDatabas3/grantengine/internal/http/v2/dto/oauth"
	"github.com/dropDatabas3/grantengine/internal/jwt"
	"github.com/dropDatabas3/grantengine/internal/rate"
	"github.com/dropDatabas3/grantengine/internal/revocation"
	"github.com/dropDatabas3/grantengine/internal/security/secretbox"
	"github.com/dropDatabas3/grantengine/internal/store/adapters/memory"
)

type fixture struct {
	svcs    Services
	grants  *grant.Registry
	clients *client.Registry
	clk     *clock.Fake
	c1      *repository.Client
	c2      *repository.Client
}

type fixtureOpts struct {
	rotate  bool
	limiter *rate.Governor
}

func newFixture(t *testing.T, o fixtureOpts) *fixture {
	t.Helper()
	ctx := context.Background()
	box, err := secretbox.New(base64.StdEncoding.EncodeToString(make([]byte, 32)))
	require.NoError(t, err)
	clk := clock.NewFake(time.Date(2025, 5, 10, 9, 0, 0, 0, time.UTC))
	s := memory.New()

	ks := jwt.NewKeystore(s, box, clk)
	require.NoError(t, ks.EnsureBootstrap(ctx))
	iss := jwt.NewIssuer("https://as.test", ks, clk)

	clients := client.NewRegistry(s, box, clk, time.Minute)
	grants := grant.NewRegistry(s, grant.NewFactory(iss, clk, grant.DefaultLifetimes), clients, clk, grant.Options{})

	c1, _, err := clients.Register(ctx, client.RegisterRequest{Client: repository.Client{
		ID: "c1",
		GrantTypes: []repository.GrantType{
			repository.GrantTypeClientCredentials,
			repository.GrantTypeRefreshToken,
			repository.GrantTypeAuthorizationCode,
			repository.GrantTypeDeviceCode,
			repository.GrantTypeUMATicket,
		},
		Scopes:       []string{"openid", "read", "write", grant.ScopeUMAProtection},
		RedirectURIs: []string{"https://app.test/cb"},
	}})
	require.NoError(t, err)
	c2, _, err := clients.Register(ctx, client.RegisterRequest{Client: repository.Client{
		ID:         "c2",
		GrantTypes: []repository.GrantType{repository.GrantTypeClientCredentials},
		Scopes:     []string{"read"},
	}})
	require.NoError(t, err)

	svcs := NewServices(Deps{
		Grants:        grants,
		Cascade:       revocation.New(grants, 4),
		Clients:       clients,
		Limiter:       o.limiter,
		Clock:         clk,
		Issuer:        "https://as.test",
		RotateRefresh: o.rotate,
	})
	return &fixture{svcs: svcs, grants: grants, clients: clients, clk: clk, c1: c1, c2: c2}
}

func requireKind(t *testing.T, err error, k oautherr.Kind) {
	t.Helper()
	require.Error(t, err)
	assert.Equal(t, k, oautherr.KindOf(err), "got %v", err)
}

func (f *fixture) introspect(t *testing.T, token string) dto.IntrospectResponse {
	t.Helper()
	r, err := f.svcs.Introspect.Introspect(context.Background(), f.c1, dto.IntrospectRequest{Token: token})
	require.NoError(t, err)
	return r
}

func TestScenarioC1_RefreshRevokeIntrospect(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, fixtureOpts{})

	first, err := f.svcs.Token.Exchange(ctx, f.c1, dto.TokenRequest{GrantType: "client_credentials", Scope: "read"})
	require.NoError(t, err)
	require.NotEmpty(t, first.RefreshToken)
	assert.Equal(t, int64(3600), first.ExpiresIn)

	_, rt, err := f.grants.LookupByToken(ctx, first.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, int64(2592000), rt.ExpiresAt.Unix()-rt.IssuedAt.Unix())

	second, err := f.svcs.Token.Exchange(ctx, f.c1, dto.TokenRequest{GrantType: "refresh_token", RefreshToken: first.RefreshToken})
	require.NoError(t, err)
	assert.NotEqual(t, first.AccessToken, second.AccessToken)
	assert.Empty(t, second.RefreshToken)

	require.NoError(t, f.svcs.Revoke.Revoke(ctx, f.c1, first.RefreshToken, "refresh_token"))

	_, err = f.svcs.Token.Exchange(ctx, f.c1, dto.TokenRequest{GrantType: "refresh_token", RefreshToken: first.RefreshToken})
	requireKind(t, err, oautherr.InvalidGrant)

	assert.False(t, f.introspect(t, first.AccessToken).Active)
	assert.False(t, f.introspect(t, second.AccessToken).Active)
}

func TestIntrospect_ActiveToken(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, fixtureOpts{})
	set, err := f.svcs.Token.Exchange(ctx, f.c1, dto.TokenRequest{GrantType: "client_credentials", Scope: "read write"})
	require.NoError(t, err)

	r := f.introspect(t, set.AccessToken)
	assert.True(t, r.Active)
	assert.Equal(t, "access_token", r.TokenType)
	assert.Equal(t, "c1", r.ClientID)
	assert.Equal(t, "read write", r.Scope)
	assert.Equal(t, "https://as.test", r.Iss)
	assert.Equal(t, f.clk.Now().Unix()+3600, r.Exp)

	assert.Equal(t, "refresh_token", f.introspect(t, set.RefreshToken).TokenType)
	assert.False(t, f.introspect(t, "garbage").Active)

	f.clk.Advance(3601 * time.Second)
	assert.False(t, f.introspect(t, set.AccessToken).Active)
}

func TestExchange_GrantTypeChecks(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, fixtureOpts{})

	_, err := f.svcs.Token.Exchange(ctx, f.c1, dto.TokenRequest{GrantType: "password"})
	requireKind(t, err, oautherr.UnsupportedGrantType)

	_, err = f.svcs.Token.Exchange(ctx, f.c2, dto.TokenRequest{GrantType: "refresh_token", RefreshToken: "x"})
	requireKind(t, err, oautherr.UnauthorizedClient)

	_, err = f.svcs.Token.Exchange(ctx, f.c1, dto.TokenRequest{GrantType: "client_credentials", Scope: "admin"})
	requireKind(t, err, oautherr.InvalidScope)

	// c2 no tiene refresh_token: solo access
	set, err := f.svcs.Token.Exchange(ctx, f.c2, dto.TokenRequest{GrantType: "client_credentials"})
	require.NoError(t, err)
	assert.Empty(t, set.RefreshToken)
}

func TestRefresh_ScopeNarrowingAndOwnership(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, fixtureOpts{})
	set, err := f.svcs.Token.Exchange(ctx, f.c1, dto.TokenRequest{GrantType: "client_credentials", Scope: "read write"})
	require.NoError(t, err)

	narrowed, err := f.svcs.Token.Exchange(ctx, f.c1, dto.TokenRequest{GrantType: "refresh_token", RefreshToken: set.RefreshToken, Scope: "read"})
	require.NoError(t, err)
	assert.Equal(t, "read", narrowed.Scope)

	_, err = f.svcs.Token.Exchange(ctx, f.c1, dto.TokenRequest{GrantType: "refresh_token", RefreshToken: set.RefreshToken, Scope: "read openid"})
	requireKind(t, err, oautherr.InvalidScope)

	// un access token no sirve como refresh
	_, err = f.svcs.Token.Exchange(ctx, f.c1, dto.TokenRequest{GrantType: "refresh_token", RefreshToken: set.AccessToken})
	requireKind(t, err, oautherr.InvalidGrant)
}

func TestRefresh_Rotation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, fixtureOpts{rotate: true})
	set, err := f.svcs.Token.Exchange(ctx, f.c1, dto.TokenRequest{GrantType: "client_credentials"})
	require.NoError(t, err)

	next, err := f.svcs.Token.Exchange(ctx, f.c1, dto.TokenRequest{GrantType: "refresh_token", RefreshToken: set.RefreshToken})
	require.NoError(t, err)
	require.NotEmpty(t, next.RefreshToken)
	assert.NotEqual(t, set.RefreshToken, next.RefreshToken)

	_, err = f.svcs.Token.Exchange(ctx, f.c1, dto.TokenRequest{GrantType: "refresh_token", RefreshToken: set.RefreshToken})
	requireKind(t, err, oautherr.InvalidGrant)

	_, err = f.svcs.Token.Exchange(ctx, f.c1, dto.TokenRequest{GrantType: "refresh_token", RefreshToken: next.RefreshToken})
	require.NoError(t, err)
}

func TestAuthorizationCode_ReplayRevokesGrant(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, fixtureOpts{})

	code, err := f.svcs.Authorize.IssueCode(ctx, dto.CodeRequest{
		ClientID:    "c1",
		Subject:     "alice",
		RedirectURI: "https://app.test/cb",
		Scope:       "openid read",
		State:       "xyz",
		Nonce:       "n-1",
	})
	require.NoError(t, err)
	assert.Contains(t, code.RedirectTo, "state=xyz")
	assert.Contains(t, code.RedirectTo, "code=")

	req := dto.TokenRequest{GrantType: "authorization_code", Code: code.Code, RedirectURI: "https://app.test/cb"}
	set, err := f.svcs.Token.Exchange(ctx, f.c1, req)
	require.NoError(t, err)
	assert.NotEmpty(t, set.IDToken)
	assert.NotEmpty(t, set.RefreshToken)
	assert.Equal(t, "alice", f.introspect(t, set.AccessToken).Sub)

	_, err = f.svcs.Token.Exchange(ctx, f.c1, req)
	requireKind(t, err, oautherr.InvalidGrant)

	assert.False(t, f.introspect(t, set.AccessToken).Active)
	assert.False(t, f.introspect(t, set.RefreshToken).Active)
}

func TestRevoke_ForeignTokenIgnored(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, fixtureOpts{})
	set, err := f.svcs.Token.Exchange(ctx, f.c1, dto.TokenRequest{GrantType: "client_credentials"})
	require.NoError(t, err)

	require.NoError(t, f.svcs.Revoke.Revoke(ctx, f.c2, set.AccessToken, ""))
	assert.True(t, f.introspect(t, set.AccessToken).Active)

	require.NoError(t, f.svcs.Revoke.Revoke(ctx, f.c1, "never-issued", ""))

	require.NoError(t, f.svcs.Revoke.Revoke(ctx, f.c1, set.AccessToken, "access_token"))
	assert.False(t, f.introspect(t, set.AccessToken).Active)
	assert.False(t, f.introspect(t, set.RefreshToken).Active)
	// revocar otra vez sigue siendo éxito
	require.NoError(t, f.svcs.Revoke.Revoke(ctx, f.c1, set.AccessToken, ""))
}

func TestRevokeGrant(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, fixtureOpts{})
	set, err := f.svcs.Token.Exchange(ctx, f.c1, dto.TokenRequest{GrantType: "client_credentials"})
	require.NoError(t, err)
	g, _, err := f.grants.LookupByToken(ctx, set.AccessToken)
	require.NoError(t, err)

	requireKind(t, f.svcs.Revoke.RevokeGrant(ctx, ""), oautherr.InvalidRequest)
	require.NoError(t, f.svcs.Revoke.RevokeGrant(ctx, g.ID))
	assert.False(t, f.introspect(t, set.AccessToken).Active)
}

func TestUMA_PermissionTicketToRPT(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, fixtureOpts{})

	pat, err := f.svcs.Token.Exchange(ctx, f.c1, dto.TokenRequest{GrantType: "client_credentials", Scope: grant.ScopeUMAProtection})
	require.NoError(t, err)
	assert.Empty(t, pat.RefreshToken)
	assert.Equal(t, "pat", f.introspect(t, pat.AccessToken).TokenType)

	perm, err := f.svcs.UMA.RegisterPermission(ctx, pat.AccessToken, dto.PermissionRequest{ResourceID: "photos", ResourceScopes: []string{"view"}})
	require.NoError(t, err)
	assert.NotEmpty(t, perm.Ticket)
	assert.Positive(t, perm.ExpiresIn)

	rpt, err := f.svcs.Token.Exchange(ctx, f.c1, dto.TokenRequest{GrantType: string(repository.GrantTypeUMATicket), Ticket: perm.Ticket})
	require.NoError(t, err)
	r := f.introspect(t, rpt.AccessToken)
	assert.True(t, r.Active)
	assert.Equal(t, "rpt", r.TokenType)
	assert.Equal(t, "view", r.Scope)

	_, err = f.svcs.Token.Exchange(ctx, f.c1, dto.TokenRequest{GrantType: string(repository.GrantTypeUMATicket), Ticket: perm.Ticket})
	requireKind(t, err, oautherr.InvalidGrant)

	// un access token común no registra permisos
	plain, err := f.svcs.Token.Exchange(ctx, f.c1, dto.TokenRequest{GrantType: "client_credentials", Scope: "read"})
	require.NoError(t, err)
	_, err = f.svcs.UMA.RegisterPermission(ctx, plain.AccessToken, dto.PermissionRequest{ResourceID: "photos"})
	requireKind(t, err, oautherr.InvalidGrant)

	_, err = f.svcs.UMA.RegisterPermission(ctx, "bogus", dto.PermissionRequest{ResourceID: "photos"})
	requireKind(t, err, oautherr.InvalidClient)
}

func TestDeviceFlow(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, fixtureOpts{})

	start, err := f.svcs.Device.Start(ctx, f.c1, "read")
	require.NoError(t, err)
	assert.Equal(t, int64(5), start.Interval)

	req := dto.TokenRequest{GrantType: string(repository.GrantTypeDeviceCode), DeviceCode: start.DeviceCode}
	_, err = f.svcs.Token.Exchange(ctx, f.c1, req)
	requireKind(t, err, oautherr.AuthorizationPending)

	require.NoError(t, f.svcs.Device.Verify(ctx, dto.DeviceVerifyRequest{UserCode: start.UserCode, Subject: "bob", Approve: true}))

	set, err := f.svcs.Token.Exchange(ctx, f.c1, req)
	require.NoError(t, err)
	assert.Equal(t, "bob", f.introspect(t, set.AccessToken).Sub)

	_, err = f.svcs.Token.Exchange(ctx, f.c1, req)
	requireKind(t, err, oautherr.InvalidGrant)
}

func TestExchange_RateLimited(t *testing.T) {
	ctx := context.Background()
	gov := rate.NewGovernor(rate.NewMemoryLimiter(clock.NewFake(time.Now())), map[string]rate.Rule{
		rate.ActionToken: {Max: 2, Period: time.Minute},
	})
	f := newFixture(t, fixtureOpts{limiter: gov})

	for i := 0; i < 2; i++ {
		_, err := f.svcs.Token.Exchange(ctx, f.c1, dto.TokenRequest{GrantType: "client_credentials"})
		require.NoError(t, err)
	}
	_, err := f.svcs.Token.Exchange(ctx, f.c1, dto.TokenRequest{GrantType: "client_credentials"})
	requireKind(t, err, oautherr.RateLimited)

	_, err = f.svcs.Token.Exchange(ctx, f.c2, dto.TokenRequest{GrantType: "client_credentials"})
	require.NoError(t, err)
}

func TestRegister(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, fixtureOpts{})
	resp, err := f.svcs.Register.Register(ctx, dto.RegisterRequest{
		ClientName: "svc",
		GrantTypes: []string{"client_credentials"},
		Scope:      "read",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.ClientID)
	assert.NotEmpty(t, resp.ClientSecret)
	assert.Equal(t, "client_secret_basic", resp.TokenEndpointAuthMethod)

	c, err := f.clients.Get(ctx, resp.ClientID)
	require.NoError(t, err)
	assert.True(t, c.AllowsGrant(repository.GrantTypeClientCredentials))

	_, err = f.svcs.Register.Register(ctx, dto.RegisterRequest{GrantTypes: []string{"authorization_code"}})
	requireKind(t, err, oautherr.InvalidRequest)
}
