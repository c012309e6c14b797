package grant

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/grantengine/internal/domain/oautherr"
	"github.com/dropDatabas3/grantengine/internal/domain/repository"
)

func TestCreate_Validation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, DefaultLifetimes)

	_, err := f.reg.Create(ctx, CreateRequest{GrantType: repository.GrantTypeCIBA, ClientID: "c1"})
	assert.Equal(t, oautherr.UnauthorizedClient, oautherr.KindOf(err))

	_, err = f.reg.Create(ctx, CreateRequest{GrantType: repository.GrantTypeClientCredentials, ClientID: "c1", Scopes: []string{"admin"}})
	assert.Equal(t, oautherr.InvalidScope, oautherr.KindOf(err))

	_, err = f.reg.Create(ctx, CreateRequest{GrantType: repository.GrantTypeClientCredentials, ClientID: "ghost"})
	assert.Equal(t, oautherr.InvalidClient, oautherr.KindOf(err))

	g, err := f.reg.Create(ctx, CreateRequest{GrantType: repository.GrantTypeClientCredentials, ClientID: "cc-only"})
	require.NoError(t, err)
	assert.Equal(t, []string{"read"}, g.Scopes, "empty request gets the client's scopes")
	assert.Equal(t, repository.GrantActive, g.Status)
	assert.Equal(t, f.clk.Now().Add(2592000*time.Second), g.ExpiresAt)

	stored, err := f.reg.Get(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, g.ID, stored.ID)
}

func TestIssueAndLookup(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, DefaultLifetimes)
	g := f.grant(t, repository.GrantTypeClientCredentials, "", "read")

	tok, err := f.reg.IssueToken(ctx, g, repository.TokenAccess, nil, MintOptions{})
	require.NoError(t, err)

	gotG, gotT, err := f.reg.LookupByToken(ctx, tok.Value)
	require.NoError(t, err)
	assert.Equal(t, g.ID, gotG.ID)
	assert.Equal(t, tok.Hash, gotT.Hash)
	assert.Empty(t, gotT.Value, "plain value is never persisted")

	_, _, err = f.reg.LookupByToken(ctx, "nope")
	assert.ErrorIs(t, err, ErrUnknownToken)

	f.clk.Advance(3601 * time.Second)
	_, _, err = f.reg.LookupByToken(ctx, tok.Value)
	assert.ErrorIs(t, err, ErrExpired)
	assert.Equal(t, oautherr.InvalidGrant, oautherr.KindOf(err))
}

func TestLookup_RevokedGrant(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, DefaultLifetimes)
	g := f.grant(t, repository.GrantTypeClientCredentials, "")
	tok, err := f.reg.IssueToken(ctx, g, repository.TokenAccess, nil, MintOptions{})
	require.NoError(t, err)

	require.NoError(t, f.reg.Revoke(ctx, g.ID))
	_, _, err = f.reg.LookupByToken(ctx, tok.Value)
	assert.ErrorIs(t, err, ErrRevoked)
	assert.True(t, IsLookupFailure(err))
}

func TestRevoke_IdempotentAndConcurrent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, DefaultLifetimes)
	g := f.grant(t, repository.GrantTypeClientCredentials, "")

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = f.reg.Revoke(ctx, g.ID)
		}(i)
	}
	wg.Wait()
	for _, err := range errs {
		assert.NoError(t, err)
	}
	require.NoError(t, f.reg.Revoke(ctx, g.ID))
	require.NoError(t, f.reg.Revoke(ctx, "unknown-grant"))

	stored, err := f.reg.Get(ctx, g.ID)
	require.NoError(t, err)
	assert.True(t, stored.Revoked())
}

func TestIssueToken_LosesRaceAgainstRevoke(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, DefaultLifetimes)
	g := f.grant(t, repository.GrantTypeClientCredentials, "")

	// la copia en memoria sigue ACTIVE; el store ya está REVOKED
	require.NoError(t, f.reg.Revoke(ctx, g.ID))
	_, err := f.reg.IssueToken(ctx, g, repository.TokenAccess, nil, MintOptions{})
	require.ErrorIs(t, err, ErrGrantRevoked)

	toks, err := f.reg.TokensOf(ctx, g.ID)
	require.NoError(t, err)
	require.Len(t, toks, 1)
	assert.Equal(t, repository.TokenInactive, toks[0].Status)
}

func TestDeactivate_Idempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, DefaultLifetimes)
	g := f.grant(t, repository.GrantTypeClientCredentials, "")
	tok, err := f.reg.IssueToken(ctx, g, repository.TokenAccess, nil, MintOptions{})
	require.NoError(t, err)

	require.NoError(t, f.reg.Deactivate(ctx, tok))
	require.NoError(t, f.reg.Deactivate(ctx, tok))
	assert.Equal(t, repository.TokenInactive, tok.Status)

	_, _, err = f.reg.LookupByToken(ctx, tok.Value)
	assert.ErrorIs(t, err, ErrRevoked)

	entries, err := f.store.Find(ctx, repository.NSTokens, repository.Filter{repository.AttrStatus: string(repository.TokenInactive)})
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestIssueSet(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, DefaultLifetimes)
	g := f.grant(t, repository.GrantTypeAuthorizationCode, "alice", "openid", "read")

	set, issued, err := f.reg.IssueSet(ctx, g, SetOptions{Refresh: true, IDToken: true})
	require.NoError(t, err)
	assert.Len(t, issued, 3)
	assert.Equal(t, "Bearer", set.TokenType)
	assert.Equal(t, int64(3600), set.ExpiresIn)
	assert.Equal(t, "openid read", set.Scope)
	assert.NotEmpty(t, set.RefreshToken)
	assert.NotEmpty(t, set.IDToken)

	// sin owner no hay id_token
	cc := f.grant(t, repository.GrantTypeClientCredentials, "", "openid")
	set, _, err = f.reg.IssueSet(ctx, cc, SetOptions{IDToken: true})
	require.NoError(t, err)
	assert.Empty(t, set.IDToken)
	assert.Empty(t, set.RefreshToken)
}

func TestMintedByIndex(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, DefaultLifetimes)
	g := f.grant(t, repository.GrantTypeClientCredentials, "")
	refresh, err := f.reg.IssueToken(ctx, g, repository.TokenRefresh, nil, MintOptions{})
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		_, err := f.reg.IssueToken(ctx, g, repository.TokenAccess, nil, MintOptions{MintedBy: refresh.Hash})
		require.NoError(t, err)
	}
	minted, err := f.reg.MintedBy(ctx, refresh.Hash)
	require.NoError(t, err)
	assert.Len(t, minted, 2)
}

func TestPollTooSoon(t *testing.T) {
	base := time.Unix(1_700_000_000, 0)
	assert.False(t, PollTooSoon(nil, 5, base))
	assert.True(t, PollTooSoon(&base, 5, base.Add(2*time.Second)))
	assert.False(t, PollTooSoon(&base, 5, base.Add(5*time.Second)))
	assert.False(t, PollTooSoon(&base, 0, base))
}

func TestAuthorizationCode_PKCEAndReuse(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, DefaultLifetimes)
	spa := f.clients["spa"]

	verifier := "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"
	challenge := "E9Melhoa2OwvFrEMTJguCHaoeK1t8URWbuGJSstw-cM"

	_, err := f.reg.CreateAuthorizationCode(ctx, CodeRequest{ClientID: "spa", OwnerID: "alice", RedirectURI: "https://spa.test/cb"})
	assert.Equal(t, oautherr.InvalidRequest, oautherr.KindOf(err), "public clients need PKCE")

	code, err := f.reg.CreateAuthorizationCode(ctx, CodeRequest{
		ClientID: "spa", OwnerID: "alice", RedirectURI: "https://spa.test/cb",
		CodeChallenge: challenge, CodeChallengeMethod: PKCES256, Nonce: "n1",
	})
	require.NoError(t, err)

	_, err = f.reg.RedeemAuthorizationCode(ctx, spa, code, "https://spa.test/cb", "wrong-verifier")
	assert.Equal(t, oautherr.InvalidGrant, oautherr.KindOf(err))

	g, err := f.reg.RedeemAuthorizationCode(ctx, spa, code, "https://spa.test/cb", verifier)
	require.NoError(t, err)
	assert.Equal(t, "alice", g.OwnerID)
	assert.Equal(t, "n1", g.Nonce)
	assert.Equal(t, repository.GrantTypeAuthorizationCode, g.Type)

	_, err = f.reg.RedeemAuthorizationCode(ctx, spa, code, "https://spa.test/cb", verifier)
	assert.Equal(t, oautherr.InvalidGrant, oautherr.KindOf(err))
	reused, ok := ReusedGrant(err)
	require.True(t, ok)
	assert.Equal(t, g.ID, reused)
}

func TestAuthorizationCode_ExpiredAndRedirectMismatch(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, DefaultLifetimes)
	c := f.clients["c1"]

	code, err := f.reg.CreateAuthorizationCode(ctx, CodeRequest{ClientID: "c1", OwnerID: "bob", RedirectURI: "https://app.test/cb"})
	require.NoError(t, err)
	_, err = f.reg.RedeemAuthorizationCode(ctx, c, code, "https://evil.test/cb", "")
	assert.Equal(t, oautherr.InvalidGrant, oautherr.KindOf(err))

	f.clk.Advance(61 * time.Second)
	_, err = f.reg.RedeemAuthorizationCode(ctx, c, code, "https://app.test/cb", "")
	assert.Equal(t, oautherr.InvalidGrant, oautherr.KindOf(err))
	_, reused := ReusedGrant(err)
	assert.False(t, reused)
}

func TestDeviceFlow(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, DefaultLifetimes)
	c := f.clients["c1"]

	start, err := f.reg.StartDevice(ctx, c, []string{"read"})
	require.NoError(t, err)
	assert.Equal(t, int64(5), start.Interval)
	assert.Equal(t, int64(600), start.ExpiresIn)
	assert.Len(t, start.UserCode, 9)

	_, err = f.reg.PollDevice(ctx, c, start.DeviceCode)
	assert.Equal(t, oautherr.AuthorizationPending, oautherr.KindOf(err))
	f.clk.Advance(2 * time.Second)
	_, err = f.reg.PollDevice(ctx, c, start.DeviceCode)
	assert.Equal(t, oautherr.SlowDown, oautherr.KindOf(err))
	f.clk.Advance(4 * time.Second)
	_, err = f.reg.PollDevice(ctx, c, start.DeviceCode)
	assert.Equal(t, oautherr.AuthorizationPending, oautherr.KindOf(err))

	// el usuario tipea el código en minúsculas y sin guion
	typed := strings.ToLower(start.UserCode[:4] + start.UserCode[5:])
	require.NoError(t, f.reg.VerifyDevice(ctx, typed, "carol", true))
	assert.Error(t, f.reg.VerifyDevice(ctx, start.UserCode, "carol", true), "decided only once")

	f.clk.Advance(6 * time.Second)
	g, err := f.reg.PollDevice(ctx, c, start.DeviceCode)
	require.NoError(t, err)
	assert.Equal(t, "carol", g.OwnerID)
	assert.Equal(t, repository.GrantTypeDeviceCode, g.Type)

	_, err = f.reg.PollDevice(ctx, c, start.DeviceCode)
	assert.Equal(t, oautherr.InvalidGrant, oautherr.KindOf(err))
}

func TestDeviceFlow_DeniedAndExpired(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, DefaultLifetimes)
	c := f.clients["c1"]

	denied, err := f.reg.StartDevice(ctx, c, nil)
	require.NoError(t, err)
	require.NoError(t, f.reg.VerifyDevice(ctx, denied.UserCode, "", false))
	_, err = f.reg.PollDevice(ctx, c, denied.DeviceCode)
	assert.Equal(t, oautherr.AccessDenied, oautherr.KindOf(err))

	expired, err := f.reg.StartDevice(ctx, c, nil)
	require.NoError(t, err)
	f.clk.Advance(601 * time.Second)
	_, err = f.reg.PollDevice(ctx, c, expired.DeviceCode)
	assert.Equal(t, oautherr.ExpiredToken, oautherr.KindOf(err))

	_, err = f.reg.StartDevice(ctx, f.clients["cc-only"], nil)
	assert.Equal(t, oautherr.UnauthorizedClient, oautherr.KindOf(err))
}

func TestPermissionTicket(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, DefaultLifetimes)
	g := f.grant(t, repository.GrantTypeClientCredentials, "", ScopeUMAProtection)
	pat, err := f.reg.IssueToken(ctx, g, repository.TokenPAT, nil, MintOptions{})
	require.NoError(t, err)
	access, err := f.reg.IssueToken(ctx, g, repository.TokenAccess, nil, MintOptions{})
	require.NoError(t, err)

	_, _, err = f.reg.CreatePermissionTicket(ctx, access, "photo-1", nil)
	assert.Equal(t, oautherr.InvalidGrant, oautherr.KindOf(err))

	ticket, _, err := f.reg.CreatePermissionTicket(ctx, pat, "photo-1", []string{"view"})
	require.NoError(t, err)

	rec, err := f.reg.RedeemPermissionTicket(ctx, ticket)
	require.NoError(t, err)
	assert.Equal(t, "photo-1", rec.ResourceID)
	assert.Equal(t, []string{"view"}, rec.Scopes)

	_, err = f.reg.RedeemPermissionTicket(ctx, ticket)
	assert.Equal(t, oautherr.InvalidGrant, oautherr.KindOf(err))
}

func TestPermissionTicket_RevokedPAT(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, DefaultLifetimes)
	g := f.grant(t, repository.GrantTypeClientCredentials, "", ScopeUMAProtection)
	pat, err := f.reg.IssueToken(ctx, g, repository.TokenPAT, nil, MintOptions{})
	require.NoError(t, err)
	ticket, _, err := f.reg.CreatePermissionTicket(ctx, pat, "photo-1", nil)
	require.NoError(t, err)

	require.NoError(t, f.reg.Revoke(ctx, g.ID))
	_, err = f.reg.RedeemPermissionTicket(ctx, ticket)
	assert.True(t, oautherr.Is(err, oautherr.InvalidGrant))
}

func TestIssueToken_ExtendsGrantForLongerToken(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Lifetimes{Access: 600, Refresh: 3600, ID: 300})
	g := f.grant(t, repository.GrantTypeClientCredentials, "")
	created := g.ExpiresAt

	f.clk.Advance(50 * time.Minute)
	rotated, err := f.reg.IssueToken(ctx, g, repository.TokenRefresh, nil, MintOptions{})
	require.NoError(t, err)
	require.True(t, rotated.ExpiresAt.After(created))

	stored, err := f.reg.Get(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, rotated.ExpiresAt, stored.ExpiresAt)

	// un token más corto no achica el grant
	_, err = f.reg.IssueToken(ctx, g, repository.TokenAccess, nil, MintOptions{})
	require.NoError(t, err)
	stored, err = f.reg.Get(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, rotated.ExpiresAt, stored.ExpiresAt)
}

func TestIssueSet_FailureDeactivatesPartialSet(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, DefaultLifetimes)
	g := f.grant(t, repository.GrantTypeAuthorizationCode, "alice", "openid", "read")

	c, err := f.clients.Get(ctx, "c1")
	require.NoError(t, err)
	zero := int64(0)

	t.Run("refresh fails", func(t *testing.T) {
		broken := *c
		broken.RefreshTokenLifetime = &zero
		_, _, err := f.reg.IssueSet(ctx, g, SetOptions{Client: &broken, Refresh: true})
		assert.Equal(t, oautherr.InvalidLifetime, oautherr.KindOf(err))
	})

	t.Run("id token fails", func(t *testing.T) {
		broken := *c
		broken.IDTokenLifetime = &zero
		_, _, err := f.reg.IssueSet(ctx, g, SetOptions{Client: &broken, Refresh: true, IDToken: true})
		assert.Equal(t, oautherr.InvalidLifetime, oautherr.KindOf(err))
	})

	tokens, err := f.reg.TokensOf(ctx, g.ID)
	require.NoError(t, err)
	require.Len(t, tokens, 3, "access from the first set, access and refresh from the second")
	for _, tok := range tokens {
		assert.Equal(t, repository.TokenInactive, tok.Status, tok.Kind)
	}
}
