package revocation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/grantengine/internal/clock"
	"github.com/dropDatabas3/grantengine/internal/domain/repository"
	"github.com/dropDatabas3/grantengine/internal/grant"
	"github.com/dropDatabas3/grantengine/internal/store/adapters/memory"
)

type clients map[string]*repository.Client

func (m clients) Get(_ context.Context, id string) (*repository.Client, error) {
	if c, ok := m[id]; ok {
		return c, nil
	}
	return nil, repository.ErrNotFound
}

type family struct {
	grant   *repository.Grant
	refresh *repository.Token
	access  []*repository.Token
}

func setup(t *testing.T) (*Cascade, *grant.Registry) {
	t.Helper()
	clk := clock.NewFake(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	cs := clients{"c1": {
		ID:         "c1",
		Type:       repository.ClientTypeConfidential,
		GrantTypes: []repository.GrantType{repository.GrantTypeClientCredentials, repository.GrantTypeRefreshToken},
		Scopes:     []string{"read"},
	}}
	reg := grant.NewRegistry(memory.New(), grant.NewFactory(nil, clk, grant.DefaultLifetimes), cs, clk, grant.Options{})
	return New(reg, 2), reg
}

// newFamily crea un grant con un refresh y n access emitidos desde él.
func newFamily(t *testing.T, reg *grant.Registry, n int) family {
	t.Helper()
	ctx := context.Background()
	g, err := reg.Create(ctx, grant.CreateRequest{GrantType: repository.GrantTypeClientCredentials, ClientID: "c1"})
	require.NoError(t, err)
	f := family{grant: g}
	f.refresh, err = reg.IssueToken(ctx, g, repository.TokenRefresh, nil, grant.MintOptions{})
	require.NoError(t, err)
	for i := 0; i < n; i++ {
		a, err := reg.IssueToken(ctx, g, repository.TokenAccess, nil, grant.MintOptions{MintedBy: f.refresh.Hash})
		require.NoError(t, err)
		f.access = append(f.access, a)
	}
	return f
}

// snapshot resume el estado persistido de la familia.
func snapshot(t *testing.T, reg *grant.Registry, f family) (repository.GrantStatus, []repository.TokenStatus) {
	t.Helper()
	ctx := context.Background()
	g, err := reg.Get(ctx, f.grant.ID)
	require.NoError(t, err)
	var statuses []repository.TokenStatus
	for _, tok := range append([]*repository.Token{f.refresh}, f.access...) {
		cur, err := reg.TokenByHash(ctx, tok.Hash)
		require.NoError(t, err)
		statuses = append(statuses, cur.Status)
	}
	return g.Status, statuses
}

func allInactive(n int) []repository.TokenStatus {
	out := make([]repository.TokenStatus, n)
	for i := range out {
		out[i] = repository.TokenInactive
	}
	return out
}

func TestRevokeToken_RefreshCascadesToAllAccess(t *testing.T) {
	c, reg := setup(t)
	f := newFamily(t, reg, 5)

	require.NoError(t, c.RevokeToken(context.Background(), f.refresh.Value, "refresh_token"))

	status, toks := snapshot(t, reg, f)
	assert.Equal(t, repository.GrantRevoked, status)
	assert.Equal(t, allInactive(6), toks)
	for _, a := range f.access {
		_, _, err := reg.LookupByToken(context.Background(), a.Value)
		assert.ErrorIs(t, err, grant.ErrRevoked)
	}
}

func TestRevokeToken_AccessTakesPairedRefresh(t *testing.T) {
	c, reg := setup(t)
	f := newFamily(t, reg, 3)

	require.NoError(t, c.RevokeToken(context.Background(), f.access[1].Value, ""))

	status, toks := snapshot(t, reg, f)
	assert.Equal(t, repository.GrantRevoked, status)
	assert.Equal(t, allInactive(4), toks)
}

func TestRevokeToken_IdempotentAndOrderIndependent(t *testing.T) {
	ctx := context.Background()
	c, reg := setup(t)

	a := newFamily(t, reg, 2)
	require.NoError(t, c.RevokeToken(ctx, a.access[0].Value, ""))
	require.NoError(t, c.RevokeToken(ctx, a.refresh.Value, ""))
	require.NoError(t, c.RevokeToken(ctx, a.refresh.Value, ""))

	b := newFamily(t, reg, 2)
	require.NoError(t, c.RevokeToken(ctx, b.refresh.Value, ""))
	require.NoError(t, c.RevokeToken(ctx, b.access[0].Value, ""))
	require.NoError(t, c.RevokeToken(ctx, b.access[0].Value, ""))

	sa, ta := snapshot(t, reg, a)
	sb, tb := snapshot(t, reg, b)
	assert.Equal(t, sa, sb)
	assert.Equal(t, ta, tb)
}

func TestRevokeToken_UnknownIsSuccess(t *testing.T) {
	c, _ := setup(t)
	assert.NoError(t, c.RevokeToken(context.Background(), "never-issued", ""))
	assert.NoError(t, c.RevokeToken(context.Background(), "", ""))
}

func TestRevokeGrant(t *testing.T) {
	ctx := context.Background()
	c, reg := setup(t)
	f := newFamily(t, reg, 4)
	other := newFamily(t, reg, 1)

	require.NoError(t, c.RevokeGrant(ctx, f.grant.ID))
	require.NoError(t, c.RevokeGrant(ctx, f.grant.ID))

	status, toks := snapshot(t, reg, f)
	assert.Equal(t, repository.GrantRevoked, status)
	assert.Equal(t, allInactive(5), toks)

	// otra familia intacta
	status, toks = snapshot(t, reg, other)
	assert.Equal(t, repository.GrantActive, status)
	assert.Equal(t, []repository.TokenStatus{repository.TokenActive, repository.TokenActive}, toks)

	// no se puede emitir sobre un grant revocado
	_, err := reg.IssueToken(ctx, f.grant, repository.TokenAccess, nil, grant.MintOptions{})
	assert.ErrorIs(t, err, grant.ErrGrantRevoked)
}
