package sweep

import (
	"context"
	"encoding/base64"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/grantengine/internal/clock"
	"github.com/dropDatabas3/grantengine/internal/domain/repository"
	"github.com/dropDatabas3/grantengine/internal/grant"
	"github.com/dropDatabas3/grantengine/internal/jwt"
	"github.com/dropDatabas3/grantengine/internal/security/secretbox"
	"github.com/dropDatabas3/grantengine/internal/store/adapters/memory"
)

type oneClient struct{ c *repository.Client }

func (o oneClient) Get(_ context.Context, id string) (*repository.Client, error) {
	if id != o.c.ID {
		return nil, repository.ErrNotFound
	}
	cp := *o.c
	return &cp, nil
}

func put(t *testing.T, s repository.Store, key string, exp time.Time) {
	t.Helper()
	require.NoError(t, s.Put(context.Background(), &repository.Entry{Key: key, Value: []byte(`{}`), ExpiresAt: exp}))
}

func TestSweeper_DeletesOnlyPastGrace(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	clk := clock.NewFake(now)
	s := memory.New()

	put(t, s, repository.Key(repository.NSTokens, "old"), now.Add(-2*time.Hour))
	put(t, s, repository.Key(repository.NSTokens, "in-grace"), now.Add(-30*time.Minute))
	put(t, s, repository.Key(repository.NSTokens, "live"), now.Add(time.Hour))
	put(t, s, repository.Key(repository.NSCiba, "old"), now.Add(-3*time.Hour))
	put(t, s, repository.Key(repository.NSTokens, "forever"), time.Time{})
	put(t, s, repository.Key(repository.NSClients, "c1"), now.Add(-5*time.Hour))

	deleted, err := New(s, clk, time.Hour).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, deleted[repository.NSTokens])
	assert.Equal(t, 1, deleted[repository.NSCiba])

	for _, key := range []string{"tokens/in-grace", "tokens/live", "tokens/forever", "clients/c1"} {
		_, err := s.Get(ctx, key)
		assert.NoError(t, err, key)
	}
	for _, key := range []string{"tokens/old", "ciba/old"} {
		_, err := s.Get(ctx, key)
		assert.True(t, repository.IsNotFound(err), key)
	}
}

func TestSweeper_CustomNamespaces(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	s := memory.New()
	put(t, s, repository.Key(repository.NSTokens, "old"), now.Add(-2*time.Hour))
	put(t, s, repository.Key(repository.NSJTI, "old"), now.Add(-2*time.Hour))

	deleted, err := New(s, clock.NewFake(now), 0, repository.NSJTI).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{repository.NSJTI: 1}, deleted)

	_, err = s.Get(ctx, "tokens/old")
	assert.NoError(t, err)
}

func TestSweeper_LoopStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		New(memory.New(), clock.System{}, time.Hour).Loop(ctx, time.Millisecond)
		close(done)
	}()
	time.Sleep(5 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("loop did not stop")
	}
}

func TestSweeper_KeepsGrantOfRotatedRefresh(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewFake(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
	s := memory.New()
	box, err := secretbox.New(base64.StdEncoding.EncodeToString(make([]byte, 32)))
	require.NoError(t, err)
	ks := jwt.NewKeystore(s, box, clk)
	require.NoError(t, ks.EnsureBootstrap(ctx))
	factory := grant.NewFactory(jwt.NewIssuer("https://as.test", ks, clk), clk, grant.Lifetimes{Access: 600, Refresh: 3600, ID: 300})
	reg := grant.NewRegistry(s, factory, oneClient{&repository.Client{
		ID:         "c1",
		Type:       repository.ClientTypeConfidential,
		GrantTypes: []repository.GrantType{repository.GrantTypeClientCredentials, repository.GrantTypeRefreshToken},
		Scopes:     []string{"read"},
	}}, clk, grant.Options{})

	g, err := reg.Create(ctx, grant.CreateRequest{GrantType: repository.GrantTypeClientCredentials, ClientID: "c1"})
	require.NoError(t, err)
	_, issued, err := reg.IssueSet(ctx, g, grant.SetOptions{Refresh: true})
	require.NoError(t, err)
	first := issued[1]

	// rotación a los 50 minutos: el refresh nuevo vence después que el original
	clk.Advance(50 * time.Minute)
	_, issued, err = reg.IssueSet(ctx, g, grant.SetOptions{Refresh: true, MintedBy: first.Hash})
	require.NoError(t, err)
	require.NoError(t, reg.Deactivate(ctx, first))
	rotated := issued[1]

	clk.Advance(20 * time.Minute)
	_, err = New(s, clk, 0).Run(ctx)
	require.NoError(t, err)

	gotG, gotT, err := reg.LookupByToken(ctx, rotated.Value)
	require.NoError(t, err)
	assert.Equal(t, g.ID, gotG.ID)
	assert.Equal(t, repository.TokenActive, gotT.Status)
}

func TestSweeper_ExpiredGrantWithLiveToken(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	s := memory.New()

	putToken := func(hash, grantID string, status repository.TokenStatus, exp time.Time) {
		require.NoError(t, s.Put(ctx, &repository.Entry{
			Key:       repository.Key(repository.NSTokens, hash),
			Attrs:     map[string]string{repository.AttrGrantID: grantID, repository.AttrStatus: string(status)},
			Value:     []byte(`{}`),
			ExpiresAt: exp,
		}))
	}
	put(t, s, repository.Key(repository.NSGrants, "g-live"), now.Add(-2*time.Hour))
	putToken("live", "g-live", repository.TokenActive, now.Add(time.Hour))
	put(t, s, repository.Key(repository.NSGrants, "g-dead"), now.Add(-2*time.Hour))
	putToken("dead", "g-dead", repository.TokenInactive, now.Add(time.Hour))
	put(t, s, repository.Key(repository.NSGrants, "g-empty"), now.Add(-2*time.Hour))

	deleted, err := New(s, clock.NewFake(now), time.Hour, repository.NSGrants).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, deleted[repository.NSGrants])

	_, err = s.Get(ctx, "grants/g-live")
	assert.NoError(t, err)
	for _, key := range []string{"grants/g-dead", "grants/g-empty"} {
		_, err := s.Get(ctx, key)
		assert.True(t, repository.IsNotFound(err), key)
	}
}
