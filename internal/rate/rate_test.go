package rate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	rdb "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/grantengine/internal/clock"
	"github.com/dropDatabas3/grantengine/internal/domain/oautherr"
	"github.com/dropDatabas3/grantengine/internal/store/adapters/memory"
)

var rules = map[string]Rule{ActionRegister: {Max: 3, Period: 40 * time.Second}}

func assertWindow(t *testing.T, g *Governor, advance func(time.Duration)) {
	t.Helper()
	ctx := context.Background()
	for i := 1; i <= 3; i++ {
		res, err := g.Check(ctx, "c1", ActionRegister)
		require.NoError(t, err)
		assert.True(t, res.Allowed, "call %d", i)
		assert.Equal(t, int64(3-i), res.Remaining)
	}
	res, err := g.Check(ctx, "c1", ActionRegister)
	require.NoError(t, err)
	assert.False(t, res.Allowed, "4th call must be rejected")
	assert.Greater(t, res.RetryAfter, time.Duration(0))

	// otro cliente tiene su propia ventana
	res, err = g.Check(ctx, "c2", ActionRegister)
	require.NoError(t, err)
	assert.True(t, res.Allowed)

	advance(41 * time.Second)
	res, err = g.Check(ctx, "c1", ActionRegister)
	require.NoError(t, err)
	assert.True(t, res.Allowed, "new window must allow again")
	assert.Equal(t, int64(1), res.CurrentHits)
}

func TestGovernor_Memory(t *testing.T) {
	clk := clock.NewFake(time.Unix(1_700_000_000, 0))
	assertWindow(t, NewGovernor(NewMemoryLimiter(clk), rules), clk.Advance)
}

func TestGovernor_Store(t *testing.T) {
	clk := clock.NewFake(time.Unix(1_700_000_000, 0))
	assertWindow(t, NewGovernor(NewStoreLimiter(memory.New(), clk), rules), clk.Advance)
}

func TestGovernor_Redis(t *testing.T) {
	mr := miniredis.RunT(t)
	client := rdb.NewClient(&rdb.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	assertWindow(t, NewGovernor(NewRedisLimiter(client, ""), rules), mr.FastForward)
}

func TestGovernor_NoRuleAllowsEverything(t *testing.T) {
	clk := clock.NewFake(time.Unix(1_700_000_000, 0))
	g := NewGovernor(NewMemoryLimiter(clk), rules)
	for i := 0; i < 100; i++ {
		res, err := g.Check(context.Background(), "c1", ActionCIBA)
		require.NoError(t, err)
		require.True(t, res.Allowed)
	}
}

func TestGovernor_IgnoresInvalidRules(t *testing.T) {
	g := NewGovernor(NewMemoryLimiter(clock.System{}), map[string]Rule{
		ActionToken:  {Max: 0, Period: time.Minute},
		ActionDevice: {Max: 5},
	})
	_, ok := g.Rule(ActionToken)
	assert.False(t, ok)
	_, ok = g.Rule(ActionDevice)
	assert.False(t, ok)
}

func TestGovernor_Enforce(t *testing.T) {
	clk := clock.NewFake(time.Unix(1_700_000_000, 0))
	g := NewGovernor(NewMemoryLimiter(clk), map[string]Rule{ActionCIBA: {Max: 1, Period: time.Minute}})
	ctx := context.Background()

	require.NoError(t, g.Enforce(ctx, "c1", ActionCIBA))
	err := g.Enforce(ctx, "c1", ActionCIBA)
	require.Error(t, err)
	assert.Equal(t, oautherr.RateLimited, oautherr.KindOf(err))

	var le *LimitedError
	require.True(t, errors.As(err, &le))
	assert.Equal(t, ActionCIBA, le.Action)
	assert.Equal(t, time.Minute, le.Result.RetryAfter)
}

type failingBackend struct{}

func (failingBackend) AllowWithLimits(context.Context, string, int, time.Duration) (Result, error) {
	return Result{}, errors.New("boom")
}

func TestGovernor_EnforceFailsOpen(t *testing.T) {
	g := NewGovernor(failingBackend{}, rules)
	assert.NoError(t, g.Enforce(context.Background(), "c1", ActionRegister))
	_, err := g.Check(context.Background(), "c1", ActionRegister)
	assert.Error(t, err)
}
