package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/grantengine/internal/domain/repository"
	"github.com/dropDatabas3/grantengine/internal/store/adapters/memory"
)

// flaky falla las primeras n llamadas a Get con ErrUnavailable.
type flaky struct {
	repository.Store
	failures int
	calls    int
	err      error
}

func (f *flaky) Get(ctx context.Context, key string) (*repository.Entry, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, f.err
	}
	return f.Store.Get(ctx, key)
}

var fastPolicy = RetryPolicy{MaxTries: 3, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond}

func TestRetryingRecoversFromTransientFailures(t *testing.T) {
	ctx := context.Background()
	mem := memory.New()
	require.NoError(t, mem.Put(ctx, &repository.Entry{Key: "grants/g", Value: []byte(`{}`)}))

	f := &flaky{Store: mem, failures: 2, err: fmt.Errorf("%w: boom", repository.ErrUnavailable)}
	r := NewRetrying(f, fastPolicy)

	e, err := r.Get(ctx, "grants/g")
	require.NoError(t, err)
	require.Equal(t, "grants/g", e.Key)
	require.Equal(t, 3, f.calls)
}

func TestRetryingGivesUpAfterMaxTries(t *testing.T) {
	f := &flaky{Store: memory.New(), failures: 100, err: fmt.Errorf("%w: down", repository.ErrUnavailable)}
	r := NewRetrying(f, fastPolicy)

	_, err := r.Get(context.Background(), "grants/g")
	require.True(t, repository.IsUnavailable(err))
	require.Equal(t, 3, f.calls)
}

func TestRetryingDoesNotRetryNotFound(t *testing.T) {
	f := &flaky{Store: memory.New()}
	r := NewRetrying(f, fastPolicy)

	_, err := r.Get(context.Background(), "grants/missing")
	require.True(t, repository.IsNotFound(err))
	require.Equal(t, 1, f.calls)
}

func TestJSONHelpers(t *testing.T) {
	ctx := context.Background()
	s := NewRetrying(memory.New(), fastPolicy)

	type rec struct {
		Name string `json:"name"`
	}
	v, ok, err := CASJSON(ctx, s, 0, Record{Key: "clients/c1", Attrs: map[string]string{"k": "v"}, Value: rec{Name: "a"}})
	require.NoError(t, err)
	require.True(t, ok)
	require.EqualValues(t, 1, v)

	_, ok, err = CASJSON(ctx, s, 0, Record{Key: "clients/c1", Value: rec{Name: "b"}})
	require.NoError(t, err)
	require.False(t, ok)

	var got rec
	ver, err := GetJSON(ctx, s, "clients/c1", &got)
	require.NoError(t, err)
	require.EqualValues(t, 1, ver)
	require.Equal(t, "a", got.Name)

	all, versions, err := FindJSON[rec](ctx, s, "clients", repository.Filter{"k": "v"})
	require.NoError(t, err)
	require.Len(t, all, 1)
	require.Equal(t, []int64{1}, versions)
}

func TestOpenUnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), Config{Driver: "ldap"})
	require.Error(t, err)
}

func TestOpenMemoryByDefault(t *testing.T) {
	s, err := Open(context.Background(), Config{})
	require.NoError(t, err)
	require.IsType(t, &memory.Store{}, s.Unwrap())
}
