// Package storetest contiene la batería de conformidad que todo adapter de
// repository.Store debe pasar.
package storetest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/grantengine/internal/domain/repository"
)

// Run ejecuta la batería contra el store que produce newStore.
func Run(t *testing.T, newStore func(t *testing.T) repository.Store) {
	t.Helper()

	t.Run("GetMissing", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Get(context.Background(), "grants/missing")
		require.True(t, repository.IsNotFound(err), "got %v", err)
	})

	t.Run("PutBumpsVersion", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		e := &repository.Entry{Key: "grants/g1", Value: []byte(`{"a":1}`), Attrs: map[string]string{"client_id": "c1"}}
		require.NoError(t, s.Put(ctx, e))
		require.EqualValues(t, 1, e.Version)
		require.NoError(t, s.Put(ctx, &repository.Entry{Key: "grants/g1", Value: []byte(`{"a":2}`)}))

		got, err := s.Get(ctx, "grants/g1")
		require.NoError(t, err)
		require.EqualValues(t, 2, got.Version)
		require.JSONEq(t, `{"a":2}`, string(got.Value))
	})

	t.Run("CASCreateOnlyOnce", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		ok, err := s.CASPut(ctx, 0, &repository.Entry{Key: "jti/x", Value: []byte(`1`)})
		require.NoError(t, err)
		require.True(t, ok)
		ok, err = s.CASPut(ctx, 0, &repository.Entry{Key: "jti/x", Value: []byte(`2`)})
		require.NoError(t, err)
		require.False(t, ok, "second create must lose")
	})

	t.Run("CASVersionMismatch", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		e := &repository.Entry{Key: "tokens/t1", Value: []byte(`{}`)}
		ok, err := s.CASPut(ctx, 0, e)
		require.NoError(t, err)
		require.True(t, ok)
		require.EqualValues(t, 1, e.Version)

		ok, err = s.CASPut(ctx, 7, &repository.Entry{Key: "tokens/t1", Value: []byte(`{"x":1}`)})
		require.NoError(t, err)
		require.False(t, ok)

		upd := &repository.Entry{Key: "tokens/t1", Value: []byte(`{"x":2}`)}
		ok, err = s.CASPut(ctx, 1, upd)
		require.NoError(t, err)
		require.True(t, ok)
		require.EqualValues(t, 2, upd.Version)
	})

	t.Run("ConcurrentCASSingleWinner", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		require.NoError(t, s.Put(ctx, &repository.Entry{Key: "grants/race", Value: []byte(`{}`)}))

		const n = 8
		var wg sync.WaitGroup
		wins := make(chan bool, n)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				ok, err := s.CASPut(ctx, 1, &repository.Entry{Key: "grants/race", Value: []byte(`{"s":"REVOKED"}`)})
				if err == nil {
					wins <- ok
				}
			}()
		}
		wg.Wait()
		close(wins)
		count := 0
		for ok := range wins {
			if ok {
				count++
			}
		}
		require.Equal(t, 1, count)
	})

	t.Run("DeleteIdempotent", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		require.NoError(t, s.Put(ctx, &repository.Entry{Key: "codes/c", Value: []byte(`{}`)}))
		require.NoError(t, s.Delete(ctx, "codes/c"))
		require.NoError(t, s.Delete(ctx, "codes/c"))
		_, err := s.Get(ctx, "codes/c")
		require.True(t, repository.IsNotFound(err))
	})

	t.Run("FindByAttr", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		exp := time.Now().Add(time.Hour).UTC().Truncate(time.Second)
		for _, e := range []*repository.Entry{
			{Key: "tokens/a", Attrs: map[string]string{"grant_id": "g1", "kind": "access"}, Value: []byte(`1`), ExpiresAt: exp},
			{Key: "tokens/b", Attrs: map[string]string{"grant_id": "g1", "kind": "refresh"}, Value: []byte(`2`)},
			{Key: "tokens/c", Attrs: map[string]string{"grant_id": "g2", "kind": "access"}, Value: []byte(`3`)},
			{Key: "grants/g1", Attrs: map[string]string{"grant_id": "g1"}, Value: []byte(`4`)},
		} {
			require.NoError(t, s.Put(ctx, e))
		}

		got, err := s.Find(ctx, "tokens", repository.Filter{"grant_id": "g1"})
		require.NoError(t, err)
		keys := map[string]bool{}
		for _, e := range got {
			keys[e.Key] = true
		}
		require.Equal(t, map[string]bool{"tokens/a": true, "tokens/b": true}, keys)

		got, err = s.Find(ctx, "tokens", repository.Filter{"grant_id": "g1", "kind": "access"})
		require.NoError(t, err)
		require.Len(t, got, 1)
		require.Equal(t, "tokens/a", got[0].Key)
		require.True(t, got[0].ExpiresAt.Equal(exp), "expires_at must round-trip")

		all, err := s.Find(ctx, "tokens", nil)
		require.NoError(t, err)
		require.Len(t, all, 3)
	})

	t.Run("FindSeesAttrUpdates", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		require.NoError(t, s.Put(ctx, &repository.Entry{Key: "tokens/z", Attrs: map[string]string{"grant_id": "g9", "status": "ACTIVE"}, Value: []byte(`1`)}))
		require.NoError(t, s.Put(ctx, &repository.Entry{Key: "tokens/z", Attrs: map[string]string{"grant_id": "g9", "status": "INACTIVE"}, Value: []byte(`1`)}))

		got, err := s.Find(ctx, "tokens", repository.Filter{"status": "ACTIVE"})
		require.NoError(t, err)
		require.Empty(t, got)
		got, err = s.Find(ctx, "tokens", repository.Filter{"grant_id": "g9"})
		require.NoError(t, err)
		require.Len(t, got, 1)
	})
}
