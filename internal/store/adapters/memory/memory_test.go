package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/grantengine/internal/domain/repository"
	"github.com/dropDatabas3/grantengine/internal/store/storetest"
)

func TestConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) repository.Store { return New() })
}

func TestReturnedEntriesAreCopies(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.Put(ctx, &repository.Entry{Key: "grants/g", Attrs: map[string]string{"k": "v"}, Value: []byte("abc")}))

	e, err := s.Get(ctx, "grants/g")
	require.NoError(t, err)
	e.Attrs["k"] = "mutated"
	e.Value[0] = 'X'

	again, err := s.Get(ctx, "grants/g")
	require.NoError(t, err)
	require.Equal(t, "v", again.Attrs["k"])
	require.Equal(t, "abc", string(again.Value))
}

func TestClosedStoreIsUnavailable(t *testing.T) {
	s := New()
	require.NoError(t, s.Close())
	_, err := s.Get(context.Background(), "grants/g")
	require.True(t, repository.IsUnavailable(err))
}
