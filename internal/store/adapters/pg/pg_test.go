package pg

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/grantengine/internal/domain/repository"
	"github.com/dropDatabas3/grantengine/internal/store/storetest"
)

// TestConformance corre contra una base real solo si GRANTENGINE_TEST_PG_DSN está seteada.
func TestConformance(t *testing.T) {
	dsn := os.Getenv("GRANTENGINE_TEST_PG_DSN")
	if dsn == "" {
		t.Skip("GRANTENGINE_TEST_PG_DSN not set")
	}
	storetest.Run(t, func(t *testing.T) repository.Store {
		ctx := context.Background()
		s, err := New(ctx, Config{DSN: dsn, Migrate: true})
		require.NoError(t, err)
		_, err = s.pool.Exec(ctx, `TRUNCATE grantengine_kv`)
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}

func TestAttrsJSON(t *testing.T) {
	b, err := attrsJSON(nil)
	require.NoError(t, err)
	require.Equal(t, "{}", string(b))

	b, err = attrsJSON(map[string]string{"grant_id": "g1"})
	require.NoError(t, err)
	require.JSONEq(t, `{"grant_id":"g1"}`, string(b))
}

func TestNullTime(t *testing.T) {
	require.Nil(t, nullTime(time.Time{}))
	now := time.Now()
	require.Equal(t, now, *nullTime(now))
}

func TestNewRejectsBadDSN(t *testing.T) {
	_, err := New(context.Background(), Config{DSN: "::not a dsn::"})
	require.Error(t, err)
}
