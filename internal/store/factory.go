// Package store arma el repository.Store configurado (memory, redis,
// postgres o raft), siempre envuelto en Retrying, más helpers JSON.
package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dropDatabas3/grantengine/internal/domain/repository"
	"github.com/dropDatabas3/grantengine/internal/store/adapters/memory"
	"github.com/dropDatabas3/grantengine/internal/store/adapters/pg"
	raftstore "github.com/dropDatabas3/grantengine/internal/store/adapters/raft"
	redisstore "github.com/dropDatabas3/grantengine/internal/store/adapters/redis"
)

// Drivers soportados.
const (
	DriverMemory   = "memory"
	DriverRedis    = "redis"
	DriverPostgres = "postgres"
	DriverRaft     = "raft"
)

// Config selecciona el driver y sus parámetros.
type Config struct {
	Driver   string
	Redis    redisstore.Config
	Postgres pg.Config
	Raft     raftstore.NodeOptions
	// RaftLeaderWait acota la espera de líder al abrir (default 30s).
	RaftLeaderWait time.Duration
	Retry          RetryPolicy
}

// Open conecta el driver configurado y lo envuelve en Retrying.
func Open(ctx context.Context, cfg Config) (*Retrying, error) {
	var (
		inner repository.Store
		err   error
	)
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", DriverMemory:
		inner = memory.New()
	case DriverRedis:
		inner, err = redisstore.New(ctx, cfg.Redis)
	case DriverPostgres, "pg":
		inner, err = pg.New(ctx, cfg.Postgres)
	case DriverRaft:
		inner, err = openRaft(ctx, cfg)
	default:
		return nil, fmt.Errorf("store: unknown driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", cfg.Driver, err)
	}
	return NewRetrying(inner, cfg.Retry), nil
}

func openRaft(ctx context.Context, cfg Config) (repository.Store, error) {
	s, err := raftstore.Open(cfg.Raft)
	if err != nil {
		return nil, err
	}
	wait := cfg.RaftLeaderWait
	if wait <= 0 {
		wait = 30 * time.Second
	}
	wctx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()
	if err := s.Node().WaitForLeader(wctx); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("waiting for raft leader: %w", err)
	}
	return s, nil
}
