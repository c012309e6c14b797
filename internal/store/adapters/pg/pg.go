// Package pg implementa repository.Store sobre PostgreSQL con pgxpool.
// Todas las entradas viven en la tabla grantengine_kv; el CAS es un UPDATE
// condicionado por versión.
package pg

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dropDatabas3/grantengine/internal/domain/repository"
	"github.com/dropDatabas3/grantengine/migrations/postgres"
)

// Config de conexión.
type Config struct {
	DSN             string
	MaxConns        int
	MinConns        int
	ConnMaxLifetime time.Duration
	// Migrate aplica las migraciones embebidas al conectar.
	Migrate bool
}

// Store implementa repository.Store.
type Store struct {
	pool *pgxpool.Pool
}

var _ repository.Store = (*Store)(nil)

// New crea el pool, verifica conectividad y opcionalmente migra.
func New(ctx context.Context, cfg Config) (*Store, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("pg: parse DSN: %w", err)
	}
	poolCfg.MaxConns = 10
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = int32(cfg.MaxConns)
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = int32(cfg.MinConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("pg: create pool: %w", err)
	}
	s := &Store{pool: pool}
	if err := s.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	if cfg.Migrate {
		if err := s.migrate(ctx); err != nil {
			pool.Close()
			return nil, err
		}
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	names, err := fs.Glob(migrations.FS, "*.sql")
	if err != nil {
		return err
	}
	sort.Strings(names)
	for _, n := range names {
		sql, err := migrations.FS.ReadFile(n)
		if err != nil {
			return err
		}
		if _, err := s.pool.Exec(ctx, string(sql)); err != nil {
			return fmt.Errorf("pg: migration %s: %w", n, err)
		}
	}
	return nil
}

func unavailable(err error) error {
	return fmt.Errorf("%w: pg: %v", repository.ErrUnavailable, err)
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func attrsJSON(a map[string]string) ([]byte, error) {
	if a == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(a)
}

const selectCols = `key, version, attrs, value, expires_at`

func scanEntry(row pgx.Row) (*repository.Entry, error) {
	var (
		e     repository.Entry
		attrs []byte
		exp   *time.Time
	)
	if err := row.Scan(&e.Key, &e.Version, &attrs, &e.Value, &exp); err != nil {
		return nil, err
	}
	if len(attrs) > 0 {
		if err := json.Unmarshal(attrs, &e.Attrs); err != nil {
			return nil, fmt.Errorf("pg: corrupt attrs for %s: %w", e.Key, err)
		}
		if len(e.Attrs) == 0 {
			e.Attrs = nil
		}
	}
	if exp != nil {
		e.ExpiresAt = exp.UTC()
	}
	return &e, nil
}

func (s *Store) Get(ctx context.Context, key string) (*repository.Entry, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+selectCols+` FROM grantengine_kv WHERE key = $1`, key)
	e, err := scanEntry(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, unavailable(err)
	}
	return e, nil
}

func (s *Store) Put(ctx context.Context, e *repository.Entry) error {
	if e == nil || e.Key == "" {
		return repository.ErrInvalidInput
	}
	a, err := attrsJSON(e.Attrs)
	if err != nil {
		return err
	}
	const q = `
		INSERT INTO grantengine_kv (key, base, version, attrs, value, expires_at)
		VALUES ($1, $2, 1, $3, $4, $5)
		ON CONFLICT (key) DO UPDATE
		   SET version = grantengine_kv.version + 1,
		       attrs = EXCLUDED.attrs,
		       value = EXCLUDED.value,
		       expires_at = EXCLUDED.expires_at
		RETURNING version`
	var v int64
	if err := s.pool.QueryRow(ctx, q, e.Key, e.Base(), a, e.Value, nullTime(e.ExpiresAt)).Scan(&v); err != nil {
		return unavailable(err)
	}
	e.Version = v
	return nil
}

func (s *Store) CASPut(ctx context.Context, expected int64, e *repository.Entry) (bool, error) {
	if e == nil || e.Key == "" {
		return false, repository.ErrInvalidInput
	}
	a, err := attrsJSON(e.Attrs)
	if err != nil {
		return false, err
	}
	var n int64
	if expected == 0 {
		tag, err := s.pool.Exec(ctx, `
			INSERT INTO grantengine_kv (key, base, version, attrs, value, expires_at)
			VALUES ($1, $2, 1, $3, $4, $5)
			ON CONFLICT (key) DO NOTHING`,
			e.Key, e.Base(), a, e.Value, nullTime(e.ExpiresAt))
		if err != nil {
			return false, unavailable(err)
		}
		n = tag.RowsAffected()
	} else {
		tag, err := s.pool.Exec(ctx, `
			UPDATE grantengine_kv
			   SET version = version + 1, attrs = $3, value = $4, expires_at = $5
			 WHERE key = $1 AND version = $2`,
			e.Key, expected, a, e.Value, nullTime(e.ExpiresAt))
		if err != nil {
			return false, unavailable(err)
		}
		n = tag.RowsAffected()
	}
	if n != 1 {
		return false, nil
	}
	e.Version = expected + 1
	return true, nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM grantengine_kv WHERE key = $1`, key); err != nil {
		return unavailable(err)
	}
	return nil
}

func (s *Store) Find(ctx context.Context, base string, f repository.Filter) ([]*repository.Entry, error) {
	filter, err := attrsJSON(f)
	if err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+selectCols+` FROM grantengine_kv WHERE base = $1 AND attrs @> $2::jsonb`,
		base, filter)
	if err != nil {
		return nil, unavailable(err)
	}
	defer rows.Close()

	var out []*repository.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, unavailable(err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable(err)
	}
	return out, nil
}

func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return unavailable(err)
	}
	return nil
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}
