// Package redis implementa repository.Store sobre Redis.
//
// Cada entrada es un hash {v: versión, d: valor, a: attrs JSON, x: expires unix}.
// Find usa sets de índice por namespace y por par atributo=valor, mantenidos
// en la misma transacción MULTI que la escritura. El CAS se resuelve con
// WATCH sobre la clave de la entrada.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	rdb "github.com/redis/go-redis/v9"

	"github.com/dropDatabas3/grantengine/internal/domain/repository"
)

const (
	fieldVersion = "v"
	fieldData    = "d"
	fieldAttrs   = "a"
	fieldExpires = "x"

	// putAttempts acota los reintentos de Put ante contención de WATCH.
	putAttempts = 16
)

var errVersionMismatch = errors.New("version mismatch")

// Config de conexión.
type Config struct {
	Addr     string
	Password string
	DB       int
	// Prefix se antepone a todas las claves (ej: "ge:").
	Prefix string
}

// Store implementa repository.Store.
type Store struct {
	c      rdb.UniversalClient
	prefix string
}

var _ repository.Store = (*Store)(nil)

// New abre un cliente y verifica conectividad.
func New(ctx context.Context, cfg Config) (*Store, error) {
	c := rdb.NewClient(&rdb.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB})
	s := NewWithClient(c, cfg.Prefix)
	if err := s.Ping(ctx); err != nil {
		_ = c.Close()
		return nil, err
	}
	return s, nil
}

// NewWithClient envuelve un cliente existente (tests con miniredis, clusters).
func NewWithClient(c rdb.UniversalClient, prefix string) *Store {
	return &Store{c: c, prefix: prefix}
}

func (s *Store) k(key string) string        { return s.prefix + key }
func (s *Store) idxBase(base string) string { return s.prefix + "idx:" + base }
func (s *Store) idxAttr(base, a, v string) string {
	return s.prefix + "idx:" + base + ":" + a + "=" + v
}

func unavailable(err error) error {
	return fmt.Errorf("%w: redis: %v", repository.ErrUnavailable, err)
}

func (s *Store) Get(ctx context.Context, key string) (*repository.Entry, error) {
	m, err := s.c.HGetAll(ctx, s.k(key)).Result()
	if err != nil {
		return nil, unavailable(err)
	}
	if len(m) == 0 {
		return nil, repository.ErrNotFound
	}
	return decode(key, m)
}

func (s *Store) Put(ctx context.Context, e *repository.Entry) error {
	if e == nil || e.Key == "" {
		return repository.ErrInvalidInput
	}
	for i := 0; i < putAttempts; i++ {
		var next int64
		err := s.c.Watch(ctx, func(tx *rdb.Tx) error {
			cur, oldAttrs, err := s.readMeta(ctx, tx, e.Key)
			if err != nil {
				return err
			}
			next = cur + 1
			return s.write(ctx, tx, e, next, oldAttrs)
		}, s.k(e.Key))
		if errors.Is(err, rdb.TxFailedErr) {
			continue
		}
		if err != nil {
			return unavailable(err)
		}
		e.Version = next
		return nil
	}
	return fmt.Errorf("%w: put %s: too much contention", repository.ErrConflict, e.Key)
}

func (s *Store) CASPut(ctx context.Context, expected int64, e *repository.Entry) (bool, error) {
	if e == nil || e.Key == "" {
		return false, repository.ErrInvalidInput
	}
	err := s.c.Watch(ctx, func(tx *rdb.Tx) error {
		cur, oldAttrs, err := s.readMeta(ctx, tx, e.Key)
		if err != nil {
			return err
		}
		if cur != expected {
			return errVersionMismatch
		}
		return s.write(ctx, tx, e, expected+1, oldAttrs)
	}, s.k(e.Key))
	switch {
	case err == nil:
		e.Version = expected + 1
		return true, nil
	case errors.Is(err, errVersionMismatch), errors.Is(err, rdb.TxFailedErr):
		return false, nil
	default:
		return false, unavailable(err)
	}
}

func (s *Store) Delete(ctx context.Context, key string) error {
	base := (&repository.Entry{Key: key}).Base()
	for i := 0; i < putAttempts; i++ {
		err := s.c.Watch(ctx, func(tx *rdb.Tx) error {
			cur, oldAttrs, err := s.readMeta(ctx, tx, key)
			if err != nil || cur == 0 {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(p rdb.Pipeliner) error {
				p.Del(ctx, s.k(key))
				p.SRem(ctx, s.idxBase(base), key)
				for a, v := range oldAttrs {
					p.SRem(ctx, s.idxAttr(base, a, v), key)
				}
				return nil
			})
			return err
		}, s.k(key))
		if errors.Is(err, rdb.TxFailedErr) {
			continue
		}
		if err != nil {
			return unavailable(err)
		}
		return nil
	}
	return fmt.Errorf("%w: delete %s: too much contention", repository.ErrConflict, key)
}

func (s *Store) Find(ctx context.Context, base string, f repository.Filter) ([]*repository.Entry, error) {
	var keys []string
	var err error
	if len(f) == 0 {
		keys, err = s.c.SMembers(ctx, s.idxBase(base)).Result()
	} else {
		attrs := make([]string, 0, len(f))
		for a := range f {
			attrs = append(attrs, a)
		}
		sort.Strings(attrs)
		sets := make([]string, 0, len(attrs))
		for _, a := range attrs {
			sets = append(sets, s.idxAttr(base, a, f[a]))
		}
		keys, err = s.c.SInter(ctx, sets...).Result()
	}
	if err != nil {
		return nil, unavailable(err)
	}
	if len(keys) == 0 {
		return nil, nil
	}

	cmds := make([]*rdb.MapStringStringCmd, len(keys))
	_, err = s.c.Pipelined(ctx, func(p rdb.Pipeliner) error {
		for i, k := range keys {
			cmds[i] = p.HGetAll(ctx, s.k(k))
		}
		return nil
	})
	if err != nil {
		return nil, unavailable(err)
	}

	out := make([]*repository.Entry, 0, len(keys))
	for i, cmd := range cmds {
		m := cmd.Val()
		if len(m) == 0 {
			continue // borrada entre el SINTER y el HGETALL
		}
		e, err := decode(keys[i], m)
		if err != nil {
			return nil, err
		}
		if f.Matches(e) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *Store) Ping(ctx context.Context) error {
	if err := s.c.Ping(ctx).Err(); err != nil {
		return unavailable(err)
	}
	return nil
}

func (s *Store) Close() error { return s.c.Close() }

// readMeta lee versión y attrs actuales dentro del WATCH.
func (s *Store) readMeta(ctx context.Context, tx *rdb.Tx, key string) (int64, map[string]string, error) {
	vals, err := tx.HMGet(ctx, s.k(key), fieldVersion, fieldAttrs).Result()
	if err != nil {
		return 0, nil, err
	}
	var cur int64
	if v, ok := vals[0].(string); ok {
		cur, err = strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, nil, fmt.Errorf("corrupt version for %s: %w", key, err)
		}
	}
	var attrs map[string]string
	if a, ok := vals[1].(string); ok && a != "" {
		if err := json.Unmarshal([]byte(a), &attrs); err != nil {
			return 0, nil, fmt.Errorf("corrupt attrs for %s: %w", key, err)
		}
	}
	return cur, attrs, nil
}

func (s *Store) write(ctx context.Context, tx *rdb.Tx, e *repository.Entry, version int64, oldAttrs map[string]string) error {
	attrsJSON, err := json.Marshal(e.Attrs)
	if err != nil {
		return err
	}
	var exp int64
	if !e.ExpiresAt.IsZero() {
		exp = e.ExpiresAt.Unix()
	}
	base := e.Base()
	_, err = tx.TxPipelined(ctx, func(p rdb.Pipeliner) error {
		p.HSet(ctx, s.k(e.Key),
			fieldVersion, version,
			fieldData, e.Value,
			fieldAttrs, attrsJSON,
			fieldExpires, exp,
		)
		p.SAdd(ctx, s.idxBase(base), e.Key)
		for a, v := range oldAttrs {
			if nv, ok := e.Attrs[a]; !ok || nv != v {
				p.SRem(ctx, s.idxAttr(base, a, v), e.Key)
			}
		}
		for a, v := range e.Attrs {
			p.SAdd(ctx, s.idxAttr(base, a, v), e.Key)
		}
		return nil
	})
	return err
}

func decode(key string, m map[string]string) (*repository.Entry, error) {
	v, err := strconv.ParseInt(m[fieldVersion], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("corrupt version for %s: %w", key, err)
	}
	e := &repository.Entry{Key: key, Version: v, Value: []byte(m[fieldData])}
	if a := m[fieldAttrs]; a != "" && a != "null" {
		if err := json.Unmarshal([]byte(a), &e.Attrs); err != nil {
			return nil, fmt.Errorf("corrupt attrs for %s: %w", key, err)
		}
	}
	if x, _ := strconv.ParseInt(m[fieldExpires], 10, 64); x > 0 {
		e.ExpiresAt = time.Unix(x, 0).UTC()
	}
	return e, nil
}
