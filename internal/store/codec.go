package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dropDatabas3/grantengine/internal/domain/repository"
)

// GetJSON lee key y decodifica el valor en v. Retorna la versión leída.
func GetJSON(ctx context.Context, s repository.Store, key string, v any) (int64, error) {
	e, err := s.Get(ctx, key)
	if err != nil {
		return 0, err
	}
	if err := json.Unmarshal(e.Value, v); err != nil {
		return 0, fmt.Errorf("decode %s: %w", key, err)
	}
	return e.Version, nil
}

// Record describe una escritura JSON.
type Record struct {
	Key       string
	Attrs     map[string]string
	Value     any
	ExpiresAt time.Time
}

func (r Record) entry() (*repository.Entry, error) {
	b, err := json.Marshal(r.Value)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", r.Key, err)
	}
	return &repository.Entry{Key: r.Key, Attrs: r.Attrs, Value: b, ExpiresAt: r.ExpiresAt}, nil
}

// CASJSON escribe si la versión almacenada es expected. Retorna (nuevaVersión, ganó, error).
func CASJSON(ctx context.Context, s repository.Store, expected int64, r Record) (int64, bool, error) {
	e, err := r.entry()
	if err != nil {
		return 0, false, err
	}
	ok, err := s.CASPut(ctx, expected, e)
	if err != nil || !ok {
		return 0, ok, err
	}
	return e.Version, true, nil
}

// FindJSON decodifica cada entrada encontrada con decode.
func FindJSON[T any](ctx context.Context, s repository.Store, base string, f repository.Filter) ([]*T, []int64, error) {
	entries, err := s.Find(ctx, base, f)
	if err != nil {
		return nil, nil, err
	}
	out := make([]*T, 0, len(entries))
	versions := make([]int64, 0, len(entries))
	for _, e := range entries {
		v := new(T)
		if err := json.Unmarshal(e.Value, v); err != nil {
			return nil, nil, fmt.Errorf("decode %s: %w", e.Key, err)
		}
		out = append(out, v)
		versions = append(versions, e.Version)
	}
	return out, versions, nil
}
