// Package memory implementa repository.Store en memoria del proceso.
// Sirve para desarrollo, tests y despliegues de una sola instancia.
package memory

import (
	"context"
	"strings"
	"sync"

	"github.com/dropDatabas3/grantengine/internal/domain/repository"
)

// Store es un kv con CAS protegido por un RWMutex. Nunca expone punteros
// internos: todo entra y sale clonado.
type Store struct {
	mu      sync.RWMutex
	entries map[string]*repository.Entry
	closed  bool
}

// New crea un Store vacío.
func New() *Store {
	return &Store{entries: make(map[string]*repository.Entry)}
}

var _ repository.Store = (*Store)(nil)

func (s *Store) Get(_ context.Context, key string) (*repository.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, repository.ErrUnavailable
	}
	e, ok := s.entries[key]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return e.Clone(), nil
}

func (s *Store) Put(_ context.Context, e *repository.Entry) error {
	if e == nil || e.Key == "" {
		return repository.ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return repository.ErrUnavailable
	}
	var prev int64
	if cur, ok := s.entries[e.Key]; ok {
		prev = cur.Version
	}
	e.Version = prev + 1
	s.entries[e.Key] = e.Clone()
	return nil
}

func (s *Store) CASPut(_ context.Context, expected int64, e *repository.Entry) (bool, error) {
	if e == nil || e.Key == "" {
		return false, repository.ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, repository.ErrUnavailable
	}
	var current int64
	if cur, ok := s.entries[e.Key]; ok {
		current = cur.Version
	}
	if current != expected {
		return false, nil
	}
	e.Version = expected + 1
	s.entries[e.Key] = e.Clone()
	return true, nil
}

func (s *Store) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return repository.ErrUnavailable
	}
	delete(s.entries, key)
	return nil
}

func (s *Store) Find(_ context.Context, base string, f repository.Filter) ([]*repository.Entry, error) {
	prefix := base + "/"
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, repository.ErrUnavailable
	}
	var out []*repository.Entry
	for k, e := range s.entries {
		if strings.HasPrefix(k, prefix) && f.Matches(e) {
			out = append(out, e.Clone())
		}
	}
	return out, nil
}

func (s *Store) Ping(context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return repository.ErrUnavailable
	}
	return nil
}

// Close marca el store como cerrado; operaciones posteriores fallan con ErrUnavailable.
func (s *Store) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// Len retorna la cantidad de entradas (útil en tests y en el sweep).
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
