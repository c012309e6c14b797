package repository

import (
	"context"
	"strings"
	"time"
)

// Entry es la unidad de persistencia: un valor opaco (JSON) con atributos
// indexables y una versión monotónica para CAS.
type Entry struct {
	Key     string
	Version int64
	// Attrs son pares indexables usados por Find (ej: grant_id).
	Attrs map[string]string
	Value []byte
	// ExpiresAt es informativo (sweep / TTL del backend). Zero = sin expiración.
	// La expiración de seguridad siempre se re-chequea al leer.
	ExpiresAt time.Time
}

// Base retorna el namespace de la clave ("tokens/abc" -> "tokens").
func (e *Entry) Base() string {
	if i := strings.IndexByte(e.Key, '/'); i > 0 {
		return e.Key[:i]
	}
	return e.Key
}

// Clone retorna una copia profunda (los adapters en memoria nunca exponen
// su estado interno).
func (e *Entry) Clone() *Entry {
	if e == nil {
		return nil
	}
	c := *e
	if e.Attrs != nil {
		c.Attrs = make(map[string]string, len(e.Attrs))
		for k, v := range e.Attrs {
			c.Attrs[k] = v
		}
	}
	if e.Value != nil {
		c.Value = append([]byte(nil), e.Value...)
	}
	return &c
}

// Filter es un match por igualdad sobre Attrs. Un Filter vacío matchea todo el namespace.
type Filter map[string]string

// Matches reporta si la entrada cumple todos los pares del filtro.
func (f Filter) Matches(e *Entry) bool {
	for k, v := range f {
		if e.Attrs[k] != v {
			return false
		}
	}
	return true
}

// Store es el contrato de persistencia del engine.
//
// Todas las escrituras son atómicas a nivel de una clave. Ninguna operación
// abarca más de una clave.
type Store interface {
	// Get retorna la entrada o ErrNotFound.
	Get(ctx context.Context, key string) (*Entry, error)

	// Put escribe sin condición; la versión almacenada pasa a ser la previa + 1.
	Put(ctx context.Context, e *Entry) error

	// CASPut escribe solo si la versión almacenada es expectedVersion
	// (0 = la clave no debe existir). Retorna false si perdió el CAS.
	// En éxito, e.Version queda en expectedVersion+1.
	CASPut(ctx context.Context, expectedVersion int64, e *Entry) (bool, error)

	// Delete es idempotente: borrar una clave inexistente no es error.
	Delete(ctx context.Context, key string) error

	// Find lista las entradas del namespace base que matchean el filtro.
	Find(ctx context.Context, base string, f Filter) ([]*Entry, error)

	// Ping verifica conectividad con el backend.
	Ping(ctx context.Context) error

	// Close libera recursos del backend.
	Close() error
}
