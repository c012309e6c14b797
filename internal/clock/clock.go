// Package clock abstrae el tiempo para que expiraciones, ventanas de rate
// limit e intervalos CIBA sean testeables.
package clock

import (
	"sync"
	"time"
)

// Clock retorna el instante actual.
type Clock interface {
	Now() time.Time
}

// System usa time.Now truncado a segundos: el contrato de lifetimes y
// timestamps es en segundos enteros.
type System struct{}

func (System) Now() time.Time { return time.Now().UTC().Truncate(time.Second) }

// Fake es un reloj manual para tests. Seguro para uso concurrente.
type Fake struct {
	mu  sync.Mutex
	now time.Time
}

// NewFake crea un reloj fijo en t.
func NewFake(t time.Time) *Fake { return &Fake{now: t.UTC()} }

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// Advance mueve el reloj d hacia adelante.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

// Set fija el reloj en t.
func (f *Fake) Set(t time.Time) {
	f.mu.Lock()
	f.now = t.UTC()
	f.mu.Unlock()
}
