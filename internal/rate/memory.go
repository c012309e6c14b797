package rate

import (
	"context"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/dropDatabas3/grantengine/internal/clock"
)

type window struct {
	mu    sync.Mutex
	start time.Time
	hits  int64
}

// MemoryLimiter cuenta en proceso (best effort entre instancias). go-cache
// descarta las ventanas viejas; el reinicio se decide con el Clock.
type MemoryLimiter struct {
	clk     clock.Clock
	mu      sync.Mutex
	windows *gocache.Cache
}

var _ Backend = (*MemoryLimiter)(nil)

func NewMemoryLimiter(clk clock.Clock) *MemoryLimiter {
	return &MemoryLimiter{clk: clk, windows: gocache.New(10*time.Minute, time.Minute)}
}

func (l *MemoryLimiter) AllowWithLimits(_ context.Context, key string, limit int, period time.Duration) (Result, error) {
	w := l.window(key, period)
	now := l.clk.Now()

	w.mu.Lock()
	if w.start.IsZero() || !now.Before(w.start.Add(period)) {
		w.start, w.hits = now, 0
	}
	w.hits++
	hits, ttl := w.hits, w.start.Add(period).Sub(now)
	w.mu.Unlock()

	res := Result{
		Allowed:     hits <= int64(limit),
		Remaining:   remaining(limit, hits),
		CurrentHits: hits,
		WindowTTL:   ttl,
	}
	if !res.Allowed {
		res.RetryAfter = ttl
	}
	return res, nil
}

func (l *MemoryLimiter) window(key string, period time.Duration) *window {
	if v, ok := l.windows.Get(key); ok {
		return v.(*window)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if v, ok := l.windows.Get(key); ok {
		return v.(*window)
	}
	w := &window{}
	// el cache sobrevive un par de períodos para no perder conteos en curso
	l.windows.Set(key, w, 2*period+time.Minute)
	return w
}
