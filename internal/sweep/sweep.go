// Package sweep purga entradas vencidas del Store. Es higiene de
// almacenamiento: la expiración se re-chequea siempre al leer, así que un
// sweep atrasado o apagado no afecta la seguridad.
package sweep

import (
	"context"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dropDatabas3/grantengine/internal/clock"
	"github.com/dropDatabas3/grantengine/internal/domain/repository"
	"github.com/dropDatabas3/grantengine/internal/metrics"
	"github.com/dropDatabas3/grantengine/internal/observability/logger"
)

// DefaultNamespaces son los namespaces con entradas de vida acotada.
// Clientes y claves de firma no vencen.
var DefaultNamespaces = []string{
	repository.NSGrants,
	repository.NSTokens,
	repository.NSCiba,
	repository.NSCodes,
	repository.NSDevice,
	repository.NSUserCodes,
	repository.NSTickets,
	repository.NSJTI,
	repository.NSRate,
}

// Sweeper borra entradas cuyo ExpiresAt quedó más de Grace atrás.
type Sweeper struct {
	store      repository.Store
	clk        clock.Clock
	grace      time.Duration
	namespaces []string
}

func New(s repository.Store, clk clock.Clock, grace time.Duration, namespaces ...string) *Sweeper {
	if len(namespaces) == 0 {
		namespaces = DefaultNamespaces
	}
	return &Sweeper{store: s, clk: clk, grace: grace, namespaces: namespaces}
}

// Run hace una pasada por todos los namespaces en paralelo y retorna cuántas
// entradas borró en cada uno.
func (s *Sweeper) Run(ctx context.Context) (map[string]int, error) {
	log := logger.From(ctx).With(logger.Layer("sweep"), logger.Op("Run"))
	cutoff := s.clk.Now().Add(-s.grace)

	var mu sync.Mutex
	deleted := make(map[string]int, len(s.namespaces))

	eg, egCtx := errgroup.WithContext(ctx)
	for _, ns := range s.namespaces {
		eg.Go(func() error {
			n, err := s.sweepNamespace(egCtx, ns, cutoff)
			mu.Lock()
			deleted[ns] = n
			mu.Unlock()
			if n > 0 {
				metrics.SweepDeleted.WithLabelValues(ns).Add(float64(n))
			}
			return err
		})
	}
	err := eg.Wait()
	if err != nil {
		log.Error("sweep incomplete", logger.Err(err))
	} else {
		log.Debug("sweep done", logger.Any("deleted", deleted))
	}
	return deleted, err
}

func (s *Sweeper) sweepNamespace(ctx context.Context, ns string, cutoff time.Time) (int, error) {
	entries, err := s.store.Find(ctx, ns, nil)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, e := range entries {
		if e.ExpiresAt.IsZero() || !e.ExpiresAt.Before(cutoff) {
			continue
		}
		if ns == repository.NSGrants {
			live, err := s.hasLiveTokens(ctx, strings.TrimPrefix(e.Key, repository.NSGrants+"/"), cutoff)
			if err != nil {
				return n, err
			}
			if live {
				logger.From(ctx).Warn("expired grant still has live tokens, kept", logger.Component("sweep"), logger.Key(e.Key))
				continue
			}
		}
		if err := s.store.Delete(ctx, e.Key); err != nil {
			logger.From(ctx).Warn("sweep delete failed", logger.Component("sweep"), logger.Key(e.Key), logger.Err(err))
			return n, err
		}
		n++
	}
	return n, nil
}

// hasLiveTokens reporta si el grant tiene algún token ACTIVE que el sweep no
// borraría en esta pasada. Borrar el grant debajo de él dejaría al token
// resolviendo a invalid_grant.
func (s *Sweeper) hasLiveTokens(ctx context.Context, grantID string, cutoff time.Time) (bool, error) {
	tokens, err := s.store.Find(ctx, repository.NSTokens, repository.Filter{repository.AttrGrantID: grantID})
	if err != nil {
		return false, err
	}
	for _, t := range tokens {
		if t.Attrs[repository.AttrStatus] != string(repository.TokenActive) {
			continue
		}
		if t.ExpiresAt.IsZero() || !t.ExpiresAt.Before(cutoff) {
			return true, nil
		}
	}
	return false, nil
}

// Loop corre Run cada interval hasta que ctx se cancele. Los errores se
// loguean y el loop sigue.
func (s *Sweeper) Loop(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			_, _ = s.Run(ctx)
		}
	}
}
