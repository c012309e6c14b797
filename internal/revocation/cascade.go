// Package revocation propaga la revocación de un token a todos los tokens
// de su grant y al grant mismo.
package revocation

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dropDatabas3/grantengine/internal/domain/repository"
	"github.com/dropDatabas3/grantengine/internal/grant"
	"github.com/dropDatabas3/grantengine/internal/metrics"
	"github.com/dropDatabas3/grantengine/internal/observability/logger"
)

// Cascade invalida grafos de tokens. Cada paso converge a INACTIVE/REVOKED,
// así que repetirla o correrla en cualquier orden deja el mismo estado final.
type Cascade struct {
	grants      *grant.Registry
	parallelism int
}

func New(grants *grant.Registry, parallelism int) *Cascade {
	if parallelism <= 0 {
		parallelism = 8
	}
	return &Cascade{grants: grants, parallelism: parallelism}
}

// RevokeToken revoca el token presentado y todo lo relacionado. Tokens
// desconocidos son éxito: el endpoint no revela validez.
func (c *Cascade) RevokeToken(ctx context.Context, value, hint string) error {
	log := logger.From(ctx).With(
		logger.Layer("service"),
		logger.Component("revocation.cascade"),
		logger.Op("RevokeToken"),
		logger.String("token_type_hint", hint),
	)

	g, t, err := c.grants.Resolve(ctx, value)
	if err != nil && !errors.Is(err, grant.ErrUnknownToken) {
		log.Error("resolve token failed", logger.Err(err))
		return err
	}
	if t == nil {
		log.Debug("unknown token, nothing to revoke")
		return nil
	}
	log = log.With(logger.GrantID(t.GrantID), logger.TokenKind(string(t.Kind)))

	if err := c.grants.Deactivate(ctx, t); err != nil {
		log.Error("deactivate presented token failed", logger.Err(err))
		return err
	}
	if t.Kind == repository.TokenAccess && t.MintedBy != "" {
		// el refresh que lo emitió cae con él
		refresh, err := c.grants.TokenByHash(ctx, t.MintedBy)
		switch {
		case err == nil:
			if err := c.grants.Deactivate(ctx, refresh); err != nil {
				log.Error("deactivate minting refresh failed", logger.Err(err))
				return err
			}
		case !repository.IsNotFound(err):
			return err
		}
	}
	if g == nil {
		// grant inexistente (ya barrido): solo quedaba el token
		return nil
	}
	return c.revokeGrant(ctx, log, g.ID)
}

// RevokeGrant marca el grant REVOKED e invalida todos sus tokens en una pasada.
func (c *Cascade) RevokeGrant(ctx context.Context, grantID string) error {
	log := logger.From(ctx).With(
		logger.Layer("service"),
		logger.Component("revocation.cascade"),
		logger.Op("RevokeGrant"),
		logger.GrantID(grantID),
	)
	return c.revokeGrant(ctx, log, grantID)
}

func (c *Cascade) revokeGrant(ctx context.Context, log *zap.Logger, grantID string) error {
	// REVOKED primero: cualquier emisión concurrente lo ve al re-leer y se desactiva sola
	if err := c.grants.Revoke(ctx, grantID); err != nil {
		log.Error("revoke grant failed", logger.Err(err))
		return err
	}
	toks, err := c.grants.TokensOf(ctx, grantID)
	if err != nil {
		log.Error("list grant tokens failed", logger.Err(err))
		return err
	}

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(c.parallelism)
	n := 0
	for _, t := range toks {
		if t.Status == repository.TokenInactive {
			continue
		}
		n++
		eg.Go(func() error { return c.grants.Deactivate(egCtx, t) })
	}
	if err := eg.Wait(); err != nil {
		log.Error("cascade incomplete", logger.Err(err))
		return err
	}
	metrics.CascadeSize.Observe(float64(n))
	log.Info("grant revocation cascaded", logger.Count(n))
	return nil
}
