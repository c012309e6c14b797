package oauth

import (
	"context"

	"github.com/dropDatabas3/grantengine/internal/domain/oautherr"
	"github.com/dropDatabas3/grantengine/internal/domain/repository"
	"github.com/dropDatabas3/grantengine/internal/grant"
	"github.com/dropDatabas3/grantengine/internal/observability/logger"
	"github.com/dropDatabas3/grantengine/internal/revocation"
)

// RevokeService cubre /revoke (RFC 7009) y la revocación administrativa de un grant.
type RevokeService interface {
	// Revoke nunca distingue token inexistente de revocado; el controller responde 200 igual.
	Revoke(ctx context.Context, c *repository.Client, token, hint string) error
	RevokeGrant(ctx context.Context, grantID string) error
}

type revokeService struct {
	grants  *grant.Registry
	cascade *revocation.Cascade
}

func NewRevokeService(grants *grant.Registry, cascade *revocation.Cascade) RevokeService {
	return &revokeService{grants: grants, cascade: cascade}
}

func (s *revokeService) Revoke(ctx context.Context, c *repository.Client, token, hint string) error {
	log := logger.From(ctx).With(logger.Layer("service"), logger.Op("RevokeService.Revoke"), logger.ClientID(c.ID))

	_, t, err := s.grants.Resolve(ctx, token)
	if err != nil {
		if grant.IsLookupFailure(err) {
			return nil
		}
		return err
	}
	// solo el cliente dueño puede revocar; para el resto es un no-op silencioso
	if t.ClientID != c.ID {
		log.Debug("revocation of a foreign token ignored", logger.TokenHash(t.Hash))
		return nil
	}
	return s.cascade.RevokeToken(ctx, token, hint)
}

func (s *revokeService) RevokeGrant(ctx context.Context, grantID string) error {
	if grantID == "" {
		return oautherr.New(oautherr.InvalidRequest, "grant_id is required")
	}
	return s.cascade.RevokeGrant(ctx, grantID)
}
