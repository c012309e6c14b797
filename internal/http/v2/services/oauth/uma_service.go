package oauth

import (
	"context"

	"github.com/dropDatabas3/grantengine/internal/clock"
	"github.com/dropDatabas3/grantengine/internal/domain/oautherr"
	"github.com/dropDatabas3/grantengine/internal/grant"
	dto "github.com/dropDatabas3/grantengine/internal/http/v2/dto/oauth"
)

// UMAService registra permission tickets a nombre de un resource server.
type UMAService interface {
	RegisterPermission(ctx context.Context, pat string, req dto.PermissionRequest) (dto.PermissionResponse, error)
}

type umaService struct {
	grants *grant.Registry
	clk    clock.Clock
}

func NewUMAService(grants *grant.Registry, clk clock.Clock) UMAService {
	return &umaService{grants: grants, clk: clk}
}

func (s *umaService) RegisterPermission(ctx context.Context, pat string, req dto.PermissionRequest) (dto.PermissionResponse, error) {
	_, t, err := s.grants.LookupByToken(ctx, pat)
	if err != nil {
		if grant.IsLookupFailure(err) {
			return dto.PermissionResponse{}, oautherr.New(oautherr.InvalidClient, "invalid protection API token")
		}
		return dto.PermissionResponse{}, err
	}
	ticket, exp, err := s.grants.CreatePermissionTicket(ctx, t, req.ResourceID, req.ResourceScopes)
	if err != nil {
		return dto.PermissionResponse{}, err
	}
	return dto.PermissionResponse{Ticket: ticket, ExpiresIn: exp.Unix() - s.clk.Now().Unix()}, nil
}
