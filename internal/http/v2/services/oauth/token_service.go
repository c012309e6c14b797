package oauth

import (
	"context"
	"slices"
	"strings"

	"github.com/dropDatabas3/grantengine/internal/ciba"
	"github.com/dropDatabas3/grantengine/internal/domain/oautherr"
	"github.com/dropDatabas3/grantengine/internal/domain/repository"
	"github.com/dropDatabas3/grantengine/internal/grant"
	dto "github.com/dropDatabas3/grantengine/internal/http/v2/dto/oauth"
	"github.com/dropDatabas3/grantengine/internal/observability/logger"
	"github.com/dropDatabas3/grantengine/internal/rate"
	"github.com/dropDatabas3/grantengine/internal/revocation"
)

// TokenService resuelve POST /token para un cliente ya autenticado.
type TokenService interface {
	Exchange(ctx context.Context, c *repository.Client, req dto.TokenRequest) (*repository.TokenSet, error)
}

type tokenService struct {
	grants        *grant.Registry
	cascade       *revocation.Cascade
	ciba          *ciba.Coordinator
	limiter       *rate.Governor
	rotateRefresh bool
}

// NewTokenService crea el service del token endpoint.
func NewTokenService(d Deps) TokenService {
	return &tokenService{
		grants:        d.Grants,
		cascade:       d.Cascade,
		ciba:          d.CIBA,
		limiter:       d.Limiter,
		rotateRefresh: d.RotateRefresh,
	}
}

func (s *tokenService) Exchange(ctx context.Context, c *repository.Client, req dto.TokenRequest) (*repository.TokenSet, error) {
	log := logger.From(ctx).With(
		logger.Layer("service"),
		logger.Op("TokenService.Exchange"),
		logger.ClientID(c.ID),
		logger.GrantType(req.GrantType),
	)

	if s.limiter != nil {
		if err := s.limiter.Enforce(ctx, c.ID, rate.ActionToken); err != nil {
			return nil, err
		}
	}

	gt := repository.GrantType(req.GrantType)
	if !gt.Valid() {
		return nil, oautherr.Newf(oautherr.UnsupportedGrantType, "grant_type %q is not supported", req.GrantType)
	}
	if !c.AllowsGrant(gt) {
		return nil, oautherr.Newf(oautherr.UnauthorizedClient, "client is not allowed to use %s", req.GrantType)
	}

	var (
		set *repository.TokenSet
		err error
	)
	switch gt {
	case repository.GrantTypeClientCredentials:
		set, err = s.clientCredentials(ctx, c, req)
	case repository.GrantTypeAuthorizationCode:
		set, err = s.authorizationCode(ctx, c, req)
	case repository.GrantTypeRefreshToken:
		set, err = s.refresh(ctx, c, req)
	case repository.GrantTypeDeviceCode:
		set, err = s.deviceCode(ctx, c, req)
	case repository.GrantTypeCIBA:
		set, err = s.backchannel(ctx, c, req)
	case repository.GrantTypeUMATicket:
		set, err = s.umaTicket(ctx, c, req)
	default:
		err = oautherr.Newf(oautherr.UnsupportedGrantType, "grant_type %q is not supported", req.GrantType)
	}
	if err != nil {
		log.Debug("token request rejected", logger.Err(err))
		return nil, err
	}
	return set, nil
}

func (s *tokenService) clientCredentials(ctx context.Context, c *repository.Client, req dto.TokenRequest) (*repository.TokenSet, error) {
	scopes := splitScope(req.Scope)
	g, err := s.grants.Create(ctx, grant.CreateRequest{
		GrantType: repository.GrantTypeClientCredentials,
		ClientID:  c.ID,
		Scopes:    scopes,
	})
	if err != nil {
		return nil, err
	}
	// un client_credentials con uma_protection es un PAT
	if slices.Contains(scopes, grant.ScopeUMAProtection) {
		set, _, err := s.grants.IssueSet(ctx, g, grant.SetOptions{Client: c, AccessKind: repository.TokenPAT})
		return set, err
	}
	set, _, err := s.grants.IssueSet(ctx, g, grant.SetOptions{
		Client:  c,
		Refresh: c.AllowsGrant(repository.GrantTypeRefreshToken),
	})
	return set, err
}

func (s *tokenService) authorizationCode(ctx context.Context, c *repository.Client, req dto.TokenRequest) (*repository.TokenSet, error) {
	if req.Code == "" {
		return nil, oautherr.New(oautherr.InvalidRequest, "code is required")
	}
	g, err := s.grants.RedeemAuthorizationCode(ctx, c, req.Code, req.RedirectURI, req.CodeVerifier)
	if err != nil {
		if grantID, reused := grant.ReusedGrant(err); reused {
			logger.From(ctx).Warn("authorization code replayed, revoking grant",
				logger.ClientID(c.ID), logger.GrantID(grantID))
			if rerr := s.cascade.RevokeGrant(ctx, grantID); rerr != nil {
				logger.From(ctx).Error("revoke replayed grant failed", logger.GrantID(grantID), logger.Err(rerr))
			}
		}
		return nil, err
	}
	set, _, err := s.grants.IssueSet(ctx, g, grant.SetOptions{
		Client:  c,
		Refresh: c.AllowsGrant(repository.GrantTypeRefreshToken),
		IDToken: true,
	})
	return set, err
}

func (s *tokenService) refresh(ctx context.Context, c *repository.Client, req dto.TokenRequest) (*repository.TokenSet, error) {
	if req.RefreshToken == "" {
		return nil, oautherr.New(oautherr.InvalidRequest, "refresh_token is required")
	}
	g, rt, err := s.grants.LookupByToken(ctx, req.RefreshToken)
	if err != nil {
		return nil, err
	}
	if rt.Kind != repository.TokenRefresh || rt.ClientID != c.ID {
		return nil, grant.ErrUnknownToken
	}

	scopes := rt.Scopes
	if requested := splitScope(req.Scope); len(requested) > 0 {
		for _, sc := range requested {
			if !g.HasScope(sc) {
				return nil, oautherr.Newf(oautherr.InvalidScope, "scope %q exceeds the original grant", sc)
			}
		}
		scopes = requested
	}

	set, _, err := s.grants.IssueSet(ctx, g, grant.SetOptions{
		Client:   c,
		MintedBy: rt.Hash,
		Scopes:   scopes,
		Refresh:  s.rotateRefresh,
		IDToken:  true,
	})
	if err != nil {
		return nil, err
	}
	if s.rotateRefresh {
		if err := s.grants.Deactivate(ctx, rt); err != nil {
			logger.From(ctx).Error("deactivate rotated refresh token failed",
				logger.GrantID(g.ID), logger.TokenHash(rt.Hash), logger.Err(err))
			return nil, err
		}
	}
	return set, nil
}

func (s *tokenService) deviceCode(ctx context.Context, c *repository.Client, req dto.TokenRequest) (*repository.TokenSet, error) {
	if req.DeviceCode == "" {
		return nil, oautherr.New(oautherr.InvalidRequest, "device_code is required")
	}
	g, err := s.grants.PollDevice(ctx, c, req.DeviceCode)
	if err != nil {
		return nil, err
	}
	set, _, err := s.grants.IssueSet(ctx, g, grant.SetOptions{
		Client:  c,
		Refresh: c.AllowsGrant(repository.GrantTypeRefreshToken),
		IDToken: true,
	})
	return set, err
}

func (s *tokenService) backchannel(ctx context.Context, c *repository.Client, req dto.TokenRequest) (*repository.TokenSet, error) {
	if req.AuthReqID == "" {
		return nil, oautherr.New(oautherr.InvalidRequest, "auth_req_id is required")
	}
	if s.ciba == nil {
		return nil, oautherr.New(oautherr.UnsupportedGrantType, "CIBA is not enabled")
	}
	return s.ciba.Poll(ctx, c, req.AuthReqID)
}

func (s *tokenService) umaTicket(ctx context.Context, c *repository.Client, req dto.TokenRequest) (*repository.TokenSet, error) {
	if req.Ticket == "" {
		return nil, oautherr.New(oautherr.InvalidRequest, "ticket is required")
	}
	t, err := s.grants.RedeemPermissionTicket(ctx, req.Ticket)
	if err != nil {
		return nil, err
	}
	g, err := s.grants.Create(ctx, grant.CreateRequest{
		GrantType: repository.GrantTypeUMATicket,
		ClientID:  c.ID,
	})
	if err != nil {
		return nil, err
	}
	set, _, err := s.grants.IssueSet(ctx, g, grant.SetOptions{
		Client:     c,
		AccessKind: repository.TokenRPT,
		Scopes:     t.Scopes,
		Claims: map[string]any{
			"permissions": []grant.Permission{{ResourceID: t.ResourceID, ResourceScopes: t.Scopes}},
		},
	})
	return set, err
}

func splitScope(scope string) []string {
	return strings.Fields(scope)
}
