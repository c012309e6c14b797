package oauth

import (
	"context"
	"strings"

	"github.com/dropDatabas3/grantengine/internal/domain/repository"
	"github.com/dropDatabas3/grantengine/internal/grant"
	dto "github.com/dropDatabas3/grantengine/internal/http/v2/dto/oauth"
	"github.com/dropDatabas3/grantengine/internal/observability/logger"
)

// IntrospectService implementa RFC 7662. Es de solo lectura.
type IntrospectService interface {
	Introspect(ctx context.Context, c *repository.Client, req dto.IntrospectRequest) (dto.IntrospectResponse, error)
}

type introspectService struct {
	grants *grant.Registry
	iss    string
}

func NewIntrospectService(grants *grant.Registry, iss string) IntrospectService {
	return &introspectService{grants: grants, iss: iss}
}

func (s *introspectService) Introspect(ctx context.Context, c *repository.Client, req dto.IntrospectRequest) (dto.IntrospectResponse, error) {
	g, t, err := s.grants.LookupByToken(ctx, req.Token)
	if err != nil {
		if grant.IsLookupFailure(err) {
			return dto.IntrospectResponse{Active: false}, nil
		}
		return dto.IntrospectResponse{}, err
	}
	logger.From(ctx).Debug("token introspected",
		logger.Layer("service"), logger.ClientID(c.ID), logger.GrantID(g.ID), logger.TokenKind(string(t.Kind)))

	return dto.IntrospectResponse{
		Active:    true,
		TokenType: tokenTypeName(t.Kind),
		Sub:       g.OwnerID,
		ClientID:  t.ClientID,
		Scope:     strings.Join(t.Scopes, " "),
		Exp:       t.ExpiresAt.Unix(),
		Iat:       t.IssuedAt.Unix(),
		Iss:       s.iss,
		Jti:       t.JTI,
	}, nil
}

func tokenTypeName(k repository.TokenKind) string {
	switch k {
	case repository.TokenRefresh:
		return "refresh_token"
	case repository.TokenID:
		return "id_token"
	case repository.TokenRPT:
		return "rpt"
	case repository.TokenPAT:
		return "pat"
	default:
		return "access_token"
	}
}
