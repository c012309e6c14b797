package oauth

import (
	"context"
	"net/url"
	"strings"

	"github.com/dropDatabas3/grantengine/internal/clock"
	"github.com/dropDatabas3/grantengine/internal/domain/oautherr"
	"github.com/dropDatabas3/grantengine/internal/grant"
	dto "github.com/dropDatabas3/grantengine/internal/http/v2/dto/oauth"
	"github.com/dropDatabas3/grantengine/internal/observability/logger"
)

// AuthorizeService emite authorization codes para un usuario ya autenticado
// por el front-channel (la UI de login queda fuera del engine).
type AuthorizeService interface {
	IssueCode(ctx context.Context, req dto.CodeRequest) (dto.CodeResponse, error)
}

type authorizeService struct {
	grants *grant.Registry
	clk    clock.Clock
}

func NewAuthorizeService(grants *grant.Registry, clk clock.Clock) AuthorizeService {
	return &authorizeService{grants: grants, clk: clk}
}

func (s *authorizeService) IssueCode(ctx context.Context, req dto.CodeRequest) (dto.CodeResponse, error) {
	log := logger.From(ctx).With(logger.Layer("service"), logger.Op("AuthorizeService.IssueCode"), logger.ClientID(req.ClientID))

	if req.ClientID == "" || req.RedirectURI == "" || req.Subject == "" {
		return dto.CodeResponse{}, oautherr.New(oautherr.InvalidRequest, "client_id, redirect_uri and sub are required")
	}
	redirect, err := url.Parse(req.RedirectURI)
	if err != nil || !redirect.IsAbs() {
		return dto.CodeResponse{}, oautherr.New(oautherr.InvalidRequest, "redirect_uri must be absolute")
	}

	code, err := s.grants.CreateAuthorizationCode(ctx, grant.CodeRequest{
		ClientID:            req.ClientID,
		OwnerID:             req.Subject,
		Scopes:              strings.Fields(req.Scope),
		RedirectURI:         req.RedirectURI,
		CodeChallenge:       req.CodeChallenge,
		CodeChallengeMethod: req.CodeChallengeMethod,
		Nonce:               req.Nonce,
		ACR:                 req.ACR,
		AuthTime:            s.clk.Now(),
	})
	if err != nil {
		log.Debug("code issuance rejected", logger.Err(err))
		return dto.CodeResponse{}, err
	}

	q := redirect.Query()
	q.Set("code", code)
	if req.State != "" {
		q.Set("state", req.State)
	}
	redirect.RawQuery = q.Encode()
	return dto.CodeResponse{
		Code:        code,
		State:       req.State,
		RedirectURI: req.RedirectURI,
		RedirectTo:  redirect.String(),
	}, nil
}
