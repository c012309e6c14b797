package oauth

import (
	"context"
	"strings"

	"github.com/dropDatabas3/grantengine/internal/client"
	"github.com/dropDatabas3/grantengine/internal/domain/repository"
	dto "github.com/dropDatabas3/grantengine/internal/http/v2/dto/oauth"
)

// RegisterService implementa dynamic client registration.
type RegisterService interface {
	Register(ctx context.Context, req dto.RegisterRequest) (dto.RegisterResponse, error)
}

type registerService struct {
	clients *client.Registry
}

func NewRegisterService(clients *client.Registry) RegisterService {
	return &registerService{clients: clients}
}

func (s *registerService) Register(ctx context.Context, req dto.RegisterRequest) (dto.RegisterResponse, error) {
	in := repository.Client{
		Name:                            req.ClientName,
		Type:                            req.ClientType,
		AuthMethod:                      repository.AuthMethod(req.TokenEndpointAuthMethod),
		Scopes:                          strings.Fields(req.Scope),
		RedirectURIs:                    req.RedirectURIs,
		JWKS:                            req.JWKS,
		JWKSURI:                         req.JWKSURI,
		TLSSubjectDN:                    req.TLSClientAuthSubjectDN,
		AccessTokenAsJWT:                req.AccessTokenAsJWT,
		BackchannelDeliveryMode:         repository.DeliveryMode(req.BackchannelTokenDeliveryMode),
		BackchannelNotificationEndpoint: req.BackchannelNotificationEndpoint,
		BackchannelUserCodeParameter:    req.BackchannelUserCodeParameter,
	}
	for _, gt := range req.GrantTypes {
		in.GrantTypes = append(in.GrantTypes, repository.GrantType(gt))
	}

	c, secret, err := s.clients.Register(ctx, client.RegisterRequest{Client: in})
	if err != nil {
		return dto.RegisterResponse{}, err
	}
	resp := dto.RegisterResponse{
		ClientID:                c.ID,
		ClientSecret:            secret,
		ClientIDIssuedAt:        c.CreatedAt.Unix(),
		ClientName:              c.Name,
		TokenEndpointAuthMethod: string(c.AuthMethod),
		Scope:                   strings.Join(c.Scopes, " "),
		RedirectURIs:            c.RedirectURIs,
		BackchannelDeliveryMode: string(c.BackchannelDeliveryMode),
	}
	for _, gt := range c.GrantTypes {
		resp.GrantTypes = append(resp.GrantTypes, string(gt))
	}
	return resp, nil
}
