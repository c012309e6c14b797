package oauth

import (
	"context"
	"strings"

	"github.com/dropDatabas3/grantengine/internal/ciba"
	"github.com/dropDatabas3/grantengine/internal/domain/oautherr"
	"github.com/dropDatabas3/grantengine/internal/domain/repository"
	dto "github.com/dropDatabas3/grantengine/internal/http/v2/dto/oauth"
)

// BackchannelService expone el inicio y la resolución de sesiones CIBA.
type BackchannelService interface {
	Authorize(ctx context.Context, c *repository.Client, req dto.BackchannelRequest) (dto.BackchannelResponse, error)
	Resolve(ctx context.Context, req dto.BackchannelResolveRequest) error
}

type backchannelService struct {
	co *ciba.Coordinator
}

func NewBackchannelService(co *ciba.Coordinator) BackchannelService {
	return &backchannelService{co: co}
}

func (s *backchannelService) Authorize(ctx context.Context, c *repository.Client, req dto.BackchannelRequest) (dto.BackchannelResponse, error) {
	if s.co == nil {
		return dto.BackchannelResponse{}, oautherr.New(oautherr.UnauthorizedClient, "CIBA is not enabled")
	}
	sess, err := s.co.Start(ctx, c, ciba.StartRequest{
		Scopes:                  strings.Fields(req.Scope),
		LoginHint:               req.LoginHint,
		BindingMessage:          req.BindingMessage,
		ACR:                     firstField(req.ACRValues),
		UserCode:                req.UserCode,
		ClientNotificationToken: req.ClientNotificationToken,
		RequestedExpiry:         req.RequestedExpiry,
	})
	if err != nil {
		return dto.BackchannelResponse{}, err
	}
	resp := dto.BackchannelResponse{
		AuthReqID: sess.AuthReqID,
		ExpiresIn: sess.ExpiresAt.Unix() - sess.CreatedAt.Unix(),
	}
	if sess.Mode != repository.DeliveryPush {
		resp.Interval = sess.Interval
	}
	return resp, nil
}

func (s *backchannelService) Resolve(ctx context.Context, req dto.BackchannelResolveRequest) error {
	if s.co == nil {
		return oautherr.New(oautherr.InvalidRequest, "CIBA is not enabled")
	}
	if req.AuthReqID == "" {
		return oautherr.New(oautherr.InvalidRequest, "auth_req_id is required")
	}
	return s.co.Resolve(ctx, req.AuthReqID, req.Approved)
}

func firstField(s string) string {
	if f := strings.Fields(s); len(f) > 0 {
		return f[0]
	}
	return ""
}
