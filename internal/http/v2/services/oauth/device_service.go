package oauth

import (
	"context"
	"net/url"
	"strings"

	"github.com/dropDatabas3/grantengine/internal/domain/oautherr"
	"github.com/dropDatabas3/grantengine/internal/domain/repository"
	"github.com/dropDatabas3/grantengine/internal/grant"
	dto "github.com/dropDatabas3/grantengine/internal/http/v2/dto/oauth"
	"github.com/dropDatabas3/grantengine/internal/rate"
)

// DeviceService cubre RFC 8628: inicio y verificación por user_code.
type DeviceService interface {
	Start(ctx context.Context, c *repository.Client, scope string) (dto.DeviceAuthorizationResponse, error)
	Verify(ctx context.Context, req dto.DeviceVerifyRequest) error
}

type deviceService struct {
	grants          *grant.Registry
	limiter         *rate.Governor
	verificationURI string
}

func NewDeviceService(grants *grant.Registry, limiter *rate.Governor, verificationURI string) DeviceService {
	return &deviceService{grants: grants, limiter: limiter, verificationURI: verificationURI}
}

func (s *deviceService) Start(ctx context.Context, c *repository.Client, scope string) (dto.DeviceAuthorizationResponse, error) {
	if s.limiter != nil {
		if err := s.limiter.Enforce(ctx, c.ID, rate.ActionDevice); err != nil {
			return dto.DeviceAuthorizationResponse{}, err
		}
	}
	st, err := s.grants.StartDevice(ctx, c, strings.Fields(scope))
	if err != nil {
		return dto.DeviceAuthorizationResponse{}, err
	}
	resp := dto.DeviceAuthorizationResponse{
		DeviceCode: st.DeviceCode,
		UserCode:   st.UserCode,
		ExpiresIn:  st.ExpiresIn,
		Interval:   st.Interval,
	}
	if s.verificationURI != "" {
		resp.VerificationURI = s.verificationURI
		resp.VerificationURIComplete = s.verificationURI + "?user_code=" + url.QueryEscape(st.UserCode)
	}
	return resp, nil
}

func (s *deviceService) Verify(ctx context.Context, req dto.DeviceVerifyRequest) error {
	if strings.TrimSpace(req.UserCode) == "" {
		return oautherr.New(oautherr.InvalidRequest, "user_code is required")
	}
	return s.grants.VerifyDevice(ctx, req.UserCode, req.Subject, req.Approve)
}
