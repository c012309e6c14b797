package grant

import (
	"context"
	"time"

	"github.com/dropDatabas3/grantengine/internal/domain/oautherr"
	"github.com/dropDatabas3/grantengine/internal/domain/repository"
	"github.com/dropDatabas3/grantengine/internal/observability/logger"
	tokens "github.com/dropDatabas3/grantengine/internal/security/token"
	"github.com/dropDatabas3/grantengine/internal/store"
)

const userCodeAttempts = 3

// DeviceStart es la respuesta de /device_authorization.
type DeviceStart struct {
	DeviceCode string
	UserCode   string
	ExpiresIn  int64
	Interval   int64
}

type userCodeRef struct {
	DeviceCodeHash string `json:"device_code_hash"`
}

// StartDevice crea una device authorization (device/<hash>) y reserva su
// user_code (usercodes/<code>) con CAS de creación.
func (r *Registry) StartDevice(ctx context.Context, c *repository.Client, scopes []string) (*DeviceStart, error) {
	if !c.AllowsGrant(repository.GrantTypeDeviceCode) {
		return nil, oautherr.New(oautherr.UnauthorizedClient, "client is not allowed to use device_code")
	}
	scopes, err := ResolveScopes(c, scopes)
	if err != nil {
		return nil, err
	}
	deviceCode, err := tokens.GenerateOpaqueToken(tokens.OpaqueBytes)
	if err != nil {
		return nil, err
	}
	now := r.clk.Now()
	d := &repository.DeviceAuthorization{
		DeviceCodeHash: tokens.SHA256Base64URL(deviceCode),
		ClientID:       c.ID,
		Scopes:         scopes,
		CreatedAt:      now,
		ExpiresAt:      now.Add(r.deviceTTL),
		Interval:       r.interval,
		State:          repository.DevicePending,
	}

	for attempt := 0; ; attempt++ {
		if attempt == userCodeAttempts {
			return nil, oautherr.New(oautherr.ServerError, "could not allocate user_code")
		}
		uc, err := tokens.GenerateUserCode()
		if err != nil {
			return nil, err
		}
		_, ok, err := store.CASJSON(ctx, r.store, 0, store.Record{
			Key:       repository.Key(repository.NSUserCodes, tokens.NormalizeUserCode(uc)),
			Value:     userCodeRef{DeviceCodeHash: d.DeviceCodeHash},
			ExpiresAt: d.ExpiresAt,
		})
		if err != nil {
			return nil, err
		}
		if ok {
			d.UserCode = uc
			break
		}
	}

	if _, ok, err := store.CASJSON(ctx, r.store, 0, deviceRecord(d)); err != nil {
		return nil, err
	} else if !ok {
		return nil, oautherr.New(oautherr.ServerError, "device code collision")
	}
	return &DeviceStart{
		DeviceCode: deviceCode,
		UserCode:   d.UserCode,
		ExpiresIn:  int64(r.deviceTTL / time.Second),
		Interval:   d.Interval,
	}, nil
}

// VerifyDevice aplica la decisión del usuario sobre un user_code.
func (r *Registry) VerifyDevice(ctx context.Context, userCode, ownerID string, approve bool) error {
	var ref userCodeRef
	if _, err := store.GetJSON(ctx, r.store, repository.Key(repository.NSUserCodes, tokens.NormalizeUserCode(userCode)), &ref); err != nil {
		if repository.IsNotFound(err) {
			return oautherr.New(oautherr.InvalidRequest, "unknown user_code")
		}
		return err
	}
	for attempt := 0; attempt < casAttempts; attempt++ {
		d, err := r.device(ctx, ref.DeviceCodeHash)
		if err != nil {
			if repository.IsNotFound(err) {
				return oautherr.New(oautherr.InvalidRequest, "unknown user_code")
			}
			return err
		}
		if r.clk.Now().After(d.ExpiresAt) {
			return oautherr.New(oautherr.ExpiredToken, "device authorization expired")
		}
		if d.State != repository.DevicePending {
			return oautherr.New(oautherr.InvalidRequest, "device authorization already decided")
		}
		d.State = repository.DeviceDenied
		if approve {
			if ownerID == "" {
				return oautherr.New(oautherr.InvalidRequest, "owner is required")
			}
			d.State, d.OwnerID = repository.DeviceApproved, ownerID
		}
		_, ok, err := store.CASJSON(ctx, r.store, d.Version, deviceRecord(d))
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
	}
	return repository.ErrConflict
}

// PollDevice es el poll del token endpoint con device_code: misma semántica de
// intervalo y expiración que un poll CIBA. Aprobado, crea el grant una sola vez.
func (r *Registry) PollDevice(ctx context.Context, c *repository.Client, deviceCode string) (*repository.Grant, error) {
	log := logger.From(ctx).With(
		logger.Layer("service"),
		logger.Component("grant.registry"),
		logger.Op("PollDevice"),
		logger.ClientID(c.ID),
	)
	invalid := oautherr.New(oautherr.InvalidGrant, "invalid device_code")
	hash := tokens.SHA256Base64URL(deviceCode)

	for attempt := 0; attempt < casAttempts; attempt++ {
		d, err := r.device(ctx, hash)
		if err != nil {
			if repository.IsNotFound(err) {
				return nil, invalid
			}
			return nil, err
		}
		if d.ClientID != c.ID {
			return nil, invalid
		}
		now := r.clk.Now()
		if now.After(d.ExpiresAt) {
			return nil, oautherr.New(oautherr.ExpiredToken, "device_code expired")
		}

		switch d.State {
		case repository.DevicePending:
			if PollTooSoon(d.LastPolledAt, d.Interval, now) {
				return nil, oautherr.New(oautherr.SlowDown, "polling too fast")
			}
			d.LastPolledAt = &now
			_, ok, err := store.CASJSON(ctx, r.store, d.Version, deviceRecord(d))
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
			return nil, oautherr.New(oautherr.AuthorizationPending, "authorization pending")
		case repository.DeviceDenied:
			return nil, oautherr.New(oautherr.AccessDenied, "the user denied the request")
		case repository.DeviceDelivered:
			return nil, invalid
		case repository.DeviceApproved:
			d.State = repository.DeviceDelivered
			_, ok, err := store.CASJSON(ctx, r.store, d.Version, deviceRecord(d))
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
			log.Debug("device authorization delivered", logger.OwnerID(d.OwnerID))
			return r.Create(ctx, CreateRequest{
				GrantType: repository.GrantTypeDeviceCode,
				ClientID:  c.ID,
				OwnerID:   d.OwnerID,
				Scopes:    d.Scopes,
				AuthTime:  now,
			})
		default:
			return nil, invalid
		}
	}
	return nil, repository.ErrConflict
}

func (r *Registry) device(ctx context.Context, hash string) (*repository.DeviceAuthorization, error) {
	var d repository.DeviceAuthorization
	ver, err := store.GetJSON(ctx, r.store, repository.Key(repository.NSDevice, hash), &d)
	if err != nil {
		return nil, err
	}
	d.Version = ver
	return &d, nil
}

func deviceRecord(d *repository.DeviceAuthorization) store.Record {
	return store.Record{
		Key: repository.Key(repository.NSDevice, d.DeviceCodeHash),
		Attrs: map[string]string{
			repository.AttrClientID: d.ClientID,
			repository.AttrState:    string(d.State),
		},
		Value:     d,
		ExpiresAt: d.ExpiresAt,
	}
}
