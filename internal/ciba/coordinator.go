// Package ciba implementa el flujo Client Initiated Backchannel Authentication:
// la máquina de estados de la sesión y la entrega de tokens por poll, ping o push.
//
// No hay timers: una sesión vence por comparación de tiempo en el siguiente
// toque (poll, resolve).
package ciba

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dropDatabas3/grantengine/internal/clock"
	"github.com/dropDatabas3/grantengine/internal/domain/oautherr"
	"github.com/dropDatabas3/grantengine/internal/domain/repository"
	"github.com/dropDatabas3/grantengine/internal/grant"
	"github.com/dropDatabas3/grantengine/internal/metrics"
	"github.com/dropDatabas3/grantengine/internal/observability/logger"
	"github.com/dropDatabas3/grantengine/internal/rate"
	"github.com/dropDatabas3/grantengine/internal/store"
)

const (
	casAttempts = 3

	DefaultExpiresIn    = 120 * time.Second
	DefaultMaxExpiresIn = 600 * time.Second
	DefaultInterval     = 5
	maxBindingMessage   = 256
)

// ErrNotifyFailed envuelve un fallo del callback ping/push. La sesión queda GRANTED.
var ErrNotifyFailed = errors.New("ciba: client notification failed")

// Limiter es la parte del rate governor que usa el coordinator.
type Limiter interface {
	Enforce(ctx context.Context, clientKey, action string) error
}

// Options configura tiempos de la sesión. Ceros toman los defaults.
type Options struct {
	ExpiresIn    time.Duration
	MaxExpiresIn time.Duration
	// Interval mínimo entre polls en segundos.
	Interval int64
}

// Deps agrupa los colaboradores del coordinator.
type Deps struct {
	Store    repository.Store
	Grants   *grant.Registry
	Clients  grant.ClientLookup
	Clock    clock.Clock
	Limiter  Limiter      // opcional
	Notifier Notifier     // requerido para ping/push
	Users    UserNotifier // opcional
	Subjects SubjectResolver
}

// Coordinator maneja el ciclo de vida de las sesiones CIBA.
type Coordinator struct {
	store    repository.Store
	grants   *grant.Registry
	clients  grant.ClientLookup
	clk      clock.Clock
	limiter  Limiter
	notifier Notifier
	users    UserNotifier
	subjects SubjectResolver

	expiresIn    time.Duration
	maxExpiresIn time.Duration
	interval     int64
}

func New(d Deps, opts Options) *Coordinator {
	c := &Coordinator{
		store:        d.Store,
		grants:       d.Grants,
		clients:      d.Clients,
		clk:          d.Clock,
		limiter:      d.Limiter,
		notifier:     d.Notifier,
		users:        d.Users,
		subjects:     d.Subjects,
		expiresIn:    opts.ExpiresIn,
		maxExpiresIn: opts.MaxExpiresIn,
		interval:     opts.Interval,
	}
	if c.subjects == nil {
		c.subjects = HintAsSubject{}
	}
	if c.expiresIn <= 0 {
		c.expiresIn = DefaultExpiresIn
	}
	if c.maxExpiresIn < c.expiresIn {
		c.maxExpiresIn = max(DefaultMaxExpiresIn, c.expiresIn)
	}
	if c.interval <= 0 {
		c.interval = DefaultInterval
	}
	return c
}

// StartRequest son los parámetros de /bc-authorize.
type StartRequest struct {
	Scopes                  []string
	LoginHint               string
	BindingMessage          string
	ACR                     string
	UserCode                string
	ClientNotificationToken string
	// RequestedExpiry en segundos; 0 = default.
	RequestedExpiry int64
}

// Start crea la sesión (REQUESTED) y la deja PENDING esperando la decisión
// del usuario.
func (co *Coordinator) Start(ctx context.Context, c *repository.Client, req StartRequest) (*repository.CibaSession, error) {
	log := logger.From(ctx).With(
		logger.Layer("service"),
		logger.Component("ciba.coordinator"),
		logger.Op("Start"),
		logger.ClientID(c.ID),
	)

	if !c.AllowsGrant(repository.GrantTypeCIBA) {
		return nil, oautherr.New(oautherr.UnauthorizedClient, "client is not registered for CIBA")
	}
	mode := c.BackchannelDeliveryMode
	if !mode.Valid() {
		return nil, oautherr.New(oautherr.UnauthorizedClient, "client has no valid backchannel token delivery mode")
	}
	if mode != repository.DeliveryPoll {
		if c.BackchannelNotificationEndpoint == "" {
			return nil, oautherr.New(oautherr.UnauthorizedClient, "client has no backchannel notification endpoint")
		}
		if req.ClientNotificationToken == "" {
			return nil, oautherr.New(oautherr.InvalidRequest, "client_notification_token is required")
		}
	}

	if co.limiter != nil {
		if err := co.limiter.Enforce(ctx, c.ID, rate.ActionCIBA); err != nil {
			return nil, err
		}
	}

	if req.LoginHint == "" {
		return nil, oautherr.New(oautherr.InvalidRequest, "login_hint is required")
	}
	if len(req.BindingMessage) > maxBindingMessage {
		return nil, oautherr.New(oautherr.InvalidRequest, "binding_message is too long")
	}
	if req.RequestedExpiry < 0 {
		return nil, oautherr.New(oautherr.InvalidRequest, "requested_expiry must be positive")
	}
	scopes, err := grant.ResolveScopes(c, req.Scopes)
	if err != nil {
		return nil, err
	}

	subj, err := co.subjects.ResolveHint(ctx, req.LoginHint)
	if err != nil {
		if errors.Is(err, ErrUnknownSubject) {
			return nil, oautherr.New(oautherr.InvalidRequest, "unknown user")
		}
		return nil, err
	}
	if c.BackchannelUserCodeParameter {
		if req.UserCode == "" {
			return nil, oautherr.New(oautherr.InvalidRequest, "user_code is required")
		}
		if subj.UserCode != "" && subtle.ConstantTimeCompare([]byte(subj.UserCode), []byte(req.UserCode)) != 1 {
			return nil, oautherr.New(oautherr.InvalidRequest, "invalid user_code")
		}
	}

	ttl := co.expiresIn
	if req.RequestedExpiry > 0 {
		ttl = min(time.Duration(req.RequestedExpiry)*time.Second, co.maxExpiresIn)
	}
	now := co.clk.Now()
	s := &repository.CibaSession{
		AuthReqID:         uuid.NewString(),
		ClientID:          c.ID,
		OwnerID:           subj.ID,
		Scopes:            scopes,
		ACR:               req.ACR,
		BindingMessage:    req.BindingMessage,
		Mode:              mode,
		NotificationToken: req.ClientNotificationToken,
		CreatedAt:         now,
		ExpiresAt:         now.Add(ttl),
		Interval:          co.interval,
		State:             repository.CibaRequested,
	}
	if mode != repository.DeliveryPoll {
		s.NotificationEndpoint = c.BackchannelNotificationEndpoint
	}

	ver, ok, err := store.CASJSON(ctx, co.store, 0, sessionRecord(s))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, oautherr.New(oautherr.ServerError, "auth_req_id collision")
	}
	metrics.CibaTransitions.WithLabelValues(string(repository.CibaRequested)).Inc()

	s.State = repository.CibaPending
	if s.Version, ok, err = store.CASJSON(ctx, co.store, ver, sessionRecord(s)); err != nil {
		return nil, err
	} else if !ok {
		return nil, repository.ErrConflict
	}
	metrics.CibaTransitions.WithLabelValues(string(repository.CibaPending)).Inc()
	log.Info("backchannel authentication started", logger.AuthReqID(s.AuthReqID), logger.String("mode", string(mode)))

	if co.users != nil && subj.Email != "" {
		if err := co.users.NotifyUser(ctx, UserPrompt{
			To:             subj.Email,
			ClientName:     clientName(c),
			BindingMessage: s.BindingMessage,
			Scopes:         s.Scopes,
			AuthReqID:      s.AuthReqID,
			ExpiresAt:      s.ExpiresAt,
		}); err != nil {
			// el usuario puede autenticarse por otro canal; la sesión sigue viva
			log.Warn("user notification failed", logger.AuthReqID(s.AuthReqID), logger.Err(err))
		}
	}
	return s, nil
}

// Resolve aplica el resultado de la autenticación out-of-band.
func (co *Coordinator) Resolve(ctx context.Context, authReqID string, approved bool) error {
	log := logger.From(ctx).With(
		logger.Layer("service"),
		logger.Component("ciba.coordinator"),
		logger.Op("Resolve"),
		logger.AuthReqID(authReqID),
	)

	for attempt := 0; attempt < casAttempts; attempt++ {
		s, err := co.session(ctx, authReqID)
		if err != nil {
			if repository.IsNotFound(err) {
				return oautherr.New(oautherr.InvalidRequest, "unknown auth_req_id")
			}
			return err
		}
		now := co.clk.Now()
		if s.ExpiredAt(now) {
			co.expire(ctx, s)
			return oautherr.New(oautherr.ExpiredToken, "auth_req_id has expired")
		}
		if s.State != repository.CibaPending && s.State != repository.CibaRequested {
			log.Info("resolve on settled session", logger.State(string(s.State)))
			return oautherr.New(oautherr.InvalidRequest, "authentication request already resolved")
		}

		if !approved {
			s.State = repository.CibaDenied
			ok, err := co.save(ctx, s)
			if err != nil {
				return err
			}
			if !ok {
				continue
			}
			metrics.CibaTransitions.WithLabelValues(string(repository.CibaDenied)).Inc()
			log.Info("backchannel authentication denied")
			if s.Mode == repository.DeliveryPing {
				return co.notify(ctx, s, map[string]any{"auth_req_id": s.AuthReqID})
			}
			return co.notify(ctx, s, map[string]any{
				"auth_req_id":       s.AuthReqID,
				"error":             oautherr.AccessDenied.WireCode(),
				"error_description": "the end-user denied the authorization request",
			})
		}

		c, err := co.clients.Get(ctx, s.ClientID)
		if err != nil {
			if repository.IsNotFound(err) {
				return oautherr.New(oautherr.InvalidClient, "unknown client")
			}
			return err
		}
		g, err := co.grants.Create(ctx, grant.CreateRequest{
			GrantType: repository.GrantTypeCIBA,
			ClientID:  s.ClientID,
			OwnerID:   s.OwnerID,
			Scopes:    s.Scopes,
			AuthTime:  now,
			ACR:       s.ACR,
		})
		if err != nil {
			return err
		}
		set, issued, err := co.grants.IssueSet(ctx, g, grant.SetOptions{
			Client:  c,
			Refresh: c.AllowsGrant(repository.GrantTypeRefreshToken),
			IDToken: true,
		})
		if err != nil {
			co.discardGrant(ctx, g.ID, nil)
			return err
		}

		s.State, s.GrantID, s.Tokens = repository.CibaGranted, g.ID, set
		ok, err := co.save(ctx, s)
		if err != nil || !ok {
			// la sesión cambió bajo nuestros pies: ni el grant ni sus tokens sobreviven
			co.discardGrant(ctx, g.ID, issued)
			if err != nil {
				return err
			}
			continue
		}
		metrics.CibaTransitions.WithLabelValues(string(repository.CibaGranted)).Inc()
		log.Info("backchannel authentication granted", logger.GrantID(g.ID))

		switch s.Mode {
		case repository.DeliveryPing:
			return co.notify(ctx, s, map[string]any{"auth_req_id": s.AuthReqID})
		case repository.DeliveryPush:
			if err := co.notify(ctx, s, pushBody(s.AuthReqID, set)); err != nil {
				return err
			}
			co.markPushed(ctx, s)
		}
		return nil
	}
	return repository.ErrConflict
}

// discardGrant revoca un grant que ninguna sesión va a entregar y desactiva
// los tokens que ya se le emitieron.
func (co *Coordinator) discardGrant(ctx context.Context, grantID string, issued []*repository.Token) {
	log := logger.From(ctx).With(logger.Layer("service"), logger.Component("ciba.coordinator"), logger.GrantID(grantID))
	if err := co.grants.Revoke(ctx, grantID); err != nil {
		log.Error("revoke orphan grant failed", logger.Err(err))
	}
	for _, t := range issued {
		if err := co.grants.Deactivate(ctx, t); err != nil {
			log.Error("deactivate orphan token failed", logger.Err(err))
		}
	}
}

// Poll es el poll del token endpoint con auth_req_id.
func (co *Coordinator) Poll(ctx context.Context, c *repository.Client, authReqID string) (*repository.TokenSet, error) {
	log := logger.From(ctx).With(
		logger.Layer("service"),
		logger.Component("ciba.coordinator"),
		logger.Op("Poll"),
		logger.AuthReqID(authReqID),
	)
	invalid := oautherr.New(oautherr.InvalidGrant, "auth_req_id is no longer available")

	for attempt := 0; attempt < casAttempts; attempt++ {
		s, err := co.session(ctx, authReqID)
		if err != nil {
			if repository.IsNotFound(err) {
				return nil, oautherr.New(oautherr.InvalidGrant, "invalid auth_req_id")
			}
			return nil, err
		}
		now := co.clk.Now()
		if s.ExpiredAt(now) {
			co.expire(ctx, s)
			return nil, oautherr.New(oautherr.ExpiredToken, "auth_req_id has expired")
		}
		if s.ClientID != c.ID {
			return nil, oautherr.New(oautherr.InvalidGrant, "auth_req_id was issued to another client")
		}
		if s.Mode == repository.DeliveryPush {
			return nil, oautherr.New(oautherr.UnauthorizedClient, "push mode clients cannot poll")
		}

		switch s.State {
		case repository.CibaRequested, repository.CibaPending:
			if grant.PollTooSoon(s.LastPolledAt, s.Interval, now) {
				return nil, oautherr.New(oautherr.SlowDown, "polling too fast")
			}
			s.LastPolledAt = &now
			ok, err := co.save(ctx, s)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
			return nil, oautherr.New(oautherr.AuthorizationPending, "authorization pending")
		case repository.CibaGranted:
			set := s.Tokens
			s.State, s.Tokens = repository.CibaDelivered, nil
			ok, err := co.save(ctx, s)
			if err != nil {
				return nil, err
			}
			if !ok || set == nil {
				return nil, invalid
			}
			metrics.CibaTransitions.WithLabelValues(string(repository.CibaDelivered)).Inc()
			log.Debug("tokens delivered", logger.GrantID(s.GrantID))
			return set, nil
		case repository.CibaDenied:
			return nil, oautherr.New(oautherr.AccessDenied, "the end-user denied the authorization request")
		case repository.CibaExpired:
			return nil, oautherr.New(oautherr.ExpiredToken, "auth_req_id has expired")
		default:
			return nil, invalid
		}
	}
	return nil, repository.ErrConflict
}

// Session lee una sesión por auth_req_id.
func (co *Coordinator) Session(ctx context.Context, authReqID string) (*repository.CibaSession, error) {
	return co.session(ctx, authReqID)
}

// Interval es el intervalo de poll que se anuncia en /bc-authorize.
func (co *Coordinator) Interval() int64 { return co.interval }

func (co *Coordinator) session(ctx context.Context, authReqID string) (*repository.CibaSession, error) {
	var s repository.CibaSession
	ver, err := store.GetJSON(ctx, co.store, repository.Key(repository.NSCiba, authReqID), &s)
	if err != nil {
		return nil, err
	}
	s.Version = ver
	return &s, nil
}

func (co *Coordinator) save(ctx context.Context, s *repository.CibaSession) (bool, error) {
	ver, ok, err := store.CASJSON(ctx, co.store, s.Version, sessionRecord(s))
	if err != nil || !ok {
		return ok, err
	}
	s.Version = ver
	return true, nil
}

// expire persiste EXPIRED; perder el CAS no importa, el próximo toque vuelve a comparar.
func (co *Coordinator) expire(ctx context.Context, s *repository.CibaSession) {
	if s.State.Terminal() {
		return
	}
	s.State, s.Tokens = repository.CibaExpired, nil
	if ok, err := co.save(ctx, s); err == nil && ok {
		metrics.CibaTransitions.WithLabelValues(string(repository.CibaExpired)).Inc()
	}
}

// markPushed cierra la sesión push tras entregar los tokens en el callback.
func (co *Coordinator) markPushed(ctx context.Context, s *repository.CibaSession) {
	s.State, s.Tokens = repository.CibaDelivered, nil
	ok, err := co.save(ctx, s)
	if err != nil || !ok {
		logger.From(ctx).Warn("mark push session delivered failed",
			logger.AuthReqID(s.AuthReqID), logger.Bool("cas_ok", ok), logger.Err(err))
		return
	}
	metrics.CibaTransitions.WithLabelValues(string(repository.CibaDelivered)).Inc()
}

func (co *Coordinator) notify(ctx context.Context, s *repository.CibaSession, body any) error {
	if s.Mode == repository.DeliveryPoll {
		return nil
	}
	if co.notifier == nil {
		return fmt.Errorf("%w: no notifier configured", ErrNotifyFailed)
	}
	if err := co.notifier.Notify(ctx, s.NotificationEndpoint, s.NotificationToken, body); err != nil {
		metrics.NotifyFailures.WithLabelValues(string(s.Mode)).Inc()
		logger.From(ctx).Warn("client notification failed",
			logger.AuthReqID(s.AuthReqID), logger.String("mode", string(s.Mode)), logger.Err(err))
		return fmt.Errorf("%w: %w", ErrNotifyFailed, err)
	}
	return nil
}

func pushBody(authReqID string, set *repository.TokenSet) map[string]any {
	body := map[string]any{
		"auth_req_id":  authReqID,
		"access_token": set.AccessToken,
		"token_type":   set.TokenType,
		"expires_in":   set.ExpiresIn,
	}
	if set.RefreshToken != "" {
		body["refresh_token"] = set.RefreshToken
	}
	if set.IDToken != "" {
		body["id_token"] = set.IDToken
	}
	return body
}

func clientName(c *repository.Client) string {
	if c.Name != "" {
		return c.Name
	}
	return c.ID
}

func sessionRecord(s *repository.CibaSession) store.Record {
	return store.Record{
		Key: repository.Key(repository.NSCiba, s.AuthReqID),
		Attrs: map[string]string{
			repository.AttrClientID: s.ClientID,
			repository.AttrState:    string(s.State),
		},
		Value:     s,
		ExpiresAt: s.ExpiresAt,
	}
}
