package grant

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/dropDatabas3/grantengine/internal/clock"
	"github.com/dropDatabas3/grantengine/internal/domain/oautherr"
	"github.com/dropDatabas3/grantengine/internal/domain/repository"
	"github.com/dropDatabas3/grantengine/internal/metrics"
	"github.com/dropDatabas3/grantengine/internal/observability/logger"
	tokens "github.com/dropDatabas3/grantengine/internal/security/token"
	"github.com/dropDatabas3/grantengine/internal/store"
)

// casAttempts acota los reintentos de un CAS perdido sobre la misma clave.
const casAttempts = 3

// ClientLookup resuelve clientes registrados.
type ClientLookup interface {
	Get(ctx context.Context, id string) (*repository.Client, error)
}

// Registry es dueño exclusivo de los Grants. Cada mutación es una escritura
// atómica sobre una sola clave; ningún lock local cruza un round trip.
type Registry struct {
	store   repository.Store
	factory *Factory
	clients ClientLookup
	clk     clock.Clock

	codeTTL   time.Duration
	deviceTTL time.Duration
	ticketTTL time.Duration
	interval  int64
}

// Options son los TTL de los registros de soporte.
type Options struct {
	CodeTTL        time.Duration
	DeviceTTL      time.Duration
	DeviceInterval time.Duration
	TicketTTL      time.Duration
}

func NewRegistry(s repository.Store, f *Factory, clients ClientLookup, clk clock.Clock, opts Options) *Registry {
	if opts.CodeTTL <= 0 {
		opts.CodeTTL = 60 * time.Second
	}
	if opts.DeviceTTL <= 0 {
		opts.DeviceTTL = 10 * time.Minute
	}
	if opts.DeviceInterval <= 0 {
		opts.DeviceInterval = 5 * time.Second
	}
	if opts.TicketTTL <= 0 {
		opts.TicketTTL = 5 * time.Minute
	}
	return &Registry{
		store:     s,
		factory:   f,
		clients:   clients,
		clk:       clk,
		codeTTL:   opts.CodeTTL,
		deviceTTL: opts.DeviceTTL,
		ticketTTL: opts.TicketTTL,
		interval:  int64(opts.DeviceInterval / time.Second),
	}
}

// Factory expone el TokenFactory (lifetimes para respuestas).
func (r *Registry) Factory() *Factory { return r.factory }

// CreateRequest describe un grant nuevo.
type CreateRequest struct {
	// ID opcional; vacío genera uno.
	ID        string
	GrantType repository.GrantType
	ClientID  string
	OwnerID   string
	Scopes    []string
	AuthTime  time.Time
	Nonce     string
	ACR       string
}

// Create valida grant type y scopes contra el cliente y persiste el grant con
// un CAS de creación.
func (r *Registry) Create(ctx context.Context, req CreateRequest) (*repository.Grant, error) {
	log := logger.From(ctx).With(
		logger.Layer("service"),
		logger.Component("grant.registry"),
		logger.Op("Create"),
		logger.ClientID(req.ClientID),
		logger.GrantType(string(req.GrantType)),
	)

	c, err := r.clients.Get(ctx, req.ClientID)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, oautherr.New(oautherr.InvalidClient, "unknown client")
		}
		return nil, err
	}
	if !c.AllowsGrant(req.GrantType) {
		return nil, oautherr.Newf(oautherr.UnauthorizedClient, "client is not allowed to use %s", req.GrantType)
	}
	scopes, err := ResolveScopes(c, req.Scopes)
	if err != nil {
		return nil, err
	}

	refreshLifetime := r.factory.Lifetime(repository.TokenRefresh, c)
	if refreshLifetime <= 0 {
		return nil, oautherr.Newf(oautherr.InvalidLifetime, "refresh lifetime must be positive, got %d", refreshLifetime)
	}
	now := r.clk.Now()
	g := &repository.Grant{
		ID:        req.ID,
		Type:      req.GrantType,
		ClientID:  c.ID,
		OwnerID:   req.OwnerID,
		Scopes:    scopes,
		AuthTime:  req.AuthTime,
		CreatedAt: now,
		ExpiresAt: now.Add(time.Duration(refreshLifetime) * time.Second),
		Nonce:     req.Nonce,
		ACR:       req.ACR,
		Status:    repository.GrantActive,
	}
	if g.ID == "" {
		g.ID = uuid.NewString()
	}
	ver, ok, err := store.CASJSON(ctx, r.store, 0, grantRecord(g))
	if err != nil {
		log.Error("persist grant failed", logger.Err(err))
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: grant %s", repository.ErrConflict, g.ID)
	}
	g.Version = ver
	log.Debug("grant created", logger.GrantID(g.ID))
	return g, nil
}

// ResolveScopes aplica el default del cliente y rechaza scopes no registrados.
func ResolveScopes(c *repository.Client, requested []string) ([]string, error) {
	if len(requested) == 0 {
		return slices.Clone(c.Scopes), nil
	}
	out := make([]string, 0, len(requested))
	for _, s := range requested {
		if !c.AllowsScope(s) {
			return nil, oautherr.Newf(oautherr.InvalidScope, "scope %q is not registered for the client", s)
		}
		if !slices.Contains(out, s) {
			out = append(out, s)
		}
	}
	return out, nil
}

// Get lee un grant por id.
func (r *Registry) Get(ctx context.Context, id string) (*repository.Grant, error) {
	var g repository.Grant
	ver, err := store.GetJSON(ctx, r.store, repository.Key(repository.NSGrants, id), &g)
	if err != nil {
		return nil, err
	}
	g.Version = ver
	return &g, nil
}

// Resolve busca el token por hash y su grant, sin juzgar estado ni expiración.
func (r *Registry) Resolve(ctx context.Context, value string) (*repository.Grant, *repository.Token, error) {
	if value == "" {
		return nil, nil, ErrUnknownToken
	}
	t, err := r.tokenByHash(ctx, tokens.SHA256Base64URL(value))
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, nil, ErrUnknownToken
		}
		return nil, nil, err
	}
	g, err := r.Get(ctx, t.GrantID)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, t, ErrUnknownToken
		}
		return nil, nil, err
	}
	return g, t, nil
}

// LookupByToken resuelve un token utilizable. Expiración y revocación se
// chequean acá, en cada lectura; grant y token vuelven igual junto al error.
func (r *Registry) LookupByToken(ctx context.Context, value string) (*repository.Grant, *repository.Token, error) {
	g, t, err := r.Resolve(ctx, value)
	if err != nil {
		return g, t, err
	}
	if t.ExpiredAt(r.clk.Now()) {
		return g, t, ErrExpired
	}
	if t.Status != repository.TokenActive || g.Revoked() {
		return g, t, ErrRevoked
	}
	return g, t, nil
}

// IssueToken mintea, persiste (una escritura, indexada por grant_id) y
// re-lee el grant: si quedó REVOKED en el medio, el token se desactiva y la
// emisión falla. Así el último escritor que observa REVOKED pierde.
func (r *Registry) IssueToken(ctx context.Context, g *repository.Grant, kind repository.TokenKind, c *repository.Client, opts MintOptions) (*repository.Token, error) {
	log := logger.From(ctx).With(
		logger.Layer("service"),
		logger.Component("grant.registry"),
		logger.Op("IssueToken"),
		logger.GrantID(g.ID),
		logger.TokenKind(string(kind)),
	)
	if g.Revoked() {
		return nil, ErrGrantRevoked
	}
	if c == nil {
		var err error
		if c, err = r.clients.Get(ctx, g.ClientID); err != nil {
			return nil, err
		}
	}

	t, err := r.factory.Mint(ctx, g, kind, c, opts)
	if err != nil {
		return nil, err
	}
	ver, ok, err := store.CASJSON(ctx, r.store, 0, tokenRecord(t))
	if err != nil {
		log.Error("persist token failed", logger.Err(err))
		return nil, err
	}
	if !ok {
		return nil, oautherr.New(oautherr.ServerError, "token hash collision")
	}
	t.Version = ver

	current, err := r.Get(ctx, g.ID)
	if err != nil && !repository.IsNotFound(err) {
		return nil, err
	}
	if err != nil || current.Revoked() {
		if derr := r.Deactivate(ctx, t); derr != nil {
			log.Error("deactivate token after revoke race failed", logger.Err(derr))
		}
		log.Info("grant revoked during issuance")
		return nil, ErrGrantRevoked
	}
	if t.ExpiresAt.After(current.ExpiresAt) {
		if err := r.extend(ctx, g.ID, t.ExpiresAt); err != nil {
			if derr := r.Deactivate(ctx, t); derr != nil {
				log.Error("deactivate token after extend failure failed", logger.Err(derr))
			}
			log.Error("extend grant failed", logger.Err(err))
			return nil, err
		}
		g.ExpiresAt = t.ExpiresAt
	}

	metrics.TokensIssued.WithLabelValues(string(kind), string(t.Format)).Inc()
	return t, nil
}

// Revoke pasa el grant a REVOKED con CAS. Un CAS perdido se re-lee: si otro ya
// lo revocó es éxito; si no, se reintenta.
func (r *Registry) Revoke(ctx context.Context, grantID string) error {
	for attempt := 0; attempt < casAttempts; attempt++ {
		g, err := r.Get(ctx, grantID)
		if err != nil {
			if repository.IsNotFound(err) {
				return nil
			}
			return err
		}
		if g.Revoked() {
			return nil
		}
		g.Status = repository.GrantRevoked
		_, ok, err := store.CASJSON(ctx, r.store, g.Version, grantRecord(g))
		if err != nil {
			return err
		}
		if ok {
			metrics.GrantsRevoked.Inc()
			logger.From(ctx).Info("grant revoked",
				logger.Layer("service"), logger.Component("grant.registry"), logger.GrantID(grantID))
			return nil
		}
	}
	return fmt.Errorf("revoke grant %s: %w", grantID, repository.ErrConflict)
}

// extend corre el ExpiresAt del grant hasta until: el grant vive al menos lo
// que su token más largo.
func (r *Registry) extend(ctx context.Context, grantID string, until time.Time) error {
	for attempt := 0; attempt < casAttempts; attempt++ {
		g, err := r.Get(ctx, grantID)
		if err != nil {
			return err
		}
		if g.Revoked() {
			return ErrGrantRevoked
		}
		if !until.After(g.ExpiresAt) {
			return nil
		}
		g.ExpiresAt = until
		_, ok, err := store.CASJSON(ctx, r.store, g.Version, grantRecord(g))
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
	}
	return fmt.Errorf("extend grant %s: %w", grantID, repository.ErrConflict)
}

// TokensOf lista los tokens de un grant vía el índice grant_id.
func (r *Registry) TokensOf(ctx context.Context, grantID string) ([]*repository.Token, error) {
	ts, versions, err := store.FindJSON[repository.Token](ctx, r.store, repository.NSTokens,
		repository.Filter{repository.AttrGrantID: grantID})
	if err != nil {
		return nil, err
	}
	for i := range ts {
		ts[i].Version = versions[i]
	}
	return ts, nil
}

// MintedBy lista los tokens emitidos desde el refresh con ese hash.
func (r *Registry) MintedBy(ctx context.Context, refreshHash string) ([]*repository.Token, error) {
	ts, versions, err := store.FindJSON[repository.Token](ctx, r.store, repository.NSTokens,
		repository.Filter{repository.AttrMintedBy: refreshHash})
	if err != nil {
		return nil, err
	}
	for i := range ts {
		ts[i].Version = versions[i]
	}
	return ts, nil
}

// TokenByHash lee un token por su hash de lookup.
func (r *Registry) TokenByHash(ctx context.Context, hash string) (*repository.Token, error) {
	return r.tokenByHash(ctx, hash)
}

// Deactivate pasa el token a INACTIVE con CAS. Idempotente.
func (r *Registry) Deactivate(ctx context.Context, t *repository.Token) error {
	for attempt := 0; attempt < casAttempts; attempt++ {
		cur, err := r.tokenByHash(ctx, t.Hash)
		if err != nil {
			if repository.IsNotFound(err) {
				return nil
			}
			return err
		}
		if cur.Status == repository.TokenInactive {
			t.Status = repository.TokenInactive
			return nil
		}
		cur.Status = repository.TokenInactive
		ver, ok, err := store.CASJSON(ctx, r.store, cur.Version, tokenRecord(cur))
		if err != nil {
			return err
		}
		if ok {
			t.Status, t.Version = repository.TokenInactive, ver
			return nil
		}
	}
	return fmt.Errorf("deactivate token: %w", repository.ErrConflict)
}

func (r *Registry) tokenByHash(ctx context.Context, hash string) (*repository.Token, error) {
	var t repository.Token
	ver, err := store.GetJSON(ctx, r.store, repository.Key(repository.NSTokens, hash), &t)
	if err != nil {
		return nil, err
	}
	t.Version = ver
	return &t, nil
}

func grantRecord(g *repository.Grant) store.Record {
	return store.Record{
		Key: repository.Key(repository.NSGrants, g.ID),
		Attrs: map[string]string{
			repository.AttrClientID: g.ClientID,
			repository.AttrStatus:   string(g.Status),
		},
		Value:     g,
		ExpiresAt: g.ExpiresAt,
	}
}

func tokenRecord(t *repository.Token) store.Record {
	attrs := map[string]string{
		repository.AttrGrantID:  t.GrantID,
		repository.AttrClientID: t.ClientID,
		repository.AttrKind:     string(t.Kind),
		repository.AttrStatus:   string(t.Status),
	}
	if t.MintedBy != "" {
		attrs[repository.AttrMintedBy] = t.MintedBy
	}
	return store.Record{
		Key:       repository.Key(repository.NSTokens, t.Hash),
		Attrs:     attrs,
		Value:     t,
		ExpiresAt: t.ExpiresAt,
	}
}

// IsLookupFailure reporta si err es uno de los resultados "token no utilizable".
func IsLookupFailure(err error) bool {
	return errors.Is(err, ErrUnknownToken) || errors.Is(err, ErrExpired) || errors.Is(err, ErrRevoked)
}
